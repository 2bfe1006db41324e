package mem

// EntryVisitor is invoked by PageTable.ModifyRange for every descriptor
// covering the requested range. r is the address range the descriptor
// translates, level its depth in the walk. The visitor may mutate entry
// flags; a non-nil return aborts the walk and fails the modification.
type EntryVisitor func(r MemoryRange, entry *Entry, level int) error

// PageTable is the contract the manager consumes from the translation
// layer. Implementations own the descriptor encoding and walk; the
// manager only ever drives them through whole-range operations.
//
// All Map* methods cover the exact range given, splitting larger block
// mappings when necessary.
type PageTable interface {
	// MapRodata maps the range as normal read-only data.
	MapRodata(r MemoryRange) error

	// MapDataDBM maps the range read-write with dirty-bit management:
	// entries start clean (write-protected) and record the first write.
	MapDataDBM(r MemoryRange) error

	// MapDevice maps the range as valid device memory.
	MapDevice(r MemoryRange) error

	// MapDeviceLazy registers the range as device memory without
	// validating it; the first access traps to the MMIO fault handler.
	MapDeviceLazy(r MemoryRange) error

	// ModifyRange walks the descriptors covering r and applies visit to
	// each, persisting any flag mutations.
	ModifyRange(r MemoryRange, visit EntryVisitor) error

	// Activate installs the table as the active translation root.
	Activate()
}
