package mem

// PTEFlags is the set of descriptor attributes the manager inspects and
// mutates through range visitors. The hardware encoding is owned by the
// page-table implementation; these bits are its stable, abstract view.
type PTEFlags uint64

const (
	// PTEValid marks a descriptor the MMU will honour. A cleared bit on
	// an otherwise populated leaf raises a translation fault on access.
	PTEValid PTEFlags = 1 << iota

	// PTETable marks a descriptor that points at a next-level table
	// rather than an output block or page.
	PTETable

	// PTEDevice marks device (MMIO) memory attributes.
	PTEDevice

	// PTEReadOnly write-protects the page. On DBM-managed entries a
	// cleared bit doubles as the dirty state: hardware (or the
	// permission-fault handler) clears it on first write.
	PTEReadOnly

	// PTEDBM marks an entry whose dirty state is tracked, either by
	// hardware dirty-bit management or by the software fault path.
	PTEDBM

	// PTEMmioLazy tags a device page registered for lazy MMIO-guard
	// mapping. Set with PTEValid clear until the first access fault.
	PTEMmioLazy
)

// Contains reports whether every bit of other is set in f.
func (f PTEFlags) Contains(other PTEFlags) bool {
	return f&other == other
}

// Entry is a single translation descriptor as surfaced to an
// EntryVisitor. Visitors may mutate Flags; the page table persists the
// mutation when the visitor returns nil.
type Entry struct {
	Flags PTEFlags
}

// IsLeaf reports whether the entry is a leaf (page or block) descriptor
// at the given level, as opposed to a pointer to a next-level table.
func (e *Entry) IsLeaf(level int) bool {
	return !e.Flags.Contains(PTETable)
}

// IsDirty reports whether a DBM-managed leaf has been written to since
// it was last flushed: valid, tracked, and no longer write-protected.
func (e *Entry) IsDirty() bool {
	return e.Flags.Contains(PTEValid|PTEDBM) && !e.Flags.Contains(PTEReadOnly)
}
