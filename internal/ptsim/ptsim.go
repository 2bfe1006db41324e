// Package ptsim is a simulated page table for exercising the memory
// manager on a stock host. It models a single-level map of 4KB leaf
// entries: large-block mappings and multi-level walks are out of scope,
// so range modification never needs to split entries (the real table
// splits transparently).
package ptsim

import (
	"github.com/joshuapare/guestmem/mem"
	"github.com/joshuapare/guestmem/mem/dirty"
)

// leafLevel is the walk depth reported for every simulated entry.
const leafLevel = 3

// Fault mirrors the exception class a data access would raise.
type Fault int

const (
	FaultNone Fault = iota
	FaultTranslation
	FaultPermission
)

// PageTable implements mem.PageTable over a flat page-indexed map.
type PageTable struct {
	entries map[uintptr]mem.Entry
	active  bool
}

// New returns an empty, inactive page table.
func New() *PageTable {
	return &PageTable{entries: make(map[uintptr]mem.Entry)}
}

// Activate marks the table as the active translation root.
func (p *PageTable) Activate() {
	p.active = true
}

// Active reports whether Activate has been called.
func (p *PageTable) Active() bool {
	return p.active
}

// MapRodata maps the range as valid read-only data.
func (p *PageTable) MapRodata(r mem.MemoryRange) error {
	return p.mapRange(r, mem.PTEValid|mem.PTEReadOnly)
}

// MapDataDBM maps the range writable with dirty tracking. Entries start
// clean: write-protected until the first write clears the protection.
func (p *PageTable) MapDataDBM(r mem.MemoryRange) error {
	return p.mapRange(r, mem.PTEValid|mem.PTEDBM|mem.PTEReadOnly)
}

// MapDevice maps the range as valid device memory. Device attributes
// retain the lazy marker so guard unmapping can tell device pages from
// stray valid entries.
func (p *PageTable) MapDevice(r mem.MemoryRange) error {
	return p.mapRange(r, mem.PTEValid|mem.PTEDevice|mem.PTEMmioLazy)
}

// MapDeviceLazy registers the range as device memory without the valid
// bit; the first access faults into the MMIO guard path.
func (p *PageTable) MapDeviceLazy(r mem.MemoryRange) error {
	return p.mapRange(r, mem.PTEDevice|mem.PTEMmioLazy)
}

// ModifyRange applies visit to every page entry covering r, in address
// order, persisting flag mutations. Pages with no mapping are presented
// as zero (invalid) entries.
func (p *PageTable) ModifyRange(r mem.MemoryRange, visit mem.EntryVisitor) error {
	if r.IsEmpty() {
		return nil
	}
	for _, page := range p.pagesOf(r) {
		entry := p.entries[page]
		if err := visit(mem.RangeFrom(page, mem.PageSize), &entry, leafLevel); err != nil {
			return err
		}
		p.entries[page] = entry
	}
	return nil
}

// Entry returns the descriptor for the page containing addr and whether
// one was ever installed.
func (p *PageTable) Entry(addr uintptr) (mem.Entry, bool) {
	e, ok := p.entries[mem.PageOf(addr)]
	return e, ok
}

// Write simulates a data write to addr and reports the fault it would
// raise. With hardware DBM enabled the dirty state is recorded by the
// "hardware" itself; otherwise a clean tracked page raises a
// permission fault for the software path to handle.
func (p *PageTable) Write(addr uintptr) Fault {
	page := mem.PageOf(addr)
	entry, ok := p.entries[page]
	if !ok || !entry.Flags.Contains(mem.PTEValid) {
		return FaultTranslation
	}
	if !entry.Flags.Contains(mem.PTEReadOnly) {
		return FaultNone
	}
	if entry.Flags.Contains(mem.PTEDBM) && dirty.Enabled() {
		entry.Flags &^= mem.PTEReadOnly
		p.entries[page] = entry
		return FaultNone
	}
	return FaultPermission
}

func (p *PageTable) mapRange(r mem.MemoryRange, flags mem.PTEFlags) error {
	if r.IsEmpty() {
		return nil
	}
	for _, page := range p.pagesOf(r) {
		p.entries[page] = mem.Entry{Flags: flags}
	}
	return nil
}

func (p *PageTable) pagesOf(r mem.MemoryRange) []uintptr {
	var pages []uintptr
	for page := mem.PageOf(r.Start); page < r.End; page += mem.PageSize {
		pages = append(pages, page)
	}
	return pages
}
