package tracker

import (
	"github.com/joshuapare/guestmem/mem"
	"github.com/joshuapare/guestmem/mem/dirty"
	"github.com/joshuapare/guestmem/mem/hyp"
)

// HandleMMIOFault services a translation fault on a page registered for
// lazy MMIO mapping. The faulting page's entry must be exactly in the
// lazily-registered state (marker set, valid clear); anything else is a
// logic or security error upstream and fails with ErrInvalidPte before
// any hypervisor call is made. On success the page is guard mapped and
// installed as a valid device page, splitting block entries as needed.
func (t *Tracker) HandleMMIOFault(addr uintptr) error {
	guard := t.caps.MmioGuard
	if guard == nil {
		// No guard capability means nothing is ever lazily registered.
		return ErrInvalidPte
	}
	page := mem.AlignDown(addr, hyp.MmioGuardGranule)
	pageRange := mem.RangeFrom(page, hyp.MmioGuardGranule)

	if err := t.pt.ModifyRange(pageRange, verifyLazyMapped); err != nil {
		return ErrInvalidPte
	}
	if err := guard.Map(page); err != nil {
		return err
	}
	if err := t.pt.MapDevice(pageRange); err != nil {
		return ErrFailedToMap
	}
	return nil
}

// HandlePermissionFault services a write to a clean writable page when
// hardware dirty-state management is off, recording the dirty state in
// software. With hardware DBM enabled this path is never exercised.
func (t *Tracker) HandlePermissionFault(addr uintptr) error {
	if err := t.pt.ModifyRange(mem.Range(addr, addr+1), dirty.MarkDirty(t.flusher)); err != nil {
		return ErrSetPteDirtyFailed
	}
	return nil
}

// flushDirtyPages writes back every dirty page in writable regions and
// the payload image. Invoked only from Close.
func (t *Tracker) flushDirtyPages() error {
	// All hardware descriptor updates must be observable before the
	// dirty flags are read.
	dirty.Barrier()

	flush := dirty.FlushDirty(t.flusher)
	for i := 0; i < t.nregions; i++ {
		if t.regions[i].typ != memTypeReadWrite {
			continue
		}
		if err := t.pt.ModifyRange(t.regions[i].rng, flush); err != nil {
			return ErrFlushRegionFailed
		}
	}
	if t.payload != nil {
		if err := t.pt.ModifyRange(*t.payload, flush); err != nil {
			return ErrFlushRegionFailed
		}
	}
	return nil
}

// verifyLazyMapped accepts only leaves in the lazily-registered state:
// MMIO marker set, valid clear.
func verifyLazyMapped(r mem.MemoryRange, entry *mem.Entry, level int) error {
	if !entry.IsLeaf(level) {
		// Table entries carry no MMIO marker; skip them.
		return nil
	}
	if entry.Flags.Contains(mem.PTEMmioLazy) && !entry.Flags.Contains(mem.PTEValid) {
		return nil
	}
	return ErrInvalidPte
}

// mmioGuardUnmap returns a visitor that revokes the guard mapping of
// every valid device page it visits. Pages never accessed were never
// guard mapped and are skipped. A valid page missing the MMIO marker,
// or a block larger than the guard granule, means the fault path's
// invariants were broken.
func mmioGuardUnmap(guard hyp.MmioGuard) mem.EntryVisitor {
	return func(r mem.MemoryRange, entry *mem.Entry, level int) error {
		if !entry.IsLeaf(level) {
			return nil
		}
		if !entry.Flags.Contains(mem.PTEValid) {
			return nil
		}
		if !entry.Flags.Contains(mem.PTEMmioLazy) {
			return ErrInvalidPte
		}
		if r.Len() != hyp.MmioGuardGranule || r.Start%hyp.MmioGuardGranule != 0 {
			return ErrInvalidPte
		}
		return guard.Unmap(r.Start)
	}
}
