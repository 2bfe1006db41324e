package tracker

import (
	"github.com/joshuapare/guestmem/mem"
	"github.com/joshuapare/guestmem/mem/alloc"
	"github.com/joshuapare/guestmem/mem/dirty"
	"github.com/joshuapare/guestmem/mem/hyp"
	"github.com/joshuapare/guestmem/mem/shared"
)

const (
	// regionCapacity bounds the regular-memory catalog. A hard inline
	// bound keeps worst-case memory use auditable; the tracker runs
	// before any heap exists.
	regionCapacity = 5

	// mmioCapacity bounds the MMIO catalog.
	mmioCapacity = 5
)

type memType int

const (
	memTypeReadOnly memType = iota
	memTypeReadWrite
)

// region is a tracked slice of main memory. Immutable once added;
// regions are only released by tearing down the owning tracker.
type region struct {
	rng mem.MemoryRange
	typ memType
}

// Tracker tracks non-overlapping slices of main memory and of the MMIO
// window. Not safe for reentrant use: the trap dispatcher must not
// reenter tracker methods from a nested fault while one is in progress.
type Tracker struct {
	total     mem.MemoryRange
	pt        mem.PageTable
	caps      hyp.Capabilities
	regions   [regionCapacity]region
	nregions  int
	mmio      [mmioCapacity]mem.MemoryRange
	nmmio     int
	mmioRange mem.MemoryRange
	payload   *mem.MemoryRange
	flusher   dirty.Flusher
	closed    bool
}

// Option configures a Tracker at construction.
type Option func(*Tracker)

// WithFlusher sets the write-back sink for dirty pages. Defaults to
// dirty.Discard, for platforms whose caches are coherent.
func WithFlusher(f dirty.Flusher) Option {
	return func(t *Tracker) { t.flusher = f }
}

// New creates a tracker over an already-populated page table covering
// total, with device mappings carved from mmioRange. payload, when
// non-nil, names the executable image's own range; it is always flushed
// at teardown even if never separately registered.
//
// Dirty-state management is enabled before the table is activated,
// otherwise the first write through the new mappings would fault
// immediately.
func New(pt mem.PageTable, total, mmioRange mem.MemoryRange, payload *mem.MemoryRange,
	caps hyp.Capabilities, opts ...Option) (*Tracker, error) {
	if total.Overlaps(mmioRange) {
		return nil, ErrOverlaps
	}

	dirty.SetDBMEnabled(true)
	pt.Activate()

	t := &Tracker{
		total:     total,
		pt:        pt,
		caps:      caps,
		mmioRange: mmioRange,
		payload:   payload,
		flusher:   dirty.Discard,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t, nil
}

// Total returns the range of main memory the tracker currently governs.
func (t *Tracker) Total() mem.MemoryRange {
	return t.total
}

// Shrink resizes the total tracked range to newTotal. The base address
// must be unchanged and the new range must still contain every tracked
// region.
func (t *Tracker) Shrink(newTotal mem.MemoryRange) error {
	if newTotal.Start != t.total.Start {
		return ErrDifferentBaseAddress
	}
	if t.total.End < newTotal.End {
		return ErrSizeTooLarge
	}
	for i := 0; i < t.nregions; i++ {
		if !t.regions[i].rng.IsWithin(newTotal) {
			return ErrSizeTooSmall
		}
	}
	t.total = newTotal
	return nil
}

// AllocRange tracks range as read-only data and maps it. Returns the
// accepted range.
func (t *Tracker) AllocRange(r mem.MemoryRange) (mem.MemoryRange, error) {
	reg := region{rng: r, typ: memTypeReadOnly}
	if err := t.check(reg); err != nil {
		return mem.MemoryRange{}, err
	}
	if err := t.pt.MapRodata(r); err != nil {
		return mem.MemoryRange{}, ErrFailedToMap
	}
	return t.add(reg), nil
}

// AllocRangeMut tracks range as writable data and maps it with
// dirty-state tracking. Returns the accepted range.
func (t *Tracker) AllocRangeMut(r mem.MemoryRange) (mem.MemoryRange, error) {
	reg := region{rng: r, typ: memTypeReadWrite}
	if err := t.check(reg); err != nil {
		return mem.MemoryRange{}, err
	}
	if err := t.pt.MapDataDBM(r); err != nil {
		return mem.MemoryRange{}, ErrFailedToMap
	}
	return t.add(reg), nil
}

// Alloc is AllocRange for the range [base, base+size). size must be
// non-zero.
func (t *Tracker) Alloc(base, size uintptr) (mem.MemoryRange, error) {
	return t.AllocRange(mem.RangeFrom(base, size))
}

// AllocMut is AllocRangeMut for the range [base, base+size). size must
// be non-zero.
func (t *Tracker) AllocMut(base, size uintptr) (mem.MemoryRange, error) {
	return t.AllocRangeMut(mem.RangeFrom(base, size))
}

// MapMMIORange maps a device window carved from the tracker's MMIO
// range. With an MMIO guard capability the window is registered lazily
// and validated on first access; without one it is mapped eagerly. The
// range is recorded only after the page-table operation succeeds.
func (t *Tracker) MapMMIORange(r mem.MemoryRange) error {
	if r.IsEmpty() || !r.IsWithin(t.mmioRange) {
		return ErrOutOfRange
	}
	for i := 0; i < t.nmmio; i++ {
		if r.Overlaps(t.mmio[i]) {
			return ErrOverlaps
		}
	}
	if t.nmmio == mmioCapacity {
		return ErrFull
	}

	if t.caps.MmioGuard != nil {
		if err := t.pt.MapDeviceLazy(r); err != nil {
			return ErrFailedToMap
		}
	} else {
		if err := t.pt.MapDevice(r); err != nil {
			return ErrFailedToMap
		}
	}

	t.mmio[t.nmmio] = r
	t.nmmio++
	return nil
}

// MMIOUnmapAll removes the MMIO guard state of every recorded device
// range whose pages were actually accessed (and therefore guard
// mapped). The page-table mappings themselves are left in place:
// teardown ordering elsewhere relies on device windows staying valid
// until process exit.
func (t *Tracker) MMIOUnmapAll() error {
	guard := t.caps.MmioGuard
	if guard == nil {
		return nil
	}
	for i := 0; i < t.nmmio; i++ {
		if err := t.pt.ModifyRange(t.mmio[i], mmioGuardUnmap(guard)); err != nil {
			return ErrFailedToUnmap
		}
	}
	return nil
}

// InitDynamicSharedPool brings up the shared pool in dynamic mode: an
// empty pool grown lazily by a sharer accounting at the hypervisor's
// sharing granule.
func (t *Tracker) InitDynamicSharedPool(granule uintptr) error {
	s, err := shared.NewSharer(granule, t.caps.MemSharer)
	if err != nil {
		return err
	}
	if err := shared.InitSharer(s); err != nil {
		return ErrSharedMemorySetFailure
	}
	if err := shared.InitPool(alloc.NewPool()); err != nil {
		return ErrSharedPoolSetFailure
	}
	return nil
}

// InitStaticSharedPool brings up the shared pool from a fixed range of
// guest memory pre-designated as shared by the platform. The range is
// tracked and mapped writable, then seeds the pool directly; no sharer
// is installed.
func (t *Tracker) InitStaticSharedPool(r mem.MemoryRange) error {
	got, err := t.AllocMut(r.Start, r.Len())
	if err != nil {
		return err
	}
	p := alloc.NewPool()
	if err := p.AddFrame(got); err != nil {
		return err
	}
	if err := shared.InitPool(p); err != nil {
		return ErrSharedPoolSetFailure
	}
	return nil
}

// InitHeapSharedPool brings up the shared pool for hypervisors that
// permit host access to guest memory without explicit sharing. This is
// dynamic mode with a one-byte granule: with no sharing capability the
// sharer takes no sharing action and the pool behaves as an ordinary
// allocator.
func (t *Tracker) InitHeapSharedPool() error {
	return t.InitDynamicSharedPool(1)
}

// UnshareAllMemory drops the sharer, unsharing every block it tracks.
func (t *Tracker) UnshareAllMemory() error {
	return shared.DropSharer()
}

// Close tears the tracker down: disables dirty-state management,
// flushes every dirty page in writable regions and the payload image,
// then unshares all shared memory. Any failure is returned and must be
// treated as unrecoverable.
func (t *Tracker) Close() error {
	if t.closed {
		return nil
	}
	t.closed = true

	dirty.SetDBMEnabled(false)
	if err := t.flushDirtyPages(); err != nil {
		return err
	}
	return t.UnshareAllMemory()
}

// check validates a candidate region against the catalog invariants:
// containment in total, no overlap, capacity available.
func (t *Tracker) check(reg region) error {
	if reg.rng.IsEmpty() || !reg.rng.IsWithin(t.total) {
		return ErrOutOfRange
	}
	for i := 0; i < t.nregions; i++ {
		if reg.rng.Overlaps(t.regions[i].rng) {
			return ErrOverlaps
		}
	}
	if t.nregions == regionCapacity {
		return ErrFull
	}
	return nil
}

func (t *Tracker) add(reg region) mem.MemoryRange {
	t.regions[t.nregions] = reg
	t.nregions++
	return reg.rng
}
