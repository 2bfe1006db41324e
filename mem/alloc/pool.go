package alloc

import (
	"github.com/joshuapare/guestmem/mem"
)

// maxFreeRanges bounds the free list. Donated frames and coalescing
// keep the live count far below this in practice; hitting the bound is
// a recoverable error, not a panic.
const maxFreeRanges = 32

// Stats holds allocation counters for instrumentation and tests.
type Stats struct {
	AllocCalls   int    // Successful AllocAligned calls
	DeallocCalls int    // Dealloc calls
	Frames       int    // Ranges donated via AddFrame
	BytesAlloced uint64 // Total bytes handed out
	BytesFreed   uint64 // Total bytes returned
}

// Pool is a frame allocator over donated address ranges. The free list
// is kept sorted by start address and adjacent ranges are merged, so a
// freed allocation rejoins any alignment padding it was split from.
type Pool struct {
	free  [maxFreeRanges]mem.MemoryRange
	n     int
	stats Stats
}

// NewPool returns an empty pool. It owns no memory until a range is
// donated with AddFrame.
func NewPool() *Pool {
	return &Pool{}
}

// AddFrame donates the address range r to the pool's free list.
func (p *Pool) AddFrame(r mem.MemoryRange) error {
	if r.IsEmpty() {
		return ErrBadRange
	}
	if err := p.insert(r); err != nil {
		return err
	}
	p.stats.Frames++
	return nil
}

// AllocAligned carves an allocation satisfying l out of the free list
// and returns its base address. First fit over the sorted ranges;
// remainders before and after the carved block stay free.
func (p *Pool) AllocAligned(l mem.Layout) (uintptr, error) {
	if !l.IsValid() {
		return 0, ErrBadLayout
	}
	for i := 0; i < p.n; i++ {
		r := p.free[i]
		base := mem.AlignUp(r.Start, l.Align)
		if base < r.Start {
			continue // alignment overflowed the address space
		}
		end := base + l.Size
		if end < base || end > r.End {
			continue
		}

		extra := 0
		if base > r.Start {
			extra++
		}
		if end < r.End {
			extra++
		}
		if p.n-1+extra > maxFreeRanges {
			// The split cannot be represented; try a later range.
			continue
		}

		p.removeAt(i)
		if base > r.Start {
			// Cannot fail: capacity was checked above.
			_ = p.insert(mem.Range(r.Start, base))
		}
		if end < r.End {
			_ = p.insert(mem.Range(end, r.End))
		}

		p.stats.AllocCalls++
		p.stats.BytesAlloced += uint64(l.Size)
		return base, nil
	}
	return 0, ErrNoSpace
}

// Dealloc returns the allocation at ptr with layout l to the free list.
// ptr and l must exactly match a prior successful AllocAligned call;
// this is a precondition, not checked at runtime.
func (p *Pool) Dealloc(ptr uintptr, l mem.Layout) error {
	if !l.IsValid() {
		return ErrBadLayout
	}
	if err := p.insert(mem.RangeFrom(ptr, l.Size)); err != nil {
		return err
	}
	p.stats.DeallocCalls++
	p.stats.BytesFreed += uint64(l.Size)
	return nil
}

// Stats returns a copy of the pool's counters.
func (p *Pool) Stats() Stats {
	return p.stats
}

// FreeRanges returns the current free list, smallest address first.
func (p *Pool) FreeRanges() []mem.MemoryRange {
	out := make([]mem.MemoryRange, p.n)
	copy(out, p.free[:p.n])
	return out
}

// insert places r into the sorted free list, merging with adjacent
// ranges. Fails with ErrTooManyRanges only when r is disjoint from all
// neighbours and the list is full.
func (p *Pool) insert(r mem.MemoryRange) error {
	i := 0
	for i < p.n && p.free[i].Start < r.Start {
		i++
	}

	mergePrev := i > 0 && p.free[i-1].End == r.Start
	mergeNext := i < p.n && r.End == p.free[i].Start

	switch {
	case mergePrev && mergeNext:
		p.free[i-1].End = p.free[i].End
		p.removeAt(i)
	case mergePrev:
		p.free[i-1].End = r.End
	case mergeNext:
		p.free[i].Start = r.Start
	default:
		if p.n == maxFreeRanges {
			return ErrTooManyRanges
		}
		copy(p.free[i+1:p.n+1], p.free[i:p.n])
		p.free[i] = r
		p.n++
	}
	return nil
}

func (p *Pool) removeAt(i int) {
	copy(p.free[i:p.n-1], p.free[i+1:p.n])
	p.n--
}
