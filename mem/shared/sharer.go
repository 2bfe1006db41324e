package shared

import (
	"fmt"

	"github.com/joshuapare/guestmem/internal/guestram"
	"github.com/joshuapare/guestmem/mem"
	"github.com/joshuapare/guestmem/mem/alloc"
	"github.com/joshuapare/guestmem/mem/hyp"
)

// Source provides zero-initialized backing blocks for a Sharer.
type Source func(layout mem.Layout) (base uintptr, release func() error, err error)

type sharedBlock struct {
	base    uintptr
	layout  mem.Layout
	release func() error
}

// Sharer acquires backing memory and shares it with the host. It
// records every block it has shared; each block stays shared from the
// moment Refill marks it until Close unshares it. No block outlives the
// sharer.
type Sharer struct {
	granule uintptr
	sharer  hyp.MemSharer // nil when the hypervisor needs no explicit sharing
	source  Source
	blocks  []sharedBlock
}

// NewSharer creates a sharer accounting at the given granule, backed by
// guestram blocks. granule must be a power of two. ms may be nil on
// hypervisors that permit host access without explicit sharing; the
// sharer then only manages block lifetimes.
func NewSharer(granule uintptr, ms hyp.MemSharer) (*Sharer, error) {
	return newSharer(granule, ms, guestram.Acquire)
}

func newSharer(granule uintptr, ms hyp.MemSharer, src Source) (*Sharer, error) {
	if !mem.IsPowerOfTwo(granule) {
		return nil, ErrBadGranule
	}
	return &Sharer{granule: granule, sharer: ms, source: src}, nil
}

// Refill acquires a granule-aligned, granule-padded block covering at
// least hint, shares each granule with the host, and donates the block
// to the pool's free list.
//
// Failure here is fatal: the process cannot safely continue with no
// backing memory or with a half-shared block.
func (s *Sharer) Refill(p *alloc.Pool, hint mem.Layout) {
	layout := hint.AlignTo(s.granule).PadToAlign()
	if layout.Size == 0 {
		panic("shared: refill with zero-size layout")
	}
	base, release, err := s.source(layout)
	if err != nil {
		panic(fmt.Sprintf("shared: acquiring %d bytes of backing memory: %v", layout.Size, err))
	}
	end := base + layout.Size

	if s.sharer != nil {
		// The payload runs identity-mapped, so the block's virtual
		// addresses are the intermediate physical addresses the
		// hypervisor accounts.
		for addr := base; addr < end; addr += s.granule {
			if shareErr := s.sharer.Share(addr); shareErr != nil {
				panic(fmt.Sprintf("shared: sharing granule at 0x%x: %v", addr, shareErr))
			}
		}
	}

	s.blocks = append(s.blocks, sharedBlock{base: base, layout: layout, release: release})
	if err := p.AddFrame(mem.Range(base, end)); err != nil {
		panic(fmt.Sprintf("shared: donating refill block to pool: %v", err))
	}
}

// Close unshares every recorded block granule by granule and releases
// it, in reverse allocation order. A block is only released after all
// of its granules are unshared. The first failure aborts the teardown
// and is returned; a partially-unshared guest is unsafe to continue.
func (s *Sharer) Close() error {
	for len(s.blocks) > 0 {
		b := s.blocks[len(s.blocks)-1]
		if s.sharer != nil {
			end := b.base + b.layout.Size
			for addr := b.base; addr < end; addr += s.granule {
				if err := s.sharer.Unshare(addr); err != nil {
					return fmt.Errorf("shared: unsharing granule at 0x%x: %w", addr, err)
				}
			}
		}
		if err := b.release(); err != nil {
			return fmt.Errorf("shared: releasing block at 0x%x: %w", b.base, err)
		}
		s.blocks = s.blocks[:len(s.blocks)-1]
	}
	return nil
}
