package alloc

import "errors"

var (
	// ErrNoSpace indicates no free range can satisfy the requested layout.
	ErrNoSpace = errors.New("alloc: no free range large enough")

	// ErrTooManyRanges indicates the fixed-capacity free list cannot
	// represent another disjoint range.
	ErrTooManyRanges = errors.New("alloc: free-range list full")

	// ErrBadLayout indicates a zero-size or non-power-of-two-aligned layout.
	ErrBadLayout = errors.New("alloc: layout must have non-zero size and power-of-two alignment")

	// ErrBadRange indicates an empty range was donated to the pool.
	ErrBadRange = errors.New("alloc: empty range")
)
