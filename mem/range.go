package mem

import "fmt"

// PageSize is the translation granule used throughout the manager (4KB).
const PageSize uintptr = 4096

// MemoryRange is a half-open interval [Start, End) of guest addresses.
// The zero value is the empty range starting at address zero.
type MemoryRange struct {
	Start uintptr
	End   uintptr
}

// Range constructs the half-open interval [start, end).
func Range(start, end uintptr) MemoryRange {
	return MemoryRange{Start: start, End: end}
}

// RangeFrom constructs the interval [base, base+size).
func RangeFrom(base, size uintptr) MemoryRange {
	return MemoryRange{Start: base, End: base + size}
}

// Len returns the number of addresses covered by the range.
func (r MemoryRange) Len() uintptr {
	if r.End < r.Start {
		return 0
	}
	return r.End - r.Start
}

// IsEmpty reports whether the range covers no addresses.
func (r MemoryRange) IsEmpty() bool {
	return r.End <= r.Start
}

// Contains reports whether addr falls inside the range.
func (r MemoryRange) Contains(addr uintptr) bool {
	return r.Start <= addr && addr < r.End
}

// IsWithin reports whether the range is fully contained in outer.
func (r MemoryRange) IsWithin(outer MemoryRange) bool {
	return outer.Start <= r.Start && r.End <= outer.End
}

// Overlaps reports whether the two ranges share at least one address.
func (r MemoryRange) Overlaps(other MemoryRange) bool {
	return r.Start < other.End && other.Start < r.End
}

func (r MemoryRange) String() string {
	return fmt.Sprintf("0x%x..0x%x", r.Start, r.End)
}

// AlignDown rounds addr down to the previous multiple of align.
// align must be a power of two.
func AlignDown(addr, align uintptr) uintptr {
	return addr &^ (align - 1)
}

// AlignUp rounds addr up to the next multiple of align.
// align must be a power of two.
func AlignUp(addr, align uintptr) uintptr {
	return (addr + align - 1) &^ (align - 1)
}

// PageOf returns the base address of the page containing addr.
func PageOf(addr uintptr) uintptr {
	return AlignDown(addr, PageSize)
}

// IsPowerOfTwo reports whether n is a non-zero power of two.
func IsPowerOfTwo(n uintptr) bool {
	return n != 0 && n&(n-1) == 0
}
