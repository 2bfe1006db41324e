package mem

// Layout describes the size and alignment of an allocation request.
// Align must be a power of two.
type Layout struct {
	Size  uintptr
	Align uintptr
}

// LayoutOf constructs a layout for size bytes at the given alignment.
func LayoutOf(size, align uintptr) Layout {
	return Layout{Size: size, Align: align}
}

// IsValid reports whether the layout has a non-zero size and a
// power-of-two alignment.
func (l Layout) IsValid() bool {
	return l.Size != 0 && IsPowerOfTwo(l.Align)
}

// AlignTo returns a copy of the layout with its alignment raised to at
// least align. A lower align leaves the layout unchanged.
func (l Layout) AlignTo(align uintptr) Layout {
	if align > l.Align {
		l.Align = align
	}
	return l
}

// PadToAlign returns a copy of the layout with its size rounded up to a
// multiple of its alignment.
func (l Layout) PadToAlign() Layout {
	l.Size = AlignUp(l.Size, l.Align)
	return l
}
