//go:build unix

package guestram

import (
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/joshuapare/guestmem/mem"
)

// Acquire maps an anonymous, zero-initialized block satisfying layout
// and returns its base address with a release function. Anonymous
// mappings are page-aligned and zero-filled by the kernel; stronger
// alignments are met by over-mapping and aligning inside the block.
func Acquire(layout mem.Layout) (uintptr, func() error, error) {
	mapLen := layout.Size
	if layout.Align > mem.PageSize {
		mapLen += layout.Align
	}

	data, err := unix.Mmap(-1, 0, int(mapLen),
		unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANON)
	if err != nil {
		return 0, nil, err
	}

	base := mem.AlignUp(uintptr(unsafe.Pointer(&data[0])), layout.Align)
	release := func() error {
		return unix.Munmap(data)
	}
	return base, release, nil
}
