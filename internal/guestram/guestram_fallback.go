//go:build !unix

package guestram

import (
	"sync"
	"unsafe"

	"github.com/joshuapare/guestmem/mem"
)

var (
	heldMu sync.Mutex
	held   = map[uintptr][]byte{} // keeps blocks reachable until released
)

// Acquire allocates a zero-initialized block satisfying layout from the
// Go heap. The block is pinned in a package registry so the garbage
// collector cannot reclaim it while its address is shared out.
func Acquire(layout mem.Layout) (uintptr, func() error, error) {
	buf := make([]byte, layout.Size+layout.Align)
	base := mem.AlignUp(uintptr(unsafe.Pointer(&buf[0])), layout.Align)

	heldMu.Lock()
	held[base] = buf
	heldMu.Unlock()

	release := func() error {
		heldMu.Lock()
		delete(held, base)
		heldMu.Unlock()
		return nil
	}
	return base, release, nil
}
