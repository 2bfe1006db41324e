package shared

import (
	"fmt"
	"unsafe"

	"github.com/joshuapare/guestmem/internal/spinlock"
	"github.com/joshuapare/guestmem/mem"
	"github.com/joshuapare/guestmem/mem/alloc"
)

var (
	poolMu spinlock.Mutex
	pool   *alloc.Pool // set at most once per process lifetime

	sharerMu spinlock.Mutex
	sharer   *Sharer
)

// InitPool installs p as the process-wide shared pool. The pool may be
// set at most once; a second attempt fails rather than overwriting.
func InitPool(p *alloc.Pool) error {
	poolMu.Lock()
	defer poolMu.Unlock()
	if pool != nil {
		return ErrPoolAlreadySet
	}
	pool = p
	return nil
}

// InitSharer installs s as the process-wide sharer. Present only while
// dynamic sharing is active; DropSharer removes and closes it.
func InitSharer(s *Sharer) error {
	sharerMu.Lock()
	defer sharerMu.Unlock()
	if sharer != nil {
		return ErrSharerAlreadySet
	}
	sharer = s
	return nil
}

// DropSharer removes the process-wide sharer, if any, and closes it,
// unsharing everything it tracks. Safe to call when no sharer is set.
func DropSharer() error {
	sharerMu.Lock()
	s := sharer
	sharer = nil
	sharerMu.Unlock()
	if s == nil {
		return nil
	}
	return s.Close()
}

// Alloc returns the base address of a buffer satisfying layout that is
// visible to the host. On pool exhaustion it refills through the active
// sharer and retries once; if still unsatisfied it panics, per the
// package's fail-fast allocation policy. The pool must be initialized.
func Alloc(layout mem.Layout) uintptr {
	poolMu.Lock()
	defer poolMu.Unlock()
	if pool == nil {
		panic("shared: pool not initialized")
	}

	if ptr, err := pool.AllocAligned(layout); err == nil {
		return ptr
	}

	sharerMu.Lock()
	if sharer != nil {
		sharer.Refill(pool, layout)
	}
	sharerMu.Unlock()

	ptr, err := pool.AllocAligned(layout)
	if err != nil {
		panic(fmt.Sprintf("shared: allocation of %d bytes (align %d) failed: %v",
			layout.Size, layout.Align, err))
	}
	return ptr
}

// Dealloc returns to the pool the buffer previously returned by Alloc
// with the same layout; matching ptr and layout is a precondition, not
// checked at runtime. The memory stays shared until the owning sharer
// is dropped.
func Dealloc(ptr uintptr, layout mem.Layout) {
	poolMu.Lock()
	defer poolMu.Unlock()
	if pool == nil {
		panic("shared: pool not initialized")
	}
	if err := pool.Dealloc(ptr, layout); err != nil {
		// A free list that cannot absorb a legitimate free means the
		// pool's accounting is corrupted; there is nothing to unwind to.
		panic(fmt.Sprintf("shared: dealloc at 0x%x failed: %v", ptr, err))
	}
}

// PoolStats reports the pool's counters, or false when no pool is set.
func PoolStats() (alloc.Stats, bool) {
	poolMu.Lock()
	defer poolMu.Unlock()
	if pool == nil {
		return alloc.Stats{}, false
	}
	return pool.Stats(), true
}

// Bytes exposes n bytes at ptr as a slice. Valid only for pointers
// returned by Alloc that are backed by real mapped memory (dynamic and
// heap pools); static pools carved from guest RAM need the platform's
// own accessors.
func Bytes(ptr uintptr, n int) []byte {
	return unsafe.Slice((*byte)(unsafe.Pointer(ptr)), n)
}

// ResetForTesting drops both singletons so a test can bring the pool up
// again. The active sharer, if any, is closed first and its error
// returned. Not for production use: the pool is set-once by design.
func ResetForTesting() error {
	err := DropSharer()
	poolMu.Lock()
	pool = nil
	poolMu.Unlock()
	return err
}
