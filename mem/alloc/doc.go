// Package alloc provides the frame allocator backing the shared-memory
// pool.
//
// # Overview
//
// A Pool sub-allocates from address ranges donated to it; it never owns
// or acquires memory itself. The free list is a fixed-capacity inline
// array: the allocator runs before (and during teardown, after) any
// general-purpose heap is available, so worst-case memory use must be
// auditable and growth is a recoverable error rather than a reallocation.
//
// # Usage
//
//	p := alloc.NewPool()
//	if err := p.AddFrame(mem.Range(base, end)); err != nil { ... }
//
//	ptr, err := p.AllocAligned(mem.LayoutOf(size, align))
//	...
//	err = p.Dealloc(ptr, mem.LayoutOf(size, align))
//
// Dealloc must be called with the exact pointer and layout of a prior
// successful AllocAligned; this is a precondition, not checked at
// runtime. Freed ranges coalesce with adjacent free ranges so repeated
// allocate/free cycles of one layout do not accumulate fragmentation.
//
// # Thread Safety
//
// Pool is not safe for concurrent use. The shared package guards the
// process-wide pool with its own spin lock.
package alloc
