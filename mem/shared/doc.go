// Package shared implements host-visible buffer allocation: a
// process-wide frame pool (set at most once), and the MemorySharer that
// feeds it by acquiring backing memory and marking it shared with the
// untrusted host one hypervisor granule at a time.
//
// Allocation follows a deliberate fail-fast policy: callers of Alloc
// assume success or abort, so exhaustion after a refill attempt panics
// instead of returning an error. A buffer-allocation failure
// mid-operation cannot be safely unwound in this environment. Every
// other failure in this package surfaces as an error.
//
// Unsharing is tied to the sharer's lifetime, not to Dealloc: freed
// buffers return to the pool still shared, and every outstanding
// granule is unshared exactly once when the owning sharer is closed.
package shared
