// Package guestram acquires zero-initialized, aligned blocks of backing
// memory for the shared-memory sharer. On unix hosts blocks come from
// anonymous mmap (page-aligned and zero-filled by the kernel); other
// platforms fall back to pinned Go heap allocations.
package guestram
