// Package tracker owns the guest's view of its address space: which
// ranges are mapped, with what permissions, and which device windows
// exist. A Tracker holds the active page table and two fixed-capacity
// catalogs - regular memory regions and MMIO ranges - and enforces that
// catalog entries are pairwise non-overlapping and contained in their
// governing range.
//
// The tracker also services the two synchronous fault paths the trap
// dispatcher routes to it: translation faults on lazily-registered MMIO
// pages, and permission faults on clean writable pages when hardware
// dirty-bit management is off.
//
// Teardown is explicit: Close flushes every dirty page in writable
// regions (and the payload image) and drops the sharer, unsharing all
// host-visible memory. Teardown failures are unrecoverable; a partially
// flushed or partially unshared guest must not continue running.
package tracker
