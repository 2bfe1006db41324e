// Package dirty implements hardware dirty-bit management (DBM) support
// for writable guest memory: the global enable state, the barrier
// required before reading hardware-updated descriptor flags, and the
// entry visitors that mark and flush dirty pages.
//
// Dirty state is encoded in the write protection of a DBM-managed leaf:
// a clean page is write-protected, and the first write - by hardware
// when DBM is enabled, or by the permission-fault path when it is not -
// clears the protection. Flushing writes the page back through a
// Flusher and restores the clean state.
package dirty
