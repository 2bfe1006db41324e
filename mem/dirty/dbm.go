package dirty

import (
	"errors"
	"sync/atomic"

	"github.com/joshuapare/guestmem/mem"
)

var (
	// ErrNotManaged indicates a visitor was applied to an entry whose
	// dirty state is not tracked (invalid, or missing the DBM flag).
	ErrNotManaged = errors.New("dirty: entry not managed for dirty state")

	// ErrAlreadyWritable indicates a permission fault was raised for an
	// entry that is already writable, which the fault path rules out.
	ErrAlreadyWritable = errors.New("dirty: unexpected writable entry on permission fault")
)

// Flusher writes a range of guest memory back to a consistent state
// (cache clean to the point of coherency on real hardware).
type Flusher interface {
	CleanRange(r mem.MemoryRange) error
}

type discardFlusher struct{}

func (discardFlusher) CleanRange(mem.MemoryRange) error { return nil }

// Discard is a Flusher that drops every write-back. Suitable for
// platforms whose caches are coherent with the flush destination.
var Discard Flusher = discardFlusher{}

var dbmEnabled atomic.Bool

// EnableHardwareDBM propagates the DBM enable state to the CPU.
// Platform bring-up code replaces this with the register write toggling
// hardware dirty-state management; the default records state only.
var EnableHardwareDBM = func(enabled bool) {}

// SetDBMEnabled switches hardware dirty-state management on or off.
// It must be enabled before a page table with DBM-managed entries is
// activated and disabled before teardown flushes dirty pages.
func SetDBMEnabled(enabled bool) {
	dbmEnabled.Store(enabled)
	EnableHardwareDBM(enabled)
}

// Enabled reports whether hardware dirty-state management is active.
// When false, writes to clean pages trap to the permission-fault path.
func Enabled() bool {
	return dbmEnabled.Load()
}

var barrierSink atomic.Uint32

// Barrier orders all preceding page-table-visible writes before any
// subsequent read of hardware-maintained descriptor state. Required
// between the last write and reading dirty flags. The default issues a
// sequentially consistent atomic operation; platform bring-up code
// replaces it with the architectural barrier (DSB ISH on arm64).
var Barrier = func() {
	barrierSink.Add(0)
}

// MarkDirty returns a visitor that records a software dirty state on
// the leaf entries it visits, making them writable. Used by the
// permission-fault handler when hardware DBM is unavailable. The
// permission change requires the page be written back first.
func MarkDirty(f Flusher) mem.EntryVisitor {
	return func(r mem.MemoryRange, entry *mem.Entry, level int) error {
		if !entry.IsLeaf(level) {
			return nil
		}
		if !entry.Flags.Contains(mem.PTEValid | mem.PTEDBM) {
			return ErrNotManaged
		}
		if !entry.Flags.Contains(mem.PTEReadOnly) {
			return ErrAlreadyWritable
		}
		if err := f.CleanRange(r); err != nil {
			return err
		}
		entry.Flags &^= mem.PTEReadOnly
		return nil
	}
}

// FlushDirty returns a visitor that writes back every dirty leaf it
// visits and returns the entry to the clean, write-protected state.
// Clean and non-managed entries are skipped.
func FlushDirty(f Flusher) mem.EntryVisitor {
	return func(r mem.MemoryRange, entry *mem.Entry, level int) error {
		if !entry.IsLeaf(level) {
			return nil
		}
		if !entry.IsDirty() {
			return nil
		}
		if err := f.CleanRange(r); err != nil {
			return err
		}
		entry.Flags |= mem.PTEReadOnly
		return nil
	}
}
