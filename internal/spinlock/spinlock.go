// Package spinlock provides a busy-wait mutual exclusion lock for the
// manager's process-wide singletons. The target environment has a single
// logical thread of control and no blocking primitive, so contention is
// resolved by spinning rather than by parking on a scheduler.
package spinlock

import (
	"runtime"
	"sync/atomic"
)

// attemptsBeforeYielding bounds raw spinning on hosted builds so a
// single-P test process cannot livelock against itself. A bare-metal
// port replaces the yield with a wait-for-event loop.
const attemptsBeforeYielding = 64

// Mutex is a spin lock. The zero value is unlocked. Re-acquiring a held
// lock from the same flow of control deadlocks.
type Mutex struct {
	state atomic.Uint32
}

// Lock busy-waits until the lock is acquired.
func (m *Mutex) Lock() {
	for attempts := uint32(0); ; attempts++ {
		if m.TryLock() {
			return
		}
		if attempts%attemptsBeforeYielding == attemptsBeforeYielding-1 {
			runtime.Gosched()
		}
	}
}

// TryLock attempts to acquire the lock without waiting and reports
// whether it succeeded.
func (m *Mutex) TryLock() bool {
	return m.state.CompareAndSwap(0, 1)
}

// Unlock releases the lock. Unlocking a free lock has no effect.
func (m *Mutex) Unlock() {
	m.state.Store(0)
}
