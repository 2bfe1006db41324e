package tracker

import (
	"errors"

	"github.com/joshuapare/guestmem/internal/spinlock"
)

// ErrMemoryAlreadySet indicates a second attempt to install the
// process-wide tracker.
var ErrMemoryAlreadySet = errors.New("tracker: memory tracker already installed")

var (
	memoryMu spinlock.Mutex
	memory   *Tracker
)

// Install publishes t as the process-wide memory tracker. Boot code
// installs it once; a second attempt fails.
func Install(t *Tracker) error {
	memoryMu.Lock()
	defer memoryMu.Unlock()
	if memory != nil {
		return ErrMemoryAlreadySet
	}
	memory = t
	return nil
}

// Current returns the installed tracker, or nil before boot installs
// one (or after shutdown takes it).
func Current() *Tracker {
	memoryMu.Lock()
	defer memoryMu.Unlock()
	return memory
}

// Take removes and returns the installed tracker so shutdown code can
// close it. Returns nil if none is installed.
func Take() *Tracker {
	memoryMu.Lock()
	defer memoryMu.Unlock()
	t := memory
	memory = nil
	return t
}
