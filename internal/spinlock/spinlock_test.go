package spinlock

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMutex_LockUnlock(t *testing.T) {
	var mu Mutex
	mu.Lock()
	mu.Unlock()
	mu.Lock()
	mu.Unlock()
}

func TestMutex_TryLock(t *testing.T) {
	var mu Mutex
	require.True(t, mu.TryLock())
	assert.False(t, mu.TryLock(), "second acquisition fails while held")
	mu.Unlock()
	assert.True(t, mu.TryLock())
	mu.Unlock()
}

func TestMutex_MutualExclusion(t *testing.T) {
	var mu Mutex
	counter := 0

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 1000; i++ {
				mu.Lock()
				counter++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 8000, counter)
}
