package latch

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHybrid_OptimisticValidatesWhenUncontended(t *testing.T) {
	var h Hybrid

	snap := h.Optimistic()
	assert.True(t, h.Validate(snap))
}

func TestHybrid_OptimisticFailsAfterWrite(t *testing.T) {
	var h Hybrid

	snap := h.Optimistic()

	h.Lock()
	h.Unlock()

	assert.False(t, h.Validate(snap))
}

func TestHybrid_VersionMonotonicAndStrictlyIncreases(t *testing.T) {
	var h Hybrid

	require.Equal(t, uint64(0), h.Version())

	h.Lock()
	h.Unlock()
	require.Equal(t, uint64(1), h.Version())

	h.Lock()
	h.Unlock()
	require.Equal(t, uint64(2), h.Version())
}

func TestHybrid_UpgradeGrantsExclusiveAccess(t *testing.T) {
	var h Hybrid

	h.RLock()
	h.Upgrade()
	// We now hold the write lock; a concurrent RLock must block until
	// we unlock, which we verify via a timing-independent channel
	// handoff instead of sleeping.
	unlocked := make(chan struct{})
	acquired := make(chan struct{})
	go func() {
		h.RLock()
		close(acquired)
		h.RUnlock()
	}()

	select {
	case <-acquired:
		t.Fatal("reader acquired RLock while writer held the upgraded lock")
	default:
	}

	h.Unlock()
	close(unlocked)
	<-acquired
}

func TestHybrid_TryLockFailsWhileWriteHeld(t *testing.T) {
	var h Hybrid

	h.Lock()
	assert.False(t, h.TryLock())
	h.Unlock()

	assert.True(t, h.TryLock())
	h.Unlock()
}

func TestHybrid_ConcurrentWritersEachIncrementVersionOnce(t *testing.T) {
	var h Hybrid
	var wg sync.WaitGroup

	const writers = 8
	wg.Add(writers)
	for i := 0; i < writers; i++ {
		go func() {
			defer wg.Done()
			h.Lock()
			h.Unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, uint64(writers), h.Version())
}
