// ABOUTME: Tests for the request dedupe cache.
// ABOUTME: Covers TTL expiry, eviction order, sweep, and concurrent retries.

package dedupe

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCache_Seen_NewKey(t *testing.T) {
	cache := New(5*time.Minute, 100)
	defer cache.Close()

	assert.False(t, cache.Seen("fresh-key"), "first Seen should report new")
	assert.True(t, cache.Seen("fresh-key"), "second Seen should report duplicate")
}

func TestCache_Seen_Expired(t *testing.T) {
	cache := New(10*time.Millisecond, 100)
	defer cache.Close()

	assert.False(t, cache.Seen("expiring-key"))
	assert.True(t, cache.Seen("expiring-key"), "should be a duplicate before expiry")

	time.Sleep(20 * time.Millisecond)

	assert.False(t, cache.Seen("expiring-key"), "expired key should count as new again")
}

func TestCache_Seen_RefreshesTimestamp(t *testing.T) {
	cache := New(50*time.Millisecond, 100)
	defer cache.Close()

	cache.Seen("refresh-key")

	time.Sleep(30 * time.Millisecond)
	assert.True(t, cache.Seen("refresh-key")) // duplicate hit refreshes the entry

	time.Sleep(30 * time.Millisecond)
	assert.True(t, cache.Seen("refresh-key"), "refreshed key should outlive the original TTL")
}

func TestCache_EvictionOrder(t *testing.T) {
	cache := New(5*time.Minute, 3)
	defer cache.Close()

	cache.Seen("first")
	cache.Seen("second")
	cache.Seen("third")

	// Fourth key pushes out the oldest.
	cache.Seen("fourth")

	assert.False(t, cache.Seen("first"), "oldest key should have been evicted")
	// The evicted "first" re-entered above, so "second" is now oldest.
	assert.False(t, cache.Seen("fifth"))
	assert.True(t, cache.Seen("fourth"))
}

func TestCache_Sweep(t *testing.T) {
	cache := New(10*time.Millisecond, 100)
	defer cache.Close()

	cache.Seen("sweep-1")
	cache.Seen("sweep-2")

	time.Sleep(20 * time.Millisecond)
	cache.removeExpired()

	cache.mu.Lock()
	mapLen := len(cache.seen)
	listLen := cache.order.Len()
	cache.mu.Unlock()
	assert.Equal(t, 0, mapLen, "sweep should drop expired entries from the map")
	assert.Equal(t, 0, listLen, "sweep should drop expired entries from the order list")
}

func TestCache_Seen_Atomic(t *testing.T) {
	cache := New(5*time.Minute, 100)
	defer cache.Close()

	const numGoroutines = 100

	var winners atomic.Int32
	var wg sync.WaitGroup
	for range numGoroutines {
		wg.Go(func() {
			if !cache.Seen("contested-key") {
				winners.Add(1)
			}
		})
	}
	wg.Wait()

	assert.Equal(t, int32(1), winners.Load(),
		"exactly one concurrent retry should pass the dedupe check")
}

func TestCache_Concurrent(t *testing.T) {
	cache := New(5*time.Minute, 1000)
	defer cache.Close()

	var wg sync.WaitGroup
	for i := range 50 {
		wg.Go(func() {
			for j := range 100 {
				cache.Seen(fmt.Sprintf("key-%d-%d", i%10, j%20))
			}
		})
	}
	wg.Wait()

	assert.False(t, cache.Seen("final-key"))
}

func TestCache_Close(t *testing.T) {
	cache := New(5*time.Minute, 100)

	cache.Seen("before-close")

	cache.Close()
	cache.Close() // safe to call twice
}

func TestCache_Forget(t *testing.T) {
	cache := New(5*time.Minute, 100)
	defer cache.Close()

	assert.False(t, cache.Seen("rollback-key"))

	// Forget releases the tentative mark, so the key counts as new again.
	cache.Forget("rollback-key")
	assert.False(t, cache.Seen("rollback-key"))
	assert.True(t, cache.Seen("rollback-key"))

	cache.Forget("never-marked") // no-op

	cache.mu.Lock()
	mapLen := len(cache.seen)
	listLen := cache.order.Len()
	cache.mu.Unlock()
	assert.Equal(t, mapLen, listLen, "map and order list stay in step across Forget")
}
