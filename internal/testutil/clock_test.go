package testutil

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/recstore/internal/backend"
)

func TestDeterministicClock_Ticks(t *testing.T) {
	clock := NewDeterministicClock()
	assert.Equal(t, int64(0), clock.Current())
	assert.Equal(t, int64(1), clock.Next())
	assert.Equal(t, int64(2), clock.Next())
	assert.Equal(t, int64(2), clock.Current())

	clock.Reset()
	assert.Equal(t, int64(0), clock.Current())
	assert.Equal(t, int64(1), clock.Next())
}

func TestDeterministicClock_Now(t *testing.T) {
	clock := NewDeterministicClock()
	var now backend.Clock = clock.Now

	assert.Equal(t, Epoch.Add(time.Second), now())
	assert.Equal(t, Epoch.Add(2*time.Second), now())
	assert.Equal(t, time.UTC, now().Location())
}

func TestDeterministicClock_Reproducible(t *testing.T) {
	a := NewDeterministicClock()
	b := NewDeterministicClock()
	for i := 0; i < 10; i++ {
		assert.Equal(t, a.Now(), b.Now())
	}
}

func TestDeterministicClock_ThreadSafe(t *testing.T) {
	clock := NewDeterministicClock()
	const goroutines = 50
	const calls = 50

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		seen = make(map[int64]bool)
	)
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < calls; j++ {
				v := clock.Next()
				mu.Lock()
				seen[v] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	require.Len(t, seen, goroutines*calls, "no tick is handed out twice")
	assert.Equal(t, int64(goroutines*calls), clock.Current())
}
