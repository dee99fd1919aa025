// Package testutil holds deterministic helpers for tests and scenario runs.
package testutil

import (
	"sync"
	"time"
)

// Epoch is the first instant a DeterministicClock reports.
var Epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// DeterministicClock is a logical clock that advances one second per tick.
//
// Pass clock.Now as a backend.Clock to get reproducible created/updated
// timestamps.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type DeterministicClock struct {
	mu    sync.Mutex
	seq   int64
	epoch time.Time
}

// NewDeterministicClock creates a clock at tick 0 starting from Epoch.
func NewDeterministicClock() *DeterministicClock {
	return &DeterministicClock{epoch: Epoch}
}

// Next advances the clock and returns the new tick. The first call returns 1.
func (c *DeterministicClock) Next() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq++
	return c.seq
}

// Current returns the current tick without advancing.
func (c *DeterministicClock) Current() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.seq
}

// Now advances the clock and returns Epoch plus one second per tick.
func (c *DeterministicClock) Now() time.Time {
	return c.epoch.Add(time.Duration(c.Next()) * time.Second)
}

// Reset rewinds the clock to tick 0.
func (c *DeterministicClock) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq = 0
}
