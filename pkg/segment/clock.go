package segment

import (
	"sync"
	"time"
)

// Clock returns monotonic elapsed time since an arbitrary origin.
// Pause lengths are differences of two readings, so the origin never matters.
type Clock interface {
	Now() time.Duration
}

// MonotonicClock reads the runtime's monotonic clock, so wall clock
// adjustments never stretch or shrink a pause.
type MonotonicClock struct {
	origin time.Time
}

// NewMonotonicClock starts a clock at zero.
func NewMonotonicClock() *MonotonicClock {
	return &MonotonicClock{origin: time.Now()}
}

// Now returns time elapsed since the clock was created.
func (c *MonotonicClock) Now() time.Duration {
	return time.Since(c.origin)
}

// ManualClock is a Clock moved by hand, for simulated time in tests.
type ManualClock struct {
	mu  sync.Mutex
	now time.Duration
}

// Now returns the current simulated time.
func (c *ManualClock) Now() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d and returns the new time.
func (c *ManualClock) Advance(d time.Duration) time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now += d
	return c.now
}

// Set jumps the clock to t.
func (c *ManualClock) Set(t time.Duration) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}
