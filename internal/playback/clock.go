package playback

import (
	"time"
)

// Timer is a cancellable pending callback
type Timer interface {
	// Stop prevents the callback from firing; it reports whether it did so.
	Stop() bool
}

// Clock is the monotonic output clock units are scheduled against.
// Now is measured from the clock's own origin, so a fresh clock starts at zero.
type Clock interface {
	Now() time.Duration
	AfterFunc(d time.Duration, f func()) Timer
}

// MonotonicClock is a Clock backed by the runtime's monotonic time
type MonotonicClock struct {
	origin time.Time
}

// NewMonotonicClock returns a clock whose origin is the moment of the call
func NewMonotonicClock() *MonotonicClock {
	return &MonotonicClock{origin: time.Now()}
}

// Now returns the time elapsed since the clock's origin
func (c *MonotonicClock) Now() time.Duration {
	return time.Since(c.origin)
}

// AfterFunc runs f after d on its own goroutine
func (c *MonotonicClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}
