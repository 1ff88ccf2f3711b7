package watch

import (
	"sync/atomic"
	"time"
)

// Clock is a monotonic "time of last event" marker used for debouncing.
// Zero means idle: nothing pending. A drain is gated on "no new events
// since a quiescence window"; Bump resets that window on every insert,
// which is the same effect as a wall-clock window without accumulating
// drift across ticks.
type Clock struct {
	lastEventNanos int64
}

// Bump records that an event was observed now.
func (c *Clock) Bump() {
	atomic.StoreInt64(&c.lastEventNanos, time.Now().UnixNano())
}

// Reset clears the clock back to idle.
func (c *Clock) Reset() {
	atomic.StoreInt64(&c.lastEventNanos, 0)
}

// Quiescent reports whether at least window has elapsed since the last
// Bump, and the clock isn't idle (zero). An idle clock is never
// quiescent: there is nothing to drain.
func (c *Clock) Quiescent(window time.Duration) bool {
	last := atomic.LoadInt64(&c.lastEventNanos)
	if last == 0 {
		return false
	}
	return time.Since(time.Unix(0, last)) >= window
}

// Recent reports whether an event was observed within window. Used by
// the library-event drain to defer while the source clock is still
// active.
func (c *Clock) Recent(window time.Duration) bool {
	last := atomic.LoadInt64(&c.lastEventNanos)
	if last == 0 {
		return false
	}
	return time.Since(time.Unix(0, last)) < window
}
