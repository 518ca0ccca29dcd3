// Package gateway wraps the broker's REST API behind a throttled,
// retrying, failure-classifying client.
package gateway

import (
	"sync"
	"time"
)

// Throttle enforces a minimum elapsed time between dispatches. It is a
// token bucket of size one: Acquire blocks the caller until the interval
// has elapsed since the last dispatch.
//
// Safe for concurrent use; the control loop and background jobs share one
// instance.
type Throttle struct {
	mu          sync.Mutex
	minInterval time.Duration
	last        time.Time

	// test seams
	now   func() time.Time
	sleep func(time.Duration)
}

// NewThrottle creates a throttle with the given minimum interval.
func NewThrottle(minInterval time.Duration) *Throttle {
	return &Throttle{
		minInterval: minInterval,
		now:         time.Now,
		sleep:       time.Sleep,
	}
}

// Acquire blocks until a dispatch slot is available and claims it.
func (t *Throttle) Acquire() {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	if !t.last.IsZero() {
		if wait := t.minInterval - now.Sub(t.last); wait > 0 {
			t.sleep(wait)
			now = now.Add(wait)
		}
	}
	t.last = now
}

// Interval returns the configured minimum interval.
func (t *Throttle) Interval() time.Duration {
	return t.minInterval
}
