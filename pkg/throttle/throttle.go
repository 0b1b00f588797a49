// Package throttle rate-limits streaming frame submission
// independently of display refresh. Frames arriving faster than the
// minimum interval are dropped, never queued, so analysis always
// reacts to the most recent frame. Single-shot photo captures bypass
// the throttler entirely.
package throttle

import (
	"sync"
	"time"
)

// DefaultMinInterval keeps streaming analysis at or below 2 Hz while
// the display renders at its own rate
const DefaultMinInterval = 500 * time.Millisecond

// Throttler gates streaming frame submissions
type Throttler struct {
	mu           sync.Mutex
	minInterval  time.Duration
	lastAccepted time.Time
	accepted     uint64
	dropped      uint64
	now          func() time.Time
}

// New creates a throttler with the default interval
func New() *Throttler {
	return NewWithInterval(DefaultMinInterval)
}

// NewWithInterval creates a throttler with a custom minimum interval
func NewWithInterval(minInterval time.Duration) *Throttler {
	if minInterval <= 0 {
		minInterval = DefaultMinInterval
	}
	return &Throttler{
		minInterval: minInterval,
		now:         time.Now,
	}
}

// Allow reports whether a new streaming frame may be submitted.
// Exactly one frame is accepted per interval window; the rest are
// dropped with no backlog and no reordering.
func (t *Throttler) Allow() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	if !t.lastAccepted.IsZero() && now.Sub(t.lastAccepted) < t.minInterval {
		t.dropped++
		return false
	}
	t.lastAccepted = now
	t.accepted++
	return true
}

// Interval returns the configured minimum interval
func (t *Throttler) Interval() time.Duration {
	return t.minInterval
}

// Stats returns the accepted and dropped frame counts
func (t *Throttler) Stats() (accepted, dropped uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.accepted, t.dropped
}

// SetClock replaces the time source; tests use this to step time
// deterministically
func (t *Throttler) SetClock(now func() time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.now = now
}
