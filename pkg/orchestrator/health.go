package orchestrator

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"
)

const (
	defaultHealthWindow   = 20
	defaultHealthCooldown = 5 * time.Minute
	// minHealthSamples avoids deprioritizing a backend on its first
	// bad call of a fresh window
	minHealthSamples = 4
)

// backendHealth is the rolling record for one backend
type backendHealth struct {
	outcomes    []bool // ring buffer, len == window when full
	next        int
	filled      bool
	latencySum  time.Duration
	latencyN    int
	lastFailure time.Time
	cooldownEnd time.Time
}

// HealthRecord is the persisted per-backend reliability snapshot
type HealthRecord struct {
	BackendID          string  `json:"backendId"`
	RollingSuccessRate float64 `json:"rollingSuccessRate"`
	LastFailureAtMs    int64   `json:"lastFailureAtMillis"`
}

// HealthTracker keeps per-backend rolling reliability statistics.
// It is the only state shared across sessions; all access goes through
// its mutex so concurrent hybrid or batch sessions cannot corrupt it.
// Reset exists to keep tests from leaking state into each other.
type HealthTracker struct {
	mu       sync.Mutex
	window   int
	cooldown time.Duration
	byID     map[string]*backendHealth
	now      func() time.Time
}

// NewHealthTracker creates a tracker with the default 20-call window
// and 5 minute deprioritization cooldown
func NewHealthTracker() *HealthTracker {
	return NewHealthTrackerWith(defaultHealthWindow, defaultHealthCooldown)
}

// NewHealthTrackerWith creates a tracker with a custom window and cooldown
func NewHealthTrackerWith(window int, cooldown time.Duration) *HealthTracker {
	if window <= 0 {
		window = defaultHealthWindow
	}
	if cooldown <= 0 {
		cooldown = defaultHealthCooldown
	}
	return &HealthTracker{
		window:   window,
		cooldown: cooldown,
		byID:     map[string]*backendHealth{},
		now:      time.Now,
	}
}

// Record adds one completed call outcome. Callers must not record
// cancelled in-flight calls; only calls that ran to completion or
// definitive timeout count.
func (t *HealthTracker) Record(backendID string, ok bool, latency time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()

	h := t.byID[backendID]
	if h == nil {
		h = &backendHealth{outcomes: make([]bool, t.window)}
		t.byID[backendID] = h
	}

	h.outcomes[h.next] = ok
	h.next++
	if h.next == t.window {
		h.next = 0
		h.filled = true
	}

	h.latencySum += latency
	h.latencyN++

	if !ok {
		h.lastFailure = t.now()
		if rate, n := h.rate(t.window); n >= minHealthSamples && rate < 0.5 {
			h.cooldownEnd = t.now().Add(t.cooldown)
		}
	}
}

// rate returns the rolling success rate and sample count
func (h *backendHealth) rate(window int) (float64, int) {
	n := h.next
	if h.filled {
		n = window
	}
	if n == 0 {
		return 1.0, 0
	}
	ok := 0
	for i := 0; i < n; i++ {
		if h.outcomes[i] {
			ok++
		}
	}
	return float64(ok) / float64(n), n
}

// SuccessRate returns the rolling success rate for a backend; a
// backend with no recorded calls rates 1.0
func (t *HealthTracker) SuccessRate(backendID string) float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	h := t.byID[backendID]
	if h == nil {
		return 1.0
	}
	rate, _ := h.rate(t.window)
	return rate
}

// AvgLatency returns the average completed-call latency
func (t *HealthTracker) AvgLatency(backendID string) time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	h := t.byID[backendID]
	if h == nil || h.latencyN == 0 {
		return 0
	}
	return h.latencySum / time.Duration(h.latencyN)
}

// Deprioritized reports whether a backend should be moved to the back
// of its preference tier
func (t *HealthTracker) Deprioritized(backendID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	h := t.byID[backendID]
	if h == nil {
		return false
	}
	return t.now().Before(h.cooldownEnd)
}

// Reset drops all recorded state
func (t *HealthTracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.byID = map[string]*backendHealth{}
}

// Snapshot returns the persistable per-backend records
func (t *HealthTracker) Snapshot() []HealthRecord {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]HealthRecord, 0, len(t.byID))
	for id, h := range t.byID {
		rate, _ := h.rate(t.window)
		rec := HealthRecord{BackendID: id, RollingSuccessRate: rate}
		if !h.lastFailure.IsZero() {
			rec.LastFailureAtMs = h.lastFailure.UnixMilli()
		}
		out = append(out, rec)
	}
	return out
}

// Save writes the health records for cross-restart reliability tracking
func (t *HealthTracker) Save(path string) error {
	data, err := json.MarshalIndent(t.Snapshot(), "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal health records: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write health file: %w", err)
	}
	return nil
}

// Load restores persisted records. Restored rates seed the window as
// a single synthetic sample so fresh calls quickly dominate.
func (t *HealthTracker) Load(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read health file: %w", err)
	}

	var records []HealthRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return fmt.Errorf("failed to parse health file: %w", err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	for _, rec := range records {
		h := &backendHealth{outcomes: make([]bool, t.window)}
		h.outcomes[0] = rec.RollingSuccessRate >= 0.5
		h.next = 1
		if rec.LastFailureAtMs > 0 {
			h.lastFailure = time.UnixMilli(rec.LastFailureAtMs)
		}
		t.byID[rec.BackendID] = h
	}
	return nil
}

// setClock replaces the time source for tests
func (t *HealthTracker) setClock(now func() time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.now = now
}
