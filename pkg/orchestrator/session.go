package orchestrator

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/altSeneca/HH-v0-clean-sub001/pkg/recommend"
	"github.com/altSeneca/HH-v0-clean-sub001/pkg/types"
)

// State is one step of the per-session state machine. Transitions are
// monotonic; a session never leaves a terminal state.
type State int

const (
	StateIdle State = iota
	StateSelectingBackends
	StateAnalyzing
	StateFusing
	StateRecommending
	StateComplete
	StateFailed
)

// String returns the state name
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSelectingBackends:
		return "selecting-backends"
	case StateAnalyzing:
		return "analyzing"
	case StateFusing:
		return "fusing"
	case StateRecommending:
		return "recommending"
	case StateComplete:
		return "complete"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether the state ends the session
func (s State) Terminal() bool {
	return s == StateComplete || s == StateFailed
}

// AnalysisSession is the unit of work the orchestrator hands back to
// callers: a correlation id, the fused hazards, the tag
// recommendations, and how the analysis got there. Immutable once it
// reaches a terminal state.
type AnalysisSession struct {
	id      string
	started time.Time

	mu              sync.Mutex
	state           State
	hazards         []types.FusedHazard
	recommendations []recommend.Recommendation
	autoSelect      map[string]struct{}
	degraded        bool
	chain           []string
	latency         time.Duration
	err             error
	done            chan struct{}
}

func newSession() *AnalysisSession {
	return &AnalysisSession{
		id:         uuid.NewString(),
		started:    time.Now(),
		state:      StateIdle,
		autoSelect: map[string]struct{}{},
		done:       make(chan struct{}),
	}
}

// ID returns the session correlation id
func (s *AnalysisSession) ID() string { return s.id }

// State returns the current session state
func (s *AnalysisSession) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Done is closed when the session reaches a terminal state. Streaming
// sessions resolve asynchronously through it.
func (s *AnalysisSession) Done() <-chan struct{} { return s.done }

// Err returns the terminal error, nil for completed sessions
func (s *AnalysisSession) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// FusedHazards returns the ranked fused hazard list
func (s *AnalysisSession) FusedHazards() []types.FusedHazard {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]types.FusedHazard(nil), s.hazards...)
}

// Recommendations returns the compliance-tag recommendation list
func (s *AnalysisSession) Recommendations() []recommend.Recommendation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]recommend.Recommendation(nil), s.recommendations...)
}

// AutoSelectTags returns the sorted ids of tags strong enough to be
// pre-selected without user action
func (s *AnalysisSession) AutoSelectTags() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.autoSelect))
	for id := range s.autoSelect {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Degraded reports whether the session completed on a
// lower-capability backend tier than preferred
func (s *AnalysisSession) Degraded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.degraded
}

// BackendChain returns the backend ids attempted, in order
func (s *AnalysisSession) BackendChain() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.chain...)
}

// Latency returns the total session latency once terminal
func (s *AnalysisSession) Latency() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.latency
}

// transition advances the state machine. Moves that would go backwards
// or leave a terminal state are ignored, keeping transitions monotonic.
func (s *AnalysisSession) transition(to State) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.Terminal() || to <= s.state {
		return false
	}
	s.state = to
	return true
}

// appendChain records an attempted backend
func (s *AnalysisSession) appendChain(backendID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.Terminal() {
		return
	}
	s.chain = append(s.chain, backendID)
}

// complete finalizes a successful session
func (s *AnalysisSession) complete(hazards []types.FusedHazard, recs []recommend.Recommendation, autoSelect map[string]struct{}, degraded bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.Terminal() {
		return
	}
	s.state = StateComplete
	s.hazards = hazards
	s.recommendations = recs
	if autoSelect != nil {
		s.autoSelect = autoSelect
	}
	s.degraded = degraded
	s.latency = time.Since(s.started)
	close(s.done)
}

// fail finalizes a failed session
func (s *AnalysisSession) fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.Terminal() {
		return
	}
	s.state = StateFailed
	s.err = err
	s.latency = time.Since(s.started)
	close(s.done)
}
