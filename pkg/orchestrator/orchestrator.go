// Package orchestrator coordinates hazard analysis sessions across
// heterogeneous backends: selection by availability and cost, hybrid
// concurrent execution, retry and fallback on classified failures,
// and the per-session state machine from submission to a fused,
// tag-recommended result.
package orchestrator

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/altSeneca/HH-v0-clean-sub001/pkg/backend"
	"github.com/altSeneca/HH-v0-clean-sub001/pkg/fusion"
	"github.com/altSeneca/HH-v0-clean-sub001/pkg/recommend"
	"github.com/altSeneca/HH-v0-clean-sub001/pkg/throttle"
	"github.com/altSeneca/HH-v0-clean-sub001/pkg/types"
)

// ErrNoBackendAvailable terminates a session that found no backend to
// run. Callers should offer manual tagging when they see it.
var ErrNoBackendAvailable = errors.New("no analysis backend available")

// timeoutAnalyzer is implemented by backends that support a
// caller-chosen deadline; the orchestrator uses it for the single
// shorter-deadline retry after a remote timeout.
type timeoutAnalyzer interface {
	AnalyzeWithTimeout(ctx context.Context, img types.Image, timeout time.Duration) ([]types.HazardDetection, error)
}

// Options configures the orchestrator
type Options struct {
	// Backends in any order; preference is derived from cost class
	Backends []backend.Backend
	Fusion   *fusion.Engine
	// Recommender is required: sessions finish by mapping hazards to tags
	Recommender *recommend.Engine
	Throttler   *throttle.Throttler
	Health      *HealthTracker
	// Connectivity is the network-monitor collaborator, checked at
	// session start before considering remote backends; nil assumes online
	Connectivity func(ctx context.Context) bool
	Logger       *slog.Logger
	// Hybrid runs the preferred local backend and the remote backend
	// concurrently and fuses both result sets
	Hybrid bool
	// RetryTimeout bounds the single retry after a remote timeout
	RetryTimeout time.Duration
}

// Orchestrator is the top-level analysis coordinator
type Orchestrator struct {
	backends    []backend.Backend
	fusion      *fusion.Engine
	recommender *recommend.Engine
	throttler   *throttle.Throttler
	health      *HealthTracker
	online      func(ctx context.Context) bool
	log         *slog.Logger
	hybrid      bool
	retryTO     time.Duration

	slot *InferenceSlot

	mu            sync.Mutex
	streamCancel  context.CancelFunc
	streamOwner   string
	warmupPending map[string]bool
}

// New creates an orchestrator
func New(opts Options) *Orchestrator {
	if opts.Fusion == nil {
		opts.Fusion = fusion.New()
	}
	if opts.Throttler == nil {
		opts.Throttler = throttle.New()
	}
	if opts.Health == nil {
		opts.Health = NewHealthTracker()
	}
	if opts.Connectivity == nil {
		opts.Connectivity = func(context.Context) bool { return true }
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.RetryTimeout <= 0 {
		opts.RetryTimeout = 4 * time.Second
	}

	return &Orchestrator{
		backends:      opts.Backends,
		fusion:        opts.Fusion,
		recommender:   opts.Recommender,
		throttler:     opts.Throttler,
		health:        opts.Health,
		online:        opts.Connectivity,
		log:           opts.Logger,
		hybrid:        opts.Hybrid,
		retryTO:       opts.RetryTimeout,
		slot:          NewInferenceSlot(),
		warmupPending: map[string]bool{},
	}
}

// Health exposes the shared reliability tracker
func (o *Orchestrator) Health() *HealthTracker { return o.health }

// SubmitPhoto analyzes a captured photo. It bypasses the throttler,
// takes priority over streaming work, and always runs to completion
// or failure. The returned error is non-nil only for session
// failures: malformed input or no backend available.
func (o *Orchestrator) SubmitPhoto(ctx context.Context, img types.Image) (*AnalysisSession, error) {
	// A capture cancels any in-flight streaming analysis so it cannot
	// hold the device-local inference slot against us
	o.mu.Lock()
	if o.streamCancel != nil {
		o.streamCancel()
		o.streamCancel = nil
		o.streamOwner = ""
	}
	o.mu.Unlock()

	session := newSession()
	o.run(ctx, session, img, true)
	return session, session.Err()
}

// SubmitFrame submits one streaming frame. Frames arriving faster
// than the throttle interval are dropped and nil is returned; an
// accepted frame resolves asynchronously through the session's Done
// channel.
func (o *Orchestrator) SubmitFrame(ctx context.Context, img types.Image) *AnalysisSession {
	if !o.throttler.Allow() {
		return nil
	}

	session := newSession()
	sctx, cancel := context.WithCancel(ctx)
	o.mu.Lock()
	if o.streamCancel != nil {
		// Most recent frame wins; the superseded analysis is stale
		o.streamCancel()
	}
	o.streamCancel = cancel
	o.streamOwner = session.ID()
	o.mu.Unlock()

	go func() {
		defer cancel()
		o.run(sctx, session, img, false)
		// Clear the registration only if it is still ours: a superseded
		// session finishing late must not clobber its successor's cancel
		o.mu.Lock()
		if o.streamOwner == session.ID() {
			o.streamCancel = nil
			o.streamOwner = ""
		}
		o.mu.Unlock()
	}()
	return session
}

// run drives one session through the state machine
func (o *Orchestrator) run(ctx context.Context, session *AnalysisSession, img types.Image, capture bool) {
	log := o.log.With("session", session.ID(), "capture", capture)

	session.transition(StateSelectingBackends)
	candidates := o.selectBackends(ctx)
	if len(candidates) == 0 {
		log.Warn("no backend available")
		session.fail(ErrNoBackendAvailable)
		return
	}

	session.transition(StateAnalyzing)
	detections, succeeded, err := o.analyze(ctx, session, candidates, img, capture, log)
	if err != nil {
		session.fail(err)
		return
	}

	session.transition(StateFusing)
	fused := o.fusion.Fuse(detections)

	session.transition(StateRecommending)
	recs, autoSelect := o.recommender.Recommend(fused)

	session.complete(fused, recs, autoSelect, degradedOnly(succeeded))
	log.Info("session complete",
		"hazards", len(fused),
		"recommendations", len(recs),
		"degraded", degradedOnly(succeeded),
		"backends", len(succeeded))
}

// selectBackends orders the usable backends by preference: on-device
// multimodal, then remote (when online), then the lightweight local
// detector. Health-deprioritized backends drop to the back of the list.
func (o *Orchestrator) selectBackends(ctx context.Context) []backend.Backend {
	online := o.online(ctx)

	var out []backend.Backend
	for _, b := range o.backends {
		if b.Cost() == backend.RemoteMetered && !online {
			continue
		}
		if !b.Available(ctx) {
			continue
		}
		out = append(out, b)
	}

	sort.SliceStable(out, func(i, j int) bool {
		di, dj := o.health.Deprioritized(out[i].ID()), o.health.Deprioritized(out[j].ID())
		if di != dj {
			return !di
		}
		return tierRank(out[i].Cost()) < tierRank(out[j].Cost())
	})
	return out
}

// tierRank maps cost class to selection preference
func tierRank(c backend.CostClass) int {
	switch c {
	case backend.LocalCompute: // on-device multimodal
		return 0
	case backend.RemoteMetered:
		return 1
	default: // lightweight local detector
		return 2
	}
}

// analyze runs backend calls until at least one succeeds, in hybrid
// mode fanning out to the preferred local and remote tiers
// concurrently. It returns the pooled detections and the backends
// that produced them.
func (o *Orchestrator) analyze(ctx context.Context, session *AnalysisSession, candidates []backend.Backend, img types.Image, capture bool, log *slog.Logger) ([]types.HazardDetection, []backend.Backend, error) {
	var pool []types.HazardDetection
	var succeeded []backend.Backend

	rest := candidates
	if o.hybrid {
		if local, remote, others := splitHybridPair(candidates); local != nil && remote != nil {
			pair := []backend.Backend{local, remote}
			results := make([][]types.HazardDetection, len(pair))
			errs := make([]error, len(pair))

			var g errgroup.Group
			for i, b := range pair {
				g.Go(func() error {
					session.appendChain(b.ID())
					results[i], errs[i] = o.callBackend(ctx, b, img, capture, log)
					return nil
				})
			}
			g.Wait()

			for i, b := range pair {
				if errs[i] == nil {
					pool = append(pool, results[i]...)
					succeeded = append(succeeded, b)
					continue
				}
				// One of two hybrid backends failing is not an error;
				// fusion proceeds on the successful one
				if backend.KindOf(errs[i]) == backend.KindMalformedInput {
					return nil, nil, errs[i]
				}
				log.Warn("hybrid backend failed", "backend", b.ID(), "kind", backend.KindOf(errs[i]).String())
			}
			if len(succeeded) > 0 {
				return pool, succeeded, nil
			}
			rest = others
		}
	}

	for _, b := range rest {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}
		session.appendChain(b.ID())
		dets, err := o.callBackend(ctx, b, img, capture, log)
		if err == nil {
			return append(pool, dets...), append(succeeded, b), nil
		}
		if errors.Is(err, context.Canceled) {
			return nil, nil, err
		}
		if cerr := ctx.Err(); cerr != nil {
			// The session's own deadline expired; that is the caller's
			// verdict, not a missing backend
			return nil, nil, cerr
		}
		if backend.KindOf(err) == backend.KindMalformedInput {
			// Other backends would fail on the same image; no fallback
			return nil, nil, err
		}
		log.Warn("backend failed, falling through", "backend", b.ID(), "kind", backend.KindOf(err).String())
	}

	if len(succeeded) > 0 {
		return pool, succeeded, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	return nil, nil, ErrNoBackendAvailable
}

// splitHybridPair picks the preferred local backend and the remote
// backend for hybrid fan-out, returning the leftovers as fallbacks
func splitHybridPair(candidates []backend.Backend) (local, remote backend.Backend, others []backend.Backend) {
	for _, b := range candidates {
		switch {
		case b.Cost() != backend.RemoteMetered && local == nil:
			local = b
		case b.Cost() == backend.RemoteMetered && remote == nil:
			remote = b
		default:
			others = append(others, b)
		}
	}
	return local, remote, others
}

// callBackend runs one backend call with slot discipline, health
// accounting, and per-kind retry policy
func (o *Orchestrator) callBackend(ctx context.Context, b backend.Backend, img types.Image, capture bool, log *slog.Logger) ([]types.HazardDetection, error) {
	// The on-device inference context is exclusive; remote calls are
	// bounded by the adapter's own concurrency cap instead
	if b.Cost() != backend.RemoteMetered {
		release, err := o.slot.Acquire(ctx, capture)
		if err != nil {
			return nil, err
		}
		defer release()
	}

	dets, err := o.timedCall(ctx, b, img, 0)
	if err == nil {
		return dets, nil
	}
	if errors.Is(err, context.Canceled) {
		return nil, err
	}

	switch backend.KindOf(err) {
	case backend.KindTimeout:
		// A remote timeout or transient network error is retried once
		// with a shorter timeout before falling back
		if b.Cost() == backend.RemoteMetered {
			log.Debug("retrying remote backend with shorter timeout", "backend", b.ID())
			dets, err = o.timedCall(ctx, b, img, o.retryTO)
			if err == nil {
				return dets, nil
			}
		}
	case backend.KindModelNotLoaded:
		// Not retried this session; reload in the background for
		// future sessions
		o.scheduleWarmup(b)
	}
	return nil, err
}

// timedCall executes one Analyze call and records its health outcome.
// Cancelled-before-completion calls are excluded from accounting.
func (o *Orchestrator) timedCall(ctx context.Context, b backend.Backend, img types.Image, overrideTimeout time.Duration) ([]types.HazardDetection, error) {
	start := time.Now()

	var dets []types.HazardDetection
	var err error
	if overrideTimeout > 0 {
		if ta, ok := b.(timeoutAnalyzer); ok {
			dets, err = ta.AnalyzeWithTimeout(ctx, img, overrideTimeout)
		} else {
			dets, err = b.Analyze(ctx, img)
		}
	} else {
		dets, err = b.Analyze(ctx, img)
	}

	if !errors.Is(err, context.Canceled) {
		o.health.Record(b.ID(), err == nil, time.Since(start))
	}
	return dets, err
}

// scheduleWarmup kicks off one background model reload attempt for
// future sessions
func (o *Orchestrator) scheduleWarmup(b backend.Backend) {
	w, ok := b.(backend.Warmer)
	if !ok {
		return
	}

	o.mu.Lock()
	if o.warmupPending[b.ID()] {
		o.mu.Unlock()
		return
	}
	o.warmupPending[b.ID()] = true
	o.mu.Unlock()

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()
		if err := w.Warmup(ctx); err != nil {
			o.log.Warn("background model reload failed", "backend", b.ID(), "error", err)
		} else {
			o.log.Info("background model reload succeeded", "backend", b.ID())
		}
		o.mu.Lock()
		delete(o.warmupPending, b.ID())
		o.mu.Unlock()
	}()
}

// degradedOnly reports whether every backend that produced results is
// the lightweight local tier
func degradedOnly(succeeded []backend.Backend) bool {
	if len(succeeded) == 0 {
		return false
	}
	for _, b := range succeeded {
		if b.Cost() != backend.LocalFree {
			return false
		}
	}
	return true
}
