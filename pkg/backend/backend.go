// Package backend defines the uniform contract every analysis engine
// is wrapped behind, plus the adapters for the three supported tiers:
// an on-device multimodal model served by Ollama, a lightweight local
// ONNX detector, and a remote vision service.
//
// Adapters convert raw engine errors into classified Error values at
// this boundary so the orchestrator can apply differentiated
// retry/fallback policy without ever seeing engine-specific failures.
package backend

import (
	"context"
	"errors"
	"fmt"

	"github.com/altSeneca/HH-v0-clean-sub001/pkg/types"
)

// CostClass describes what running a backend costs
type CostClass int

const (
	// LocalFree backends run on already-loaded local models
	LocalFree CostClass = iota
	// LocalCompute backends consume significant on-device compute
	LocalCompute
	// RemoteMetered backends bill per call and need connectivity
	RemoteMetered
)

// String returns the lowercase cost class name
func (c CostClass) String() string {
	switch c {
	case RemoteMetered:
		return "remote-metered"
	case LocalCompute:
		return "local-compute"
	default:
		return "local-free"
	}
}

// Backend wraps one analysis engine behind a uniform contract.
// Analyze is bounded by a per-tier timeout owned by the adapter;
// Available must be a cheap check suitable for per-session selection.
type Backend interface {
	ID() string
	Analyze(ctx context.Context, img types.Image) ([]types.HazardDetection, error)
	Available(ctx context.Context) bool
	Cost() CostClass
	Capabilities() []string
}

// Warmer is implemented by backends that can reload their model after
// a load failure. The orchestrator schedules a background warmup for
// future sessions instead of retrying in-session.
type Warmer interface {
	Warmup(ctx context.Context) error
}

// ErrorKind classifies a backend failure for retry/fallback policy
type ErrorKind int

const (
	// KindUnknown covers unclassified failures; treated as unavailable
	KindUnknown ErrorKind = iota
	// KindUnavailable means the backend cannot serve this session
	KindUnavailable
	// KindModelNotLoaded means a local model failed to load; never
	// retried in-session, warmup scheduled for future sessions
	KindModelNotLoaded
	// KindTimeout means the call hit its deadline; remote timeouts are
	// retried once with a shorter deadline
	KindTimeout
	// KindMalformedInput means the image itself is unusable; fatal for
	// the session since other backends would fail identically
	KindMalformedInput
	// KindUnauthorized means the remote service rejected credentials
	KindUnauthorized
	// KindRateLimited means the remote service is throttling us
	KindRateLimited
)

// String returns the lowercase error kind name
func (k ErrorKind) String() string {
	switch k {
	case KindUnavailable:
		return "unavailable"
	case KindModelNotLoaded:
		return "model-not-loaded"
	case KindTimeout:
		return "timeout"
	case KindMalformedInput:
		return "malformed-input"
	case KindUnauthorized:
		return "unauthorized"
	case KindRateLimited:
		return "rate-limited"
	default:
		return "unknown"
	}
}

// Error is a classified backend failure
type Error struct {
	Kind    ErrorKind
	Backend string
	Err     error
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("backend %s: %s", e.Backend, e.Kind)
	}
	return fmt.Sprintf("backend %s: %s: %v", e.Backend, e.Kind, e.Err)
}

// Unwrap exposes the underlying error
func (e *Error) Unwrap() error { return e.Err }

// NewError wraps err as a classified backend failure
func NewError(kind ErrorKind, backendID string, err error) *Error {
	return &Error{Kind: kind, Backend: backendID, Err: err}
}

// KindOf extracts the error kind from err, or KindUnknown
func KindOf(err error) ErrorKind {
	var be *Error
	if errors.As(err, &be) {
		return be.Kind
	}
	return KindUnknown
}

// classifyCtxErr converts context termination into a classified error,
// distinguishing a definitive timeout from a caller cancellation.
// Cancellations are returned unwrapped so the orchestrator can exclude
// them from health accounting.
func classifyCtxErr(ctx context.Context, backendID string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(ctx.Err(), context.Canceled) {
		return context.Canceled
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return NewError(KindTimeout, backendID, err)
	}
	return nil
}
