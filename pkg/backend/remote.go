package backend

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/altSeneca/HH-v0-clean-sub001/pkg/imageprep"
	"github.com/altSeneca/HH-v0-clean-sub001/pkg/types"
)

// RemoteConfig configures the remote vision service adapter
type RemoteConfig struct {
	BaseURL string
	// APIKey authorizes requests; empty means unconfigured
	APIKey  string
	Timeout time.Duration
	// MaxConcurrent caps in-flight remote calls, default 3
	MaxConcurrent int64
	// MaxDim downscales the long image side before upload, default 1280
	MaxDim int
	// Hazards the service is asked to look for
	Hazards []string
}

// RemoteBackend calls a metered cloud vision service. Unlike the
// local tiers it runs concurrently, bounded by a semaphore rather
// than the exclusive inference slot.
type RemoteBackend struct {
	id         string
	baseURL    string
	apiKey     string
	timeout    time.Duration
	maxDim     int
	hazards    []string
	proc       *imageprep.Processor
	httpClient *http.Client
	sem        *semaphore.Weighted
}

// analyzeRequest is the wire format sent to the service
type analyzeRequest struct {
	Image      string   `json:"image"`
	Categories []string `json:"categories,omitempty"`
}

// analyzeResponse is the wire format returned by the service
type analyzeResponse struct {
	Hazards []struct {
		Type       string    `json:"type"`
		Confidence float64   `json:"confidence"`
		Box        types.Box `json:"box"`
	} `json:"hazards"`
}

// NewRemote creates the remote vision service adapter
func NewRemote(cfg RemoteConfig) *RemoteBackend {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 8 * time.Second
	}
	maxConc := cfg.MaxConcurrent
	if maxConc <= 0 {
		maxConc = 3
	}
	maxDim := cfg.MaxDim
	if maxDim <= 0 {
		maxDim = 1280
	}

	return &RemoteBackend{
		id:      "remote-vision",
		baseURL: strings.TrimSuffix(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		timeout: timeout,
		maxDim:  maxDim,
		hazards: cfg.Hazards,
		proc:    imageprep.NewProcessor(),
		httpClient: &http.Client{
			Timeout: timeout + time.Second,
		},
		sem: semaphore.NewWeighted(maxConc),
	}
}

// ID implements Backend
func (b *RemoteBackend) ID() string { return b.id }

// Cost implements Backend
func (b *RemoteBackend) Cost() CostClass { return RemoteMetered }

// Capabilities implements Backend
func (b *RemoteBackend) Capabilities() []string { return b.hazards }

// Available reports whether the adapter is configured. Connectivity
// is the orchestrator's call to make, via its network monitor.
func (b *RemoteBackend) Available(ctx context.Context) bool {
	return b.baseURL != "" && b.apiKey != ""
}

// Analyze implements Backend
func (b *RemoteBackend) Analyze(ctx context.Context, img types.Image) ([]types.HazardDetection, error) {
	return b.analyze(ctx, img, b.timeout)
}

// AnalyzeWithTimeout runs one call under a caller-chosen deadline.
// The orchestrator uses a shorter deadline for its single retry after
// a timeout.
func (b *RemoteBackend) AnalyzeWithTimeout(ctx context.Context, img types.Image, timeout time.Duration) ([]types.HazardDetection, error) {
	return b.analyze(ctx, img, timeout)
}

// encodeImage prepares the upload payload, downscaling the long side
// to the configured limit so metered calls never ship full-resolution
// captures. Frames we cannot re-encode are sent as-is; the service may
// still accept formats this process cannot decode.
func (b *RemoteBackend) encodeImage(img types.Image) string {
	if decoded, err := b.proc.DecodeBytes(img.Data); err == nil {
		if s, err := b.proc.EncodeBase64(decoded, "jpg", b.maxDim, 85); err == nil {
			return s
		}
	}
	return base64.StdEncoding.EncodeToString(img.Data)
}

func (b *RemoteBackend) analyze(ctx context.Context, img types.Image, timeout time.Duration) ([]types.HazardDetection, error) {
	if len(img.Data) == 0 {
		return nil, NewError(KindMalformedInput, b.id, fmt.Errorf("empty image"))
	}
	if !b.Available(ctx) {
		return nil, NewError(KindUnavailable, b.id, fmt.Errorf("remote backend not configured"))
	}

	if err := b.sem.Acquire(ctx, 1); err != nil {
		if cerr := classifyCtxErr(ctx, b.id, err); cerr != nil {
			return nil, cerr
		}
		return nil, NewError(KindUnavailable, b.id, err)
	}
	defer b.sem.Release(1)

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	reqBody := analyzeRequest{
		Image:      b.encodeImage(img),
		Categories: b.hazards,
	}
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return nil, NewError(KindUnavailable, b.id, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+"/v1/analyze", bytes.NewReader(payload))
	if err != nil {
		return nil, NewError(KindUnavailable, b.id, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+b.apiKey)

	resp, err := b.httpClient.Do(req)
	if err != nil {
		if cerr := classifyCtxErr(ctx, b.id, err); cerr != nil {
			return nil, cerr
		}
		return nil, NewError(KindUnavailable, b.id, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusUnauthorized, http.StatusForbidden:
		return nil, NewError(KindUnauthorized, b.id, fmt.Errorf("HTTP %d", resp.StatusCode))
	case http.StatusTooManyRequests:
		return nil, NewError(KindRateLimited, b.id, fmt.Errorf("HTTP %d", resp.StatusCode))
	case http.StatusBadRequest, http.StatusUnsupportedMediaType:
		return nil, NewError(KindMalformedInput, b.id, fmt.Errorf("HTTP %d", resp.StatusCode))
	default:
		return nil, NewError(KindUnavailable, b.id, fmt.Errorf("HTTP %d %s", resp.StatusCode, resp.Status))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, NewError(KindUnavailable, b.id, err)
	}

	var parsed analyzeResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, NewError(KindUnavailable, b.id, fmt.Errorf("failed to parse response: %w", err))
	}

	out := make([]types.HazardDetection, 0, len(parsed.Hazards))
	for _, h := range parsed.Hazards {
		if h.Confidence <= 0 {
			continue
		}
		if h.Confidence > 1 {
			h.Confidence = 1
		}
		out = append(out, types.HazardDetection{
			Type:       strings.ToUpper(strings.TrimSpace(h.Type)),
			Confidence: h.Confidence,
			Box:        h.Box.Clamp(),
			Backend:    b.id,
			At:         img.CapturedAt,
		})
	}
	return out, nil
}
