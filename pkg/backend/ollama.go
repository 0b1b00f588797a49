package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/ollama/ollama/api"

	"github.com/altSeneca/HH-v0-clean-sub001/pkg/types"
)

// hazardPrompt instructs the multimodal model to return detections as
// strict JSON with normalized boxes, limited to the listed hazard types.
const hazardPrompt = `You are a construction-site safety inspector.

Examine the photo for the following hazard types:
%s

Return JSON only:
{
  "hazards": [
    {"type": "HAZARD_TYPE", "confidence": 0.0, "box": {"x": 0.0, "y": 0.0, "w": 0.0, "h": 0.0}}
  ]
}

HARD RULES
- All coordinates are normalized to [0,1] (NOT pixels).
- Only use hazard types from the list above.
- confidence reflects how certain you are the hazard is present (0 to 1).
- The box should tightly cover the hazard location.
- If the scene is safe, return {"hazards": []}.
- JSON only. No markdown, no code fences, no comments, no trailing commas.`

// OllamaConfig configures the on-device multimodal adapter
type OllamaConfig struct {
	URL     string
	Model   string
	Timeout time.Duration
	// Hazards the model is asked to look for
	Hazards []string
}

// OllamaBackend analyzes images with a locally served multimodal
// model. It is the preferred tier: private, offline, zero marginal cost.
type OllamaBackend struct {
	id      string
	client  *api.Client
	model   string
	timeout time.Duration
	hazards []string
}

// modelResponse is the JSON shape the prompt demands
type modelResponse struct {
	Hazards []struct {
		Type       string    `json:"type"`
		Confidence float64   `json:"confidence"`
		Box        types.Box `json:"box"`
	} `json:"hazards"`
}

// NewOllama creates the on-device multimodal backend adapter
func NewOllama(cfg OllamaConfig) (*OllamaBackend, error) {
	parsedURL, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %v", err)
	}

	baseURL := &url.URL{
		Scheme: parsedURL.Scheme,
		Host:   parsedURL.Host,
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}

	return &OllamaBackend{
		id:      "ollama-multimodal",
		client:  api.NewClient(baseURL, http.DefaultClient),
		model:   cfg.Model,
		timeout: timeout,
		hazards: cfg.Hazards,
	}, nil
}

// ID implements Backend
func (b *OllamaBackend) ID() string { return b.id }

// Cost implements Backend
func (b *OllamaBackend) Cost() CostClass { return LocalCompute }

// Capabilities implements Backend
func (b *OllamaBackend) Capabilities() []string { return b.hazards }

// Available checks the local server with a short heartbeat
func (b *OllamaBackend) Available(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 500*time.Millisecond)
	defer cancel()
	return b.client.Heartbeat(ctx) == nil
}

// Warmup asks the server to load the model so future sessions can use
// it. Called by the orchestrator in the background after a load failure.
func (b *OllamaBackend) Warmup(ctx context.Context) error {
	streamFalse := false
	req := &api.GenerateRequest{Model: b.model, Stream: &streamFalse}
	return b.client.Generate(ctx, req, func(api.GenerateResponse) error { return nil })
}

// Analyze implements Backend
func (b *OllamaBackend) Analyze(ctx context.Context, img types.Image) ([]types.HazardDetection, error) {
	if len(img.Data) == 0 {
		return nil, NewError(KindMalformedInput, b.id, fmt.Errorf("empty image"))
	}

	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	prompt := fmt.Sprintf(hazardPrompt, strings.Join(b.hazards, "\n"))
	streamFalse := false
	req := &api.ChatRequest{
		Model: b.model,
		Messages: []api.Message{
			{
				Role:    "user",
				Content: prompt,
				Images:  []api.ImageData{api.ImageData(img.Data)},
			},
		},
		Stream: &streamFalse,
		Options: map[string]any{
			"temperature": 0.1,
		},
	}

	var responseContent string
	err := b.client.Chat(ctx, req, func(resp api.ChatResponse) error {
		responseContent = resp.Message.Content
		return nil
	})
	if err != nil {
		if cerr := classifyCtxErr(ctx, b.id, err); cerr != nil {
			return nil, cerr
		}
		if strings.Contains(err.Error(), "not found") {
			return nil, NewError(KindModelNotLoaded, b.id, err)
		}
		return nil, NewError(KindUnavailable, b.id, err)
	}

	return b.parseDetections(responseContent, img.CapturedAt), nil
}

// parseDetections extracts hazard detections from the model output.
// A non-JSON or unparsable response yields an empty list rather than
// an error: an unsure model is a clear result, not a failure.
func (b *OllamaBackend) parseDetections(raw string, at time.Time) []types.HazardDetection {
	raw = sanitizeModelJSON(raw)
	if !strings.HasPrefix(strings.TrimSpace(raw), "{") {
		return nil
	}

	var resp modelResponse
	if err := json.Unmarshal([]byte(raw), &resp); err != nil {
		return nil
	}

	known := make(map[string]struct{}, len(b.hazards))
	for _, h := range b.hazards {
		known[h] = struct{}{}
	}

	out := make([]types.HazardDetection, 0, len(resp.Hazards))
	for _, h := range resp.Hazards {
		t := strings.ToUpper(strings.TrimSpace(h.Type))
		if len(known) > 0 {
			if _, ok := known[t]; !ok {
				continue
			}
		}
		if h.Confidence <= 0 {
			continue
		}
		if h.Confidence > 1 {
			h.Confidence = 1
		}
		out = append(out, types.HazardDetection{
			Type:       t,
			Confidence: h.Confidence,
			Box:        h.Box.Clamp(),
			Backend:    b.id,
			At:         at,
		})
	}
	return out
}

// sanitizeModelJSON removes code fences, comments, and trailing commas
// from a model's JSON response
func sanitizeModelJSON(raw string) string {
	raw = strings.TrimSpace(raw)

	// Strip triple-backtick fences if present
	if strings.HasPrefix(raw, "```") {
		if i := strings.Index(raw, "\n"); i >= 0 {
			raw = raw[i+1:]
		}
		if j := strings.LastIndex(raw, "```"); j >= 0 {
			raw = raw[:j]
		}
	}
	raw = strings.TrimSpace(raw)
	raw = strings.Trim(raw, "`")

	// Remove /* ... */ block comments
	reBlock := regexp.MustCompile(`(?s)/\*.*?\*/`)
	raw = reBlock.ReplaceAllString(raw, "")

	// Remove // line/inline comments
	reLine := regexp.MustCompile(`(?m)^\s*//.*$`)
	raw = reLine.ReplaceAllString(raw, "")

	// Remove trailing commas before } or ]
	reTrailing := regexp.MustCompile(`,(\s*[}\]])`)
	raw = reTrailing.ReplaceAllString(raw, "$1")

	// Keep only the outermost {...}
	if start := strings.Index(raw, "{"); start >= 0 {
		if end := strings.LastIndex(raw, "}"); end > start {
			raw = raw[start : end+1]
		}
	}
	return strings.TrimSpace(raw)
}
