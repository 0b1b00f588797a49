// Package fusion merges detections from one or more analysis backends
// into a single confidence-ranked hazard list.
//
// The fusion rule deliberately favors cross-backend confirmation over
// a naive max-confidence rule: aggregate confidence is a reliability-
// weighted average boosted by cluster size, so a single weak source
// cannot yield a high aggregate on its own.
package fusion

import (
	"sort"

	"github.com/altSeneca/HH-v0-clean-sub001/pkg/types"
)

// Config holds the fusion tuning knobs. All values are configurable
// defaults, not fixed constants.
type Config struct {
	// IoUThreshold is the spatial overlap above which detections of the
	// same type count as the same physical hazard
	IoUThreshold float64
	// Weights maps backend id to its fixed reliability weight;
	// unlisted backends weigh 1.0
	Weights map[string]float64
	// AgreementBoost scales the multi-source bonus:
	// aggregate = min(1, weightedAvg * (1 + AgreementBoost*(n-1)))
	AgreementBoost float64
	// SeverityOf ranks a hazard type for tie-breaking; nil means
	// everything ranks medium
	SeverityOf func(hazardType string) types.Severity
}

// DefaultWeights returns the default per-backend reliability weights
func DefaultWeights() map[string]float64 {
	return map[string]float64{
		"ollama-multimodal": 1.0,
		"remote-vision":     1.2,
		"onnx-lite":         0.7,
	}
}

// DefaultConfig returns the default fusion configuration
func DefaultConfig() Config {
	return Config{
		IoUThreshold:   0.3,
		Weights:        DefaultWeights(),
		AgreementBoost: 0.1,
	}
}

// Engine merges and deduplicates detections into fused hazards
type Engine struct {
	cfg Config
}

// New creates a fusion engine with the default configuration
func New() *Engine {
	return NewWithConfig(DefaultConfig())
}

// NewWithConfig creates a fusion engine with custom configuration
func NewWithConfig(cfg Config) *Engine {
	if cfg.IoUThreshold <= 0 {
		cfg.IoUThreshold = 0.3
	}
	if cfg.AgreementBoost < 0 {
		cfg.AgreementBoost = 0
	}
	if cfg.Weights == nil {
		cfg.Weights = DefaultWeights()
	}
	return &Engine{cfg: cfg}
}

// cluster is a group of detections believed to be one physical hazard
type cluster struct {
	hazardType string
	members    []types.HazardDetection
	box        types.Box // running union of member boxes
}

// Fuse merges detections from all backends that ran for a session
// into a ranked fused hazard list. Zero detections yield an empty
// list; a clear result is valid, not an error.
//
// The input is canonically sorted before clustering, so permuting the
// per-backend result lists produces an identical output, and re-running
// on the same set is idempotent.
func (e *Engine) Fuse(detections []types.HazardDetection) []types.FusedHazard {
	if len(detections) == 0 {
		return []types.FusedHazard{}
	}

	sorted := make([]types.HazardDetection, len(detections))
	copy(sorted, detections)
	sort.Slice(sorted, func(i, j int) bool { return lessDetection(sorted[i], sorted[j]) })

	// Greedy clustering over the canonical order: a detection joins
	// the first existing cluster of its type it overlaps enough with.
	var clusters []*cluster
	for _, d := range sorted {
		d.Box = d.Box.Clamp()
		joined := false
		for _, c := range clusters {
			if c.hazardType != d.Type {
				continue
			}
			if c.box.IoU(d.Box) >= e.cfg.IoUThreshold || anyOverlap(c.members, d.Box, e.cfg.IoUThreshold) {
				c.members = append(c.members, d)
				c.box = union(c.box, d.Box)
				joined = true
				break
			}
		}
		if !joined {
			clusters = append(clusters, &cluster{
				hazardType: d.Type,
				members:    []types.HazardDetection{d},
				box:        d.Box,
			})
		}
	}

	out := make([]types.FusedHazard, 0, len(clusters))
	for _, c := range clusters {
		out = append(out, e.fuseCluster(c))
	}

	sort.Slice(out, func(i, j int) bool { return lessFused(out[i], out[j]) })
	return out
}

// fuseCluster computes the aggregate confidence and metadata for one cluster
func (e *Engine) fuseCluster(c *cluster) types.FusedHazard {
	var weightedSum, weightTotal float64
	sourceSet := map[string]struct{}{}
	for _, m := range c.members {
		w := e.weight(m.Backend)
		weightedSum += m.Confidence * w
		weightTotal += w
		sourceSet[m.Backend] = struct{}{}
	}

	var confidence float64
	if len(c.members) == 1 {
		// Singletons retain their own confidence scaled by their
		// backend's weight
		confidence = c.members[0].Confidence * e.weight(c.members[0].Backend)
	} else {
		avg := weightedSum / weightTotal
		confidence = avg * (1 + e.cfg.AgreementBoost*float64(len(c.members)-1))
	}
	if confidence > 1 {
		confidence = 1
	}
	if confidence < 0 {
		confidence = 0
	}

	sources := make([]string, 0, len(sourceSet))
	for s := range sourceSet {
		sources = append(sources, s)
	}
	sort.Strings(sources)

	severity := types.SeverityMedium
	if e.cfg.SeverityOf != nil {
		severity = e.cfg.SeverityOf(c.hazardType)
	}

	return types.FusedHazard{
		Type:       c.hazardType,
		Confidence: confidence,
		Severity:   severity,
		Box:        c.box,
		Sources:    sources,
	}
}

func (e *Engine) weight(backendID string) float64 {
	if w, ok := e.cfg.Weights[backendID]; ok && w > 0 {
		return w
	}
	return 1.0
}

// anyOverlap reports whether the box overlaps any cluster member
// enough, catching members the union box has diluted
func anyOverlap(members []types.HazardDetection, b types.Box, threshold float64) bool {
	for _, m := range members {
		if m.Box.IoU(b) >= threshold {
			return true
		}
	}
	return false
}

// union returns the smallest box covering both inputs
func union(a, b types.Box) types.Box {
	x0 := a.X
	if b.X < x0 {
		x0 = b.X
	}
	y0 := a.Y
	if b.Y < y0 {
		y0 = b.Y
	}
	x1 := a.X + a.W
	if v := b.X + b.W; v > x1 {
		x1 = v
	}
	y1 := a.Y + a.H
	if v := b.Y + b.H; v > y1 {
		y1 = v
	}
	return types.Box{X: x0, Y: y0, W: x1 - x0, H: y1 - y0}
}

// lessDetection is the canonical detection ordering used before
// clustering; it is a total order so fusion is input-order independent
func lessDetection(a, b types.HazardDetection) bool {
	if a.Type != b.Type {
		return a.Type < b.Type
	}
	if a.Confidence != b.Confidence {
		return a.Confidence > b.Confidence
	}
	if a.Backend != b.Backend {
		return a.Backend < b.Backend
	}
	if a.Box.X != b.Box.X {
		return a.Box.X < b.Box.X
	}
	if a.Box.Y != b.Box.Y {
		return a.Box.Y < b.Box.Y
	}
	if a.Box.W != b.Box.W {
		return a.Box.W < b.Box.W
	}
	return a.Box.H < b.Box.H
}

// lessFused orders the output: confidence descending, then severity
// (critical first), then type for a stable total order
func lessFused(a, b types.FusedHazard) bool {
	if a.Confidence != b.Confidence {
		return a.Confidence > b.Confidence
	}
	if a.Severity != b.Severity {
		return a.Severity > b.Severity
	}
	return a.Type < b.Type
}
