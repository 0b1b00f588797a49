// Package recommend converts fused hazards into compliance-tag
// recommendations via the hazard taxonomy.
package recommend

import (
	"sort"

	"github.com/altSeneca/HH-v0-clean-sub001/pkg/taxonomy"
	"github.com/altSeneca/HH-v0-clean-sub001/pkg/types"
)

// Reason explains why a tag was recommended
type Reason string

const (
	// ReasonAutoSelected tags are pre-selected without user action
	ReasonAutoSelected Reason = "AUTO_SELECTED"
	// ReasonSuggested tags are shown for the user to confirm
	ReasonSuggested Reason = "SUGGESTED"
)

// Recommendation pairs a compliance tag with the confidence that
// earned it. Produced once per session, immutable.
type Recommendation struct {
	Tag        taxonomy.ComplianceTag `json:"tag"`
	Confidence float64                `json:"confidence"`
	Reason     Reason                 `json:"reason"`
}

// Config holds the recommendation thresholds. The exact production
// tuning is an open question upstream, so both are configurable.
type Config struct {
	// AutoSelectThreshold marks tags AUTO_SELECTED at or above it
	AutoSelectThreshold float64
	// DisplayThreshold discards tags below it as noise
	DisplayThreshold float64
}

// DefaultConfig returns the default thresholds
func DefaultConfig() Config {
	return Config{
		AutoSelectThreshold: 0.80,
		DisplayThreshold:    0.40,
	}
}

// Engine maps fused hazards to tag recommendations
type Engine struct {
	cfg Config
	tax *taxonomy.Taxonomy
}

// New creates a recommendation engine with default thresholds
func New(tax *taxonomy.Taxonomy) *Engine {
	return NewWithConfig(tax, DefaultConfig())
}

// NewWithConfig creates a recommendation engine with custom thresholds
func NewWithConfig(tax *taxonomy.Taxonomy, cfg Config) *Engine {
	if cfg.AutoSelectThreshold <= 0 {
		cfg.AutoSelectThreshold = 0.80
	}
	if cfg.DisplayThreshold <= 0 {
		cfg.DisplayThreshold = 0.40
	}
	return &Engine{cfg: cfg, tax: tax}
}

// Recommend converts fused hazards into an ordered recommendation
// list plus the set of auto-selected tag ids.
//
// Multiple hazards mapping to the same tag are deduplicated, keeping
// the maximum contributing confidence. Output ordering is fully
// deterministic: auto-selected first, then descending confidence,
// then tag id.
func (e *Engine) Recommend(hazards []types.FusedHazard) ([]Recommendation, map[string]struct{}) {
	best := map[string]float64{}
	for _, hz := range hazards {
		if hz.Confidence < e.cfg.DisplayThreshold {
			continue // noise
		}
		for _, tag := range e.tax.TagsFor(hz.Type) {
			if hz.Confidence > best[tag.ID] {
				best[tag.ID] = hz.Confidence
			}
		}
	}

	autoSelect := make(map[string]struct{})
	out := make([]Recommendation, 0, len(best))
	for id, conf := range best {
		tag, ok := e.tax.Tag(id)
		if !ok {
			continue
		}
		reason := ReasonSuggested
		if conf >= e.cfg.AutoSelectThreshold {
			reason = ReasonAutoSelected
			autoSelect[id] = struct{}{}
		}
		out = append(out, Recommendation{Tag: tag, Confidence: conf, Reason: reason})
	}

	sort.Slice(out, func(i, j int) bool {
		ai := out[i].Reason == ReasonAutoSelected
		aj := out[j].Reason == ReasonAutoSelected
		if ai != aj {
			return ai
		}
		if out[i].Confidence != out[j].Confidence {
			return out[i].Confidence > out[j].Confidence
		}
		return out[i].Tag.ID < out[j].Tag.ID
	})

	return out, autoSelect
}
