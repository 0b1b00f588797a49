package recommend

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/altSeneca/HH-v0-clean-sub001/pkg/taxonomy"
	"github.com/altSeneca/HH-v0-clean-sub001/pkg/types"
)

func hazard(hazardType string, conf float64) types.FusedHazard {
	return types.FusedHazard{Type: hazardType, Confidence: conf}
}

func TestRecommendThresholds(t *testing.T) {
	engine := New(taxonomy.Default())

	recs, auto := engine.Recommend([]types.FusedHazard{
		hazard("MISSING_HARD_HAT", 0.92), // auto-select
		hazard("EXPOSED_WIRING", 0.55),   // suggested
		hazard("DEBRIS_CLUTTER", 0.25),   // below display threshold
	})

	require.Len(t, recs, 2)

	assert.Equal(t, "ppe-hard-hat-required", recs[0].Tag.ID)
	assert.Equal(t, ReasonAutoSelected, recs[0].Reason)
	assert.Equal(t, "electrical-hazard", recs[1].Tag.ID)
	assert.Equal(t, ReasonSuggested, recs[1].Reason)

	_, ok := auto["ppe-hard-hat-required"]
	assert.True(t, ok)
	assert.Len(t, auto, 1)
}

func TestRecommendBoundaryValues(t *testing.T) {
	engine := New(taxonomy.Default())

	// Exactly at a threshold counts as meeting it
	recs, auto := engine.Recommend([]types.FusedHazard{
		hazard("MISSING_HARD_HAT", 0.80),
		hazard("EXPOSED_WIRING", 0.40),
	})

	require.Len(t, recs, 2)
	assert.Equal(t, ReasonAutoSelected, recs[0].Reason)
	assert.Equal(t, ReasonSuggested, recs[1].Reason)
	assert.Len(t, auto, 1)
}

func TestRecommendDeduplicatesKeepingMax(t *testing.T) {
	engine := New(taxonomy.Default())

	// Two hard-hat hazards map to the same tag; the stronger wins
	recs, _ := engine.Recommend([]types.FusedHazard{
		hazard("MISSING_HARD_HAT", 0.55),
		hazard("MISSING_HARD_HAT", 0.85),
	})

	require.Len(t, recs, 1)
	assert.Equal(t, "ppe-hard-hat-required", recs[0].Tag.ID)
	assert.Equal(t, 0.85, recs[0].Confidence)
	assert.Equal(t, ReasonAutoSelected, recs[0].Reason)
}

func TestRecommendMultiTagHazard(t *testing.T) {
	engine := New(taxonomy.Default())

	// An unprotected edge maps to both fall-protection tags
	recs, _ := engine.Recommend([]types.FusedHazard{
		hazard("UNPROTECTED_EDGE", 0.70),
	})

	require.Len(t, recs, 2)
	ids := []string{recs[0].Tag.ID, recs[1].Tag.ID}
	assert.ElementsMatch(t, []string{"fall-protection-required", "guardrail-missing"}, ids)
}

func TestRecommendDeterministicOrdering(t *testing.T) {
	engine := New(taxonomy.Default())

	in := []types.FusedHazard{
		hazard("EXPOSED_WIRING", 0.60),
		hazard("MISSING_HARD_HAT", 0.90),
		hazard("UNPROTECTED_EDGE", 0.60),
		hazard("UNSAFE_LADDER", 0.85),
	}

	first, _ := engine.Recommend(in)
	require.NotEmpty(t, first)

	// Auto-selected lead; within a band, descending confidence then tag id
	assert.Equal(t, ReasonAutoSelected, first[0].Reason)
	for i := 1; i < len(first); i++ {
		if first[i-1].Reason == first[i].Reason {
			assert.GreaterOrEqual(t, first[i-1].Confidence, first[i].Confidence)
		}
	}

	for i := 0; i < 5; i++ {
		again, _ := engine.Recommend(in)
		assert.Equal(t, first, again)
	}
}

func TestRecommendUnknownHazardType(t *testing.T) {
	engine := New(taxonomy.Default())

	recs, auto := engine.Recommend([]types.FusedHazard{
		hazard("SOMETHING_NOVEL", 0.99),
	})

	assert.Empty(t, recs)
	assert.Empty(t, auto)
}

func TestRecommendCustomThresholds(t *testing.T) {
	engine := NewWithConfig(taxonomy.Default(), Config{
		AutoSelectThreshold: 0.60,
		DisplayThreshold:    0.50,
	})

	recs, auto := engine.Recommend([]types.FusedHazard{
		hazard("MISSING_HARD_HAT", 0.65),
		hazard("EXPOSED_WIRING", 0.45),
	})

	require.Len(t, recs, 1)
	assert.Equal(t, ReasonAutoSelected, recs[0].Reason)
	assert.Len(t, auto, 1)
}
