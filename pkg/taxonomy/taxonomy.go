package taxonomy

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/altSeneca/HH-v0-clean-sub001/pkg/types"
)

// ComplianceTag is a user-facing label tied to one or more regulatory
// reference codes, applied to a photo for documentation.
type ComplianceTag struct {
	ID       string   `yaml:"id" json:"id"`
	Name     string   `yaml:"name" json:"name"`
	Category string   `yaml:"category" json:"category"`
	Codes    []string `yaml:"codes" json:"codes"`
	Priority int      `yaml:"priority" json:"priority"`
}

// Entry maps one hazard type to its severity rank and compliance tags
type Entry struct {
	Severity string   `yaml:"severity" json:"severity"`
	Tags     []string `yaml:"tags" json:"tags"`
}

// Taxonomy is the static, read-only lookup from hazard type to
// compliance tags and regulatory code references. It is loaded once
// and never mutated afterwards.
type Taxonomy struct {
	Tags    map[string]ComplianceTag `yaml:"tags"`
	Hazards map[string]Entry         `yaml:"hazards"`
}

// fileFormat is the on-disk shape: tags as a list for readability
type fileFormat struct {
	Tags    []ComplianceTag  `yaml:"tags"`
	Hazards map[string]Entry `yaml:"hazards"`
}

// Default returns the built-in OSHA construction taxonomy
func Default() *Taxonomy {
	tags := []ComplianceTag{
		{ID: "ppe-hard-hat-required", Name: "Hard Hat Required", Category: "ppe", Codes: []string{"29 CFR 1926.100"}, Priority: 1},
		{ID: "ppe-eye-protection", Name: "Eye Protection Required", Category: "ppe", Codes: []string{"29 CFR 1926.102"}, Priority: 2},
		{ID: "ppe-high-vis-vest", Name: "High-Visibility Vest Required", Category: "ppe", Codes: []string{"29 CFR 1926.201"}, Priority: 2},
		{ID: "fall-protection-required", Name: "Fall Protection Required", Category: "fall-protection", Codes: []string{"29 CFR 1926.501"}, Priority: 1},
		{ID: "guardrail-missing", Name: "Guardrail Missing", Category: "fall-protection", Codes: []string{"29 CFR 1926.502"}, Priority: 1},
		{ID: "scaffold-unsafe", Name: "Unsafe Scaffolding", Category: "scaffolding", Codes: []string{"29 CFR 1926.451"}, Priority: 1},
		{ID: "ladder-unsafe", Name: "Unsafe Ladder Use", Category: "ladders", Codes: []string{"29 CFR 1926.1053"}, Priority: 2},
		{ID: "electrical-hazard", Name: "Electrical Hazard", Category: "electrical", Codes: []string{"29 CFR 1926.405", "29 CFR 1926.416"}, Priority: 1},
		{ID: "housekeeping-debris", Name: "Housekeeping / Debris", Category: "housekeeping", Codes: []string{"29 CFR 1926.25"}, Priority: 3},
		{ID: "excavation-unprotected", Name: "Unprotected Excavation", Category: "excavation", Codes: []string{"29 CFR 1926.652"}, Priority: 1},
		{ID: "equipment-proximity", Name: "Worker Near Heavy Equipment", Category: "equipment", Codes: []string{"29 CFR 1926.601"}, Priority: 2},
	}

	hazards := map[string]Entry{
		"MISSING_HARD_HAT":       {Severity: "high", Tags: []string{"ppe-hard-hat-required"}},
		"MISSING_EYE_PROTECTION": {Severity: "medium", Tags: []string{"ppe-eye-protection"}},
		"MISSING_SAFETY_VEST":    {Severity: "medium", Tags: []string{"ppe-high-vis-vest"}},
		"UNPROTECTED_EDGE":       {Severity: "critical", Tags: []string{"fall-protection-required", "guardrail-missing"}},
		"MISSING_GUARDRAIL":      {Severity: "critical", Tags: []string{"guardrail-missing"}},
		"UNSAFE_SCAFFOLD":        {Severity: "high", Tags: []string{"scaffold-unsafe"}},
		"UNSAFE_LADDER":          {Severity: "high", Tags: []string{"ladder-unsafe"}},
		"EXPOSED_WIRING":         {Severity: "high", Tags: []string{"electrical-hazard"}},
		"DEBRIS_CLUTTER":         {Severity: "low", Tags: []string{"housekeeping-debris"}},
		"OPEN_TRENCH":            {Severity: "critical", Tags: []string{"excavation-unprotected"}},
		"EQUIPMENT_TOO_CLOSE":    {Severity: "high", Tags: []string{"equipment-proximity"}},
	}

	tagMap := make(map[string]ComplianceTag, len(tags))
	for _, t := range tags {
		tagMap[t.ID] = t
	}

	return &Taxonomy{Tags: tagMap, Hazards: hazards}
}

// LoadFromFile loads a taxonomy from a YAML file
func LoadFromFile(path string) (*Taxonomy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read taxonomy file: %w", err)
	}

	var ff fileFormat
	if err := yaml.Unmarshal(data, &ff); err != nil {
		return nil, fmt.Errorf("failed to parse taxonomy file: %w", err)
	}

	tagMap := make(map[string]ComplianceTag, len(ff.Tags))
	for _, t := range ff.Tags {
		tagMap[t.ID] = t
	}

	tx := &Taxonomy{Tags: tagMap, Hazards: ff.Hazards}
	if err := tx.Validate(); err != nil {
		return nil, err
	}
	return tx, nil
}

// Validate checks the taxonomy for dangling tag references
func (t *Taxonomy) Validate() error {
	if len(t.Tags) == 0 {
		return fmt.Errorf("taxonomy has no compliance tags")
	}
	for hazard, entry := range t.Hazards {
		for _, id := range entry.Tags {
			if _, ok := t.Tags[id]; !ok {
				return fmt.Errorf("hazard %s references unknown tag %s", hazard, id)
			}
		}
	}
	return nil
}

// Tag returns the compliance tag with the given id
func (t *Taxonomy) Tag(id string) (ComplianceTag, bool) {
	tag, ok := t.Tags[id]
	return tag, ok
}

// TagsFor returns the compliance tags mapped to a hazard type, sorted
// by priority then id. Unknown hazard types map to no tags.
func (t *Taxonomy) TagsFor(hazardType string) []ComplianceTag {
	entry, ok := t.Hazards[hazardType]
	if !ok {
		return nil
	}

	out := make([]ComplianceTag, 0, len(entry.Tags))
	for _, id := range entry.Tags {
		if tag, ok := t.Tags[id]; ok {
			out = append(out, tag)
		}
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority < out[j].Priority
		}
		return out[i].ID < out[j].ID
	})

	return out
}

// Severity returns the severity rank for a hazard type. Unknown types
// default to medium.
func (t *Taxonomy) Severity(hazardType string) types.Severity {
	entry, ok := t.Hazards[hazardType]
	if !ok {
		return types.SeverityMedium
	}
	return types.ParseSeverity(entry.Severity)
}

// HazardTypes returns the sorted list of hazard types the taxonomy knows
func (t *Taxonomy) HazardTypes() []string {
	out := make([]string, 0, len(t.Hazards))
	for h := range t.Hazards {
		out = append(out, h)
	}
	sort.Strings(out)
	return out
}
