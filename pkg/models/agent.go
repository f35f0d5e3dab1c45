package models

import (
	"fmt"
	"sort"
)

// Segment is a cohort specification that the plan expander turns into
// individual agents.
type Segment struct {
	// ID identifies the segment; agent IDs are derived from it.
	ID string `json:"id" yaml:"id"`
	// Label is a human-readable cohort name.
	Label string `json:"label" yaml:"label"`
	// Count is the number of agents this segment contributes naturally.
	Count int `json:"count" yaml:"count"`
	// ModelTag selects the logical model used for this segment's decisions.
	ModelTag string `json:"model_tag" yaml:"model_tag"`
	// Traits are copied onto every agent of the segment.
	Traits map[string]any `json:"traits,omitempty" yaml:"traits,omitempty"`
}

// AgentDefinition is a single synthetic persona work item.
// It is created once during plan expansion and never mutated.
type AgentDefinition struct {
	// ID is unique across the expanded plan.
	ID string `json:"id"`
	// Name is the display name, e.g. "Thrifty #3 (Downtown)".
	Name string `json:"name"`
	// SegmentID is the cohort the agent originates from.
	SegmentID string `json:"segment_id"`
	// Label is the segment label at expansion time.
	Label string `json:"label"`
	// ModelTag selects the decision model.
	ModelTag string `json:"model_tag"`
	// Traits are the persona attributes (price sensitivity, location, ...).
	Traits map[string]any `json:"traits,omitempty"`
}

// Trait returns the string form of a trait, or "" when it is absent.
func (a AgentDefinition) Trait(key string) string {
	v, ok := a.Traits[key]
	if !ok || v == nil {
		return ""
	}
	return fmt.Sprint(v)
}

// TraitKeys returns the trait keys in sorted order.
func (a AgentDefinition) TraitKeys() []string {
	keys := make([]string, 0, len(a.Traits))
	for k := range a.Traits {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
