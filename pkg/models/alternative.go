package models

import "sort"

// Alternative is a candidate option an agent can choose.
type Alternative struct {
	ID       string         `json:"id" yaml:"id"`
	Name     string         `json:"name" yaml:"name"`
	Features map[string]any `json:"features,omitempty" yaml:"features,omitempty"`
}

// FeatureKeys returns the feature keys in sorted order.
func (a Alternative) FeatureKeys() []string {
	keys := make([]string, 0, len(a.Features))
	for k := range a.Features {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
