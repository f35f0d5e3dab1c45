package models

// NoChoice is the sentinel alternative ID meaning the agent declined all options.
const NoChoice = "NONE"

// Decision is the raw, untrusted decision payload returned by a reasoning provider.
type Decision struct {
	// ChosenAlternativeID is nil when the provider omitted the field.
	ChosenAlternativeID *string `json:"chosenAlternativeId"`
	// Reason is the agent's justification.
	Reason string `json:"reason"`
	// Confidence is expected in [0,1] but may be any JSON value.
	Confidence any `json:"confidence"`
	// ReasonCodes should be feature keys; non-string entries are dropped on normalization.
	ReasonCodes []any `json:"reasonCodes"`
	// Error is set when the decision could not be obtained.
	Error string `json:"error,omitempty"`
}

// NormalizedDecision is a Decision after validation and repair.
type NormalizedDecision struct {
	ChosenAlternativeID string   `json:"chosenAlternativeId"`
	Reason              string   `json:"reason"`
	Confidence          float64  `json:"confidence"`
	ReasonCodes         []string `json:"reasonCodes"`
	Error               string   `json:"error,omitempty"`
}

// IsNoChoice reports whether the agent declined all alternatives.
func (d NormalizedDecision) IsNoChoice() bool {
	return d.ChosenAlternativeID == NoChoice
}
