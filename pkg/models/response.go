package models

import "time"

// Timings records when an agent's workflow started and ended.
type Timings struct {
	StartedAt time.Time `json:"started_at"`
	EndedAt   time.Time `json:"ended_at"`
}

// Duration returns the elapsed workflow time.
func (t Timings) Duration() time.Duration {
	if t.EndedAt.IsZero() {
		return 0
	}
	return t.EndedAt.Sub(t.StartedAt)
}

// Response is the terminal record of one agent's outcome.
// Exactly one Response is recorded per AgentDefinition.
type Response struct {
	AgentID               string         `json:"agent_id"`
	AgentName             string         `json:"agent_name"`
	SegmentID             string         `json:"segment_id"`
	Traits                map[string]any `json:"traits,omitempty"`
	ChosenAlternativeID   *string        `json:"chosen_alternative_id"`
	ChosenAlternativeName *string        `json:"chosen_alternative_name"`
	Reason                string         `json:"reason"`
	Confidence            float64        `json:"confidence"`
	ReasonCodes           []string       `json:"reason_codes"`
	Error                 bool           `json:"error"`
	Timings               Timings        `json:"timings"`
}

// RunResults is delivered once when a run finishes.
type RunResults struct {
	RunID           string     `json:"run_id"`
	Responses       []Response `json:"responses"`
	TotalAgents     int        `json:"total_agents"`
	CompletedAgents int        `json:"completed_agents"`
	Status          RunStatus  `json:"status"`
}

// ErrorCount returns the number of error Responses.
func (r *RunResults) ErrorCount() int {
	n := 0
	for _, resp := range r.Responses {
		if resp.Error {
			n++
		}
	}
	return n
}
