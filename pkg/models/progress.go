package models

import "time"

// RunStatus is the lifecycle state of a simulation run.
type RunStatus string

const (
	// RunStatusIdle indicates the run has not been initialized.
	RunStatusIdle RunStatus = "idle"
	// RunStatusInitializing indicates plan expansion and warm-up are in progress.
	RunStatusInitializing RunStatus = "initializing"
	// RunStatusReady indicates warm-up finished and Start may be called.
	RunStatusReady RunStatus = "ready"
	// RunStatusRunning indicates agent workflows are executing.
	RunStatusRunning RunStatus = "running"
	// RunStatusComplete indicates every agent has a Response.
	RunStatusComplete RunStatus = "complete"
	// RunStatusError indicates the run was aborted or failed to initialize.
	RunStatusError RunStatus = "error"
)

// Valid returns true if the status is a known value.
func (s RunStatus) Valid() bool {
	switch s {
	case RunStatusIdle, RunStatusInitializing, RunStatusReady,
		RunStatusRunning, RunStatusComplete, RunStatusError:
		return true
	default:
		return false
	}
}

// Terminal returns true for statuses a run never leaves.
func (s RunStatus) Terminal() bool {
	return s == RunStatusComplete || s == RunStatusError
}

// ProgressSnapshot is the aggregated progress of a run.
type ProgressSnapshot struct {
	Status    RunStatus `json:"status"`
	Total     int       `json:"total"`
	Completed int       `json:"completed"`
	Active    int       `json:"active"`
	Deciding  int       `json:"deciding"`
	Pending   int       `json:"pending"`
	Errors    int       `json:"errors"`

	// Initialization sub-phase counters.
	OptionsReady     int `json:"options_ready"`
	OptionsFailed    int `json:"options_failed"`
	AgentsPreSpawned int `json:"agents_pre_spawned"`

	StartedAt time.Time `json:"started_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Fraction returns completed/total in [0,1].
func (p ProgressSnapshot) Fraction() float64 {
	if p.Total == 0 {
		if p.Status == RunStatusComplete {
			return 1
		}
		return 0
	}
	return float64(p.Completed) / float64(p.Total)
}

// AgentUpdateKind names a per-agent workflow transition.
type AgentUpdateKind string

const (
	AgentSpawned     AgentUpdateKind = "spawned"
	AgentProcessing  AgentUpdateKind = "processing"
	AgentWander      AgentUpdateKind = "wander"
	AgentThinking    AgentUpdateKind = "thinking"
	AgentDecided     AgentUpdateKind = "decided"
	AgentDecidedNone AgentUpdateKind = "decided_none"
	AgentErrored     AgentUpdateKind = "error"
	AgentExited      AgentUpdateKind = "exited"
)

// AgentUpdate describes one workflow transition for a live activity feed.
type AgentUpdate struct {
	Kind          AgentUpdateKind `json:"kind"`
	AgentID       string          `json:"agent_id"`
	AgentName     string          `json:"agent_name"`
	SegmentID     string          `json:"segment_id"`
	Message       string          `json:"message,omitempty"`
	AlternativeID string          `json:"alternative_id,omitempty"`
	Timestamp     time.Time       `json:"timestamp"`
}
