package simulation

import (
	"time"

	"github.com/ShayCichocki/choicesim/pkg/models"
)

// EventType represents the type of simulation event.
type EventType string

const (
	// EventProgress carries an updated progress snapshot.
	EventProgress EventType = "progress"
	// EventAgentUpdate carries a per-agent workflow transition.
	EventAgentUpdate EventType = "agent_update"
	// EventComplete carries the final results. It is emitted once.
	EventComplete EventType = "complete"
)

// Event is emitted on the orchestrator's event channel. Exactly one of
// Snapshot, Update or Results is set, matching Type.
type Event struct {
	Type      EventType                `json:"type"`
	Snapshot  *models.ProgressSnapshot `json:"snapshot,omitempty"`
	Update    *models.AgentUpdate      `json:"update,omitempty"`
	Results   *models.RunResults       `json:"results,omitempty"`
	Timestamp time.Time                `json:"timestamp"`
}
