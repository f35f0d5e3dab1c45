package simulation

import (
	"time"

	"github.com/ShayCichocki/choicesim/pkg/models"
)

// runState is the orchestrator's mutable run state. All access goes through
// Orchestrator.mu.
type runState struct {
	status    models.RunStatus
	queue     []models.AgentDefinition
	total     int
	responses []models.Response

	inFlight  int
	deciding  int
	completed int
	errors    int

	optionsReady  int
	optionsFailed int
	preSpawned    int

	aborted bool
	paused  bool

	startedAt time.Time
	updatedAt time.Time
}

func (s *runState) touch() {
	s.updatedAt = time.Now()
}

// record appends a terminal Response.
func (s *runState) record(resp models.Response) {
	s.responses = append(s.responses, resp)
	s.completed++
	if resp.Error {
		s.errors++
	}
	s.touch()
}

func (s *runState) snapshot() models.ProgressSnapshot {
	return models.ProgressSnapshot{
		Status:           s.status,
		Total:            s.total,
		Completed:        s.completed,
		Active:           s.inFlight,
		Deciding:         s.deciding,
		Pending:          len(s.queue),
		Errors:           s.errors,
		OptionsReady:     s.optionsReady,
		OptionsFailed:    s.optionsFailed,
		AgentsPreSpawned: s.preSpawned,
		StartedAt:        s.startedAt,
		UpdatedAt:        s.updatedAt,
	}
}
