package state

import (
	"io"
	"time"

	"github.com/ShayCichocki/choicesim/pkg/models"
)

// RunStore handles run persistence operations.
type RunStore interface {
	SaveRun(r *Run, responses []models.Response) error
	GetRun(id string) (*Run, error)
	ListRuns(limit int) ([]Run, error)
	DeleteRun(id string) error
	PurgeOldRuns(olderThan time.Duration) (int64, error)
}

// ResponseStore handles per-agent response queries.
type ResponseStore interface {
	ListResponses(runID string) ([]models.Response, error)
}

// Reader is the read side of the store, enough to serve recorded runs.
type Reader interface {
	RunStore
	ResponseStore
}

// Migrator handles database schema migrations.
type Migrator interface {
	// Migrate applies all pending schema migrations.
	Migrate() error
}

// Store defines the interface for result persistence, so the CLI and HTTP
// server can work without depending on the concrete SQLite implementation.
type Store interface {
	io.Closer
	Migrator
	Reader
}

// Compile-time verification that DB implements all interfaces.
var (
	_ Store         = (*DB)(nil)
	_ Reader        = (*DB)(nil)
	_ Migrator      = (*DB)(nil)
	_ RunStore      = (*DB)(nil)
	_ ResponseStore = (*DB)(nil)
)
