package main

import (
	"fmt"

	"github.com/ShayCichocki/choicesim/internal/config"
	"github.com/ShayCichocki/choicesim/internal/state"
)

// storePath returns the configured database path, defaulting to the
// project database under projectRoot.
func storePath(cfg *config.Config, projectRoot string) string {
	if cfg.Storage.Path != "" {
		return cfg.Storage.Path
	}
	return state.ProjectDBPath(projectRoot)
}

// storeLabel names the database and the driver serving it.
func storeLabel(db *state.DB) string {
	return fmt.Sprintf("%s (%s driver)", db.Path(), db.Driver())
}

// openStore opens and migrates the result store.
func openStore(cfg *config.Config, projectRoot string) (*state.DB, error) {
	db, err := state.OpenWithDriver(storePath(cfg, projectRoot), cfg.Storage.Driver)
	if err != nil {
		return nil, fmt.Errorf("open result store: %w", err)
	}
	if err := db.Migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate result store: %w", err)
	}
	return db, nil
}
