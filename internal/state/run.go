package state

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ShayCichocki/choicesim/pkg/models"
)

// Run is the stored summary row of a finished simulation.
type Run struct {
	ID              string               `json:"id"`
	Experiment      string               `json:"experiment"`
	Status          models.RunStatus     `json:"status"`
	TotalAgents     int                  `json:"total_agents"`
	CompletedAgents int                  `json:"completed_agents"`
	ErrorCount      int                  `json:"error_count"`
	InputTokens     int64                `json:"input_tokens"`
	OutputTokens    int64                `json:"output_tokens"`
	StartedAt       time.Time            `json:"started_at"`
	EndedAt         *time.Time           `json:"ended_at,omitempty"`
	Alternatives    []models.Alternative `json:"alternatives,omitempty"`
}

// NewRun builds the stored row for results.
func NewRun(experiment string, results *models.RunResults, alternatives []models.Alternative, startedAt time.Time) *Run {
	ended := time.Now()
	return &Run{
		ID:              results.RunID,
		Experiment:      experiment,
		Status:          results.Status,
		TotalAgents:     results.TotalAgents,
		CompletedAgents: results.CompletedAgents,
		ErrorCount:      results.ErrorCount(),
		StartedAt:       startedAt,
		EndedAt:         &ended,
		Alternatives:    alternatives,
	}
}

// SaveRun stores a run and its responses in one transaction. Saving the same
// run ID again replaces it.
func (db *DB) SaveRun(r *Run, responses []models.Response) error {
	alts, err := json.Marshal(r.Alternatives)
	if err != nil {
		return fmt.Errorf("marshal alternatives: %w", err)
	}
	var ended sql.NullString
	if r.EndedAt != nil {
		ended = nullableTime(*r.EndedAt)
	}

	return db.Transaction(func(tx *sql.Tx) error {
		if _, err := tx.Exec(`DELETE FROM runs WHERE id = ?`, r.ID); err != nil {
			return fmt.Errorf("replace run: %w", err)
		}
		_, err := tx.Exec(`
			INSERT INTO runs (id, experiment, status, total_agents, completed_agents, error_count,
				input_tokens, output_tokens, started_at, ended_at, alternatives)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, r.ID, r.Experiment, string(r.Status), r.TotalAgents, r.CompletedAgents, r.ErrorCount,
			r.InputTokens, r.OutputTokens, formatTime(r.StartedAt), ended, string(alts))
		if err != nil {
			return fmt.Errorf("create run: %w", err)
		}

		stmt, err := tx.Prepare(`
			INSERT INTO responses (run_id, agent_id, agent_name, segment_id, traits,
				chosen_alternative_id, chosen_alternative_name, reason, confidence,
				reason_codes, error, started_at, ended_at, seq)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`)
		if err != nil {
			return fmt.Errorf("prepare response insert: %w", err)
		}
		defer stmt.Close()

		for i, resp := range responses {
			traits, err := json.Marshal(resp.Traits)
			if err != nil {
				return fmt.Errorf("marshal traits for %s: %w", resp.AgentID, err)
			}
			codes, err := json.Marshal(resp.ReasonCodes)
			if err != nil {
				return fmt.Errorf("marshal reason codes for %s: %w", resp.AgentID, err)
			}
			_, err = stmt.Exec(r.ID, resp.AgentID, resp.AgentName, resp.SegmentID, string(traits),
				nullString(resp.ChosenAlternativeID), nullString(resp.ChosenAlternativeName),
				resp.Reason, resp.Confidence, string(codes), resp.Error,
				nullableTime(resp.Timings.StartedAt), nullableTime(resp.Timings.EndedAt), i)
			if err != nil {
				return fmt.Errorf("insert response %s: %w", resp.AgentID, err)
			}
		}
		return nil
	})
}

const runColumns = `id, experiment, status, total_agents, completed_agents, error_count,
	input_tokens, output_tokens, started_at, ended_at, alternatives`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*Run, error) {
	var r Run
	var startedAt string
	var endedAt, alts sql.NullString
	err := row.Scan(&r.ID, &r.Experiment, &r.Status, &r.TotalAgents, &r.CompletedAgents, &r.ErrorCount,
		&r.InputTokens, &r.OutputTokens, &startedAt, &endedAt, &alts)
	if err != nil {
		return nil, err
	}
	r.StartedAt, _ = parseTime(startedAt)
	r.EndedAt = parseNullableTime(endedAt)
	if alts.Valid && alts.String != "" {
		if err := json.Unmarshal([]byte(alts.String), &r.Alternatives); err != nil {
			return nil, fmt.Errorf("decode alternatives: %w", err)
		}
	}
	return &r, nil
}

// GetRun retrieves a run by ID. It returns nil, nil when the run does not exist.
func (db *DB) GetRun(id string) (*Run, error) {
	row := db.QueryRow(`SELECT `+runColumns+` FROM runs WHERE id = ?`, id)
	r, err := scanRun(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}
	return r, nil
}

// ListRuns returns runs newest first. A limit <= 0 returns all runs.
func (db *DB) ListRuns(limit int) ([]Run, error) {
	query := `SELECT ` + runColumns + ` FROM runs ORDER BY started_at DESC`
	var args []any
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, *r)
	}
	return runs, rows.Err()
}

// DeleteRun deletes a run and, through the foreign key, its responses.
func (db *DB) DeleteRun(id string) error {
	_, err := db.Exec(`DELETE FROM runs WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete run: %w", err)
	}
	return nil
}

// PurgeOldRuns deletes runs that started before now minus olderThan.
// Returns the number of runs deleted.
func (db *DB) PurgeOldRuns(olderThan time.Duration) (int64, error) {
	cutoff := formatTime(time.Now().Add(-olderThan))

	result, err := db.Exec(`DELETE FROM runs WHERE started_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge old runs: %w", err)
	}

	count, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("get rows affected: %w", err)
	}
	return count, nil
}

// ListResponses returns a run's responses in completion order.
func (db *DB) ListResponses(runID string) ([]models.Response, error) {
	rows, err := db.Query(`
		SELECT agent_id, agent_name, segment_id, traits, chosen_alternative_id,
			chosen_alternative_name, reason, confidence, reason_codes, error, started_at, ended_at
		FROM responses WHERE run_id = ? ORDER BY seq
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("list responses: %w", err)
	}
	defer rows.Close()

	responses := []models.Response{}
	for rows.Next() {
		var resp models.Response
		var traits, codes, chosenID, chosenName, startedAt, endedAt sql.NullString
		err := rows.Scan(&resp.AgentID, &resp.AgentName, &resp.SegmentID, &traits, &chosenID,
			&chosenName, &resp.Reason, &resp.Confidence, &codes, &resp.Error, &startedAt, &endedAt)
		if err != nil {
			return nil, fmt.Errorf("scan response: %w", err)
		}
		if traits.Valid && traits.String != "" && traits.String != "null" {
			if err := json.Unmarshal([]byte(traits.String), &resp.Traits); err != nil {
				return nil, fmt.Errorf("decode traits: %w", err)
			}
		}
		resp.ReasonCodes = []string{}
		if codes.Valid && codes.String != "" && codes.String != "null" {
			if err := json.Unmarshal([]byte(codes.String), &resp.ReasonCodes); err != nil {
				return nil, fmt.Errorf("decode reason codes: %w", err)
			}
		}
		if chosenID.Valid {
			resp.ChosenAlternativeID = &chosenID.String
		}
		if chosenName.Valid {
			resp.ChosenAlternativeName = &chosenName.String
		}
		if t := parseNullableTime(startedAt); t != nil {
			resp.Timings.StartedAt = *t
		}
		if t := parseNullableTime(endedAt); t != nil {
			resp.Timings.EndedAt = *t
		}
		responses = append(responses, resp)
	}
	return responses, rows.Err()
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}
