package state

import (
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/ShayCichocki/choicesim/pkg/models"
)

// setupTestDB opens and migrates a results database in a temp dir.
func setupTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "results.db"))
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}
	if err := db.Migrate(); err != nil {
		t.Fatalf("failed to migrate test db: %v", err)
	}
	t.Cleanup(func() {
		db.Close()
	})
	return db
}

// columns returns the column names of table.
func columns(t *testing.T, db *DB, table string) map[string]bool {
	t.Helper()
	rows, err := db.Query("SELECT name FROM pragma_table_info(?)", table)
	if err != nil {
		t.Fatalf("table_info(%s): %v", table, err)
	}
	defer rows.Close()

	cols := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			t.Fatalf("scan column: %v", err)
		}
		cols[name] = true
	}
	return cols
}

func schemaVersions(t *testing.T, db *DB) []int {
	t.Helper()
	rows, err := db.Query("SELECT version FROM schema_version ORDER BY version")
	if err != nil {
		t.Fatalf("query schema_version: %v", err)
	}
	defer rows.Close()

	var versions []int
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			t.Fatalf("scan version: %v", err)
		}
		versions = append(versions, v)
	}
	return versions
}

func TestMigrate_FreshDatabase(t *testing.T) {
	db := setupTestDB(t)

	// A second and third pass must not re-apply the ALTERs of v3.
	for i := 0; i < 2; i++ {
		if err := db.Migrate(); err != nil {
			t.Fatalf("repeat Migrate: %v", err)
		}
	}

	if got := schemaVersions(t, db); len(got) != 3 || got[0] != 1 || got[2] != 3 {
		t.Errorf("schema versions = %v, want [1 2 3]", got)
	}

	runCols := columns(t, db, "runs")
	for _, c := range []string{"id", "experiment", "status", "alternatives", "input_tokens", "output_tokens"} {
		if !runCols[c] {
			t.Errorf("runs is missing column %s", c)
		}
	}
	respCols := columns(t, db, "responses")
	for _, c := range []string{"run_id", "agent_id", "chosen_alternative_id", "reason_codes", "error", "seq"} {
		if !respCols[c] {
			t.Errorf("responses is missing column %s", c)
		}
	}
}

func TestMigrate_UpgradesV2Database(t *testing.T) {
	path := filepath.Join(t.TempDir(), "results.db")

	// Build a database as a release without token columns left it.
	raw, err := sql.Open(DriverModernc, path)
	if err != nil {
		t.Fatal(err)
	}
	for _, stmt := range []string{
		`CREATE TABLE schema_version (version INTEGER PRIMARY KEY, applied_at DATETIME DEFAULT CURRENT_TIMESTAMP)`,
		migrationV1Runs,
		migrationV2Responses,
		`INSERT INTO schema_version (version) VALUES (1), (2)`,
		`INSERT INTO runs (id, experiment, status, total_agents, completed_agents, started_at)
			VALUES ('old-run', 'commute', 'complete', 2, 2, '2024-03-01T09:00:00.000000000Z')`,
	} {
		if _, err := raw.Exec(stmt); err != nil {
			t.Fatalf("seed v2 schema: %v", err)
		}
	}
	raw.Close()

	db, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	if err := db.Migrate(); err != nil {
		t.Fatalf("Migrate from v2: %v", err)
	}

	if got := schemaVersions(t, db); len(got) != 3 || got[2] != 3 {
		t.Errorf("schema versions = %v, want v3 recorded", got)
	}

	run, err := db.GetRun("old-run")
	if err != nil {
		t.Fatalf("GetRun after upgrade: %v", err)
	}
	if run == nil {
		t.Fatal("existing run lost during upgrade")
	}
	if run.InputTokens != 0 || run.OutputTokens != 0 {
		t.Errorf("tokens = %d/%d, want defaults of 0", run.InputTokens, run.OutputTokens)
	}
	if run.Experiment != "commute" || run.TotalAgents != 2 {
		t.Errorf("run = %+v", run)
	}
}

func TestForeignKeys_RawExec(t *testing.T) {
	db := setupTestDB(t)

	if _, err := db.Exec(`INSERT INTO runs (id, experiment, status, started_at) VALUES ('r1', 'commute', 'complete', ?)`,
		formatTime(time.Now())); err != nil {
		t.Fatalf("insert run: %v", err)
	}
	for _, agent := range []string{"a1", "a2", "a3"} {
		if _, err := db.Exec(`INSERT INTO responses (run_id, agent_id) VALUES ('r1', ?)`, agent); err != nil {
			t.Fatalf("insert response %s: %v", agent, err)
		}
	}

	if _, err := db.Exec(`INSERT INTO responses (run_id, agent_id) VALUES ('no-such-run', 'a1')`); err == nil {
		t.Error("response for a missing run should violate the foreign key")
	}

	if _, err := db.Exec(`DELETE FROM runs WHERE id = 'r1'`); err != nil {
		t.Fatalf("delete run: %v", err)
	}
	var count int
	if err := db.QueryRow(`SELECT COUNT(*) FROM responses`).Scan(&count); err != nil {
		t.Fatal(err)
	}
	if count != 0 {
		t.Errorf("responses left after deleting their run = %d, want 0", count)
	}
}

func TestOpen_PragmasSurviveManyStatements(t *testing.T) {
	db := setupTestDB(t)

	if n := db.conn.Stats().MaxOpenConnections; n != 1 {
		t.Errorf("MaxOpenConnections = %d, want 1", n)
	}

	// Work that would open extra connections on an unbounded pool.
	for i := 0; i < 20; i++ {
		rows, err := db.Query("SELECT id FROM runs")
		if err != nil {
			t.Fatal(err)
		}
		rows.Close()
	}
	if err := db.Transaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(`INSERT INTO runs (id, experiment, status, started_at) VALUES ('r1', 'e', 'complete', '')`)
		return err
	}); err != nil {
		t.Fatal(err)
	}

	var fk int
	if err := db.QueryRow("PRAGMA foreign_keys").Scan(&fk); err != nil {
		t.Fatal(err)
	}
	if fk != 1 {
		t.Errorf("foreign_keys = %d, want 1", fk)
	}
	var mode string
	if err := db.QueryRow("PRAGMA journal_mode").Scan(&mode); err != nil {
		t.Fatal(err)
	}
	if mode != "wal" {
		t.Errorf("journal_mode = %q, want wal", mode)
	}
}

func TestSaveRun_FailedInsertRollsBack(t *testing.T) {
	db := setupTestDB(t)

	results := &models.RunResults{
		RunID:  "dup-run",
		Status: models.RunStatusComplete,
		Responses: []models.Response{
			{AgentID: "same", SegmentID: "s"},
			{AgentID: "same", SegmentID: "s"},
		},
	}
	run := NewRun("commute", results, nil, time.Now())
	if err := db.SaveRun(run, results.Responses); err == nil {
		t.Fatal("expected duplicate agent IDs to fail")
	}

	got, err := db.GetRun("dup-run")
	if err != nil {
		t.Fatal(err)
	}
	if got != nil {
		t.Error("run row committed although its responses failed")
	}
}

func TestOpenWithDriver(t *testing.T) {
	tests := []struct {
		name       string
		driver     string
		wantDriver string
		wantErr    bool
	}{
		{"empty uses pure-Go driver", "", DriverModernc, false},
		{"pure-Go driver", DriverModernc, DriverModernc, false},
		{"unknown driver", "postgres", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, err := OpenWithDriver(filepath.Join(t.TempDir(), "results.db"), tt.driver)
			if tt.wantErr {
				if err == nil {
					db.Close()
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("OpenWithDriver: %v", err)
			}
			defer db.Close()
			if db.Driver() != tt.wantDriver {
				t.Errorf("Driver() = %q, want %q", db.Driver(), tt.wantDriver)
			}
		})
	}
}

func TestOpenWithDriver_CGO(t *testing.T) {
	db, err := OpenWithDriver(filepath.Join(t.TempDir(), "results.db"), DriverCGO)
	if err != nil {
		t.Skipf("cgo sqlite driver unavailable: %v", err)
	}
	defer db.Close()

	if err := db.Migrate(); err != nil {
		t.Skipf("cgo sqlite driver unavailable: %v", err)
	}
	if db.Driver() != DriverCGO {
		t.Errorf("Driver() = %q, want %q", db.Driver(), DriverCGO)
	}
	if !columns(t, db, "runs")["input_tokens"] {
		t.Error("cgo driver did not apply v3 migration")
	}
}

func TestDBPaths(t *testing.T) {
	if got, want := ProjectDBPath("/study"), filepath.Join("/study", ".choicesim", "results.db"); got != want {
		t.Errorf("ProjectDBPath() = %q, want %q", got, want)
	}

	t.Setenv("XDG_DATA_HOME", "/data")
	if got, want := GlobalDBPath(), filepath.Join("/data", "choicesim", "choicesim.db"); got != want {
		t.Errorf("GlobalDBPath() = %q, want %q", got, want)
	}
}

func TestTimestamps(t *testing.T) {
	base := time.Date(2024, 1, 1, 9, 0, 0, 5, time.FixedZone("CET", 3600))

	// Whole seconds and fractions must still compare correctly as strings.
	earlier := formatTime(base)
	later := formatTime(base.Add(100 * time.Millisecond))
	if !(earlier < later) {
		t.Errorf("%q should sort before %q", earlier, later)
	}

	parsed, err := parseTime(earlier)
	if err != nil {
		t.Fatalf("parseTime: %v", err)
	}
	if !parsed.Equal(base) {
		t.Errorf("round trip = %v, want %v", parsed, base)
	}

	if nt := nullableTime(time.Time{}); nt.Valid {
		t.Error("zero time should be stored as NULL")
	}
	if got := parseNullableTime(nullableTime(base)); got == nil || !got.Equal(base) {
		t.Errorf("nullable round trip = %v", got)
	}
	if got := parseNullableTime(sql.NullString{String: "yesterday", Valid: true}); got != nil {
		t.Errorf("garbage timestamp parsed as %v", got)
	}
}
