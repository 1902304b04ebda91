package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/forgeworks-ai/toolforge"
	"github.com/forgeworks-ai/toolforge/runtime"
)

const sqliteRunSchema = `
CREATE TABLE IF NOT EXISTS runs (
	id TEXT PRIMARY KEY,
	org_id TEXT NOT NULL,
	tool_id TEXT NOT NULL,
	status TEXT NOT NULL,
	record BLOB NOT NULL,
	started_at TEXT NOT NULL,
	finished_at TEXT
);
CREATE INDEX IF NOT EXISTS idx_runs_tool ON runs(tool_id, started_at);

CREATE TABLE IF NOT EXISTS run_steps (
	id TEXT PRIMARY KEY,
	run_id TEXT NOT NULL,
	seq INTEGER NOT NULL,
	record BLOB NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_steps_run ON run_steps(run_id, seq);

CREATE TABLE IF NOT EXISTS action_logs (
	seq INTEGER PRIMARY KEY AUTOINCREMENT,
	tool_id TEXT NOT NULL,
	action_id TEXT NOT NULL,
	logged_at TEXT NOT NULL,
	record BLOB NOT NULL
);`

// SQLiteStore persists runs, steps, and action logs in SQLite with WAL
// mode enabled. Records are stored whole as JSON with the columns needed
// for listing and pruning denormalized alongside.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) a SQLite-backed run store.
func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open sqlite: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("store: set WAL mode: %w", err)
	}
	if _, err := db.Exec(sqliteRunSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("store: create schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) CreateRun(ctx context.Context, run *toolforge.ExecutionRun) error {
	raw, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("store: encode run: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO runs (id, org_id, tool_id, status, record, started_at, finished_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.OrgID, run.ToolID, string(run.Status), raw,
		run.StartedAt.UTC().Format(time.RFC3339Nano), finishedAt(run))
	if err != nil {
		return fmt.Errorf("store: insert run: %w", err)
	}
	return nil
}

func (s *SQLiteStore) UpdateRun(ctx context.Context, run *toolforge.ExecutionRun) error {
	raw, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("store: encode run: %w", err)
	}
	result, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, record = ?, finished_at = ? WHERE id = ?`,
		string(run.Status), raw, finishedAt(run), run.ID)
	if err != nil {
		return fmt.Errorf("store: update run: %w", err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("store: %w: %s", ErrRunNotFound, run.ID)
	}
	return nil
}

func (s *SQLiteStore) AppendStep(ctx context.Context, step *toolforge.RunStep) error {
	raw, err := json.Marshal(step)
	if err != nil {
		return fmt.Errorf("store: encode step: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO run_steps (id, run_id, seq, record)
		 VALUES (?, ?, (SELECT COUNT(*) FROM run_steps WHERE run_id = ?), ?)`,
		step.ID, step.RunID, step.RunID, raw)
	if err != nil {
		return fmt.Errorf("store: insert step: %w", err)
	}
	return nil
}

func (s *SQLiteStore) UpdateStep(ctx context.Context, step *toolforge.RunStep) error {
	raw, err := json.Marshal(step)
	if err != nil {
		return fmt.Errorf("store: encode step: %w", err)
	}
	result, err := s.db.ExecContext(ctx,
		`UPDATE run_steps SET record = ? WHERE id = ?`, raw, step.ID)
	if err != nil {
		return fmt.Errorf("store: update step: %w", err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("store: step %s not found in run %s", step.ID, step.RunID)
	}
	return nil
}

func (s *SQLiteStore) GetRun(ctx context.Context, id string) (*toolforge.ExecutionRun, error) {
	var raw []byte
	err := s.db.QueryRowContext(ctx, `SELECT record FROM runs WHERE id = ?`, id).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("store: %w: %s", ErrRunNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("store: get run: %w", err)
	}
	var run toolforge.ExecutionRun
	if err := json.Unmarshal(raw, &run); err != nil {
		return nil, fmt.Errorf("store: decode run: %w", err)
	}
	return &run, nil
}

func (s *SQLiteStore) ListSteps(ctx context.Context, runID string) ([]*toolforge.RunStep, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT record FROM run_steps WHERE run_id = ? ORDER BY seq`, runID)
	if err != nil {
		return nil, fmt.Errorf("store: list steps: %w", err)
	}
	defer rows.Close()

	var steps []*toolforge.RunStep
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("store: scan step: %w", err)
		}
		var step toolforge.RunStep
		if err := json.Unmarshal(raw, &step); err != nil {
			return nil, fmt.Errorf("store: decode step: %w", err)
		}
		steps = append(steps, &step)
	}
	return steps, rows.Err()
}

// AppendActionLog records one immutable action log entry.
func (s *SQLiteStore) AppendActionLog(ctx context.Context, entry runtime.LogEntry) error {
	raw, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("store: encode log entry: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO action_logs (tool_id, action_id, logged_at, record) VALUES (?, ?, ?, ?)`,
		entry.ToolID, entry.ActionID, entry.Time.UTC().Format(time.RFC3339Nano), raw)
	if err != nil {
		return fmt.Errorf("store: insert log entry: %w", err)
	}
	return nil
}

// Prune deletes finished runs older than the retention window, along with
// their steps, and action logs past the same cutoff. Unfinished runs are
// never pruned.
func (s *SQLiteStore) Prune(ctx context.Context, retention time.Duration) (int64, error) {
	cutoff := time.Now().Add(-retention).UTC().Format(time.RFC3339Nano)

	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM run_steps WHERE run_id IN
		 (SELECT id FROM runs WHERE finished_at IS NOT NULL AND finished_at < ?)`, cutoff); err != nil {
		return 0, fmt.Errorf("store: prune steps: %w", err)
	}
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM runs WHERE finished_at IS NOT NULL AND finished_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("store: prune runs: %w", err)
	}
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM action_logs WHERE logged_at < ?`, cutoff); err != nil {
		return 0, fmt.Errorf("store: prune logs: %w", err)
	}

	pruned, _ := result.RowsAffected()
	return pruned, nil
}

// Close closes the underlying database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func finishedAt(run *toolforge.ExecutionRun) any {
	if run.FinishedAt == nil {
		return nil
	}
	return run.FinishedAt.UTC().Format(time.RFC3339Nano)
}

var (
	_ toolforge.RunStore = (*SQLiteStore)(nil)
	_ runtime.LogSink    = (*SQLiteStore)(nil)
)
