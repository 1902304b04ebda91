package lifecycle

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/forgeworks-ai/toolforge/memory"
)

// MemoryRecordStore keeps lifecycle records in the scoped memory store,
// under the reserved tool+org lifecycle entry. The store routes that entry
// to denormalized storage, and records always use the must-succeed tier.
type MemoryRecordStore struct {
	mem *memory.Store
}

// NewMemoryRecordStore wraps a memory store as a lifecycle record store.
func NewMemoryRecordStore(mem *memory.Store) *MemoryRecordStore {
	return &MemoryRecordStore{mem: mem}
}

func (s *MemoryRecordStore) Get(ctx context.Context, orgID, toolID string) (*Record, bool, error) {
	var record Record
	ok, err := s.mem.Get(ctx, memory.ToolOrgScope(toolID, orgID),
		memory.NamespaceLifecycle, memory.KeyLifecycleState, &record)
	if err != nil || !ok {
		return nil, false, err
	}
	return &record, true, nil
}

func (s *MemoryRecordStore) Put(ctx context.Context, record *Record) error {
	return s.mem.SetDurable(ctx, memory.ToolOrgScope(record.ToolID, record.OrgID),
		memory.NamespaceLifecycle, memory.KeyLifecycleState, record)
}

var _ RecordStore = (*MemoryRecordStore)(nil)

const sqliteLifecycleSchema = `
CREATE TABLE IF NOT EXISTS lifecycle_records (
	org_id TEXT NOT NULL,
	tool_id TEXT NOT NULL,
	state TEXT NOT NULL,
	record BLOB NOT NULL,
	updated_at TEXT NOT NULL,
	PRIMARY KEY (org_id, tool_id)
);`

// SQLiteRecordStore persists lifecycle records in their own table. The
// record is stored whole as JSON with the state column denormalized for
// cheap gate checks and dashboards.
type SQLiteRecordStore struct {
	db *sql.DB
}

// NewSQLiteRecordStore opens (or creates) a SQLite-backed record store.
func NewSQLiteRecordStore(dsn string) (*SQLiteRecordStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("lifecycle: open sqlite: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("lifecycle: set WAL mode: %w", err)
	}
	if _, err := db.Exec(sqliteLifecycleSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("lifecycle: create schema: %w", err)
	}
	return &SQLiteRecordStore{db: db}, nil
}

func (s *SQLiteRecordStore) Get(ctx context.Context, orgID, toolID string) (*Record, bool, error) {
	var raw []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT record FROM lifecycle_records WHERE org_id = ? AND tool_id = ?`,
		orgID, toolID,
	).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("lifecycle: sqlite get: %w", err)
	}

	var record Record
	if err := json.Unmarshal(raw, &record); err != nil {
		return nil, false, fmt.Errorf("lifecycle: decode record: %w", err)
	}
	return &record, true, nil
}

func (s *SQLiteRecordStore) Put(ctx context.Context, record *Record) error {
	raw, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("lifecycle: encode record: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO lifecycle_records (org_id, tool_id, state, record, updated_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(org_id, tool_id) DO UPDATE SET
		   state = excluded.state, record = excluded.record, updated_at = excluded.updated_at`,
		record.OrgID, record.ToolID, string(record.State), raw,
		time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("lifecycle: sqlite put: %w", err)
	}
	return nil
}

// Close closes the underlying database handle.
func (s *SQLiteRecordStore) Close() error {
	return s.db.Close()
}

var _ RecordStore = (*SQLiteRecordStore)(nil)
