package memory

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

const sqliteMemorySchema = `
CREATE TABLE IF NOT EXISTS memory_entries (
	key TEXT PRIMARY KEY,
	value BLOB NOT NULL,
	updated_at TEXT NOT NULL
);`

// SQLiteAdapterConfig configures the SQLite memory adapter.
type SQLiteAdapterConfig struct {
	// DSN is the database connection string.
	DSN string

	// Table overrides the storage table. Reserved high-churn namespaces
	// (lifecycle state, build logs) use purpose-built tables instead of
	// the generic one.
	Table string
}

// SQLiteAdapter persists memory entries in SQLite with WAL mode enabled
// for concurrent read access.
type SQLiteAdapter struct {
	db    *sql.DB
	table string
}

// NewSQLiteAdapter opens (or creates) a SQLite-backed memory adapter.
func NewSQLiteAdapter(cfg SQLiteAdapterConfig) (*SQLiteAdapter, error) {
	if cfg.Table == "" {
		cfg.Table = "memory_entries"
	}

	db, err := sql.Open("sqlite", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("memory: open sqlite: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("memory: set WAL mode: %w", err)
	}

	schema := sqliteMemorySchema
	if cfg.Table != "memory_entries" {
		schema = fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	key TEXT PRIMARY KEY,
	value BLOB NOT NULL,
	updated_at TEXT NOT NULL
);`, cfg.Table)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("memory: create schema: %w", err)
	}

	return &SQLiteAdapter{db: db, table: cfg.Table}, nil
}

func (a *SQLiteAdapter) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var value []byte
	err := a.db.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT value FROM %s WHERE key = ?`, a.table), key,
	).Scan(&value)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return value, true, nil
}

func (a *SQLiteAdapter) Set(ctx context.Context, key string, value []byte) error {
	_, err := a.db.ExecContext(ctx,
		fmt.Sprintf(`INSERT INTO %s (key, value, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`, a.table),
		key, value, time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("memory: sqlite set: %w", err)
	}
	return nil
}

func (a *SQLiteAdapter) Delete(ctx context.Context, key string) error {
	_, err := a.db.ExecContext(ctx,
		fmt.Sprintf(`DELETE FROM %s WHERE key = ?`, a.table), key)
	if err != nil {
		return fmt.Errorf("memory: sqlite delete: %w", err)
	}
	return nil
}

// Close closes the underlying database handle.
func (a *SQLiteAdapter) Close() error {
	return a.db.Close()
}

var _ Adapter = (*SQLiteAdapter)(nil)
