package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	_ "github.com/tursodatabase/go-libsql"

	"github.com/rendis/flowrun/pkg/schema"
)

// LibSQLStore implements the Store interface using libSQL (embedded SQLite fork).
type LibSQLStore struct {
	db *sql.DB
}

// NewLibSQLStore opens a libSQL database at the given path and returns a Store.
// The path should be a file URI, e.g. "file:/path/to/db.db".
func NewLibSQLStore(dbPath string) (*LibSQLStore, error) {
	db, err := sql.Open("libsql", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open libsql: %w", err)
	}
	db.SetMaxOpenConns(1)

	// Apply connection-level PRAGMAs. Some PRAGMAs return rows so we use QueryRow.
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
		"PRAGMA temp_store=MEMORY",
	}
	for _, p := range pragmas {
		var result string
		_ = db.QueryRow(p).Scan(&result)
	}

	return &LibSQLStore{db: db}, nil
}

// DB returns the underlying *sql.DB for advanced usage.
func (s *LibSQLStore) DB() *sql.DB { return s.db }

// Close closes the database.
func (s *LibSQLStore) Close() error { return s.db.Close() }

// Migrate runs all pending database migrations.
func (s *LibSQLStore) Migrate(ctx context.Context) error {
	return runMigrations(ctx, s.db)
}

func (s *LibSQLStore) PutKV(ctx context.Context, flowRunID, key string, value []byte) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO flow_kv (flow_run_id, key, value, updated_at)
		VALUES (?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(flow_run_id, key) DO UPDATE SET
			value = excluded.value,
			updated_at = CURRENT_TIMESTAMP`,
		flowRunID, key, value)
	if err != nil {
		return schema.NewErrorf(schema.ErrCodeStore, "put kv %s: %s", key, err.Error()).WithCause(err)
	}
	return nil
}

func (s *LibSQLStore) GetKV(ctx context.Context, flowRunID, key string) ([]byte, error) {
	var value []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM flow_kv WHERE flow_run_id = ? AND key = ?`,
		flowRunID, key).Scan(&value)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeStore, "get kv %s: %s", key, err.Error()).WithCause(err)
	}
	return value, nil
}

func (s *LibSQLStore) DeleteKV(ctx context.Context, flowRunID, key string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM flow_kv WHERE flow_run_id = ? AND key = ?`, flowRunID, key)
	if err != nil {
		return schema.NewErrorf(schema.ErrCodeStore, "delete kv %s: %s", key, err.Error()).WithCause(err)
	}
	return nil
}

func (s *LibSQLStore) UpsertConnection(ctx context.Context, projectID, name string, value map[string]any) error {
	payload, err := json.Marshal(value)
	if err != nil {
		return schema.NewErrorf(schema.ErrCodeValidation, "connection %s is not serializable", name).WithCause(err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO connections (project_id, name, value, updated_at)
		VALUES (?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(project_id, name) DO UPDATE SET
			value = excluded.value,
			updated_at = CURRENT_TIMESTAMP`,
		projectID, name, payload)
	if err != nil {
		return schema.NewErrorf(schema.ErrCodeStore, "upsert connection %s: %s", name, err.Error()).WithCause(err)
	}
	return nil
}

func (s *LibSQLStore) GetConnection(ctx context.Context, projectID, name string) (map[string]any, error) {
	var payload []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM connections WHERE project_id = ? AND name = ?`,
		projectID, name).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeStore, "get connection %s: %s", name, err.Error()).WithCause(err)
	}
	var value map[string]any
	if err := json.Unmarshal(payload, &value); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeStore, "decode connection %s: %s", name, err.Error()).WithCause(err)
	}
	return value, nil
}

var _ Store = (*LibSQLStore)(nil)
