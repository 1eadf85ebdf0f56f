// Package store provides SQLite-based durable persistence for Ultracode:
// projects, features, subtasks, the append-only event log, usage aggregates,
// the pending command queue, and run/step/vote/action snapshots.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// Store wraps an SQLite database connection with Ultracode-specific operations.
type Store struct {
	conn *sql.DB
	path string
	mu   sync.RWMutex
}

// DefaultDBPath returns the path to the process-wide database under data/.
func DefaultDBPath(dataDir string) string {
	if dataDir == "" {
		dataDir = "data"
	}
	return filepath.Join(dataDir, "ultracode.db")
}

// Open opens an SQLite database at the given path.
// It creates the parent directories if they don't exist.
// WAL mode is enabled for concurrent reads. Pragmas ride on the DSN so every
// connection database/sql pools carries them; a plain Exec would configure
// only the one connection it happens to land on.
func Open(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("open database: %w", err)
	}

	return &Store{conn: conn, path: path}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.Close()
}

// Path returns the path to the database file.
func (s *Store) Path() string {
	return s.path
}

// Migrate applies all pending schema migrations.
func (s *Store) Migrate() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.conn.Exec(`
		CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER PRIMARY KEY,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("create schema_version table: %w", err)
	}

	var currentVersion int
	row := s.conn.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_version")
	if err := row.Scan(&currentVersion); err != nil {
		return fmt.Errorf("get schema version: %w", err)
	}

	migrations := []struct {
		version int
		sql     string
	}{
		{1, migrationV1Entities},
		{2, migrationV2Events},
		{3, migrationV3Usage},
		{4, migrationV4Snapshots},
	}

	for _, m := range migrations {
		if m.version <= currentVersion {
			continue
		}

		tx, err := s.conn.Begin()
		if err != nil {
			return fmt.Errorf("begin transaction: %w", err)
		}

		if _, err := tx.Exec(m.sql); err != nil {
			tx.Rollback()
			return fmt.Errorf("apply migration v%d: %w", m.version, err)
		}

		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", m.version); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration v%d: %w", m.version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration v%d: %w", m.version, err)
		}
	}

	return nil
}

const migrationV1Entities = `
CREATE TABLE IF NOT EXISTS projects (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	description TEXT,
	folder_path TEXT NOT NULL UNIQUE,
	models TEXT,
	project_type TEXT,
	status TEXT NOT NULL DEFAULT 'created',
	bootstrapped INTEGER NOT NULL DEFAULT 0,
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS features (
	id TEXT PRIMARY KEY,
	project_id TEXT NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
	name TEXT NOT NULL,
	description TEXT,
	priority TEXT NOT NULL DEFAULT 'B',
	status TEXT NOT NULL DEFAULT 'pending',
	depends_on TEXT,
	definition_of_done TEXT,
	technical_summary TEXT,
	order_index INTEGER NOT NULL DEFAULT 0,
	error TEXT,
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_features_project_id ON features(project_id);
CREATE INDEX IF NOT EXISTS idx_features_status ON features(status);

CREATE TABLE IF NOT EXISTS subtasks (
	id TEXT PRIMARY KEY,
	feature_id TEXT NOT NULL REFERENCES features(id) ON DELETE CASCADE,
	intent TEXT NOT NULL,
	apply_type TEXT,
	apply_path TEXT,
	state_key TEXT,
	command TEXT,
	status TEXT NOT NULL DEFAULT 'pending',
	result TEXT,
	error TEXT,
	seq INTEGER NOT NULL,
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_subtasks_feature_id ON subtasks(feature_id);
CREATE INDEX IF NOT EXISTS idx_subtasks_status ON subtasks(status);
`

const migrationV2Events = `
CREATE TABLE IF NOT EXISTS events (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	project_id TEXT,
	feature_id TEXT,
	subtask_id TEXT,
	event_type TEXT NOT NULL,
	payload TEXT,
	created_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_events_project_id ON events(project_id);

CREATE TABLE IF NOT EXISTS wizard_messages (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	project_id TEXT NOT NULL,
	role TEXT NOT NULL,
	content TEXT NOT NULL,
	created_at DATETIME NOT NULL
);
`

const migrationV3Usage = `
CREATE TABLE IF NOT EXISTS model_usage (
	project_id TEXT NOT NULL,
	model TEXT NOT NULL,
	input_tokens INTEGER NOT NULL DEFAULT 0,
	output_tokens INTEGER NOT NULL DEFAULT 0,
	total_tokens INTEGER NOT NULL DEFAULT 0,
	calls INTEGER NOT NULL DEFAULT 0,
	cost REAL NOT NULL DEFAULT 0.0,
	PRIMARY KEY (project_id, model)
);

CREATE TABLE IF NOT EXISTS model_usage_by_role (
	project_id TEXT NOT NULL,
	role TEXT NOT NULL,
	model TEXT NOT NULL,
	input_tokens INTEGER NOT NULL DEFAULT 0,
	output_tokens INTEGER NOT NULL DEFAULT 0,
	total_tokens INTEGER NOT NULL DEFAULT 0,
	calls INTEGER NOT NULL DEFAULT 0,
	cost REAL NOT NULL DEFAULT 0.0,
	PRIMARY KEY (project_id, role, model)
);

CREATE TABLE IF NOT EXISTS pending_commands (
	id TEXT PRIMARY KEY,
	project_id TEXT,
	command TEXT NOT NULL,
	cwd TEXT,
	severity TEXT NOT NULL,
	created_at DATETIME NOT NULL
);
`

const migrationV4Snapshots = `
CREATE TABLE IF NOT EXISTS runs (
	id TEXT PRIMARY KEY,
	project_id TEXT,
	feature_id TEXT,
	title TEXT,
	created_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS steps (
	id TEXT PRIMARY KEY,
	run_id TEXT NOT NULL,
	subtask_id TEXT,
	prompt TEXT,
	config TEXT,
	status TEXT NOT NULL DEFAULT 'running',
	error TEXT,
	created_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_steps_run_id ON steps(run_id);

CREATE TABLE IF NOT EXISTS votes (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	step_id TEXT NOT NULL,
	sample_index INTEGER NOT NULL,
	model TEXT,
	temperature REAL,
	output TEXT,
	red_flags TEXT,
	votes INTEGER NOT NULL DEFAULT 0,
	is_winner INTEGER NOT NULL DEFAULT 0,
	created_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_votes_step_id ON votes(step_id);

CREATE TABLE IF NOT EXISTS actions (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	step_id TEXT NOT NULL,
	kind TEXT NOT NULL,
	path TEXT,
	ok INTEGER NOT NULL DEFAULT 0,
	detail TEXT,
	created_at DATETIME NOT NULL
);
`

// Exec executes a query that doesn't return rows.
func (s *Store) Exec(query string, args ...any) (sql.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.Exec(query, args...)
}

// Query executes a query that returns rows.
func (s *Store) Query(query string, args ...any) (*sql.Rows, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.conn.Query(query, args...)
}

// QueryRow executes a query that returns at most one row.
func (s *Store) QueryRow(query string, args ...any) *sql.Row {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.conn.QueryRow(query, args...)
}

// Transaction runs the given function within a transaction.
func (s *Store) Transaction(fn func(tx *sql.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.conn.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}

	return tx.Commit()
}

// formatTime formats a time.Time for SQLite storage.
func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// parseTime parses a time string from SQLite.
func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Parse(time.RFC3339, s)
	}
	return t, nil
}

// marshalJSON encodes v as a JSON string, or "" on failure.
func marshalJSON(v any) string {
	if v == nil {
		return ""
	}
	b, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(b)
}

// unmarshalStrings decodes a JSON string array. Malformed blobs yield nil
// rather than an error: stored JSON is treated as best-effort.
func unmarshalStrings(blob string) []string {
	if blob == "" {
		return nil
	}
	var out []string
	if err := json.Unmarshal([]byte(blob), &out); err != nil {
		return nil
	}
	return out
}

// unmarshalMap decodes a JSON object. Malformed blobs yield nil.
func unmarshalMap(blob string) map[string]any {
	if blob == "" {
		return nil
	}
	var out map[string]any
	if err := json.Unmarshal([]byte(blob), &out); err != nil {
		return nil
	}
	return out
}
