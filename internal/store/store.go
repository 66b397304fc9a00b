// Package store implements the durable state-graph registry on SQLite:
// runs, deduplicated nodes, edges, pending actions, and per-run memory.
//
// The store is the only shared mutable state between workers. Node and edge
// creation go through single-row insert-or-fetch operations guarded by
// uniqueness constraints, so every mutation is safely retryable and no
// distributed lock is needed.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"sitegraph/internal/logging"

	sqlite3 "github.com/mattn/go-sqlite3"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("store: not found")

// Store owns the SQLite database and the artifact blob directory.
type Store struct {
	db           *sql.DB
	dbPath       string
	artifactsDir string
}

// Open initializes the SQLite database at the given path. Pass ":memory:"
// for an ephemeral store (tests). artifactsDir may be empty, in which case
// artifact payloads are not persisted and refs stay empty.
func Open(path, artifactsDir string) (*Store, error) {
	timer := logging.StartTimer(logging.CategoryStore, "Open")
	defer timer.Stop()

	logging.Store("Initializing store at path: %s", path)

	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		logging.StoreDebug("Failed to set sqlite busy_timeout: %v", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		logging.StoreDebug("Failed to set sqlite journal_mode=WAL: %v", err)
	}
	// synchronous=NORMAL is safe with WAL and much faster than FULL.
	if _, err := db.Exec("PRAGMA synchronous = NORMAL"); err != nil {
		logging.StoreDebug("Failed to set sqlite synchronous=NORMAL: %v", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		logging.StoreDebug("Failed to enable foreign keys: %v", err)
	}

	s := &Store{db: db, dbPath: path, artifactsDir: artifactsDir}
	if err := s.initialize(); err != nil {
		db.Close()
		return nil, err
	}
	logging.Store("Store initialization complete")
	return s, nil
}

// initialize creates the required tables and indexes.
func (s *Store) initialize() error {
	runsTable := `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		target_url TEXT NOT NULL,
		start_url TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'running',
		owner_id TEXT NOT NULL DEFAULT '',
		metadata TEXT,
		created_at INTEGER NOT NULL,
		completed_at INTEGER,
		evaluation_payload TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
	`

	// The UNIQUE index on the equivalence key is the concurrency primitive:
	// losing a create race surfaces as a constraint violation, and the caller
	// re-reads the winning row.
	nodesTable := `
	CREATE TABLE IF NOT EXISTS nodes (
		id TEXT PRIMARY KEY,
		run_id TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
		url TEXT NOT NULL,
		url_normalized TEXT NOT NULL,
		a11y_hash TEXT NOT NULL,
		content_hash TEXT,
		state_hash TEXT NOT NULL,
		input_state_hash TEXT NOT NULL DEFAULT '',
		auth_state TEXT,
		storage_fingerprint TEXT,
		artifact_refs TEXT,
		route_depth INTEGER NOT NULL DEFAULT 0,
		modal_depth INTEGER NOT NULL DEFAULT 0,
		interaction_depth INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL,
		UNIQUE(run_id, url_normalized, a11y_hash, state_hash, input_state_hash)
	);
	CREATE INDEX IF NOT EXISTS idx_nodes_run ON nodes(run_id);
	`

	edgesTable := `
	CREATE TABLE IF NOT EXISTS edges (
		id TEXT PRIMARY KEY,
		run_id TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
		from_node_id TEXT NOT NULL REFERENCES nodes(id) ON DELETE CASCADE,
		to_node_id TEXT REFERENCES nodes(id) ON DELETE CASCADE,
		action_type TEXT NOT NULL,
		action_target TEXT NOT NULL,
		action_value TEXT NOT NULL DEFAULT '',
		cost REAL NOT NULL DEFAULT 0,
		latency_ms INTEGER NOT NULL DEFAULT 0,
		outcome TEXT NOT NULL,
		attempts INTEGER NOT NULL DEFAULT 1,
		error_msg TEXT NOT NULL DEFAULT '',
		intent_label TEXT,
		intent_confidence REAL,
		depth_diff_type TEXT NOT NULL DEFAULT '',
		diff_refs TEXT,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_edges_run ON edges(run_id);
	CREATE INDEX IF NOT EXISTS idx_edges_from ON edges(from_node_id);
	CREATE INDEX IF NOT EXISTS idx_edges_created ON edges(run_id, created_at);
	`

	// SQLite treats NULLs as distinct in unique indexes, so the edge key
	// coalesces to_node_id. Failed attempts (NULL destination) dedup too.
	edgeKeyIndex := `
	CREATE UNIQUE INDEX IF NOT EXISTS idx_edges_key
	ON edges(run_id, from_node_id, COALESCE(to_node_id, ''), action_type, action_target, action_value);
	`

	pendingTable := `
	CREATE TABLE IF NOT EXISTS pending_actions (
		id TEXT PRIMARY KEY,
		run_id TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
		from_node_id TEXT NOT NULL REFERENCES nodes(id) ON DELETE CASCADE,
		action_type TEXT NOT NULL,
		action_target TEXT NOT NULL,
		action_value TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT 'pending',
		created_at INTEGER NOT NULL,
		UNIQUE(run_id, from_node_id, action_type, action_target, action_value)
	);
	CREATE INDEX IF NOT EXISTS idx_pending_run_status ON pending_actions(run_id, status);
	`

	memoryTable := `
	CREATE TABLE IF NOT EXISTS run_memory (
		run_id TEXT PRIMARY KEY REFERENCES runs(id) ON DELETE CASCADE,
		content TEXT NOT NULL DEFAULT '{}',
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	`

	for _, table := range []string{
		runsTable,
		nodesTable,
		edgesTable,
		edgeKeyIndex,
		pendingTable,
		memoryTable,
	} {
		if _, err := s.db.Exec(table); err != nil {
			return fmt.Errorf("failed to create table: %w", err)
		}
	}

	if err := runMigrations(s.db); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	logging.Store("Closing store database connection")
	return s.db.Close()
}

// DB returns the underlying SQL database connection.
func (s *Store) DB() *sql.DB {
	return s.db
}

// isUniqueViolation reports whether err is a sqlite UNIQUE constraint
// failure. This specific failure is control flow, not an error: the caller
// lost an insert race and should re-read the winning row.
func isUniqueViolation(err error) bool {
	var serr sqlite3.Error
	if errors.As(err, &serr) {
		return serr.Code == sqlite3.ErrConstraint &&
			serr.ExtendedCode == sqlite3.ErrConstraintUnique
	}
	return false
}
