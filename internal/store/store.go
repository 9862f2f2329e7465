package store

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schemaSQL string

// Schema version tracking:
// 0 - Initial schema (pre-migration)
// 1 - Added index on messages(run_id, test_id)
const currentSchemaVersion = 1

// ErrNoRuns is returned by LatestRun on an empty journal.
var ErrNoRuns = errors.New("journal contains no runs")

// Store is the durable journal of test runs.
// Uses SQLite with WAL mode for concurrent read access.
//
// Thread-safety: all methods are safe for concurrent use. Writes that assign
// seq numbers are serialized by mu.
type Store struct {
	db *sql.DB

	mu   sync.Mutex
	seqs map[string]int64 // run ID -> last assigned seq
}

// Open creates or opens a SQLite database at the given path.
// Applies required pragmas and migrations automatically.
//
// This function is idempotent - safe to call multiple times.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// SQLite only supports one writer at a time.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}

	if err := applySchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &Store{db: db, seqs: make(map[string]int64)}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// BeginRun registers a new run and returns its ID.
// Run IDs are UUIDv7, so they sort by creation time.
func (s *Store) BeginRun(ctx context.Context, label string) (string, error) {
	id := uuid.Must(uuid.NewV7()).String()
	if _, err := s.db.ExecContext(ctx, `INSERT INTO runs (id, label) VALUES (?, ?)`, id, label); err != nil {
		return "", fmt.Errorf("begin run: %w", err)
	}

	s.mu.Lock()
	s.seqs[id] = 0
	s.mu.Unlock()
	return id, nil
}

// nextSeq returns the next logical clock value for runID without claiming
// it. Callers hold mu and call claimSeq once the row is written, so a
// failed insert leaves no gap.
func (s *Store) nextSeq(ctx context.Context, runID string) (int64, error) {
	last, ok := s.seqs[runID]
	if !ok {
		// Run begun by another process or before a reopen.
		err := s.db.QueryRowContext(ctx, `
			SELECT MAX(m) FROM (
				SELECT COALESCE(MAX(seq), 0) AS m FROM messages WHERE run_id = ?
				UNION ALL
				SELECT COALESCE(MAX(seq), 0) FROM outcomes WHERE run_id = ?
			)
		`, runID, runID).Scan(&last)
		if err != nil {
			return 0, fmt.Errorf("load seq for run %s: %w", runID, err)
		}
	}
	return last + 1, nil
}

// claimSeq records seq as the last value written for runID. Callers hold mu.
func (s *Store) claimSeq(runID string, seq int64) {
	s.seqs[runID] = seq
}

// applyPragmas sets required SQLite configuration.
func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}

	return nil
}

// applySchema creates tables if they don't exist and runs migrations.
func applySchema(db *sql.DB) error {
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}

	if err := runMigrations(db); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// runMigrations applies incremental schema migrations based on user_version.
func runMigrations(db *sql.DB) error {
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("get user_version: %w", err)
	}

	if version < 1 {
		if err := migrateToV1(db); err != nil {
			return err
		}
	}

	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}

	return nil
}

// migrateToV1 indexes messages by test so trace can filter one test cheaply.
func migrateToV1(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_messages_test
		ON messages(run_id, test_id)
	`)
	if err != nil {
		return fmt.Errorf("migrate to v1: %w", err)
	}
	return nil
}

// verifyPragma checks that a pragma is set to the expected value.
// Used for testing.
func (s *Store) verifyPragma(name, expected string) error {
	var value string
	if err := s.db.QueryRow(fmt.Sprintf("PRAGMA %s", name)).Scan(&value); err != nil {
		return fmt.Errorf("failed to query %s: %w", name, err)
	}
	if value != expected {
		return fmt.Errorf("%s = %q, expected %q", name, value, expected)
	}
	return nil
}
