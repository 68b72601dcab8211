// Package history keeps a local SQLite record of past runs.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	boxerrors "github.com/isseis/go-boxps/internal/runner/errors"
	_ "modernc.org/sqlite" // registers the "sqlite" driver
)

// DefaultListLimit is used by List when limit is not positive.
const DefaultListLimit = 20

// Entry is one recorded run.
type Entry struct {
	RunID           string
	ScriptName      string
	ScriptSHA256    string
	Status          string
	ErrorKind       string
	ExitCode        int
	StartedAt       time.Time
	Duration        time.Duration
	ReportLocation  string
	ReportDelivered bool
}

// Store is a SQLite-backed run history.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// Open opens or creates the history database at path. ":memory:" gives a
// private in-memory store. A store that cannot be opened is a dependency
// error.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, boxerrors.Wrap(boxerrors.KindDependency, fmt.Sprintf("cannot open history database %s", path), err)
	}
	// A single connection keeps ":memory:" databases shared across calls.
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.initialize(); err != nil {
		_ = db.Close()
		return nil, boxerrors.Wrap(boxerrors.KindDependency, fmt.Sprintf("cannot initialize history database %s", path), err)
	}
	return s, nil
}

func (s *Store) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL UNIQUE,
		script_name TEXT NOT NULL,
		script_sha256 TEXT NOT NULL,
		status TEXT NOT NULL,
		error_kind TEXT,
		exit_code INTEGER NOT NULL,
		started_at INTEGER NOT NULL,
		duration_ms INTEGER NOT NULL,
		report_location TEXT,
		report_delivered INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at);
	CREATE INDEX IF NOT EXISTS idx_runs_sha256 ON runs(script_sha256);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Record stores e.
func (s *Store) Record(ctx context.Context, e Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (run_id, script_name, script_sha256, status, error_kind, exit_code,
			started_at, duration_ms, report_location, report_delivered)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.RunID, e.ScriptName, e.ScriptSHA256, e.Status, e.ErrorKind, e.ExitCode,
		e.StartedAt.UnixMilli(), e.Duration.Milliseconds(), e.ReportLocation, e.ReportDelivered,
	)
	if err != nil {
		return fmt.Errorf("insert run %s: %w", e.RunID, err)
	}
	return nil
}

// List returns up to limit entries, newest first.
func (s *Store) List(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT run_id, script_name, script_sha256, status, error_kind, exit_code,
			started_at, duration_ms, report_location, report_delivered
		FROM runs ORDER BY started_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			e          Entry
			errorKind  sql.NullString
			location   sql.NullString
			startedMS  int64
			durationMS int64
		)
		if err := rows.Scan(&e.RunID, &e.ScriptName, &e.ScriptSHA256, &e.Status, &errorKind, &e.ExitCode,
			&startedMS, &durationMS, &location, &e.ReportDelivered); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		e.ErrorKind = errorKind.String
		e.ReportLocation = location.String
		e.StartedAt = time.UnixMilli(startedMS).UTC()
		e.Duration = time.Duration(durationMS) * time.Millisecond
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return entries, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}
