// Package history keeps a local SQLite record of past sync runs so
// outcomes stay inspectable after the device is unplugged. Distinct
// from the on-target manifest, which is the source of truth for
// reconciliation.
package history

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// Run is one recorded sync run.
type Run struct {
	ID         string
	Target     string
	StartedAt  time.Time
	FinishedAt time.Time
	State      string
	Fetched    int
	Skipped    int
	Failed     int
	Bytes      int64
	Failures   []Failure
}

// Failure is one failed item within a run.
type Failure struct {
	ItemID   string
	Class    string
	Attempts int
	Error    string
}

// Store persists runs in a SQLite database.
type Store struct {
	db *sql.DB
}

// NewStore opens (or creates) the history database at dbPath.
func NewStore(dbPath string) (*Store, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create history dir: %w", err)
		}
	}

	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=10000", dbPath)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open history db: %w", err)
	}

	s := &Store{db: db}
	if err := s.createTables(); err != nil {
		db.Close()
		return nil, fmt.Errorf("create history tables: %w", err)
	}
	return s, nil
}

func (s *Store) createTables() error {
	query := `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		target TEXT NOT NULL,
		started_at DATETIME NOT NULL,
		finished_at DATETIME NOT NULL,
		state TEXT NOT NULL,
		fetched INTEGER NOT NULL,
		skipped INTEGER NOT NULL,
		failed INTEGER NOT NULL,
		bytes INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS run_failures (
		run_id TEXT NOT NULL REFERENCES runs(id),
		item_id TEXT NOT NULL,
		class TEXT NOT NULL,
		attempts INTEGER NOT NULL,
		error TEXT,
		PRIMARY KEY (run_id, item_id)
	);

	CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at);
	`
	_, err := s.db.Exec(query)
	return err
}

// SaveRun writes one run and its failures in a transaction.
func (s *Store) SaveRun(run Run) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.Exec(`
		INSERT OR REPLACE INTO runs
		(id, target, started_at, finished_at, state, fetched, skipped, failed, bytes)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.Target, run.StartedAt, run.FinishedAt, run.State,
		run.Fetched, run.Skipped, run.Failed, run.Bytes,
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}

	for _, f := range run.Failures {
		_, err = tx.Exec(`
			INSERT OR REPLACE INTO run_failures
			(run_id, item_id, class, attempts, error)
			VALUES (?, ?, ?, ?, ?)`,
			run.ID, f.ItemID, f.Class, f.Attempts, f.Error,
		)
		if err != nil {
			return fmt.Errorf("insert failure: %w", err)
		}
	}

	return tx.Commit()
}

// ListRuns returns the most recent runs, newest first, with failures
// attached.
func (s *Store) ListRuns(limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := s.db.Query(`
		SELECT id, target, started_at, finished_at, state, fetched, skipped, failed, bytes
		FROM runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var r Run
		if err := rows.Scan(&r.ID, &r.Target, &r.StartedAt, &r.FinishedAt,
			&r.State, &r.Fetched, &r.Skipped, &r.Failed, &r.Bytes); err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range runs {
		failures, err := s.listFailures(runs[i].ID)
		if err != nil {
			return nil, err
		}
		runs[i].Failures = failures
	}
	return runs, nil
}

func (s *Store) listFailures(runID string) ([]Failure, error) {
	rows, err := s.db.Query(`
		SELECT item_id, class, attempts, error
		FROM run_failures WHERE run_id = ?`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Failure
	for rows.Next() {
		var f Failure
		var errMsg sql.NullString
		if err := rows.Scan(&f.ItemID, &f.Class, &f.Attempts, &errMsg); err != nil {
			return nil, err
		}
		if errMsg.Valid {
			f.Error = errMsg.String
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}
