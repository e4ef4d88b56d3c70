// Package journal keeps a SQLite record of reconciliation runs.
package journal

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var schemaFS embed.FS

// Entry is the recorded outcome for one VM.
type Entry struct {
	VM        string
	Action    string
	Created   bool
	ErrorKind string
	Error     string
	Duration  time.Duration
}

// Run is one recorded reconciliation.
type Run struct {
	ID         string
	Source     string
	StartedAt  time.Time
	FinishedAt time.Time
	Entries    []Entry
}

// Failed counts the entries that recorded an error.
func (r Run) Failed() int {
	n := 0
	for _, e := range r.Entries {
		if e.Error != "" {
			n++
		}
	}
	return n
}

// Store is the journal database.
type Store struct {
	db   *sql.DB
	path string
}

// Open opens or creates the journal at path.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, err
	}

	dsn := fmt.Sprintf("file:%s?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening journal: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connecting to journal: %w", err)
	}
	db.SetMaxOpenConns(1)

	schema, err := schemaFS.ReadFile("schema.sql")
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("reading schema: %w", err)
	}
	if _, err := db.Exec(string(schema)); err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing schema: %w", err)
	}
	return &Store{db: db, path: path}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Record stores a run and its entries in one transaction. An empty ID is
// replaced by a new UUID, which is returned.
func (s *Store) Record(ctx context.Context, run Run) (string, error) {
	if run.ID == "" {
		run.ID = uuid.NewString()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO runs (id, source, started_at, finished_at) VALUES (?, ?, ?, ?)`,
		run.ID, run.Source, run.StartedAt.UTC(), run.FinishedAt.UTC())
	if err != nil {
		return "", fmt.Errorf("inserting run: %w", err)
	}

	for i, e := range run.Entries {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO entries (run_id, position, vm, action, created, error_kind, error, duration_ms)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			run.ID, i, e.VM, e.Action, e.Created, e.ErrorKind, e.Error, e.Duration.Milliseconds())
		if err != nil {
			return "", fmt.Errorf("inserting entry %s: %w", e.VM, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("committing run: %w", err)
	}
	return run.ID, nil
}

// List returns the most recent runs, newest first. limit <= 0 means all.
func (s *Store) List(ctx context.Context, limit int) ([]Run, error) {
	query := `SELECT id, source, started_at, finished_at FROM runs ORDER BY started_at DESC, rowid DESC`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying runs: %w", err)
	}
	var runs []Run
	for rows.Next() {
		var r Run
		if err := rows.Scan(&r.ID, &r.Source, &r.StartedAt, &r.FinishedAt); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scanning run: %w", err)
		}
		runs = append(runs, r)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range runs {
		entries, err := s.entries(ctx, runs[i].ID)
		if err != nil {
			return nil, err
		}
		runs[i].Entries = entries
	}
	return runs, nil
}

// Prune deletes runs that started before cutoff and returns how many went.
func (s *Store) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM runs WHERE started_at < ?`, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("pruning runs: %w", err)
	}
	return res.RowsAffected()
}

func (s *Store) entries(ctx context.Context, runID string) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT vm, action, created, error_kind, error, duration_ms FROM entries WHERE run_id = ? ORDER BY position`, runID)
	if err != nil {
		return nil, fmt.Errorf("querying entries: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			e  Entry
			ms int64
		)
		if err := rows.Scan(&e.VM, &e.Action, &e.Created, &e.ErrorKind, &e.Error, &ms); err != nil {
			return nil, fmt.Errorf("scanning entry: %w", err)
		}
		e.Duration = time.Duration(ms) * time.Millisecond
		out = append(out, e)
	}
	return out, rows.Err()
}
