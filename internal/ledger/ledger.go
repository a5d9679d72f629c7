// Package ledger keeps a SQLite history of book runs.
package ledger

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/yuanying/epubfetch/internal/pipeline"
)

//go:embed schema.sql
var schemaSQL string

// schemaVersion is bumped whenever schema.sql changes incompatibly.
const schemaVersion = 1

// ErrSchemaMismatch indicates a database written by an incompatible version.
var ErrSchemaMismatch = errors.New("ledger schema version mismatch")

// Run is one row of the history.
type Run struct {
	RunID      string
	BookID     string
	Title      string
	Format     string
	State      string
	Output     string
	Error      string
	StartedAt  time.Time
	UpdatedAt  time.Time
	FinishedAt *time.Time
}

// Ledger records pipeline events. It implements pipeline.Observer.
type Ledger struct {
	db     *sql.DB
	path   string
	logger *slog.Logger
}

// Open creates or opens the ledger database at path.
func Open(ctx context.Context, path string, logger *slog.Logger) (*Ledger, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create ledger directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open ledger: %w", err)
	}
	// Events arrive from several book goroutines; one connection serializes them.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to apply pragma %q: %w", pragma, err)
		}
	}

	l := &Ledger{db: db, path: path, logger: logger}
	if err := l.initSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return l, nil
}

// Path returns the database file.
func (l *Ledger) Path() string { return l.path }

// Close closes the database.
func (l *Ledger) Close() error {
	if l == nil || l.db == nil {
		return nil
	}
	return l.db.Close()
}

func (l *Ledger) initSchema(ctx context.Context) error {
	var exists int
	err := l.db.QueryRowContext(ctx,
		"SELECT COUNT(1) FROM sqlite_master WHERE type='table' AND name='schema_version'",
	).Scan(&exists)
	if err != nil {
		return fmt.Errorf("failed to check schema_version table: %w", err)
	}

	if exists == 0 {
		tx, err := l.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin schema tx: %w", err)
		}
		defer func() { _ = tx.Rollback() }()
		if _, err := tx.ExecContext(ctx, schemaSQL); err != nil {
			return fmt.Errorf("failed to create schema: %w", err)
		}
		if _, err := tx.ExecContext(ctx, "INSERT INTO schema_version (version) VALUES (?)", schemaVersion); err != nil {
			return fmt.Errorf("failed to record schema version: %w", err)
		}
		return tx.Commit()
	}

	var version int
	if err := l.db.QueryRowContext(ctx, "SELECT version FROM schema_version LIMIT 1").Scan(&version); err != nil {
		return fmt.Errorf("failed to read schema version: %w", err)
	}
	if version != schemaVersion {
		return fmt.Errorf("%w: database has version %d, expected %d (delete %s)", ErrSchemaMismatch, version, schemaVersion, l.path)
	}
	return nil
}

// Record stores one event: the run row is created or updated and the
// transition is appended.
func (l *Ledger) Record(ctx context.Context, ev pipeline.Event) error {
	at := ev.At
	if at.IsZero() {
		at = time.Now()
	}
	ts := at.UTC().Format(time.RFC3339Nano)
	var finished any
	if ev.To.Terminal() {
		finished = ts
	}

	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin ledger tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
INSERT INTO runs (run_id, book_id, title, format, state, output, error, started_at, updated_at, finished_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(run_id) DO UPDATE SET
    title       = COALESCE(NULLIF(excluded.title, ''), runs.title),
    state       = excluded.state,
    output      = COALESCE(excluded.output, runs.output),
    error       = COALESCE(excluded.error, runs.error),
    updated_at  = excluded.updated_at,
    finished_at = COALESCE(excluded.finished_at, runs.finished_at)`,
		ev.RunID, ev.BookID, ev.Title, string(ev.Format), ev.To.String(),
		nullable(ev.Output), errText(ev.Err), ts, ts, finished,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert run: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		"INSERT INTO transitions (run_id, from_state, to_state, error, at) VALUES (?, ?, ?, ?, ?)",
		ev.RunID, ev.From.String(), ev.To.String(), errText(ev.Err), ts,
	)
	if err != nil {
		return fmt.Errorf("failed to insert transition: %w", err)
	}
	return tx.Commit()
}

// Observe implements pipeline.Observer. Failures are logged; a broken ledger
// never fails a book.
func (l *Ledger) Observe(ctx context.Context, ev pipeline.Event) {
	// Record even when the book's context was canceled.
	if err := l.Record(context.WithoutCancel(ctx), ev); err != nil {
		l.logger.Warn("failed to record run event", "book", ev.BookID, "error", err)
	}
}

// Recent returns up to limit runs, newest first. An empty bookID lists every book.
func (l *Ledger) Recent(ctx context.Context, bookID string, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}
	query := `SELECT run_id, book_id, COALESCE(title, ''), format, state, COALESCE(output, ''),
        COALESCE(error, ''), started_at, updated_at, finished_at FROM runs`
	args := []any{}
	if bookID != "" {
		query += " WHERE book_id = ?"
		args = append(args, bookID)
	}
	query += " ORDER BY started_at DESC, rowid DESC LIMIT ?"
	args = append(args, limit)

	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var (
			r                Run
			started, updated string
			finished         sql.NullString
		)
		if err := rows.Scan(&r.RunID, &r.BookID, &r.Title, &r.Format, &r.State, &r.Output,
			&r.Error, &started, &updated, &finished); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		r.StartedAt = parseTime(started)
		r.UpdatedAt = parseTime(updated)
		if finished.Valid {
			t := parseTime(finished.String)
			r.FinishedAt = &t
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// Transitions returns the recorded states of one run in order.
func (l *Ledger) Transitions(ctx context.Context, runID string) ([]string, error) {
	rows, err := l.db.QueryContext(ctx, "SELECT to_state FROM transitions WHERE run_id = ? ORDER BY id", runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query transitions: %w", err)
	}
	defer rows.Close()
	var states []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, fmt.Errorf("failed to scan transition: %w", err)
		}
		states = append(states, s)
	}
	return states, rows.Err()
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func errText(err error) any {
	if err == nil {
		return nil
	}
	return err.Error()
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}
