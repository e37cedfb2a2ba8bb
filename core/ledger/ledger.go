// Package ledger keeps a SQLite record of finished conversion jobs so they
// can be listed after the in-memory job store forgets them.
//
// Build modes:
//   - Default (CGO_ENABLED=0): pure Go modernc.org/sqlite
//   - CGO mode (-tags cgo_sqlite): mattn/go-sqlite3
package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/FocuswithJustin/voc2coco/core/errors"
)

const schema = `
CREATE TABLE IF NOT EXISTS jobs (
	id          TEXT PRIMARY KEY,
	status      TEXT NOT NULL,
	documents   INTEGER NOT NULL DEFAULT 0,
	images      INTEGER NOT NULL DEFAULT 0,
	annotations INTEGER NOT NULL DEFAULT 0,
	skipped     INTEGER NOT NULL DEFAULT 0,
	digest      TEXT NOT NULL DEFAULT '',
	error       TEXT NOT NULL DEFAULT '',
	created_at  TEXT NOT NULL,
	finished_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS jobs_finished_at ON jobs(finished_at);
`

// Entry is one finished job.
type Entry struct {
	ID          string    `json:"id"`
	Status      string    `json:"status"`
	Documents   int       `json:"documents"`
	Images      int       `json:"images"`
	Annotations int       `json:"annotations"`
	Skipped     int       `json:"skipped"`
	Digest      string    `json:"digest,omitempty"`
	Error       string    `json:"error,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	FinishedAt  time.Time `json:"finished_at"`
}

// Ledger is a handle on the jobs database. It is safe for concurrent use.
type Ledger struct {
	db *sql.DB
}

// DriverType returns "purego" or "cgo" depending on the build.
func DriverType() string {
	return driverType
}

// Open opens or creates the ledger at path.
func Open(path string) (*Ledger, error) {
	db, err := sql.Open(driverName, path)
	if err != nil {
		return nil, errors.NewIO("open ledger", path, err)
	}
	// A single connection serializes writers and avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, errors.NewIO("initialize ledger", path, err)
	}
	return &Ledger{db: db}, nil
}

// Close closes the database.
func (l *Ledger) Close() error {
	return l.db.Close()
}

// Record inserts or replaces e.
func (l *Ledger) Record(ctx context.Context, e Entry) error {
	if e.ID == "" {
		return errors.NewValidation("id", "job id is required")
	}
	_, err := l.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO jobs
			(id, status, documents, images, annotations, skipped, digest, error, created_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.Status, e.Documents, e.Images, e.Annotations, e.Skipped, e.Digest, e.Error,
		formatTime(e.CreatedAt), formatTime(e.FinishedAt),
	)
	if err != nil {
		return fmt.Errorf("record job %s: %w", e.ID, err)
	}
	return nil
}

// Get returns the entry for id or a NotFoundError.
func (l *Ledger) Get(ctx context.Context, id string) (Entry, error) {
	row := l.db.QueryRowContext(ctx, `
		SELECT id, status, documents, images, annotations, skipped, digest, error, created_at, finished_at
		FROM jobs WHERE id = ?`, id)
	e, err := scanEntry(row)
	if err == sql.ErrNoRows {
		return Entry{}, errors.NewNotFound("job", id)
	}
	return e, err
}

// List returns up to limit entries, most recently finished first. A limit
// of zero or less returns everything.
func (l *Ledger) List(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := l.db.QueryContext(ctx, `
		SELECT id, status, documents, images, annotations, skipped, digest, error, created_at, finished_at
		FROM jobs ORDER BY finished_at DESC, id LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	entries := []Entry{}
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(s scanner) (Entry, error) {
	var e Entry
	var created, finished string
	if err := s.Scan(&e.ID, &e.Status, &e.Documents, &e.Images, &e.Annotations, &e.Skipped,
		&e.Digest, &e.Error, &created, &finished); err != nil {
		return Entry{}, err
	}
	e.CreatedAt = parseTime(created)
	e.FinishedAt = parseTime(finished)
	return e, nil
}

// Times are stored as fixed-width UTC text so they sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
