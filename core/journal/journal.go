// Package journal records every annotation attempt in a SQLite database.
//
// Each entry ties a request to the snapshot hashes of the document before and
// after the change, so any past state can be restored from the snapshot store.
package journal

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/zeebo/xxh3"

	"github.com/FocuswithJustin/docanchor/core/errors"
	"github.com/FocuswithJustin/docanchor/core/sqlite"
)

const schema = `
	CREATE TABLE IF NOT EXISTS entries (
		id TEXT PRIMARY KEY,
		batch TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL,
		document TEXT NOT NULL,
		target TEXT NOT NULL,
		author TEXT NOT NULL DEFAULT '',
		body TEXT NOT NULL DEFAULT '',
		annotation_id INTEGER NOT NULL DEFAULT -1,
		mode TEXT NOT NULL DEFAULT '',
		paragraph INTEGER NOT NULL DEFAULT -1,
		fingerprint TEXT NOT NULL DEFAULT '',
		input_sha256 TEXT NOT NULL DEFAULT '',
		output_sha256 TEXT NOT NULL DEFAULT '',
		error TEXT NOT NULL DEFAULT ''
	);
	CREATE INDEX IF NOT EXISTS idx_entries_document ON entries(document, created_at);
	CREATE INDEX IF NOT EXISTS idx_entries_batch ON entries(batch);
`

const columns = `id, batch, created_at, document, target, author, body, annotation_id,
	mode, paragraph, fingerprint, input_sha256, output_sha256, error`

// Entry is one annotation attempt.
type Entry struct {
	ID        string    `json:"id"`
	Batch     string    `json:"batch,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	Document  string    `json:"document"`
	Target    string    `json:"target"`
	Author    string    `json:"author,omitempty"`
	Body      string    `json:"body,omitempty"`
	// AnnotationID is -1 when the attempt failed.
	AnnotationID int    `json:"annotation_id"`
	Mode         string `json:"mode,omitempty"`
	Paragraph    int    `json:"paragraph"`
	// Fingerprint identifies the anchored paragraph's text at the time.
	Fingerprint  string `json:"fingerprint,omitempty"`
	InputSHA256  string `json:"input_sha256,omitempty"`
	OutputSHA256 string `json:"output_sha256,omitempty"`
	Error        string `json:"error,omitempty"`
}

// Failed reports whether the attempt produced no annotation.
func (e *Entry) Failed() bool {
	return e.Error != ""
}

// Filter narrows List. Zero values match everything.
type Filter struct {
	Document string
	Batch    string
	Since    time.Time
	Failed   bool
	// Limit caps the number of entries. Zero means no limit.
	Limit int
}

// Journal is a handle on the journal database. It is safe for concurrent use.
type Journal struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens or creates the journal at path.
func Open(ctx context.Context, path string) (*Journal, error) {
	db, err := sqlite.OpenFile(ctx, path)
	if err != nil {
		return nil, errors.NewIO("open journal", path, err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, errors.NewIO("create journal schema", path, err)
	}
	return &Journal{db: db, now: time.Now}, nil
}

// Close closes the database.
func (j *Journal) Close() error {
	return j.db.Close()
}

// Record stores e, filling in ID and CreatedAt when they are unset.
func (j *Journal) Record(ctx context.Context, e *Entry) error {
	if e.Document == "" {
		return errors.NewValidation("document", "must not be empty")
	}
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = j.now()
	}
	e.CreatedAt = e.CreatedAt.UTC()

	_, err := j.db.ExecContext(ctx,
		`INSERT INTO entries (`+columns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.Batch, e.CreatedAt.Format(time.RFC3339Nano), e.Document, e.Target,
		e.Author, e.Body, e.AnnotationID, e.Mode, e.Paragraph, e.Fingerprint,
		e.InputSHA256, e.OutputSHA256, e.Error,
	)
	if err != nil {
		return fmt.Errorf("record journal entry: %w", err)
	}
	return nil
}

// Get returns the entry with the given ID.
func (j *Journal) Get(ctx context.Context, id string) (*Entry, error) {
	row := j.db.QueryRowContext(ctx, `SELECT `+columns+` FROM entries WHERE id = ?`, id)
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.NewNotFound("journal entry", id)
	}
	if err != nil {
		return nil, err
	}
	return e, nil
}

// List returns matching entries, newest first.
func (j *Journal) List(ctx context.Context, f Filter) ([]*Entry, error) {
	var (
		where []string
		args  []any
	)
	if f.Document != "" {
		where = append(where, "document = ?")
		args = append(args, f.Document)
	}
	if f.Batch != "" {
		where = append(where, "batch = ?")
		args = append(args, f.Batch)
	}
	if !f.Since.IsZero() {
		where = append(where, "created_at >= ?")
		args = append(args, f.Since.UTC().Format(time.RFC3339Nano))
	}
	if f.Failed {
		where = append(where, "error != ''")
	}

	query := `SELECT ` + columns + ` FROM entries`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC, rowid DESC"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := j.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list journal entries: %w", err)
	}
	defer rows.Close()

	var out []*Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(s scanner) (*Entry, error) {
	var (
		e       Entry
		created string
	)
	err := s.Scan(&e.ID, &e.Batch, &created, &e.Document, &e.Target, &e.Author,
		&e.Body, &e.AnnotationID, &e.Mode, &e.Paragraph, &e.Fingerprint,
		&e.InputSHA256, &e.OutputSHA256, &e.Error)
	if err != nil {
		return nil, err
	}
	e.CreatedAt, err = time.Parse(time.RFC3339Nano, created)
	if err != nil {
		return nil, errors.NewParse("journal", e.ID, "bad created_at "+created)
	}
	return &e, nil
}

// Fingerprint returns the 16 hex character xxh3 hash of a paragraph's text.
func Fingerprint(text string) string {
	return fmt.Sprintf("%016x", xxh3.HashString(text))
}
