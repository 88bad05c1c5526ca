// Package sqlite stores capture records in a SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/0xlemi/micnote/internal/storage"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS capture_record (
	rowid          INTEGER PRIMARY KEY,
	session_id     TEXT    NOT NULL,
	recorded_at_ms INTEGER NOT NULL,
	sample_rate    INTEGER NOT NULL,
	payload        BLOB    NOT NULL
);
CREATE INDEX IF NOT EXISTS capture_record_recorded_at ON capture_record (recorded_at_ms);
`

// Store is a storage.Store backed by one SQLite file
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the database at path
func Open(ctx context.Context, path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database %s: %w", path, err)
	}
	// Flushes arrive concurrently; one connection queues them instead of
	// failing with SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("configure database: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Write inserts one record
func (s *Store) Write(ctx context.Context, r storage.Record) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO capture_record (session_id, recorded_at_ms, sample_rate, payload) VALUES (?, ?, ?, ?)`,
		r.SessionID, r.RecordedAtMs, r.SampleRate, r.Payload)
	if err != nil {
		return fmt.Errorf("insert capture record: %w", err)
	}
	return nil
}

// List returns the most recent records first, without payloads
func (s *Store) List(ctx context.Context, limit int) ([]storage.Summary, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT rowid, session_id, recorded_at_ms, sample_rate, length(payload)
		 FROM capture_record ORDER BY recorded_at_ms DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list capture records: %w", err)
	}
	defer rows.Close()

	var out []storage.Summary
	for rows.Next() {
		var sum storage.Summary
		if err := rows.Scan(&sum.ID, &sum.SessionID, &sum.RecordedAtMs, &sum.SampleRate, &sum.Bytes); err != nil {
			return nil, fmt.Errorf("scan capture record: %w", err)
		}
		out = append(out, sum)
	}
	return out, rows.Err()
}

// Get loads one record including its payload
func (s *Store) Get(ctx context.Context, id int64) (storage.Record, error) {
	r := storage.Record{ID: id}
	err := s.db.QueryRowContext(ctx,
		`SELECT session_id, recorded_at_ms, sample_rate, payload FROM capture_record WHERE rowid = ?`, id).
		Scan(&r.SessionID, &r.RecordedAtMs, &r.SampleRate, &r.Payload)
	if errors.Is(err, sql.ErrNoRows) {
		return storage.Record{}, fmt.Errorf("record %d: %w", id, storage.ErrNotFound)
	}
	if err != nil {
		return storage.Record{}, fmt.Errorf("load capture record %d: %w", id, err)
	}
	return r, nil
}

// Close closes the database
func (s *Store) Close() error {
	return s.db.Close()
}
