package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/roach88/recstore/internal/backend"
)

// timeLayout is the TEXT encoding of timestamp columns. Fixed width keeps
// lexical and chronological order identical.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		// Rows written by other tools may use plain RFC 3339.
		t, err = time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return time.Time{}, fmt.Errorf("parse time %q: %w", s, err)
		}
	}
	return t.UTC(), nil
}

// rowScanner abstracts *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

const rowColumns = `id, entity, unique_key, fields, payload_hash, version, batch_id, created_at, updated_at`

// scanRow scans a records row selected with rowColumns.
func scanRow(sc rowScanner) (backend.Row, error) {
	var (
		row       backend.Row
		fields    string
		createdAt string
		updatedAt string
	)
	if err := sc.Scan(
		&row.ID,
		&row.Entity,
		&row.Key,
		&fields,
		&row.PayloadHash,
		&row.Version,
		&row.BatchID,
		&createdAt,
		&updatedAt,
	); err != nil {
		return backend.Row{}, err
	}

	row.Fields = []byte(fields)

	var err error
	if row.CreatedAt, err = parseTime(createdAt); err != nil {
		return backend.Row{}, fmt.Errorf("scan row %d: %w", row.ID, err)
	}
	if row.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return backend.Row{}, fmt.Errorf("scan row %d: %w", row.ID, err)
	}
	return row, nil
}

const batchColumns = `id, entity, received, created, updated, unchanged, skipped, committed_at`

func scanBatch(sc rowScanner) (backend.Batch, error) {
	var (
		b           backend.Batch
		committedAt string
	)
	if err := sc.Scan(&b.ID, &b.Entity, &b.Received, &b.Created, &b.Updated, &b.Unchanged, &b.Skipped, &committedAt); err != nil {
		return backend.Batch{}, err
	}
	t, err := parseTime(committedAt)
	if err != nil {
		return backend.Batch{}, fmt.Errorf("scan batch %s: %w", b.ID, err)
	}
	b.CommittedAt = t
	return b, nil
}

var _ rowScanner = (*sql.Row)(nil)
