package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/roach88/recstore/internal/backend"
)

// Register implements backend.Backend.
// Uses ON CONFLICT(name) DO NOTHING so re-registering the same schema is a
// no-op; a different key path for an existing entity is rejected.
func (s *Store) Register(ctx context.Context, entities []backend.Entity) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("register: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	now := formatTime(s.now())
	for _, e := range entities {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO entities (name, key_path, registered_at)
			VALUES (?, ?, ?)
			ON CONFLICT(name) DO NOTHING
		`, e.Name, e.KeyPath, now); err != nil {
			return fmt.Errorf("register %s: %w", e.Name, err)
		}

		var keyPath string
		if err := tx.QueryRowContext(ctx,
			`SELECT key_path FROM entities WHERE name = ?`, e.Name,
		).Scan(&keyPath); err != nil {
			return fmt.Errorf("register %s: select existing: %w", e.Name, err)
		}
		if keyPath != e.KeyPath {
			return fmt.Errorf("register %s: %w (have %q, got %q)", e.Name, backend.ErrKeyPathConflict, keyPath, e.KeyPath)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("register: commit: %w", err)
	}

	s.mu.Lock()
	for _, e := range entities {
		s.entities[e.Name] = e
	}
	s.mu.Unlock()
	return nil
}

// Transact implements backend.Backend.
// Errors returned by work are passed through unwrapped so callers can match
// their own error types; commit failures are wrapped.
func (s *Store) Transact(ctx context.Context, work func(backend.Tx) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("transact: begin tx: %w", err)
	}
	defer sqlTx.Rollback() // No-op if committed

	if err := work(&tx{store: s, tx: sqlTx}); err != nil {
		return err
	}

	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("transact: commit: %w", err)
	}
	return nil
}

// tx implements backend.Tx over a *sql.Tx.
type tx struct {
	store *Store
	tx    *sql.Tx
}

// FindOne implements backend.Tx.
func (t *tx) FindOne(ctx context.Context, entity, key string) (backend.Row, bool, error) {
	if err := t.store.checkEntity(entity); err != nil {
		return backend.Row{}, false, fmt.Errorf("find one: %w", err)
	}
	return findOne(ctx, t.tx, entity, key)
}

// Insert implements backend.Tx.
func (t *tx) Insert(ctx context.Context, row *backend.Row) error {
	if err := t.store.checkEntity(row.Entity); err != nil {
		return fmt.Errorf("insert: %w", err)
	}

	now := t.store.now()
	ts := formatTime(now)
	result, err := t.tx.ExecContext(ctx, `
		INSERT INTO records
		(entity, unique_key, fields, payload_hash, version, batch_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, 1, ?, ?, ?)
	`,
		row.Entity,
		row.Key,
		string(row.Fields),
		row.PayloadHash,
		row.BatchID,
		ts,
		ts,
	)
	if err != nil {
		return fmt.Errorf("insert %s[%s]: %w", row.Entity, row.Key, err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("insert %s[%s]: last insert id: %w", row.Entity, row.Key, err)
	}

	row.ID = id
	row.Version = 1
	row.CreatedAt, _ = parseTime(ts)
	row.UpdatedAt = row.CreatedAt
	return nil
}

// Update implements backend.Tx.
func (t *tx) Update(ctx context.Context, row *backend.Row) error {
	ts := formatTime(t.store.now())
	result, err := t.tx.ExecContext(ctx, `
		UPDATE records
		SET fields = ?, payload_hash = ?, batch_id = ?, version = version + 1, updated_at = ?
		WHERE id = ?
	`,
		string(row.Fields),
		row.PayloadHash,
		row.BatchID,
		ts,
		row.ID,
	)
	if err != nil {
		return fmt.Errorf("update id %d: %w", row.ID, err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update id %d: rows affected: %w", row.ID, err)
	}
	if n == 0 {
		return fmt.Errorf("update id %d: %w", row.ID, backend.ErrNotFound)
	}

	updated, err := scanRow(t.tx.QueryRowContext(ctx,
		`SELECT `+rowColumns+` FROM records WHERE id = ?`, row.ID,
	))
	if err != nil {
		return fmt.Errorf("update id %d: reload: %w", row.ID, err)
	}
	*row = updated
	return nil
}

// RecordBatch implements backend.Tx.
func (t *tx) RecordBatch(ctx context.Context, b *backend.Batch) error {
	ts := formatTime(t.store.now())
	if _, err := t.tx.ExecContext(ctx, `
		INSERT INTO import_batches
		(id, entity, received, created, updated, unchanged, skipped, committed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`,
		b.ID,
		b.Entity,
		b.Received,
		b.Created,
		b.Updated,
		b.Unchanged,
		b.Skipped,
		ts,
	); err != nil {
		return fmt.Errorf("record batch %s: %w", b.ID, err)
	}
	b.CommittedAt, _ = parseTime(ts)
	return nil
}
