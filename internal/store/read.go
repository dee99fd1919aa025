package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/roach88/recstore/internal/backend"
)

// loadEntities fills the registered-entity cache from the database.
func (s *Store) loadEntities(ctx context.Context) error {
	rows, err := s.db.QueryContext(ctx, `SELECT name, key_path FROM entities`)
	if err != nil {
		return fmt.Errorf("load entities: %w", err)
	}
	defer rows.Close()

	s.mu.Lock()
	defer s.mu.Unlock()
	for rows.Next() {
		var e backend.Entity
		if err := rows.Scan(&e.Name, &e.KeyPath); err != nil {
			return fmt.Errorf("load entities: %w", err)
		}
		s.entities[e.Name] = e
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("load entities: %w", err)
	}
	return nil
}

func (s *Store) checkEntity(entity string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.entities[entity]; !ok {
		return fmt.Errorf("%s: %w", entity, backend.ErrUnknownEntity)
	}
	return nil
}

// Entities implements backend.Backend.
func (s *Store) Entities(ctx context.Context) ([]backend.Entity, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT name, key_path FROM entities
		ORDER BY name COLLATE BINARY ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query entities: %w", err)
	}
	defer rows.Close()

	entities := []backend.Entity{}
	for rows.Next() {
		var e backend.Entity
		if err := rows.Scan(&e.Name, &e.KeyPath); err != nil {
			return nil, fmt.Errorf("scan entity: %w", err)
		}
		entities = append(entities, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate entities: %w", err)
	}
	return entities, nil
}

// Fetch implements backend.Backend. Rows come back in the order of ids.
func (s *Store) Fetch(ctx context.Context, ids []int64) ([]backend.Row, error) {
	if len(ids) == 0 {
		return []backend.Row{}, nil
	}

	byID := make(map[int64]backend.Row, len(ids))
	for start := 0; start < len(ids); start += fetchChunk {
		end := min(start+fetchChunk, len(ids))
		if err := s.fetchInto(ctx, ids[start:end], byID); err != nil {
			return nil, err
		}
	}

	out := make([]backend.Row, 0, len(ids))
	for _, id := range ids {
		row, ok := byID[id]
		if !ok {
			return nil, fmt.Errorf("fetch id %d: %w", id, backend.ErrNotFound)
		}
		out = append(out, row)
	}
	return out, nil
}

// fetchChunk bounds the placeholders per query, well under SQLite's
// variable limit.
const fetchChunk = 500

func (s *Store) fetchInto(ctx context.Context, ids []int64, byID map[int64]backend.Row) error {
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+rowColumns+` FROM records WHERE id IN (`+placeholders+`)`,
		args...,
	)
	if err != nil {
		return fmt.Errorf("fetch records: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		row, err := scanRow(rows)
		if err != nil {
			return fmt.Errorf("fetch records: %w", err)
		}
		byID[row.ID] = row
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate records: %w", err)
	}
	return nil
}

// Get implements backend.Backend.
func (s *Store) Get(ctx context.Context, entity, key string) (backend.Row, bool, error) {
	if err := s.checkEntity(entity); err != nil {
		return backend.Row{}, false, fmt.Errorf("get: %w", err)
	}
	return findOne(ctx, s.db, entity, key)
}

// queryRower is satisfied by *sql.DB and *sql.Tx.
type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func findOne(ctx context.Context, q queryRower, entity, key string) (backend.Row, bool, error) {
	row, err := scanRow(q.QueryRowContext(ctx,
		`SELECT `+rowColumns+` FROM records WHERE entity = ? AND unique_key = ?`,
		entity, key,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return backend.Row{}, false, nil
	}
	if err != nil {
		return backend.Row{}, false, fmt.Errorf("find %s[%s]: %w", entity, key, err)
	}
	return row, true, nil
}

// List implements backend.Backend.
// Results are ordered deterministically: ORDER BY unique_key COLLATE BINARY.
//
// Returns an empty slice (not nil) if the entity has no rows.
func (s *Store) List(ctx context.Context, entity string, opts backend.ListOptions) ([]backend.Row, error) {
	if err := s.checkEntity(entity); err != nil {
		return nil, fmt.Errorf("list: %w", err)
	}

	limit := -1 // SQLite: negative LIMIT means no limit
	if opts.Limit > 0 {
		limit = opts.Limit
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+rowColumns+`
		FROM records
		WHERE entity = ?
		ORDER BY unique_key COLLATE BINARY ASC
		LIMIT ? OFFSET ?
	`, entity, limit, opts.Offset)
	if err != nil {
		return nil, fmt.Errorf("query records: %w", err)
	}
	defer rows.Close()

	out := []backend.Row{}
	for rows.Next() {
		row, err := scanRow(rows)
		if err != nil {
			return nil, fmt.Errorf("list records: %w", err)
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate records: %w", err)
	}
	return out, nil
}

// Count implements backend.Backend.
func (s *Store) Count(ctx context.Context, entity string) (int, error) {
	if err := s.checkEntity(entity); err != nil {
		return 0, fmt.Errorf("count: %w", err)
	}
	var n int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM records WHERE entity = ?`, entity,
	).Scan(&n); err != nil {
		return 0, fmt.Errorf("count records: %w", err)
	}
	return n, nil
}

// Batches implements backend.Backend. Oldest first.
func (s *Store) Batches(ctx context.Context, entity string) ([]backend.Batch, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+batchColumns+`
		FROM import_batches
		WHERE entity = ?
		ORDER BY seq ASC
	`, entity)
	if err != nil {
		return nil, fmt.Errorf("query batches: %w", err)
	}
	defer rows.Close()

	out := []backend.Batch{}
	for rows.Next() {
		b, err := scanBatch(rows)
		if err != nil {
			return nil, fmt.Errorf("scan batch: %w", err)
		}
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate batches: %w", err)
	}
	return out, nil
}
