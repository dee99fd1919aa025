package memstore

import (
	"context"
	"fmt"

	"github.com/roach88/recstore/internal/backend"
)

// tx mutates a private copy of the store state.
type tx struct {
	now backend.Clock
	st  *state
}

func (t *tx) checkEntity(entity string) error {
	if _, ok := t.st.entities[entity]; !ok {
		return fmt.Errorf("%s: %w", entity, backend.ErrUnknownEntity)
	}
	return nil
}

// FindOne implements backend.Tx.
func (t *tx) FindOne(_ context.Context, entity, key string) (backend.Row, bool, error) {
	if err := t.checkEntity(entity); err != nil {
		return backend.Row{}, false, fmt.Errorf("find one: %w", err)
	}
	id, ok := t.st.byKey[rowKey{entity, key}]
	if !ok {
		return backend.Row{}, false, nil
	}
	return cloneRow(t.st.rows[id]), true, nil
}

// Insert implements backend.Tx.
func (t *tx) Insert(_ context.Context, row *backend.Row) error {
	if err := t.checkEntity(row.Entity); err != nil {
		return fmt.Errorf("insert: %w", err)
	}
	k := rowKey{row.Entity, row.Key}
	if _, exists := t.st.byKey[k]; exists {
		return fmt.Errorf("insert %s[%s]: unique constraint violated", row.Entity, row.Key)
	}

	now := t.now()
	row.ID = t.st.nextID
	row.Version = 1
	row.CreatedAt = now
	row.UpdatedAt = now

	t.st.nextID++
	t.st.rows[row.ID] = cloneRow(*row)
	t.st.byKey[k] = row.ID
	return nil
}

// Update implements backend.Tx.
func (t *tx) Update(_ context.Context, row *backend.Row) error {
	existing, ok := t.st.rows[row.ID]
	if !ok {
		return fmt.Errorf("update id %d: %w", row.ID, backend.ErrNotFound)
	}

	existing.Fields = append([]byte(nil), row.Fields...)
	existing.PayloadHash = row.PayloadHash
	existing.BatchID = row.BatchID
	existing.Version++
	existing.UpdatedAt = t.now()
	t.st.rows[row.ID] = existing

	*row = cloneRow(existing)
	return nil
}

// RecordBatch implements backend.Tx.
func (t *tx) RecordBatch(_ context.Context, b *backend.Batch) error {
	for _, existing := range t.st.batches {
		if existing.ID == b.ID {
			return fmt.Errorf("record batch %s: duplicate batch id", b.ID)
		}
	}
	b.CommittedAt = t.now()
	t.st.batches = append(t.st.batches, *b)
	return nil
}
