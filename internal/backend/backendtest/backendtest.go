// Package backendtest is a conformance suite for backend.Backend
// implementations.
package backendtest

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/recstore/internal/backend"
)

// Factory returns a fresh, empty backend. The suite closes it.
type Factory func(t *testing.T) backend.Backend

var itemEntity = backend.Entity{Name: "Item", KeyPath: "id"}

// Run executes every conformance test against backends built by newBackend.
func Run(t *testing.T, newBackend Factory) {
	tests := []struct {
		name string
		fn   func(t *testing.T, b backend.Backend)
	}{
		{"RegisterIdempotent", testRegisterIdempotent},
		{"RegisterKeyPathConflict", testRegisterKeyPathConflict},
		{"UnknownEntity", testUnknownEntity},
		{"InsertAndFind", testInsertAndFind},
		{"FindSeesOwnWrites", testFindSeesOwnWrites},
		{"UpdateBumpsVersion", testUpdateBumpsVersion},
		{"RollbackLeavesNoTrace", testRollbackLeavesNoTrace},
		{"UniqueConstraint", testUniqueConstraint},
		{"FetchPreservesOrder", testFetchPreservesOrder},
		{"FetchMissing", testFetchMissing},
		{"ListOrderAndPaging", testListOrderAndPaging},
		{"Batches", testBatches},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := newBackend(t)
			t.Cleanup(func() { _ = b.Close() })
			tt.fn(t, b)
		})
	}
}

func register(t *testing.T, b backend.Backend) {
	t.Helper()
	require.NoError(t, b.Register(context.Background(), []backend.Entity{itemEntity}))
}

func insert(t *testing.T, b backend.Backend, keys ...string) []int64 {
	t.Helper()
	var ids []int64
	err := b.Transact(context.Background(), func(tx backend.Tx) error {
		for _, k := range keys {
			row := &backend.Row{Entity: "Item", Key: k, Fields: []byte(`{"id":"` + k + `"}`)}
			if err := tx.Insert(context.Background(), row); err != nil {
				return err
			}
			ids = append(ids, row.ID)
		}
		return nil
	})
	require.NoError(t, err)
	return ids
}

func testRegisterIdempotent(t *testing.T, b backend.Backend) {
	ctx := context.Background()
	register(t, b)
	register(t, b)
	require.NoError(t, b.Register(ctx, []backend.Entity{{Name: "Other", KeyPath: "code"}}))

	entities, err := b.Entities(ctx)
	require.NoError(t, err)
	assert.Equal(t, []backend.Entity{{Name: "Item", KeyPath: "id"}, {Name: "Other", KeyPath: "code"}}, entities)
}

func testRegisterKeyPathConflict(t *testing.T, b backend.Backend) {
	register(t, b)
	err := b.Register(context.Background(), []backend.Entity{{Name: "Item", KeyPath: "sku"}})
	require.Error(t, err)
	assert.True(t, errors.Is(err, backend.ErrKeyPathConflict))
}

func testUnknownEntity(t *testing.T, b backend.Backend) {
	ctx := context.Background()

	_, err := b.Count(ctx, "Ghost")
	assert.ErrorIs(t, err, backend.ErrUnknownEntity)

	_, _, err = b.Get(ctx, "Ghost", "1")
	assert.ErrorIs(t, err, backend.ErrUnknownEntity)

	_, err = b.List(ctx, "Ghost", backend.ListOptions{})
	assert.ErrorIs(t, err, backend.ErrUnknownEntity)

	err = b.Transact(ctx, func(tx backend.Tx) error {
		return tx.Insert(ctx, &backend.Row{Entity: "Ghost", Key: "1", Fields: []byte(`{}`)})
	})
	assert.ErrorIs(t, err, backend.ErrUnknownEntity)
}

func testInsertAndFind(t *testing.T, b backend.Backend) {
	ctx := context.Background()
	register(t, b)

	var inserted backend.Row
	err := b.Transact(ctx, func(tx backend.Tx) error {
		inserted = backend.Row{Entity: "Item", Key: "1", Fields: []byte(`{"id":"1","name":"A"}`), PayloadHash: "h1", BatchID: "b1"}
		return tx.Insert(ctx, &inserted)
	})
	require.NoError(t, err)
	assert.Positive(t, inserted.ID)
	assert.Equal(t, int64(1), inserted.Version)
	assert.False(t, inserted.CreatedAt.IsZero())

	got, ok, err := b.Get(ctx, "Item", "1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, inserted.ID, got.ID)
	assert.JSONEq(t, `{"id":"1","name":"A"}`, string(got.Fields))
	assert.Equal(t, "h1", got.PayloadHash)
	assert.Equal(t, "b1", got.BatchID)

	_, ok, err = b.Get(ctx, "Item", "missing")
	require.NoError(t, err)
	assert.False(t, ok)

	n, err := b.Count(ctx, "Item")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func testFindSeesOwnWrites(t *testing.T, b backend.Backend) {
	ctx := context.Background()
	register(t, b)

	err := b.Transact(ctx, func(tx backend.Tx) error {
		_, ok, err := tx.FindOne(ctx, "Item", "1")
		require.NoError(t, err)
		assert.False(t, ok)

		require.NoError(t, tx.Insert(ctx, &backend.Row{Entity: "Item", Key: "1", Fields: []byte(`{}`)}))

		row, ok, err := tx.FindOne(ctx, "Item", "1")
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, "1", row.Key)
		return nil
	})
	require.NoError(t, err)
}

func testUpdateBumpsVersion(t *testing.T, b backend.Backend) {
	ctx := context.Background()
	register(t, b)
	ids := insert(t, b, "1")

	err := b.Transact(ctx, func(tx backend.Tx) error {
		row, ok, err := tx.FindOne(ctx, "Item", "1")
		if err != nil || !ok {
			return errors.New("row not visible")
		}
		row.Fields = []byte(`{"id":"1","name":"C"}`)
		row.PayloadHash = "h2"
		row.BatchID = "b2"
		if err := tx.Update(ctx, &row); err != nil {
			return err
		}
		assert.Equal(t, int64(2), row.Version)
		return nil
	})
	require.NoError(t, err)

	rows, err := b.Fetch(ctx, ids)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, int64(2), rows[0].Version)
	assert.Equal(t, "h2", rows[0].PayloadHash)
	assert.Equal(t, "b2", rows[0].BatchID)
	assert.JSONEq(t, `{"id":"1","name":"C"}`, string(rows[0].Fields))
	assert.False(t, rows[0].UpdatedAt.Before(rows[0].CreatedAt))

	err = b.Transact(ctx, func(tx backend.Tx) error {
		return tx.Update(ctx, &backend.Row{ID: 9999, Fields: []byte(`{}`)})
	})
	assert.ErrorIs(t, err, backend.ErrNotFound)
}

func testRollbackLeavesNoTrace(t *testing.T, b backend.Backend) {
	ctx := context.Background()
	register(t, b)
	insert(t, b, "1")

	boom := errors.New("boom")
	err := b.Transact(ctx, func(tx backend.Tx) error {
		require.NoError(t, tx.Insert(ctx, &backend.Row{Entity: "Item", Key: "2", Fields: []byte(`{}`)}))
		row, _, _ := tx.FindOne(ctx, "Item", "1")
		row.Fields = []byte(`{"changed":true}`)
		require.NoError(t, tx.Update(ctx, &row))
		require.NoError(t, tx.RecordBatch(ctx, &backend.Batch{ID: "rolled-back", Entity: "Item"}))
		return boom
	})
	assert.ErrorIs(t, err, boom, "work errors pass through unchanged")

	n, err := b.Count(ctx, "Item")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	row, ok, err := b.Get(ctx, "Item", "1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(1), row.Version)
	assert.JSONEq(t, `{"id":"1"}`, string(row.Fields))

	batches, err := b.Batches(ctx, "Item")
	require.NoError(t, err)
	assert.Empty(t, batches)
}

func testUniqueConstraint(t *testing.T, b backend.Backend) {
	ctx := context.Background()
	register(t, b)
	insert(t, b, "1")

	err := b.Transact(ctx, func(tx backend.Tx) error {
		return tx.Insert(ctx, &backend.Row{Entity: "Item", Key: "1", Fields: []byte(`{}`)})
	})
	assert.Error(t, err)

	n, err := b.Count(ctx, "Item")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func testFetchPreservesOrder(t *testing.T, b backend.Backend) {
	ctx := context.Background()
	register(t, b)
	ids := insert(t, b, "a", "b", "c")

	reversed := []int64{ids[2], ids[0], ids[1]}
	rows, err := b.Fetch(ctx, reversed)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, "c", rows[0].Key)
	assert.Equal(t, "a", rows[1].Key)
	assert.Equal(t, "b", rows[2].Key)

	rows, err = b.Fetch(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func testFetchMissing(t *testing.T, b backend.Backend) {
	register(t, b)
	_, err := b.Fetch(context.Background(), []int64{424242})
	assert.ErrorIs(t, err, backend.ErrNotFound)
}

func testListOrderAndPaging(t *testing.T, b backend.Backend) {
	ctx := context.Background()
	register(t, b)
	insert(t, b, "c", "a", "b", "B")

	rows, err := b.List(ctx, "Item", backend.ListOptions{})
	require.NoError(t, err)
	keys := make([]string, len(rows))
	for i, r := range rows {
		keys[i] = r.Key
	}
	assert.Equal(t, []string{"B", "a", "b", "c"}, keys, "binary key order")

	rows, err = b.List(ctx, "Item", backend.ListOptions{Limit: 2, Offset: 1})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "a", rows[0].Key)
	assert.Equal(t, "b", rows[1].Key)

	rows, err = b.List(ctx, "Item", backend.ListOptions{Offset: 10})
	require.NoError(t, err)
	assert.NotNil(t, rows)
	assert.Empty(t, rows)
}

func testBatches(t *testing.T, b backend.Backend) {
	ctx := context.Background()
	register(t, b)
	require.NoError(t, b.Register(ctx, []backend.Entity{{Name: "Other", KeyPath: "id"}}))

	for _, id := range []string{"batch-1", "batch-2"} {
		err := b.Transact(ctx, func(tx backend.Tx) error {
			batch := &backend.Batch{ID: id, Entity: "Item", Received: 3, Created: 1, Updated: 1, Skipped: 1}
			if err := tx.RecordBatch(ctx, batch); err != nil {
				return err
			}
			assert.False(t, batch.CommittedAt.IsZero())
			return nil
		})
		require.NoError(t, err)
	}

	batches, err := b.Batches(ctx, "Item")
	require.NoError(t, err)
	require.Len(t, batches, 2)
	assert.Equal(t, "batch-1", batches[0].ID)
	assert.Equal(t, "batch-2", batches[1].ID)
	assert.Equal(t, 3, batches[0].Received)
	assert.Equal(t, 1, batches[0].Skipped)

	other, err := b.Batches(ctx, "Other")
	require.NoError(t, err)
	assert.Empty(t, other)

	err = b.Transact(ctx, func(tx backend.Tx) error {
		return tx.RecordBatch(ctx, &backend.Batch{ID: "batch-1", Entity: "Item"})
	})
	assert.Error(t, err, "batch ids are unique")
}
