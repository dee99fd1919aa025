// Package importer implements atomic upsert-by-unique-key import.
//
// One Import call is one backend transaction. For each payload, in input
// order:
//
//  1. DeriveKey; no key means the payload is skipped (not an error)
//  2. FindOne inside the transaction (a key staged earlier in the same batch
//     resolves to the staged row)
//  3. reuse the existing record or construct a new one seeded with the key
//  4. ApplyUpdate; any failure aborts the whole batch
//  5. insert or update the row
//
// After the last payload the written rows are materialized and the batch is
// appended to the import log, all before the transaction commits. Insert and
// Update return backend-assigned state (ID, Version, timestamps), so a
// committed batch never reports failure.
package importer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/roach88/recstore/internal/backend"
	"github.com/roach88/recstore/internal/payload"
	"github.com/roach88/recstore/internal/record"
)

// Stats counts what happened to each payload of a batch.
type Stats struct {
	Received  int `json:"received"`
	Created   int `json:"created"`
	Updated   int `json:"updated"`
	Unchanged int `json:"unchanged"`
	Skipped   int `json:"skipped"`
}

// Result is the outcome of a committed import.
type Result[R record.Record] struct {
	BatchID string
	Records []R // one per distinct key, in order of first occurrence
	Stats   Stats
}

type options struct {
	gen           IDGenerator
	skipUnchanged bool
	logger        *slog.Logger
}

// Option configures Import.
type Option func(*options)

// WithBatchIDGenerator overrides the batch id source (default UUIDv7).
func WithBatchIDGenerator(gen IDGenerator) Option {
	return func(o *options) {
		o.gen = gen
	}
}

// WithSkipUnchanged leaves rows untouched when the incoming payload hashes
// identically to the payload that last wrote them. Such records are still
// returned and counted as Unchanged.
func WithSkipUnchanged(skip bool) Option {
	return func(o *options) {
		o.skipUnchanged = skip
	}
}

// WithLogger sets the logger for per-payload diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// Import upserts payloads as records of kind in a single transaction.
//
// On success the returned records reflect committed state. On failure no
// records are returned and the backend is unchanged. ApplyUpdate failures are
// reported as *record.ValidationError; anything else comes from the backend.
//
// An empty payload slice commits nothing and records no batch.
func Import[R record.Record](
	ctx context.Context,
	b backend.Backend,
	kind record.Kind[R],
	payloads []payload.Payload,
	opts ...Option,
) (*Result[R], error) {
	if err := kind.Validate(); err != nil {
		return nil, err
	}

	o := options{gen: UUIDv7Generator{}, logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}

	if len(payloads) == 0 {
		return &Result[R]{Records: []R{}}, nil
	}

	batchID := o.gen.Generate()
	logger := o.logger.With("entity", kind.Name, "batch", batchID)

	var (
		stats   Stats
		records []R
		order   []string
		staged  map[string]backend.Row
		created map[string]bool
	)

	err := b.Transact(ctx, func(tx backend.Tx) error {
		// Reset in case a backend ever re-runs work.
		stats = Stats{Received: len(payloads)}
		order = order[:0]
		staged = make(map[string]backend.Row)
		created = make(map[string]bool)

		for i, p := range payloads {
			key, ok := kind.DeriveKey(p)
			if !ok || key == "" {
				stats.Skipped++
				logger.Debug("payload skipped: no unique key", "index", i)
				continue
			}

			row, found, err := tx.FindOne(ctx, kind.Name, key)
			if err != nil {
				return fmt.Errorf("import %s[%s]: %w", kind.Name, key, err)
			}

			rec := kind.New()
			if found {
				if err := decodeInto(row, rec); err != nil {
					return fmt.Errorf("import %s[%s]: %w", kind.Name, key, err)
				}
				if f, ok := any(rec).(record.UpdateFilter); ok && !f.ShouldUpdate(p) {
					stats.Skipped++
					logger.Debug("payload skipped: update vetoed", "index", i, "key", key)
					continue
				}
			} else {
				rec.Meta().Key = key
				if f, ok := any(rec).(record.InsertFilter); ok && !f.ShouldInsert(p) {
					stats.Skipped++
					logger.Debug("payload skipped: insert vetoed", "index", i, "key", key)
					continue
				}
			}

			hash, err := p.Hash()
			if err != nil {
				return validationError(err, kind.Name, key, i)
			}

			if found && o.skipUnchanged && row.PayloadHash == hash {
				stats.Unchanged++
				order = stage(order, staged, key, row)
				continue
			}

			if err := rec.ApplyUpdate(p); err != nil {
				return validationError(err, kind.Name, key, i)
			}

			fields, err := json.Marshal(rec)
			if err != nil {
				return validationError(fmt.Errorf("encode fields: %w", err), kind.Name, key, i)
			}

			row.Fields = fields
			row.PayloadHash = hash
			row.BatchID = batchID

			if found {
				if err := tx.Update(ctx, &row); err != nil {
					return fmt.Errorf("import %s[%s]: %w", kind.Name, key, err)
				}
				if !created[key] {
					stats.Updated++
				}
			} else {
				row.Entity = kind.Name
				row.Key = key
				if err := tx.Insert(ctx, &row); err != nil {
					return fmt.Errorf("import %s[%s]: %w", kind.Name, key, err)
				}
				created[key] = true
				stats.Created++
			}

			order = stage(order, staged, key, row)
		}

		// Insert and Update fill in ID and Version; nothing is read back
		// after commit.
		records = make([]R, 0, len(order))
		for _, key := range order {
			rec, err := Materialize(kind, staged[key])
			if err != nil {
				return fmt.Errorf("import %s[%s]: %w", kind.Name, key, err)
			}
			records = append(records, rec)
		}

		batch := &backend.Batch{
			ID:        batchID,
			Entity:    kind.Name,
			Received:  stats.Received,
			Created:   stats.Created,
			Updated:   stats.Updated,
			Unchanged: stats.Unchanged,
			Skipped:   stats.Skipped,
		}
		if err := tx.RecordBatch(ctx, batch); err != nil {
			return fmt.Errorf("import %s: %w", kind.Name, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return &Result[R]{BatchID: batchID, Records: records, Stats: stats}, nil
}

// Materialize decodes a committed row into a record of kind.
func Materialize[R record.Record](kind record.Kind[R], row backend.Row) (R, error) {
	rec := kind.New()
	if err := decodeInto(row, rec); err != nil {
		var zero R
		return zero, err
	}
	return rec, nil
}

// stage keeps the latest row for key, adding key to order on first sight.
func stage(order []string, staged map[string]backend.Row, key string, row backend.Row) []string {
	if _, ok := staged[key]; !ok {
		order = append(order, key)
	}
	staged[key] = row
	return order
}

func decodeInto(row backend.Row, rec record.Record) error {
	if len(row.Fields) > 0 {
		if err := json.Unmarshal(row.Fields, rec); err != nil {
			return fmt.Errorf("decode row %d: %w", row.ID, err)
		}
	}
	m := rec.Meta()
	m.ID = row.ID
	m.Key = row.Key
	m.Version = row.Version
	m.PayloadHash = row.PayloadHash
	m.BatchID = row.BatchID
	m.CreatedAt = row.CreatedAt
	m.UpdatedAt = row.UpdatedAt
	return nil
}

// validationError attaches batch context to an ApplyUpdate failure.
func validationError(err error, kind, key string, index int) error {
	var ve *record.ValidationError
	if errors.As(err, &ve) {
		out := *ve
		if out.Kind == "" {
			out.Kind = kind
		}
		if out.Key == "" {
			out.Key = key
		}
		out.Index = index
		return &out
	}
	return &record.ValidationError{Kind: kind, Key: key, Index: index, Err: err}
}
