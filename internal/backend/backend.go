// Package backend defines the storage contract consumed by the importer.
//
// A Backend provides durable keyed storage of record rows plus a
// transactional write path. Implementations:
//   - internal/store: SQLite (mattn/go-sqlite3 or modernc.org/sqlite)
//   - internal/memstore: in-memory, for tests and ephemeral use
//
// All writes go through Transact. Work passed to Transact either commits as
// a whole or leaves the backend unchanged.
package backend

import (
	"context"
	"errors"
	"time"
)

// ErrUnknownEntity is returned when an operation names an entity that was
// never registered.
var ErrUnknownEntity = errors.New("unknown entity")

// ErrNotFound is returned by Fetch when an id has no committed row.
var ErrNotFound = errors.New("row not found")

// ErrKeyPathConflict is returned by Register when an entity is already
// registered under a different key path.
var ErrKeyPathConflict = errors.New("entity registered with different key path")

// Clock supplies timestamps for created/updated/committed columns.
type Clock func() time.Time

// Entity is the registration form of a record kind.
type Entity struct {
	Name    string
	KeyPath string
}

// Row is one persisted record.
type Row struct {
	ID          int64
	Entity      string
	Key         string
	Fields      []byte // JSON encoding of the record's fields
	PayloadHash string
	Version     int64
	BatchID     string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Batch is one committed import batch.
type Batch struct {
	ID          string    `json:"id"`
	Entity      string    `json:"entity"`
	Received    int       `json:"received"`
	Created     int       `json:"created"`
	Updated     int       `json:"updated"`
	Unchanged   int       `json:"unchanged"`
	Skipped     int       `json:"skipped"`
	CommittedAt time.Time `json:"committed_at"`
}

// ListOptions bounds a List call. Rows are always ordered by key.
type ListOptions struct {
	Limit  int // 0 means no limit
	Offset int
}

// Tx is the view of the backend inside a transaction.
type Tx interface {
	// FindOne returns the row for (entity, key), seeing writes made earlier
	// in the same transaction.
	FindOne(ctx context.Context, entity, key string) (Row, bool, error)

	// Insert creates a row. It assigns ID, Version=1, CreatedAt and
	// UpdatedAt on the passed row.
	Insert(ctx context.Context, row *Row) error

	// Update overwrites Fields, PayloadHash and BatchID of the row with
	// row.ID, increments Version and refreshes UpdatedAt on the passed row.
	Update(ctx context.Context, row *Row) error

	// RecordBatch appends b to the import log. CommittedAt is assigned.
	RecordBatch(ctx context.Context, b *Batch) error
}

// Backend is a durable record store.
type Backend interface {
	// Register declares the entity set. Registering an entity that already
	// exists with a different key path fails.
	Register(ctx context.Context, entities []Entity) error

	// Transact runs work in a single transaction. The transaction commits
	// when work returns nil and rolls back otherwise.
	Transact(ctx context.Context, work func(Tx) error) error

	// Fetch returns committed rows for ids, in the order of ids. Missing ids
	// are an error.
	Fetch(ctx context.Context, ids []int64) ([]Row, error)

	Get(ctx context.Context, entity, key string) (Row, bool, error)
	List(ctx context.Context, entity string, opts ListOptions) ([]Row, error)
	Count(ctx context.Context, entity string) (int, error)

	// Batches returns the import log for entity, oldest first.
	Batches(ctx context.Context, entity string) ([]Batch, error)

	// Entities returns registered entities ordered by name.
	Entities(ctx context.Context) ([]Entity, error)

	Close() error
}
