// Package memstore provides an in-memory backend.Backend.
//
// Transactions run against a private copy of the state and swap it in on
// commit, so a failed transaction leaves no trace. A single mutex serializes
// writers; readers see only committed state.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/roach88/recstore/internal/backend"
)

type rowKey struct {
	entity string
	key    string
}

type state struct {
	entities map[string]backend.Entity
	rows     map[int64]backend.Row
	byKey    map[rowKey]int64
	batches  []backend.Batch
	nextID   int64
}

func newState() *state {
	return &state{
		entities: make(map[string]backend.Entity),
		rows:     make(map[int64]backend.Row),
		byKey:    make(map[rowKey]int64),
		nextID:   1,
	}
}

func (s *state) clone() *state {
	c := &state{
		entities: make(map[string]backend.Entity, len(s.entities)),
		rows:     make(map[int64]backend.Row, len(s.rows)),
		byKey:    make(map[rowKey]int64, len(s.byKey)),
		batches:  append([]backend.Batch(nil), s.batches...),
		nextID:   s.nextID,
	}
	for k, v := range s.entities {
		c.entities[k] = v
	}
	for k, v := range s.rows {
		c.rows[k] = v
	}
	for k, v := range s.byKey {
		c.byKey[k] = v
	}
	return c
}

// Store is an in-memory backend.
type Store struct {
	writeMu sync.Mutex // held for the duration of a transaction
	mu      sync.RWMutex
	state   *state
	now     backend.Clock
	closed  bool
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the timestamp source.
func WithClock(c backend.Clock) Option {
	return func(s *Store) {
		s.now = c
	}
}

// New creates an empty store.
func New(opts ...Option) *Store {
	s := &Store{
		state: newState(),
		now:   func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register implements backend.Backend.
func (s *Store) Register(ctx context.Context, entities []backend.Entity) error {
	return s.Transact(ctx, func(t backend.Tx) error {
		st := t.(*tx).st
		for _, e := range entities {
			existing, ok := st.entities[e.Name]
			if ok && existing.KeyPath != e.KeyPath {
				return fmt.Errorf("register %s: %w (have %q, got %q)", e.Name, backend.ErrKeyPathConflict, existing.KeyPath, e.KeyPath)
			}
			st.entities[e.Name] = e
		}
		return nil
	})
}

// Transact implements backend.Backend.
func (s *Store) Transact(ctx context.Context, work func(backend.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("transact: %w", err)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return fmt.Errorf("transact: store is closed")
	}
	t := &tx{now: s.now, st: s.state.clone()}
	s.mu.RUnlock()

	if err := work(t); err != nil {
		return err
	}

	s.mu.Lock()
	s.state = t.st
	s.mu.Unlock()
	return nil
}

// Fetch implements backend.Backend.
func (s *Store) Fetch(_ context.Context, ids []int64) ([]backend.Row, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows := make([]backend.Row, 0, len(ids))
	for _, id := range ids {
		row, ok := s.state.rows[id]
		if !ok {
			return nil, fmt.Errorf("fetch id %d: %w", id, backend.ErrNotFound)
		}
		rows = append(rows, cloneRow(row))
	}
	return rows, nil
}

// Get implements backend.Backend.
func (s *Store) Get(_ context.Context, entity, key string) (backend.Row, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.state.entities[entity]; !ok {
		return backend.Row{}, false, fmt.Errorf("get %s: %w", entity, backend.ErrUnknownEntity)
	}
	id, ok := s.state.byKey[rowKey{entity, key}]
	if !ok {
		return backend.Row{}, false, nil
	}
	return cloneRow(s.state.rows[id]), true, nil
}

// List implements backend.Backend.
func (s *Store) List(_ context.Context, entity string, opts backend.ListOptions) ([]backend.Row, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.state.entities[entity]; !ok {
		return nil, fmt.Errorf("list %s: %w", entity, backend.ErrUnknownEntity)
	}

	rows := []backend.Row{}
	for _, row := range s.state.rows {
		if row.Entity == entity {
			rows = append(rows, cloneRow(row))
		}
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].Key < rows[j].Key })

	if opts.Offset > 0 {
		if opts.Offset >= len(rows) {
			return []backend.Row{}, nil
		}
		rows = rows[opts.Offset:]
	}
	if opts.Limit > 0 && opts.Limit < len(rows) {
		rows = rows[:opts.Limit]
	}
	return rows, nil
}

// Count implements backend.Backend.
func (s *Store) Count(_ context.Context, entity string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.state.entities[entity]; !ok {
		return 0, fmt.Errorf("count %s: %w", entity, backend.ErrUnknownEntity)
	}
	n := 0
	for k := range s.state.byKey {
		if k.entity == entity {
			n++
		}
	}
	return n, nil
}

// Batches implements backend.Backend.
func (s *Store) Batches(_ context.Context, entity string) ([]backend.Batch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []backend.Batch{}
	for _, b := range s.state.batches {
		if b.Entity == entity {
			out = append(out, b)
		}
	}
	return out, nil
}

// Entities implements backend.Backend.
func (s *Store) Entities(_ context.Context) ([]backend.Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]backend.Entity, 0, len(s.state.entities))
	for _, e := range s.state.entities {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Close implements backend.Backend. Closing twice is a no-op.
func (s *Store) Close() error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func cloneRow(r backend.Row) backend.Row {
	r.Fields = append([]byte(nil), r.Fields...)
	return r
}
