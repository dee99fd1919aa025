// Package catalog maps entity names to type-erased import functions, so
// callers that only know a kind by name (CLI, HTTP API, scenario harness)
// can drive the generic manager API.
package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/roach88/recstore/internal/backend"
	"github.com/roach88/recstore/internal/entity"
	"github.com/roach88/recstore/internal/importer"
	"github.com/roach88/recstore/internal/manager"
	"github.com/roach88/recstore/internal/payload"
	"github.com/roach88/recstore/internal/record"
	"github.com/roach88/recstore/internal/schema"
)

// View is the serialized form of a committed record.
type View struct {
	Key         string          `json:"key"`
	ID          int64           `json:"id"`
	Version     int64           `json:"version"`
	BatchID     string          `json:"batch_id"`
	PayloadHash string          `json:"payload_hash"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
	Fields      json.RawMessage `json:"fields"`
}

// RowView builds a View straight from a backend row.
func RowView(row backend.Row) View {
	fields := row.Fields
	if len(fields) == 0 {
		fields = json.RawMessage("{}")
	}
	return View{
		Key:         row.Key,
		ID:          row.ID,
		Version:     row.Version,
		BatchID:     row.BatchID,
		PayloadHash: row.PayloadHash,
		CreatedAt:   row.CreatedAt,
		UpdatedAt:   row.UpdatedAt,
		Fields:      fields,
	}
}

func recordView(r record.Record) (View, error) {
	fields, err := json.Marshal(r)
	if err != nil {
		return View{}, fmt.Errorf("encode record: %w", err)
	}
	m := r.Meta()
	return View{
		Key:         m.Key,
		ID:          m.ID,
		Version:     m.Version,
		BatchID:     m.BatchID,
		PayloadHash: m.PayloadHash,
		CreatedAt:   m.CreatedAt,
		UpdatedAt:   m.UpdatedAt,
		Fields:      fields,
	}, nil
}

// Outcome is the type-erased result of an import.
type Outcome struct {
	BatchID string         `json:"batch_id"`
	Stats   importer.Stats `json:"stats"`
	Records []View         `json:"records"`
}

// ImportFunc imports payloads through m.
type ImportFunc func(ctx context.Context, m *manager.Manager, payloads []payload.Payload) (*Outcome, error)

// Entry is one kind known by name.
type Entry struct {
	Descriptor record.Descriptor
	Import     ImportFunc
}

// EntryFor builds the Entry of a typed kind.
func EntryFor[R record.Record](kind record.Kind[R]) Entry {
	return Entry{
		Descriptor: kind.Descriptor(),
		Import: func(ctx context.Context, m *manager.Manager, payloads []payload.Payload) (*Outcome, error) {
			res, err := manager.Import(ctx, m, kind, payloads)
			if err != nil {
				return nil, err
			}
			out := &Outcome{BatchID: res.BatchID, Stats: res.Stats, Records: make([]View, 0, len(res.Records))}
			for _, r := range res.Records {
				v, err := recordView(r)
				if err != nil {
					return nil, err
				}
				out.Records = append(out.Records, v)
			}
			return out, nil
		},
	}
}

// Catalog is an immutable set of entries.
type Catalog struct {
	entries map[string]Entry
}

// New builds a catalog holding the built-in Item kind plus the entities of
// s (which may be nil). Schema entities replace built-ins of the same name.
func New(s *schema.Schema) *Catalog {
	c := &Catalog{entries: make(map[string]Entry)}
	c.add(EntryFor(entity.ItemKind()))
	if s != nil {
		for _, e := range s.Entities {
			c.add(EntryFor(e.Kind()))
		}
	}
	return c
}

// Load builds a catalog from the CUE schema in dir. An empty dir yields the
// built-in kinds only.
func Load(dir string) (*Catalog, error) {
	if dir == "" {
		return New(nil), nil
	}
	s, err := schema.Load(dir)
	if err != nil {
		return nil, err
	}
	return New(s), nil
}

func (c *Catalog) add(e Entry) {
	c.entries[e.Descriptor.Name] = e
}

// Lookup returns the entry called name.
func (c *Catalog) Lookup(name string) (Entry, bool) {
	e, ok := c.entries[name]
	return e, ok
}

// Descriptors returns every kind ordered by name.
func (c *Catalog) Descriptors() []record.Descriptor {
	out := make([]record.Descriptor, 0, len(c.entries))
	for _, e := range c.entries {
		out = append(out, e.Descriptor)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Names returns every kind name in order.
func (c *Catalog) Names() []string {
	descs := c.Descriptors()
	out := make([]string, len(descs))
	for i, d := range descs {
		out[i] = d.Name
	}
	return out
}

// Import imports payloads as records of kind name.
func (c *Catalog) Import(ctx context.Context, m *manager.Manager, name string, payloads []payload.Payload) (*Outcome, error) {
	e, ok := c.Lookup(name)
	if !ok {
		unknown := *manager.ErrUnknownKind
		unknown.Op, unknown.Kind = "import", name
		return nil, &unknown
	}
	return e.Import(ctx, m, payloads)
}
