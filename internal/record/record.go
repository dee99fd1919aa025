// Package record defines the contract between typed records and the importer.
//
// A record kind is described by a Kind value: its entity name, the key path
// naming the persisted uniqueness field, a pure DeriveKey function and a
// constructor. Concrete records embed Base to carry backend-assigned state
// and implement ApplyUpdate to copy fields from a source payload.
package record

import (
	"errors"
	"fmt"
	"time"

	"github.com/roach88/recstore/internal/payload"
)

// Meta is the backend-assigned state of a persisted record.
// It is never serialized with the record's fields.
type Meta struct {
	ID          int64
	Key         string
	Version     int64
	PayloadHash string
	BatchID     string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Persisted reports whether the record has been committed at least once.
func (m *Meta) Persisted() bool {
	return m.ID > 0
}

// Record is a typed entity that can be imported from payloads.
type Record interface {
	// Meta returns the record's backend state. The importer seeds Key on
	// new records before ApplyUpdate runs.
	Meta() *Meta

	// ApplyUpdate copies field values from p. Missing or malformed optional
	// fields fall back to their zero value; a structurally required field
	// that is missing fails with a *ValidationError.
	ApplyUpdate(p payload.Payload) error
}

// Base carries Meta for embedding in concrete records.
type Base struct {
	meta Meta
}

// Meta implements Record.
func (b *Base) Meta() *Meta {
	return &b.meta
}

// InsertFilter is implemented by records that can veto creation of a new
// record from a payload. The check runs on the freshly constructed record.
type InsertFilter interface {
	ShouldInsert(p payload.Payload) bool
}

// UpdateFilter is implemented by records that can veto updating an existing
// record from a payload.
type UpdateFilter interface {
	ShouldUpdate(p payload.Payload) bool
}

// Kind describes one record type.
type Kind[R Record] struct {
	// Name identifies the entity in the store. Unique per schema.
	Name string

	// KeyPath names the persisted field used as the uniqueness index.
	KeyPath string

	// DeriveKey extracts the unique key. It must be pure; ok=false means
	// "skip this payload" and is not an error.
	DeriveKey func(p payload.Payload) (key string, ok bool)

	// New returns an empty record.
	New func() R
}

// Descriptor is the type-erased registration form of a Kind.
type Descriptor struct {
	Name    string `json:"name" yaml:"name"`
	KeyPath string `json:"key_path" yaml:"key_path"`
}

// Descriptor returns the registration form of k.
func (k Kind[R]) Descriptor() Descriptor {
	return Descriptor{Name: k.Name, KeyPath: k.KeyPath}
}

// Validate checks that k is usable.
func (k Kind[R]) Validate() error {
	switch {
	case k.Name == "":
		return errors.New("record kind: name is required")
	case k.KeyPath == "":
		return fmt.Errorf("record kind %q: key path is required", k.Name)
	case k.DeriveKey == nil:
		return fmt.Errorf("record kind %q: DeriveKey is required", k.Name)
	case k.New == nil:
		return fmt.Errorf("record kind %q: New is required", k.Name)
	}
	return nil
}

// KeyAt returns a DeriveKey function that reads the string value at a dotted
// key path. Empty strings and non-string values count as absent.
func KeyAt(keyPath string) func(payload.Payload) (string, bool) {
	return func(p payload.Payload) (string, bool) {
		key, ok := p.Lookup(keyPath).AsString()
		if !ok || key == "" {
			return "", false
		}
		return key, true
	}
}
