// Package entity holds the built-in record kinds.
package entity

import (
	"github.com/roach88/recstore/internal/payload"
	"github.com/roach88/recstore/internal/record"
)

// ItemKindName is the entity name under which items are stored.
const ItemKindName = "Item"

// Item is the minimal keyed record: an id and a display name.
type Item struct {
	record.Base
	ID   string `json:"id"`
	Name string `json:"name"`
}

// ApplyUpdate sets ID and Name from the payload. Both default to "" when
// absent or not a JSON string.
func (i *Item) ApplyUpdate(p payload.Payload) error {
	i.ID = p.Get("id").StringOr("")
	i.Name = p.Get("name").StringOr("")
	return nil
}

// ItemKind describes Item records keyed by their "id" field.
func ItemKind() record.Kind[*Item] {
	return record.Kind[*Item]{
		Name:      ItemKindName,
		KeyPath:   "id",
		DeriveKey: record.KeyAt("id"),
		New:       func() *Item { return &Item{} },
	}
}
