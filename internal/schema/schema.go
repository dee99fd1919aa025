// Package schema compiles CUE entity definitions into record kinds.
//
// A schema file declares entities under the top-level "entity" struct:
//
//	entity: TestModel: {
//	    key: "id"
//	    fields: {
//	        id:   {type: "string", required: true}
//	        name: {type: "string"}
//	    }
//	}
//
// Each entity becomes a record.Kind[*Document] keyed by the string value at
// its key path. Field types are string, int, float, bool and any.
package schema

import (
	"sort"

	"github.com/roach88/recstore/internal/record"
)

// FieldType is the declared type of an entity field.
type FieldType string

const (
	TypeString FieldType = "string"
	TypeInt    FieldType = "int"
	TypeFloat  FieldType = "float"
	TypeBool   FieldType = "bool"
	TypeAny    FieldType = "any"
)

// Valid reports whether t is a known field type.
func (t FieldType) Valid() bool {
	switch t {
	case TypeString, TypeInt, TypeFloat, TypeBool, TypeAny:
		return true
	}
	return false
}

// Field is one declared field of an entity.
type Field struct {
	Name     string    `json:"name"`
	Type     FieldType `json:"type"`
	Required bool      `json:"required,omitempty"`
}

// Entity is a compiled entity definition.
type Entity struct {
	Name    string  `json:"name"`
	KeyPath string  `json:"key"`
	Fields  []Field `json:"fields"` // declaration order
}

// Field returns the declared field called name.
func (e *Entity) Field(name string) (Field, bool) {
	for _, f := range e.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// Descriptor returns the registration form of e.
func (e *Entity) Descriptor() record.Descriptor {
	return record.Descriptor{Name: e.Name, KeyPath: e.KeyPath}
}

// Kind returns the record kind of e.
func (e *Entity) Kind() record.Kind[*Document] {
	return record.Kind[*Document]{
		Name:      e.Name,
		KeyPath:   e.KeyPath,
		DeriveKey: record.KeyAt(e.KeyPath),
		New:       func() *Document { return NewDocument(e) },
	}
}

// Schema is a set of entities, ordered by name.
type Schema struct {
	Entities []*Entity `json:"entities"`
}

// Entity returns the entity called name.
func (s *Schema) Entity(name string) (*Entity, bool) {
	for _, e := range s.Entities {
		if e.Name == name {
			return e, true
		}
	}
	return nil, false
}

// Descriptors returns the registration form of every entity.
func (s *Schema) Descriptors() []record.Descriptor {
	out := make([]record.Descriptor, len(s.Entities))
	for i, e := range s.Entities {
		out[i] = e.Descriptor()
	}
	return out
}

// Merge returns a schema holding the entities of s and other. Entities of
// other replace same-named entities of s.
func (s *Schema) Merge(other *Schema) *Schema {
	byName := make(map[string]*Entity, len(s.Entities)+len(other.Entities))
	for _, e := range s.Entities {
		byName[e.Name] = e
	}
	for _, e := range other.Entities {
		byName[e.Name] = e
	}
	out := &Schema{Entities: make([]*Entity, 0, len(byName))}
	for _, e := range byName {
		out.Entities = append(out.Entities, e)
	}
	sortEntities(out.Entities)
	return out
}

func sortEntities(es []*Entity) {
	sort.Slice(es, func(i, j int) bool { return es[i].Name < es[j].Name })
}
