package schema

import (
	"encoding/json"
	"fmt"

	"github.com/roach88/recstore/internal/payload"
	"github.com/roach88/recstore/internal/record"
)

// Document is a record of a CUE-declared entity. Field values are typed by
// the declaration: string, int64, float64, bool, or plain JSON values for
// fields of type any.
type Document struct {
	record.Base
	entity *Entity
	fields map[string]any
}

// NewDocument returns an empty document of e.
func NewDocument(e *Entity) *Document {
	return &Document{entity: e, fields: make(map[string]any)}
}

// Entity returns the declaration of d.
func (d *Document) Entity() *Entity {
	return d.entity
}

// Get returns the value of field name.
func (d *Document) Get(name string) (any, bool) {
	v, ok := d.fields[name]
	return v, ok
}

// Fields returns a copy of all field values.
func (d *Document) Fields() map[string]any {
	out := make(map[string]any, len(d.fields))
	for k, v := range d.fields {
		out[k] = v
	}
	return out
}

// ApplyUpdate sets every declared field from p. Optional fields that are
// absent or not coercible get the zero value of their type; required ones
// fail with a *record.ValidationError.
func (d *Document) ApplyUpdate(p payload.Payload) error {
	next := make(map[string]any, len(d.entity.Fields))
	for _, f := range d.entity.Fields {
		v, ok := coerce(f.Type, p.Get(f.Name))
		if !ok {
			if f.Required {
				return record.NewValidationError(f.Name, fmt.Sprintf("required %s field is missing or malformed", f.Type))
			}
			v = zero(f.Type)
		}
		next[f.Name] = v
	}
	d.fields = next
	return nil
}

func coerce(t FieldType, v payload.Payload) (any, bool) {
	switch t {
	case TypeString:
		return v.AsString()
	case TypeInt:
		return v.AsInt()
	case TypeFloat:
		return v.AsFloat()
	case TypeBool:
		return v.AsBool()
	}
	if !v.Exists() || v.IsNull() {
		return nil, false
	}
	return v.Interface(), true
}

func zero(t FieldType) any {
	switch t {
	case TypeString:
		return ""
	case TypeInt:
		return int64(0)
	case TypeFloat:
		return float64(0)
	case TypeBool:
		return false
	}
	return nil
}

// MarshalJSON encodes the field values as a JSON object.
func (d *Document) MarshalJSON() ([]byte, error) {
	if d.fields == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(d.fields)
}

// UnmarshalJSON decodes a JSON object written by MarshalJSON, restoring
// declared types. Undeclared entries are kept as plain JSON values.
func (d *Document) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("decode document: %w", err)
	}

	fields := make(map[string]any, len(raw))
	for name, msg := range raw {
		t := TypeAny
		if d.entity != nil {
			if f, ok := d.entity.Field(name); ok {
				t = f.Type
			}
		}
		v, err := decodeField(t, msg)
		if err != nil {
			return fmt.Errorf("decode document field %q: %w", name, err)
		}
		fields[name] = v
	}
	d.fields = fields
	return nil
}

func decodeField(t FieldType, msg json.RawMessage) (any, error) {
	var err error
	switch t {
	case TypeString:
		var s string
		err = json.Unmarshal(msg, &s)
		return s, err
	case TypeInt:
		var n int64
		err = json.Unmarshal(msg, &n)
		return n, err
	case TypeFloat:
		var f float64
		err = json.Unmarshal(msg, &f)
		return f, err
	case TypeBool:
		var b bool
		err = json.Unmarshal(msg, &b)
		return b, err
	}
	p, err := payload.Parse(msg)
	if err != nil {
		return nil, err
	}
	return p.Interface(), nil
}
