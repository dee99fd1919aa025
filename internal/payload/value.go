package payload

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"slices"
	"unicode/utf16"
)

// Value is a sealed interface over the decoded JSON value types.
// Only Null, String, Number, Bool, Array and Object implement it.
type Value interface {
	value() // Sealed
}

// Null represents a JSON null.
type Null struct{}

func (Null) value() {}

// String represents a JSON string.
type String string

func (String) value() {}

// Number represents a JSON number, kept as its literal text so that large
// integers survive decoding without a float64 round trip.
type Number string

func (Number) value() {}

// Bool represents a JSON boolean.
type Bool bool

func (Bool) value() {}

// Array represents a JSON array.
type Array []Value

func (Array) value() {}

// Object represents a JSON object.
// Use SortedKeys() for deterministic iteration.
type Object map[string]Value

func (Object) value() {}

// SortedKeys returns keys in canonical order (UTF-16 code units).
// Go's sort.Strings uses UTF-8 byte order which differs for supplementary
// plane characters.
func (obj Object) SortedKeys() []string {
	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	slices.SortFunc(keys, compareKeysUTF16)
	return keys
}

func compareKeysUTF16(a, b string) int {
	a16 := utf16.Encode([]rune(a))
	b16 := utf16.Encode([]rune(b))

	n := min(len(a16), len(b16))
	for i := 0; i < n; i++ {
		if a16[i] != b16[i] {
			if a16[i] < b16[i] {
				return -1
			}
			return 1
		}
	}
	switch {
	case len(a16) < len(b16):
		return -1
	case len(a16) > len(b16):
		return 1
	}
	return 0
}

// ErrEmptyInput is returned when there is no JSON value to decode.
var ErrEmptyInput = errors.New("empty payload input")

// Parse decodes a single JSON document into a Payload.
func Parse(data []byte) (Payload, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var raw any
	if err := dec.Decode(&raw); err != nil {
		if errors.Is(err, io.EOF) {
			return Payload{}, ErrEmptyInput
		}
		return Payload{}, fmt.Errorf("parse payload: %w", err)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return Payload{}, fmt.Errorf("parse payload: trailing data after JSON value")
	}

	v, err := FromGo(raw)
	if err != nil {
		return Payload{}, fmt.Errorf("parse payload: %w", err)
	}
	return New(v), nil
}

// ParseBatch decodes a batch of payloads. Accepted shapes:
//   - a JSON array: each element is one payload
//   - one or more concatenated JSON values (newline-delimited JSON)
//
// Empty input yields an empty batch.
func ParseBatch(data []byte) ([]Payload, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return []Payload{}, nil
	}

	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.UseNumber()

	if trimmed[0] == '[' {
		var raw []any
		if err := dec.Decode(&raw); err != nil {
			return nil, fmt.Errorf("parse batch: %w", err)
		}
		if _, err := dec.Token(); !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("parse batch: trailing data after JSON array")
		}
		out := make([]Payload, 0, len(raw))
		for i, elem := range raw {
			v, err := FromGo(elem)
			if err != nil {
				return nil, fmt.Errorf("parse batch: [%d]: %w", i, err)
			}
			out = append(out, New(v))
		}
		return out, nil
	}

	var out []Payload
	for i := 0; ; i++ {
		var raw any
		err := dec.Decode(&raw)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("parse batch: value %d: %w", i, err)
		}
		v, err := FromGo(raw)
		if err != nil {
			return nil, fmt.Errorf("parse batch: value %d: %w", i, err)
		}
		out = append(out, New(v))
	}
	if out == nil {
		out = []Payload{}
	}
	return out, nil
}

// FromGo converts a plain Go value (as produced by encoding/json, yaml.v3 or
// hand-built maps) into a Value.
func FromGo(v any) (Value, error) {
	switch val := v.(type) {
	case nil:
		return Null{}, nil
	case Value:
		return val, nil
	case string:
		return String(val), nil
	case bool:
		return Bool(val), nil
	case json.Number:
		return Number(val.String()), nil
	case int:
		return Number(fmt.Sprintf("%d", val)), nil
	case int64:
		return Number(fmt.Sprintf("%d", val)), nil
	case uint64:
		return Number(fmt.Sprintf("%d", val)), nil
	case float64:
		return Number(formatFloat(val)), nil
	case float32:
		return Number(formatFloat(float64(val))), nil
	case []any:
		arr := make(Array, len(val))
		for i, elem := range val {
			ev, err := FromGo(elem)
			if err != nil {
				return nil, fmt.Errorf("[%d]: %w", i, err)
			}
			arr[i] = ev
		}
		return arr, nil
	case map[string]any:
		obj := make(Object, len(val))
		for k, elem := range val {
			ev, err := FromGo(elem)
			if err != nil {
				return nil, fmt.Errorf("[%q]: %w", k, err)
			}
			obj[k] = ev
		}
		return obj, nil
	default:
		return nil, fmt.Errorf("unsupported type: %T", v)
	}
}

// toGo converts a Value back into plain Go values. Integral numbers become
// int64, other numbers float64.
func toGo(v Value) any {
	switch val := v.(type) {
	case nil, Null:
		return nil
	case String:
		return string(val)
	case Bool:
		return bool(val)
	case Number:
		if n, ok := numberInt(val); ok {
			return n
		}
		f, _ := numberFloat(val)
		return f
	case Array:
		out := make([]any, len(val))
		for i, elem := range val {
			out[i] = toGo(elem)
		}
		return out
	case Object:
		out := make(map[string]any, len(val))
		for k, elem := range val {
			out[k] = toGo(elem)
		}
		return out
	}
	return nil
}
