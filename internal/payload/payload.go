package payload

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// Payload is an immutable view over a decoded value. The zero Payload is
// "missing": every accessor reports ok=false.
type Payload struct {
	v Value
}

// New wraps a Value.
func New(v Value) Payload {
	return Payload{v: v}
}

// FromMap builds a Payload from a plain Go map. Unsupported leaf types
// produce a missing Payload.
func FromMap(m map[string]any) Payload {
	v, err := FromGo(m)
	if err != nil {
		return Payload{}
	}
	return New(v)
}

// Value returns the underlying value, nil when missing.
func (p Payload) Value() Value {
	return p.v
}

// Exists reports whether the payload holds a value. An explicit JSON null
// exists; an absent field does not.
func (p Payload) Exists() bool {
	return p.v != nil
}

// IsNull reports whether the payload is missing or an explicit JSON null.
func (p Payload) IsNull() bool {
	if p.v == nil {
		return true
	}
	_, ok := p.v.(Null)
	return ok
}

// Get descends through object fields by name. A segment that addresses an
// array is parsed as a zero-based index. Any miss yields a missing Payload.
func (p Payload) Get(path ...string) Payload {
	cur := p.v
	for _, seg := range path {
		switch node := cur.(type) {
		case Object:
			next, ok := node[seg]
			if !ok {
				return Payload{}
			}
			cur = next
		case Array:
			i, err := strconv.Atoi(seg)
			if err != nil || i < 0 || i >= len(node) {
				return Payload{}
			}
			cur = node[i]
		default:
			return Payload{}
		}
	}
	return Payload{v: cur}
}

// Lookup resolves a dotted key path such as "user.id".
func (p Payload) Lookup(keyPath string) Payload {
	if keyPath == "" {
		return p
	}
	return p.Get(strings.Split(keyPath, ".")...)
}

// Index returns the i-th array element.
func (p Payload) Index(i int) Payload {
	arr, ok := p.v.(Array)
	if !ok || i < 0 || i >= len(arr) {
		return Payload{}
	}
	return Payload{v: arr[i]}
}

// Len returns the number of elements of an array or fields of an object.
func (p Payload) Len() int {
	switch node := p.v.(type) {
	case Array:
		return len(node)
	case Object:
		return len(node)
	}
	return 0
}

// Keys returns object field names in canonical order.
func (p Payload) Keys() []string {
	obj, ok := p.v.(Object)
	if !ok {
		return nil
	}
	return obj.SortedKeys()
}

// AsString returns the value if it is a JSON string. Numbers and booleans
// are not converted.
func (p Payload) AsString() (string, bool) {
	if val, ok := p.v.(String); ok {
		return string(val), true
	}
	return "", false
}

// AsInt returns the value as an int64.
func (p Payload) AsInt() (int64, bool) {
	switch val := p.v.(type) {
	case Number:
		return numberInt(val)
	case String:
		n, err := strconv.ParseInt(strings.TrimSpace(string(val)), 10, 64)
		if err != nil {
			return 0, false
		}
		return n, true
	}
	return 0, false
}

// AsFloat returns the value as a float64.
func (p Payload) AsFloat() (float64, bool) {
	switch val := p.v.(type) {
	case Number:
		return numberFloat(val)
	case String:
		f, err := strconv.ParseFloat(strings.TrimSpace(string(val)), 64)
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			return 0, false
		}
		return f, true
	}
	return 0, false
}

// AsBool returns the value as a bool.
func (p Payload) AsBool() (bool, bool) {
	switch val := p.v.(type) {
	case Bool:
		return bool(val), true
	case String:
		switch strings.ToLower(strings.TrimSpace(string(val))) {
		case "true":
			return true, true
		case "false":
			return false, true
		}
	case Number:
		if n, ok := numberInt(val); ok && (n == 0 || n == 1) {
			return n == 1, true
		}
	}
	return false, false
}

// StringOr returns AsString or def.
func (p Payload) StringOr(def string) string {
	if s, ok := p.AsString(); ok {
		return s
	}
	return def
}

// IntOr returns AsInt or def.
func (p Payload) IntOr(def int64) int64 {
	if n, ok := p.AsInt(); ok {
		return n
	}
	return def
}

// FloatOr returns AsFloat or def.
func (p Payload) FloatOr(def float64) float64 {
	if f, ok := p.AsFloat(); ok {
		return f
	}
	return def
}

// BoolOr returns AsBool or def.
func (p Payload) BoolOr(def bool) bool {
	if b, ok := p.AsBool(); ok {
		return b
	}
	return def
}

// Interface returns the payload as plain Go values (map[string]any, []any,
// string, int64, float64, bool, nil).
func (p Payload) Interface() any {
	return toGo(p.v)
}

// MarshalJSON encodes the payload as canonical JSON. A missing payload
// encodes as null.
func (p Payload) MarshalJSON() ([]byte, error) {
	if p.v == nil {
		return []byte("null"), nil
	}
	return MarshalCanonical(p.v)
}

// UnmarshalJSON decodes any JSON value into the payload.
func (p *Payload) UnmarshalJSON(data []byte) error {
	parsed, err := Parse(data)
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

var _ json.Marshaler = Payload{}

func numberInt(n Number) (int64, bool) {
	if i, err := strconv.ParseInt(string(n), 10, 64); err == nil {
		return i, true
	}
	f, ok := numberFloat(n)
	if !ok || f != math.Trunc(f) || f < math.MinInt64 || f >= math.MaxInt64 {
		return 0, false
	}
	return int64(f), true
}

func numberFloat(n Number) (float64, bool) {
	f, err := strconv.ParseFloat(string(n), 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}
