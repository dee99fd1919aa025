package harness

import (
	"bytes"
	"fmt"
	"sort"
	"strings"

	"github.com/roach88/recstore/internal/payload"
)

// AssertionError is returned when an assertion fails.
type AssertionError struct {
	Type     string // assertion type
	Kind     string
	Expected string
	Actual   string
	State    []StateRecord // committed records of Kind, for context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "Assertion failed: %s %s\n", e.Type, e.Kind)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.State) > 0 {
		fmt.Fprintf(&buf, "\nCommitted %s records:\n", e.Kind)
		for _, r := range e.State {
			fmt.Fprintf(&buf, "  [%s] v%d %v\n", r.Key, r.Version, r.Fields)
		}
	}
	return buf.String()
}

// EvaluateAssertions checks every assertion against the result's state and
// returns one message per failure.
func EvaluateAssertions(result *Result, assertions []Assertion) []string {
	var errs []string
	for i, a := range assertions {
		if err := evaluate(result, a); err != nil {
			errs = append(errs, fmt.Sprintf("assertion %d: %v", i, err))
		}
	}
	return errs
}

func evaluate(result *Result, a Assertion) error {
	records, ok := result.State[a.Kind]
	if !ok {
		return fmt.Errorf("%w: %s", errUnknownKind, a.Kind)
	}

	switch a.Type {
	case AssertCount:
		if len(records) != a.Count {
			return &AssertionError{
				Type:     a.Type,
				Kind:     a.Kind,
				Expected: fmt.Sprintf("%d records", a.Count),
				Actual:   fmt.Sprintf("%d records", len(records)),
				State:    records,
			}
		}
	case AssertBatches:
		if got := result.batches[a.Kind]; got != a.Count {
			return &AssertionError{
				Type:     a.Type,
				Kind:     a.Kind,
				Expected: fmt.Sprintf("%d batches", a.Count),
				Actual:   fmt.Sprintf("%d batches", got),
			}
		}
	case AssertRecord:
		return assertRecord(records, a)
	case AssertAbsent:
		if _, found := findRecord(records, a.Key); found {
			return &AssertionError{
				Type:     a.Type,
				Kind:     a.Kind,
				Expected: fmt.Sprintf("no record with key %q", a.Key),
				Actual:   "record present",
				State:    records,
			}
		}
	default:
		return fmt.Errorf("unknown assertion type %q", a.Type)
	}
	return nil
}

func findRecord(records []StateRecord, key string) (StateRecord, bool) {
	i := sort.Search(len(records), func(i int) bool { return records[i].Key >= key })
	if i < len(records) && records[i].Key == key {
		return records[i], true
	}
	return StateRecord{}, false
}

func assertRecord(records []StateRecord, a Assertion) error {
	rec, found := findRecord(records, a.Key)
	if !found {
		return &AssertionError{
			Type:     a.Type,
			Kind:     a.Kind,
			Expected: fmt.Sprintf("record with key %q", a.Key),
			Actual:   "not found",
			State:    records,
		}
	}
	if a.Version != 0 && rec.Version != a.Version {
		return &AssertionError{
			Type:     a.Type,
			Kind:     a.Kind,
			Expected: fmt.Sprintf("%q at version %d", a.Key, a.Version),
			Actual:   fmt.Sprintf("version %d", rec.Version),
		}
	}

	names := make([]string, 0, len(a.Fields))
	for name := range a.Fields {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		want := a.Fields[name]
		got, ok := rec.Fields[name]
		if !ok {
			return &AssertionError{
				Type:     a.Type,
				Kind:     a.Kind,
				Expected: fmt.Sprintf("%q.%s = %v", a.Key, name, want),
				Actual:   "field missing",
			}
		}
		if !valuesEqual(want, got) {
			return &AssertionError{
				Type:     a.Type,
				Kind:     a.Kind,
				Expected: fmt.Sprintf("%q.%s = %v", a.Key, name, want),
				Actual:   fmt.Sprintf("%v", got),
			}
		}
	}
	return nil
}

// valuesEqual compares two plain values by canonical JSON, so 3 (int from
// YAML) equals 3.0 (float64 from JSON).
func valuesEqual(expected, actual any) bool {
	a, err := canonical(expected)
	if err != nil {
		return false
	}
	b, err := canonical(actual)
	if err != nil {
		return false
	}
	return bytes.Equal(a, b)
}

func canonical(v any) ([]byte, error) {
	pv, err := payload.FromGo(normalizeYAML(v))
	if err != nil {
		return nil, err
	}
	return payload.MarshalCanonical(pv)
}
