package harness

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"github.com/roach88/recstore/internal/backend"
	"github.com/roach88/recstore/internal/catalog"
	"github.com/roach88/recstore/internal/config"
	"github.com/roach88/recstore/internal/importer"
	"github.com/roach88/recstore/internal/manager"
	"github.com/roach88/recstore/internal/memstore"
	"github.com/roach88/recstore/internal/payload"
	"github.com/roach88/recstore/internal/record"
	"github.com/roach88/recstore/internal/schema"
	"github.com/roach88/recstore/internal/testutil"
)

// Harness runs one scenario against a fresh in-memory manager.
type Harness struct {
	catalog *catalog.Catalog
	manager *manager.Manager
	logger  *slog.Logger
}

// Run executes a scenario and returns the result.
//
// Each scenario runs against a fresh memstore so runs are isolated, and the
// clock and batch ids are deterministic.
//
// Execution flow:
//  1. Compile schema files and inline CUE into a catalog
//  2. Set up a manager over the memstore with every catalog kind
//  3. Import each step's payloads, recording outcome and stats
//  4. Snapshot committed state of every kind
//  5. Evaluate assertions against the snapshot
//
// A non-nil error means the scenario could not be run at all. Expectation
// and assertion failures are reported in Result.Errors.
func Run(scenario *Scenario) (*Result, error) {
	ctx := context.Background()

	s, err := buildSchema(scenario)
	if err != nil {
		return nil, fmt.Errorf("failed to build schema: %w", err)
	}
	cat := catalog.New(s)

	clock := testutil.NewDeterministicClock()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	cfg := config.Default()
	cfg.Store.Driver = config.DriverMemory
	cfg.Import.SkipUnchanged = scenario.SkipUnchanged

	m := manager.New(cfg,
		manager.WithLogger(logger),
		manager.WithBackend(memstore.New(memstore.WithClock(clock.Now))),
		manager.WithKinds(cat.Descriptors()...),
		manager.WithBatchIDGenerator(importer.NewSequenceGenerator("batch")),
	)
	if err := m.Setup(ctx, nil); err != nil {
		return nil, fmt.Errorf("failed to set up manager: %w", err)
	}
	defer func() { _ = m.Close(ctx) }()

	h := &Harness{catalog: cat, manager: m, logger: logger}
	result := NewResult()

	for i, step := range scenario.Steps {
		if err := h.executeStep(ctx, i+1, step, result); err != nil {
			return nil, fmt.Errorf("step %d: %w", i+1, err)
		}
	}

	if err := h.snapshot(ctx, result); err != nil {
		return nil, fmt.Errorf("failed to snapshot state: %w", err)
	}

	for _, msg := range EvaluateAssertions(result, scenario.Assertions) {
		result.AddError(msg)
	}
	return result, nil
}

func buildSchema(scenario *Scenario) (*schema.Schema, error) {
	merged := &schema.Schema{}
	for _, path := range scenario.Schema {
		src, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		s, err := schema.Compile(string(src))
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		merged = merged.Merge(s)
	}
	if scenario.CUE != "" {
		s, err := schema.Compile(scenario.CUE)
		if err != nil {
			return nil, fmt.Errorf("inline cue: %w", err)
		}
		merged = merged.Merge(s)
	}
	return merged, nil
}

func (h *Harness) executeStep(ctx context.Context, n int, step Step, result *Result) error {
	payloads, err := toPayloads(step.Payloads)
	if err != nil {
		return err
	}

	event := StepEvent{Step: n, Kind: step.Import}
	out, err := h.catalog.Import(ctx, h.manager, step.Import, payloads)
	event.Outcome = classify(err)
	if err != nil {
		event.Error = err.Error()
		h.logger.Debug("step failed", "step", n, "kind", step.Import, "error", err)
	} else {
		event.BatchID = out.BatchID
		event.Keys = make([]string, len(out.Records))
		for i, v := range out.Records {
			event.Keys[i] = v.Key
		}
		stats := out.Stats
		event.Stats = &stats
	}
	result.Trace = append(result.Trace, event)

	if step.Expect != nil {
		for _, msg := range checkExpect(event, *step.Expect) {
			result.AddError(fmt.Sprintf("step %d (%s): %s", n, step.Import, msg))
		}
	} else if event.Outcome != OutcomeOK {
		result.AddError(fmt.Sprintf("step %d (%s): unexpected %s: %s", n, step.Import, event.Outcome, event.Error))
	}
	return nil
}

// toPayloads converts YAML-decoded values into payloads.
func toPayloads(values []any) ([]payload.Payload, error) {
	out := make([]payload.Payload, len(values))
	for i, v := range values {
		pv, err := payload.FromGo(normalizeYAML(v))
		if err != nil {
			return nil, fmt.Errorf("payloads[%d]: %w", i, err)
		}
		out[i] = payload.New(pv)
	}
	return out, nil
}

// normalizeYAML rewrites map[any]any (produced for non-string YAML keys)
// into map[string]any.
func normalizeYAML(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = normalizeYAML(e)
		}
		return out
	case map[any]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[fmt.Sprint(k)] = normalizeYAML(e)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = normalizeYAML(e)
		}
		return out
	default:
		return v
	}
}

func classify(err error) string {
	switch {
	case err == nil:
		return OutcomeOK
	case record.IsValidationError(err):
		return OutcomeValidationError
	case manager.IsPreconditionError(err):
		return OutcomePreconditionError
	default:
		return OutcomeBackendError
	}
}

func checkExpect(event StepEvent, exp Expect) []string {
	var msgs []string
	want := exp.Outcome
	if want == "" {
		want = OutcomeOK
	}
	if event.Outcome != want {
		msg := fmt.Sprintf("expected outcome %s, got %s", want, event.Outcome)
		if event.Error != "" {
			msg += ": " + event.Error
		}
		return append(msgs, msg)
	}
	if event.Stats == nil {
		return msgs
	}

	if exp.Keys != nil && !slices.Equal(exp.Keys, event.Keys) {
		msgs = append(msgs, fmt.Sprintf("expected keys %v, got %v", exp.Keys, event.Keys))
	}
	counters := []struct {
		name string
		want *int
		got  int
	}{
		{"created", exp.Created, event.Stats.Created},
		{"updated", exp.Updated, event.Stats.Updated},
		{"unchanged", exp.Unchanged, event.Stats.Unchanged},
		{"skipped", exp.Skipped, event.Stats.Skipped},
	}
	for _, c := range counters {
		if c.want != nil && *c.want != c.got {
			msgs = append(msgs, fmt.Sprintf("expected %s=%d, got %d", c.name, *c.want, c.got))
		}
	}
	return msgs
}

// snapshot records committed state of every kind, plus batch counts used by
// batches assertions.
func (h *Harness) snapshot(ctx context.Context, result *Result) error {
	for _, name := range h.catalog.Names() {
		rows, err := h.manager.List(ctx, name, backend.ListOptions{})
		if err != nil {
			return err
		}
		records := make([]StateRecord, 0, len(rows))
		for _, row := range rows {
			fields := map[string]any{}
			if len(row.Fields) > 0 {
				if err := json.Unmarshal(row.Fields, &fields); err != nil {
					return fmt.Errorf("%s[%s]: %w", name, row.Key, err)
				}
			}
			records = append(records, StateRecord{
				Key:     row.Key,
				Version: row.Version,
				BatchID: row.BatchID,
				Fields:  fields,
			})
		}
		result.State[name] = records

		batches, err := h.manager.Batches(ctx, name)
		if err != nil {
			return err
		}
		result.batches[name] = len(batches)
	}
	return nil
}

// errUnknownKind is returned by assertions against kinds the scenario never
// declared.
var errUnknownKind = errors.New("unknown kind")
