package harness

import (
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/recstore/internal/payload"
)

// Snapshot is the deterministic part of a run: step outcomes and final
// state. Error messages and timestamps are left out so snapshots survive
// wording changes.
type Snapshot struct {
	ScenarioName string
	Steps        []StepEvent
	State        map[string][]StateRecord
}

// toCanonicalMap converts a Snapshot to plain values for canonical JSON.
func (s *Snapshot) toCanonicalMap() map[string]any {
	steps := make([]any, len(s.Steps))
	for i, event := range s.Steps {
		m := map[string]any{
			"step":    event.Step,
			"kind":    event.Kind,
			"outcome": event.Outcome,
		}
		if event.BatchID != "" {
			m["batch_id"] = event.BatchID
		}
		if event.Stats != nil {
			keys := make([]any, len(event.Keys))
			for j, k := range event.Keys {
				keys[j] = k
			}
			m["keys"] = keys
			m["stats"] = map[string]any{
				"received":  event.Stats.Received,
				"created":   event.Stats.Created,
				"updated":   event.Stats.Updated,
				"unchanged": event.Stats.Unchanged,
				"skipped":   event.Stats.Skipped,
			}
		}
		steps[i] = m
	}

	state := make(map[string]any, len(s.State))
	for kind, records := range s.State {
		list := make([]any, len(records))
		for i, r := range records {
			list[i] = map[string]any{
				"key":      r.Key,
				"version":  r.Version,
				"batch_id": r.BatchID,
				"fields":   r.Fields,
			}
		}
		state[kind] = list
	}

	return map[string]any{
		"scenario_name": s.ScenarioName,
		"steps":         steps,
		"state":         state,
	}
}

// SnapshotJSON renders a result as canonical JSON.
func SnapshotJSON(name string, result *Result) ([]byte, error) {
	snap := Snapshot{ScenarioName: name, Steps: result.Trace, State: result.State}
	v, err := payload.FromGo(snap.toCanonicalMap())
	if err != nil {
		return nil, err
	}
	return payload.MarshalCanonical(v)
}

// RunWithGolden executes a scenario and compares its snapshot against
// testdata/golden/{scenario.Name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
func RunWithGolden(t *testing.T, scenario *Scenario) (*Result, error) {
	t.Helper()

	result, err := Run(scenario)
	if err != nil {
		return nil, err
	}
	if err := AssertGolden(t, scenario.Name, result); err != nil {
		return nil, err
	}
	return result, nil
}

// AssertGolden compares an existing result against its golden file without
// re-running the scenario.
func AssertGolden(t *testing.T, scenarioName string, result *Result) error {
	t.Helper()

	data, err := SnapshotJSON(scenarioName, result)
	if err != nil {
		return err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenarioName, data)
	return nil
}
