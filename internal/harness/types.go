package harness

import (
	"github.com/roach88/recstore/internal/importer"
)

// StepEvent is the recorded outcome of one step.
type StepEvent struct {
	Step    int             `json:"step"` // 1-based
	Kind    string          `json:"kind"`
	Outcome string          `json:"outcome"`
	BatchID string          `json:"batch_id,omitempty"`
	Keys    []string        `json:"keys,omitempty"`
	Stats   *importer.Stats `json:"stats,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// StateRecord is one committed record in the final state.
type StateRecord struct {
	Key     string         `json:"key"`
	Version int64          `json:"version"`
	BatchID string         `json:"batch_id"`
	Fields  map[string]any `json:"fields"`
}

// Result is the outcome of a scenario run.
type Result struct {
	// Pass is true when every expect clause and assertion held.
	Pass bool `json:"pass"`

	// Trace holds one event per step, in order.
	Trace []StepEvent `json:"trace"`

	// Errors holds failure messages. Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`

	// State maps entity name to its records ordered by key.
	State map[string][]StateRecord `json:"state,omitempty"`

	batches map[string]int
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []StepEvent{},
		Errors: []string{},
		State:  make(map[string][]StateRecord),

		batches: make(map[string]int),
	}
}

// AddError adds a failure message and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}
