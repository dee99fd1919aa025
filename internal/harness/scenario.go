package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Scenario is one import scenario.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Schema lists CUE files declaring entities. Relative paths are
	// resolved against the scenario file's directory.
	Schema []string `yaml:"schema,omitempty"`

	// CUE is inline CUE source declaring further entities.
	CUE string `yaml:"cue,omitempty"`

	// SkipUnchanged enables the importer's unchanged-payload shortcut.
	SkipUnchanged bool `yaml:"skip_unchanged,omitempty"`

	// Steps run in order; each step is one import batch.
	Steps []Step `yaml:"steps"`

	// Assertions validate final state.
	Assertions []Assertion `yaml:"assertions"`
}

// Step imports one batch of payloads.
type Step struct {
	// Import is the entity name.
	Import string `yaml:"import"`

	// Payloads are decoded from YAML into payload values.
	Payloads []any `yaml:"payloads"`

	// Expect, if set, is checked against the step outcome.
	Expect *Expect `yaml:"expect,omitempty"`
}

// Step outcomes.
const (
	OutcomeOK                = "ok"
	OutcomeValidationError   = "validation_error"
	OutcomePreconditionError = "precondition_error"
	OutcomeBackendError      = "backend_error"
)

// Expect describes the expected outcome of a step. Unset counters are not
// checked.
type Expect struct {
	Outcome   string   `yaml:"outcome,omitempty"` // default ok
	Keys      []string `yaml:"keys,omitempty"`
	Created   *int     `yaml:"created,omitempty"`
	Updated   *int     `yaml:"updated,omitempty"`
	Unchanged *int     `yaml:"unchanged,omitempty"`
	Skipped   *int     `yaml:"skipped,omitempty"`
}

// Assertion validates final state.
type Assertion struct {
	Type    string         `yaml:"type"`
	Kind    string         `yaml:"kind"`
	Key     string         `yaml:"key,omitempty"`
	Count   int            `yaml:"count,omitempty"`
	Version int64          `yaml:"version,omitempty"`
	Fields  map[string]any `yaml:"fields,omitempty"`
}

// Assertion type constants.
const (
	AssertCount   = "count"
	AssertRecord  = "record"
	AssertAbsent  = "absent"
	AssertBatches = "batches"
)

// LoadScenario reads a scenario file. Unknown fields (typos) are rejected.
// Schema paths are resolved relative to the file.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data, filepath.Dir(path))
}

// ParseScenario decodes scenario YAML, resolving relative schema paths
// against baseDir.
func ParseScenario(data []byte, baseDir string) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	for i, p := range scenario.Schema {
		if !filepath.IsAbs(p) && baseDir != "" {
			scenario.Schema[i] = filepath.Join(baseDir, p)
		}
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}

	for _, p := range s.Schema {
		if _, err := os.Stat(p); os.IsNotExist(err) {
			return fmt.Errorf("schema file not found: %s", p)
		}
	}

	for i, step := range s.Steps {
		if step.Import == "" {
			return fmt.Errorf("steps[%d]: import is required", i)
		}
		if step.Payloads == nil {
			return fmt.Errorf("steps[%d]: payloads is required (use [] for an empty batch)", i)
		}
		if step.Expect != nil {
			switch step.Expect.Outcome {
			case "", OutcomeOK, OutcomeValidationError, OutcomePreconditionError, OutcomeBackendError:
			default:
				return fmt.Errorf("steps[%d].expect: unknown outcome %q", i, step.Expect.Outcome)
			}
		}
	}

	for i, a := range s.Assertions {
		if err := validateAssertion(i, a); err != nil {
			return err
		}
	}
	return nil
}

func validateAssertion(index int, a Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}
	if a.Kind == "" {
		return fmt.Errorf("assertions[%d]: kind is required", index)
	}

	switch a.Type {
	case AssertCount, AssertBatches:
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for %s", index, a.Type)
		}
	case AssertRecord, AssertAbsent:
		if a.Key == "" {
			return fmt.Errorf("assertions[%d]: key is required for %s", index, a.Type)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
