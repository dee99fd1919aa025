package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/recstore/internal/harness"
)

// Golden states of a scenario run.
const (
	goldenNone     = ""
	goldenMatch    = "match"
	goldenMismatch = "mismatch"
	goldenUpdated  = "updated"
)

// TestOptions holds flags for the test command.
type TestOptions struct {
	*RootOptions
	Update bool   // regenerate golden files
	Filter string // glob over scenario file names, without extension
}

// ScenarioResult is the report for one scenario file.
type ScenarioResult struct {
	Name    string              `json:"name"`
	Pass    bool                `json:"pass"`
	Steps   []harness.StepEvent `json:"steps,omitempty"`
	Records int                 `json:"records"`
	Golden  string              `json:"golden,omitempty"`
	Errors  []string            `json:"errors,omitempty"`
}

// TestResult aggregates a test run.
type TestResult struct {
	Scenarios []ScenarioResult `json:"scenarios"`
	Passed    int              `json:"passed"`
	Failed    int              `json:"failed"`
	Total     int              `json:"total"`
}

// NewTestCommand creates the test command.
func NewTestCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TestOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "test <scenarios-dir>",
		Short: "Run import scenarios",
		Long: `Run YAML import scenarios against a fresh in-memory store.

Each scenario declares its schema, import steps with expected outcomes and
final-state assertions. When <scenarios-dir>/golden/<name>.golden exists the
step outcomes and final state must also match it byte for byte.

Failed scenarios list every import step with its batch stats; --verbose
lists them for passing scenarios too.

Exit codes:
  0 - All scenarios passed
  1 - One or more scenarios failed
  2 - Command error (invalid paths, etc.)

Examples:
  recstore test ./scenarios
  recstore test ./scenarios --filter "upsert*"
  recstore test ./scenarios --update
  recstore test ./scenarios --format json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTests(opts, args[0], cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.Update, "update", false, "regenerate golden files")
	cmd.Flags().StringVar(&opts.Filter, "filter", "", "filter scenarios by glob pattern")

	return cmd
}

func runTests(opts *TestOptions, dir string, cmd *cobra.Command) error {
	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		return NewExitError(ExitCommandError, fmt.Sprintf("scenarios directory not found: %s", dir))
	}
	if opts.Filter != "" {
		if _, err := filepath.Match(opts.Filter, ""); err != nil {
			return WrapExitError(ExitCommandError, "invalid filter pattern", err)
		}
	}

	files, err := scenarioFiles(dir, opts.Filter)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to find scenarios", err)
	}

	result := TestResult{Scenarios: make([]ScenarioResult, 0, len(files))}
	for _, file := range files {
		sr := runScenario(file, opts.Update)
		result.Scenarios = append(result.Scenarios, sr)
		result.Total++
		if sr.Pass {
			result.Passed++
		} else {
			result.Failed++
		}
	}

	if opts.Format == "json" {
		return reportJSON(cmd.OutOrStdout(), result)
	}
	return reportText(cmd.OutOrStdout(), result, opts.Verbose)
}

// scenarioFiles lists .yaml/.yml files under dir in lexical order. The
// golden/ subdirectory holds snapshots, not scenarios.
func scenarioFiles(dir, filter string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != dir && d.Name() == "golden" {
				return filepath.SkipDir
			}
			return nil
		}
		ext := filepath.Ext(path)
		if ext != ".yaml" && ext != ".yml" {
			return nil
		}
		if filter != "" {
			// pattern validity is checked by the caller
			if ok, _ := filepath.Match(filter, strings.TrimSuffix(d.Name(), ext)); !ok {
				return nil
			}
		}
		files = append(files, path)
		return nil
	})
	return files, err
}

func runScenario(file string, update bool) ScenarioResult {
	scenario, err := harness.LoadScenario(file)
	if err != nil {
		return ScenarioResult{
			Name:   filepath.Base(file),
			Errors: []string{fmt.Sprintf("load: %v", err)},
		}
	}

	sr := ScenarioResult{Name: scenario.Name}
	result, err := harness.Run(scenario)
	if err != nil {
		sr.Errors = []string{fmt.Sprintf("run: %v", err)}
		return sr
	}

	sr.Pass = result.Pass
	sr.Steps = result.Trace
	sr.Errors = result.Errors
	for _, records := range result.State {
		sr.Records += len(records)
	}

	sr.Golden, err = checkGolden(goldenFilePath(file), scenario.Name, result, update)
	switch {
	case err != nil:
		sr.Pass = false
		sr.Errors = append(sr.Errors, fmt.Sprintf("golden: %v", err))
	case sr.Golden == goldenMismatch:
		sr.Pass = false
		sr.Errors = append(sr.Errors, "Golden file mismatch (run with --update to regenerate)")
	}
	return sr
}

// goldenFilePath maps dir/name.yaml to dir/golden/name.golden.
func goldenFilePath(file string) string {
	name := strings.TrimSuffix(filepath.Base(file), filepath.Ext(file))
	return filepath.Join(filepath.Dir(file), "golden", name+".golden")
}

// checkGolden writes the snapshot when update is set, and otherwise compares
// it with an existing golden file.
func checkGolden(path, name string, result *harness.Result, update bool) (string, error) {
	snap, err := harness.SnapshotJSON(name, result)
	if err != nil {
		return goldenNone, fmt.Errorf("marshal snapshot: %w", err)
	}

	if update {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return goldenNone, fmt.Errorf("create golden directory: %w", err)
		}
		if err := os.WriteFile(path, snap, 0644); err != nil {
			return goldenNone, fmt.Errorf("write golden file: %w", err)
		}
		return goldenUpdated, nil
	}

	want, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return goldenNone, nil
	}
	if err != nil {
		return goldenNone, fmt.Errorf("read golden file: %w", err)
	}
	if !bytes.Equal(want, snap) {
		return goldenMismatch, nil
	}
	return goldenMatch, nil
}

func reportJSON(w io.Writer, result TestResult) error {
	resp := CLIResponse{Status: "ok", Data: result}
	if result.Failed > 0 {
		resp.Status = "error"
		resp.Error = &CLIError{
			Code:    ErrCodeTestFailed,
			Message: fmt.Sprintf("%d scenario(s) failed", result.Failed),
		}
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(resp); err != nil {
		return err
	}
	return testExit(result)
}

func reportText(w io.Writer, result TestResult, verbose bool) error {
	if result.Total == 0 {
		fmt.Fprintln(w, "No scenarios found.")
		return nil
	}

	for _, sr := range result.Scenarios {
		mark := "✓"
		if !sr.Pass {
			mark = "✗"
		}
		line := mark + " " + sr.Name
		if sr.Golden == goldenUpdated {
			line += " (golden updated)"
		}
		fmt.Fprintf(w, "%s  [%d step(s), %d record(s)]\n", line, len(sr.Steps), sr.Records)

		if verbose || !sr.Pass {
			for _, step := range sr.Steps {
				fmt.Fprintf(w, "    %s\n", describeStep(step))
			}
		}
		for _, e := range sr.Errors {
			fmt.Fprintf(w, "  %s\n", e)
		}
	}

	fmt.Fprintln(w)
	fmt.Fprintf(w, "Test Summary: %d passed, %d failed, %d total\n", result.Passed, result.Failed, result.Total)
	if result.Failed == 0 {
		fmt.Fprintln(w, "✓ All scenarios passed")
	}
	return testExit(result)
}

// describeStep renders one import step the way the batches command does.
func describeStep(s harness.StepEvent) string {
	head := fmt.Sprintf("step %d %s: %s", s.Step, s.Kind, s.Outcome)
	if s.Stats == nil {
		if s.Error != "" {
			return head + " (" + s.Error + ")"
		}
		return head
	}
	st := s.Stats
	return fmt.Sprintf("%s received=%d created=%d updated=%d unchanged=%d skipped=%d",
		head, st.Received, st.Created, st.Updated, st.Unchanged, st.Skipped)
}

func testExit(result TestResult) error {
	if result.Failed > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d scenario(s) failed", result.Failed))
	}
	return nil
}
