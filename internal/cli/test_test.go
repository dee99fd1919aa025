package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const passingScenario = `name: tags
description: "tags upsert by name"
cue: |
  entity: Tag: {key: "name", fields: {name: {type: "string"}, weight: {type: "int"}}}
steps:
  - import: Tag
    payloads:
      - {name: go, weight: 1}
      - {name: go, weight: 2}
    expect:
      keys: [go]
      created: 1
assertions:
  - type: record
    kind: Tag
    key: go
    version: 2
    fields: {weight: 2}
`

const failingScenario = `name: wrong_count
description: "count assertion that does not hold"
steps:
  - import: Item
    payloads: [{id: "i1"}]
assertions:
  - type: count
    kind: Item
    count: 3
`

func newTestCmd(t *testing.T, format string, args ...string) (*bytes.Buffer, error) {
	t.Helper()
	buf := &bytes.Buffer{}
	rootOpts := &RootOptions{Format: format}
	cmd := NewTestCommand(rootOpts)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs(args)
	return buf, cmd.Execute()
}

func writeScenario(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0644))
}

func TestTestCommandMissingArgs(t *testing.T) {
	_, err := newTestCmd(t, "text")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "accepts 1 arg")
}

func TestTestCommandNonExistentScenariosDir(t *testing.T) {
	_, err := newTestCmd(t, "text", "/nonexistent/scenarios")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "scenarios directory not found")
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestTestCommandEmptyDir(t *testing.T) {
	buf, err := newTestCmd(t, "text", t.TempDir())
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "No scenarios found.")
}

func TestTestCommandPassAndFail(t *testing.T) {
	dir := t.TempDir()
	writeScenario(t, dir, "tags.yaml", passingScenario)
	writeScenario(t, dir, "wrong_count.yaml", failingScenario)

	buf, err := newTestCmd(t, "text", dir)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, buf.String(), "✓ tags")
	assert.Contains(t, buf.String(), "✗ wrong_count  [1 step(s), 1 record(s)]")
	assert.Contains(t, buf.String(), "step 1 Item: ok received=1 created=1 updated=0 unchanged=0 skipped=0")
	assert.NotContains(t, buf.String(), "step 1 Tag:", "passing steps are listed only with --verbose")
	assert.Contains(t, buf.String(), "Test Summary: 1 passed, 1 failed, 2 total")
}

func TestTestCommandVerboseListsSteps(t *testing.T) {
	dir := t.TempDir()
	writeScenario(t, dir, "tags.yaml", passingScenario)

	buf := &bytes.Buffer{}
	cmd := NewTestCommand(&RootOptions{Format: "text", Verbose: true})
	cmd.SetOut(buf)
	cmd.SetArgs([]string{dir})
	require.NoError(t, cmd.Execute())
	assert.Contains(t, buf.String(), "✓ tags  [1 step(s), 1 record(s)]")
	assert.Contains(t, buf.String(), "step 1 Tag: ok received=2 created=1 updated=0 unchanged=0 skipped=0")
}

func TestTestCommandFilter(t *testing.T) {
	dir := t.TempDir()
	writeScenario(t, dir, "tags.yaml", passingScenario)
	writeScenario(t, dir, "wrong_count.yaml", failingScenario)

	buf, err := newTestCmd(t, "text", dir, "--filter", "tag*")
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "1 passed, 0 failed, 1 total")

	_, err = newTestCmd(t, "text", dir, "--filter", "[")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestTestCommandJSON(t *testing.T) {
	dir := t.TempDir()
	writeScenario(t, dir, "tags.yaml", passingScenario)
	writeScenario(t, dir, "broken.yaml", "name: broken\n")

	buf, err := newTestCmd(t, "json", dir)
	require.Error(t, err)

	var resp struct {
		Status string     `json:"status"`
		Data   TestResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "error", resp.Status)
	assert.Equal(t, 2, resp.Data.Total)
	assert.Equal(t, 1, resp.Data.Passed)
	assert.Equal(t, 1, resp.Data.Failed)

	for _, sr := range resp.Data.Scenarios {
		if sr.Name == "tags" {
			require.Len(t, sr.Steps, 1)
			require.NotNil(t, sr.Steps[0].Stats)
			assert.Equal(t, 2, sr.Steps[0].Stats.Received)
			assert.Equal(t, 1, sr.Records)
		}
	}
}

func TestTestCommandGoldenLifecycle(t *testing.T) {
	dir := t.TempDir()
	writeScenario(t, dir, "tags.yaml", passingScenario)

	buf, err := newTestCmd(t, "text", dir, "--update")
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "✓ tags (golden updated)")

	golden, err := os.ReadFile(filepath.Join(dir, "golden", "tags.golden"))
	require.NoError(t, err)
	assert.Contains(t, string(golden), `"scenario_name":"tags"`)

	_, err = newTestCmd(t, "text", dir)
	require.NoError(t, err, "fresh golden matches")

	require.NoError(t, os.WriteFile(filepath.Join(dir, "golden", "tags.golden"), []byte(`{}`), 0644))
	buf, err = newTestCmd(t, "text", dir)
	require.Error(t, err)
	assert.Contains(t, buf.String(), "Golden file mismatch")
}

func TestTestCommandShippedScenarios(t *testing.T) {
	buf, err := newTestCmd(t, "text", filepath.Join("..", "..", "scenarios"))
	require.NoError(t, err, buf.String())
	assert.Contains(t, buf.String(), "✓ All scenarios passed")
}
