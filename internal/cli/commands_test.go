package cli

import (
	"bytes"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/recstore/internal/catalog"
)

const accountSchema = `package schema

entity: Account: {
	key: "id"
	fields: {
		id:    {type: "string", required: true}
		email: {type: "string", required: true}
	}
}
`

// workspace is a temp dir holding a database path and a schema dir.
type workspace struct {
	dir    string
	db     string
	schema string
}

func newWorkspace(t *testing.T) *workspace {
	t.Helper()
	dir := t.TempDir()
	schemaDir := filepath.Join(dir, "schema")
	require.NoError(t, os.MkdirAll(schemaDir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(schemaDir, "account.cue"), []byte(accountSchema), 0644))
	return &workspace{dir: dir, db: filepath.Join(dir, "records.sqlite"), schema: schemaDir}
}

func (w *workspace) write(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(w.dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

// run executes the root command against the workspace store with the pure
// Go driver.
func (w *workspace) run(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand()
	out := &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetErr(io.Discard)
	if stdin != "" {
		cmd.SetIn(strings.NewReader(stdin))
	}
	base := []string{"--db", w.db, "--driver", "sqlite", "--schema", w.schema}
	cmd.SetArgs(append(base, args...))
	err := cmd.Execute()
	return out.String(), err
}

func TestInitCommand(t *testing.T) {
	w := newWorkspace(t)

	out, err := w.run(t, "", "init")
	require.NoError(t, err)
	assert.Contains(t, out, "Initialized sqlite store at "+w.db)
	assert.Contains(t, out, "Kinds: Account, Item")

	_, err = os.Stat(w.db)
	assert.NoError(t, err, "database file is created")
}

func TestImportAndReadCommands(t *testing.T) {
	w := newWorkspace(t)
	file := w.write(t, "accounts.json", `[
		{"id": "a1", "email": "one@example.com"},
		{"id": "a2", "email": "two@example.com"},
		{"email": "nokey@example.com"}
	]`)

	out, err := w.run(t, "", "import", "Account", file)
	require.NoError(t, err)
	assert.Contains(t, out, "into Account: received 3, created 2, updated 0, unchanged 0, skipped 1")

	// stdin, newline-delimited
	out, err = w.run(t, `{"id":"a1","email":"new@example.com"}`+"\n", "import", "Account")
	require.NoError(t, err)
	assert.Contains(t, out, "received 1, created 0, updated 1")

	out, err = w.run(t, "", "count", "Account")
	require.NoError(t, err)
	assert.Equal(t, "2\n", out)

	out, err = w.run(t, "", "--format", "json", "get", "Account", "a1")
	require.NoError(t, err)
	var resp struct {
		Status string       `json:"status"`
		Data   catalog.View `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, int64(2), resp.Data.Version)
	assert.JSONEq(t, `{"id":"a1","email":"new@example.com"}`, string(resp.Data.Fields))

	out, err = w.run(t, "", "list", "Account", "--limit", "1", "--offset", "1")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "a2\tv1\t"), out)
	assert.NotContains(t, out, "a1")

	out, err = w.run(t, "", "batches", "Account")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "received=3 created=2 updated=0 unchanged=0 skipped=1")
	assert.Contains(t, lines[1], "received=1 created=0 updated=1")

	out, err = w.run(t, "", "list", "Item")
	require.NoError(t, err)
	assert.Equal(t, "No records.\n", out)
}

func TestImportCommand_SkipUnchanged(t *testing.T) {
	w := newWorkspace(t)
	file := w.write(t, "items.json", `[{"id":"i1","name":"x"}]`)

	_, err := w.run(t, "", "import", "Item", file)
	require.NoError(t, err)

	out, err := w.run(t, "", "import", "Item", file, "--skip-unchanged")
	require.NoError(t, err)
	assert.Contains(t, out, "unchanged 1")

	out, err = w.run(t, "", "get", "Item", "i1")
	require.NoError(t, err)
	assert.Contains(t, out, `"version": 1`)
}

func TestImportCommand_Failures(t *testing.T) {
	w := newWorkspace(t)

	t.Run("validation error aborts the batch", func(t *testing.T) {
		file := w.write(t, "bad.json", `[{"id":"a1","email":"x"},{"id":"a2"}]`)
		out, err := w.run(t, "", "import", "Account", file)
		require.Error(t, err)
		assert.Equal(t, ExitFailure, GetExitCode(err))
		assert.Contains(t, out, "Error [E006]")

		out, err = w.run(t, "", "count", "Account")
		require.NoError(t, err)
		assert.Equal(t, "0\n", out)
	})

	t.Run("unknown kind", func(t *testing.T) {
		out, err := w.run(t, "[]", "--format", "json", "import", "Ghost")
		require.Error(t, err)
		assert.Equal(t, ExitFailure, GetExitCode(err))
		assert.Contains(t, out, `"code": "E007"`)
	})

	t.Run("malformed input", func(t *testing.T) {
		file := w.write(t, "broken.json", `[{"id":`)
		out, err := w.run(t, "", "import", "Item", file)
		require.Error(t, err)
		assert.Equal(t, ExitCommandError, GetExitCode(err))
		assert.Contains(t, out, "Error [E005]")
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := w.run(t, "", "import", "Item", filepath.Join(w.dir, "nope.json"))
		require.Error(t, err)
		assert.Equal(t, ExitCommandError, GetExitCode(err))
	})

	t.Run("empty input", func(t *testing.T) {
		file := w.write(t, "empty.json", `[]`)
		out, err := w.run(t, "", "import", "Item", file)
		require.NoError(t, err)
		assert.Equal(t, "Nothing to import\n", out)
	})
}

func TestGetCommand_NotFound(t *testing.T) {
	w := newWorkspace(t)

	out, err := w.run(t, "", "get", "Item", "missing")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "Error [E008]: Item[missing] not found")
}

func TestListCommand_BadPaging(t *testing.T) {
	w := newWorkspace(t)
	_, err := w.run(t, "", "list", "Item", "--limit", "-1")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestConfigErrors(t *testing.T) {
	w := newWorkspace(t)

	t.Run("missing config file", func(t *testing.T) {
		out, err := w.run(t, "", "--config", filepath.Join(w.dir, "nope.yaml"), "count", "Item")
		require.Error(t, err)
		assert.Equal(t, ExitCommandError, GetExitCode(err))
		assert.Contains(t, out, "Error [E002]")
	})

	t.Run("unknown config key", func(t *testing.T) {
		cfg := w.write(t, "bad.yaml", "store:\n  drivr: sqlite\n")
		_, err := w.run(t, "", "--config", cfg, "count", "Item")
		require.Error(t, err)
		assert.Equal(t, ExitCommandError, GetExitCode(err))
	})

	t.Run("bad driver flag", func(t *testing.T) {
		cmd := NewRootCommand()
		out := &bytes.Buffer{}
		cmd.SetOut(out)
		cmd.SetErr(io.Discard)
		cmd.SetArgs([]string{"--driver", "postgres", "count", "Item"})
		err := cmd.Execute()
		require.Error(t, err)
		assert.Contains(t, out.String(), "store.driver")
	})

	t.Run("missing schema dir", func(t *testing.T) {
		cmd := NewRootCommand()
		out := &bytes.Buffer{}
		cmd.SetOut(out)
		cmd.SetErr(io.Discard)
		cmd.SetArgs([]string{"--driver", "memory", "--schema", filepath.Join(w.dir, "nope"), "count", "Item"})
		err := cmd.Execute()
		require.Error(t, err)
		assert.Contains(t, out.String(), "Error [E003]")
	})

	t.Run("config file applies", func(t *testing.T) {
		cfg := w.write(t, "ok.yaml", "store:\n  driver: memory\nlog:\n  level: debug\n  format: json\n")
		cmd := NewRootCommand()
		out := &bytes.Buffer{}
		cmd.SetOut(out)
		cmd.SetErr(io.Discard)
		cmd.SetArgs([]string{"--config", cfg, "init"})
		require.NoError(t, cmd.Execute())
		assert.Contains(t, out.String(), "Initialized memory store")
	})
}
