package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/recstore/internal/manager"
	"github.com/roach88/recstore/internal/record"
)

func TestOutputFormatter_JSONSuccess(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{
		Format: "json",
		Writer: buf,
	}

	err := formatter.Success(map[string]string{"result": "success"}, "ignored")
	require.NoError(t, err)

	var resp CLIResponse
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.NotNil(t, resp.Data)
	assert.NotContains(t, buf.String(), "ignored")
}

func TestOutputFormatter_JSONError(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{
		Format: "json",
		Writer: buf,
	}

	err := formatter.Error(ErrCodeGeneric, "import failed", map[string]string{"kind": "Item"})
	require.NoError(t, err)

	var resp CLIResponse
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "E001", resp.Error.Code)
	assert.Equal(t, "import failed", resp.Error.Message)
	assert.NotNil(t, resp.Error.Details)
}

func TestOutputFormatter_TextSuccess(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{
		Format: "text",
		Writer: buf,
	}

	require.NoError(t, formatter.Success(42, "42 records"))
	assert.Equal(t, "42 records\n", buf.String())
}

func TestOutputFormatter_TextError(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{
		Format:  "text",
		Writer:  buf,
		Verbose: false,
	}

	require.NoError(t, formatter.Error("E001", "import failed", "some details"))
	assert.Contains(t, buf.String(), "Error [E001]: import failed")
	assert.NotContains(t, buf.String(), "Details")

	buf.Reset()
	formatter.Verbose = true
	require.NoError(t, formatter.Error("E001", "import failed", "some details"))
	assert.Contains(t, buf.String(), "Details: some details")
}

func TestOutputFormatter_VerboseLog(t *testing.T) {
	out := &bytes.Buffer{}
	errOut := &bytes.Buffer{}
	formatter := &OutputFormatter{Format: "json", Writer: out, ErrWriter: errOut}

	formatter.VerboseLog("hidden %d", 1)
	assert.Empty(t, errOut.String())

	formatter.Verbose = true
	formatter.VerboseLog("shown %d", 2)
	assert.Equal(t, "shown 2\n", errOut.String())
	assert.Empty(t, out.String(), "diagnostics never corrupt JSON output")
}

func TestOutputFormatter_Fail(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{Format: "json", Writer: buf}

	verr := &record.ValidationError{Kind: "Account", Key: "a2", Field: "email", Index: 1, Message: "missing"}
	err := formatter.Fail(ExitFailure, "import failed", fmt.Errorf("wrapped: %w", verr))
	assert.Equal(t, ExitFailure, GetExitCode(err))

	var resp struct {
		Error struct {
			Code    string         `json:"code"`
			Details map[string]any `json:"details"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, ErrCodeValidation, resp.Error.Code)
	assert.Equal(t, "email", resp.Error.Details["field"])
	assert.Equal(t, float64(1), resp.Error.Details["index"])
}

func TestErrorCode(t *testing.T) {
	unknown := *manager.ErrUnknownKind
	unknown.Op, unknown.Kind = "import", "Ghost"

	assert.Equal(t, ErrCodeConfig, errorCode(&LoadError{Code: ErrCodeConfig, Message: "x"}))
	assert.Equal(t, ErrCodeValidation, errorCode(record.NewValidationError("f", "bad")))
	assert.Equal(t, ErrCodeUnknownKind, errorCode(&unknown))
	assert.Equal(t, ErrCodeGeneric, errorCode(errors.New("boom")))
}

func TestExitError(t *testing.T) {
	base := errors.New("disk full")
	err := WrapExitError(ExitCommandError, "failed to open store", base)
	assert.Equal(t, "failed to open store: disk full", err.Error())
	assert.True(t, errors.Is(err, base))
	assert.Equal(t, ExitCommandError, GetExitCode(fmt.Errorf("outer: %w", err)))

	assert.Equal(t, "nope", NewExitError(ExitFailure, "nope").Error())
	assert.Equal(t, ExitFailure, GetExitCode(errors.New("plain")))
}
