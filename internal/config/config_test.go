package config

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, DriverSQLite3, cfg.Store.Driver)
	assert.Equal(t, 5*time.Second, cfg.Store.BusyTimeout())
	assert.False(t, cfg.Import.SkipUnchanged)
}

func TestParse_OverridesDefaults(t *testing.T) {
	src := `
store:
  driver: sqlite
  path: /tmp/x.db
  journal_mode: DELETE
schema:
  dir: ./schema
import:
  skip_unchanged: true
log:
  level: debug
  format: json
`
	cfg, err := Parse(strings.NewReader(src))
	require.NoError(t, err)

	assert.Equal(t, DriverSQLite, cfg.Store.Driver)
	assert.Equal(t, "/tmp/x.db", cfg.Store.Path)
	assert.Equal(t, "DELETE", cfg.Store.JournalMode)
	assert.Equal(t, "NORMAL", cfg.Store.Synchronous, "unset keys keep defaults")
	assert.Equal(t, 5000, cfg.Store.BusyTimeoutMS)
	assert.Equal(t, "./schema", cfg.Schema.Dir)
	assert.True(t, cfg.Import.SkipUnchanged)
	assert.Equal(t, slog.LevelDebug, cfg.Log.SlogLevel())
	assert.Equal(t, "127.0.0.1:8080", cfg.HTTP.Addr)
}

func TestParse_EmptyDocument(t *testing.T) {
	cfg, err := Parse(strings.NewReader(""))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestParse_RejectsUnknownKeys(t *testing.T) {
	_, err := Parse(strings.NewReader("store:\n  drvier: sqlite\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "drvier")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"unknown driver", func(c *Config) { c.Store.Driver = "postgres" }, "store.driver"},
		{"missing path", func(c *Config) { c.Store.Path = "" }, "store.path"},
		{"memory needs no path", func(c *Config) { c.Store.Driver = DriverMemory; c.Store.Path = "" }, ""},
		{"negative timeout", func(c *Config) { c.Store.BusyTimeoutMS = -1 }, "busy_timeout_ms"},
		{"bad level", func(c *Config) { c.Log.Level = "loud" }, "log.level"},
		{"bad format", func(c *Config) { c.Log.Format = "xml" }, "log.format"},
		{"level is case-insensitive", func(c *Config) { c.Log.Level = "WARN" }, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "recstore.yaml")
	require.NoError(t, os.WriteFile(path, []byte("store:\n  driver: memory\n"), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, DriverMemory, cfg.Store.Driver)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer

	logger := LogConfig{Level: "info", Format: "json"}.NewLogger(&buf, false)
	logger.Debug("hidden")
	logger.Info("shown", "k", "v")
	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, `"msg":"shown"`)

	buf.Reset()
	logger = LogConfig{Level: "error", Format: "text"}.NewLogger(&buf, true)
	logger.Debug("verbose wins")
	assert.Contains(t, buf.String(), "msg=\"verbose wins\"")
}
