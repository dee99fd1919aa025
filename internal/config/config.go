// Package config loads recstore configuration from YAML.
//
// Unknown keys are rejected. Keys absent from the file keep their
// Default values.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Store drivers.
const (
	DriverSQLite3 = "sqlite3" // mattn/go-sqlite3 (cgo)
	DriverSQLite  = "sqlite"  // modernc.org/sqlite (pure Go)
	DriverMemory  = "memory"
)

// Config is the root configuration document.
type Config struct {
	Store  StoreConfig  `yaml:"store"`
	Schema SchemaConfig `yaml:"schema"`
	Import ImportConfig `yaml:"import"`
	Log    LogConfig    `yaml:"log"`
	HTTP   HTTPConfig   `yaml:"http"`
}

// StoreConfig selects and tunes the backend.
type StoreConfig struct {
	Driver        string `yaml:"driver"`
	Path          string `yaml:"path"`
	BusyTimeoutMS int    `yaml:"busy_timeout_ms"`
	JournalMode   string `yaml:"journal_mode"`
	Synchronous   string `yaml:"synchronous"`
}

// BusyTimeout returns BusyTimeoutMS as a duration.
func (s StoreConfig) BusyTimeout() time.Duration {
	return time.Duration(s.BusyTimeoutMS) * time.Millisecond
}

// SchemaConfig points at CUE entity definitions. An empty Dir means only the
// built-in kinds are registered.
type SchemaConfig struct {
	Dir string `yaml:"dir"`
}

// ImportConfig holds importer defaults.
type ImportConfig struct {
	SkipUnchanged bool `yaml:"skip_unchanged"`
}

// LogConfig controls the slog handler built by the CLI.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug|info|warn|error
	Format string `yaml:"format"` // text|json
}

// HTTPConfig configures the serve command.
type HTTPConfig struct {
	Addr string `yaml:"addr"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Store: StoreConfig{
			Driver:        DriverSQLite3,
			Path:          "records.sqlite",
			BusyTimeoutMS: 5000,
			JournalMode:   "WAL",
			Synchronous:   "NORMAL",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		HTTP: HTTPConfig{
			Addr: "127.0.0.1:8080",
		},
	}
}

// Load reads and validates the YAML file at path.
func Load(path string) (Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return Config{}, fmt.Errorf("load config: %w", err)
	}
	defer f.Close()

	cfg, err := Parse(f)
	if err != nil {
		return Config{}, fmt.Errorf("load config %s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes YAML from r on top of Default and validates the result.
// An empty document yields Default.
func Parse(r io.Reader) (Config, error) {
	cfg := Default()

	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("decode: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

var (
	validDrivers    = []string{DriverSQLite3, DriverSQLite, DriverMemory}
	validLogLevels  = []string{"debug", "info", "warn", "error"}
	validLogFormats = []string{"text", "json"}
)

// Validate reports the first invalid setting.
func (c Config) Validate() error {
	if !contains(validDrivers, c.Store.Driver) {
		return fmt.Errorf("store.driver: %q must be one of %v", c.Store.Driver, validDrivers)
	}
	if c.Store.Driver != DriverMemory && c.Store.Path == "" {
		return fmt.Errorf("store.path: required for driver %q", c.Store.Driver)
	}
	if c.Store.BusyTimeoutMS < 0 {
		return fmt.Errorf("store.busy_timeout_ms: must not be negative, got %d", c.Store.BusyTimeoutMS)
	}
	if !contains(validLogLevels, strings.ToLower(c.Log.Level)) {
		return fmt.Errorf("log.level: %q must be one of %v", c.Log.Level, validLogLevels)
	}
	if !contains(validLogFormats, strings.ToLower(c.Log.Format)) {
		return fmt.Errorf("log.format: %q must be one of %v", c.Log.Format, validLogFormats)
	}
	return nil
}

// SlogLevel maps Level onto slog. Unknown values map to info.
func (l LogConfig) SlogLevel() slog.Level {
	switch strings.ToLower(l.Level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

// NewLogger builds a text or JSON slog.Logger writing to w. verbose forces
// debug level.
func (l LogConfig) NewLogger(w io.Writer, verbose bool) *slog.Logger {
	level := l.SlogLevel()
	if verbose {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(l.Format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
