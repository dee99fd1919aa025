package cli

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/roach88/recstore/internal/catalog"
	"github.com/roach88/recstore/internal/config"
	"github.com/roach88/recstore/internal/manager"
)

// Error codes for CLI output.
const (
	ErrCodeGeneric     = "E001" // Generic/unknown error
	ErrCodeConfig      = "E002" // Config load or validation failed
	ErrCodeSchema      = "E003" // CUE schema load failed
	ErrCodeSetup       = "E004" // Store open or registration failed
	ErrCodeInput       = "E005" // Input file unreadable or malformed
	ErrCodeValidation  = "E006" // Import batch failed validation
	ErrCodeUnknownKind = "E007" // Kind not in the catalog
	ErrCodeNotFound    = "E008" // Record not found
	ErrCodeTestFailed  = "E009" // One or more scenarios failed
)

// LoadError is a failure while assembling the environment a command runs in.
type LoadError struct {
	Code    string
	Message string
	Err     error
}

func (e *LoadError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *LoadError) Unwrap() error {
	return e.Err
}

// loadConfig reads --config (or defaults) and applies flag overrides.
func loadConfig(opts *RootOptions) (config.Config, error) {
	cfg := config.Default()
	if opts.ConfigPath != "" {
		loaded, err := config.Load(opts.ConfigPath)
		if err != nil {
			return config.Config{}, &LoadError{Code: ErrCodeConfig, Message: "failed to load config", Err: err}
		}
		cfg = loaded
	}
	if opts.Database != "" {
		cfg.Store.Path = opts.Database
	}
	if opts.Driver != "" {
		cfg.Store.Driver = opts.Driver
	}
	if opts.SchemaDir != "" {
		cfg.Schema.Dir = opts.SchemaDir
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, &LoadError{Code: ErrCodeConfig, Message: "invalid config", Err: err}
	}
	return cfg, nil
}

// env is everything a store-backed command needs.
type env struct {
	cfg     config.Config
	logger  *slog.Logger
	catalog *catalog.Catalog
	manager *manager.Manager
}

// Close closes the manager.
func (e *env) Close() error {
	return e.manager.Close(context.Background())
}

// openEnv loads config and schema, installs the logger and sets up a
// manager. override, if set, adjusts the config after flags are applied.
// The caller must Close the env.
func openEnv(ctx context.Context, opts *RootOptions, cmd *cobra.Command, override func(*config.Config)) (*env, error) {
	cfg, err := loadConfig(opts)
	if err != nil {
		return nil, err
	}
	if override != nil {
		override(&cfg)
	}

	logger := cfg.Log.NewLogger(cmd.ErrOrStderr(), opts.Verbose)
	slog.SetDefault(logger)

	cat, err := catalog.Load(cfg.Schema.Dir)
	if err != nil {
		return nil, &LoadError{Code: ErrCodeSchema, Message: "failed to load schema", Err: err}
	}
	logger.Debug("schema loaded", "dir", cfg.Schema.Dir, "kinds", cat.Names())

	m := manager.New(cfg,
		manager.WithLogger(logger),
		manager.WithKinds(cat.Descriptors()...),
	)
	err = m.Setup(ctx, func(p manager.Progress) {
		logger.Debug("setup", "step", p.Step, "progress", p.Fraction())
	})
	if err != nil {
		return nil, &LoadError{Code: ErrCodeSetup, Message: "failed to open store", Err: err}
	}

	return &env{cfg: cfg, logger: logger, catalog: cat, manager: m}, nil
}
