package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/recstore/internal/config"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose    bool
	Format     string // "json" | "text"
	ConfigPath string
	Database   string // overrides store.path
	Driver     string // overrides store.driver
	SchemaDir  string // overrides schema.dir
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the recstore CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "recstore",
		Short: "recstore - keyed record import and storage",
		Long: `Import batches of JSON payloads as versioned records keyed by a unique
field, stored in SQLite. Entity kinds are declared in CUE.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return NewExitError(ExitCommandError,
					fmt.Sprintf("invalid format %q: must be one of %v", opts.Format, ValidFormats))
			}
			return nil
		},
	}

	// Global flags
	flags := cmd.PersistentFlags()
	flags.BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output (debug logging)")
	flags.StringVar(&opts.Format, "format", "text", "output format (json|text)")
	flags.StringVarP(&opts.ConfigPath, "config", "c", "", "path to YAML config file")
	flags.StringVar(&opts.Database, "db", "", "path to the SQLite database (overrides store.path)")
	flags.StringVar(&opts.Driver, "driver", "", fmt.Sprintf("store driver %s|%s|%s (overrides store.driver)",
		config.DriverSQLite3, config.DriverSQLite, config.DriverMemory))
	flags.StringVar(&opts.SchemaDir, "schema", "", "directory of CUE entity definitions (overrides schema.dir)")

	cmd.AddCommand(NewInitCommand(opts))
	cmd.AddCommand(NewImportCommand(opts))
	cmd.AddCommand(NewGetCommand(opts))
	cmd.AddCommand(NewListCommand(opts))
	cmd.AddCommand(NewCountCommand(opts))
	cmd.AddCommand(NewBatchesCommand(opts))
	cmd.AddCommand(NewTestCommand(opts))
	cmd.AddCommand(NewServeCommand(opts))

	return cmd
}

// isValidFormat checks if the format is one of the allowed values.
func isValidFormat(format string) bool {
	for _, f := range ValidFormats {
		if f == format {
			return true
		}
	}
	return false
}

func newFormatter(opts *RootOptions, cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}
}
