package cli

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/recstore/internal/backend"
	"github.com/roach88/recstore/internal/catalog"
)

// NewInitCommand creates the init command.
func NewInitCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create the store and register schema kinds",
		Long: `Open (creating if needed) the configured store, apply migrations and
register every kind of the catalog: the built-in Item plus the CUE
entities of the schema directory.

Example:
  recstore init --db ./records.sqlite --schema ./schema`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := newFormatter(rootOpts, cmd)
			e, err := openEnv(cmd.Context(), rootOpts, cmd, nil)
			if err != nil {
				return f.Fail(ExitCommandError, "init failed", err)
			}
			defer e.Close()

			data := map[string]any{
				"driver": e.cfg.Store.Driver,
				"path":   e.cfg.Store.Path,
				"kinds":  e.catalog.Names(),
			}
			text := fmt.Sprintf("Initialized %s store at %s\nKinds: %s",
				e.cfg.Store.Driver, e.cfg.Store.Path, strings.Join(e.catalog.Names(), ", "))
			return f.Success(data, text)
		},
	}
}

// NewGetCommand creates the get command.
func NewGetCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "get <kind> <key>",
		Short: "Show one record by key",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			f := newFormatter(rootOpts, cmd)
			e, err := openEnv(cmd.Context(), rootOpts, cmd, nil)
			if err != nil {
				return f.Fail(ExitCommandError, "failed to open store", err)
			}
			defer e.Close()

			kind, key := args[0], args[1]
			row, found, err := e.manager.Get(cmd.Context(), kind, key)
			if err != nil {
				return f.Fail(ExitFailure, "get failed", err)
			}
			if !found {
				msg := fmt.Sprintf("%s[%s] not found", kind, key)
				_ = f.Error(ErrCodeNotFound, msg, nil)
				return NewExitError(ExitFailure, msg)
			}

			view := catalog.RowView(row)
			text, err := json.MarshalIndent(view, "", "  ")
			if err != nil {
				return err
			}
			return f.Success(view, string(text))
		},
	}
}

// ListOptions holds flags for the list command.
type ListOptions struct {
	*RootOptions
	Limit  int
	Offset int
}

// NewListCommand creates the list command.
func NewListCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ListOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "list <kind>",
		Short: "List records ordered by key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f := newFormatter(rootOpts, cmd)
			if opts.Limit < 0 || opts.Offset < 0 {
				return f.Fail(ExitCommandError, "invalid paging",
					fmt.Errorf("--limit and --offset must not be negative"))
			}

			e, err := openEnv(cmd.Context(), rootOpts, cmd, nil)
			if err != nil {
				return f.Fail(ExitCommandError, "failed to open store", err)
			}
			defer e.Close()

			rows, err := e.manager.List(cmd.Context(), args[0], backend.ListOptions{Limit: opts.Limit, Offset: opts.Offset})
			if err != nil {
				return f.Fail(ExitFailure, "list failed", err)
			}

			views := make([]catalog.View, len(rows))
			lines := make([]string, len(rows))
			for i, row := range rows {
				views[i] = catalog.RowView(row)
				lines[i] = fmt.Sprintf("%s\tv%d\t%s", row.Key, row.Version, views[i].Fields)
			}
			if len(lines) == 0 {
				return f.Success(views, "No records.")
			}
			return f.Success(views, strings.Join(lines, "\n"))
		},
	}

	cmd.Flags().IntVar(&opts.Limit, "limit", 0, "maximum records to show (0 = all)")
	cmd.Flags().IntVar(&opts.Offset, "offset", 0, "records to skip")

	return cmd
}

// NewCountCommand creates the count command.
func NewCountCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "count <kind>",
		Short: "Count records of a kind",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f := newFormatter(rootOpts, cmd)
			e, err := openEnv(cmd.Context(), rootOpts, cmd, nil)
			if err != nil {
				return f.Fail(ExitCommandError, "failed to open store", err)
			}
			defer e.Close()

			n, err := e.manager.Count(cmd.Context(), args[0])
			if err != nil {
				return f.Fail(ExitFailure, "count failed", err)
			}
			return f.Success(map[string]any{"kind": args[0], "count": n}, strconv.Itoa(n))
		},
	}
}

// NewBatchesCommand creates the batches command.
func NewBatchesCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "batches <kind>",
		Short: "Show the import log of a kind, oldest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f := newFormatter(rootOpts, cmd)
			e, err := openEnv(cmd.Context(), rootOpts, cmd, nil)
			if err != nil {
				return f.Fail(ExitCommandError, "failed to open store", err)
			}
			defer e.Close()

			batches, err := e.manager.Batches(cmd.Context(), args[0])
			if err != nil {
				return f.Fail(ExitFailure, "batches failed", err)
			}
			if batches == nil {
				batches = []backend.Batch{}
			}

			lines := make([]string, len(batches))
			for i, b := range batches {
				lines[i] = fmt.Sprintf("%s\t%s\treceived=%d created=%d updated=%d unchanged=%d skipped=%d",
					b.ID, b.CommittedAt.UTC().Format(time.RFC3339),
					b.Received, b.Created, b.Updated, b.Unchanged, b.Skipped)
			}
			if len(lines) == 0 {
				return f.Success(batches, "No batches.")
			}
			return f.Success(batches, strings.Join(lines, "\n"))
		},
	}
}
