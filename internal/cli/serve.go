package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/recstore/internal/api"
	"github.com/roach88/recstore/internal/config"
)

// shutdownTimeout bounds graceful HTTP shutdown and manager drain.
const shutdownTimeout = 10 * time.Second

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	*RootOptions
	Addr string
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve imports and reads over HTTP",
		Long: `Open the store and serve the HTTP API until interrupted.

Routes:
  POST /v1/entities/:kind/import
  GET  /v1/entities/:kind/records?limit=&offset=
  GET  /v1/entities/:kind/records/:key
  GET  /v1/entities/:kind/count
  GET  /v1/entities/:kind/batches
  GET  /health

Example:
  recstore serve --db ./records.sqlite --schema ./schema --addr :8080`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Addr, "addr", "", "listen address (overrides http.addr)")

	return cmd
}

func runServe(opts *ServeOptions, cmd *cobra.Command) error {
	f := newFormatter(opts.RootOptions, cmd)

	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, stop := signal.NotifyContext(parentCtx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	e, err := openEnv(ctx, opts.RootOptions, cmd, func(cfg *config.Config) {
		if opts.Addr != "" {
			cfg.HTTP.Addr = opts.Addr
		}
	})
	if err != nil {
		return f.Fail(ExitCommandError, "failed to open store", err)
	}

	server := api.New(e.manager, e.catalog, e.cfg.HTTP.Addr, e.logger)
	errCh := make(chan error, 1)
	go func() { errCh <- server.Start() }()

	fmt.Fprintf(cmd.OutOrStdout(), "Listening on %s. Press Ctrl-C to stop.\n", e.cfg.HTTP.Addr)

	var serveErr error
	select {
	case serveErr = <-errCh:
	case <-ctx.Done():
		e.logger.Info("shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Stop(shutdownCtx); err != nil {
		e.logger.Error("http shutdown", "error", err)
	}
	if err := e.manager.Close(shutdownCtx); err != nil {
		e.logger.Error("manager close", "error", err)
	}

	if serveErr != nil {
		return WrapExitError(ExitCommandError, "http server failed", serveErr)
	}
	e.logger.Info("stopped gracefully")
	return nil
}
