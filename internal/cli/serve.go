package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/quietgrid/sheetsync/internal/backend"
	"github.com/quietgrid/sheetsync/internal/config"
	"github.com/quietgrid/sheetsync/internal/entity"
	"github.com/quietgrid/sheetsync/internal/store"
	"github.com/quietgrid/sheetsync/internal/transport"
)

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	*RootOptions
	Config string
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the authoritative sync backend",
		Long: `Start the websocket backend that owns the committed step log.

Clients connect to ws://<listen>/ws and drive the edit protocol; telemetry
and saved analyses land in the configured SQLite database.

Examples:
  sheetsync serve
  sheetsync serve --config sheetsync.yaml`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Config, "config", "", "path to YAML config (defaults apply when omitted)")

	return cmd
}

func runServe(opts *ServeOptions, cmd *cobra.Command) error {
	cfg, err := config.Load(opts.Config)
	if err != nil {
		return WrapExitError(ExitCommandError, "load config", err)
	}

	level, _ := cfg.SlogLevel()
	if opts.Verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	st, err := store.Open(cfg.DBPath)
	if err != nil {
		return WrapExitError(ExitCommandError, "open database", err)
	}
	defer func() {
		if closeErr := st.Close(); closeErr != nil {
			logger.Error("closing database", "error", closeErr)
		}
	}()

	b, err := backend.New(entity.UUIDv7Allocator{},
		backend.WithTelemetry(st),
		backend.WithLogger(logger),
	)
	if err != nil {
		return WrapExitError(ExitCommandError, "create backend", err)
	}
	if err := registerSources(b, cfg.Sources); err != nil {
		return WrapExitError(ExitCommandError, "register sources", err)
	}

	mux := http.NewServeMux()
	mux.Handle("/ws", transport.NewWSServer(b))
	srv := &http.Server{Addr: cfg.Listen, Handler: mux}

	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case sig := <-sigChan:
			logger.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("backend listening", "addr", cfg.Listen, "db", cfg.DBPath, "sources", len(cfg.Sources))
		errCh <- srv.ListenAndServe()
	}()
	fmt.Fprintf(cmd.OutOrStdout(), "sheetsync backend listening on ws://%s/ws\n", cfg.Listen)

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return WrapExitError(ExitFailure, "server error", err)
		}
	case <-ctx.Done():
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return WrapExitError(ExitFailure, "shutdown", err)
		}
	}

	logger.Info("backend stopped")
	return nil
}
