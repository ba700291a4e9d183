package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/hupe1980/sessionmesh"
)

func newServeCommand(opts *serveOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the configured backend over HTTP",
		Long: `Serve opens the configured session backend and exposes it over HTTP
until SIGINT or SIGTERM is received.

Example:
  sessiond serve --backend sqlite --sqlite-path ./sessions.db
  sessiond serve --config /etc/sessiond.yaml --log-level debug`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.resolve()
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			ln, err := net.Listen("tcp", cfg.Addr)
			if err != nil {
				return fmt.Errorf("listen %s: %w", cfg.Addr, err)
			}
			return serve(ctx, cfg, ln)
		},
	}
}

func newConfigCommand(opts *serveOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration as YAML",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.resolve()
			if err != nil {
				return err
			}
			enc := yaml.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent(2)
			if err := enc.Encode(cfg); err != nil {
				return err
			}
			return enc.Close()
		},
	}
}

// serve runs the HTTP server on ln until ctx is canceled, then shuts down
// gracefully and closes the backend.
func serve(ctx context.Context, cfg sessionmesh.Config, ln net.Listener) error {
	logger, err := sessionmesh.NewLogger(cfg.Log)
	if err != nil {
		return err
	}
	storeLogger := logger.WithComponent("store").WithContext("backend", cfg.Backend)

	store, closer, err := sessionmesh.Open(cfg, storeLogger)
	if err != nil {
		return err
	}
	defer func() {
		if err := closer.Close(); err != nil {
			logger.Error("failed to close backend", "error", err)
		}
	}()

	srv := &http.Server{
		Handler:           sessionmesh.NewHandler(cfg, store, logger.WithComponent("http")),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()

	logger.Info("sessiond listening", "addr", ln.Addr().String(), "backend", cfg.Backend)

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	logger.Info("sessiond shutting down")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
