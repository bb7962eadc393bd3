package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"folio/api/internal/app"
	"folio/api/internal/telemetry"

	"github.com/spf13/cobra"
)

// Version is stamped at build time.
var Version = "dev"

func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, rootOpts, addr, cmd)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides API_ADDR)")
	return cmd
}

func runServe(ctx context.Context, opts *RootOptions, addr string, cmd *cobra.Command) error {
	rt, err := openRuntime(ctx, opts, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer rt.Close()
	if addr != "" {
		rt.cfg.Addr = addr
	}

	shutdownTracing, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName:    "folio-api",
		ServiceVersion: Version,
		TraceExporter:  rt.cfg.TraceExporter,
		Writer:         os.Stderr,
	})
	if err != nil {
		return fmt.Errorf("tracing setup failed: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			rt.logger.Warn("trace flush failed", "error", err)
		}
	}()

	service, err := rt.service(true)
	if err != nil {
		return err
	}
	httpServer := app.NewHTTPServer(service, rt.cfg.CORSOrigin)
	server := &http.Server{
		Addr:              rt.cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		rt.logger.Info("folio API listening", "addr", rt.cfg.Addr, "version", Version)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		rt.logger.Error("shutdown error", "error", err)
		return err
	}
	rt.logger.Info("folio API stopped")
	return nil
}
