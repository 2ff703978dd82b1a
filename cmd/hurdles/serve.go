package main

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

	"github.com/hanpama/hurdles/internal/config"
	"github.com/hanpama/hurdles/internal/server"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve queries over HTTP",
		Long: `Starts the HTTP front end. POST / takes a JSON query definition in the
body, GET /?q=<json> takes it in the query string. GET /healthz answers OK.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			c, err := build(ctx, cfg, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer func() {
				cctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
				defer cancel()
				if err := c.Close(cctx); err != nil {
					c.log.Error("shutdown failed", "error", err)
				}
			}()

			srv := &http.Server{
				Addr:              cfg.Server.Addr,
				Handler:           newHandler(c, cfg),
				ReadHeaderTimeout: 10 * time.Second,
			}
			return listenAndServe(ctx, srv, c.log, cfg.Server.ShutdownTimeout)
		},
	}
}

func newHandler(c *components, cfg *config.Config) *server.Handler {
	opts := []server.Option{
		server.WithTimeout(cfg.Server.Timeout),
		server.WithMaxBodyBytes(cfg.Server.MaxBodyBytes),
		server.WithEventBus(c.bus),
		server.WithLogger(c.log),
	}
	if cfg.Server.Pretty {
		opts = append(opts, server.WithPretty())
	}
	if len(cfg.Server.CORSOrigins) > 0 {
		opts = append(opts, server.WithCORS(cfg.Server.CORSOrigins...))
	}
	if c.metrics != nil {
		opts = append(opts, server.WithMount(cfg.Metrics.Path, c.metrics.Handler()))
	}
	return server.New(c.engine, opts...)
}

// listenAndServe runs srv until it fails or ctx is done, then shuts it down
// within grace.
func listenAndServe(ctx context.Context, srv *http.Server, log *slog.Logger, grace time.Duration) error {
	serverErrors := make(chan error, 1)
	go func() {
		log.Info("listening", "addr", srv.Addr)
		serverErrors <- srv.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("listen %s: %w", srv.Addr, err)
	case <-ctx.Done():
	}

	log.Info("shutting down", "grace", grace)
	sctx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		_ = srv.Close()
		return fmt.Errorf("graceful shutdown did not complete in %v: %w", grace, err)
	}
	log.Info("server stopped")
	return nil
}
