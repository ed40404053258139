package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	httpadapter "github.com/couchcryptid/beach-score-etl/internal/adapter/http"
	"github.com/couchcryptid/beach-score-etl/internal/observability"
)

// NewServeCmd creates the serve command.
func NewServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run on a schedule and expose health, metrics, and the snapshot",
		Long: `Run immediately and then every RUN_INTERVAL until interrupted.

HTTP_ADDR serves /healthz, /readyz (ready after the first persisted snapshot),
/metrics, and /snapshot. SIGINT or SIGTERM stops the scheduler and drains the
HTTP server within SHUTDOWN_TIMEOUT.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			logger := observability.NewLogger(cfg)
			metrics := observability.NewMetrics()
			a := newApp(cfg, logger, metrics)
			defer a.Close()

			p := a.pipeline()
			srv := httpadapter.NewServer(cfg.HTTPAddr, p, cfg.SnapshotPath, logger)

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			// Start HTTP server.
			go func() {
				if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					logger.Error("http server error", "error", err)
					stop()
				}
			}()

			// Start scheduled runs.
			done := make(chan struct{})
			go func() {
				defer close(done)
				if err := p.RunEvery(ctx, cfg.RunInterval); err != nil {
					logger.Error("scheduler error", "error", err)
				}
			}()

			<-ctx.Done()
			logger.Info("shutting down")

			shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
			defer cancel()

			if err := srv.Shutdown(shutdownCtx); err != nil {
				logger.Error("http server shutdown error", "error", err)
			}
			select {
			case <-done:
			case <-shutdownCtx.Done():
				logger.Warn("run still in progress at shutdown deadline")
			}

			logger.Info("shutdown complete")
			return nil
		},
	}
}
