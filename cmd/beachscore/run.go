package main

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/couchcryptid/beach-score-etl/internal/observability"
)

// NewRunCmd creates the run command.
func NewRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Score every beach once and write the snapshot",
		Long: `Run a single pass over the catalog and write the ranked snapshot.

The command exits non-zero when the run is aborted (weather credentials
rejected on the first beach, or too few beaches with weather data). The
previous snapshot is left untouched in that case.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			logger := observability.NewLogger(cfg)
			a := newApp(cfg, logger, observability.NewLocalMetrics())
			defer a.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			_, err = a.pipeline().Run(ctx)
			return err
		},
	}
}
