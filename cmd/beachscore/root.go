package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/couchcryptid/beach-score-etl/internal/config"
)

// NewRootCmd creates the root command for beachscore.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "beachscore",
		Short: "Score beaches from weather and official flag data",
		Long: `beachscore combines current weather for every beach in the catalog with the
official flag and hazard feed, computes a 0-10 score per beach, and writes a
ranked JSON snapshot for the map front end.

Settings come from environment variables (WEATHER_API_KEY is required).
--catalog and --output override CATALOG_PATH and SNAPSHOT_PATH.`,
		Version:       getVersion(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().String("catalog", "", "catalog file (.json, .yaml); overrides CATALOG_PATH")
	cmd.PersistentFlags().String("output", "", "snapshot file; overrides SNAPSHOT_PATH")

	cmd.AddCommand(NewRunCmd())
	cmd.AddCommand(NewServeCmd())
	cmd.AddCommand(NewCheckCmd())
	cmd.AddCommand(NewVersionCmd())

	return cmd
}

// Execute runs the root command.
func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadConfig reads the environment and applies path flag overrides.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if v, _ := cmd.Flags().GetString("catalog"); v != "" {
		cfg.CatalogPath = v
	}
	if v, _ := cmd.Flags().GetString("output"); v != "" {
		cfg.SnapshotPath = v
	}
	return cfg, nil
}
