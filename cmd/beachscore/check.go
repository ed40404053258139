package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/couchcryptid/beach-score-etl/internal/domain"
	"github.com/couchcryptid/beach-score-etl/internal/observability"
)

// errCheckFailed is returned when at least one diagnostic failed.
var errCheckFailed = errors.New("connectivity check failed")

// NewCheckCmd creates the check command.
func NewCheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Check the catalog, hazard feed, and weather provider",
		Long: `Load the catalog, fetch the official hazard feed once, and request weather
for the first beach. Results are printed; no snapshot is written.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			logger := observability.NewLogger(cfg)
			a := newApp(cfg, logger, observability.NewLocalMetrics())
			defer a.Close()

			return runCheck(cmd.Context(), cmd.OutOrStdout(), a.catalog, a.hazards, a.weather, cfg.HazardEnabled())
		},
	}
}

type beachLister interface {
	Beaches(ctx context.Context) ([]domain.BeachRecord, error)
}

func runCheck(ctx context.Context, out io.Writer, cat beachLister, hazards domain.HazardFeed, weather domain.WeatherSource, hazardEnabled bool) error {
	failed := false

	beaches, err := cat.Beaches(ctx)
	if err != nil {
		fmt.Fprintf(out, "catalog:  FAIL %v\n", err)
		return errCheckFailed
	}
	if len(beaches) == 0 {
		fmt.Fprintln(out, "catalog:  FAIL no beaches")
		return errCheckFailed
	}
	fmt.Fprintf(out, "catalog:  ok (%d beaches)\n", len(beaches))

	switch records, err := hazards.FetchHazards(ctx); {
	case !hazardEnabled:
		fmt.Fprintln(out, "hazards:  disabled (HAZARD_FEED_URL not set)")
	case err != nil:
		fmt.Fprintf(out, "hazards:  FAIL %v\n", err)
		failed = true
	default:
		matched := 0
		for _, b := range beaches {
			if _, ok := domain.MatchHazard(b.Name, records); ok {
				matched++
			}
		}
		fmt.Fprintf(out, "hazards:  ok (%d records, %d of %d beaches matched)\n", len(records), matched, len(beaches))
	}

	first := beaches[0]
	res := weather.CurrentWeather(ctx, first.Lat, first.Lon)
	if res.OK() {
		fmt.Fprintf(out, "weather:  ok (%s: %.1fº, %d km/h, %s)\n",
			first.Name, res.Snapshot.Temperature, res.Snapshot.WindKmh, res.Snapshot.Sky)
	} else {
		fmt.Fprintf(out, "weather:  FAIL %s (%s)\n", res.Status, res.Reason)
		failed = true
	}

	if failed {
		return errCheckFailed
	}
	return nil
}
