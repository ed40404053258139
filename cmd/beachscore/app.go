package main

import (
	"log/slog"

	"github.com/couchcryptid/beach-score-etl/internal/adapter/catalog"
	"github.com/couchcryptid/beach-score-etl/internal/adapter/hazardfeed"
	kafkaadapter "github.com/couchcryptid/beach-score-etl/internal/adapter/kafka"
	"github.com/couchcryptid/beach-score-etl/internal/adapter/openweather"
	"github.com/couchcryptid/beach-score-etl/internal/adapter/snapshot"
	"github.com/couchcryptid/beach-score-etl/internal/config"
	"github.com/couchcryptid/beach-score-etl/internal/domain"
	"github.com/couchcryptid/beach-score-etl/internal/observability"
	"github.com/couchcryptid/beach-score-etl/internal/pipeline"
)

// app holds the wired adapters shared by the subcommands.
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	metrics  *observability.Metrics
	catalog  catalog.File
	weather  domain.WeatherSource
	hazards  domain.HazardFeed
	snapshot *snapshot.Writer
	kafka    *kafkaadapter.Writer
}

func newApp(cfg *config.Config, logger *slog.Logger, metrics *observability.Metrics) *app {
	a := &app{
		cfg:      cfg,
		logger:   logger,
		metrics:  metrics,
		catalog:  catalog.File{Path: cfg.CatalogPath},
		snapshot: snapshot.NewWriter(cfg.SnapshotPath),
	}

	// Weather cache is feature-flagged via WEATHER_CACHE_TTL (0 disables).
	client := openweather.NewClient(cfg.WeatherAPIKey, cfg.WeatherBaseURL, cfg.WeatherLang, cfg.WeatherTimeout, metrics, logger)
	if cfg.WeatherCacheTTL > 0 {
		a.weather = openweather.NewCachedSource(client, cfg.WeatherCacheTTL, metrics)
		logger.Info("weather cache enabled", "ttl", cfg.WeatherCacheTTL)
	} else {
		a.weather = client
		logger.Info("weather cache disabled")
	}

	if cfg.HazardEnabled() {
		a.hazards = hazardfeed.NewClient(cfg.HazardFeedURL, cfg.HazardAPIKey, cfg.HazardTimeout, cfg.HazardRetryMax, logger)
		logger.Info("official hazard feed enabled", "timeout", cfg.HazardTimeout, "retry_max", cfg.HazardRetryMax)
	} else {
		a.hazards = hazardfeed.Disabled{}
		logger.Info("official hazard feed disabled, flags will be estimated")
	}

	if cfg.KafkaEnabled() {
		a.kafka = kafkaadapter.NewWriter(cfg, logger)
		logger.Info("kafka publication enabled", "topic", cfg.KafkaTopic)
	}
	return a
}

func (a *app) pipeline() *pipeline.Pipeline {
	opts := pipeline.OptionsFromConfig(a.cfg)
	if a.kafka != nil {
		opts.Publishers = append(opts.Publishers, a.kafka)
	}
	return pipeline.New(a.catalog, a.weather, a.hazards, a.snapshot, a.logger, a.metrics, opts)
}

func (a *app) Close() {
	if a.kafka != nil {
		if err := a.kafka.Close(); err != nil {
			a.logger.Error("kafka writer close error", "error", err)
		}
	}
}
