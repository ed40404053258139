package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	sharedcfg "github.com/couchcryptid/storm-data-shared/config"
)

// Config holds all service settings, populated from environment variables.
type Config struct {
	CatalogPath  string
	SnapshotPath string
	HTTPAddr     string
	LogLevel     string
	LogFormat    string

	ShutdownTimeout time.Duration
	RunInterval     time.Duration

	// Weather provider (OpenWeatherMap current weather).
	WeatherAPIKey   string
	WeatherBaseURL  string
	WeatherLang     string
	WeatherTimeout  time.Duration
	WeatherCacheTTL time.Duration

	// Official hazard feed. An empty URL disables official classification.
	HazardFeedURL  string
	HazardAPIKey   string
	HazardTimeout  time.Duration
	HazardRetryMax int

	// Request budget.
	RequestDelay     time.Duration
	RateLimitRetries int
	RateLimitBackoff time.Duration
	MinUsableEntries int

	// Optional snapshot publication. Empty brokers disable it.
	KafkaBrokers []string
	KafkaTopic   string
}

// HazardEnabled reports whether an official feed is configured.
func (c *Config) HazardEnabled() bool { return c.HazardFeedURL != "" }

// KafkaEnabled reports whether snapshots are also published to Kafka.
func (c *Config) KafkaEnabled() bool { return len(c.KafkaBrokers) > 0 }

// Load reads configuration from environment variables, applying defaults where unset.
func Load() (*Config, error) {
	shutdownTimeout, err := sharedcfg.ParseShutdownTimeout()
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		CatalogPath:  sharedcfg.EnvOrDefault("CATALOG_PATH", "playas.json"),
		SnapshotPath: sharedcfg.EnvOrDefault("SNAPSHOT_PATH", "data.json"),
		HTTPAddr:     sharedcfg.EnvOrDefault("HTTP_ADDR", ":8080"),
		LogLevel:     sharedcfg.EnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:    sharedcfg.EnvOrDefault("LOG_FORMAT", "json"),

		ShutdownTimeout: shutdownTimeout,

		WeatherAPIKey:  os.Getenv("WEATHER_API_KEY"),
		WeatherBaseURL: sharedcfg.EnvOrDefault("WEATHER_BASE_URL", "https://api.openweathermap.org/data/2.5/weather"),
		WeatherLang:    sharedcfg.EnvOrDefault("WEATHER_LANG", "es"),

		HazardFeedURL: os.Getenv("HAZARD_FEED_URL"),
		HazardAPIKey:  os.Getenv("HAZARD_API_KEY"),

		KafkaBrokers: parseList(os.Getenv("KAFKA_BROKERS")),
		KafkaTopic:   sharedcfg.EnvOrDefault("KAFKA_TOPIC", "beach-scores"),
	}

	durations := []struct {
		name      string
		def       string
		dst       *time.Duration
		allowZero bool
	}{
		{"RUN_INTERVAL", "1h", &cfg.RunInterval, false},
		{"WEATHER_TIMEOUT", "10s", &cfg.WeatherTimeout, false},
		{"WEATHER_CACHE_TTL", "10m", &cfg.WeatherCacheTTL, true},
		{"HAZARD_TIMEOUT", "15s", &cfg.HazardTimeout, false},
		{"REQUEST_DELAY", "3s", &cfg.RequestDelay, true},
		{"RATE_LIMIT_BACKOFF", "30s", &cfg.RateLimitBackoff, false},
	}
	for _, d := range durations {
		v, err := parseDuration(d.name, d.def, d.allowZero)
		if err != nil {
			return nil, err
		}
		*d.dst = v
	}

	ints := []struct {
		name string
		def  int
		min  int
		dst  *int
	}{
		{"HAZARD_RETRY_MAX", 3, 0, &cfg.HazardRetryMax},
		{"RATE_LIMIT_RETRIES", 3, 0, &cfg.RateLimitRetries},
		{"MIN_USABLE_ENTRIES", 1, 1, &cfg.MinUsableEntries},
	}
	for _, n := range ints {
		v, err := parseInt(n.name, n.def, n.min)
		if err != nil {
			return nil, err
		}
		*n.dst = v
	}

	if cfg.WeatherAPIKey == "" {
		return nil, errors.New("WEATHER_API_KEY is required")
	}
	if cfg.CatalogPath == "" {
		return nil, errors.New("CATALOG_PATH is required")
	}
	if cfg.SnapshotPath == "" {
		return nil, errors.New("SNAPSHOT_PATH is required")
	}
	if cfg.KafkaEnabled() && cfg.KafkaTopic == "" {
		return nil, errors.New("KAFKA_TOPIC is required when KAFKA_BROKERS is set")
	}

	return cfg, nil
}

func parseDuration(name, def string, allowZero bool) (time.Duration, error) {
	d, err := time.ParseDuration(sharedcfg.EnvOrDefault(name, def))
	if err != nil || d < 0 || (d == 0 && !allowZero) {
		return 0, fmt.Errorf("invalid %s", name)
	}
	return d, nil
}

func parseInt(name string, def, minimum int) (int, error) {
	s := os.Getenv(name)
	if s == "" {
		return def, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < minimum {
		return 0, fmt.Errorf("invalid %s: must be an integer >= %d", name, minimum)
	}
	return n, nil
}

func parseList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
