package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "beach_score"

// Metrics holds the Prometheus counters, histograms, and gauges for the scoring pipeline.
type Metrics struct {
	Runs             *prometheus.CounterVec // labels: outcome={persisted,aborted,failed}
	RunDuration      prometheus.Histogram
	LastSuccess      prometheus.Gauge
	PipelineRunning  prometheus.Gauge
	BeachesScored    prometheus.Counter
	Scores           prometheus.Histogram
	RateLimitRetries prometheus.Counter
	PublishErrors    prometheus.Counter

	// Weather source metrics.
	WeatherRequests    *prometheus.CounterVec // labels: outcome={ok,unavailable,unauthorized,rate_limited}
	WeatherAPIDuration prometheus.Histogram
	WeatherCache       *prometheus.CounterVec // labels: result={hit,miss}

	// Hazard feed metrics.
	HazardRecords prometheus.Gauge
	HazardMatches *prometheus.CounterVec // labels: result={matched,unmatched}
}

// NewMetrics creates and registers all pipeline metrics with the default Prometheus registry.
func NewMetrics() *Metrics {
	m := newMetrics()
	prometheus.MustRegister(
		m.Runs,
		m.RunDuration,
		m.LastSuccess,
		m.PipelineRunning,
		m.BeachesScored,
		m.Scores,
		m.RateLimitRetries,
		m.PublishErrors,
		m.WeatherRequests,
		m.WeatherAPIDuration,
		m.WeatherCache,
		m.HazardRecords,
		m.HazardMatches,
	)
	return m
}

// NewLocalMetrics creates Metrics that are not registered anywhere. One-shot
// commands use them since nothing scrapes the process.
func NewLocalMetrics() *Metrics {
	return newMetrics()
}

// NewMetricsForTesting creates unregistered Metrics to avoid
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return newMetrics()
}

func newMetrics() *Metrics {
	return &Metrics{
		Runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Pipeline runs by outcome.",
		}, []string{"outcome"}),
		RunDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Duration of a complete fetch-score-persist run.",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200},
		}),
		LastSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_success_timestamp_seconds",
			Help:      "Unix time of the last persisted snapshot.",
		}),
		PipelineRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pipeline_running",
			Help:      "1 while a run is in progress, 0 otherwise.",
		}),
		BeachesScored: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "beaches_scored_total",
			Help:      "Total beaches scored across runs.",
		}),
		Scores: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "score",
			Help:      "Distribution of beach scores.",
			Buckets:   []float64{0, 2, 4, 6, 8, 10},
		}),
		RateLimitRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limit_retries_total",
			Help:      "Weather requests retried after a 429 response.",
		}),
		PublishErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "publish_errors_total",
			Help:      "Snapshot publication failures.",
		}),
		WeatherRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "weather_requests_total",
			Help:      "Weather API requests by outcome.",
		}, []string{"outcome"}),
		WeatherAPIDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "weather_api_duration_seconds",
			Help:      "Weather API request duration in seconds.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}),
		WeatherCache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "weather_cache_total",
			Help:      "Weather cache lookups by result.",
		}, []string{"result"}),
		HazardRecords: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "hazard_records",
			Help:      "Records in the last fetched hazard feed.",
		}),
		HazardMatches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "hazard_matches_total",
			Help:      "Catalog entries matched against the hazard feed, by result.",
		}, []string{"result"}),
	}
}
