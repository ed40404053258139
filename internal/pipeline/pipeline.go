package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/time/rate"

	"github.com/couchcryptid/beach-score-etl/internal/config"
	"github.com/couchcryptid/beach-score-etl/internal/domain"
	"github.com/couchcryptid/beach-score-etl/internal/observability"
)

// maxRateLimitBackoff caps the escalating wait between rate-limited retries.
const maxRateLimitBackoff = 5 * time.Minute

// ErrAborted is returned when a run stops before writing anything. The
// previous snapshot is left in place.
var ErrAborted = errors.New("run aborted")

// Catalog supplies the beach registry for a run.
type Catalog interface {
	Beaches(ctx context.Context) ([]domain.BeachRecord, error)
}

// SnapshotWriter persists the ordered result of a run.
type SnapshotWriter interface {
	WriteSnapshot(ctx context.Context, beaches []domain.ScoredBeach) error
}

// Publisher forwards a persisted snapshot to an optional downstream sink.
type Publisher interface {
	Publish(ctx context.Context, beaches []domain.ScoredBeach, runAt time.Time) error
}

// Outcome labels how a run finished.
type Outcome string

const (
	OutcomePersisted Outcome = "persisted"
	OutcomeAborted   Outcome = "aborted"
	OutcomeFailed    Outcome = "failed"
)

// RunResult summarizes one run.
type RunResult struct {
	Outcome     Outcome
	Total       int // catalog entries
	Usable      int // entries with weather
	Matched     int // entries matched to an official record
	RateLimited bool
	Duration    time.Duration
	Beaches     []domain.ScoredBeach // sorted, set when persisted
}

// Options tune request pacing and abort thresholds.
type Options struct {
	RequestDelay     time.Duration
	RateLimitRetries int
	RateLimitBackoff time.Duration
	MinUsable        int

	Clock      clockwork.Clock // defaults to the real clock
	Publishers []Publisher
}

// OptionsFromConfig maps service configuration onto pipeline options.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		RequestDelay:     cfg.RequestDelay,
		RateLimitRetries: cfg.RateLimitRetries,
		RateLimitBackoff: cfg.RateLimitBackoff,
		MinUsable:        cfg.MinUsableEntries,
	}
}

// Pipeline scores every catalog entry against current weather and the
// official hazard feed, then writes the ranked snapshot.
type Pipeline struct {
	catalog    Catalog
	weather    domain.WeatherSource
	hazards    domain.HazardFeed
	writer     SnapshotWriter
	publishers []Publisher
	limiter    *rate.Limiter
	clock      clockwork.Clock
	opts       Options
	logger     *slog.Logger
	metrics    *observability.Metrics
	ready      atomic.Bool
}

// New creates a Pipeline with the given collaborators and observability.
func New(c Catalog, w domain.WeatherSource, h domain.HazardFeed, sw SnapshotWriter, logger *slog.Logger, metrics *observability.Metrics, opts Options) *Pipeline {
	clock := opts.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if opts.MinUsable < 1 {
		opts.MinUsable = 1
	}
	limit := rate.Inf
	if opts.RequestDelay > 0 {
		limit = rate.Every(opts.RequestDelay)
	}
	return &Pipeline{
		catalog:    c,
		weather:    w,
		hazards:    h,
		writer:     sw,
		publishers: opts.Publishers,
		limiter:    rate.NewLimiter(limit, 1),
		clock:      clock,
		opts:       opts,
		logger:     logger,
		metrics:    metrics,
	}
}

// CheckReadiness returns nil once a snapshot has been persisted, or an error
// describing why the service is not yet ready.
func (p *Pipeline) CheckReadiness(_ context.Context) error {
	if !p.ready.Load() {
		return errors.New("no snapshot has been persisted yet")
	}
	return nil
}

// Ready reports whether at least one snapshot has been persisted.
func (p *Pipeline) Ready() bool { return p.ready.Load() }

// RunEvery runs immediately and then once per interval until the context is
// cancelled. Failed runs are logged and retried on the next tick.
func (p *Pipeline) RunEvery(ctx context.Context, interval time.Duration) error {
	p.logger.Info("scheduler started", "interval", interval)
	for {
		if _, err := p.Run(ctx); err != nil && ctx.Err() == nil {
			p.logger.Error("run failed", "error", err)
		}

		select {
		case <-ctx.Done():
			p.logger.Info("scheduler stopping", "reason", ctx.Err())
			return nil
		case <-p.clock.After(interval):
		}
	}
}

// Run executes one full pass over the catalog. Every entry yields exactly one
// ScoredBeach; the snapshot is only written when the run is not aborted.
func (p *Pipeline) Run(ctx context.Context) (RunResult, error) {
	start := p.clock.Now()
	p.metrics.PipelineRunning.Set(1)
	defer p.metrics.PipelineRunning.Set(0)

	result, err := p.run(ctx)
	result.Duration = p.clock.Since(start)

	p.metrics.Runs.WithLabelValues(string(result.Outcome)).Inc()
	p.metrics.RunDuration.Observe(result.Duration.Seconds())

	if err != nil {
		p.logger.Warn("run finished without snapshot",
			"outcome", result.Outcome,
			"error", err,
			"total", result.Total,
			"usable", result.Usable,
		)
		return result, err
	}

	p.ready.Store(true)
	p.metrics.LastSuccess.Set(float64(p.clock.Now().Unix()))
	p.logger.Info("run complete",
		"total", result.Total,
		"usable", result.Usable,
		"matched", result.Matched,
		"rate_limited", result.RateLimited,
		"duration", result.Duration,
	)
	if len(result.Beaches) > 0 {
		top := result.Beaches[0]
		p.logger.Info("top beach", "beach", top.Name, "municipality", top.Municipality, "score", top.Score)
	}
	return result, nil
}

func (p *Pipeline) run(ctx context.Context) (RunResult, error) {
	result := RunResult{Outcome: OutcomeFailed}

	beaches, err := p.catalog.Beaches(ctx)
	if err != nil {
		return result, fmt.Errorf("load catalog: %w", err)
	}
	result.Total = len(beaches)

	records := p.fetchHazards(ctx)

	scored := make([]domain.ScoredBeach, 0, len(beaches))
	weatherStopped := false
	for i, b := range beaches {
		if ctx.Err() != nil {
			return result, fmt.Errorf("run cancelled: %w", ctx.Err())
		}

		snap := domain.MissingWeather()
		if !weatherStopped {
			res, stop := p.fetchWeather(ctx, b)
			switch {
			case res.OK():
				snap = res.Snapshot
				result.Usable++
			case res.Status == domain.WeatherUnauthorized && i == 0:
				result.Outcome = OutcomeAborted
				p.logger.Error("weather credentials rejected on first entry", "beach", b.Name, "reason", res.Reason)
				return result, fmt.Errorf("%w: weather credentials rejected: %s", ErrAborted, res.Reason)
			case res.Status == domain.WeatherUnauthorized:
				p.logger.Error("weather credentials rejected", "beach", b.Name, "reason", res.Reason)
			default:
				p.logger.Warn("weather unavailable", "beach", b.Name, "status", res.Status.String(), "reason", res.Reason)
			}
			if stop {
				weatherStopped = true
				if res.Status == domain.WeatherRateLimited {
					result.RateLimited = true
					p.logger.Warn("rate limit retries exhausted, skipping weather for remaining entries",
						"beach", b.Name, "remaining", len(beaches)-i-1)
				}
			}
		}

		class := domain.Classify(b.Name, records)
		if class.Matched {
			result.Matched++
			p.metrics.HazardMatches.WithLabelValues("matched").Inc()
		} else {
			p.metrics.HazardMatches.WithLabelValues("unmatched").Inc()
		}

		a := domain.Score(snap, class)
		sb := domain.NewScoredBeach(b, snap, class, a, p.clock.Now())
		scored = append(scored, sb)

		p.metrics.BeachesScored.Inc()
		p.metrics.Scores.Observe(sb.Score)
		p.logger.Info("beach scored",
			"beach", b.Name,
			"index", i+1,
			"total", len(beaches),
			"score", sb.Score,
			"flag", sb.Flag,
		)
	}

	if ctx.Err() != nil {
		return result, fmt.Errorf("run cancelled: %w", ctx.Err())
	}
	if result.Usable < p.opts.MinUsable {
		result.Outcome = OutcomeAborted
		return result, fmt.Errorf("%w: %d of %d entries have weather, need %d",
			ErrAborted, result.Usable, result.Total, p.opts.MinUsable)
	}

	SortByScore(scored)

	if err := p.writer.WriteSnapshot(ctx, scored); err != nil {
		return result, fmt.Errorf("write snapshot: %w", err)
	}
	result.Outcome = OutcomePersisted
	result.Beaches = scored

	runAt := p.clock.Now()
	for _, pub := range p.publishers {
		if err := pub.Publish(ctx, scored, runAt); err != nil {
			p.metrics.PublishErrors.Inc()
			p.logger.Error("publish snapshot failed", "error", err)
		}
	}
	return result, nil
}

// fetchHazards loads the official feed once per run. A failure degrades every
// entry to weather-only estimation.
func (p *Pipeline) fetchHazards(ctx context.Context) []domain.HazardRecord {
	records, err := p.hazards.FetchHazards(ctx)
	if err != nil {
		p.logger.Warn("hazard feed unavailable, estimating flags from weather", "error", err)
		records = nil
	}
	p.metrics.HazardRecords.Set(float64(len(records)))
	return records
}

// fetchWeather paces and retries a single weather request. stop is true when
// rate-limit retries are exhausted and no further requests should be made.
func (p *Pipeline) fetchWeather(ctx context.Context, b domain.BeachRecord) (res domain.WeatherResult, stop bool) {
	backoff := p.opts.RateLimitBackoff
	for attempt := 0; ; attempt++ {
		if err := p.pace(ctx); err != nil {
			return domain.WeatherResult{Status: domain.WeatherUnavailable, Snapshot: domain.MissingWeather(), Reason: err.Error()}, true
		}

		res = p.weather.CurrentWeather(ctx, b.Lat, b.Lon)
		if res.Status != domain.WeatherRateLimited {
			return res, false
		}
		if attempt >= p.opts.RateLimitRetries {
			return res, true
		}

		wait := backoff
		if res.RetryAfter > 0 {
			wait = res.RetryAfter
		}
		p.metrics.RateLimitRetries.Inc()
		p.logger.Warn("weather rate limited, backing off", "beach", b.Name, "attempt", attempt+1, "wait", wait)
		if !sleepWithContext(ctx, p.clock, wait) {
			return res, true
		}
		backoff = nextBackoff(backoff, maxRateLimitBackoff)
	}
}

// pace waits for the next request slot. The limiter is driven by the injected
// clock so the delay between requests follows fake time in tests.
func (p *Pipeline) pace(ctx context.Context) error {
	now := p.clock.Now()
	r := p.limiter.ReserveN(now, 1)
	if !r.OK() {
		return errors.New("request pacing: reservation exceeds limiter burst")
	}
	if !sleepWithContext(ctx, p.clock, r.DelayFrom(now)) {
		r.CancelAt(p.clock.Now())
		return fmt.Errorf("request pacing: %w", ctx.Err())
	}
	return nil
}

// SortByScore orders beaches by score descending. Equal scores keep their
// catalog order.
func SortByScore(beaches []domain.ScoredBeach) {
	sort.SliceStable(beaches, func(i, j int) bool {
		return beaches[i].Score > beaches[j].Score
	})
}

func nextBackoff(current, maxBackoff time.Duration) time.Duration {
	next := current * 2
	if next > maxBackoff {
		return maxBackoff
	}
	return next
}

func sleepWithContext(ctx context.Context, clock clockwork.Clock, d time.Duration) bool {
	if d <= 0 {
		return true
	}

	timer := clock.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.Chan():
		return true
	}
}
