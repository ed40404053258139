package pipeline_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/beach-score-etl/internal/adapter/snapshot"
	"github.com/couchcryptid/beach-score-etl/internal/domain"
	"github.com/couchcryptid/beach-score-etl/internal/observability"
	"github.com/couchcryptid/beach-score-etl/internal/pipeline"
)

// --- mocks ---

type staticCatalog struct {
	beaches []domain.BeachRecord
	err     error
}

func (c staticCatalog) Beaches(context.Context) ([]domain.BeachRecord, error) {
	return c.beaches, c.err
}

// scriptedWeather answers calls in order; once the script runs out it keeps
// returning calm weather.
type scriptedWeather struct {
	mu     sync.Mutex
	clock  clockwork.Clock
	script []domain.WeatherResult
	calls  []time.Time
}

func (w *scriptedWeather) CurrentWeather(_ context.Context, _, _ float64) domain.WeatherResult {
	w.mu.Lock()
	defer w.mu.Unlock()
	n := len(w.calls)
	if w.clock != nil {
		w.calls = append(w.calls, w.clock.Now())
	} else {
		w.calls = append(w.calls, time.Time{})
	}
	if n < len(w.script) {
		return w.script[n]
	}
	return ok(calm())
}

func (w *scriptedWeather) callCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.calls)
}

type stubHazards struct {
	records []domain.HazardRecord
	err     error
}

func (h stubHazards) FetchHazards(context.Context) ([]domain.HazardRecord, error) {
	return h.records, h.err
}

type memWriter struct {
	mu      sync.Mutex
	written [][]domain.ScoredBeach
	err     error
}

func (m *memWriter) WriteSnapshot(_ context.Context, beaches []domain.ScoredBeach) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.written = append(m.written, beaches)
	return nil
}

func (m *memWriter) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.written)
}

type recordingPublisher struct {
	got   []domain.ScoredBeach
	runAt time.Time
	err   error
}

func (p *recordingPublisher) Publish(_ context.Context, beaches []domain.ScoredBeach, runAt time.Time) error {
	p.got = beaches
	p.runAt = runAt
	return p.err
}

// --- helpers ---

var runTime = time.Date(2026, 7, 1, 10, 0, 0, 0, time.UTC)

func testLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func newTestMetrics() *observability.Metrics {
	// Use a fresh registry to avoid "already registered" panics in tests.
	return observability.NewMetricsForTesting()
}

func beach(name string) domain.BeachRecord {
	return domain.BeachRecord{Name: name, Municipality: "Almuñécar", Zone: "Costa Tropical", Lat: 36.73, Lon: -3.69}
}

func calm() domain.WeatherSnapshot {
	return domain.WeatherSnapshot{Temperature: 26, FeelsLike: 26, WindKmh: 10, Sky: "Cielo claro", Humidity: 50}
}

func windy() domain.WeatherSnapshot {
	w := calm()
	w.WindKmh = 25
	return w
}

func ok(w domain.WeatherSnapshot) domain.WeatherResult {
	return domain.WeatherResult{Status: domain.WeatherOK, Snapshot: w}
}

func failed(status domain.WeatherStatus) domain.WeatherResult {
	return domain.WeatherResult{Status: status, Snapshot: domain.MissingWeather(), Reason: status.String()}
}

func rateLimited(retryAfter time.Duration) domain.WeatherResult {
	r := failed(domain.WeatherRateLimited)
	r.RetryAfter = retryAfter
	return r
}

func hazard(name string, props map[string]string) domain.HazardRecord {
	props["nombre"] = name
	return domain.HazardRecord{Name: name, Key: domain.NormalizeName(name), Properties: props}
}

func names(beaches []domain.ScoredBeach) []string {
	out := make([]string, len(beaches))
	for i, b := range beaches {
		out[i] = b.Name
	}
	return out
}

// autoAdvance fires every timer the pipeline arms on the fake clock, one
// second at a time, so elapsed fake time equals the requested wait.
func autoAdvance(t *testing.T, clock *clockwork.FakeClock) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go func() {
		for {
			if err := clock.BlockUntilContext(ctx, 1); err != nil {
				return
			}
			clock.Advance(time.Second)
		}
	}()
}

type fixture struct {
	catalog staticCatalog
	weather *scriptedWeather
	hazards stubHazards
	writer  *memWriter
	clock   *clockwork.FakeClock
	opts    pipeline.Options
}

func newFixture(beaches ...domain.BeachRecord) *fixture {
	clock := clockwork.NewFakeClockAt(runTime)
	return &fixture{
		catalog: staticCatalog{beaches: beaches},
		weather: &scriptedWeather{clock: clock},
		writer:  &memWriter{},
		clock:   clock,
		opts: pipeline.Options{
			RateLimitRetries: 3,
			RateLimitBackoff: 30 * time.Second,
			MinUsable:        1,
			Clock:            clock,
		},
	}
}

func (f *fixture) pipeline() *pipeline.Pipeline {
	return pipeline.New(f.catalog, f.weather, f.hazards, f.writer, testLogger(), newTestMetrics(), f.opts)
}

// --- tests ---

func TestPipeline_Run_HappyPath(t *testing.T) {
	f := newFixture(beach("Playa de Poniente"), beach("Cantarriján"), beach("La Herradura"))
	f.weather.script = []domain.WeatherResult{ok(calm()), ok(windy()), ok(calm())}
	f.hazards.records = []domain.HazardRecord{
		hazard("poniente", map[string]string{"bandera": "AMARILLA", "observaciones": "Presencia de medusas"}),
		hazard("La Herradura", map[string]string{"bandera": "VERDE"}),
	}
	p := f.pipeline()

	result, err := p.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, pipeline.OutcomePersisted, result.Outcome)
	assert.Equal(t, 3, result.Total)
	assert.Equal(t, 3, result.Usable)
	assert.Equal(t, 2, result.Matched)
	assert.False(t, result.RateLimited)
	assert.True(t, p.Ready())
	assert.NoError(t, p.CheckReadiness(context.Background()))

	require.Equal(t, 1, f.writer.count())
	written := f.writer.written[0]
	assert.Equal(t, []string{"La Herradura", "Cantarriján", "Playa de Poniente"}, names(written))

	herradura := written[0]
	assert.InDelta(t, 10.0, herradura.Score, 1e-9)
	assert.Equal(t, domain.FlagGreen, herradura.Flag)
	assert.False(t, herradura.FlagEstimated)
	assert.Equal(t, "La Herradura", herradura.OfficialName)
	assert.Equal(t, runTime, herradura.UpdatedAt)

	cantarrijan := written[1]
	assert.InDelta(t, 8.0, cantarrijan.Score, 1e-9)
	assert.Equal(t, domain.FlagYellow, cantarrijan.Flag)
	assert.True(t, cantarrijan.FlagEstimated)
	assert.Empty(t, cantarrijan.OfficialName)

	poniente := written[2]
	assert.InDelta(t, 0.0, poniente.Score, 1e-9)
	assert.Equal(t, domain.FlagYellow, poniente.Flag)
	assert.Equal(t, []domain.HazardTag{domain.HazardJellyfish}, poniente.Hazards)

	assert.Equal(t, written, result.Beaches)
}

func TestPipeline_Run_PreservesCountWhenWeatherFails(t *testing.T) {
	f := newFixture(beach("A"), beach("B"), beach("C"), beach("D"))
	f.weather.script = []domain.WeatherResult{
		ok(calm()),
		failed(domain.WeatherUnavailable),
		failed(domain.WeatherUnauthorized),
		ok(calm()),
	}

	result, err := f.pipeline().Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, result.Usable)

	written := f.writer.written[0]
	require.Len(t, written, 4)
	assert.Equal(t, []string{"A", "D", "B", "C"}, names(written))
	for _, b := range written[2:] {
		assert.True(t, b.Weather.Missing, b.Name)
		assert.Equal(t, domain.NoData, b.Weather.Sky)
		assert.InDelta(t, 0.0, b.Score, 1e-9)
		assert.Equal(t, domain.FlagGray, b.Flag)
		assert.Contains(t, b.Reasons, "Sin datos meteorológicos")
	}
}

func TestPipeline_Run_AbortsOnFirstEntryUnauthorized(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.json")
	prior := []byte("[\n  {\"nombre\": \"previous run\"}\n]\n")
	require.NoError(t, os.WriteFile(path, prior, 0o644))

	f := newFixture(beach("A"), beach("B"), beach("C"))
	f.weather.script = []domain.WeatherResult{failed(domain.WeatherUnauthorized)}
	p := pipeline.New(f.catalog, f.weather, f.hazards, snapshot.NewWriter(path), testLogger(), newTestMetrics(), f.opts)

	result, err := p.Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, pipeline.ErrAborted)
	assert.Equal(t, pipeline.OutcomeAborted, result.Outcome)
	assert.Equal(t, 1, f.weather.callCount())
	assert.False(t, p.Ready())
	assert.Error(t, p.CheckReadiness(context.Background()))

	after, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, prior, after)
}

func TestPipeline_Run_AbortsBelowMinUsable(t *testing.T) {
	f := newFixture(beach("A"), beach("B"), beach("C"))
	f.weather.script = []domain.WeatherResult{
		ok(calm()),
		failed(domain.WeatherUnavailable),
		failed(domain.WeatherUnavailable),
	}
	f.opts.MinUsable = 2

	result, err := f.pipeline().Run(context.Background())
	require.ErrorIs(t, err, pipeline.ErrAborted)
	assert.Equal(t, pipeline.OutcomeAborted, result.Outcome)
	assert.Equal(t, 3, result.Total)
	assert.Equal(t, 1, result.Usable)
	assert.Zero(t, f.writer.count())
}

func TestPipeline_Run_AllWeatherUnavailableAborts(t *testing.T) {
	f := newFixture(beach("A"), beach("B"))
	f.weather.script = []domain.WeatherResult{failed(domain.WeatherUnavailable), failed(domain.WeatherUnavailable)}

	_, err := f.pipeline().Run(context.Background())
	require.ErrorIs(t, err, pipeline.ErrAborted)
	assert.Zero(t, f.writer.count())
}

func TestPipeline_Run_HazardFeedFailureDegrades(t *testing.T) {
	f := newFixture(beach("A"), beach("B"))
	f.hazards.err = errors.New("feed down")

	result, err := f.pipeline().Run(context.Background())
	require.NoError(t, err)
	assert.Zero(t, result.Matched)

	for _, b := range f.writer.written[0] {
		assert.Equal(t, domain.FlagGreen, b.Flag)
		assert.True(t, b.FlagEstimated)
		assert.Empty(t, b.Hazards)
	}
}

func TestPipeline_Run_StableSortOnEqualScores(t *testing.T) {
	f := newFixture(beach("First"), beach("Windy"), beach("Second"), beach("Third"))
	f.weather.script = []domain.WeatherResult{ok(calm()), ok(windy()), ok(calm()), ok(calm())}

	_, err := f.pipeline().Run(context.Background())
	require.NoError(t, err)

	want := []string{"First", "Second", "Third", "Windy"}
	if diff := cmp.Diff(want, names(f.writer.written[0])); diff != "" {
		t.Fatalf("order mismatch (-want +got):\n%s", diff)
	}
}

func TestPipeline_Run_RetriesRateLimitWithBackoff(t *testing.T) {
	f := newFixture(beach("A"))
	f.weather.script = []domain.WeatherResult{
		rateLimited(0),
		rateLimited(0),
		rateLimited(7 * time.Second),
		ok(calm()),
	}
	autoAdvance(t, f.clock)

	result, err := f.pipeline().Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Usable)
	assert.False(t, result.RateLimited)

	calls := f.weather.calls
	require.Len(t, calls, 4)
	gaps := []time.Duration{calls[1].Sub(calls[0]), calls[2].Sub(calls[1]), calls[3].Sub(calls[2])}
	// Backoff doubles per retry; a Retry-After header takes precedence.
	assert.Equal(t, []time.Duration{30 * time.Second, 60 * time.Second, 7 * time.Second}, gaps)
}

func TestPipeline_Run_PacesRequests(t *testing.T) {
	f := newFixture(beach("A"), beach("B"), beach("C"))
	f.opts.RequestDelay = 3 * time.Second
	autoAdvance(t, f.clock)

	result, err := f.pipeline().Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, result.Usable)

	calls := f.weather.calls
	require.Len(t, calls, 3)
	gaps := []time.Duration{calls[1].Sub(calls[0]), calls[2].Sub(calls[1])}
	// The first request goes out immediately; each later one waits a full delay.
	assert.Equal(t, runTime, calls[0])
	assert.Equal(t, []time.Duration{3 * time.Second, 3 * time.Second}, gaps)
}

func TestPipeline_Run_PacingStopsOnCancel(t *testing.T) {
	f := newFixture(beach("A"), beach("B"))
	f.opts.RequestDelay = time.Hour
	p := f.pipeline()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := p.Run(ctx)
		done <- err
	}()

	// A's request is immediate; B waits on the fake clock until cancelled.
	waitCtx, waitCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer waitCancel()
	require.NoError(t, f.clock.BlockUntilContext(waitCtx, 1))
	cancel()

	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop after cancellation")
	}
	assert.Equal(t, 1, f.weather.callCount())
	assert.Zero(t, f.writer.count())
}

func TestPipeline_Run_RateLimitExhaustedFillsRemaining(t *testing.T) {
	f := newFixture(beach("A"), beach("B"), beach("C"))
	f.weather.script = []domain.WeatherResult{ok(calm()), rateLimited(0), rateLimited(0)}
	f.opts.RateLimitRetries = 1
	autoAdvance(t, f.clock)

	result, err := f.pipeline().Run(context.Background())
	require.NoError(t, err)
	assert.True(t, result.RateLimited)
	assert.Equal(t, 1, result.Usable)
	// One call for A, two for B, none for C.
	assert.Equal(t, 3, f.weather.callCount())

	written := f.writer.written[0]
	require.Len(t, written, 3)
	assert.Equal(t, []string{"A", "B", "C"}, names(written))
	assert.True(t, written[1].Weather.Missing)
	assert.True(t, written[2].Weather.Missing)
}

func TestPipeline_Run_ClosedBeachScoresZero(t *testing.T) {
	f := newFixture(beach("Calahonda"), beach("Velilla"))
	f.hazards.records = []domain.HazardRecord{
		hazard("Calahonda", map[string]string{"bandera": "NEGRA"}),
		hazard("Velilla", map[string]string{"estado": "Playa cerrada al baño"}),
	}

	_, err := f.pipeline().Run(context.Background())
	require.NoError(t, err)
	for _, b := range f.writer.written[0] {
		assert.InDelta(t, 0.0, b.Score, 1e-9, b.Name)
	}
}

func TestPipeline_Run_PublishesAfterPersist(t *testing.T) {
	good := &recordingPublisher{}
	broken := &recordingPublisher{err: errors.New("broker down")}
	f := newFixture(beach("A"), beach("B"))
	f.opts.Publishers = []pipeline.Publisher{broken, good}

	result, err := f.pipeline().Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, pipeline.OutcomePersisted, result.Outcome)
	assert.Len(t, good.got, 2)
	assert.Len(t, broken.got, 2)
	assert.Equal(t, runTime, good.runAt)
}

func TestPipeline_Run_WriteFailure(t *testing.T) {
	f := newFixture(beach("A"))
	f.writer.err = errors.New("disk full")
	pub := &recordingPublisher{}
	f.opts.Publishers = []pipeline.Publisher{pub}
	p := f.pipeline()

	result, err := p.Run(context.Background())
	require.Error(t, err)
	assert.NotErrorIs(t, err, pipeline.ErrAborted)
	assert.Equal(t, pipeline.OutcomeFailed, result.Outcome)
	assert.Nil(t, pub.got)
	assert.False(t, p.Ready())
}

func TestPipeline_Run_CatalogError(t *testing.T) {
	f := newFixture()
	f.catalog.err = errors.New("no such file")

	result, err := f.pipeline().Run(context.Background())
	require.Error(t, err)
	assert.Equal(t, pipeline.OutcomeFailed, result.Outcome)
	assert.Zero(t, f.weather.callCount())
}

func TestPipeline_Run_ContextCancellation(t *testing.T) {
	f := newFixture(beach("A"), beach("B"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel() // cancel immediately

	_, err := f.pipeline().Run(ctx)
	require.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, f.writer.count())
}

func TestPipeline_Run_IsDeterministic(t *testing.T) {
	run := func() []domain.ScoredBeach {
		f := newFixture(beach("Playa de Poniente"), beach("Cantarriján"))
		f.weather.script = []domain.WeatherResult{ok(windy()), ok(calm())}
		f.hazards.records = []domain.HazardRecord{hazard("Poniente", map[string]string{"bandera": "ROJA"})}
		_, err := f.pipeline().Run(context.Background())
		require.NoError(t, err)
		return f.writer.written[0]
	}

	if diff := cmp.Diff(run(), run()); diff != "" {
		t.Fatalf("runs differ (-first +second):\n%s", diff)
	}
}

func TestPipeline_RunEvery(t *testing.T) {
	f := newFixture(beach("A"))
	p := f.pipeline()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.RunEvery(ctx, time.Hour) }()

	require.Eventually(t, func() bool { return f.writer.count() == 1 }, 2*time.Second, 5*time.Millisecond)

	waitCtx, waitCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer waitCancel()
	require.NoError(t, f.clock.BlockUntilContext(waitCtx, 1))
	f.clock.Advance(time.Hour)

	require.Eventually(t, func() bool { return f.writer.count() == 2 }, 2*time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("RunEvery did not stop after cancellation")
	}
}
