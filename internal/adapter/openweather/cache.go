package openweather

import (
	"context"
	"time"

	"github.com/couchcryptid/beach-score-etl/internal/domain"
	"github.com/couchcryptid/beach-score-etl/internal/observability"
	"github.com/mmcloughlin/geohash"
	gocache "github.com/patrickmn/go-cache"
)

// geohashPrecision 7 is a cell of roughly 150 m, well inside one weather grid point.
const geohashPrecision = 7

// CachedSource wraps a WeatherSource with an in-memory TTL cache keyed by the
// coordinate geohash, so nearby catalog entries share one request.
type CachedSource struct {
	inner   domain.WeatherSource
	cache   *gocache.Cache
	metrics *observability.Metrics
}

// NewCachedSource creates a cache decorator around a weather source.
func NewCachedSource(inner domain.WeatherSource, ttl time.Duration, metrics *observability.Metrics) *CachedSource {
	return &CachedSource{
		inner:   inner,
		cache:   gocache.New(ttl, 2*ttl),
		metrics: metrics,
	}
}

// CurrentWeather returns a cached result for the coordinate's cell when one is
// still fresh, otherwise it delegates to the wrapped source.
func (c *CachedSource) CurrentWeather(ctx context.Context, lat, lon float64) domain.WeatherResult {
	key := cacheKey(lat, lon)
	if v, ok := c.cache.Get(key); ok {
		c.metrics.WeatherCache.WithLabelValues("hit").Inc()
		return v.(domain.WeatherResult)
	}
	c.metrics.WeatherCache.WithLabelValues("miss").Inc()

	result := c.inner.CurrentWeather(ctx, lat, lon)
	// Only cache usable results so failures are retried on the next lookup.
	if result.OK() {
		c.cache.SetDefault(key, result)
	}
	return result
}

func cacheKey(lat, lon float64) string {
	return geohash.EncodeWithPrecision(lat, lon, geohashPrecision)
}
