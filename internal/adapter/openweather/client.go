package openweather

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/couchcryptid/beach-score-etl/internal/domain"
	"github.com/couchcryptid/beach-score-etl/internal/observability"
)

// msToKmh converts the provider's m/s wind speed to km/h.
const msToKmh = 3.6

// Client implements domain.WeatherSource using the OpenWeatherMap current weather API.
type Client struct {
	apiKey     string
	lang       string
	httpClient *http.Client
	baseURL    string
	metrics    *observability.Metrics
	logger     *slog.Logger
}

// NewClient creates an OpenWeatherMap client.
func NewClient(apiKey, baseURL, lang string, timeout time.Duration, metrics *observability.Metrics, logger *slog.Logger) *Client {
	return &Client{
		apiKey: apiKey,
		lang:   lang,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		baseURL: baseURL,
		metrics: metrics,
		logger:  logger,
	}
}

// CurrentWeather fetches current conditions at lat/lon. Failures are reported
// through the result status, never as an error.
func (c *Client) CurrentWeather(ctx context.Context, lat, lon float64) domain.WeatherResult {
	result := c.fetch(ctx, lat, lon)
	c.metrics.WeatherRequests.WithLabelValues(result.Status.String()).Inc()
	return result
}

func (c *Client) fetch(ctx context.Context, lat, lon float64) domain.WeatherResult {
	params := url.Values{
		"lat":   {strconv.FormatFloat(lat, 'f', 6, 64)},
		"lon":   {strconv.FormatFloat(lon, 'f', 6, 64)},
		"appid": {c.apiKey},
		"units": {"metric"},
	}
	if c.lang != "" {
		params.Set("lang", c.lang)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+params.Encode(), nil)
	if err != nil {
		return unavailable(domain.WeatherUnavailable, fmt.Sprintf("create request: %v", err))
	}
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	c.metrics.WeatherAPIDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		return unavailable(domain.WeatherUnavailable, fmt.Sprintf("weather request: %v", err))
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusUnauthorized, http.StatusForbidden:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return unavailable(domain.WeatherUnauthorized, fmt.Sprintf("weather API error: status %d: %s", resp.StatusCode, body))
	case http.StatusTooManyRequests:
		r := unavailable(domain.WeatherRateLimited, "weather API error: status 429")
		r.RetryAfter = parseRetryAfter(resp.Header.Get("Retry-After"))
		return r
	default:
		return unavailable(domain.WeatherUnavailable, fmt.Sprintf("weather API error: status %d", resp.StatusCode))
	}

	var owm response
	if err := json.NewDecoder(resp.Body).Decode(&owm); err != nil {
		return unavailable(domain.WeatherUnavailable, fmt.Sprintf("decode response: %v", err))
	}

	snap := owm.snapshot()
	c.logger.Debug("weather fetched", "lat", lat, "lon", lon, "wind_kmh", snap.WindKmh, "sky", snap.Sky)
	return domain.WeatherResult{Status: domain.WeatherOK, Snapshot: snap}
}

func unavailable(status domain.WeatherStatus, reason string) domain.WeatherResult {
	return domain.WeatherResult{Status: status, Snapshot: domain.MissingWeather(), Reason: reason}
}

func parseRetryAfter(v string) time.Duration {
	secs, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil || secs <= 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}

// OpenWeatherMap API response types. Every field is optional; absent values
// fall back to neutral defaults independently.

type response struct {
	Main       *mainBlock    `json:"main"`
	Wind       *windBlock    `json:"wind"`
	Weather    []weatherItem `json:"weather"`
	Visibility *int          `json:"visibility"`
	Sys        *sysBlock     `json:"sys"`
}

type mainBlock struct {
	Temp      *float64 `json:"temp"`
	FeelsLike *float64 `json:"feels_like"`
	Humidity  *int     `json:"humidity"`
}

type windBlock struct {
	Speed *float64 `json:"speed"` // m/s
}

type weatherItem struct {
	Description string `json:"description"`
}

type sysBlock struct {
	Sunset *int64 `json:"sunset"` // epoch seconds
}

func (r response) snapshot() domain.WeatherSnapshot {
	snap := domain.WeatherSnapshot{Sky: domain.NoData}

	if r.Main != nil {
		snap.Temperature = valueOr(r.Main.Temp, 0)
		snap.FeelsLike = valueOr(r.Main.FeelsLike, snap.Temperature)
		snap.Humidity = valueOr(r.Main.Humidity, 0)
	}
	if r.Wind != nil {
		snap.WindKmh = int(math.Round(valueOr(r.Wind.Speed, 0) * msToKmh))
	}
	if len(r.Weather) > 0 && strings.TrimSpace(r.Weather[0].Description) != "" {
		snap.Sky = capitalize(strings.ToLower(strings.TrimSpace(r.Weather[0].Description)))
	}
	snap.Visibility = valueOr(r.Visibility, 0)
	if r.Sys != nil && r.Sys.Sunset != nil && *r.Sys.Sunset > 0 {
		snap.Sunset = time.Unix(*r.Sys.Sunset, 0).UTC()
	}
	return snap
}

func valueOr[T any](p *T, def T) T {
	if p == nil {
		return def
	}
	return *p
}

func capitalize(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError {
		return s
	}
	return string(unicode.ToUpper(r)) + s[size:]
}
