package domain

import (
	"context"
	"time"
)

// BeachRecord is one catalog entry. It is loaded once per run and never mutated.
type BeachRecord struct {
	ID           string  `json:"id,omitempty" yaml:"id"`
	Name         string  `json:"nombre" yaml:"nombre"`
	Municipality string  `json:"municipio" yaml:"municipio"`
	Zone         string  `json:"zona" yaml:"zona"`
	Lat          float64 `json:"lat" yaml:"lat"`
	Lon          float64 `json:"lon" yaml:"lon"`
	Description  string  `json:"descripcion,omitempty" yaml:"descripcion"`
	Webcam       string  `json:"webcam,omitempty" yaml:"webcam"`
	SourceID     string  `json:"id_aemet,omitempty" yaml:"id_aemet"` // legacy provider identifier
}

// NoData is the display value for fields the weather provider did not report.
const NoData = "Sin datos"

// WeatherSnapshot holds normalized current conditions for one beach.
// Zero values are neutral: Visibility 0 means "not reported" and Sunset is zero
// when absent.
type WeatherSnapshot struct {
	Temperature float64   `json:"temperatura"`
	FeelsLike   float64   `json:"sensacion"`
	WindKmh     int       `json:"viento"`
	Sky         string    `json:"cielo"`
	Humidity    int       `json:"humedad"`
	Visibility  int       `json:"visibilidad,omitempty"`
	Sunset      time.Time `json:"puesta_sol,omitzero"`

	// Missing is set when the weather source produced nothing for the entry.
	Missing bool `json:"sin_datos,omitempty"`
}

// MissingWeather returns the placeholder snapshot used when a beach could not
// be fetched.
func MissingWeather() WeatherSnapshot {
	return WeatherSnapshot{Sky: NoData, Missing: true}
}

// WeatherStatus tags the outcome of a weather request.
type WeatherStatus int

const (
	WeatherOK WeatherStatus = iota
	WeatherUnavailable
	WeatherUnauthorized
	WeatherRateLimited
)

func (s WeatherStatus) String() string {
	switch s {
	case WeatherOK:
		return "ok"
	case WeatherUnauthorized:
		return "unauthorized"
	case WeatherRateLimited:
		return "rate_limited"
	default:
		return "unavailable"
	}
}

// WeatherResult is the explicit outcome of a weather request. Snapshot is only
// meaningful when Status is WeatherOK.
type WeatherResult struct {
	Status   WeatherStatus
	Snapshot WeatherSnapshot
	Reason   string

	// RetryAfter is the provider's requested wait on a rate-limited response,
	// zero when not given.
	RetryAfter time.Duration
}

// OK reports whether the result carries a usable snapshot.
func (r WeatherResult) OK() bool { return r.Status == WeatherOK }

// WeatherSource fetches current conditions at a coordinate pair. It never
// returns an error; failures are encoded in the result status.
type WeatherSource interface {
	CurrentWeather(ctx context.Context, lat, lon float64) WeatherResult
}

// HazardRecord is one location from the official advisory feed.
type HazardRecord struct {
	Name       string            // resolved display name
	Key        string            // NormalizeName(Name)
	Properties map[string]string // every property, stringified
}

// HazardFeed fetches the bulk advisory dataset. On failure it returns no
// records and an error; callers degrade to weather-only estimation.
type HazardFeed interface {
	FetchHazards(ctx context.Context) ([]HazardRecord, error)
}

// ScoredBeach is the pipeline output for one catalog entry.
type ScoredBeach struct {
	ID            string          `json:"id,omitempty"`
	Name          string          `json:"nombre"`
	Municipality  string          `json:"municipio"`
	Zone          string          `json:"zona"`
	Lat           float64         `json:"lat"`
	Lon           float64         `json:"lon"`
	Description   string          `json:"descripcion,omitempty"`
	Webcam        string          `json:"webcam,omitempty"`
	Score         float64         `json:"score"`
	Reasons       []string        `json:"detalles"`
	Weather       WeatherSnapshot `json:"clima"`
	Flag          FlagColor       `json:"bandera"`
	FlagEstimated bool            `json:"bandera_estimada"`
	Hazards       []HazardTag     `json:"peligros"`
	OfficialName  string          `json:"fuente_oficial,omitempty"`
	UpdatedAt     time.Time       `json:"actualizado"`
}

// NewScoredBeach assembles the output record for a beach.
func NewScoredBeach(b BeachRecord, w WeatherSnapshot, c HazardClassification, a Assessment, at time.Time) ScoredBeach {
	hazards := c.SortedTags()
	if hazards == nil {
		hazards = []HazardTag{}
	}
	reasons := a.Reasons
	if reasons == nil {
		reasons = []string{}
	}
	return ScoredBeach{
		ID:            b.ID,
		Name:          b.Name,
		Municipality:  b.Municipality,
		Zone:          b.Zone,
		Lat:           b.Lat,
		Lon:           b.Lon,
		Description:   b.Description,
		Webcam:        b.Webcam,
		Score:         a.Score,
		Reasons:       reasons,
		Weather:       w,
		Flag:          a.Flag,
		FlagEstimated: a.FlagEstimated,
		Hazards:       hazards,
		OfficialName:  c.Source,
		UpdatedAt:     at,
	}
}
