package domain

import (
	"fmt"
	"math"
	"strings"
)

const (
	maxScore = 10.0
	minScore = 0.0

	minVisibilityMeters = 3000
)

var (
	rainTerms  = []string{"rain", "drizzle", "thunderstorm", "lluvia", "llovizna", "tormenta", "chubasco"}
	cloudTerms = []string{"cloud", "nube", "nuboso", "nublado"}
	// mildCloudTerms soften the cloud penalty ("scattered clouds", "algo de nubes").
	mildCloudTerms = []string{"scattered", "few", "dispersa", "algo de", "pocas"}
)

// Assessment is the Score Engine's verdict for one beach.
type Assessment struct {
	Score         float64
	Reasons       []string // in rule evaluation order
	Flag          FlagColor
	FlagEstimated bool
}

// Score combines weather and the official classification into a bounded score.
// It is pure: identical inputs always yield identical assessments.
func Score(w WeatherSnapshot, c HazardClassification) Assessment {
	s := &scoring{score: maxScore, flag: c.Flag}
	if s.flag == "" {
		s.flag = FlagGray
	}

	if w.Missing {
		s.score = minScore
		s.reason("Sin datos meteorológicos")
	} else {
		s.wind(w.WindKmh)
		s.feelsLike(w.FeelsLike)
		s.sky(w.Sky)
		s.visibility(w.Visibility)
	}
	s.officialFlag(c.Flag)
	s.hazards(c)
	if !w.Missing {
		s.estimateFlag(w.WindKmh)
	}

	score := s.score
	if s.closed {
		score = minScore
	}
	score = math.Max(minScore, math.Min(maxScore, score))

	return Assessment{
		Score:         math.Round(score*10) / 10,
		Reasons:       s.reasons,
		Flag:          s.flag,
		FlagEstimated: s.estimated,
	}
}

type scoring struct {
	score     float64
	reasons   []string
	flag      FlagColor
	estimated bool
	closed    bool
}

func (s *scoring) reason(format string, args ...any) {
	s.reasons = append(s.reasons, fmt.Sprintf(format, args...))
}

// wind thresholds are cumulative.
func (s *scoring) wind(kmh int) {
	if kmh > 20 {
		s.score -= 2
	}
	if kmh > 28 {
		s.score -= 4
	}
	if kmh > 40 {
		s.score -= 7
	}

	switch {
	case kmh > 40:
		s.reason("Viento muy fuerte (%d km/h)", kmh)
	case kmh > 28:
		s.reason("Viento fuerte (%d km/h)", kmh)
	case kmh > 20:
		s.reason("Viento moderado (%d km/h)", kmh)
	}
}

// feelsLike thresholds below 20º are cumulative, like wind.
func (s *scoring) feelsLike(c float64) {
	if c < 20 {
		s.score--
	}
	if c < 18 {
		s.score -= 3
	}

	switch {
	case c < 18:
		s.reason("Frío (sensación %.0fº)", c)
	case c < 20:
		s.reason("Fresco (sensación %.0fº)", c)
	case c > 32:
		s.score--
		s.reason("Calor excesivo (sensación %.0fº)", c)
	}
}

func (s *scoring) sky(description string) {
	d := strings.ToLower(description)
	switch {
	case containsAny(d, rainTerms):
		s.score -= 10
		s.reason("Lluvia")
	case containsAny(d, cloudTerms) && containsAny(d, mildCloudTerms):
		s.score--
		s.reason("Algunas nubes")
	case containsAny(d, cloudTerms):
		s.score -= 2
		s.reason("Nublado")
	}
}

func (s *scoring) visibility(meters int) {
	if meters > 0 && meters < minVisibilityMeters {
		s.score -= 2
		s.reason("Visibilidad reducida (%d m)", meters)
	}
}

func (s *scoring) officialFlag(flag FlagColor) {
	switch flag {
	case FlagYellow:
		s.score -= 5
		s.reason("Bandera amarilla")
	case FlagRed:
		s.score -= 5
		s.reason("Bandera roja")
	case FlagBlack:
		s.score -= 10
		s.closed = true
		s.reason("Bandera negra")
	}
}

func (s *scoring) hazards(c HazardClassification) {
	if c.Has(HazardJellyfish) {
		s.score -= 5
		s.reason("Medusas")
	}
	if c.Has(HazardPollution) {
		s.score -= 5
		s.reason("Contaminación del agua")
	}
	if c.Has(HazardWorks) {
		s.score -= 3
		s.reason("Obras en la playa")
	}
	if c.Has(HazardRockfall) {
		s.score -= 3
		s.reason("Riesgo de derrumbes")
	}
	if c.Has(HazardClosed) {
		s.closed = true
		s.reason("Playa cerrada")
	}
}

// estimateFlag fills in a flag from the wind when the feed gave none. The
// estimate carries no penalty of its own; the wind rule already applied one.
func (s *scoring) estimateFlag(kmh int) {
	if s.flag != FlagGray {
		return
	}
	switch {
	case kmh > 35:
		s.flag = FlagRed
	case kmh > 20:
		s.flag = FlagYellow
	default:
		s.flag = FlagGreen
	}
	s.estimated = true
	s.reason("Bandera estimada a partir del tiempo")
}

func containsAny(s string, terms []string) bool {
	for _, t := range terms {
		if strings.Contains(s, t) {
			return true
		}
	}
	return false
}
