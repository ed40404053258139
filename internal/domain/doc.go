// Package domain models beach condition data and the rules that turn it into a
// suitability score.
//
// # Data Sources
//
// Each run combines two providers for a fixed catalog of beaches:
//
//   - A current-weather endpoint queried once per beach by coordinates
//     (OpenWeatherMap shape). Wind arrives in m/s and is stored in km/h.
//   - A bulk official advisory feed fetched once per run. Each record is a
//     free-form property set whose key names vary between feed revisions.
//
// # Matching
//
// Catalog names and feed names are compared after [NormalizeName]: lower-case,
// trimmed, with diacritics folded ("Médano" == "medano"). A beach matches a
// record when either normalized name contains the other. The first matching
// record in slice order wins; the feed adapter sorts records by normalized name
// so the choice is reproducible across runs.
//
// # Hazard Vocabulary
//
// All property values of a matched record are joined into one upper-case blob
// and scanned for keywords:
//
//	medusas        MEDUSA
//	obras          OBRA
//	contaminacion  VERTIDO, FECAL, CONTAMINA, MICROALGA, E.COLI
//	derrumbes      DERRUMBE, DESPRENDI
//	cerrada        CERRADA, PROHIBIDO
//
// The flag color is the first of ROJA (red), AMARILLA (yellow), VERDE (green),
// NEGRA (black) found in the blob. None of them means gray (unknown), in which
// case [Score] estimates a flag from the wind.
//
// # Scoring
//
// [Score] starts at 10 and applies additive rules in a fixed order (wind,
// feels-like temperature, sky, visibility, official flag, hazard tags, flag
// estimate). Wind and temperature thresholds are cumulative: 45 km/h crosses
// all three wind thresholds for -13. A black flag or a "cerrada" tag closes
// the beach and forces the score to 0. The result is clamped to [0, 10] and
// rounded to one decimal.
package domain
