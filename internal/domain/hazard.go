package domain

import (
	"sort"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// FlagColor is the official beach flag classification.
type FlagColor string

const (
	FlagGreen  FlagColor = "green"
	FlagYellow FlagColor = "yellow"
	FlagRed    FlagColor = "red"
	FlagBlack  FlagColor = "black"
	FlagGray   FlagColor = "gray" // unknown
)

// HazardTag is a detected risk category, independent of the flag color.
type HazardTag string

const (
	HazardJellyfish HazardTag = "medusas"
	HazardWorks     HazardTag = "obras"
	HazardPollution HazardTag = "contaminacion"
	HazardRockfall  HazardTag = "derrumbes"
	HazardClosed    HazardTag = "cerrada"
)

// hazardKeywords is evaluated in order; keywords are matched against the
// upper-cased record text.
var hazardKeywords = []struct {
	tag      HazardTag
	keywords []string
}{
	{HazardJellyfish, []string{"MEDUSA"}},
	{HazardWorks, []string{"OBRA"}},
	{HazardPollution, []string{"VERTIDO", "FECAL", "CONTAMINA", "MICROALGA", "E.COLI"}},
	{HazardRockfall, []string{"DERRUMBE", "DESPRENDI"}},
	{HazardClosed, []string{"CERRADA", "PROHIBIDO"}},
}

// flagKeywords is in priority order: the first keyword present decides.
var flagKeywords = []struct {
	keyword string
	flag    FlagColor
}{
	{"ROJA", FlagRed},
	{"AMARILLA", FlagYellow},
	{"VERDE", FlagGreen},
	{"NEGRA", FlagBlack},
}

// HazardClassification is what the official feed says about one beach.
type HazardClassification struct {
	Flag    FlagColor
	Tags    map[HazardTag]struct{}
	Matched bool   // an official record matched the beach
	Source  string // name of the matched record
}

// Unclassified is the classification of a beach with no official record.
func Unclassified() HazardClassification {
	return HazardClassification{Flag: FlagGray}
}

// Has reports whether the tag was detected.
func (c HazardClassification) Has(tag HazardTag) bool {
	_, ok := c.Tags[tag]
	return ok
}

// SortedTags returns the detected tags in lexical order.
func (c HazardClassification) SortedTags() []HazardTag {
	if len(c.Tags) == 0 {
		return nil
	}
	tags := make([]HazardTag, 0, len(c.Tags))
	for t := range c.Tags {
		tags = append(tags, t)
	}
	sort.Slice(tags, func(i, j int) bool { return tags[i] < tags[j] })
	return tags
}

// NormalizeName lower-cases and trims s and folds diacritics, so "Médano" and
// "Medano" compare equal.
func NormalizeName(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return folded
}

// MatchHazard returns the first record whose normalized name contains, or is
// contained in, the normalized beach name.
func MatchHazard(beachName string, records []HazardRecord) (HazardRecord, bool) {
	key := NormalizeName(beachName)
	if key == "" {
		return HazardRecord{}, false
	}
	for _, rec := range records {
		if rec.Key == "" {
			continue
		}
		if strings.Contains(key, rec.Key) || strings.Contains(rec.Key, key) {
			return rec, true
		}
	}
	return HazardRecord{}, false
}

// ClassifyHazards derives the flag color and hazard tags from every property
// value of a matched record.
func ClassifyHazards(rec HazardRecord) HazardClassification {
	blob := recordText(rec)

	c := HazardClassification{
		Flag:    FlagGray,
		Tags:    make(map[HazardTag]struct{}),
		Matched: true,
		Source:  rec.Name,
	}
	for _, hk := range hazardKeywords {
		for _, kw := range hk.keywords {
			if strings.Contains(blob, kw) {
				c.Tags[hk.tag] = struct{}{}
				break
			}
		}
	}
	for _, fk := range flagKeywords {
		if strings.Contains(blob, fk.keyword) {
			c.Flag = fk.flag
			break
		}
	}
	return c
}

// Classify matches the beach against the feed and classifies the match.
func Classify(beachName string, records []HazardRecord) HazardClassification {
	rec, ok := MatchHazard(beachName, records)
	if !ok {
		return Unclassified()
	}
	return ClassifyHazards(rec)
}

// recordText joins property values in key order so the blob is deterministic.
func recordText(rec HazardRecord) string {
	keys := make([]string, 0, len(rec.Properties))
	for k := range rec.Properties {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	values := make([]string, 0, len(keys))
	for _, k := range keys {
		values = append(values, rec.Properties[k])
	}
	return strings.ToUpper(strings.Join(values, " | "))
}
