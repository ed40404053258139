// Package hazardfeed fetches the official beach advisory dataset in one bulk
// request per run and normalizes its records for matching.
package hazardfeed

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/couchcryptid/beach-score-etl/internal/domain"
	"github.com/hashicorp/go-retryablehttp"
)

// maxBodyBytes bounds the feed download.
const maxBodyBytes = 32 << 20

// nameKeys are the property names that have carried the beach name across
// feed revisions, in preference order. Compared case-insensitively.
var nameKeys = []string{"nombre", "nombre_playa", "playa", "name", "denominacion", "beach"}

// wrapperKeys hold the record array when the feed wraps it in an object.
var wrapperKeys = []string{"features", "data", "records", "items", "results"}

// ErrUnexpectedShape is returned when the payload holds no recognizable record list.
var ErrUnexpectedShape = errors.New("unexpected hazard feed shape")

// Client implements domain.HazardFeed over HTTP.
type Client struct {
	url    string
	apiKey string
	http   *http.Client
	logger *slog.Logger
}

// Disabled is the feed used when no URL is configured. It yields no records,
// so every beach falls back to weather-based estimation.
type Disabled struct{}

// FetchHazards implements domain.HazardFeed.
func (Disabled) FetchHazards(context.Context) ([]domain.HazardRecord, error) {
	return nil, nil
}

// NewClient creates a feed client. Transport errors and 5xx responses are
// retried up to retryMax times.
func NewClient(url, apiKey string, timeout time.Duration, retryMax int, logger *slog.Logger) *Client {
	rc := retryablehttp.NewClient()
	rc.Logger = nil
	rc.RetryMax = retryMax
	rc.RetryWaitMin = 500 * time.Millisecond
	rc.RetryWaitMax = 5 * time.Second
	httpClient := rc.StandardClient()
	httpClient.Timeout = timeout

	return &Client{url: url, apiKey: apiKey, http: httpClient, logger: logger}
}

// FetchHazards downloads and normalizes the feed. On any failure it returns no
// records and an error. Records are sorted by normalized name.
func (c *Client) FetchHazards(ctx context.Context) ([]domain.HazardRecord, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("api_key", c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("hazard feed request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("hazard feed error: status %d: %s", resp.StatusCode, body)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("read hazard feed: %w", err)
	}

	records, err := Parse(data)
	if err != nil {
		return nil, err
	}
	c.logger.Info("hazard feed fetched", "records", len(records))
	return records, nil
}

// Parse decodes a feed payload: a GeoJSON FeatureCollection, a bare array of
// objects, or an object wrapping the array. Records without a resolvable name
// are dropped.
func Parse(data []byte) ([]domain.HazardRecord, error) {
	objects, err := recordObjects(data)
	if err != nil {
		return nil, err
	}

	records := make([]domain.HazardRecord, 0, len(objects))
	for _, obj := range objects {
		props := flatten(obj)
		name := resolveName(props)
		if name == "" {
			continue
		}
		records = append(records, domain.HazardRecord{
			Name:       name,
			Key:        domain.NormalizeName(name),
			Properties: props,
		})
	}

	sort.SliceStable(records, func(i, j int) bool { return records[i].Key < records[j].Key })
	return records, nil
}

func recordObjects(data []byte) ([]map[string]json.RawMessage, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, fmt.Errorf("decode hazard feed: %w", ErrUnexpectedShape)
	}

	if data[0] == '[' {
		var list []json.RawMessage
		if err := json.Unmarshal(data, &list); err != nil {
			return nil, fmt.Errorf("decode hazard feed: %w", err)
		}
		return objectsOf(list), nil
	}

	var wrapper map[string]json.RawMessage
	if err := json.Unmarshal(data, &wrapper); err != nil {
		return nil, fmt.Errorf("decode hazard feed: %w", err)
	}
	for _, key := range wrapperKeys {
		raw, ok := lookup(wrapper, key)
		if !ok {
			continue
		}
		var list []json.RawMessage
		if err := json.Unmarshal(raw, &list); err != nil {
			return nil, fmt.Errorf("decode hazard feed %q: %w", key, err)
		}
		return objectsOf(list), nil
	}
	return nil, fmt.Errorf("decode hazard feed: %w", ErrUnexpectedShape)
}

// objectsOf keeps the elements that decode as JSON objects. Anything else in
// the array (strings, numbers, null) is skipped on its own.
func objectsOf(list []json.RawMessage) []map[string]json.RawMessage {
	objects := make([]map[string]json.RawMessage, 0, len(list))
	for _, raw := range list {
		var obj map[string]json.RawMessage
		if err := json.Unmarshal(raw, &obj); err != nil || obj == nil {
			continue
		}
		objects = append(objects, obj)
	}
	return objects
}

// flatten stringifies every property. GeoJSON features contribute their
// "properties" object; other members such as geometry are ignored.
func flatten(obj map[string]json.RawMessage) map[string]string {
	if raw, ok := obj["properties"]; ok {
		var props map[string]json.RawMessage
		if err := json.Unmarshal(raw, &props); err == nil {
			obj = props
		}
	}

	out := make(map[string]string, len(obj))
	for k, v := range obj {
		out[k] = stringify(v)
	}
	return out
}

func stringify(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			return s
		}
	}
	if f, err := strconv.ParseFloat(string(raw), 64); err == nil {
		return strconv.FormatFloat(f, 'f', -1, 64)
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err == nil {
		return buf.String()
	}
	return string(raw)
}

func resolveName(props map[string]string) string {
	for _, key := range nameKeys {
		for _, k := range foldedKeys(props, key) {
			if name := strings.TrimSpace(props[k]); name != "" {
				return name
			}
		}
	}
	return ""
}

func lookup(m map[string]json.RawMessage, key string) (json.RawMessage, bool) {
	keys := foldedKeys(m, key)
	if len(keys) == 0 {
		return nil, false
	}
	return m[keys[0]], true
}

// foldedKeys returns the map keys equal to key under case folding: the exact
// spelling first, then the other variants in sorted order.
func foldedKeys[V any](m map[string]V, key string) []string {
	var keys []string
	for k := range m {
		if k != key && strings.EqualFold(k, key) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	if _, ok := m[key]; ok {
		keys = append([]string{key}, keys...)
	}
	return keys
}
