// Package catalog loads the static beach registry from a JSON or YAML file.
package catalog

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/couchcryptid/beach-score-etl/internal/domain"
	"gopkg.in/yaml.v3"
)

// ErrEmptyCatalog is returned when the file parses but holds no entries.
var ErrEmptyCatalog = errors.New("catalog has no entries")

// File is a catalog read from disk on every call, so edits are picked up by
// the next run without a restart.
type File struct {
	Path string
}

// Beaches implements pipeline.Catalog.
func (f File) Beaches(_ context.Context) ([]domain.BeachRecord, error) {
	return Load(f.Path)
}

// Load reads the catalog at path. Files ending in .yaml or .yml are decoded as
// YAML, everything else as JSON.
func Load(path string) ([]domain.BeachRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}

	var format string
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		format = "yaml"
	default:
		format = "json"
	}

	beaches, err := Parse(data, format)
	if err != nil {
		return nil, fmt.Errorf("catalog %s: %w", path, err)
	}
	return beaches, nil
}

// Parse decodes catalog bytes in the given format ("json" or "yaml") and
// validates every entry.
func Parse(data []byte, format string) ([]domain.BeachRecord, error) {
	var beaches []domain.BeachRecord
	switch format {
	case "yaml":
		if err := yaml.Unmarshal(data, &beaches); err != nil {
			return nil, fmt.Errorf("decode yaml: %w", err)
		}
	case "json":
		dec := json.NewDecoder(bytes.NewReader(data))
		if err := dec.Decode(&beaches); err != nil {
			return nil, fmt.Errorf("decode json: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported catalog format %q", format)
	}

	if len(beaches) == 0 {
		return nil, ErrEmptyCatalog
	}
	for i, b := range beaches {
		if err := validate(b); err != nil {
			return nil, fmt.Errorf("entry %d: %w", i, err)
		}
	}
	return beaches, nil
}

func validate(b domain.BeachRecord) error {
	if strings.TrimSpace(b.Name) == "" {
		return errors.New("nombre is required")
	}
	if b.Lat < -90 || b.Lat > 90 {
		return fmt.Errorf("%s: lat %v out of range", b.Name, b.Lat)
	}
	if b.Lon < -180 || b.Lon > 180 {
		return fmt.Errorf("%s: lon %v out of range", b.Name, b.Lon)
	}
	return nil
}
