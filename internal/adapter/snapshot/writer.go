// Package snapshot persists the scored beach list as a flat JSON file.
package snapshot

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/couchcryptid/beach-score-etl/internal/domain"
)

// Writer replaces the snapshot file atomically: consumers either see the
// previous complete file or the new one.
type Writer struct {
	path string
}

// NewWriter creates a Writer targeting path.
func NewWriter(path string) *Writer {
	return &Writer{path: path}
}

// WriteSnapshot encodes beaches as an indented JSON array and renames it into
// place. On error the existing file is untouched.
func (w *Writer) WriteSnapshot(ctx context.Context, beaches []domain.ScoredBeach) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := Encode(beaches)
	if err != nil {
		return err
	}

	dir := filepath.Dir(w.path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(w.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp snapshot: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op after a successful rename

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp snapshot: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync temp snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp snapshot: %w", err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		return fmt.Errorf("chmod temp snapshot: %w", err)
	}
	if err := os.Rename(tmpName, w.path); err != nil {
		return fmt.Errorf("rename snapshot: %w", err)
	}
	return nil
}

// Encode renders beaches the way they are written to disk: a two-space
// indented array with non-ASCII and HTML characters left unescaped.
func Encode(beaches []domain.ScoredBeach) ([]byte, error) {
	if beaches == nil {
		beaches = []domain.ScoredBeach{}
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(beaches); err != nil {
		return nil, fmt.Errorf("encode snapshot: %w", err)
	}
	return buf.Bytes(), nil
}
