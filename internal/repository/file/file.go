// Package file stores each document as a human-readable JSON file in a
// data directory (lists.json, users.json).
//
// Writes go through atomicwriter: the content is synced to a temporary file
// in the same directory and renamed over the target, so a crash mid-write
// never leaves a truncated document and readers see the old or new content.
package file

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/moby/sys/atomicwriter"

	"github.com/sakif/shared-lists/internal/repository"
)

var _ repository.DocumentRepository = (*Dir)(nil)

// Dir is a directory of JSON documents.
type Dir struct {
	path string
}

// New ensures the directory exists.
func New(dir string) (*Dir, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("file: creating data directory: %w", err)
	}
	return &Dir{path: dir}, nil
}

// Path returns the file backing the named document.
func (d *Dir) Path(doc string) string {
	return filepath.Join(d.path, doc+".json")
}

func (d *Dir) Read(_ context.Context, doc string) ([]byte, error) {
	b, err := os.ReadFile(d.Path(doc))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, repository.ErrNotExist
		}
		return nil, fmt.Errorf("file: reading %s: %w", doc, err)
	}
	return b, nil
}

func (d *Dir) Write(ctx context.Context, doc string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("file: writing %s: %w", doc, err)
	}
	if err := atomicwriter.WriteFile(d.Path(doc), data, 0o644); err != nil {
		return fmt.Errorf("file: writing %s: %w", doc, err)
	}
	return nil
}

func (d *Dir) Close() error { return nil }
