// Package repository defines how whole documents are persisted.
//
// The store keeps two independent JSON documents (lists and users) and
// always replaces a document as a unit. A DocumentRepository therefore only
// needs to read and atomically overwrite named blobs; implementations live
// in repository/file (one JSON file per document) and repository/sqlite
// (one row per document).
package repository

import (
	"context"
	"errors"
)

// Document names.
const (
	DocLists = "lists"
	DocUsers = "users"
)

// ErrNotExist is returned by Read when a document was never written.
// The store treats it as an empty collection, not as a failure.
var ErrNotExist = errors.New("repository: document does not exist")

type DocumentRepository interface {
	// Read returns the current content of the named document.
	Read(ctx context.Context, doc string) ([]byte, error)

	// Write atomically replaces the named document. Readers observe either
	// the old or the new content, never a mix.
	Write(ctx context.Context, doc string, data []byte) error

	// Close releases any resources held by the repository.
	Close() error
}
