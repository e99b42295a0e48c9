// Package blobstore defines the content-addressed raw-bytes store that
// backs Document uploads (§3). Documents reference their bytes by content
// address rather than by storage path, so the same bytes uploaded twice
// collapse to one blob.
package blobstore

import (
	"context"
	"io"
)

// ObjectInfo describes a stored object.
type ObjectInfo struct {
	ContentAddress string
	SizeBytes      int64
	MimeType       string
}

// Store is the content-addressed blob backend used by the ingestion
// pipeline to persist raw document bytes ahead of parsing.
type Store interface {
	// Put writes the object and returns its content address (a stable
	// hash of the bytes). Writing the same bytes twice returns the same
	// address without re-uploading.
	Put(ctx context.Context, mimeType string, r io.Reader, sizeHint int64) (ObjectInfo, error)

	// Get opens the object for reading by content address.
	Get(ctx context.Context, contentAddress string) (io.ReadCloser, error)

	// Delete removes the object. Deleting a non-existent address is not
	// an error, to keep document deletion idempotent.
	Delete(ctx context.Context, contentAddress string) error

	// Exists reports whether an object with the given address is stored.
	Exists(ctx context.Context, contentAddress string) (bool, error)
}
