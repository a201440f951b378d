package domain

import (
	"context"
	"io"
	"time"
)

// BlobWriter uploads objects to blob storage.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
}

// Archiver moves aged closed-position history out of the primary store into
// blob storage.
type Archiver interface {
	// ArchiveClosed archives every position closed strictly before the
	// cutoff, returning the number of positions archived.
	ArchiveClosed(ctx context.Context, before time.Time) (int64, error)
}
