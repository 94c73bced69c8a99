package domain

import (
	"context"
	"io"
)

// BlobWriter uploads data to object storage.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
}

// BlobReader fetches objects from storage. Get returns ErrNotFound for a
// missing path; the caller closes the body.
type BlobReader interface {
	Get(ctx context.Context, path string) (io.ReadCloser, error)
}
