package storage

import (
	"context"
	"io"
)

// BlobStore keeps downloaded module files and offline attachments.
type BlobStore interface {
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
}
