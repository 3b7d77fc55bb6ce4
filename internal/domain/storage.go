package domain

import (
	"context"
	"io"
)

// ArtifactStore is a name-addressed blob store for backup artifacts.
// Put consumes r fully and returns the number of bytes stored.
type ArtifactStore interface {
	Put(ctx context.Context, name string, r io.Reader) (int64, error)
	Open(ctx context.Context, name string) (io.ReadCloser, error)
	Delete(ctx context.Context, name string) error
}
