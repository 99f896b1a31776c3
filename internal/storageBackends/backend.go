package storageBackends

import (
	"context"
	"errors"
	"io"
)

var ErrStagingNotFound = errors.New("staging file not found")

// StorageBackend holds staging files for in-flight sessions and the committed
// artifacts they become. Staging files are addressed by session id.
type StorageBackend interface {
	// CreateStaging creates an empty staging file of exactly size bytes.
	CreateStaging(ctx context.Context, id string, size int64) error
	WriteChunk(ctx context.Context, id string, offset int64, data []byte) error
	ReadChunk(ctx context.Context, id string, offset int64, length int64) ([]byte, error)
	OpenStaging(ctx context.Context, id string) (io.ReadCloser, error)
	// CommitStaging durably moves the staging file into the final location and
	// returns where it ended up.
	CommitStaging(ctx context.Context, id string, name string) (string, error)
	DiscardStaging(ctx context.Context, id string) error
	ListStaging(ctx context.Context) ([]string, error)
}
