package inmemory

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/the127/upyard/internal/storageBackends"
)

type backend struct {
	artifacts   map[string][]byte
	staging     map[string][]byte
	artifactsMu *sync.RWMutex
	stagingMu   *sync.RWMutex
}

// New returns a backend that keeps every file in memory. Intended for tests
// and local development only.
func New() storageBackends.StorageBackend {
	return &backend{
		artifacts:   make(map[string][]byte),
		staging:     make(map[string][]byte),
		artifactsMu: &sync.RWMutex{},
		stagingMu:   &sync.RWMutex{},
	}
}

func (b *backend) CreateStaging(_ context.Context, id string, size int64) error {
	b.stagingMu.Lock()
	defer b.stagingMu.Unlock()

	_, exists := b.staging[id]
	if exists {
		return fmt.Errorf("staging file %s already exists", id)
	}

	b.staging[id] = make([]byte, size)
	return nil
}

func (b *backend) WriteChunk(_ context.Context, id string, offset int64, data []byte) error {
	b.stagingMu.Lock()
	defer b.stagingMu.Unlock()

	buffer, ok := b.staging[id]
	if !ok {
		return fmt.Errorf("%s: %w", id, storageBackends.ErrStagingNotFound)
	}

	if offset < 0 || offset+int64(len(data)) > int64(len(buffer)) {
		return fmt.Errorf("write of %d bytes at %d exceeds staging size %d", len(data), offset, len(buffer))
	}

	copy(buffer[offset:], data)
	return nil
}

func (b *backend) ReadChunk(_ context.Context, id string, offset int64, length int64) ([]byte, error) {
	b.stagingMu.RLock()
	defer b.stagingMu.RUnlock()

	buffer, ok := b.staging[id]
	if !ok {
		return nil, fmt.Errorf("%s: %w", id, storageBackends.ErrStagingNotFound)
	}

	if offset < 0 || offset+length > int64(len(buffer)) {
		return nil, fmt.Errorf("read of %d bytes at %d exceeds staging size %d", length, offset, len(buffer))
	}

	return bytes.Clone(buffer[offset : offset+length]), nil
}

func (b *backend) OpenStaging(_ context.Context, id string) (io.ReadCloser, error) {
	b.stagingMu.RLock()
	defer b.stagingMu.RUnlock()

	buffer, ok := b.staging[id]
	if !ok {
		return nil, fmt.Errorf("%s: %w", id, storageBackends.ErrStagingNotFound)
	}

	return io.NopCloser(bytes.NewReader(bytes.Clone(buffer))), nil
}

func (b *backend) CommitStaging(_ context.Context, id string, name string) (string, error) {
	b.stagingMu.Lock()
	buffer, ok := b.staging[id]
	delete(b.staging, id)
	b.stagingMu.Unlock()

	if !ok {
		return "", fmt.Errorf("%s: %w", id, storageBackends.ErrStagingNotFound)
	}

	b.artifactsMu.Lock()
	defer b.artifactsMu.Unlock()

	b.artifacts[name] = buffer
	return "memory://" + name, nil
}

func (b *backend) DiscardStaging(_ context.Context, id string) error {
	b.stagingMu.Lock()
	defer b.stagingMu.Unlock()

	delete(b.staging, id)
	return nil
}

func (b *backend) ListStaging(_ context.Context) ([]string, error) {
	b.stagingMu.RLock()
	defer b.stagingMu.RUnlock()

	ids := make([]string, 0, len(b.staging))
	for id := range b.staging {
		ids = append(ids, id)
	}

	return ids, nil
}
