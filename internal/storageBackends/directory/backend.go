package directory

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/the127/upyard/internal/logging"
	"github.com/the127/upyard/internal/storageBackends"
	"github.com/the127/upyard/internal/utils"
	"github.com/the127/upyard/internal/utils/apiError"
)

const stagingSuffix = ".part"

type Options struct {
	StagingDir  string
	FinalDir    string
	Preallocate bool
}

type backend struct {
	stagingDir  string
	finalDir    string
	preallocate bool
}

// New prepares both directories. They must be on the same filesystem so that
// committing is a rename.
func New(options Options) (storageBackends.StorageBackend, error) {
	err := os.MkdirAll(options.StagingDir, 0o750)
	if err != nil {
		return nil, fmt.Errorf("ensuring staging path exists: %w", err)
	}

	err = os.MkdirAll(options.FinalDir, 0o750)
	if err != nil {
		return nil, fmt.Errorf("ensuring final path exists: %w", err)
	}

	return &backend{
		stagingDir:  options.StagingDir,
		finalDir:    options.FinalDir,
		preallocate: options.Preallocate,
	}, nil
}

func (b *backend) stagingPath(id string) (string, error) {
	if id == "" || strings.ContainsAny(id, `/\`) || id == "." || id == ".." {
		return "", fmt.Errorf("invalid staging id %q", id)
	}

	return filepath.Join(b.stagingDir, id+stagingSuffix), nil
}

func (b *backend) CreateStaging(_ context.Context, id string, size int64) error {
	filePath, err := b.stagingPath(id)
	if err != nil {
		return err
	}

	file, err := os.OpenFile(filePath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o640)
	if err != nil {
		return fmt.Errorf("creating staging file: %w", err)
	}

	if b.preallocate {
		err = preallocate(file, size)
	} else {
		err = file.Truncate(size)
	}

	closeErr := file.Close()
	if err == nil {
		err = closeErr
	}

	if err != nil {
		utils.LogOnError(func() error { return os.Remove(filePath) }, "removing staging file after failed create")

		if errors.Is(err, syscall.ENOSPC) {
			return fmt.Errorf("allocating %d bytes for staging file: %w", size, apiError.ErrApiInsufficientSpace)
		}

		return fmt.Errorf("allocating staging file: %w", err)
	}

	return nil
}

func (b *backend) openStaging(id string, flag int) (*os.File, error) {
	filePath, err := b.stagingPath(id)
	if err != nil {
		return nil, err
	}

	file, err := os.OpenFile(filePath, flag, 0)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%s: %w", id, storageBackends.ErrStagingNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("opening staging file: %w", err)
	}

	return file, nil
}

func (b *backend) WriteChunk(_ context.Context, id string, offset int64, data []byte) error {
	file, err := b.openStaging(id, os.O_WRONLY)
	if err != nil {
		return err
	}

	_, err = file.WriteAt(data, offset)
	if err != nil {
		utils.IgnoreError(file.Close)
		return fmt.Errorf("writing chunk at %d to staging file: %w", offset, err)
	}

	err = file.Close()
	if err != nil {
		return fmt.Errorf("closing staging file: %w", err)
	}

	return nil
}

func (b *backend) ReadChunk(_ context.Context, id string, offset int64, length int64) ([]byte, error) {
	file, err := b.openStaging(id, os.O_RDONLY)
	if err != nil {
		return nil, err
	}

	defer utils.IgnoreError(file.Close)

	data := make([]byte, length)
	_, err = file.ReadAt(data, offset)
	if err != nil {
		return nil, fmt.Errorf("reading %d bytes at %d from staging file: %w", length, offset, err)
	}

	return data, nil
}

func (b *backend) OpenStaging(_ context.Context, id string) (io.ReadCloser, error) {
	return b.openStaging(id, os.O_RDONLY)
}

func (b *backend) CommitStaging(_ context.Context, id string, name string) (string, error) {
	file, err := b.openStaging(id, os.O_RDWR)
	if err != nil {
		return "", err
	}

	err = file.Sync()
	if err != nil {
		utils.IgnoreError(file.Close)
		return "", fmt.Errorf("syncing staging file: %w", err)
	}

	err = file.Close()
	if err != nil {
		return "", fmt.Errorf("closing staging file: %w", err)
	}

	if name == "" || strings.ContainsAny(name, `/\`) {
		return "", fmt.Errorf("invalid artifact name %q", name)
	}

	finalPath := filepath.Join(b.finalDir, name)
	_, err = os.Stat(finalPath)
	if err == nil {
		return "", fmt.Errorf("artifact %s already exists", name)
	}

	err = os.Rename(file.Name(), finalPath)
	if err != nil {
		return "", fmt.Errorf("renaming staging file: %w", err)
	}

	syncDir(b.finalDir)

	return finalPath, nil
}

func syncDir(path string) {
	dir, err := os.Open(path)
	if err != nil {
		logging.Logger.Warnf("opening %s for sync: %v", path, err)
		return
	}

	defer utils.IgnoreError(dir.Close)

	err = dir.Sync()
	if err != nil {
		logging.Logger.Warnf("syncing %s: %v", path, err)
	}
}

func (b *backend) DiscardStaging(_ context.Context, id string) error {
	filePath, err := b.stagingPath(id)
	if err != nil {
		return err
	}

	err = os.Remove(filePath)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("removing staging file: %w", err)
	}

	return nil
}

// ListStaging returns the ids of all staging files present on disk.
func (b *backend) ListStaging(_ context.Context) ([]string, error) {
	entries, err := os.ReadDir(b.stagingDir)
	if err != nil {
		return nil, fmt.Errorf("listing staging dir: %w", err)
	}

	ids := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		name := entry.Name()
		if !strings.HasSuffix(name, stagingSuffix) {
			continue
		}

		ids = append(ids, strings.TrimSuffix(name, stagingSuffix))
	}

	return ids, nil
}
