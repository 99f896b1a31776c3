package setup

import (
	"fmt"

	"github.com/The127/ioc"
	"github.com/the127/upyard/internal/config"
	"github.com/the127/upyard/internal/storage/allocator"
	"github.com/the127/upyard/internal/storageBackends"
	"github.com/the127/upyard/internal/storageBackends/directory"
	"github.com/the127/upyard/internal/storageBackends/inmemory"
)

func Storage(dc *ioc.DependencyCollection, c config.StorageConfig) {
	ioc.RegisterSingleton(dc, func(_ *ioc.DependencyProvider) allocator.Allocator {
		return allocator.New(c.CapacityCeilingBytes)
	})

	ioc.RegisterSingleton(dc, func(_ *ioc.DependencyProvider) storageBackends.StorageBackend {
		switch c.Mode {
		case config.StorageModeInMemory:
			return inmemory.New()

		case config.StorageModeDirectory:
			backend, err := directory.New(directory.Options{
				StagingDir:  c.StagingDir,
				FinalDir:    c.FinalDir,
				Preallocate: c.Preallocate,
			})
			if err != nil {
				panic(fmt.Errorf("failed to create directory storage backend: %w", err))
			}
			return backend

		default:
			panic(fmt.Errorf("unsupported storage mode: %s", c.Mode))
		}
	})
}
