package setup

import (
	"fmt"

	"github.com/The127/ioc"
	"github.com/the127/upyard/internal/codec"
	"github.com/the127/upyard/internal/config"
	"github.com/the127/upyard/internal/database"
	"github.com/the127/upyard/internal/finalizer"
	"github.com/the127/upyard/internal/registry"
	"github.com/the127/upyard/internal/services/clock"
	"github.com/the127/upyard/internal/services/events"
	"github.com/the127/upyard/internal/storage/allocator"
	"github.com/the127/upyard/internal/storageBackends"
)

func Registry(dc *ioc.DependencyCollection, c config.UploadConfig) {
	digestAlgorithm, err := codec.ParseAlgorithm(c.DigestAlgorithm)
	if err != nil {
		panic(fmt.Errorf("invalid digest algorithm: %w", err))
	}

	ioc.RegisterSingleton(dc, func(dp *ioc.DependencyProvider) *registry.Registry {
		return registry.New(registry.Options{
			Allocator:        ioc.GetDependency[allocator.Allocator](dp),
			Backend:          ioc.GetDependency[storageBackends.StorageBackend](dp),
			Clock:            ioc.GetDependency[clock.Service](dp),
			Publisher:        ioc.GetDependency[events.Publisher](dp),
			DigestAlgorithm:  digestAlgorithm,
			DefaultChunkSize: c.DefaultChunkSizeBytes,
			MinChunkSize:     c.MinChunkSizeBytes,
			MaxChunkSize:     c.MaxChunkSizeBytes,
			IdleTimeout:      c.SessionIdleTimeout,
			GracePeriod:      c.TerminalGracePeriod,
		})
	})

	ioc.RegisterSingleton(dc, func(dp *ioc.DependencyProvider) *finalizer.Finalizer {
		return finalizer.New(
			ioc.GetDependency[storageBackends.StorageBackend](dp),
			ioc.GetDependency[database.Factory](dp),
			ioc.GetDependency[clock.Service](dp),
		)
	})
}
