package setup

import (
	"context"
	"fmt"

	"github.com/The127/ioc"
	"github.com/the127/upyard/internal/config"
	"github.com/the127/upyard/internal/database"
	"github.com/the127/upyard/internal/database/inmemory"
	"github.com/the127/upyard/internal/database/postgres"
)

func Database(dc *ioc.DependencyCollection, c config.CatalogConfig) database.Database {
	db := connectToDatabase(c)

	ioc.RegisterSingleton(dc, func(_ *ioc.DependencyProvider) database.Factory {
		return database.NewDbFactory(db)
	})

	ioc.RegisterScoped(dc, func(dp *ioc.DependencyProvider) database.Context {
		dbContext, err := ioc.GetDependency[database.Factory](dp).NewDbContext(context.Background())
		if err != nil {
			panic(fmt.Errorf("failed to create db context: %w", err))
		}

		return dbContext
	})

	return db
}

func connectToDatabase(c config.CatalogConfig) database.Database {
	var db database.Database
	var err error

	switch c.Mode {
	case config.CatalogModeInMemory:
		db, err = inmemory.NewInMemoryDatabase()

	case config.CatalogModePostgres:
		db, err = postgres.NewPostgresDatabase(c)

	default:
		panic(fmt.Errorf("unsupported catalog mode: %s", c.Mode))
	}

	if err != nil {
		panic(fmt.Errorf("failed to connect to catalog database: %w", err))
	}

	return db
}
