package inmemory

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/hashicorp/go-memdb"
	db "github.com/the127/upyard/internal/database"
	"github.com/the127/upyard/internal/repositories"
)

type database struct {
	memDB *memdb.MemDB
}

func NewInMemoryDatabase() (db.Database, error) {
	memDb, err := memdb.NewMemDB(schema)
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory database: %w", err)
	}

	return &database{
		memDB: memDb,
	}, nil
}

var schema = &memdb.DBSchema{
	Tables: map[string]*memdb.TableSchema{
		"artifacts": {
			Name: "artifacts",
			Indexes: map[string]*memdb.IndexSchema{
				"id": {
					Name:   "id",
					Unique: true,
					Indexer: &UUIDValueIndexer{
						Getter: func(obj any) uuid.UUID {
							artifact := obj.(repositories.Artifact)
							return artifact.GetId()
						},
					},
				},
			},
		},
	},
}

func (d *database) Migrate() error {
	return nil
}

func (d *database) NewContext(_ context.Context) (db.Context, error) {
	return newContext(d.memDB), nil
}

func (d *database) Close() error {
	return nil
}
