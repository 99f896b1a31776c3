package inmemory

import (
	"context"
	"fmt"

	"github.com/hashicorp/go-memdb"
	"github.com/the127/upyard/internal/change"
	db "github.com/the127/upyard/internal/database"
	"github.com/the127/upyard/internal/repositories"
	"github.com/the127/upyard/internal/repositories/inmemory"
)

type Context struct {
	db            *memdb.MemDB
	txn           *memdb.Txn
	changeTracker *change.Tracker

	artifacts *inmemory.ArtifactRepository
}

func newContext(db *memdb.MemDB) *Context {
	return &Context{
		db:            db,
		txn:           db.Txn(false),
		changeTracker: change.NewTracker(),
	}
}

func (c *Context) Artifacts() repositories.ArtifactRepository {
	if c.artifacts == nil {
		c.artifacts = inmemory.NewInMemoryArtifactRepository(c.txn, c.changeTracker, db.ArtifactType)
	}
	return c.artifacts
}

func (c *Context) SaveChanges(_ context.Context) error {
	tx := c.db.Txn(true)
	defer tx.Abort()

	changes := c.changeTracker.GetChanges()
	for _, changeEntry := range changes {
		err := c.applyChange(tx, changeEntry)
		if err != nil {
			return fmt.Errorf("failed to apply change: %w", err)
		}
	}

	tx.Commit()
	c.changeTracker.Clear()
	c.txn = c.db.Txn(false)
	c.artifacts = nil
	return nil
}

func (c *Context) applyChange(tx *memdb.Txn, entry *change.Entry) error {
	switch entry.GetItemType() {
	case db.ArtifactType:
		return c.applyArtifactChange(tx, entry)

	default:
		return fmt.Errorf("unsupported item type: %d", entry.GetItemType())
	}
}

func (c *Context) applyArtifactChange(tx *memdb.Txn, entry *change.Entry) error {
	switch entry.GetChangeType() {
	case change.Added:
		return c.Artifacts().(*inmemory.ArtifactRepository).ExecuteInsert(tx, entry.GetItem().(*repositories.Artifact))

	default:
		return fmt.Errorf("unsupported change type: %s", entry.GetChangeType())
	}
}
