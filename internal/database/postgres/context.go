package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/the127/upyard/internal/change"
	db "github.com/the127/upyard/internal/database"
	"github.com/the127/upyard/internal/repositories"
	"github.com/the127/upyard/internal/repositories/postgres"
	"github.com/the127/upyard/internal/utils"
)

type Context struct {
	db            *sql.DB
	changeTracker *change.Tracker

	artifacts *postgres.ArtifactRepository
}

func newContext(db *sql.DB) *Context {
	return &Context{
		db:            db,
		changeTracker: change.NewTracker(),
	}
}

func (c *Context) Artifacts() repositories.ArtifactRepository {
	if c.artifacts == nil {
		c.artifacts = postgres.NewPostgresArtifactRepository(c.db, c.changeTracker, db.ArtifactType)
	}

	return c.artifacts
}

func (c *Context) SaveChanges(ctx context.Context) error {
	tx, err := c.db.BeginTx(ctx, &sql.TxOptions{
		Isolation: 0,
		ReadOnly:  false,
	})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer utils.IgnoreError(tx.Rollback)

	changes := c.changeTracker.GetChanges()
	for _, changeEntry := range changes {
		err := c.applyChange(ctx, tx, changeEntry)
		if err != nil {
			return fmt.Errorf("failed to apply change: %w", err)
		}
	}

	err = tx.Commit()
	if err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	c.changeTracker.Clear()
	return nil
}

func (c *Context) applyChange(ctx context.Context, tx *sql.Tx, entry *change.Entry) error {
	switch entry.GetItemType() {
	case db.ArtifactType:
		return c.applyArtifactChange(ctx, tx, entry)

	default:
		return fmt.Errorf("unsupported item type: %d", entry.GetItemType())
	}
}

func (c *Context) applyArtifactChange(ctx context.Context, tx *sql.Tx, entry *change.Entry) error {
	switch entry.GetChangeType() {
	case change.Added:
		return c.artifacts.ExecuteInsert(ctx, tx, entry.GetItem().(*repositories.Artifact))

	default:
		return fmt.Errorf("unsupported change type: %s", entry.GetChangeType())
	}
}
