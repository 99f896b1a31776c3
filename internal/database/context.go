package database

import (
	"context"

	"github.com/the127/upyard/internal/repositories"
)

const (
	ArtifactType int = iota
)

// Context collects changes made through its repositories until SaveChanges
// applies them atomically.
type Context interface {
	Artifacts() repositories.ArtifactRepository

	SaveChanges(ctx context.Context) error
}
