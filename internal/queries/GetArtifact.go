package queries

import (
	"context"
	"fmt"
	"time"

	"github.com/The127/ioc"
	"github.com/google/uuid"
	db "github.com/the127/upyard/internal/database"
	"github.com/the127/upyard/internal/middlewares"
	"github.com/the127/upyard/internal/repositories"
)

type GetArtifact struct {
	Id uuid.UUID
}

type GetArtifactResponse struct {
	Id          uuid.UUID
	Name        string
	Digest      string
	Size        int64
	Path        string
	Project     string
	Pipeline    string
	Uploader    string
	Items       []string
	CommittedAt time.Time
}

func HandleGetArtifact(ctx context.Context, query GetArtifact) (*GetArtifactResponse, error) {
	scope := middlewares.GetScope(ctx)
	dbContext := ioc.GetDependency[db.Context](scope)

	artifact, err := dbContext.Artifacts().Single(ctx, repositories.NewArtifactFilter().ById(query.Id))
	if err != nil {
		return nil, fmt.Errorf("getting artifact: %w", err)
	}

	return &GetArtifactResponse{
		Id:          artifact.GetId(),
		Name:        artifact.GetName(),
		Digest:      artifact.GetDigest(),
		Size:        artifact.GetSize(),
		Path:        artifact.GetPath(),
		Project:     artifact.GetProject(),
		Pipeline:    artifact.GetPipeline(),
		Uploader:    artifact.GetUploader(),
		Items:       artifact.GetItems(),
		CommittedAt: artifact.GetCreatedAt(),
	}, nil
}
