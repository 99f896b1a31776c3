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

type ListArtifacts struct {
	Project  string
	Pipeline string
	Digest   string
	Offset   int
	Limit    int
}

type ListArtifactsResponse PagedResponse[ListArtifactsResponseItem]

type ListArtifactsResponseItem struct {
	Id          uuid.UUID
	Name        string
	Digest      string
	Size        int64
	Project     string
	Pipeline    string
	Uploader    string
	Items       []string
	CommittedAt time.Time
}

func HandleListArtifacts(ctx context.Context, query ListArtifacts) (*ListArtifactsResponse, error) {
	scope := middlewares.GetScope(ctx)
	dbContext := ioc.GetDependency[db.Context](scope)

	filter := repositories.NewArtifactFilter()
	if query.Project != "" {
		filter = filter.ByProject(query.Project)
	}
	if query.Pipeline != "" {
		filter = filter.ByPipeline(query.Pipeline)
	}
	if query.Digest != "" {
		filter = filter.ByDigest(query.Digest)
	}
	if query.Limit > 0 {
		filter = filter.WithPaging(query.Offset, query.Limit)
	}

	artifacts, total, err := dbContext.Artifacts().List(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("listing artifacts: %w", err)
	}

	items := make([]ListArtifactsResponseItem, len(artifacts))
	for i, artifact := range artifacts {
		items[i] = ListArtifactsResponseItem{
			Id:          artifact.GetId(),
			Name:        artifact.GetName(),
			Digest:      artifact.GetDigest(),
			Size:        artifact.GetSize(),
			Project:     artifact.GetProject(),
			Pipeline:    artifact.GetPipeline(),
			Uploader:    artifact.GetUploader(),
			Items:       artifact.GetItems(),
			CommittedAt: artifact.GetCreatedAt(),
		}
	}

	return &ListArtifactsResponse{
		Items:      items,
		TotalCount: total,
	}, nil
}
