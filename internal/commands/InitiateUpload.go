package commands

import (
	"context"
	"fmt"

	"github.com/The127/ioc"
	"github.com/the127/upyard/internal/codec"
	"github.com/the127/upyard/internal/middlewares"
	"github.com/the127/upyard/internal/registry"
	"github.com/the127/upyard/internal/session"
	"github.com/the127/upyard/internal/utils/apiError"
)

type InitiateUpload struct {
	DeclaredSize   int64
	DeclaredDigest string
	ChunkSizeHint  int64

	Name     string
	Project  string
	Pipeline string
	Uploader string
	Items    []string
}

type InitiateUploadResponse struct {
	SessionId           string
	NegotiatedChunkSize int64
	DigestAlgorithm     codec.Algorithm
}

func HandleInitiateUpload(ctx context.Context, command InitiateUpload) (*InitiateUploadResponse, error) {
	scope := middlewares.GetScope(ctx)
	sessionRegistry := ioc.GetDependency[*registry.Registry](scope)

	declaredDigest, err := codec.ParseDigest(command.DeclaredDigest)
	if err != nil {
		return nil, fmt.Errorf("declared digest: %s: %w", err.Error(), apiError.ErrApiBadRequest)
	}

	created, err := sessionRegistry.Create(ctx, registry.CreateRequest{
		DeclaredSize:   command.DeclaredSize,
		DeclaredDigest: declaredDigest,
		ChunkSizeHint:  command.ChunkSizeHint,
		Metadata: session.Metadata{
			Name:     command.Name,
			Project:  command.Project,
			Pipeline: command.Pipeline,
			Uploader: command.Uploader,
			Items:    command.Items,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("creating session: %w", err)
	}

	return &InitiateUploadResponse{
		SessionId:           created.Id(),
		NegotiatedChunkSize: created.ChunkSize(),
		DigestAlgorithm:     sessionRegistry.DigestAlgorithm(),
	}, nil
}
