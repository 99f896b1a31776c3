package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/The127/ioc"
	"github.com/google/uuid"
	"github.com/the127/upyard/internal/codec"
	"github.com/the127/upyard/internal/finalizer"
	"github.com/the127/upyard/internal/middlewares"
	"github.com/the127/upyard/internal/registry"
	"github.com/the127/upyard/internal/utils/apiError"
)

type FinalizeUpload struct {
	SessionId string

	// DeclaredDigest may repeat the digest given at initiation. It cannot
	// change it.
	DeclaredDigest string
}

type FinalizeUploadResponse struct {
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

func HandleFinalizeUpload(ctx context.Context, command FinalizeUpload) (*FinalizeUploadResponse, error) {
	scope := middlewares.GetScope(ctx)
	sessionRegistry := ioc.GetDependency[*registry.Registry](scope)
	uploadFinalizer := ioc.GetDependency[*finalizer.Finalizer](scope)

	s, err := sessionRegistry.Get(command.SessionId)
	if err != nil {
		return nil, err
	}

	if command.DeclaredDigest != "" {
		repeated, err := codec.ParseDigest(command.DeclaredDigest)
		if err != nil {
			return nil, fmt.Errorf("declared digest: %s: %w", err.Error(), apiError.ErrApiBadRequest)
		}

		if !repeated.Equal(s.DeclaredDigest()) {
			return nil, fmt.Errorf("declared digest %s differs from %s given at initiation: %w", repeated, s.DeclaredDigest(), apiError.ErrApiBadRequest)
		}
	}

	artifact, err := uploadFinalizer.Finalize(ctx, s)
	if err != nil {
		return nil, fmt.Errorf("finalizing session: %w", err)
	}

	return &FinalizeUploadResponse{
		Id:          artifact.GetId(),
		Name:        artifact.GetName(),
		Digest:      artifact.GetDigest(),
		Size:        artifact.GetSize(),
		Project:     artifact.GetProject(),
		Pipeline:    artifact.GetPipeline(),
		Uploader:    artifact.GetUploader(),
		Items:       artifact.GetItems(),
		CommittedAt: artifact.GetCreatedAt(),
	}, nil
}
