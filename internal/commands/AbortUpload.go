package commands

import (
	"context"

	"github.com/The127/ioc"
	"github.com/the127/upyard/internal/middlewares"
	"github.com/the127/upyard/internal/registry"
)

type AbortUpload struct {
	SessionId string
}

type AbortUploadResponse struct{}

func HandleAbortUpload(ctx context.Context, command AbortUpload) (*AbortUploadResponse, error) {
	scope := middlewares.GetScope(ctx)
	sessionRegistry := ioc.GetDependency[*registry.Registry](scope)

	err := sessionRegistry.Abort(ctx, command.SessionId)
	if err != nil {
		return nil, err
	}

	return &AbortUploadResponse{}, nil
}
