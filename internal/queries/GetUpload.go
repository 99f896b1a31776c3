package queries

import (
	"context"
	"time"

	"github.com/The127/ioc"
	"github.com/the127/upyard/internal/middlewares"
	"github.com/the127/upyard/internal/registry"
	"github.com/the127/upyard/internal/session"
)

type GetUpload struct {
	SessionId string
}

type GetUploadResponse struct {
	SessionId      string
	State          session.State
	AbortReason    session.AbortReason
	DeclaredSize   int64
	DeclaredDigest string
	ChunkSize      int64
	Received       []session.Range
	Missing        []session.Range
	ReceivedBytes  int64
	LastActivity   time.Time
}

func HandleGetUpload(ctx context.Context, query GetUpload) (*GetUploadResponse, error) {
	scope := middlewares.GetScope(ctx)
	sessionRegistry := ioc.GetDependency[*registry.Registry](scope)

	s, err := sessionRegistry.Get(query.SessionId)
	if err != nil {
		return nil, err
	}

	snapshot := s.Snapshot()

	return &GetUploadResponse{
		SessionId:      snapshot.Id,
		State:          snapshot.State,
		AbortReason:    snapshot.AbortReason,
		DeclaredSize:   snapshot.DeclaredSize,
		DeclaredDigest: snapshot.DeclaredDigest.String(),
		ChunkSize:      snapshot.ChunkSize,
		Received:       snapshot.Received,
		Missing:        snapshot.Missing,
		ReceivedBytes:  snapshot.ReceivedBytes,
		LastActivity:   snapshot.LastActivity,
	}, nil
}
