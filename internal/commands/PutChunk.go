package commands

import (
	"context"
	"fmt"

	"github.com/The127/ioc"
	"github.com/the127/upyard/internal/codec"
	"github.com/the127/upyard/internal/middlewares"
	"github.com/the127/upyard/internal/registry"
	"github.com/the127/upyard/internal/session"
)

type PutChunk struct {
	SessionId string
	Offset    int64
	Digest    codec.Digest
	Payload   []byte
}

type PutChunkResponse struct {
	Offset    int64
	Length    int64
	Duplicate bool
	Received  int64
}

func HandlePutChunk(ctx context.Context, command PutChunk) (*PutChunkResponse, error) {
	scope := middlewares.GetScope(ctx)
	sessionRegistry := ioc.GetDependency[*registry.Registry](scope)

	s, err := sessionRegistry.Get(command.SessionId)
	if err != nil {
		return nil, err
	}

	result, err := s.AcceptChunk(ctx, session.Chunk{
		Offset:  command.Offset,
		Digest:  command.Digest,
		Payload: command.Payload,
	})
	if err != nil {
		return nil, fmt.Errorf("accepting chunk: %w", err)
	}

	return &PutChunkResponse{
		Offset:    command.Offset,
		Length:    int64(len(command.Payload)),
		Duplicate: result.Duplicate,
		Received:  result.Received,
	}, nil
}
