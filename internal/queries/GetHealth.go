package queries

import (
	"context"

	"github.com/The127/ioc"
	"github.com/the127/upyard/internal/middlewares"
	"github.com/the127/upyard/internal/registry"
)

type GetHealth struct{}

type GetHealthResponse struct {
	CapacityCeiling int64
	ReservedTotal   int64
	LiveSessions    int
}

func HandleGetHealth(ctx context.Context, _ GetHealth) (*GetHealthResponse, error) {
	scope := middlewares.GetScope(ctx)
	sessionRegistry := ioc.GetDependency[*registry.Registry](scope)

	stats := sessionRegistry.Stats()

	return &GetHealthResponse{
		CapacityCeiling: stats.Ledger.CapacityCeiling,
		ReservedTotal:   stats.Ledger.ReservedTotal,
		LiveSessions:    stats.LiveSessions,
	}, nil
}
