package systemhandlers

import (
	"net/http"

	"github.com/The127/ioc"
	"github.com/The127/mediatr"
	"github.com/the127/upyard/internal/handlers"
	"github.com/the127/upyard/internal/middlewares"
	"github.com/the127/upyard/internal/queries"
	"github.com/the127/upyard/internal/utils/apiError"
	"github.com/the127/upyard/internal/wire"
)

func Health(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	scope := middlewares.GetScope(ctx)
	mediator := ioc.GetDependency[mediatr.Mediator](scope)

	health, err := mediatr.Send[*queries.GetHealthResponse](ctx, mediator, queries.GetHealth{})
	if err != nil {
		apiError.HandleHttpError(w, r, err)
		return
	}

	handlers.WriteJson(w, http.StatusOK, wire.Health{
		CapacityCeiling: health.CapacityCeiling,
		ReservedTotal:   health.ReservedTotal,
		LiveSessions:    health.LiveSessions,
	})
}
