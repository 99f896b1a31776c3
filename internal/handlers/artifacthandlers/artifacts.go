package artifacthandlers

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/The127/ioc"
	"github.com/The127/mediatr"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/the127/upyard/internal/handlers"
	"github.com/the127/upyard/internal/middlewares"
	"github.com/the127/upyard/internal/queries"
	"github.com/the127/upyard/internal/utils/apiError"
	"github.com/the127/upyard/internal/wire"
)

const maxPageSize = 500

func ListArtifacts(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	offset, err := intParameter(query.Get("offset"), 0)
	if err != nil {
		apiError.HandleHttpError(w, r, err)
		return
	}

	limit, err := intParameter(query.Get("limit"), 100)
	if err != nil {
		apiError.HandleHttpError(w, r, err)
		return
	}
	limit = min(limit, maxPageSize)

	ctx := r.Context()
	scope := middlewares.GetScope(ctx)
	mediator := ioc.GetDependency[mediatr.Mediator](scope)

	artifacts, err := mediatr.Send[*queries.ListArtifactsResponse](ctx, mediator, queries.ListArtifacts{
		Project:  query.Get("project"),
		Pipeline: query.Get("pipeline"),
		Digest:   query.Get("digest"),
		Offset:   offset,
		Limit:    limit,
	})
	if err != nil {
		apiError.HandleHttpError(w, r, err)
		return
	}

	response := wire.ArtifactList{
		Artifacts: make([]wire.Artifact, len(artifacts.Items)),
		Total:     artifacts.TotalCount,
	}

	for i, item := range artifacts.Items {
		response.Artifacts[i] = wire.Artifact{
			Id:          item.Id.String(),
			SessionId:   item.Id.String(),
			Name:        item.Name,
			Digest:      item.Digest,
			Size:        item.Size,
			Project:     item.Project,
			Pipeline:    item.Pipeline,
			Uploader:    item.Uploader,
			Items:       item.Items,
			CommittedAt: item.CommittedAt,
		}
	}

	handlers.WriteJson(w, http.StatusOK, response)
}

func GetArtifact(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	artifactId, err := uuid.Parse(vars["artifact"])
	if err != nil {
		apiError.HandleHttpError(w, r, fmt.Errorf("artifact id %q: %w", vars["artifact"], apiError.ErrApiArtifactNotFound))
		return
	}

	ctx := r.Context()
	scope := middlewares.GetScope(ctx)
	mediator := ioc.GetDependency[mediatr.Mediator](scope)

	artifact, err := mediatr.Send[*queries.GetArtifactResponse](ctx, mediator, queries.GetArtifact{
		Id: artifactId,
	})
	if err != nil {
		apiError.HandleHttpError(w, r, err)
		return
	}

	handlers.WriteJson(w, http.StatusOK, wire.Artifact{
		Id:          artifact.Id.String(),
		SessionId:   artifact.Id.String(),
		Name:        artifact.Name,
		Digest:      artifact.Digest,
		Size:        artifact.Size,
		Project:     artifact.Project,
		Pipeline:    artifact.Pipeline,
		Uploader:    artifact.Uploader,
		Items:       artifact.Items,
		CommittedAt: artifact.CommittedAt,
	})
}

func intParameter(value string, fallback int) (int, error) {
	if value == "" {
		return fallback, nil
	}

	parsed, err := strconv.Atoi(value)
	if err != nil || parsed < 0 {
		return 0, fmt.Errorf("invalid paging parameter %q: %w", value, apiError.ErrApiBadRequest)
	}

	return parsed, nil
}
