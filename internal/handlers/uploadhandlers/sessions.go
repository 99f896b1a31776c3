package uploadhandlers

import (
	"net/http"

	"github.com/The127/ioc"
	"github.com/The127/mediatr"
	"github.com/gorilla/mux"
	"github.com/the127/upyard/internal/commands"
	"github.com/the127/upyard/internal/handlers"
	"github.com/the127/upyard/internal/middlewares"
	"github.com/the127/upyard/internal/middlewares/authentication"
	"github.com/the127/upyard/internal/queries"
	"github.com/the127/upyard/internal/session"
	"github.com/the127/upyard/internal/utils/apiError"
	"github.com/the127/upyard/internal/utils/decoding"
	"github.com/the127/upyard/internal/utils/pointer"
	"github.com/the127/upyard/internal/utils/validate"
	"github.com/the127/upyard/internal/wire"
)

func InitiateUpload(w http.ResponseWriter, r *http.Request) {
	var dto wire.InitiateRequest
	err := decoding.HttpBodyAsJson(w, r, &dto)
	if err != nil {
		apiError.HandleHttpError(w, r, err)
		return
	}

	err = validate.Validate(dto)
	if err != nil {
		apiError.HandleHttpError(w, r, err)
		return
	}

	ctx := r.Context()
	scope := middlewares.GetScope(ctx)
	mediator := ioc.GetDependency[mediatr.Mediator](scope)

	uploader := dto.Uploader
	currentUser, ok := authentication.FindCurrentUser(ctx)
	if uploader == "" && ok {
		uploader = currentUser.Subject
	}

	response, err := mediatr.Send[*commands.InitiateUploadResponse](ctx, mediator, commands.InitiateUpload{
		DeclaredSize:   dto.DeclaredSize,
		DeclaredDigest: dto.DeclaredDigest,
		ChunkSizeHint:  dto.ChunkSizeHint,
		Name:           dto.Name,
		Project:        dto.Project,
		Pipeline:       dto.Pipeline,
		Uploader:       uploader,
		Items:          dto.Items,
	})
	if err != nil {
		apiError.HandleHttpError(w, r, err)
		return
	}

	w.Header().Set("Location", wire.SessionPath(response.SessionId))
	handlers.WriteJson(w, http.StatusCreated, wire.InitiateResponse{
		SessionId:           response.SessionId,
		NegotiatedChunkSize: response.NegotiatedChunkSize,
		DigestAlgorithm:     response.DigestAlgorithm.String(),
	})
}

func GetUpload(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	sessionId := vars["session"]

	ctx := r.Context()
	scope := middlewares.GetScope(ctx)
	mediator := ioc.GetDependency[mediatr.Mediator](scope)

	upload, err := mediatr.Send[*queries.GetUploadResponse](ctx, mediator, queries.GetUpload{
		SessionId: sessionId,
	})
	if err != nil {
		apiError.HandleHttpError(w, r, err)
		return
	}

	handlers.WriteJson(w, http.StatusOK, wire.SessionStatus{
		SessionId:      upload.SessionId,
		State:          string(upload.State),
		DeclaredSize:   upload.DeclaredSize,
		DeclaredDigest: upload.DeclaredDigest,
		ChunkSize:      upload.ChunkSize,
		Received:       mapRanges(upload.Received),
		Missing:        mapRanges(upload.Missing),
	})
}

func mapRanges(ranges []session.Range) []wire.Range {
	result := make([]wire.Range, len(ranges))
	for i, rng := range ranges {
		result[i] = wire.Range{Start: rng.Start, End: rng.End}
	}
	return result
}

func FinalizeUpload(w http.ResponseWriter, r *http.Request) {
	var dto wire.FinalizeRequest
	if r.ContentLength != 0 {
		err := decoding.HttpBodyAsJson(w, r, &dto)
		if err != nil {
			apiError.HandleHttpError(w, r, err)
			return
		}
	}

	vars := mux.Vars(r)
	sessionId := vars["session"]

	ctx := r.Context()
	scope := middlewares.GetScope(ctx)
	mediator := ioc.GetDependency[mediatr.Mediator](scope)

	artifact, err := mediatr.Send[*commands.FinalizeUploadResponse](ctx, mediator, commands.FinalizeUpload{
		SessionId:      sessionId,
		DeclaredDigest: pointer.DerefOrZero(dto.DeclaredDigest),
	})
	if err != nil {
		apiError.HandleHttpError(w, r, err)
		return
	}

	handlers.WriteJson(w, http.StatusOK, wire.FinalizeResponse{
		Artifact: wire.Artifact{
			Id:          artifact.Id.String(),
			SessionId:   sessionId,
			Name:        artifact.Name,
			Digest:      artifact.Digest,
			Size:        artifact.Size,
			Project:     artifact.Project,
			Pipeline:    artifact.Pipeline,
			Uploader:    artifact.Uploader,
			Items:       artifact.Items,
			CommittedAt: artifact.CommittedAt,
		},
	})
}

func AbortUpload(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	sessionId := vars["session"]

	ctx := r.Context()
	scope := middlewares.GetScope(ctx)
	mediator := ioc.GetDependency[mediatr.Mediator](scope)

	_, err := mediatr.Send[*commands.AbortUploadResponse](ctx, mediator, commands.AbortUpload{
		SessionId: sessionId,
	})
	if err != nil {
		apiError.HandleHttpError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
