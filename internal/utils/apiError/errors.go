package apiError

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/the127/upyard/internal/args"
	"github.com/the127/upyard/internal/logging"
	"github.com/the127/upyard/internal/wire"
)

var ErrApiBadRequest = errors.New("bad Request")
var ErrApiUnsupportedMediaType = errors.New("unsupported media type")

var ErrApiNotFound = errors.New("not found")
var ErrApiSessionNotFound = fmt.Errorf("session not found: %w", ErrApiNotFound)
var ErrApiSessionTerminal = fmt.Errorf("session is terminal: %w", ErrApiNotFound)
var ErrApiArtifactNotFound = fmt.Errorf("artifact not found: %w", ErrApiNotFound)

var ErrApiUnauthorized = errors.New("unauthorized")
var ErrApiForbidden = errors.New("forbidden")

var ErrApiInsufficientSpace = errors.New("insufficient space")
var ErrApiChunkConflict = errors.New("chunk conflict")
var ErrApiOutOfBounds = errors.New("chunk out of bounds")
var ErrApiChunkDigestMismatch = errors.New("chunk digest mismatch")
var ErrApiChunkTooLarge = errors.New("chunk larger than negotiated chunk size")
var ErrApiRangesIncomplete = errors.New("received ranges incomplete")
var ErrApiIntegrity = errors.New("integrity error")
var ErrApiInvalidState = errors.New("invalid session state")

type mapping struct {
	err    error
	status int
	code   wire.ErrorCode
}

// Order matters: more specific errors come before the ones they wrap.
var mappings = []mapping{
	{ErrApiBadRequest, http.StatusBadRequest, wire.CodeBadRequest},
	{ErrApiUnsupportedMediaType, http.StatusUnsupportedMediaType, wire.CodeUnsupported},
	{ErrApiSessionTerminal, http.StatusNotFound, wire.CodeSessionTerminal},
	{ErrApiSessionNotFound, http.StatusNotFound, wire.CodeSessionUnknown},
	{ErrApiNotFound, http.StatusNotFound, wire.CodeNotFound},
	{ErrApiUnauthorized, http.StatusUnauthorized, wire.CodeUnauthorized},
	{ErrApiForbidden, http.StatusForbidden, wire.CodeDenied},
	{ErrApiInsufficientSpace, http.StatusInsufficientStorage, wire.CodeInsufficientSpace},
	{ErrApiChunkConflict, http.StatusConflict, wire.CodeChunkConflict},
	{ErrApiOutOfBounds, http.StatusRequestedRangeNotSatisfiable, wire.CodeOutOfBounds},
	{ErrApiChunkDigestMismatch, http.StatusUnprocessableEntity, wire.CodeChunkDigestMismatch},
	{ErrApiChunkTooLarge, http.StatusRequestEntityTooLarge, wire.CodeChunkTooLarge},
	{ErrApiRangesIncomplete, http.StatusConflict, wire.CodeRangesIncomplete},
	{ErrApiIntegrity, http.StatusUnprocessableEntity, wire.CodeIntegrityError},
	{ErrApiInvalidState, http.StatusConflict, wire.CodeInvalidState},
}

// Classify returns the http status and wire code for an error.
func Classify(err error) (int, wire.ErrorCode) {
	for _, m := range mappings {
		if errors.Is(err, m.err) {
			return m.status, m.code
		}
	}

	return http.StatusInternalServerError, wire.CodeInternal
}

func HandleHttpError(w http.ResponseWriter, r *http.Request, err error) {
	code, errorCode := Classify(err)

	message := err.Error()
	if errorCode == wire.CodeInternal && args.IsProduction() {
		message = "Internal Server Error"
	}

	if code >= http.StatusInternalServerError {
		logging.Logger.Errorf("HTTP Error: %d %s", code, err.Error())
	} else {
		logging.Logger.Infof("HTTP Error: %d %s", code, message)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)

	if r != nil && r.Method == http.MethodHead {
		return
	}

	body := wire.ErrorBody{
		Errors: []wire.Error{{Code: errorCode, Message: message}},
	}

	err = json.NewEncoder(w).Encode(body)
	if err != nil {
		logging.Logger.Errorf("failed to write error body: %v", err)
	}
}
