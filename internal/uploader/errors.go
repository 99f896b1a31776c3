package uploader

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/the127/upyard/internal/wire"
)

// ErrIntegrity means the server rejected the assembled file. The session is
// gone and retrying the same bytes cannot succeed.
var ErrIntegrity = errors.New("server rejected the assembled file")

// ErrSessionLost means the server no longer accepts data for the session.
var ErrSessionLost = errors.New("upload session lost")

// ApiError is a non-2xx response from the server.
type ApiError struct {
	Status  int
	Code    wire.ErrorCode
	Message string
}

func (e *ApiError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("server responded %d", e.Status)
	}
	return fmt.Sprintf("server responded %d %s: %s", e.Status, e.Code, e.Message)
}

func (e *ApiError) Unwrap() error {
	switch e.Code {
	case wire.CodeIntegrityError:
		return ErrIntegrity
	case wire.CodeSessionUnknown, wire.CodeSessionTerminal:
		return ErrSessionLost
	default:
		return nil
	}
}

// transient reports whether a request that failed with err may succeed when
// sent again unchanged.
func transient(err error) bool {
	var apiErr *ApiError
	if !errors.As(err, &apiErr) {
		// transport failures
		return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
	}

	// the payload was damaged on the way, the same bytes will do
	if apiErr.Code == wire.CodeChunkDigestMismatch {
		return true
	}

	switch apiErr.Status {
	case http.StatusRequestTimeout, http.StatusTooManyRequests:
		return true
	case http.StatusInsufficientStorage:
		return false
	default:
		return apiErr.Status >= http.StatusInternalServerError
	}
}
