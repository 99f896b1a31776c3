package middlewares

import (
	"encoding/json"
	"net/http"
	"runtime/debug"

	"github.com/gorilla/mux"
	"github.com/the127/upyard/internal/logging"
	"github.com/the127/upyard/internal/wire"
)

// RecoverMiddleware turns a panicking request into a 500. Only the request
// dies, sessions and the process keep running.
func RecoverMiddleware() mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if err := recover(); err != nil {
					if err == http.ErrAbortHandler {
						panic(err)
					}

					logging.Logger.Errorw("recovered from panic",
						"method", r.Method,
						"path", r.URL.Path,
						"panic", err,
						"stack", string(debug.Stack()))

					w.Header().Set("Content-Type", "application/json")
					w.WriteHeader(http.StatusInternalServerError)
					_ = json.NewEncoder(w).Encode(wire.ErrorBody{
						Errors: []wire.Error{{Code: wire.CodeInternal, Message: "Internal Server Error"}},
					})
				}
			}()

			next.ServeHTTP(w, r)
		})
	}
}
