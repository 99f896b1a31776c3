package authentication

import (
	"net/http"

	"github.com/The127/ioc"
	"github.com/gorilla/mux"
	"github.com/the127/upyard/internal/middlewares"
	"github.com/the127/upyard/internal/utils/apiError"
)

// AuthenticationMiddleware resolves the bearer token into a CurrentUser.
// Missing credentials are a 401, rejected ones a 403.
func AuthenticationMiddleware() mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodOptions {
				next.ServeHTTP(w, r)
				return
			}

			ctx := r.Context()
			scope := middlewares.GetScope(ctx)
			authenticator := ioc.GetDependency[Authenticator](scope)

			currentUser := &CurrentUser{}

			token, err := extractBearerToken(r)
			switch {
			case err != nil && authenticator.Required():
				w.Header().Set("WWW-Authenticate", `Bearer realm="upyard"`)
				apiError.HandleHttpError(w, r, err)
				return

			case err == nil:
				currentUser, err = authenticator.Authenticate(ctx, token)
				if err != nil {
					apiError.HandleHttpError(w, r, err)
					return
				}
			}

			ctx = ContextWithCurrentUser(ctx, *currentUser)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
