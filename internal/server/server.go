package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/The127/ioc"
	"github.com/the127/upyard/internal/config"
	"github.com/the127/upyard/internal/handlers/artifacthandlers"
	"github.com/the127/upyard/internal/handlers/systemhandlers"
	"github.com/the127/upyard/internal/handlers/uploadhandlers"
	"github.com/the127/upyard/internal/logging"
	"github.com/the127/upyard/internal/middlewares"
	"github.com/the127/upyard/internal/middlewares/authentication"
	"github.com/the127/upyard/internal/registry"
	"github.com/the127/upyard/internal/utils/apiError"
	"github.com/the127/upyard/internal/wire"

	gh "github.com/gorilla/handlers"
	"github.com/gorilla/mux"
)

func NewRouter(root *ioc.DependencyProvider, allowedOrigins []string) http.Handler {
	r := mux.NewRouter()

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		logging.Logger.Infof("Not found API Request: %s %s", r.Method, r.URL.Path)
		apiError.HandleHttpError(w, r, fmt.Errorf("route %s: %w", r.URL.Path, apiError.ErrApiNotFound))
	})

	r.Use(middlewares.RecoverMiddleware())
	r.Use(middlewares.LoggingMiddleware())
	r.Use(middlewares.ScopeMiddleware(root))

	r.Use(gh.CORS(
		gh.AllowedOrigins(allowedOrigins),
		gh.AllowedMethods([]string{"GET", "POST", "PUT", "DELETE"}),
		gh.AllowedHeaders([]string{"Authorization", "Content-Type", "Content-Encoding", wire.HeaderUploadOffset, wire.HeaderUploadChunkDigest}),
		gh.ExposedHeaders([]string{"Location", wire.HeaderUploadOffset}),
		gh.AllowCredentials(),
		gh.MaxAge(3600),
	))

	r.HandleFunc(wire.PathHealth, systemhandlers.Health).Methods(http.MethodGet, http.MethodOptions)

	mapUploadApi(r)
	mapArtifactApi(r)

	return r
}

func mapUploadApi(r *mux.Router) {
	// starting an upload claims capacity and needs credentials, everything
	// after that is addressed by the unguessable session id
	initiateRouter := r.PathPrefix(wire.PathSession).Subrouter()
	initiateRouter.Use(authentication.AuthenticationMiddleware())
	initiateRouter.HandleFunc("", uploadhandlers.InitiateUpload).Methods(http.MethodPost, http.MethodOptions)

	sessionRouter := r.PathPrefix(wire.PathSession + "/{session}").Subrouter()
	sessionRouter.HandleFunc("", uploadhandlers.GetUpload).Methods(http.MethodGet, http.MethodOptions)
	sessionRouter.HandleFunc("", uploadhandlers.AbortUpload).Methods(http.MethodDelete, http.MethodOptions)
	sessionRouter.HandleFunc("/chunk", uploadhandlers.PutChunk).Methods(http.MethodPut, http.MethodOptions)
	sessionRouter.HandleFunc("/finalize", uploadhandlers.FinalizeUpload).Methods(http.MethodPost, http.MethodOptions)
	sessionRouter.HandleFunc("/events", uploadhandlers.StreamEvents).Methods(http.MethodGet, http.MethodOptions)
}

func mapArtifactApi(r *mux.Router) {
	artifactRouter := r.PathPrefix(wire.PathArtifacts).Subrouter()
	artifactRouter.Use(authentication.AuthenticationMiddleware())

	artifactRouter.HandleFunc("", artifacthandlers.ListArtifacts).Methods(http.MethodGet, http.MethodOptions)
	artifactRouter.HandleFunc("/{artifact}", artifacthandlers.GetArtifact).Methods(http.MethodGet, http.MethodOptions)
}

// NewServer builds the http server for root. Live sessions are aborted as
// soon as shutdown begins so their event streams end instead of holding
// shutdown open.
func NewServer(root *ioc.DependencyProvider, serverConfig config.ServerConfig) *http.Server {
	srv := &http.Server{
		Addr:              serverConfig.BindAddress,
		Handler:           NewRouter(root, serverConfig.AllowedOrigins),
		ReadHeaderTimeout: 10 * time.Second,
	}

	sessionRegistry := ioc.GetDependency[*registry.Registry](root)
	srv.RegisterOnShutdown(func() {
		sessionRegistry.AbortAll(context.Background())
	})

	return srv
}

// Serve starts listening in the background and returns the server so the
// caller can shut it down.
func Serve(root *ioc.DependencyProvider, serverConfig config.ServerConfig) *http.Server {
	logging.Logger.Infof("Starting server on %s", serverConfig.BindAddress)
	srv := NewServer(root, serverConfig)

	go serve(srv)

	return srv
}

func serve(srv *http.Server) {
	err := srv.ListenAndServe()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		panic(fmt.Errorf("error while running server: %w", err))
	}
}
