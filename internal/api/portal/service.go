package portal

import (
	"context"
	"github.com/antluqmol1/openid-authentication/internal/api/portal/session"
	"github.com/antluqmol1/openid-authentication/internal/api/schema"
	"github.com/antluqmol1/openid-authentication/internal/config"
	"github.com/antluqmol1/openid-authentication/internal/function"
	"github.com/antluqmol1/openid-authentication/internal/graph"
	"github.com/antluqmol1/openid-authentication/internal/identity"
	"github.com/antluqmol1/openid-authentication/internal/profile"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog/hlog"
	"github.com/rs/zerolog/log"
	"net/http"
	"time"
)

// Version is the version of the portal reported on the home view
const Version = "0.8.0"

// Gateway defines the remote API operations used by the portal endpoints
type Gateway interface {
	profile.Gateway

	// Users retrieves the list of users of the directory
	Users(ctx context.Context, accessToken string) (*graph.Response, error)

	// Get issues a GET request against an arbitrary absolute URL, bounded by the given timeout
	Get(ctx context.Context, accessToken, target string, timeout time.Duration) (*graph.Response, error)
}

// Service represents the portal service
type Service struct {
	server *http.Server

	Config *config.Config

	// Identity may be nil if no client credentials are configured
	Identity identity.Client
	Gateway  Gateway
	Sessions session.Storage

	updater *profile.Updater
	writer  *schema.Writer
}

// Startup starts up the portal and blocks until it is shut down
func (service *Service) Startup() error {
	server := &http.Server{
		Addr:              service.Config.ListenAddress,
		Handler:           service.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	service.server = server
	return server.ListenAndServe()
}

// Shutdown shuts down the portal
func (service *Service) Shutdown() {
	if service.server != nil {
		service.server.Close()
		service.server = nil
	}
}

// Handler builds the HTTP handler serving all portal endpoints
func (service *Service) Handler() http.Handler {
	// Create the HTTP schema writer
	service.writer = &schema.Writer{
		InternalErrorHook: func(err error) {
			log.Error().Err(err).Msg("the portal experienced an unexpected error")
		},
	}
	service.updater = &profile.Updater{
		Gateway: service.Gateway,
	}

	// Create the HTTP router
	router := chi.NewRouter()
	router.Use(hlog.NewHandler(log.Logger))
	router.Use(hlog.RequestIDHandler("request_id", "Request-Id"))
	router.Use(hlog.AccessHandler(func(request *http.Request, status, size int, duration time.Duration) {
		hlog.FromRequest(request).Debug().
			Str("method", request.Method).
			Stringer("url", request.URL).
			Int("status", status).
			Int("size", size).
			Dur("duration", duration).
			Msg("handled request")
	}))
	router.Use(middleware.Recoverer)
	router.Use(middleware.RedirectSlashes)
	router.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{service.Config.AllowedOrigin},
		AllowedMethods: []string{
			http.MethodHead,
			http.MethodGet,
			http.MethodPost,
		},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	}))
	router.NotFound(func(writer http.ResponseWriter, _ *http.Request) {
		service.writer.WriteErrors(writer, http.StatusNotFound, schema.ErrNotFound)
	})
	router.MethodNotAllowed(func(writer http.ResponseWriter, _ *http.Request) {
		service.writer.WriteErrors(writer, http.StatusMethodNotAllowed, schema.ErrMethodNotAllowed)
	})

	// Register the authentication endpoints
	router.Get("/", function.Nest[http.HandlerFunc](service.EndpointHome, service.MiddlewareLoadSession))
	router.Get("/login", function.Nest[http.HandlerFunc](service.EndpointLogin, service.MiddlewareLoadSession))
	router.Get(service.Config.RedirectPath, function.Nest[http.HandlerFunc](
		service.EndpointAuthResponse,
		service.MiddlewareLoadSession,
	))
	router.Get("/logout", function.Nest[http.HandlerFunc](service.EndpointLogout, service.MiddlewareLoadSession))

	// Register the Graph backed endpoints
	router.Get("/profile", service.protected(service.EndpointGetProfile))
	router.Post("/profile", service.protected(service.EndpointPostProfile))
	router.Get("/users", service.protected(service.EndpointGetUsers))
	router.Get("/call_downstream_api", service.protected(service.EndpointCallDownstreamAPI))

	return router
}

// protected wraps endpoints that require a logged-in user and an access token
func (service *Service) protected(endpoint http.HandlerFunc) http.HandlerFunc {
	return function.Nest[http.HandlerFunc](
		endpoint,
		service.MiddlewareLoadSession,
		service.MiddlewareRequireUser,
		service.MiddlewareAcquireToken,
	)
}
