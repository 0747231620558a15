// Package api provides the HTTP API server and handlers for BiblioRed.
package api

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/bibliored/bibliored-server/internal/http/response"
	"github.com/bibliored/bibliored-server/internal/metrics"
	"github.com/bibliored/bibliored-server/internal/ratelimit"
	"github.com/bibliored/bibliored-server/internal/service"
)

// Version is reported in the OpenAPI document.
const Version = "1.0.0"

// Pinger checks that the cache database is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Services groups the business services used by the API server.
type Services struct {
	Search      *service.SearchService
	Maintenance *service.MaintenanceService
}

// Options configures the API server.
type Options struct {
	CORSOrigins []string
	// AdminToken guards the cache administration routes. Empty leaves them unregistered.
	AdminToken string
	// SearchRPS and SearchBurst throttle search requests per client IP.
	SearchRPS   float64
	SearchBurst int
	// CatalogURL is reported by the health check.
	CatalogURL string
}

// Server holds dependencies for HTTP handlers.
type Server struct {
	db       Pinger
	services *Services
	opts     Options
	router   *chi.Mux
	api      huma.API
	logger   *slog.Logger

	searchLimiter *ratelimit.KeyedRateLimiter
}

// NewServer creates a new HTTP server with all routes configured.
// db may be nil when the cache database could not be opened.
func NewServer(db Pinger, services *Services, opts Options, logger *slog.Logger) *Server {
	router := chi.NewRouter()

	s := &Server{
		db:            db,
		services:      services,
		opts:          opts,
		router:        router,
		logger:        logger,
		searchLimiter: ratelimit.New(opts.SearchRPS, opts.SearchBurst),
	}

	s.setupMiddleware()

	humaConfig := huma.DefaultConfig("BiblioRed API", Version)
	humaConfig.Info.Description = "Public library catalog search with a persistent result cache"
	humaConfig.Components.SecuritySchemes = map[string]*huma.SecurityScheme{
		"bearer": {
			Type:   "http",
			Scheme: "bearer",
		},
	}
	humaConfig.Transformers = append(humaConfig.Transformers, EnvelopeTransformer)

	s.api = humachi.New(router, humaConfig)
	RegisterErrorHandler()

	s.registerRoutes()

	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Close stops background work owned by the server.
func (s *Server) Close() {
	s.searchLimiter.Stop()
}

// setupMiddleware configures middleware stack.
func (s *Server) setupMiddleware() {
	origins := s.opts.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(requestLogger(s.logger))
	s.router.Use(recoverer(s.logger))
	s.router.Use(middleware.Compress(5))
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders: []string{"X-Request-ID", "Retry-After"},
		MaxAge:         300,
	}))
	s.router.Use(metricsMiddleware)
}

// registerRoutes configures all HTTP routes.
func (s *Server) registerRoutes() {
	s.router.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		response.NotFound(w, "route not found", s.logger)
	})
	s.router.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		response.MethodNotAllowed(w, "method not allowed", s.logger)
	})

	s.router.Handle("/metrics", metrics.Handler())

	s.registerHealthRoutes()
	s.registerSearchRoutes()

	if s.opts.AdminToken != "" {
		s.registerAdminCacheRoutes()
	} else {
		s.logger.Info("Admin cache routes disabled, no admin token configured")
	}
}
