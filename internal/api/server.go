package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/hiveroute/hiveroute/internal/api/middleware"
	"github.com/hiveroute/hiveroute/internal/database/models"
	"github.com/hiveroute/hiveroute/internal/metrics"
	"github.com/hiveroute/hiveroute/internal/routing"
)

// RouteComputer computes routing programs. Implemented by routing.Router.
type RouteComputer interface {
	Route(ctx context.Context, caller, called string, localSwitchID int64, switches map[int64]*models.Switch) (*routing.RouteResult, error)
}

// SwitchTable supplies the current cluster switch snapshot and the local
// switch id.
type SwitchTable interface {
	Snapshot() (localID int64, switches map[int64]*models.Switch)
}

// CacheStore persists deferred fork results for stage-two resolution.
type CacheStore interface {
	Store(ctx context.Context, entries map[string]*routing.IntermediateRoutingResult, ttl time.Duration) error
}

// Server holds HTTP handler dependencies and the chi router.
type Server struct {
	router   *chi.Mux
	routes   RouteComputer
	switches SwitchTable
	cache    CacheStore
	cacheTTL time.Duration
	stats    *metrics.RoutingStats
	metrics  http.Handler
	logger   *slog.Logger
}

// NewServer creates the HTTP handler with all routes mounted. apiToken, if
// non-empty, gates the routing endpoints behind bearer auth. metricsHandler
// may be nil to disable the /metrics endpoint.
func NewServer(
	routes RouteComputer,
	switches SwitchTable,
	cache CacheStore,
	cacheTTL time.Duration,
	stats *metrics.RoutingStats,
	metricsHandler http.Handler,
	apiToken string,
	logger *slog.Logger,
) *Server {
	s := &Server{
		router:   chi.NewRouter(),
		routes:   routes,
		switches: switches,
		cache:    cache,
		cacheTTL: cacheTTL,
		stats:    stats,
		metrics:  metricsHandler,
		logger:   logger.With("subsystem", "api"),
	}
	s.mountRoutes(apiToken)
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// mountRoutes configures the middleware stack and all route groups.
func (s *Server) mountRoutes(apiToken string) {
	r := s.router

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.StructuredLogger)
	r.Use(middleware.Recoverer)

	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics)
	}

	limiter := middleware.NewIPRateLimiter(middleware.DefaultRateLimitConfig())

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)

		r.Group(func(r chi.Router) {
			r.Use(middleware.RateLimit(limiter))
			if apiToken != "" {
				r.Use(middleware.BearerAuth(apiToken))
			}
			r.Get("/routing", s.handleRouting)
		})
	})
}

// handleHealth responds to liveness probes.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
