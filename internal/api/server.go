package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/opsgrade/kestrel/internal/advisory"
	"github.com/opsgrade/kestrel/internal/domain"
	"github.com/opsgrade/kestrel/internal/metrics"
)

// Server represents the HTTP API server.
type Server struct {
	router  *chi.Mux
	handler *Handler
	server  *http.Server
	config  domain.ServerConfig
}

// NewServer creates a new API server.
func NewServer(cfg domain.ServerConfig, repo domain.Repository, cache domain.Cache, bus domain.EventBus, advisories *advisory.Engine, table *domain.RuleTable, version string) *Server {
	handler := NewHandler(repo, cache, bus, advisories, table, version)
	router := chi.NewRouter()

	// Global middleware stack
	router.Use(CORSMiddleware)         // CORS for browser clients
	router.Use(RecoverMiddleware)      // Recover from panics
	router.Use(TracingMiddleware)      // OpenTelemetry tracing
	router.Use(LoggingMiddleware)      // Request logging
	router.Use(middleware.RealIP)      // Extract real IP
	router.Use(middleware.Compress(5)) // Gzip compression

	// Health and metrics endpoints (no task required)
	router.Get("/health", handler.Health)
	router.Get("/ready", handler.Ready)
	router.Handle("/metrics", metrics.Handler())

	// API routes (task required)
	router.Route("/", func(r chi.Router) {
		r.Use(TaskMiddleware)

		// System configuration
		r.Post("/systems", handler.CreateSystem)
		r.Get("/systems", handler.ListSystems)
		r.Get("/systems/{id}", handler.GetSystem)
		r.Put("/systems/{id}", handler.UpdateSystem)
		r.Delete("/systems/{id}", handler.DeleteSystem)

		// Scoring
		r.Post("/systems/{id}/score", handler.ScoreSystem)
		r.Get("/systems/{id}/scores", handler.ListScores)
		r.Get("/scores/{id}", handler.GetScore)

		// Tool catalog
		r.Get("/tools", handler.ListTools)
		r.Get("/tools/{id}", handler.GetTool)
		r.Post("/tools", handler.CreateTool)
		r.Put("/tools/{id}", handler.UpdateTool)
		r.Delete("/tools/{id}", handler.DeleteTool)

		// Rule table (read-only; loaded at startup)
		r.Get("/ruletable", handler.GetRuleTable)

		// Snapshot export/import
		r.Get("/export", handler.Export)
		r.Post("/import", handler.Import)

		// Advisory management
		r.Get("/advisories", handler.ListAdvisories)
		r.Post("/advisories", handler.CreateAdvisory)
		r.Post("/advisories/reload", handler.ReloadAdvisories)
	})

	return &Server{
		router:  router,
		handler: handler,
		config:  cfg,
	}
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  time.Duration(s.config.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(s.config.WriteTimeout) * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Router returns the Chi router for testing.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Handler returns the handler for testing.
func (s *Server) Handler() *Handler {
	return s.handler
}
