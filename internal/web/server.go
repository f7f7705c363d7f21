// Package web provides the HTTP surface of the ingestion service: transform,
// tracker, import, health and metrics endpoints.
package web

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/JonMunkholm/cityingest/internal/importer"
	"github.com/JonMunkholm/cityingest/internal/metrics"
	"github.com/JonMunkholm/cityingest/internal/pipeline"
	"github.com/JonMunkholm/cityingest/internal/queue"
	"github.com/JonMunkholm/cityingest/internal/web/middleware"
)

// Checker is a dependency that can report its health.
type Checker interface {
	Health(ctx context.Context) error
}

// Options holds the HTTP settings of a Server.
type Options struct {
	RequestTimeout time.Duration
	MaxBodyBytes   int64
	TrustedProxies []string

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// Deps are the collaborators a Server routes to.
type Deps struct {
	Pipeline *pipeline.Service
	Tracker  queue.Tracker
	Pool     *importer.Pool
	Metrics  *metrics.Metrics
	// Checks are run by /readyz, keyed by component name.
	Checks map[string]Checker
}

// Server is the HTTP server for the ingestion pipeline.
type Server struct {
	deps   Deps
	opts   Options
	router *chi.Mux
	server *http.Server
}

// NewServer creates a new Server instance.
func NewServer(deps Deps, opts Options) *Server {
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = 10 << 20
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 60 * time.Second
	}
	s := &Server{
		deps:   deps,
		opts:   opts,
		router: chi.NewRouter(),
	}
	s.setupMiddleware()
	s.setupRoutes()
	return s
}

// setupMiddleware configures middleware for all routes.
func (s *Server) setupMiddleware() {
	s.router.Use(chimw.RequestID)
	s.router.Use(middleware.TrustedRealIP(s.opts.TrustedProxies))
	s.router.Use(middleware.Logger(s.deps.Metrics))
	s.router.Use(chimw.Recoverer)
	s.router.Use(chimw.Timeout(s.opts.RequestTimeout))
	s.router.Use(securityHeaders)
}

// setupRoutes configures all HTTP routes.
func (s *Server) setupRoutes() {
	s.router.Get("/healthz", s.handleLiveness)
	s.router.Get("/readyz", s.handleReadiness)
	if s.deps.Metrics != nil {
		s.router.Handle("/metrics", s.deps.Metrics.Handler())
	}

	s.router.Route("/api", func(r chi.Router) {
		r.Route("/transform", func(r chi.Router) {
			r.Post("/validate", s.handleTransform)
			r.Get("/health", textHandler("Transform Service is running"))
		})

		r.Route("/queue", func(r chi.Router) {
			r.Post("/messages", s.handleEnqueue)
			r.Get("/health", textHandler("Queue Service is running"))

			r.Post("/batches", s.handleCreateBatch)
			r.Get("/batches", s.handleListBatches)
			r.Get("/batches/{id}", s.handleGetBatch)
			r.Put("/batches/{id}/items/{index}", s.handleUpdateItem)
			r.Put("/batches/{id}/status", s.handleUpdateStatus)
			r.Delete("/batches/{id}", s.handleDeleteBatch)
		})

		r.Route("/import", func(r chi.Router) {
			r.Post("/start", s.handleStartImport)
			r.Get("/health", textHandler("Import Service is running"))
			r.Get("/workers", s.handleWorkers)
		})
	})
}

// Start begins listening for HTTP requests.
func (s *Server) Start(addr string) error {
	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  s.opts.ReadTimeout,
		WriteTimeout: s.opts.WriteTimeout,
		IdleTimeout:  s.opts.IdleTimeout,
	}

	slog.Info("starting server", "addr", addr)
	return s.server.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Router returns the underlying chi router for testing.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// securityHeaders adds security headers to all responses.
func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Prevent MIME type sniffing
		w.Header().Set("X-Content-Type-Options", "nosniff")

		// Prevent clickjacking
		w.Header().Set("X-Frame-Options", "DENY")

		// Control referrer information
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")

		next.ServeHTTP(w, r)
	})
}
