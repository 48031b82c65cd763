// Package server provides the HTTP API for promptforge.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/hyperjump/promptforge/internal/config"
	"github.com/hyperjump/promptforge/internal/cursor"
	"github.com/hyperjump/promptforge/internal/embedding"
	"github.com/hyperjump/promptforge/internal/ingest"
	"github.com/hyperjump/promptforge/internal/job"
	"github.com/hyperjump/promptforge/internal/rag"
	"github.com/hyperjump/promptforge/internal/refine"
	"github.com/hyperjump/promptforge/internal/seen"
	"github.com/hyperjump/promptforge/internal/session"
	"github.com/hyperjump/promptforge/internal/vector"
)

// Deps are the components the API serves. Refiner and Seen may be nil.
type Deps struct {
	Runner     *job.Runner
	Cursor     *cursor.Store
	Pipeline   *ingest.Pipeline
	Retrieval  *rag.Service
	Refiner    *refine.Service
	Sessions   *session.Store
	Index      vector.Index
	Embedder   *embedding.Provider
	Seen       seen.Registry
	Categories *config.Categories
}

// Server is the HTTP server for the promptforge API.
type Server struct {
	deps   Deps
	config *config.Config
	logger *zap.Logger
	server *http.Server
}

// NewServer creates a server with the given dependencies.
func NewServer(deps Deps, cfg *config.Config, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{deps: deps, config: cfg, logger: logger}
}

// Router builds the route table.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// Fetch runs and LLM calls can outlive the default request timeout.
	r.Post("/api/v1/runs", s.handleRun)
	r.Post("/api/v1/refine", s.handleRefine)

	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(60 * time.Second))
		r.Use(middleware.Compress(5))

		r.Get("/health", s.handleHealth)
		r.Get("/api/v1/status", s.handleStatus)

		r.Get("/api/v1/cursor", s.handleGetCursor)
		r.Delete("/api/v1/cursor", s.handleClearCursor)

		r.Post("/api/v1/similar", s.handleSimilar)
		r.Post("/api/v1/sweep", s.handleSweep)

		r.Get("/api/v1/sessions", s.handleListSessions)
		r.Post("/api/v1/sessions", s.handleCreateSession)
		r.Get("/api/v1/sessions/{id}/messages", s.handleSessionMessages)
		r.Post("/api/v1/sessions/{id}/clear", s.handleClearSession)
		r.Delete("/api/v1/sessions/{id}", s.handleDeleteSession)
		r.Get("/api/v1/history/search", s.handleSearchHistory)
	})
	return r
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Server.Host, s.config.Server.Port)
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("Starting server", zap.String("addr", addr))
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}
