// Package server provides the HTTP API for docsearch.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/hyperjump/docsearch/internal/config"
	"github.com/hyperjump/docsearch/internal/manager"
	"github.com/hyperjump/docsearch/internal/models"
)

// Service is the index the server exposes. *manager.Manager implements it.
type Service interface {
	Build(ctx context.Context, req models.BuildRequest) (*models.JobReport, error)
	Search(ctx context.Context, query models.SearchQuery) (*models.SearchResponse, error)
	GetChunk(ctx context.Context, id string) (*models.Chunk, error)
	ListTechnologies(ctx context.Context) ([]string, error)
	Stats(ctx context.Context) (*models.Stats, error)
	Check(ctx context.Context) (*manager.CheckResult, error)
}

var _ Service = (*manager.Manager)(nil)

// Server is the HTTP server for the docsearch API.
type Server struct {
	svc    Service
	config *config.ServerConfig
	logger *zap.Logger
	router chi.Router
	server *http.Server
}

// NewServer creates a server over svc.
func NewServer(svc Service, cfg *config.ServerConfig, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{svc: svc, config: cfg, logger: logger}
	s.router = s.routes()
	return s
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))

	r.Get("/health", s.handleHealth)
	r.Route("/api/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(60 * time.Second))
			r.Post("/search", s.handleSearch)
			r.Get("/chunks/{id}", s.handleGetChunk)
			r.Get("/technologies", s.handleTechnologies)
			r.Get("/stats", s.handleStats)
			r.Get("/check", s.handleCheck)
		})
		// Builds run as long as the corpus needs.
		r.Post("/build", s.handleBuild)
	})
	return r
}

// Handler returns the routed handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("starting server", zap.String("addr", addr))
	return s.server.ListenAndServe()
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}
