package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/hyperjump/docsearch/internal/models"
)

const maxBodyBytes = 1 << 20

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var query models.SearchQuery
	if !s.decode(w, r, &query) {
		return
	}
	s.logger.Debug("search request", zap.String("query", query.Query), zap.String("tech", query.Tech), zap.Int("top_k", query.TopK))
	resp, err := s.svc.Search(r.Context(), query)
	if err != nil {
		s.respondErr(w, "search", err)
		return
	}
	s.respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleBuild(w http.ResponseWriter, r *http.Request) {
	var req models.BuildRequest
	if !s.decode(w, r, &req) {
		return
	}
	s.logger.Debug("build request", zap.String("tech", req.TechFilter), zap.Bool("clear", req.Clear))
	report, err := s.svc.Build(r.Context(), req)
	if err != nil {
		s.respondErr(w, "build", err)
		return
	}
	s.respondJSON(w, http.StatusOK, report)
}

func (s *Server) handleGetChunk(w http.ResponseWriter, r *http.Request) {
	chunk, err := s.svc.GetChunk(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.respondErr(w, "get chunk", err)
		return
	}
	s.respondJSON(w, http.StatusOK, chunk)
}

func (s *Server) handleTechnologies(w http.ResponseWriter, r *http.Request) {
	techs, err := s.svc.ListTechnologies(r.Context())
	if err != nil {
		s.respondErr(w, "list technologies", err)
		return
	}
	if techs == nil {
		techs = []string{}
	}
	s.respondJSON(w, http.StatusOK, map[string][]string{"technologies": techs})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.svc.Stats(r.Context())
	if err != nil {
		s.respondErr(w, "stats", err)
		return
	}
	s.respondJSON(w, http.StatusOK, stats)
}

func (s *Server) handleCheck(w http.ResponseWriter, r *http.Request) {
	result, err := s.svc.Check(r.Context())
	if err != nil {
		s.respondErr(w, "check", err)
		return
	}
	s.respondJSON(w, http.StatusOK, result)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// decode reads a JSON body into v. An empty body leaves v at its zero value.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(v)
	if err != nil && !errors.Is(err, io.EOF) {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, models.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, models.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, models.ErrBuildInProgress):
		return http.StatusConflict
	case errors.Is(err, models.ErrServiceUnavailable), errors.Is(err, models.ErrBackendUnavailable):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func (s *Server) respondErr(w http.ResponseWriter, op string, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error(op+" failed", zap.Error(err))
	} else {
		s.logger.Debug(op+" rejected", zap.Error(err))
	}
	s.respondError(w, status, err.Error())
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}
