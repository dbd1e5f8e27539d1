package status

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/manthysbr/pdfmill/internal/core/domain"
)

// JobReader is the read side of the job service.
type JobReader interface {
	Get(ctx context.Context, kind domain.JobKind, id domain.JobID, token string) (domain.JobDTO, error)
	Health(ctx context.Context) ([]domain.StatusMetric, error)
}

// Server exposes job status and health over HTTP. Submitting jobs is not
// part of this surface.
type Server struct {
	logger *slog.Logger
	jobs   JobReader
}

func NewServer(logger *slog.Logger, jobs JobReader) *Server {
	return &Server{logger: logger, jobs: jobs}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /{kind}/{id}", s.handleGetJob)
	return mux
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	metrics, err := s.jobs.Health(r.Context())
	if err != nil {
		s.logger.Error("health query failed", "error", err)
		writeError(w, http.StatusServiceUnavailable, "job store unavailable")
		return
	}
	writeJSON(w, http.StatusOK, metrics)
}

// handleGetJob answers 404 for unknown kinds, ids and wrong tokens alike.
func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	kind, err := domain.ParseJobKind(r.PathValue("kind"))
	if err != nil {
		writeError(w, http.StatusNotFound, "not found")
		return
	}

	dto, err := s.jobs.Get(r.Context(), kind, domain.JobID(r.PathValue("id")), r.URL.Query().Get("token"))
	switch {
	case errors.Is(err, domain.ErrJobNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case err != nil:
		s.logger.Error("job lookup failed", "kind", kind, "job_id", r.PathValue("id"), "error", err)
		writeError(w, http.StatusInternalServerError, "job lookup failed")
	default:
		writeJSON(w, http.StatusOK, dto)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
