package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/driftlake/intake/internal/domain"
	"github.com/driftlake/intake/internal/inventory"
	"github.com/driftlake/intake/internal/manager"
)

// Server is the HTTP adapter over the job manager.
type Server struct {
	mgr    *manager.Manager
	mux    *http.ServeMux
	server *http.Server
	logger *slog.Logger
}

// NewServer creates the HTTP server. A non-nil gatherer adds a
// GET /metrics route for it.
func NewServer(mgr *manager.Manager, addr string, gatherer prometheus.Gatherer, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		mgr:    mgr,
		mux:    http.NewServeMux(),
		logger: logger,
	}
	s.routes(gatherer)
	s.server = &http.Server{
		Addr:    addr,
		Handler: s.mux,
	}
	return s
}

func (s *Server) routes(gatherer prometheus.Gatherer) {
	s.mux.HandleFunc("POST /jobs", s.handleCreateJob)
	s.mux.HandleFunc("GET /jobs", s.handleListJobs)
	s.mux.HandleFunc("GET /jobs/{id}", s.handleGetJob)
	s.mux.HandleFunc("POST /jobs/{id}/cancel", s.handleCancelJob)
	s.mux.HandleFunc("POST /jobs/{id}/resume", s.handleResumeJob)
	s.mux.HandleFunc("GET /jobs/{id}/analysis", s.handleAnalysis)
	s.mux.HandleFunc("POST /jobs/{id}/extract", s.handleExtract)
	s.mux.HandleFunc("POST /jobs/{id}/inventory", s.handleInventory)
	s.mux.HandleFunc("POST /cleanup", s.handleCleanup)
	s.mux.HandleFunc("GET /health", s.handleHealth)
	if gatherer != nil {
		s.mux.Handle("GET /metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}
}

// createJobRequest is the request body for POST /jobs.
type createJobRequest struct {
	URL      string `json:"url"`
	Filename string `json:"filename,omitempty"`
}

// extractRequest is the request body for POST /jobs/{id}/extract.
// Safe mode defaults to on.
type extractRequest struct {
	SafeMode *bool `json:"safe_mode"`
}

// inventoryRequest is the request body for POST /jobs/{id}/inventory.
type inventoryRequest struct {
	Recursive      *bool `json:"recursive"`
	ExtractContent *bool `json:"extract_content"`
	AnalyzeContent *bool `json:"analyze_content"`
}

// cleanupRequest is the request body for POST /cleanup.
type cleanupRequest struct {
	OlderThanHours *float64 `json:"older_than_hours"`
}

// jobResponse is the JSON shape for job endpoints.
type jobResponse struct {
	ID              string         `json:"id"`
	URL             string         `json:"url"`
	Filename        string         `json:"filename"`
	Status          string         `json:"status"`
	TotalSize       int64          `json:"total_size"`
	DownloadedSize  int64          `json:"downloaded_size"`
	Progress        float64        `json:"progress"`
	ChunksCompleted int            `json:"chunks_completed"`
	TotalChunks     int            `json:"total_chunks"`
	FileHash        string         `json:"file_hash,omitempty"`
	Error           string         `json:"error,omitempty"`
	Metadata        map[string]any `json:"metadata,omitempty"`
	CreatedAt       string         `json:"created_at"`
	UpdatedAt       string         `json:"updated_at"`
}

// errorResponse is the JSON error response.
type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	var req createJobRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.URL == "" {
		s.writeError(w, http.StatusBadRequest, "url is required")
		return
	}

	job, err := s.mgr.StartDownload(r.Context(), req.URL, req.Filename)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, jobToResponse(job))
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	status := domain.JobStatus(r.URL.Query().Get("status"))

	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			s.writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}

	jobs, err := s.mgr.List(r.Context(), status, limit)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}

	out := make([]jobResponse, 0, len(jobs))
	for _, job := range jobs {
		out = append(out, jobToResponse(job))
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"jobs": out, "count": len(out)})
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.mgr.GetStatus(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, jobToResponse(job))
}

func (s *Server) handleCancelJob(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.mgr.Cancel(r.Context(), id); err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.respondWithJob(w, r, id)
}

func (s *Server) handleResumeJob(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.mgr.Resume(r.Context(), id); err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.respondWithJob(w, r, id)
}

func (s *Server) handleAnalysis(w http.ResponseWriter, r *http.Request) {
	info, err := s.mgr.Analyze(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, info)
}

func (s *Server) handleExtract(w http.ResponseWriter, r *http.Request) {
	var req extractRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	res, err := s.mgr.Extract(r.Context(), r.PathValue("id"), boolOr(req.SafeMode, true))
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleInventory(w http.ResponseWriter, r *http.Request) {
	var req inventoryRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	opts := inventory.Options{
		Recursive:      boolOr(req.Recursive, true),
		ExtractContent: boolOr(req.ExtractContent, true),
		AnalyzeContent: boolOr(req.AnalyzeContent, false),
	}
	metas, err := s.mgr.AnalyzeFiles(r.Context(), r.PathValue("id"), opts)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"files": metas, "count": len(metas)})
}

func (s *Server) handleCleanup(w http.ResponseWriter, r *http.Request) {
	var req cleanupRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	age := 7 * 24 * time.Hour
	if req.OlderThanHours != nil {
		if *req.OlderThanHours < 0 {
			s.writeError(w, http.StatusBadRequest, "older_than_hours must not be negative")
			return
		}
		age = time.Duration(*req.OlderThanHours * float64(time.Hour))
	}

	removed, err := s.mgr.CleanupOlderThan(r.Context(), age)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]int{"removed": removed})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// respondWithJob reloads the job after a state change and returns it.
func (s *Server) respondWithJob(w http.ResponseWriter, r *http.Request, id string) {
	job, err := s.mgr.GetStatus(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, jobToResponse(job))
}

// writeServiceError maps domain sentinels onto HTTP statuses.
func (s *Server) writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrJobNotFound):
		s.writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrInvalidState):
		s.writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, domain.ErrInvalidURL):
		s.writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrSecurityViolation):
		s.writeError(w, http.StatusUnprocessableEntity, err.Error())
	default:
		s.logger.Error("request failed", "error", err)
		s.writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, errorResponse{Error: msg})
}

// decodeJSON parses an optional JSON body. An empty body leaves the
// destination zeroed so callers apply their defaults.
func decodeJSON(r *http.Request, v any) error {
	err := json.NewDecoder(r.Body).Decode(v)
	if err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func boolOr(p *bool, def bool) bool {
	if p == nil {
		return def
	}
	return *p
}

func jobToResponse(job *domain.Job) jobResponse {
	return jobResponse{
		ID:              job.ID,
		URL:             job.URL,
		Filename:        job.Filename,
		Status:          string(job.Status),
		TotalSize:       job.TotalSize,
		DownloadedSize:  job.DownloadedSize,
		Progress:        job.Progress(),
		ChunksCompleted: job.ChunksCompleted,
		TotalChunks:     job.TotalChunks,
		FileHash:        job.FileHash,
		Error:           job.Error,
		Metadata:        job.Metadata,
		CreatedAt:       job.CreatedAt.Format("2006-01-02T15:04:05Z"),
		UpdatedAt:       job.UpdatedAt.Format("2006-01-02T15:04:05Z"),
	}
}

// ListenAndServe starts the HTTP server.
func (s *Server) ListenAndServe() error {
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// ServeHTTP implements http.Handler for testing.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// Addr returns the server address.
func (s *Server) Addr() string {
	return s.server.Addr
}

// Port extracts the port from the address.
func (s *Server) Port() int {
	addr := s.server.Addr
	if idx := strings.LastIndex(addr, ":"); idx >= 0 {
		port, _ := strconv.Atoi(addr[idx+1:])
		return port
	}
	return 0
}
