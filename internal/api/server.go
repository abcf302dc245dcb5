// Package api exposes the HTTP interface for the persona service.
package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sjkd23/PagePersona-sub002/internal/config"
	"github.com/sjkd23/PagePersona-sub002/internal/metrics"
	"github.com/sjkd23/PagePersona-sub002/internal/persona"
	"github.com/sjkd23/PagePersona-sub002/internal/transform"
)

// Server wires HTTP handlers to the transformation service.
type Server struct {
	router   chi.Router
	service  *transform.Service
	personas *persona.Registry
	cfg      config.Config
	logger   *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(
	service *transform.Service,
	personas *persona.Registry,
	cfg config.Config,
	logger *zap.Logger,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		service:  service,
		personas: personas,
		cfg:      cfg,
		logger:   logger,
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(timeoutMiddleware(60 * time.Second))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		if cfg.Auth.Enabled {
			r.Use(apiKeyMiddleware(cfg.Auth.APIKey))
		}
		r.Route("/transform", func(r chi.Router) {
			r.Post("/", s.submitURL)
			r.Post("/text", s.submitText)
			r.Get("/personas", s.listPersonas)
			r.Get("/jobs/{job_id}", s.getJob)
		})
		if cfg.Server.EnableAdmin {
			r.Route("/admin", func(r chi.Router) {
				r.Get("/cache/stats", s.cacheStats)
				r.Delete("/cache", s.clearCache)
			})
		}
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	// In-memory dependencies are always ready; downstream checks would go
	// here for external stores.
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type urlTransformRequest struct {
	URL     string `json:"url"`
	Persona string `json:"persona"`
	UserID  string `json:"user_id"`
}

type textTransformRequest struct {
	Text    string `json:"text"`
	Persona string `json:"persona"`
	UserID  string `json:"user_id"`
}

func (s *Server) submitURL(w http.ResponseWriter, r *http.Request) {
	var req urlTransformRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	s.submit(w, r, transform.Request{
		Kind:    transform.KindURL,
		URL:     req.URL,
		Persona: req.Persona,
		UserID:  req.UserID,
	})
}

func (s *Server) submitText(w http.ResponseWriter, r *http.Request) {
	var req textTransformRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	s.submit(w, r, transform.Request{
		Kind:    transform.KindText,
		Text:    req.Text,
		Persona: req.Persona,
		UserID:  req.UserID,
	})
}

func (s *Server) submit(w http.ResponseWriter, r *http.Request, req transform.Request) {
	sub, err := s.service.Submit(r.Context(), req)
	if err != nil {
		switch {
		case errors.Is(err, transform.ErrInvalidRequest):
			writeError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, transform.ErrQuotaExceeded):
			writeError(w, http.StatusTooManyRequests, "quota exceeded")
		case errors.Is(err, context.DeadlineExceeded):
			writeError(w, http.StatusServiceUnavailable, "pipeline is saturated, retry later")
		default:
			s.logger.Error("submission failed", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "internal error")
		}
		return
	}

	if sub.Status == transform.StatusDone {
		writeJSON(w, http.StatusOK, submissionResponse(sub))
		return
	}
	writeJSON(w, http.StatusAccepted, submissionResponse(sub))
}

func (s *Server) getJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	job, err := s.service.Poll(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, transform.ErrNotFound) {
			writeError(w, http.StatusNotFound, "job not found")
			return
		}
		s.logger.Error("job lookup failed", zap.String("job_id", jobID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, jobResponse(job))
}

func (s *Server) listPersonas(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"personas": s.personas.List()})
}

func (s *Server) cacheStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.service.CacheStats())
}

func (s *Server) clearCache(w http.ResponseWriter, _ *http.Request) {
	s.service.ClearCache()
	writeJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
}

type resultDTO struct {
	Persona     string    `json:"persona"`
	SourceURL   string    `json:"source_url,omitempty"`
	Content     string    `json:"content"`
	Model       string    `json:"model"`
	GeneratedAt time.Time `json:"generated_at"`
}

type jobErrorDTO struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

type jobDTO struct {
	JobID     string       `json:"job_id"`
	Status    string       `json:"status"`
	Stage     string       `json:"stage,omitempty"`
	Progress  int          `json:"progress"`
	Result    *resultDTO   `json:"result,omitempty"`
	Error     *jobErrorDTO `json:"error,omitempty"`
	CreatedAt time.Time    `json:"created_at"`
	UpdatedAt time.Time    `json:"updated_at"`
}

type submissionDTO struct {
	JobID  string     `json:"job_id"`
	Status string     `json:"status"`
	Cached bool       `json:"cached"`
	Result *resultDTO `json:"result,omitempty"`
}

func submissionResponse(sub transform.Submission) submissionDTO {
	return submissionDTO{
		JobID:  sub.JobID,
		Status: string(sub.Status),
		Cached: sub.Cached,
		Result: resultFor(sub.Result),
	}
}

func jobResponse(job transform.Job) jobDTO {
	dto := jobDTO{
		JobID:     job.ID,
		Status:    string(job.Status),
		Stage:     string(job.Stage),
		Progress:  job.Progress,
		Result:    resultFor(job.Result),
		CreatedAt: job.CreatedAt,
		UpdatedAt: job.UpdatedAt,
	}
	if job.Error != nil {
		dto.Error = &jobErrorDTO{Kind: string(job.Error.Kind), Message: job.Error.Message}
	}
	return dto
}

func resultFor(result *transform.Result) *resultDTO {
	if result == nil {
		return nil
	}
	return &resultDTO{
		Persona:     result.Persona,
		SourceURL:   result.SourceURL,
		Content:     result.Content,
		Model:       result.Model,
		GeneratedAt: result.GeneratedAt,
	}
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.NewString()
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func loggingMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(ww, r)

			route := chi.RouteContext(r.Context()).RoutePattern()
			metrics.ObserveHTTPRequest(r.Method, route, ww.status, time.Since(start))
			logger.Info("request completed",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.status),
				zap.Int64("duration_ms", time.Since(start).Milliseconds()),
			)
		})
	}
}

func recoverMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("panic recovered", zap.Any("error", rec))
					writeError(w, http.StatusInternalServerError, "internal server error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

func apiKeyMiddleware(expected string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("X-API-Key")
			if key == "" {
				key = r.URL.Query().Get("api_key")
			}
			if key != expected {
				writeError(w, http.StatusForbidden, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	if err != nil {
		return n, fmt.Errorf("write response: %w", err)
	}
	return n, nil
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := rw.ResponseWriter.(http.Hijacker); ok {
		conn, buf, err := h.Hijack()
		if err != nil {
			return nil, nil, fmt.Errorf("hijack connection: %w", err)
		}
		return conn, buf, nil
	}
	return nil, nil, errors.New("hijacker not supported")
}

type requestIDKey struct{}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
