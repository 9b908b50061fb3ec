// Package api exposes the HTTP interface for the crawler service.
package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/webcrawl-engine/internal/crawl"
	"github.com/JakeFAU/webcrawl-engine/internal/metrics"
	"github.com/JakeFAU/webcrawl-engine/internal/scan"
)

const defaultRequestTimeout = 60 * time.Second

// Submitter queues scan requests. The dispatcher implements it.
type Submitter interface {
	Submit(ctx context.Context, req scan.Request) (scan.Job, error)
}

// Config tunes the HTTP surface.
type Config struct {
	// APIKey enables key checking on /v1 routes when non-empty.
	APIKey         string
	RequestTimeout time.Duration
}

// Server wires HTTP handlers to the dispatcher and stores.
type Server struct {
	router    chi.Router
	submitter Submitter
	jobs      scan.JobStore
	records   scan.RecordReader
	progress  *ProgressHandler
	logger    *zap.Logger
}

// NewServer constructs a Server with middleware and routes. records may be
// nil when the storage backend cannot read scans back.
func NewServer(
	submitter Submitter,
	jobs scan.JobStore,
	records scan.RecordReader,
	progress scan.ProgressRepository,
	cfg Config,
	logger *zap.Logger,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}
	s := &Server{
		submitter: submitter,
		jobs:      jobs,
		records:   records,
		progress:  NewProgressHandler(jobs, progress, logger),
		logger:    logger,
	}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(metrics.Middleware)
	r.Use(timeoutMiddleware(timeout))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		if cfg.APIKey != "" {
			r.Use(apiKeyMiddleware(cfg.APIKey))
		}
		r.Route("/scans", func(r chi.Router) {
			r.Post("/", s.submitScan)
			r.Get("/", s.progress.ListScans)
			r.Route("/{scan_id}", func(r chi.Router) {
				r.Get("/", s.progress.GetScan)
				r.Get("/result", s.getScanResult)
				r.Get("/sites", s.progress.ListScanSites)
			})
		})
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
	if s.submitter == nil || s.jobs == nil {
		writeError(w, http.StatusServiceUnavailable, "scan dispatcher unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// submitScan handles POST /v1/scans. The body is a scan request:
//
//	{"task":"links","sites":["example.com"],"seeds":["https://example.com/a"],"params":{"maxVisits":10}}
func (s *Server) submitScan(w http.ResponseWriter, r *http.Request) {
	if s.submitter == nil {
		writeError(w, http.StatusServiceUnavailable, "scan dispatcher unavailable")
		return
	}
	var req scanRequest
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if err := req.validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	job, err := s.submitter.Submit(r.Context(), req.toScanRequest())
	if err != nil {
		switch {
		case errors.Is(err, scan.ErrUnknownTask):
			writeError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, context.DeadlineExceeded):
			writeError(w, http.StatusRequestTimeout, err.Error())
		default:
			s.logger.Error("submit scan failed", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "failed to submit scan")
		}
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{
		"scan_id": job.ID,
		"status":  string(job.Status),
	})
}

// getScanResult handles GET /v1/scans/{scan_id}/result and returns every
// record the scan wrote.
func (s *Server) getScanResult(w http.ResponseWriter, r *http.Request) {
	if s.records == nil {
		writeError(w, http.StatusServiceUnavailable, "scan records unavailable for this storage backend")
		return
	}
	scanID := chi.URLParam(r, "scan_id")
	records, err := s.records.ScanRecords(r.Context(), scanID)
	if err != nil {
		if errors.Is(err, scan.ErrScanNotFound) {
			writeError(w, http.StatusNotFound, "scan result not found")
			return
		}
		s.logger.Error("load scan records failed", zap.String("scan_id", scanID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load scan result")
		return
	}
	writeJSON(w, http.StatusOK, records)
}

type scanRequest struct {
	Task   string          `json:"task"`
	Sites  []string        `json:"sites"`
	Seeds  []string        `json:"seeds"`
	Params crawl.Overrides `json:"params"`
}

func (req scanRequest) validate() error {
	if strings.TrimSpace(req.Task) == "" {
		return errors.New("task required")
	}
	for name, v := range map[string]*int{
		"maxVisits":  req.Params.MaxVisits,
		"queueLimit": req.Params.QueueLimit,
		"errorLimit": req.Params.ErrorLimit,
		"skipLimit":  req.Params.SkipLimit,
	} {
		if v != nil && *v < 0 {
			return fmt.Errorf("params.%s must be >= 0", name)
		}
	}
	return nil
}

func (req scanRequest) toScanRequest() scan.Request {
	return scan.Request{
		Task:   scan.Task(req.Task),
		Sites:  cloneStringSlice(req.Sites),
		Seeds:  cloneStringSlice(req.Seeds),
		Params: req.Params,
	}
}

func cloneStringSlice(src []string) []string {
	if len(src) == 0 {
		return nil
	}
	dst := make([]string, len(src))
	copy(dst, src)
	return dst
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("X-Request-ID")
		if reqID == "" {
			reqID = uuid.NewString()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequestID returns the request ID stored by the server middleware.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

func loggingMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(ww, r)
			logger.Info("request completed",
				zap.String("request_id", RequestID(r.Context())),
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
					logger.Error("panic recovered",
						zap.String("request_id", RequestID(r.Context())),
						zap.Any("error", rec),
					)
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
