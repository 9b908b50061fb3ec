package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/webcrawl-engine/internal/scan"
)

const (
	defaultJobLimit   = 50
	maxJobLimit       = 500
	defaultSitesLimit = 100
	maxSitesLimit     = 1000
	progressTimeout   = 3 * time.Second
)

// ProgressHandler exposes read-only scan progress endpoints.
type ProgressHandler struct {
	jobs     scan.JobStore
	progress scan.ProgressRepository
	timeout  time.Duration
	logger   *zap.Logger
}

// NewProgressHandler wires the stores and logger. Either store may be nil;
// the matching endpoints then answer 503.
func NewProgressHandler(jobs scan.JobStore, progress scan.ProgressRepository, logger *zap.Logger) *ProgressHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ProgressHandler{
		jobs:     jobs,
		progress: progress,
		timeout:  progressTimeout,
		logger:   logger,
	}
}

// ListScans handles GET /v1/scans?status=&limit=&offset=. It returns a JSON
// object {"scans": [...]} on success, 400 for invalid filters, 503 when the
// job store is unavailable, or 500 if the store call fails.
func (h *ProgressHandler) ListScans(w http.ResponseWriter, r *http.Request) {
	if h.jobs == nil {
		writeError(w, http.StatusServiceUnavailable, "job store unavailable")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	limit, offset, err := parseLimitOffset(r, defaultJobLimit, maxJobLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var status *scan.JobStatus
	if statusParam := strings.TrimSpace(r.URL.Query().Get("status")); statusParam != "" {
		statusVal, parseErr := parseStatus(statusParam)
		if parseErr != nil {
			writeError(w, http.StatusBadRequest, parseErr.Error())
			return
		}
		status = &statusVal
	}
	jobs, err := h.jobs.ListJobs(ctx, status, limit, offset)
	if err != nil {
		h.logger.Error("list scans failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list scans")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"scans": toJobDTOs(jobs),
	})
}

// GetScan handles GET /v1/scans/{scan_id}. It returns {"scan": {...}} on
// success and 404 when the store reports scan.ErrJobNotFound.
func (h *ProgressHandler) GetScan(w http.ResponseWriter, r *http.Request) {
	if h.jobs == nil {
		writeError(w, http.StatusServiceUnavailable, "job store unavailable")
		return
	}
	scanID, err := parseScanID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	job, err := h.jobs.GetJob(ctx, scanID)
	if err != nil {
		if errors.Is(err, scan.ErrJobNotFound) {
			writeError(w, http.StatusNotFound, "scan not found")
			return
		}
		h.logger.Error("get scan failed", zap.String("scan_id", scanID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load scan")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"scan": toJobDTO(job)})
}

// ListScanSites handles GET /v1/scans/{scan_id}/sites?limit=&offset=. It
// returns {"sites": [...]} ordered by site name.
func (h *ProgressHandler) ListScanSites(w http.ResponseWriter, r *http.Request) {
	if h.progress == nil {
		writeError(w, http.StatusServiceUnavailable, "progress repository unavailable")
		return
	}
	scanID, err := parseScanID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	limit, offset, err := parseLimitOffset(r, defaultSitesLimit, maxSitesLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	sites, err := h.progress.ListSiteProgress(ctx, scanID)
	if err != nil {
		h.logger.Error("list scan sites failed", zap.String("scan_id", scanID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list scan sites")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"sites": toSiteDTOs(page(sites, limit, offset)),
	})
}

func parseScanID(r *http.Request) (string, error) {
	scanID := strings.TrimSpace(chi.URLParam(r, "scan_id"))
	if scanID == "" {
		return "", errors.New("scan_id is required")
	}
	return scanID, nil
}

func parseLimitOffset(r *http.Request, def, maxLimit int) (int, int, error) {
	q := r.URL.Query()
	limit := def
	if limStr := q.Get("limit"); limStr != "" {
		val, err := strconv.Atoi(limStr)
		if err != nil || val <= 0 {
			return 0, 0, errors.New("invalid limit")
		}
		if val > maxLimit {
			val = maxLimit
		}
		limit = val
	}
	offset := 0
	if offStr := q.Get("offset"); offStr != "" {
		val, err := strconv.Atoi(offStr)
		if err != nil || val < 0 {
			return 0, 0, errors.New("invalid offset")
		}
		offset = val
	}
	return limit, offset, nil
}

func parseStatus(input string) (scan.JobStatus, error) {
	switch strings.ToLower(input) {
	case "queued", "pending":
		return scan.JobQueued, nil
	case "running":
		return scan.JobRunning, nil
	case "succeeded", "success":
		return scan.JobSucceeded, nil
	case "failed", "error", "failure":
		return scan.JobFailed, nil
	default:
		return "", errors.New("invalid status")
	}
}

func page[T any](in []T, limit, offset int) []T {
	if offset >= len(in) {
		return nil
	}
	in = in[offset:]
	if limit < len(in) {
		in = in[:limit]
	}
	return in
}

func toJobDTOs(in []scan.Job) []jobDTO {
	out := make([]jobDTO, 0, len(in))
	for _, job := range in {
		out = append(out, toJobDTO(job))
	}
	return out
}

func toJobDTO(job scan.Job) jobDTO {
	dto := jobDTO{
		ID:        job.ID,
		Task:      string(job.Request.Task),
		Sites:     job.Request.Sites,
		Status:    string(job.Status),
		Submitted: job.Submitted,
		Started:   job.Started,
		Finished:  job.Finished,
	}
	if p := job.Payload; p != nil {
		success := p.Success
		dto.Success = &success
		dto.Stats = p.Stats
		if p.Error != "" {
			msg := p.Error
			dto.Error = &msg
		}
	}
	return dto
}

func toSiteDTOs(in []scan.SiteProgress) []siteDTO {
	out := make([]siteDTO, 0, len(in))
	for _, s := range in {
		out = append(out, siteDTO{
			Site:       s.Site,
			LastUpdate: s.LastUpdate,
			Visits:     s.Visits,
			Errors:     s.Errors,
			Completed:  s.Completed,
		})
	}
	return out
}

type jobDTO struct {
	ID        string      `json:"id"`
	Task      string      `json:"task"`
	Sites     []string    `json:"sites,omitempty"`
	Status    string      `json:"status"`
	Submitted time.Time   `json:"submitted"`
	Started   *time.Time  `json:"started,omitempty"`
	Finished  *time.Time  `json:"finished,omitempty"`
	Success   *bool       `json:"success,omitempty"`
	Stats     *scan.Stats `json:"stats,omitempty"`
	Error     *string     `json:"error,omitempty"`
}

type siteDTO struct {
	Site       string    `json:"site"`
	LastUpdate time.Time `json:"last_update"`
	Visits     int64     `json:"visits"`
	Errors     int64     `json:"errors"`
	Completed  bool      `json:"completed"`
}
