package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/webcrawl-engine/internal/scan"
	"github.com/JakeFAU/webcrawl-engine/internal/storage/memory"
)

func seededStore(t *testing.T) *memory.Store {
	t.Helper()
	store := memory.New()
	ctx := context.Background()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, store.CreateJob(ctx, scan.Job{
		ID: "scan-a", Request: scan.Request{Task: scan.TaskLinks}, Status: scan.JobQueued, Submitted: base,
	}))
	require.NoError(t, store.CreateJob(ctx, scan.Job{
		ID: "scan-b", Request: scan.Request{Task: scan.TaskIndexes}, Status: scan.JobQueued, Submitted: base.Add(time.Minute),
	}))
	require.NoError(t, store.UpdateJob(ctx, "scan-b", scan.JobSucceeded, &scan.Payload{
		ScanID: "scan-b", Task: scan.TaskIndexes, Success: true, Stats: &scan.Stats{Sites: 2},
	}))
	for _, site := range []string{"b.example", "a.example", "c.example"} {
		require.NoError(t, store.RecordSiteProgress(ctx, scan.SiteProgress{
			ScanID: "scan-b", Site: site, Visits: 3, Completed: true, LastUpdate: base,
		}))
	}
	return store
}

func TestProgressHandlerListScans(t *testing.T) {
	t.Parallel()

	store := seededStore(t)
	handler := NewProgressHandler(store, store, zap.NewNop())

	req := httptest.NewRequest(http.MethodGet, "/v1/scans?status=success&limit=10", nil)
	rec := httptest.NewRecorder()
	handler.ListScans(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Scans []jobDTO `json:"scans"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Scans, 1)
	require.Equal(t, "scan-b", body.Scans[0].ID)
	require.Equal(t, "indexes", body.Scans[0].Task)
	require.NotNil(t, body.Scans[0].Success)
	require.True(t, *body.Scans[0].Success)
	require.Equal(t, 2, body.Scans[0].Stats.Sites)
}

func TestProgressHandlerListScansInvalidStatus(t *testing.T) {
	t.Parallel()

	handler := NewProgressHandler(memory.New(), nil, zap.NewNop())
	rec := httptest.NewRecorder()
	handler.ListScans(rec, httptest.NewRequest(http.MethodGet, "/v1/scans?status=bogus", nil))
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestProgressHandlerListScansStoreError(t *testing.T) {
	t.Parallel()

	handler := NewProgressHandler(&failingJobs{err: errors.New("db down")}, nil, zap.NewNop())
	rec := httptest.NewRecorder()
	handler.ListScans(rec, httptest.NewRequest(http.MethodGet, "/v1/scans", nil))
	require.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestProgressHandlerGetScan(t *testing.T) {
	t.Parallel()

	store := seededStore(t)
	handler := NewProgressHandler(store, store, zap.NewNop())

	req := withScanIDParam(httptest.NewRequest(http.MethodGet, "/v1/scans/scan-a", nil), "scan-a")
	rec := httptest.NewRecorder()
	handler.GetScan(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"status":"queued"`)

	req = withScanIDParam(httptest.NewRequest(http.MethodGet, "/v1/scans/nope", nil), "nope")
	rec = httptest.NewRecorder()
	handler.GetScan(rec, req)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestProgressHandlerListScanSites(t *testing.T) {
	t.Parallel()

	store := seededStore(t)
	handler := NewProgressHandler(store, store, zap.NewNop())

	req := withScanIDParam(httptest.NewRequest(http.MethodGet, "/v1/scans/scan-b/sites?limit=2&offset=1", nil), "scan-b")
	rec := httptest.NewRecorder()
	handler.ListScanSites(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Sites []siteDTO `json:"sites"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Sites, 2)
	require.Equal(t, "b.example", body.Sites[0].Site)
	require.Equal(t, "c.example", body.Sites[1].Site)
}

func TestProgressHandlerListScanSitesInvalidLimit(t *testing.T) {
	t.Parallel()

	handler := NewProgressHandler(nil, memory.New(), zap.NewNop())
	req := withScanIDParam(httptest.NewRequest(http.MethodGet, "/v1/scans/x/sites?limit=-1", nil), "x")
	rec := httptest.NewRecorder()
	handler.ListScanSites(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestProgressHandlerUnavailable(t *testing.T) {
	t.Parallel()

	handler := NewProgressHandler(nil, nil, zap.NewNop())
	req := withScanIDParam(httptest.NewRequest(http.MethodGet, "/v1/scans/x/sites", nil), "x")
	rec := httptest.NewRecorder()
	handler.ListScanSites(rec, req)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = httptest.NewRecorder()
	handler.GetScan(rec, req)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestParseStatus(t *testing.T) {
	t.Parallel()

	tests := map[string]scan.JobStatus{
		"queued":    scan.JobQueued,
		"RUNNING":   scan.JobRunning,
		"success":   scan.JobSucceeded,
		"succeeded": scan.JobSucceeded,
		"error":     scan.JobFailed,
		"failed":    scan.JobFailed,
	}
	for in, want := range tests {
		got, err := parseStatus(in)
		require.NoError(t, err, in)
		require.Equal(t, want, got, in)
	}
	_, err := parseStatus("done")
	require.Error(t, err)
}

func TestPage(t *testing.T) {
	t.Parallel()

	in := []int{1, 2, 3, 4}
	require.Equal(t, []int{1, 2}, page(in, 2, 0))
	require.Equal(t, []int{3, 4}, page(in, 10, 2))
	require.Nil(t, page(in, 2, 4))
}

type failingJobs struct {
	err error
}

func (f *failingJobs) CreateJob(context.Context, scan.Job) error { return f.err }

func (f *failingJobs) UpdateJob(context.Context, string, scan.JobStatus, *scan.Payload) error {
	return f.err
}

func (f *failingJobs) GetJob(context.Context, string) (scan.Job, error) { return scan.Job{}, f.err }

func (f *failingJobs) ListJobs(context.Context, *scan.JobStatus, int, int) ([]scan.Job, error) {
	return nil, f.err
}

func withScanIDParam(r *http.Request, scanID string) *http.Request {
	ctx := chi.NewRouteContext()
	ctx.URLParams.Add("scan_id", scanID)
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, ctx))
}
