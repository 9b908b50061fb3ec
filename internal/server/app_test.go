package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/webcrawl-engine/internal/config"
	"github.com/JakeFAU/webcrawl-engine/internal/crawl"
	"github.com/JakeFAU/webcrawl-engine/internal/scan"
	memoryStorage "github.com/JakeFAU/webcrawl-engine/internal/storage/memory"
)

func testConfig(t *testing.T) config.Config {
	t.Helper()
	cfg := config.Config{
		Server:     config.ServerConfig{Port: 0, RequestTimeout: time.Second},
		Engine:     config.EngineConfig{Browser: config.BrowserNone},
		Crawl:      crawl.DefaultParams(),
		Fetch:      config.FetchConfig{Timeout: time.Second, RateLimitRPS: 5, RateLimitBurst: 1},
		Storage:    config.StorageConfig{Backend: config.BackendMemory},
		Dispatcher: config.DispatcherConfig{Workers: 2, QueueDepth: 4},
	}
	cfg.Engine.BatchSize = 1
	cfg.Scraper.Timeout = time.Second
	return cfg
}

func buildTestApp(t *testing.T, cfg config.Config) *App {
	t.Helper()
	app, err := Build(context.Background(), cfg, zap.NewNop(), WithRegisterer(prometheus.NewRegistry()))
	require.NoError(t, err)
	return app
}

func TestBuildServesHealthChecks(t *testing.T) {
	t.Parallel()

	app := buildTestApp(t, testConfig(t))
	t.Cleanup(func() { require.NoError(t, app.Close(context.Background())) })

	for _, path := range []string{"/healthz", "/readyz"} {
		rec := httptest.NewRecorder()
		app.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		require.Equal(t, http.StatusOK, rec.Code, path)
	}
}

func TestScanRejectsUnknownTask(t *testing.T) {
	t.Parallel()

	app := buildTestApp(t, testConfig(t))
	t.Cleanup(func() { require.NoError(t, app.Close(context.Background())) })

	payload, err := app.Scan(context.Background(), scan.Request{Task: "weekly"})
	require.ErrorIs(t, err, scan.ErrUnknownTask)
	require.False(t, payload.Success)
}

func TestBuildRequiresAPIKeyWhenAuthEnabled(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	cfg.Auth = config.AuthConfig{Enabled: true, APIKey: "secret"}
	app := buildTestApp(t, cfg)
	t.Cleanup(func() { require.NoError(t, app.Close(context.Background())) })

	rec := httptest.NewRecorder()
	app.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/scans", nil))
	require.Equal(t, http.StatusForbidden, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/v1/scans", nil)
	req.Header.Set("X-API-Key", "secret")
	rec = httptest.NewRecorder()
	app.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestBuildFailsOnMissingSitesDir(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	cfg.Sites.Dir = filepath.Join(t.TempDir(), "absent")
	_, err := Build(context.Background(), cfg, zap.NewNop(), WithRegisterer(prometheus.NewRegistry()))
	require.Error(t, err)
}

func TestBuildRejectsDuplicateRegistration(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	app, err := Build(context.Background(), testConfig(t), nil, WithRegisterer(reg))
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, app.Close(context.Background())) })

	_, err = Build(context.Background(), testConfig(t), nil, WithRegisterer(reg))
	require.ErrorContains(t, err, "progress metrics init failed")
}

func TestRunStopsOnCancel(t *testing.T) {
	t.Parallel()

	app := buildTestApp(t, testConfig(t))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- app.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestSetupStoresSQLite(t *testing.T) {
	t.Parallel()

	s, err := setupStores(context.Background(), config.StorageConfig{Backend: config.BackendSQLite}, zap.NewNop())
	require.Nil(t, s)
	require.Error(t, err, "empty sqlite path")

	cfg := config.StorageConfig{Backend: config.BackendSQLite}
	cfg.SQLite.Path = ":memory:"
	s, err = setupStores(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, s.Close()) })

	require.NotNil(t, s.records)
	require.Same(t, s.sink, s.history)
	_, isMemory := s.jobs.(*memoryStorage.Store)
	require.True(t, isMemory, "jobs fall back to memory")
}

func TestSetupStoresLocalTeesToMemory(t *testing.T) {
	t.Parallel()

	cfg := config.StorageConfig{Backend: config.BackendLocal}
	cfg.Local.BaseDir = t.TempDir()
	s, err := setupStores(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, s.Close()) })

	records := scan.Records{
		Payload: scan.Payload{ScanID: "scan-1", Task: scan.TaskLinks, Success: true},
		Links: []scan.LinkRecord{
			{ScanID: "scan-1", Site: "a.example", Pathname: "/p", Visited: true},
		},
	}
	require.NoError(t, s.sink.WriteScan(context.Background(), records))

	got, err := s.records.ScanRecords(context.Background(), "scan-1")
	require.NoError(t, err)
	require.Equal(t, "scan-1", got.Payload.ScanID)

	visited, err := s.history.VisitedPathnames(context.Background(), "a.example")
	require.NoError(t, err)
	require.Equal(t, []string{"/p"}, visited)
}

func TestSetupStoresMemoryDefault(t *testing.T) {
	t.Parallel()

	s, err := setupStores(context.Background(), config.StorageConfig{Backend: config.BackendMemory}, zap.NewNop())
	require.NoError(t, err)
	require.NotNil(t, s.records)
	require.NotNil(t, s.progress)
	require.NoError(t, s.Close())
}
