package gcs_test

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	gcsclient "cloud.google.com/go/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"

	"github.com/JakeFAU/webcrawl-engine/internal/scan"
	"github.com/JakeFAU/webcrawl-engine/internal/storage/gcs"
)

// newTestStore creates a BlobStore pointed at a test server.
func newTestStore(t *testing.T, handler http.Handler) *gcs.BlobStore {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := gcsclient.NewClient(context.Background(), option.WithEndpoint(server.URL), option.WithoutAuthentication())
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	store, err := gcs.New(client, gcs.Config{Bucket: "test-bucket", Prefix: "/crawls/"})
	require.NoError(t, err)
	return store
}

func TestNewValidates(t *testing.T) {
	t.Parallel()

	_, err := gcs.New(nil, gcs.Config{Bucket: "b"})
	require.Error(t, err)
}

func TestWriteScanUploadsJSON(t *testing.T) {
	t.Parallel()

	var (
		mu   sync.Mutex
		body string
	)
	// This handler simulates the GCS JSON API for multipart uploads.
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.URL.Path, "/upload/storage/v1/b/test-bucket/o")
		assert.Equal(t, "crawls/scans/s1.json", r.URL.Query().Get("name"))
		data, err := io.ReadAll(r.Body)
		assert.NoError(t, err)
		mu.Lock()
		body = string(data)
		mu.Unlock()
		fmt.Fprintln(w, `{ "name": "crawls/scans/s1.json" }`)
	})
	store := newTestStore(t, handler)
	require.Equal(t, "crawls/scans/s1.json", store.ObjectName("s1"))

	err := store.WriteScan(context.Background(), scan.Records{
		Payload: scan.Payload{ScanID: "s1", Task: scan.TaskFrontpages, Success: true},
	})
	require.NoError(t, err)
	mu.Lock()
	defer mu.Unlock()
	require.True(t, strings.Contains(body, `"scanID":"s1"`))
	require.True(t, strings.Contains(body, "application/json"))
}

func TestWriteScanError(t *testing.T) {
	t.Parallel()

	store := newTestStore(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	err := store.WriteScan(context.Background(), scan.Records{Payload: scan.Payload{ScanID: "s1"}})
	require.ErrorContains(t, err, "upload scan s1")
	require.Error(t, store.WriteScan(context.Background(), scan.Records{}))
}
