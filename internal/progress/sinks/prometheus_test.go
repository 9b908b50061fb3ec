package sinks

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/webcrawl-engine/internal/progress"
)

// TestPrometheusSinkRecordsMetrics ensures counters and histograms are incremented from events.
func TestPrometheusSinkRecordsMetrics(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	sink, err := NewPrometheusSink(reg)
	require.NoError(t, err)

	now := time.Now()
	batch := []progress.Event{
		{ScanID: "s1", TS: now, Stage: progress.StageScanStart, Task: "links"},
		{ScanID: "s1", TS: now, Stage: progress.StageScanStart, Task: "links"},
		{
			ScanID:    "s1",
			TS:        now.Add(10 * time.Second),
			Stage:     progress.StageSiteDone,
			Site:      "example.com",
			Visits:    4,
			Errors:    1,
			Completed: true,
			Dur:       9 * time.Second,
		},
		{ScanID: "s1", TS: now, Stage: progress.StageBatchFail, Note: "boom"},
		{ScanID: "s1", TS: now.Add(15 * time.Second), Stage: progress.StageScanDone, Task: "links", Dur: 15 * time.Second},
	}

	require.NoError(t, sink.Consume(context.Background(), batch))

	require.Equal(t, 2.0, testutil.ToFloat64(sink.scansStarted.WithLabelValues("links")))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.scansCompleted.WithLabelValues("links", "success")))
	require.Equal(t, 0.0, testutil.ToFloat64(sink.scansCompleted.WithLabelValues("links", "error")))
	require.Equal(t, 0.0, testutil.ToFloat64(sink.scansRunning))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.batchFails))

	require.InDelta(t, 1.0, testutil.ToFloat64(sink.siteCrawls.WithLabelValues("example.com", "true")), 1e-9)
	require.InDelta(t, 4.0, testutil.ToFloat64(sink.siteVisits.WithLabelValues("example.com")), 1e-9)
	require.InDelta(t, 1.0, testutil.ToFloat64(sink.siteErrors.WithLabelValues("example.com")), 1e-9)
	require.Equal(t, 1, testutil.CollectAndCount(sink.siteDuration, "webcrawl_progress_site_duration_seconds"))
}

func TestPrometheusSinkRejectsDuplicateRegistration(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	_, err := NewPrometheusSink(reg)
	require.NoError(t, err)
	_, err = NewPrometheusSink(reg)
	require.Error(t, err)
}
