package sinks

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/webcrawl-engine/internal/progress"
)

// PrometheusSink exports scan progress metrics via Prometheus. It owns all
// collectors for scans started/completed/running and per-site crawl counters.
type PrometheusSink struct {
	scansStarted   *prometheus.CounterVec
	scansCompleted *prometheus.CounterVec
	scansRunning   prometheus.Gauge
	scanRuntime    *prometheus.HistogramVec

	siteCrawls   *prometheus.CounterVec
	siteVisits   *prometheus.CounterVec
	siteErrors   *prometheus.CounterVec
	siteDuration *prometheus.HistogramVec
	batchFails   prometheus.Counter

	tracker *scanTracker
}

// NewPrometheusSink registers the collectors against the provided registry.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		scansStarted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "webcrawl_progress_scans_started_total",
			Help: "Scans that have started, by task.",
		}, []string{"task"}),
		scansCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "webcrawl_progress_scans_completed_total",
			Help: "Scans completed partitioned by task and result.",
		}, []string{"task", "result"}),
		scansRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "webcrawl_progress_scans_running",
			Help: "Current number of running scans.",
		}),
		scanRuntime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "webcrawl_progress_scan_runtime_seconds",
			Help:    "Wall time per finished scan.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200, 3600},
		}, []string{"result"}),
		siteCrawls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "webcrawl_progress_site_crawls_total",
			Help: "Finished site crawls partitioned by site and completion.",
		}, []string{"site", "completed"}),
		siteVisits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "webcrawl_progress_site_visits_total",
			Help: "Pages scraped per site.",
		}, []string{"site"}),
		siteErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "webcrawl_progress_site_errors_total",
			Help: "Failed visits per site.",
		}, []string{"site"}),
		siteDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "webcrawl_progress_site_duration_seconds",
			Help:    "Site crawl duration.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
		}, []string{"site"}),
		batchFails: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "webcrawl_progress_batch_failures_total",
			Help: "Crawl batches that failed before any site ran.",
		}),
		tracker: newScanTracker(),
	}
	for _, collector := range []prometheus.Collector{
		s.scansStarted,
		s.scansCompleted,
		s.scansRunning,
		s.scanRuntime,
		s.siteCrawls,
		s.siteVisits,
		s.siteErrors,
		s.siteDuration,
		s.batchFails,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the Prometheus collectors using the provided batch. It is
// safe for concurrent use by multiple goroutines.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		s.consumeEvent(evt)
	}
	return nil
}

func (s *PrometheusSink) consumeEvent(evt progress.Event) {
	switch evt.Stage {
	case progress.StageScanStart, progress.StageScanDone, progress.StageScanError:
		s.handleScanEvent(evt)
	case progress.StageSiteDone:
		s.handleSiteEvent(evt)
	case progress.StageBatchFail:
		s.batchFails.Inc()
	}
}

func (s *PrometheusSink) handleScanEvent(evt progress.Event) {
	switch evt.Stage {
	case progress.StageScanStart:
		s.scansStarted.WithLabelValues(evt.Task).Inc()
		if s.tracker.start(evt.ScanID) {
			s.scansRunning.Inc()
		}
		return
	case progress.StageScanDone:
		s.scansCompleted.WithLabelValues(evt.Task, "success").Inc()
		s.observeRuntime(evt, "success")
	case progress.StageScanError:
		s.scansCompleted.WithLabelValues(evt.Task, "error").Inc()
		s.observeRuntime(evt, "error")
	}
	if s.tracker.complete(evt.ScanID) {
		s.scansRunning.Dec()
	}
}

func (s *PrometheusSink) observeRuntime(evt progress.Event, label string) {
	if evt.Dur > 0 {
		s.scanRuntime.WithLabelValues(label).Observe(evt.Dur.Seconds())
	}
}

func (s *PrometheusSink) handleSiteEvent(evt progress.Event) {
	s.siteCrawls.WithLabelValues(evt.Site, strconv.FormatBool(evt.Completed)).Inc()
	if evt.Visits > 0 {
		s.siteVisits.WithLabelValues(evt.Site).Add(float64(evt.Visits))
	}
	if evt.Errors > 0 {
		s.siteErrors.WithLabelValues(evt.Site).Add(float64(evt.Errors))
	}
	if evt.Dur > 0 {
		s.siteDuration.WithLabelValues(evt.Site).Observe(evt.Dur.Seconds())
	}
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}

type scanTracker struct {
	mu      sync.Mutex
	running map[string]struct{}
}

func newScanTracker() *scanTracker {
	return &scanTracker{running: make(map[string]struct{})}
}

func (t *scanTracker) start(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; ok {
		return false
	}
	t.running[id] = struct{}{}
	return true
}

func (t *scanTracker) complete(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; !ok {
		return false
	}
	delete(t.running, id)
	return true
}
