// Package metrics exposes Prometheus collectors for the crawl engine and its API.
package metrics

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Page outcomes recorded by ObservePage.
const (
	OutcomeVisited = "visited"
	OutcomeSkipped = "skipped"
	OutcomeFailed  = "failed"
)

var (
	crawlerPagesTotal                    *prometheus.CounterVec
	crawlerBytesTotal                    *prometheus.CounterVec
	crawlerScrapeDurationSeconds         *prometheus.HistogramVec
	crawlerSiteCrawlsTotal               *prometheus.CounterVec
	crawlerBatchErrorsTotal              prometheus.Counter
	crawlerScansTotal                    *prometheus.CounterVec
	crawlerActiveScans                   prometheus.Gauge
	crawlerRobotsUnreachableTotal        prometheus.Counter
	crawlerRateLimitDelaysSeconds        *prometheus.HistogramVec
	httpRequestsTotal                    *prometheus.CounterVec
	httpRequestDurationSeconds           *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		crawlerPagesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_pages_total",
				Help: "Total number of crawl loop visits, labeled by site and outcome.",
			},
			[]string{"site", "outcome"},
		)

		crawlerBytesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_bytes_total",
				Help: "Total number of bytes fetched over HTTP, labeled by site.",
			},
			[]string{"site"},
		)

		crawlerScrapeDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "crawler_scrape_duration_seconds",
				Help:    "Histogram of page scrape durations, labeled by site and method.",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"site", "method"},
		)

		crawlerSiteCrawlsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_site_crawls_total",
				Help: "Total number of site crawls, labeled by completion.",
			},
			[]string{"completed"},
		)

		crawlerBatchErrorsTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "crawler_batch_errors_total",
				Help: "Total number of engine batches that failed to set up.",
			},
		)

		crawlerScansTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_scans_total",
				Help: "Total number of scans run, labeled by task and status.",
			},
			[]string{"task", "status"},
		)

		crawlerActiveScans = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "crawler_active_scans",
				Help: "Number of scans currently running.",
			},
		)

		crawlerRobotsUnreachableTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "crawler_robots_unreachable_total",
				Help: "robots.txt fetches that timed out on every attempt.",
			},
		)

		crawlerRateLimitDelaysSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "crawler_rate_limit_delays_seconds",
				Help:    "Histogram of per-host safety limiter wait durations.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"domain"},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)
	})
}

// SanitizeSite sanitizes a URL to extract a lowercase hostname.
// It returns "unknown" if the URL is invalid.
func SanitizeSite(rawURL string) string {
	if !strings.HasPrefix(rawURL, "http") {
		rawURL = "http://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObservePage counts one crawl loop visit for site.
func ObservePage(site, outcome string) {
	Init()
	crawlerPagesTotal.WithLabelValues(SanitizeSite(site), outcome).Inc()
}

// ObserveFetch records bytes fetched over HTTP for site.
func ObserveFetch(site string, bytesFetched int) {
	Init()
	if bytesFetched > 0 {
		crawlerBytesTotal.WithLabelValues(SanitizeSite(site)).Add(float64(bytesFetched))
	}
}

// ObserveScrape records how long one page scrape took.
func ObserveScrape(site, method string, duration time.Duration) {
	Init()
	crawlerScrapeDurationSeconds.WithLabelValues(SanitizeSite(site), method).Observe(duration.Seconds())
}

// ObserveSiteCrawl counts a finished site crawl.
func ObserveSiteCrawl(completed bool) {
	Init()
	crawlerSiteCrawlsTotal.WithLabelValues(strconv.FormatBool(completed)).Inc()
}

// ObserveBatchError counts a failed engine batch.
func ObserveBatchError() {
	Init()
	crawlerBatchErrorsTotal.Inc()
}

// ObserveScan counts a finished scan.
func ObserveScan(task, status string) {
	Init()
	crawlerScansTotal.WithLabelValues(task, status).Inc()
}

// IncActiveScans increments the active scans gauge.
func IncActiveScans() {
	Init()
	crawlerActiveScans.Inc()
}

// DecActiveScans decrements the active scans gauge.
func DecActiveScans() {
	Init()
	crawlerActiveScans.Dec()
}

// ObserveRobotsUnreachable counts robots.txt fetches that never answered.
func ObserveRobotsUnreachable() {
	Init()
	crawlerRobotsUnreachableTotal.Inc()
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(domain string, duration time.Duration) {
	Init()
	crawlerRateLimitDelaysSeconds.WithLabelValues(domain).Observe(duration.Seconds())
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
