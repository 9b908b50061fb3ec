// Package main hosts the webcrawler executable.
//
// Commands:
//   - serve: builds the service with internal/server and runs the HTTP API
//     (internal/api) plus a fixed pool of scan workers fed by a bounded
//     in-memory queue. Scans submitted with POST /v1/scans are recorded in
//     the job store as queued, then run one at a time by the scan service
//     because they share one browser.
//   - scan: runs a single scan in the foreground and prints its payload as
//     JSON. The process exits non-zero when the scan fails.
//
// Scan pipeline:
//   - The scan service resolves target sites from the site configs in
//     sites.dir (falling back to a default config per hostname) and the
//     history of earlier scans, then hands them to the crawl engine.
//   - The engine crawls sites in batches. Each site honours robots.txt,
//     spaces visits by its crawl delay and scrapes pages with its routines,
//     through chromedp or rod when a browser is configured and over plain
//     HTTP (Colly) otherwise.
//   - Results become page, link and error records written to the storage
//     backend (memory, sqlite, postgres, local or gcs). The payload is
//     published to Pub/Sub when a topic is configured.
//
// Operational notes:
//   - Configuration comes from an optional YAML file (--config) overlaid
//     with CRAWLER_* environment variables, e.g. CRAWLER_SERVER_PORT.
//   - Progress events are batched by the progress hub and fanned out to the
//     log, Prometheus and job store sinks. /metrics exposes both the
//     request and crawl collectors.
//   - SIGINT or SIGTERM stops intake, drains the workers and flushes
//     progress before exit.
package main
