// Package api hosts the HTTP server, middleware, and REST handlers for
// operator access. Notable routes:
//   - GET /healthz and /readyz for Kubernetes health checks.
//   - GET /metrics for Prometheus scraping.
//   - POST /v1/scans to queue a scan through the dispatcher.
//   - GET /v1/scans, /v1/scans/{id}, /v1/scans/{id}/sites and
//     /v1/scans/{id}/result for job status, per-site progress and the
//     records a finished scan wrote.
package api
