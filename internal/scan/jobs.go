package scan

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrJobNotFound is returned by JobStore lookups for unknown scan IDs.
	ErrJobNotFound = errors.New("scan job not found")
	// ErrScanNotFound is returned by RecordReader lookups for unknown scans.
	ErrScanNotFound = errors.New("scan records not found")
	// ErrQueueClosed is returned by a Queue that is shut down.
	ErrQueueClosed = errors.New("queue closed")
)

// JobStatus tracks an asynchronous scan.
type JobStatus string

// Job statuses.
const (
	JobQueued    JobStatus = "queued"
	JobRunning   JobStatus = "running"
	JobSucceeded JobStatus = "succeeded"
	JobFailed    JobStatus = "failed"
)

// Terminal reports whether s is a final status.
func (s JobStatus) Terminal() bool {
	return s == JobSucceeded || s == JobFailed
}

// Job is a submitted scan and, once finished, its payload.
type Job struct {
	ID        string     `json:"id"`
	Request   Request    `json:"request"`
	Status    JobStatus  `json:"status"`
	Submitted time.Time  `json:"submitted"`
	Started   *time.Time `json:"started,omitempty"`
	Finished  *time.Time `json:"finished,omitempty"`
	Payload   *Payload   `json:"payload,omitempty"`
}

// JobStore tracks asynchronous scans.
type JobStore interface {
	CreateJob(ctx context.Context, job Job) error
	// UpdateJob moves a job to status; payload is set on terminal statuses.
	UpdateJob(ctx context.Context, id string, status JobStatus, payload *Payload) error
	GetJob(ctx context.Context, id string) (Job, error)
	// ListJobs filters by status when non-nil, newest first.
	ListJobs(ctx context.Context, status *JobStatus, limit, offset int) ([]Job, error)
}

// SiteProgress is the latest progress of one site within a scan.
type SiteProgress struct {
	ScanID     string    `json:"scanID"`
	Site       string    `json:"site"`
	Visits     int64     `json:"visits"`
	Errors     int64     `json:"errors"`
	Completed  bool      `json:"completed"`
	LastUpdate time.Time `json:"lastUpdate"`
}

// ProgressRepository persists per-site progress.
type ProgressRepository interface {
	RecordSiteProgress(ctx context.Context, p SiteProgress) error
	ListSiteProgress(ctx context.Context, scanID string) ([]SiteProgress, error)
}

// QueueItem is a scan waiting for a worker.
type QueueItem struct {
	ScanID    string  `json:"scanID"`
	Request   Request `json:"request"`
	Submitted int64   `json:"submitted"`
}

// Queue buffers submitted scans for the dispatcher's workers.
type Queue interface {
	Enqueue(ctx context.Context, item QueueItem) error
	Dequeue(ctx context.Context) (QueueItem, error)
}
