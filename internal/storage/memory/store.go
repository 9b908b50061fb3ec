// Package memory keeps scan records, jobs and progress in process memory for
// development and tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/JakeFAU/webcrawl-engine/internal/scan"
	"github.com/JakeFAU/webcrawl-engine/internal/site"
)

// Store implements scan.Sink, scan.History, scan.JobStore and
// scan.ProgressRepository.
type Store struct {
	mu       sync.RWMutex
	scans    map[string]scan.Records
	order    []string
	jobs     map[string]scan.Job
	progress map[string]map[string]scan.SiteProgress
	now      func() time.Time
}

var (
	_ scan.Sink               = (*Store)(nil)
	_ scan.History            = (*Store)(nil)
	_ scan.JobStore           = (*Store)(nil)
	_ scan.ProgressRepository = (*Store)(nil)
	_ scan.RecordReader       = (*Store)(nil)
)

// New returns an empty Store.
func New() *Store {
	return &Store{
		scans:    make(map[string]scan.Records),
		jobs:     make(map[string]scan.Job),
		progress: make(map[string]map[string]scan.SiteProgress),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// WriteScan stores records, replacing an earlier write of the same scan.
func (s *Store) WriteScan(_ context.Context, records scan.Records) error {
	id := records.Payload.ScanID
	if id == "" {
		return fmt.Errorf("scan id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.scans[id]; !ok {
		s.order = append(s.order, id)
	}
	s.scans[id] = records
	return nil
}

// ScanRecords returns the records written for scanID.
func (s *Store) ScanRecords(_ context.Context, scanID string) (scan.Records, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	records, ok := s.scans[scanID]
	if !ok {
		return scan.Records{}, fmt.Errorf("%w: %s", scan.ErrScanNotFound, scanID)
	}
	return records, nil
}

// VisitedPathnames implements scan.History.
func (s *Store) VisitedPathnames(_ context.Context, host string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.linkPathnames(host, func(l scan.LinkRecord) bool { return l.Visited }), nil
}

// BacklogPathnames implements scan.History.
func (s *Store) BacklogPathnames(_ context.Context, host string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	visited := make(map[string]struct{})
	for _, p := range s.linkPathnames(host, func(l scan.LinkRecord) bool { return l.Visited }) {
		visited[p] = struct{}{}
	}
	return s.linkPathnames(host, func(l scan.LinkRecord) bool {
		_, seen := visited[l.Pathname]
		return !l.Visited && !seen
	}), nil
}

// FailedSitemapPathnames implements scan.History.
func (s *Store) FailedSitemapPathnames(_ context.Context, host string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	seen := make(map[string]struct{})
	out := []string{}
	for _, id := range s.order {
		for _, e := range s.scans[id].Errors {
			if e.Site != host || !site.IsSitemapLabel(e.PathLabel) {
				continue
			}
			if _, ok := seen[e.Pathname]; ok {
				continue
			}
			seen[e.Pathname] = struct{}{}
			out = append(out, e.Pathname)
		}
	}
	return out, nil
}

// linkPathnames returns distinct pathnames of host's links that keep holds
// for, in write order. Callers hold the read lock.
func (s *Store) linkPathnames(host string, keep func(scan.LinkRecord) bool) []string {
	seen := make(map[string]struct{})
	out := []string{}
	for _, id := range s.order {
		for _, l := range s.scans[id].Links {
			if l.Site != host || !keep(l) {
				continue
			}
			if _, ok := seen[l.Pathname]; ok {
				continue
			}
			seen[l.Pathname] = struct{}{}
			out = append(out, l.Pathname)
		}
	}
	return out
}

// CreateJob implements scan.JobStore.
func (s *Store) CreateJob(_ context.Context, job scan.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[job.ID]; exists {
		return fmt.Errorf("scan job %s already exists", job.ID)
	}
	s.jobs[job.ID] = job
	return nil
}

// UpdateJob implements scan.JobStore.
func (s *Store) UpdateJob(_ context.Context, id string, status scan.JobStatus, payload *scan.Payload) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return fmt.Errorf("%w: %s", scan.ErrJobNotFound, id)
	}
	now := s.now()
	job.Status = status
	if status == scan.JobRunning && job.Started == nil {
		job.Started = &now
	}
	if status.Terminal() {
		job.Finished = &now
		job.Payload = payload
	}
	s.jobs[id] = job
	return nil
}

// GetJob implements scan.JobStore.
func (s *Store) GetJob(_ context.Context, id string) (scan.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[id]
	if !ok {
		return scan.Job{}, fmt.Errorf("%w: %s", scan.ErrJobNotFound, id)
	}
	return job, nil
}

// ListJobs implements scan.JobStore.
func (s *Store) ListJobs(_ context.Context, status *scan.JobStatus, limit, offset int) ([]scan.Job, error) {
	s.mu.RLock()
	jobs := make([]scan.Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		if status == nil || job.Status == *status {
			jobs = append(jobs, job)
		}
	}
	s.mu.RUnlock()
	sort.Slice(jobs, func(i, j int) bool {
		if jobs[i].Submitted.Equal(jobs[j].Submitted) {
			return jobs[i].ID > jobs[j].ID
		}
		return jobs[i].Submitted.After(jobs[j].Submitted)
	})
	if offset >= len(jobs) {
		return []scan.Job{}, nil
	}
	jobs = jobs[offset:]
	if limit > 0 && limit < len(jobs) {
		jobs = jobs[:limit]
	}
	return jobs, nil
}

// RecordSiteProgress implements scan.ProgressRepository.
func (s *Store) RecordSiteProgress(_ context.Context, p scan.SiteProgress) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sites := s.progress[p.ScanID]
	if sites == nil {
		sites = make(map[string]scan.SiteProgress)
		s.progress[p.ScanID] = sites
	}
	sites[p.Site] = p
	return nil
}

// ListSiteProgress implements scan.ProgressRepository, sorted by site.
func (s *Store) ListSiteProgress(_ context.Context, scanID string) ([]scan.SiteProgress, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]scan.SiteProgress, 0, len(s.progress[scanID]))
	for _, p := range s.progress[scanID] {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Site < out[j].Site })
	return out, nil
}
