// Package postgres provides Postgres-backed persistence for scan records,
// history queries, scan jobs and site progress.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/JakeFAU/webcrawl-engine/internal/scan"
	"github.com/JakeFAU/webcrawl-engine/internal/site"
)

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string        `mapstructure:"dsn"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
}

// pool is the subset of pgxpool.Pool the store needs; pgxmock satisfies it.
type pool interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// Store implements scan.Sink, scan.History, scan.JobStore and
// scan.ProgressRepository.
type Store struct {
	pool   pool
	logger *zap.Logger
	now    func() time.Time
}

var (
	_ scan.Sink               = (*Store)(nil)
	_ scan.History            = (*Store)(nil)
	_ scan.JobStore           = (*Store)(nil)
	_ scan.ProgressRepository = (*Store)(nil)
)

// New creates a pool from cfg.
func New(ctx context.Context, cfg Config, logger *zap.Logger) (*Store, error) {
	if cfg.DSN == "" {
		return nil, errors.New("storage.postgres.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return NewWithPool(p, logger)
}

// NewWithPool constructs a store from an existing pool (primarily for testing).
func NewWithPool(p pool, logger *zap.Logger) (*Store, error) {
	if p == nil {
		return nil, errors.New("pool is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		pool:   p,
		logger: logger.Named("postgres"),
		now:    func() time.Time { return time.Now().UTC() },
	}, nil
}

// EnsureSchema creates missing tables.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// WriteScan inserts every record in one transaction, replacing earlier rows
// of the same scan.
func (s *Store) WriteScan(ctx context.Context, records scan.Records) error {
	p := records.Payload
	if p.ScanID == "" {
		return errors.New("scan id is required")
	}
	payloadJSON, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(context.WithoutCancel(ctx)) }()

	if _, err := tx.Exec(ctx, `DELETE FROM scans WHERE scan_id = $1`, p.ScanID); err != nil {
		return fmt.Errorf("replace scan: %w", err)
	}
	if _, err := tx.Exec(ctx,
		`INSERT INTO scans (scan_id, task, success, start_time, end_time, payload) VALUES ($1,$2,$3,$4,$5,$6)`,
		p.ScanID, string(p.Task), p.Success, p.StartTime, p.EndTime, payloadJSON,
	); err != nil {
		return fmt.Errorf("insert scan: %w", err)
	}
	for _, pg := range records.Pages {
		if _, err := tx.Exec(ctx, `
INSERT INTO scan_pages (
	scan_id, site, link, pathname, path_label, method, status, page_title,
	title, author, date_pub, text_body, tags, descriptions, comments, media,
	captions, num_links, bad_labels, start_time, end_time
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21
)`,
			pg.ScanID, pg.Site, pg.Link, pg.Pathname, pg.PathLabel, pg.Method, pg.Status, pg.PageTitle,
			pg.Title, pg.Author, pg.DatePub, jsonText(pg.TextBody), jsonText(pg.Tags), jsonText(pg.Descriptions),
			jsonText(pg.Comments), jsonText(pg.Media), jsonText(pg.Captions), pg.NumLinks, nonNil(pg.BadLabels),
			pg.StartTime, pg.EndTime,
		); err != nil {
			return fmt.Errorf("insert page %s: %w", pg.Link, err)
		}
	}
	for _, l := range records.Links {
		if _, err := tx.Exec(ctx,
			`INSERT INTO scan_links (scan_id, site, pathname, label, visited) VALUES ($1,$2,$3,$4,$5)`,
			l.ScanID, l.Site, l.Pathname, l.Label, l.Visited,
		); err != nil {
			return fmt.Errorf("insert link %s: %w", l.Pathname, err)
		}
	}
	for _, e := range records.Errors {
		if _, err := tx.Exec(ctx, `
INSERT INTO scan_errors (
	scan_id, site, link, pathname, path_label, message, visit_start_time, visit_end_time
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
			e.ScanID, e.Site, e.Link, e.Pathname, e.PathLabel, e.Message, e.VisitStartTime, e.VisitEndTime,
		); err != nil {
			return fmt.Errorf("insert error %s: %w", e.Link, err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit scan: %w", err)
	}
	s.logger.Debug("wrote scan", zap.String("scan_id", p.ScanID), zap.Int("pages", len(records.Pages)))
	return nil
}

// VisitedPathnames implements scan.History, in first-seen order.
func (s *Store) VisitedPathnames(ctx context.Context, host string) ([]string, error) {
	return s.pathnames(ctx, `
SELECT pathname FROM scan_links
WHERE site = $1 AND visited
GROUP BY pathname ORDER BY MIN(id)`, host)
}

// BacklogPathnames implements scan.History: pathnames no scan ever visited.
func (s *Store) BacklogPathnames(ctx context.Context, host string) ([]string, error) {
	return s.pathnames(ctx, `
SELECT pathname FROM scan_links
WHERE site = $1
GROUP BY pathname HAVING NOT bool_or(visited) ORDER BY MIN(id)`, host)
}

// FailedSitemapPathnames implements scan.History.
func (s *Store) FailedSitemapPathnames(ctx context.Context, host string) ([]string, error) {
	return s.pathnames(ctx, `
SELECT pathname FROM scan_errors
WHERE site = $1 AND path_label = ANY($2)
GROUP BY pathname ORDER BY MIN(id)`, host, site.SitemapLabels())
}

func (s *Store) pathnames(ctx context.Context, query string, args ...any) ([]string, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query pathnames: %w", err)
	}
	defer rows.Close()
	out := []string{}
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, fmt.Errorf("scan pathname: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pathnames: %w", err)
	}
	return out, nil
}

// CreateJob implements scan.JobStore.
func (s *Store) CreateJob(ctx context.Context, job scan.Job) error {
	request, err := json.Marshal(job.Request)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	if _, err := s.pool.Exec(ctx,
		`INSERT INTO scan_jobs (id, request, status, submitted) VALUES ($1,$2,$3,$4)`,
		job.ID, request, string(job.Status), job.Submitted,
	); err != nil {
		return fmt.Errorf("insert scan job: %w", err)
	}
	return nil
}

// UpdateJob implements scan.JobStore.
func (s *Store) UpdateJob(ctx context.Context, id string, status scan.JobStatus, payload *scan.Payload) error {
	now := s.now()
	var (
		tag pgconn.CommandTag
		err error
	)
	switch {
	case status.Terminal():
		var payloadJSON []byte
		if payload != nil {
			if payloadJSON, err = json.Marshal(payload); err != nil {
				return fmt.Errorf("marshal payload: %w", err)
			}
		}
		tag, err = s.pool.Exec(ctx,
			`UPDATE scan_jobs SET status = $1, finished = $2, payload = $3 WHERE id = $4`,
			string(status), now, payloadJSON, id)
	case status == scan.JobRunning:
		tag, err = s.pool.Exec(ctx,
			`UPDATE scan_jobs SET status = $1, started = COALESCE(started, $2) WHERE id = $3`,
			string(status), now, id)
	default:
		tag, err = s.pool.Exec(ctx, `UPDATE scan_jobs SET status = $1 WHERE id = $2`, string(status), id)
	}
	if err != nil {
		return fmt.Errorf("update scan job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", scan.ErrJobNotFound, id)
	}
	return nil
}

const jobColumns = `id, request, status, submitted, started, finished, payload`

// GetJob implements scan.JobStore.
func (s *Store) GetJob(ctx context.Context, id string) (scan.Job, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM scan_jobs WHERE id = $1`, id)
	job, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return scan.Job{}, fmt.Errorf("%w: %s", scan.ErrJobNotFound, id)
	}
	if err != nil {
		return scan.Job{}, fmt.Errorf("get scan job: %w", err)
	}
	return job, nil
}

// ListJobs implements scan.JobStore.
func (s *Store) ListJobs(ctx context.Context, status *scan.JobStatus, limit, offset int) ([]scan.Job, error) {
	var filter *string
	if status != nil {
		v := string(*status)
		filter = &v
	}
	rows, err := s.pool.Query(ctx, `
SELECT `+jobColumns+`
FROM scan_jobs
WHERE ($1::text IS NULL OR status = $1)
ORDER BY submitted DESC
LIMIT $2 OFFSET $3`, filter, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list scan jobs: %w", err)
	}
	defer rows.Close()

	jobs := []scan.Job{}
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job row: %w", err)
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate scan jobs: %w", err)
	}
	return jobs, nil
}

func scanJob(row pgx.Row) (scan.Job, error) {
	var (
		job              scan.Job
		request, payload []byte
		status           string
	)
	if err := row.Scan(&job.ID, &request, &status, &job.Submitted, &job.Started, &job.Finished, &payload); err != nil {
		return scan.Job{}, err
	}
	job.Status = scan.JobStatus(status)
	if err := json.Unmarshal(request, &job.Request); err != nil {
		return scan.Job{}, fmt.Errorf("decode request: %w", err)
	}
	if len(payload) > 0 {
		job.Payload = &scan.Payload{}
		if err := json.Unmarshal(payload, job.Payload); err != nil {
			return scan.Job{}, fmt.Errorf("decode payload: %w", err)
		}
	}
	return job, nil
}

// RecordSiteProgress implements scan.ProgressRepository. Older updates never
// overwrite newer ones.
func (s *Store) RecordSiteProgress(ctx context.Context, p scan.SiteProgress) error {
	_, err := s.pool.Exec(ctx, `
INSERT INTO site_progress (scan_id, site, visits, errors, completed, last_update)
VALUES ($1,$2,$3,$4,$5,$6)
ON CONFLICT (scan_id, site) DO UPDATE
SET visits = EXCLUDED.visits,
	errors = EXCLUDED.errors,
	completed = EXCLUDED.completed,
	last_update = EXCLUDED.last_update
WHERE site_progress.last_update <= EXCLUDED.last_update`,
		p.ScanID, p.Site, p.Visits, p.Errors, p.Completed, p.LastUpdate)
	if err != nil {
		return fmt.Errorf("upsert site progress: %w", err)
	}
	return nil
}

// ListSiteProgress implements scan.ProgressRepository, sorted by site.
func (s *Store) ListSiteProgress(ctx context.Context, scanID string) ([]scan.SiteProgress, error) {
	rows, err := s.pool.Query(ctx, `
SELECT scan_id, site, visits, errors, completed, last_update
FROM site_progress
WHERE scan_id = $1
ORDER BY site`, scanID)
	if err != nil {
		return nil, fmt.Errorf("list site progress: %w", err)
	}
	defer rows.Close()

	out := []scan.SiteProgress{}
	for rows.Next() {
		var p scan.SiteProgress
		if err := rows.Scan(&p.ScanID, &p.Site, &p.Visits, &p.Errors, &p.Completed, &p.LastUpdate); err != nil {
			return nil, fmt.Errorf("scan site progress row: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate site progress: %w", err)
	}
	return out, nil
}

// jsonText passes list columns to JSONB, treating "" as an empty list.
func jsonText(s string) string {
	if s == "" {
		return "[]"
	}
	return s
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
