// Package sqlite persists scan records in a single SQLite file using the
// CGO-free modernc driver. It also answers the history queries that seed
// links, backlogs and indexes scans.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	// SQLite database driver (CGO-free)
	_ "modernc.org/sqlite"

	"github.com/JakeFAU/webcrawl-engine/internal/scan"
	"github.com/JakeFAU/webcrawl-engine/internal/site"
)

// Config controls the database file.
type Config struct {
	// Path is a file path or ":memory:".
	Path string `mapstructure:"path"`
}

// Store implements scan.Sink, scan.History and scan.RecordReader.
type Store struct {
	db     *sql.DB
	logger *zap.Logger
}

var (
	_ scan.Sink         = (*Store)(nil)
	_ scan.History      = (*Store)(nil)
	_ scan.RecordReader = (*Store)(nil)
)

// Open opens (or creates) the database and applies the schema.
func Open(cfg Config, logger *zap.Logger) (*Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("storage.sqlite.path is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One connection avoids lock conflicts and keeps ":memory:" a single database.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	s := &Store{db: db, logger: logger.Named("sqlite")}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return s, nil
}

func (s *Store) initSchema() error {
	pragmas := []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 30000",
	}
	for _, pragma := range pragmas {
		if _, err := s.db.Exec(pragma); err != nil {
			return fmt.Errorf("execute %s: %w", pragma, err)
		}
	}
	if _, err := s.db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// WriteScan inserts every record in one transaction. Writing a scan ID again
// replaces the earlier rows.
func (s *Store) WriteScan(ctx context.Context, records scan.Records) error {
	p := records.Payload
	if p.ScanID == "" {
		return errors.New("scan id is required")
	}
	payloadJSON, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM scans WHERE scan_id = ?`, p.ScanID); err != nil {
		return fmt.Errorf("replace scan: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO scans (scan_id, task, success, start_time, end_time, payload) VALUES (?, ?, ?, ?, ?, ?)`,
		p.ScanID, string(p.Task), p.Success, formatTime(p.StartTime), formatTime(p.EndTime), string(payloadJSON),
	); err != nil {
		return fmt.Errorf("insert scan: %w", err)
	}
	if err := insertPages(ctx, tx, records.Pages); err != nil {
		return err
	}
	if err := insertLinks(ctx, tx, records.Links); err != nil {
		return err
	}
	if err := insertErrors(ctx, tx, records.Errors); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit scan: %w", err)
	}
	s.logger.Debug("wrote scan",
		zap.String("scan_id", p.ScanID),
		zap.Int("pages", len(records.Pages)),
		zap.Int("links", len(records.Links)),
		zap.Int("errors", len(records.Errors)),
	)
	return nil
}

func insertPages(ctx context.Context, tx *sql.Tx, pages []scan.PageRecord) error {
	if len(pages) == 0 {
		return nil
	}
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO pages (
			scan_id, site, link, pathname, path_label, method, status, page_title,
			title, author, date_pub, text_body, tags, descriptions, comments, media,
			captions, num_links, bad_labels, start_time, end_time
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare page insert: %w", err)
	}
	defer func() { _ = stmt.Close() }()
	for _, pg := range pages {
		badLabels, err := json.Marshal(nonNil(pg.BadLabels))
		if err != nil {
			return fmt.Errorf("marshal bad labels: %w", err)
		}
		if _, err := stmt.ExecContext(ctx,
			pg.ScanID, pg.Site, pg.Link, pg.Pathname, pg.PathLabel, pg.Method, pg.Status, pg.PageTitle,
			pg.Title, pg.Author, pg.DatePub, pg.TextBody, pg.Tags, pg.Descriptions, pg.Comments, pg.Media,
			pg.Captions, pg.NumLinks, string(badLabels), formatTime(pg.StartTime), formatTime(pg.EndTime),
		); err != nil {
			return fmt.Errorf("insert page %s: %w", pg.Link, err)
		}
	}
	return nil
}

func insertLinks(ctx context.Context, tx *sql.Tx, links []scan.LinkRecord) error {
	if len(links) == 0 {
		return nil
	}
	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO links (scan_id, site, pathname, label, visited) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare link insert: %w", err)
	}
	defer func() { _ = stmt.Close() }()
	for _, l := range links {
		if _, err := stmt.ExecContext(ctx, l.ScanID, l.Site, l.Pathname, l.Label, l.Visited); err != nil {
			return fmt.Errorf("insert link %s: %w", l.Pathname, err)
		}
	}
	return nil
}

func insertErrors(ctx context.Context, tx *sql.Tx, errs []scan.ErrorRecord) error {
	if len(errs) == 0 {
		return nil
	}
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO errors (
			scan_id, site, link, pathname, path_label, message, visit_start_time, visit_end_time
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare error insert: %w", err)
	}
	defer func() { _ = stmt.Close() }()
	for _, e := range errs {
		if _, err := stmt.ExecContext(ctx,
			e.ScanID, e.Site, e.Link, e.Pathname, e.PathLabel, e.Message,
			formatTime(e.VisitStartTime), formatTime(e.VisitEndTime),
		); err != nil {
			return fmt.Errorf("insert error %s: %w", e.Link, err)
		}
	}
	return nil
}

// VisitedPathnames implements scan.History, in first-seen order.
func (s *Store) VisitedPathnames(ctx context.Context, host string) ([]string, error) {
	return s.pathnames(ctx, `
		SELECT pathname FROM links
		WHERE site = ? AND visited = 1
		GROUP BY pathname ORDER BY MIN(id)`, host)
}

// BacklogPathnames implements scan.History: pathnames no scan ever visited.
func (s *Store) BacklogPathnames(ctx context.Context, host string) ([]string, error) {
	return s.pathnames(ctx, `
		SELECT pathname FROM links
		WHERE site = ?
		GROUP BY pathname HAVING MAX(visited) = 0 ORDER BY MIN(id)`, host)
}

// FailedSitemapPathnames implements scan.History.
func (s *Store) FailedSitemapPathnames(ctx context.Context, host string) ([]string, error) {
	labels := site.SitemapLabels()
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(labels)), ",")
	args := make([]any, 0, len(labels)+1)
	args = append(args, host)
	for _, l := range labels {
		args = append(args, l)
	}
	return s.pathnames(ctx, `
		SELECT pathname FROM errors
		WHERE site = ? AND path_label IN (`+placeholders+`)
		GROUP BY pathname ORDER BY MIN(id)`, args...)
}

func (s *Store) pathnames(ctx context.Context, query string, args ...any) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query pathnames: %w", err)
	}
	defer func() { _ = rows.Close() }()
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

// ScanRecords implements scan.RecordReader.
func (s *Store) ScanRecords(ctx context.Context, scanID string) (scan.Records, error) {
	var payloadJSON string
	err := s.db.QueryRowContext(ctx, `SELECT payload FROM scans WHERE scan_id = ?`, scanID).Scan(&payloadJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return scan.Records{}, fmt.Errorf("%w: %s", scan.ErrScanNotFound, scanID)
	}
	if err != nil {
		return scan.Records{}, fmt.Errorf("load scan: %w", err)
	}
	out := scan.Records{Pages: []scan.PageRecord{}, Links: []scan.LinkRecord{}, Errors: []scan.ErrorRecord{}}
	if err := json.Unmarshal([]byte(payloadJSON), &out.Payload); err != nil {
		return scan.Records{}, fmt.Errorf("decode payload: %w", err)
	}
	if out.Pages, err = s.loadPages(ctx, scanID); err != nil {
		return scan.Records{}, err
	}
	if out.Links, err = s.loadLinks(ctx, scanID); err != nil {
		return scan.Records{}, err
	}
	if out.Errors, err = s.loadErrors(ctx, scanID); err != nil {
		return scan.Records{}, err
	}
	return out, nil
}

func (s *Store) loadPages(ctx context.Context, scanID string) ([]scan.PageRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT scan_id, site, link, pathname, path_label, method, status, page_title,
			title, author, date_pub, text_body, tags, descriptions, comments, media,
			captions, num_links, bad_labels, start_time, end_time
		FROM pages WHERE scan_id = ? ORDER BY id`, scanID)
	if err != nil {
		return nil, fmt.Errorf("query pages: %w", err)
	}
	defer func() { _ = rows.Close() }()
	out := []scan.PageRecord{}
	for rows.Next() {
		var (
			pg                 scan.PageRecord
			badLabels          string
			startTime, endTime string
		)
		if err := rows.Scan(
			&pg.ScanID, &pg.Site, &pg.Link, &pg.Pathname, &pg.PathLabel, &pg.Method, &pg.Status, &pg.PageTitle,
			&pg.Title, &pg.Author, &pg.DatePub, &pg.TextBody, &pg.Tags, &pg.Descriptions, &pg.Comments, &pg.Media,
			&pg.Captions, &pg.NumLinks, &badLabels, &startTime, &endTime,
		); err != nil {
			return nil, fmt.Errorf("scan page: %w", err)
		}
		if err := json.Unmarshal([]byte(badLabels), &pg.BadLabels); err != nil {
			return nil, fmt.Errorf("decode bad labels: %w", err)
		}
		if pg.StartTime, err = parseTime(startTime); err != nil {
			return nil, err
		}
		if pg.EndTime, err = parseTime(endTime); err != nil {
			return nil, err
		}
		out = append(out, pg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pages: %w", err)
	}
	return out, nil
}

func (s *Store) loadLinks(ctx context.Context, scanID string) ([]scan.LinkRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT scan_id, site, pathname, label, visited FROM links WHERE scan_id = ? ORDER BY id`, scanID)
	if err != nil {
		return nil, fmt.Errorf("query links: %w", err)
	}
	defer func() { _ = rows.Close() }()
	out := []scan.LinkRecord{}
	for rows.Next() {
		var l scan.LinkRecord
		if err := rows.Scan(&l.ScanID, &l.Site, &l.Pathname, &l.Label, &l.Visited); err != nil {
			return nil, fmt.Errorf("scan link: %w", err)
		}
		out = append(out, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate links: %w", err)
	}
	return out, nil
}

func (s *Store) loadErrors(ctx context.Context, scanID string) ([]scan.ErrorRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT scan_id, site, link, pathname, path_label, message, visit_start_time, visit_end_time
		FROM errors WHERE scan_id = ? ORDER BY id`, scanID)
	if err != nil {
		return nil, fmt.Errorf("query errors: %w", err)
	}
	defer func() { _ = rows.Close() }()
	out := []scan.ErrorRecord{}
	for rows.Next() {
		var (
			e          scan.ErrorRecord
			start, end string
		)
		if err := rows.Scan(&e.ScanID, &e.Site, &e.Link, &e.Pathname, &e.PathLabel, &e.Message, &start, &end); err != nil {
			return nil, fmt.Errorf("scan error row: %w", err)
		}
		if e.VisitStartTime, err = parseTime(start); err != nil {
			return nil, err
		}
		if e.VisitEndTime, err = parseTime(end); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate errors: %w", err)
	}
	return out, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse time %q: %w", s, err)
	}
	return t, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
