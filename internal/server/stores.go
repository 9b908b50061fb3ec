package server

import (
	"context"
	"errors"
	"fmt"

	"cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/JakeFAU/webcrawl-engine/internal/config"
	gcsstorage "github.com/JakeFAU/webcrawl-engine/internal/storage/gcs"
	localstorage "github.com/JakeFAU/webcrawl-engine/internal/storage/local"
	memoryStorage "github.com/JakeFAU/webcrawl-engine/internal/storage/memory"
	pgstore "github.com/JakeFAU/webcrawl-engine/internal/storage/postgres"
	sqlitestore "github.com/JakeFAU/webcrawl-engine/internal/storage/sqlite"
	"github.com/JakeFAU/webcrawl-engine/internal/scan"
)

// stores groups the storage roles one backend fills. Roles a backend cannot
// fill fall back to an in-memory store; records is nil when the backend
// cannot read scans back.
type stores struct {
	sink     scan.Sink
	history  scan.History
	records  scan.RecordReader
	jobs     scan.JobStore
	progress scan.ProgressRepository
	closers  []func() error
}

// Close releases backend connections in reverse order of creation.
func (s *stores) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	s.closers = nil
	return errors.Join(errs...)
}

func setupStores(ctx context.Context, cfg config.StorageConfig, logger *zap.Logger) (*stores, error) {
	mem := memoryStorage.New()
	s := &stores{sink: mem, history: mem, records: mem, jobs: mem, progress: mem}

	switch cfg.Backend {
	case config.BackendSQLite:
		logger.Info("using sqlite storage backend", zap.String("path", cfg.SQLite.Path))
		db, err := sqlitestore.Open(cfg.SQLite, logger)
		if err != nil {
			return nil, fmt.Errorf("sqlite store init failed: %w", err)
		}
		s.closers = append(s.closers, db.Close)
		s.sink, s.history, s.records = db, db, db
	case config.BackendPostgres:
		logger.Info("using postgres storage backend")
		pg, err := pgstore.New(ctx, cfg.Postgres, logger)
		if err != nil {
			return nil, fmt.Errorf("postgres store init failed: %w", err)
		}
		s.closers = append(s.closers, func() error { pg.Close(); return nil })
		if err := pg.EnsureSchema(ctx); err != nil {
			_ = s.Close()
			return nil, fmt.Errorf("postgres schema init failed: %w", err)
		}
		s.sink, s.history, s.jobs, s.progress = pg, pg, pg, pg
		s.records = nil
	case config.BackendLocal:
		logger.Info("using local storage backend", zap.String("path", cfg.Local.BaseDir))
		blob, err := localstorage.New(cfg.Local)
		if err != nil {
			return nil, fmt.Errorf("local blob store init failed: %w", err)
		}
		s.sink = teeSink{blob, mem}
		s.records = blob
	case config.BackendGCS:
		logger.Info("using GCS storage backend", zap.String("bucket", cfg.GCS.Bucket))
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs client init failed: %w", err)
		}
		s.closers = append(s.closers, client.Close)
		blob, err := gcsstorage.New(client, cfg.GCS)
		if err != nil {
			_ = s.Close()
			return nil, fmt.Errorf("gcs blob store init failed: %w", err)
		}
		s.sink = teeSink{blob, mem}
		s.records = blob
	default:
		logger.Info("using in-memory storage backend")
	}
	return s, nil
}

// teeSink writes every scan to each sink in order. Blob backends keep no
// index, so the in-memory store rides along to answer history queries.
type teeSink []scan.Sink

func (t teeSink) WriteScan(ctx context.Context, records scan.Records) error {
	var errs []error
	for _, sink := range t {
		if err := sink.WriteScan(ctx, records); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
