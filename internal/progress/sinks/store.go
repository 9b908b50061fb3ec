package sinks

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/webcrawl-engine/internal/progress"
	"github.com/JakeFAU/webcrawl-engine/internal/scan"
)

// StoreSink persists site results via a scan.ProgressRepository. Within a
// batch only the latest event per scan and site is written.
type StoreSink struct {
	repo   scan.ProgressRepository
	logger *zap.Logger
}

// NewStoreSink constructs a StoreSink for the provided repository.
func NewStoreSink(repo scan.ProgressRepository, logger *zap.Logger) *StoreSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StoreSink{repo: repo, logger: logger}
}

// Consume forwards SITE_DONE events to the repository. It respects ctx
// deadlines and returns the first repository error.
func (s *StoreSink) Consume(ctx context.Context, batch []progress.Event) error {
	if s == nil || s.repo == nil {
		return nil
	}
	latest := make(map[siteKey]int)
	var order []siteKey
	for i, evt := range batch {
		if evt.Stage != progress.StageSiteDone || evt.Site == "" {
			continue
		}
		key := siteKey{scanID: evt.ScanID, site: evt.Site}
		prev, seen := latest[key]
		if !seen {
			order = append(order, key)
		}
		if !seen || !evt.TS.Before(batch[prev].TS) {
			latest[key] = i
		}
	}

	for _, key := range order {
		evt := batch[latest[key]]
		err := s.repo.RecordSiteProgress(ctx, scan.SiteProgress{
			ScanID:     evt.ScanID,
			Site:       evt.Site,
			Visits:     evt.Visits,
			Errors:     evt.Errors,
			Completed:  evt.Completed,
			LastUpdate: evt.TS,
		})
		if err != nil {
			return fmt.Errorf("record site progress: %w", err)
		}
	}
	if len(order) > 0 {
		s.logger.Debug("recorded site progress", zap.Int("sites", len(order)))
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *StoreSink) Close(context.Context) error {
	return nil
}

type siteKey struct {
	scanID string
	site   string
}
