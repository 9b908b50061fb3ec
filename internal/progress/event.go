package progress

import (
	"errors"
	"fmt"
	"time"
)

// Stage denotes the milestone an Event represents.
type Stage string

// Supported progress stages.
const (
	StageScanStart Stage = "SCAN_START"
	StageScanDone  Stage = "SCAN_DONE"
	StageScanError Stage = "SCAN_ERROR"
	StageSiteDone  Stage = "SITE_DONE"
	StageBatchFail Stage = "BATCH_FAIL"
)

// Event captures one progress milestone.
type Event struct {
	// ScanID identifies the scan.
	ScanID string
	// TS is the UTC timestamp recorded by the emitter.
	TS time.Time
	Stage Stage
	// Task is the scan task name.
	Task string
	// Site scopes site events to a hostname.
	Site string
	// Visits counts pages scraped for a site.
	Visits int64
	// Errors counts failed visits for a site.
	Errors int64
	// Completed reports whether a site crawl ran to queue exhaustion.
	Completed bool
	// Dur is the elapsed time of the site crawl or scan.
	Dur time.Duration
	// Note carries low-volume context such as error text.
	Note string
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.ScanID == "" {
		return errors.New("scan id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageScanStart, StageScanDone, StageScanError, StageBatchFail:
	case StageSiteDone:
		if e.Site == "" {
			return errors.New("site done requires site")
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 || e.Visits < 0 || e.Errors < 0 {
		return errors.New("counters must be >= 0")
	}
	return nil
}
