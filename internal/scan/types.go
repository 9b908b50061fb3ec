// Package scan turns scan requests into engine runs and engine results into
// storage records.
package scan

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/JakeFAU/webcrawl-engine/internal/crawl"
)

// Task names a kind of scan.
type Task string

// Supported tasks.
const (
	// TaskLinks crawls from explicit seeds, following links and skipping
	// pathnames already visited in earlier scans.
	TaskLinks Task = "links"
	// TaskBacklogs visits pathnames discovered earlier but never visited.
	TaskBacklogs Task = "backlogs"
	// TaskIndexes crawls robots.txt sitemaps.
	TaskIndexes Task = "indexes"
	// TaskFrontpages crawls from each site's home page.
	TaskFrontpages Task = "frontpages"
	// TaskSitemaps crawls robots.txt sitemaps and then the pages they list.
	TaskSitemaps Task = "sitemaps"
)

// ErrUnknownTask is returned for a task name outside the supported set.
var ErrUnknownTask = errors.New("unknown scan task")

// ParseTask parses a task name, case-insensitively.
func ParseTask(s string) (Task, error) {
	switch t := Task(strings.ToLower(strings.TrimSpace(s))); t {
	case TaskLinks, TaskBacklogs, TaskIndexes, TaskFrontpages, TaskSitemaps:
		return t, nil
	default:
		return "", fmt.Errorf("%w %q", ErrUnknownTask, s)
	}
}

// Request describes one scan. Sites are hostnames; an empty list means every
// configured site. Seeds only apply to TaskLinks.
type Request struct {
	Task   Task            `json:"task"`
	Sites  []string        `json:"sites,omitempty"`
	Seeds  []string        `json:"seeds,omitempty"`
	Params crawl.Overrides `json:"params"`
}

// Stats summarise a finished scan.
type Stats struct {
	Sites          int `json:"sites"`
	CompletedSites int `json:"completedSites"`
	Pages          int `json:"pages"`
	Links          int `json:"links"`
	Errors         int `json:"errors"`
	BatchErrors    int `json:"batchErrors"`
}

// Payload is the outcome of a scan, as published on completion.
type Payload struct {
	ScanID    string    `json:"scanID"`
	Task      Task      `json:"task"`
	Success   bool      `json:"success"`
	StartTime time.Time `json:"startTime"`
	EndTime   time.Time `json:"endTime"`
	Stats     *Stats    `json:"stats,omitempty"`
	Error     string    `json:"error,omitempty"`
}

// PageRecord is one scraped page flattened for storage. List-valued
// categories are JSON array strings.
type PageRecord struct {
	ScanID       string    `json:"scanID"`
	Site         string    `json:"site"`
	Link         string    `json:"link"`
	Pathname     string    `json:"pathname"`
	PathLabel    string    `json:"pathLabel"`
	Method       string    `json:"method"`
	Status       int       `json:"status"`
	PageTitle    string    `json:"pageTitle"`
	Title        string    `json:"title"`
	Author       string    `json:"author"`
	DatePub      string    `json:"datePub"`
	TextBody     string    `json:"textBody"`
	Tags         string    `json:"tags"`
	Descriptions string    `json:"descriptions"`
	Comments     string    `json:"comments"`
	Media        string    `json:"media"`
	Captions     string    `json:"captions"`
	NumLinks     int       `json:"numLinks"`
	BadLabels    []string  `json:"badLabels"`
	StartTime    time.Time `json:"startTime"`
	EndTime      time.Time `json:"endTime"`
}

// LinkRecord is a pathname seen during a scan. Visited is false for links
// left in the queue or listed in a sitemap.
type LinkRecord struct {
	ScanID   string `json:"scanID"`
	Site     string `json:"site"`
	Pathname string `json:"pathname"`
	Label    string `json:"label"`
	Visited  bool   `json:"visited"`
}

// ErrorRecord is one failed visit.
type ErrorRecord struct {
	ScanID         string    `json:"scanID"`
	Site           string    `json:"site"`
	Link           string    `json:"link"`
	Pathname       string    `json:"pathname"`
	PathLabel      string    `json:"pathLabel"`
	Message        string    `json:"message"`
	VisitStartTime time.Time `json:"visitStartTime"`
	VisitEndTime   time.Time `json:"visitEndTime"`
}

// Records are everything a scan writes.
type Records struct {
	Payload Payload       `json:"payload"`
	Pages   []PageRecord  `json:"pages"`
	Links   []LinkRecord  `json:"links"`
	Errors  []ErrorRecord `json:"errors"`
}

// Sink persists scan records. Implementations are write-only.
type Sink interface {
	WriteScan(ctx context.Context, records Records) error
}

// RecordReader loads what a Sink wrote for one scan, or ErrScanNotFound.
type RecordReader interface {
	ScanRecords(ctx context.Context, scanID string) (Records, error)
}

// History answers questions about earlier scans of a site.
type History interface {
	// VisitedPathnames are pathnames already scraped.
	VisitedPathnames(ctx context.Context, site string) ([]string, error)
	// BacklogPathnames are pathnames seen but never scraped.
	BacklogPathnames(ctx context.Context, site string) ([]string, error)
	// FailedSitemapPathnames are sitemap pathnames whose fetch failed.
	FailedSitemapPathnames(ctx context.Context, site string) ([]string, error)
}

// Publisher announces finished scans.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// IDGenerator mints scan IDs.
type IDGenerator interface {
	NewID() (string, error)
}
