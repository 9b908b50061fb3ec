package scraper

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/JakeFAU/webcrawl-engine/internal/routine"
)

// ErrorKind classifies scrape failures.
type ErrorKind string

// Scrape failure kinds.
const (
	ErrUnknown        ErrorKind = "unknown scrape failure"
	ErrRoutineFailed  ErrorKind = "routine failed"
	ErrNavTimeout     ErrorKind = "navigation timeout"
	ErrNavBadResponse ErrorKind = "navigation bad response"
	ErrRobotsFetch    ErrorKind = "robots.txt fetch error"
	ErrSitemapFetch   ErrorKind = "sitemap fetch error"
	ErrSitemapInvalid ErrorKind = "invalid sitemap"
)

// ScrapeError wraps a failed scrape with its request context. PartialData
// holds whatever the routine extracted before failing.
type ScrapeError struct {
	Kind        ErrorKind
	URL         string
	Method      Method
	UserAgent   string
	Status      int
	StartTime   time.Time
	Interval    time.Duration
	PartialData ScrapedData
	Cause       error
}

func (e *ScrapeError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s | %s", e.Kind, e.URL)
	if e.Method != "" {
		fmt.Fprintf(&b, " | method %s", e.Method)
	}
	if e.Status != 0 {
		fmt.Fprintf(&b, " | status %d", e.Status)
	}
	if n := len(e.PartialData.Values); n > 0 {
		fmt.Fprintf(&b, " | %d partial values", n)
	}
	if e.Cause != nil {
		fmt.Fprintf(&b, " | caused by: %v", e.Cause)
	}
	return b.String()
}

func (e *ScrapeError) Unwrap() error { return e.Cause }

// inferKind picks a kind from the cause when the caller did not.
func inferKind(cause error) ErrorKind {
	var routineErr *routine.RoutineError
	switch {
	case cause == nil:
		return ErrUnknown
	case errors.As(cause, &routineErr):
		return ErrRoutineFailed
	case errors.Is(cause, context.DeadlineExceeded):
		return ErrNavTimeout
	default:
		return ErrUnknown
	}
}

// partialData recovers processed values from a routine failure.
func partialData(cause error) ScrapedData {
	var routineErr *routine.RoutineError
	if errors.As(cause, &routineErr) {
		return ProcessValues(routineErr.PartialData)
	}
	return ScrapedData{}
}
