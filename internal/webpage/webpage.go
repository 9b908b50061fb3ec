// Package webpage defines the capability set the routine interpreter and the
// page scraper need from a page, whether it is a live browser tab or a parsed
// static document.
package webpage

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"time"
)

// ErrUnsupported is returned by pages that cannot perform an operation, such
// as clicking on a static document.
var ErrUnsupported = errors.New("operation not supported by this page")

// ErrElementNotFound is returned when a wait or click target does not exist.
var ErrElementNotFound = errors.New("element not found")

// Date is the first <time> element found on a page.
type Date struct {
	Datetime *time.Time
	Content  string
}

// Page is a single document a routine can run against.
//
// Element finders return ok=false when nothing matched. Matched elements yield
// their content attribute when present, otherwise their trimmed text.
type Page interface {
	IsActive() bool
	NavigateTo(ctx context.Context, u *url.URL, timeout time.Duration) (int, error)
	Close(ctx context.Context) error
	AuthenticateHTTP(ctx context.Context, username, password string) (bool, error)
	SetUserAgent(ctx context.Context, userAgent string) error

	CurrentURL() *url.URL
	Title(ctx context.Context) (string, error)
	HTML(ctx context.Context) (string, error)
	Links(ctx context.Context) ([]string, error)
	Texts(ctx context.Context) ([]string, error)
	DateElement(ctx context.Context) (Date, error)

	FindElementCSS(ctx context.Context, selector string) (string, bool, error)
	FindAllElementsCSS(ctx context.Context, selector string) ([]string, error)
	FindElementXPath(ctx context.Context, selector string) (string, bool, error)

	WaitForSelectorCSS(ctx context.Context, selector string, timeout time.Duration) error
	WaitForSelectorXPath(ctx context.Context, selector string, timeout time.Duration) error

	Click(ctx context.Context, selector string) error
}

// Browser owns a browser session and hands out pages.
type Browser interface {
	Init(ctx context.Context) error
	NewPage(ctx context.Context) (Page, error)
	Close(ctx context.Context) error
	IsActive() bool
}

var datetimeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// ParseDatetime parses the common machine-readable forms of a <time>
// datetime attribute.
func ParseDatetime(raw string) (time.Time, bool) {
	raw = strings.TrimSpace(raw)
	for _, layout := range datetimeLayouts {
		if ts, err := time.Parse(layout, raw); err == nil {
			return ts.UTC(), true
		}
	}
	return time.Time{}, false
}
