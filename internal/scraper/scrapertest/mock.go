package scrapertest

import (
	"context"
	"net/http"
	"net/url"

	"github.com/stretchr/testify/mock"

	collyfetcher "github.com/JakeFAU/webcrawl-engine/internal/fetcher/colly"
)

// MockFetcher is a testify mock of scraper.Fetcher.
type MockFetcher struct {
	mock.Mock
}

func (m *MockFetcher) FetchPage(ctx context.Context, req collyfetcher.Request) (collyfetcher.Response, error) {
	args := m.Called(ctx, req)
	return args.Get(0).(collyfetcher.Response), args.Error(1)
}

func (m *MockFetcher) FetchRobots(ctx context.Context, home *url.URL, userAgent string) (collyfetcher.Response, error) {
	args := m.Called(ctx, home, userAgent)
	return args.Get(0).(collyfetcher.Response), args.Error(1)
}

func (m *MockFetcher) FetchSitemap(ctx context.Context, sitemapURL *url.URL, userAgent string) (collyfetcher.SitemapResponse, error) {
	args := m.Called(ctx, sitemapURL, userAgent)
	return args.Get(0).(collyfetcher.SitemapResponse), args.Error(1)
}

// RequestFor matches a collyfetcher.Request whose URL is link.
func RequestFor(link string) any {
	return mock.MatchedBy(func(req collyfetcher.Request) bool {
		return req.URL != nil && req.URL.String() == link
	})
}

// URLFor matches a *url.URL equal to link.
func URLFor(link string) any {
	return mock.MatchedBy(func(u *url.URL) bool {
		return u != nil && u.String() == link
	})
}

// OK is a 200 response carrying body.
func OK(link, body string) collyfetcher.Response {
	return collyfetcher.Response{Link: link, FinalURL: link, Status: http.StatusOK, Body: []byte(body)}
}
