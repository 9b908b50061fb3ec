// Package scrapertest provides scraper.Fetcher doubles: a canned in-memory
// fetcher and a testify mock.
package scrapertest

import (
	"context"
	"net/http"
	"net/url"
	"sync"

	collyfetcher "github.com/JakeFAU/webcrawl-engine/internal/fetcher/colly"
	"github.com/JakeFAU/webcrawl-engine/internal/robots"
	"github.com/JakeFAU/webcrawl-engine/internal/sitemap"
)

// Fetcher serves canned bodies keyed by URL string. Unknown URLs fail with a
// 404 FetchBadResponse, matching the real fetcher.
type Fetcher struct {
	mu sync.Mutex
	// Pages maps a URL to its HTML body.
	Pages map[string]string
	// Errors forces a failure for a URL.
	Errors map[string]error
	// Robots maps a home URL's host to its robots.txt body.
	Robots map[string]string
	// Sitemaps maps a URL to its XML body.
	Sitemaps map[string]string
}

// New returns an empty Fetcher.
func New() *Fetcher {
	return &Fetcher{
		Pages:    map[string]string{},
		Errors:   map[string]error{},
		Robots:   map[string]string{},
		Sitemaps: map[string]string{},
	}
}

func (f *Fetcher) lookup(table map[string]string, key string) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.Errors[key]; ok {
		return "", true, err
	}
	body, ok := table[key]
	return body, ok, nil
}

// FetchPage implements scraper.Fetcher.
func (f *Fetcher) FetchPage(_ context.Context, req collyfetcher.Request) (collyfetcher.Response, error) {
	link := req.URL.String()
	body, ok, err := f.lookup(f.Pages, link)
	if err != nil {
		return collyfetcher.Response{}, err
	}
	if !ok {
		return notFound(link)
	}
	return collyfetcher.Response{Link: link, FinalURL: link, Status: http.StatusOK, Body: []byte(body)}, nil
}

// FetchRobots implements scraper.Fetcher.
func (f *Fetcher) FetchRobots(_ context.Context, home *url.URL, _ string) (collyfetcher.Response, error) {
	robotsURL := robots.URL(home)
	body, ok, err := f.lookup(f.Robots, home.Hostname())
	if err != nil {
		return collyfetcher.Response{}, err
	}
	if !ok {
		return notFound(robotsURL.String())
	}
	link := robotsURL.String()
	return collyfetcher.Response{Link: link, FinalURL: link, Status: http.StatusOK, Body: []byte(body)}, nil
}

// FetchSitemap implements scraper.Fetcher.
func (f *Fetcher) FetchSitemap(_ context.Context, sitemapURL *url.URL, _ string) (collyfetcher.SitemapResponse, error) {
	link := sitemapURL.String()
	body, ok, err := f.lookup(f.Sitemaps, link)
	if err != nil {
		return collyfetcher.SitemapResponse{}, err
	}
	if !ok {
		resp, err := notFound(link)
		return collyfetcher.SitemapResponse{Response: resp}, err
	}
	resp := collyfetcher.Response{Link: link, FinalURL: link, Status: http.StatusOK, Body: []byte(body)}
	doc, err := sitemap.Parse(resp.Body)
	if err != nil {
		return collyfetcher.SitemapResponse{Response: resp}, &collyfetcher.FetchError{
			Kind:   collyfetcher.FetchParsing,
			URL:    link,
			Status: resp.Status,
			Cause:  err,
		}
	}
	return collyfetcher.SitemapResponse{Response: resp, Document: doc}, nil
}

func notFound(link string) (collyfetcher.Response, error) {
	resp := collyfetcher.Response{Link: link, FinalURL: link, Status: http.StatusNotFound}
	return resp, &collyfetcher.FetchError{Kind: collyfetcher.FetchBadResponse, URL: link, Status: http.StatusNotFound}
}
