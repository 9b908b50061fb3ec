// Package collyfetcher performs the HTTP side of scraping with gocolly: page
// GETs, robots.txt and sitemap downloads.
package collyfetcher

import (
	"context"
	"encoding/base64"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/webcrawl-engine/internal/metrics"
	"github.com/JakeFAU/webcrawl-engine/internal/sitemap"
)

const (
	defaultTimeout      = 10 * time.Second
	defaultMaxBodyBytes = 10 << 20
)

// Config controls collector behavior.
type Config struct {
	UserAgent    string
	Referer      string
	Timeout      time.Duration
	MaxBodyBytes int
}

// Credentials are HTTP basic auth credentials.
type Credentials struct {
	Username string
	Password string
}

// Request describes one GET.
type Request struct {
	URL       *url.URL
	UserAgent string
	Auth      *Credentials
	Headers   http.Header
	Timeout   time.Duration
}

// Response is a successful (HTTP 200) fetch.
type Response struct {
	Link     string
	FinalURL string
	Status   int
	Headers  http.Header
	Body     []byte
	Duration time.Duration
	// Permissive is set by FetchRobots when robots.txt never answered.
	Permissive       bool
	PermissiveReason string
}

// SitemapResponse is a fetched and parsed sitemap.
type SitemapResponse struct {
	Response
	Document sitemap.Document
}

// Limiter throttles raw requests per host.
type Limiter interface {
	Wait(ctx context.Context, host string) error
	ReportStatus(host string, status int)
}

// Fetcher performs GETs through a fresh Colly collector per request.
type Fetcher struct {
	cfg           Config
	transport     http.RoundTripper
	limiter       Limiter
	robotsBackoff []time.Duration
	logger        *zap.Logger
}

type collectorHooks interface {
	OnRequest(colly.RequestCallback)
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// New builds a Fetcher. limiter may be nil.
func New(cfg Config, limiter Limiter, logger *zap.Logger) *Fetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = defaultMaxBodyBytes
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Fetcher{
		cfg:           cfg,
		transport:     newHTTPTransport(),
		limiter:       limiter,
		robotsBackoff: defaultRobotsBackoff,
		logger:        logger.Named("fetcher"),
	}
}

// FetchPage GETs req.URL. Any status other than 200 is a FetchBadResponse error.
func (f *Fetcher) FetchPage(ctx context.Context, req Request) (Response, error) {
	if req.URL == nil {
		return Response{}, newFetchError(FetchUnknown, "", 0, fmt.Errorf("nil url"))
	}
	link := req.URL.String()
	f.logger.Info("fetching", zap.String("url", link))

	if f.limiter != nil {
		if err := f.limiter.Wait(ctx, req.URL.Hostname()); err != nil {
			return Response{}, newFetchError(FetchNetwork, link, 0, err)
		}
	}

	var (
		result   Response
		fetchErr error
	)
	start := time.Now()
	collector := f.buildCollector(req, start, &result, &fetchErr)
	if err := f.runCollector(ctx, collector, link, &fetchErr); err != nil {
		status := result.Status
		return Response{}, newFetchError("", link, status, err)
	}
	if f.limiter != nil {
		f.limiter.ReportStatus(req.URL.Hostname(), result.Status)
	}
	metrics.ObserveFetch(link, len(result.Body))
	if result.Status != http.StatusOK {
		return result, newFetchError(FetchBadResponse, link, result.Status, nil)
	}
	return result, nil
}

// FetchSitemap GETs and parses a sitemap. Parse failures are FetchParsing
// errors wrapping a *sitemap.ParseError.
func (f *Fetcher) FetchSitemap(ctx context.Context, sitemapURL *url.URL, userAgent string) (SitemapResponse, error) {
	resp, err := f.FetchPage(ctx, Request{URL: sitemapURL, UserAgent: userAgent})
	if err != nil {
		return SitemapResponse{}, err
	}
	doc, err := sitemap.Parse(resp.Body)
	if err != nil {
		return SitemapResponse{Response: resp}, newFetchError(FetchParsing, resp.Link, resp.Status, err)
	}
	return SitemapResponse{Response: resp, Document: doc}, nil
}

func (f *Fetcher) buildCollector(
	req Request,
	start time.Time,
	result *Response,
	fetchErr *error,
) *colly.Collector {
	userAgent := req.UserAgent
	if userAgent == "" {
		userAgent = f.cfg.UserAgent
	}
	collector := colly.NewCollector(
		colly.Async(false),
		colly.AllowURLRevisit(),
		colly.IgnoreRobotsTxt(),
		colly.ParseHTTPErrorResponse(),
		colly.MaxBodySize(f.cfg.MaxBodyBytes),
	)
	if userAgent != "" {
		collector.UserAgent = userAgent
	}
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = f.cfg.Timeout
	}
	collector.SetRequestTimeout(timeout)

	collector.WithTransport(f.transport)

	result.Link = req.URL.String()
	f.configureCollectorHooks(collector, req, start, result, fetchErr)
	return collector
}

func (f *Fetcher) configureCollectorHooks(
	hooks collectorHooks,
	req Request,
	start time.Time,
	result *Response,
	fetchErr *error,
) {
	hooks.OnRequest(func(r *colly.Request) {
		f.copyHeaders(req, r)
	})

	hooks.OnResponse(func(r *colly.Response) {
		headers := http.Header{}
		if r.Headers != nil {
			headers = r.Headers.Clone()
		}
		*result = Response{
			Link:     result.Link,
			FinalURL: r.Request.URL.String(),
			Status:   r.StatusCode,
			Headers:  headers,
			Body:     append([]byte(nil), r.Body...),
			Duration: time.Since(start),
		}
	})

	hooks.OnError(func(r *colly.Response, err error) {
		if r != nil {
			result.Status = r.StatusCode
		}
		*fetchErr = err
	})
}

func (f *Fetcher) runCollector(ctx context.Context, collector *colly.Collector, link string, fetchErr *error) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(link)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("colly fetch canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return fmt.Errorf("colly visit failed: %w", err)
		}
		if *fetchErr != nil {
			return fmt.Errorf("colly response failed: %w", *fetchErr)
		}
		return nil
	}
}

func (f *Fetcher) copyHeaders(req Request, r *colly.Request) {
	if f.cfg.Referer != "" {
		r.Headers.Set("Referer", f.cfg.Referer)
	}
	if req.Auth != nil {
		token := base64.StdEncoding.EncodeToString([]byte(req.Auth.Username + ":" + req.Auth.Password))
		r.Headers.Set("Authorization", "Basic "+token)
	}
	for key, values := range req.Headers {
		for _, v := range values {
			r.Headers.Add(key, v)
		}
	}
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
