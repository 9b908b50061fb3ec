// Package scraper visits single pages politely. It enforces a per-instance
// visit interval, picks a user agent and a backend, and runs a routine
// against the page.
package scraper

import (
	"context"
	"errors"
	"math/rand/v2"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/webcrawl-engine/internal/clock/system"
	collyfetcher "github.com/JakeFAU/webcrawl-engine/internal/fetcher/colly"
	"github.com/JakeFAU/webcrawl-engine/internal/metrics"
	"github.com/JakeFAU/webcrawl-engine/internal/routine"
	"github.com/JakeFAU/webcrawl-engine/internal/sitemap"
	"github.com/JakeFAU/webcrawl-engine/internal/webpage"
	"github.com/JakeFAU/webcrawl-engine/internal/webpage/static"
)

// Clock supplies time and sleeps.
type Clock interface {
	Now() time.Time
	Sleep(ctx context.Context, d time.Duration) error
}

// Fetcher performs plain HTTP requests.
type Fetcher interface {
	FetchPage(ctx context.Context, req collyfetcher.Request) (collyfetcher.Response, error)
	FetchRobots(ctx context.Context, home *url.URL, userAgent string) (collyfetcher.Response, error)
	FetchSitemap(ctx context.Context, sitemapURL *url.URL, userAgent string) (collyfetcher.SitemapResponse, error)
}

// Deps are the scraper's collaborators. Fetcher is required.
type Deps struct {
	Fetcher Fetcher
	Clock   Clock
	// Rand returns a value in [0, n). Defaults to math/rand/v2.
	Rand   func(n int64) int64
	Logger *zap.Logger
}

// Scraper scrapes pages for one site. It is not safe for concurrent use: the
// visit interval is tracked per instance and calls are expected to be
// sequential.
type Scraper struct {
	settings    Settings
	fetcher     Fetcher
	clock       Clock
	rand        func(n int64) int64
	logger      *zap.Logger
	interpreter *routine.Interpreter

	lastVisit   time.Time
	scrapeCount int
}

// New builds a Scraper.
func New(settings Settings, deps Deps) *Scraper {
	s := &Scraper{
		settings: settings,
		fetcher:  deps.Fetcher,
		clock:    deps.Clock,
		rand:     deps.Rand,
		logger:   deps.Logger,
	}
	if s.clock == nil {
		s.clock = system.New()
	}
	if s.rand == nil {
		s.rand = rand.Int64N
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	s.logger = s.logger.Named("scraper")
	s.interpreter = routine.NewInterpreter(routine.Options{
		WaitTimeout:  settings.Timeout,
		BeforeAction: s.actionNoise,
		Logger:       s.logger,
	})
	return s
}

// Settings returns the scraper's settings.
func (s *Scraper) Settings() Settings { return s.settings }

// ScrapeCount returns how many page scrapes this instance has attempted.
func (s *Scraper) ScrapeCount() int { return s.scrapeCount }

// ScrapeURL waits out the visit interval and runs r against u. Routines that
// CanFetch, or any routine when page is nil, are served by a plain GET parsed
// into a static page. Everything else drives page.
func (s *Scraper) ScrapeURL(ctx context.Context, u *url.URL, r routine.Routine, page webpage.Page, auth *Auth) (Result, error) {
	interval, err := s.respectVisitInterval(ctx)
	if err != nil {
		return Result{}, s.fail(&ScrapeError{Kind: inferKind(err), URL: u.String(), StartTime: s.clock.Now(), Cause: err})
	}
	userAgent := DefaultUserAgent
	if s.settings.UseStealth && !auth.Active() {
		userAgent = s.randomUserAgent()
	}
	s.scrapeCount++

	var result Result
	if page == nil || CanFetch(r, auth) {
		result, err = s.scrapeWithFetcher(ctx, u, r, userAgent, auth)
	} else {
		result, err = s.scrapeWithPage(ctx, u, r, page, userAgent, auth)
	}
	if err != nil {
		var scrapeErr *ScrapeError
		if errors.As(err, &scrapeErr) {
			scrapeErr.Interval = interval
		}
		return Result{}, s.fail(err)
	}
	metrics.ObserveScrape(u.String(), string(result.Method), result.EndTime.Sub(result.StartTime))
	return result, nil
}

func (s *Scraper) scrapeWithFetcher(ctx context.Context, u *url.URL, r routine.Routine, userAgent string, auth *Auth) (Result, error) {
	start := s.clock.Now()
	newErr := func(status int, cause error) error {
		return &ScrapeError{
			Kind:        inferKind(cause),
			URL:         u.String(),
			Method:      MethodFetch,
			UserAgent:   userAgent,
			Status:      status,
			StartTime:   start,
			PartialData: partialData(cause),
			Cause:       cause,
		}
	}

	req := collyfetcher.Request{URL: u, UserAgent: userAgent, Timeout: s.settings.Timeout}
	if auth.Active() && auth.Method == AuthHTTP {
		req.Auth = &collyfetcher.Credentials{Username: auth.Credentials.Username, Password: auth.Credentials.Password}
	}
	s.logger.Debug("fetching page", zap.String("url", u.String()))
	resp, err := s.fetcher.FetchPage(ctx, req)
	if err != nil {
		return Result{}, newErr(resp.Status, err)
	}

	doc, err := static.New(u, resp.Status, resp.Body)
	if err != nil {
		return Result{}, newErr(resp.Status, err)
	}
	title, _ := doc.Title(ctx) //nolint:errcheck // static pages never fail here
	values, err := s.interpreter.Execute(ctx, doc, r)
	if err != nil {
		return Result{}, newErr(resp.Status, err)
	}
	data := ProcessValues(values.Values)
	return Result{
		Method:      MethodFetch,
		Status:      resp.Status,
		PageLink:    u.String(),
		PageTitle:   title,
		StartTime:   start,
		EndTime:     s.clock.Now(),
		ScrapedData: &data,
	}, nil
}

func (s *Scraper) scrapeWithPage(
	ctx context.Context,
	u *url.URL,
	r routine.Routine,
	page webpage.Page,
	userAgent string,
	auth *Auth,
) (Result, error) {
	start := s.clock.Now()
	newErr := func(kind ErrorKind, status int, cause error) error {
		if kind == "" {
			kind = inferKind(cause)
		}
		return &ScrapeError{
			Kind:        kind,
			URL:         u.String(),
			Method:      MethodBrowser,
			UserAgent:   userAgent,
			Status:      status,
			StartTime:   start,
			PartialData: partialData(cause),
			Cause:       cause,
		}
	}

	// The agent must be set right before navigating.
	if err := page.SetUserAgent(ctx, userAgent); err != nil {
		return Result{}, newErr("", 0, err)
	}
	if auth.Active() {
		if _, err := Authenticate(ctx, page, auth); err != nil {
			return Result{}, newErr("", 0, err)
		}
	}
	s.logger.Debug("navigating", zap.String("url", u.String()))
	status, err := page.NavigateTo(ctx, u, s.settings.Timeout)
	if err != nil {
		return Result{}, newErr("", status, err)
	}
	if status != http.StatusOK {
		return Result{}, newErr(ErrNavBadResponse, status, nil)
	}
	title, err := page.Title(ctx)
	if err != nil {
		return Result{}, newErr("", status, err)
	}
	values, err := s.interpreter.Execute(ctx, page, r)
	if err != nil {
		return Result{}, newErr("", status, err)
	}
	data := ProcessValues(values.Values)
	s.logger.Debug("page scraped", zap.String("url", u.String()), zap.Int("values", len(data.Values)))
	return Result{
		Method:      MethodBrowser,
		Status:      status,
		PageLink:    u.String(),
		PageTitle:   title,
		StartTime:   start,
		EndTime:     s.clock.Now(),
		ScrapedData: &data,
	}, nil
}

// ScrapeRobotsText fetches robots.txt for home.
func (s *Scraper) ScrapeRobotsText(ctx context.Context, home *url.URL) (Result, error) {
	interval, err := s.respectVisitInterval(ctx)
	userAgent := s.siteUserAgent()
	start := s.clock.Now()
	if err == nil {
		var resp collyfetcher.Response
		resp, err = s.fetcher.FetchRobots(ctx, home, userAgent)
		if err == nil {
			result := Result{
				Method:    MethodFetch,
				Status:    resp.Status,
				PageLink:  resp.Link,
				PageTitle: "robots.txt",
				StartTime: start,
				EndTime:   s.clock.Now(),
			}
			if resp.Permissive {
				s.logger.Warn("robots.txt unreachable",
					zap.String("home", home.String()),
					zap.String("reason", resp.PermissiveReason),
				)
				result.RobotsPermissive = true
				return result, nil
			}
			text := string(resp.Body)
			result.RobotsText = &text
			s.logger.Info("fetched robots.txt", zap.String("home", home.String()))
			return result, nil
		}
	}
	return Result{}, s.fail(&ScrapeError{
		Kind:      ErrRobotsFetch,
		URL:       home.String(),
		Method:    MethodFetch,
		UserAgent: userAgent,
		StartTime: start,
		Interval:  interval,
		Cause:     err,
	})
}

// ScrapeSitemap fetches and classifies a sitemap. Documents that parse but
// are neither a usable index nor a url set fail with ErrSitemapInvalid.
func (s *Scraper) ScrapeSitemap(ctx context.Context, sitemapURL *url.URL) (Result, error) {
	interval, err := s.respectVisitInterval(ctx)
	userAgent := s.siteUserAgent()
	start := s.clock.Now()
	newErr := func(kind ErrorKind, status int, cause error) error {
		return s.fail(&ScrapeError{
			Kind:      kind,
			URL:       sitemapURL.String(),
			Method:    MethodFetch,
			UserAgent: userAgent,
			Status:    status,
			StartTime: start,
			Interval:  interval,
			Cause:     cause,
		})
	}
	if err != nil {
		return Result{}, newErr(ErrSitemapFetch, 0, err)
	}

	resp, err := s.fetcher.FetchSitemap(ctx, sitemapURL, userAgent)
	if err != nil {
		var parseErr *sitemap.ParseError
		if errors.As(err, &parseErr) && parseErr.Kind != sitemap.Unknown {
			return Result{}, newErr(ErrSitemapInvalid, resp.Status, err)
		}
		return Result{}, newErr(ErrSitemapFetch, resp.Status, err)
	}

	result := Result{
		Method:    MethodFetch,
		Status:    resp.Status,
		PageLink:  resp.Link,
		StartTime: start,
	}
	switch {
	case resp.Document.PageLinks != nil:
		result.SitemapListedLinks = sitemap.Links(resp.Document.PageLinks)
		s.logger.Info("scraped sitemap",
			zap.String("url", sitemapURL.String()),
			zap.Int("listed_links", len(result.SitemapListedLinks)),
		)
	case resp.Document.NestedSitemapLinks != nil:
		result.SitemapIndexedLinks = sitemap.Links(resp.Document.NestedSitemapLinks)
		s.logger.Info("scraped sitemap index",
			zap.String("url", sitemapURL.String()),
			zap.Int("indexed_links", len(result.SitemapIndexedLinks)),
		)
	default:
		return Result{}, newErr(ErrSitemapInvalid, resp.Status, nil)
	}
	result.EndTime = s.clock.Now()
	return result, nil
}

func (s *Scraper) fail(err error) error {
	s.logger.Error("scrape failed", zap.Error(err))
	return err
}

// respectVisitInterval sleeps until MinInterval plus noise has passed since
// the previous visit and returns the gap actually observed.
func (s *Scraper) respectVisitInterval(ctx context.Context) (time.Duration, error) {
	if !s.lastVisit.IsZero() {
		required := s.settings.MinInterval + s.noise(s.settings.IntervalNoiseMax)
		if wait := required - s.clock.Now().Sub(s.lastVisit); wait > 0 {
			s.logger.Debug("respecting visit interval", zap.Duration("wait", wait))
			if err := s.clock.Sleep(ctx, wait); err != nil {
				return 0, err
			}
		}
	}
	now := s.clock.Now()
	var interval time.Duration
	if !s.lastVisit.IsZero() {
		interval = now.Sub(s.lastVisit)
	}
	s.lastVisit = now
	return interval, nil
}

func (s *Scraper) actionNoise(ctx context.Context) error {
	return s.clock.Sleep(ctx, s.noise(s.settings.ActionNoiseMax))
}

func (s *Scraper) noise(limit time.Duration) time.Duration {
	if limit <= 0 {
		return 0
	}
	return time.Duration(s.rand(int64(limit)))
}

func (s *Scraper) siteUserAgent() string {
	if s.settings.UseStealth {
		return s.randomUserAgent()
	}
	return DefaultUserAgent
}

func (s *Scraper) randomUserAgent() string {
	return RotatingUserAgents[s.rand(int64(len(RotatingUserAgents)))]
}
