package site

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/webcrawl-engine/internal/clock/system"
	"github.com/JakeFAU/webcrawl-engine/internal/crawl"
	"github.com/JakeFAU/webcrawl-engine/internal/linkutil"
	"github.com/JakeFAU/webcrawl-engine/internal/metrics"
	"github.com/JakeFAU/webcrawl-engine/internal/robots"
	"github.com/JakeFAU/webcrawl-engine/internal/routine"
	"github.com/JakeFAU/webcrawl-engine/internal/scraper"
	"github.com/JakeFAU/webcrawl-engine/internal/webpage"
)

// DefaultInterPhaseDelay separates the sitemap index crawl from the page crawl.
const DefaultInterPhaseDelay = 5 * time.Minute

// ScrapeResult is a scraper result tagged with the path label that produced it.
type ScrapeResult struct {
	scraper.Result
	PathLabel string `json:"pathLabel,omitempty"`
}

// Metadata is site-level information gathered during a crawl.
type Metadata struct {
	RobotsText string `json:"robotsText,omitempty"`
	// RobotsUnreachable is set when robots.txt never answered and the site
	// was crawled without rules.
	RobotsUnreachable bool `json:"robotsUnreachable,omitempty"`
}

// CrawlError is the serializable form of a failed visit.
type CrawlError struct {
	Link           string    `json:"link"`
	PathLabel      string    `json:"pathLabel,omitempty"`
	ErrorMsg       string    `json:"errorMsg"`
	VisitStartTime time.Time `json:"visitStartTime"`
	VisitEndTime   time.Time `json:"visitEndTime"`
}

// CrawlResult is the outcome of one site crawl.
type CrawlResult struct {
	SiteHostname   string         `json:"siteHostname"`
	SiteMetadata   *Metadata      `json:"siteMetadata,omitempty"`
	Completed      bool           `json:"completed"`
	StartTime      time.Time      `json:"startTime"`
	EndTime        time.Time      `json:"endTime"`
	PageResults    []ScrapeResult `json:"pageResults"`
	UnvisitedLinks []string       `json:"unvisitedLinks"`
	SkippedLinks   []string       `json:"skippedLinks,omitempty"`
	Errors         []CrawlError   `json:"errors"`
}

// ListedLinks gathers every sitemap-listed page link in the results.
func (r CrawlResult) ListedLinks() []string {
	var out []string
	for _, p := range r.PageResults {
		out = append(out, p.SitemapListedLinks...)
	}
	return out
}

// Clock supplies time and sleeps.
type Clock interface {
	Now() time.Time
	Sleep(ctx context.Context, d time.Duration) error
}

// Deps are the collaborators a Crawler needs. Fetcher is required.
type Deps struct {
	Fetcher scraper.Fetcher
	Clock   Clock
	Rand    func(n int64) int64
	Logger  *zap.Logger
	// Settings are the scraper defaults the site's rules are merged into.
	Settings scraper.Settings
	// DefaultRoutine scrapes pages no configured path matches. Nil means
	// crawl.DefaultRoutine.
	DefaultRoutine routine.Routine
	// RobotsAgent selects the robots.txt group. Empty means "*".
	RobotsAgent string
}

// Crawler crawls one site. It owns its scraper and robots state and must not
// be shared between goroutines.
type Crawler struct {
	cfg            Config
	home           *url.URL
	paths          []CompiledPath
	ignore         map[string]struct{}
	defaultRoutine routine.Routine
	scraper        *scraper.Scraper
	clock          Clock
	logger         *zap.Logger
	robotsAgent    string

	robotsRules       *robots.Rules
	robotsText        string
	robotsUnreachable bool
	robotsScrape      *ScrapeResult
}

// NewCrawler compiles cfg and builds a crawler. ignorePathnames are
// pathnames never to visit, typically those scraped in earlier runs.
func NewCrawler(cfg Config, ignorePathnames []string, deps Deps) (*Crawler, error) {
	home, err := cfg.HomeURL()
	if err != nil {
		return nil, err
	}
	paths, err := CompilePaths(cfg.Paths)
	if err != nil {
		return nil, err
	}
	if deps.Fetcher == nil {
		return nil, errors.New("site crawler requires a fetcher")
	}
	if deps.Clock == nil {
		deps.Clock = system.New()
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	settings := deps.Settings
	if settings == (scraper.Settings{}) {
		settings = scraper.DefaultSettings()
	}
	settings = settings.Merge(cfg.Rules.Overrides())

	logger := deps.Logger.Named("site").With(zap.String("site", home.Hostname()))
	c := &Crawler{
		cfg:            cfg,
		home:           home,
		paths:          paths,
		ignore:         make(map[string]struct{}, len(ignorePathnames)),
		defaultRoutine: deps.DefaultRoutine,
		clock:          deps.Clock,
		logger:         logger,
		robotsAgent:    deps.RobotsAgent,
		scraper: scraper.New(settings, scraper.Deps{
			Fetcher: deps.Fetcher,
			Clock:   deps.Clock,
			Rand:    deps.Rand,
			Logger:  logger,
		}),
	}
	if c.defaultRoutine == nil {
		c.defaultRoutine = crawl.DefaultRoutine()
	}
	for _, p := range ignorePathnames {
		c.ignore[p] = struct{}{}
	}
	if cfg.Rules.RobotsText != "" {
		c.loadRobots(cfg.Rules.RobotsText)
	}
	return c, nil
}

// Hostname returns the site's hostname.
func (c *Crawler) Hostname() string { return c.home.Hostname() }

// HomeURL returns the site's home URL.
func (c *Crawler) HomeURL() *url.URL { return c.home }

// Settings returns the merged scraper settings.
func (c *Crawler) Settings() scraper.Settings { return c.scraper.Settings() }

func (c *Crawler) loadRobots(text string) {
	c.robotsText = text
	c.robotsRules = robots.Parse(c.home.String(), text, robots.WithUserAgent(c.robotsAgent))
	if err := c.robotsRules.Err(); err != nil {
		c.logger.Warn("robots.txt did not parse, allowing all", zap.Error(err))
	}
}

// URLIsOK reports whether u may be visited: same hostname, not disallowed by
// a loaded robots.txt and not an ignored pathname. Without loaded robots.txt
// the robots check passes.
func (c *Crawler) URLIsOK(u *url.URL) bool {
	link := u.String()
	if u.Hostname() != c.Hostname() {
		c.logger.Debug("rejected off-site link", zap.String("url", link))
		return false
	}
	if c.robotsRules != nil && !c.robotsRules.IsAllowed(u) {
		c.logger.Info("rejected link disallowed by robots.txt", zap.String("url", link))
		return false
	}
	if _, ignored := c.ignore[pathname(u)]; ignored {
		c.logger.Debug("rejected ignored pathname", zap.String("url", link))
		return false
	}
	return true
}

// MatchPath returns the configured path for u. Off-site URLs never match.
func (c *Crawler) MatchPath(u *url.URL) (CompiledPath, bool) {
	if u.Hostname() != c.Hostname() {
		return CompiledPath{}, false
	}
	return MatchPath(u, c.paths)
}

// ScrapeURL visits u with the routine of its matching path, or the default
// routine. ok is false when u is inadmissible or has no routine.
func (c *Crawler) ScrapeURL(ctx context.Context, u *url.URL, page webpage.Page, requireRoutine bool) (ScrapeResult, bool, error) {
	if !c.URLIsOK(u) {
		return ScrapeResult{}, false, nil
	}
	matched, ok := c.MatchPath(u)
	r := matched.Routine
	if !ok {
		if requireRoutine || len(c.defaultRoutine) == 0 {
			c.logger.Debug("no routine for link", zap.String("url", u.String()))
			return ScrapeResult{}, false, nil
		}
		r = c.defaultRoutine
	}
	result, err := c.scraper.ScrapeURL(ctx, u, r, page, c.cfg.Auth)
	if err != nil {
		return ScrapeResult{}, false, err
	}
	c.logger.Info("scraped site link", zap.String("url", result.PageLink), zap.String("path", matched.Label))
	return ScrapeResult{Result: result, PathLabel: matched.Label}, true, nil
}

// ScrapeRobots fetches robots.txt once and caches the result.
func (c *Crawler) ScrapeRobots(ctx context.Context) (ScrapeResult, error) {
	if c.robotsScrape != nil {
		return *c.robotsScrape, nil
	}
	result, err := c.scraper.ScrapeRobotsText(ctx, c.home)
	if err != nil {
		return ScrapeResult{}, err
	}
	scrape := ScrapeResult{Result: result, PathLabel: LabelRobots}
	c.robotsScrape = &scrape
	return scrape, nil
}

// ScrapeSitemap fetches one sitemap and labels it by kind.
func (c *Crawler) ScrapeSitemap(ctx context.Context, sitemapURL *url.URL) (ScrapeResult, error) {
	result, err := c.scraper.ScrapeSitemap(ctx, sitemapURL)
	if err != nil {
		return ScrapeResult{}, err
	}
	label := LabelSitemapMisc
	switch {
	case result.SitemapIndexedLinks != nil:
		label = LabelSitemapIndex
	case result.SitemapListedLinks != nil:
		label = LabelSitemapList
	}
	return ScrapeResult{Result: result, PathLabel: label}, nil
}

// RobotsRules returns the loaded robots rules, fetching robots.txt when no
// text was configured.
func (c *Crawler) RobotsRules(ctx context.Context) (*robots.Rules, error) {
	if c.robotsRules != nil && (c.robotsText != "" || c.robotsUnreachable) {
		return c.robotsRules, nil
	}
	c.logger.Warn("no preloaded robots.txt, scraping it")
	result, err := c.ScrapeRobots(ctx)
	if err != nil {
		return nil, err
	}
	if result.RobotsPermissive {
		c.logger.Warn("robots.txt unreachable, allowing all", zap.String("site", c.Hostname()))
		c.robotsUnreachable = true
	}
	text := ""
	if result.RobotsText != nil {
		text = *result.RobotsText
	}
	c.loadRobots(text)
	return c.robotsRules, nil
}

// CrawlDelay returns the larger of the robots.txt Crawl-delay and the
// configured minimum interval, whichever are set. When neither is, or
// robots.txt cannot be fetched, it falls back to the configured interval.
func (c *Crawler) CrawlDelay(ctx context.Context) time.Duration {
	minInterval := c.scraper.Settings().MinInterval
	configured := c.cfg.Rules.MinInterval != nil && *c.cfg.Rules.MinInterval > 0

	var robotsDelay time.Duration
	var hasRobots bool
	if rules, err := c.RobotsRules(ctx); err == nil {
		robotsDelay, hasRobots = rules.CrawlDelay()
	} else {
		c.logger.Warn("robots.txt unavailable for crawl delay", zap.Error(err))
	}

	switch {
	case hasRobots && configured:
		return max(robotsDelay, *c.cfg.Rules.MinInterval)
	case hasRobots:
		return robotsDelay
	case configured:
		return *c.cfg.Rules.MinInterval
	default:
		return minInterval
	}
}

// SitemapURLs returns the sitemaps robots.txt declares, minus ignored pathnames.
func (c *Crawler) SitemapURLs(ctx context.Context) ([]*url.URL, error) {
	rules, err := c.RobotsRules(ctx)
	if err != nil {
		return nil, err
	}
	valid, _ := linkutil.Sanitize(rules.Sitemaps())
	out := valid[:0]
	for _, u := range valid {
		if _, ignored := c.ignore[pathname(u)]; !ignored {
			out = append(out, u)
		}
	}
	return out, nil
}

// CrawlSiteURLs crawls from seeds, following links-category values.
func (c *Crawler) CrawlSiteURLs(ctx context.Context, seeds []*url.URL, params crawl.Params, page webpage.Page) CrawlResult {
	produce := func(ctx context.Context, u *url.URL) (ScrapeResult, bool, error) {
		return c.ScrapeURL(ctx, u, page, params.RequireRoutines)
	}
	links := func(r ScrapeResult) []string {
		return r.ValuesIn(routine.CategoryLinks)
	}
	res := crawl.Run(ctx, seeds, params, produce, links, nil,
		crawl.WithClock(c.clock), crawl.WithLogger(c.logger), crawl.WithSite(c.Hostname()))
	return c.siteResult(res)
}

// CrawlSitemapIndexes crawls the sitemaps declared in robots.txt, following
// index entries to nested sitemaps.
func (c *Crawler) CrawlSitemapIndexes(ctx context.Context, params crawl.Params) CrawlResult {
	start := c.clock.Now()
	seeds, err := c.SitemapURLs(ctx)
	if err != nil {
		end := c.clock.Now()
		return CrawlResult{
			SiteHostname:   c.Hostname(),
			Completed:      false,
			StartTime:      start,
			EndTime:        end,
			PageResults:    []ScrapeResult{},
			UnvisitedLinks: []string{},
			Errors: []CrawlError{{
				Link:           robots.URL(c.home).String(),
				PathLabel:      LabelRobots,
				ErrorMsg:       err.Error(),
				VisitStartTime: start,
				VisitEndTime:   end,
			}},
		}
	}

	c.logger.Info("BEGIN SITEMAP INDEX CRAWL", zap.Int("sitemaps", len(seeds)))
	produce := func(ctx context.Context, u *url.URL) (ScrapeResult, bool, error) {
		result, err := c.ScrapeSitemap(ctx, u)
		if err != nil {
			return ScrapeResult{}, false, err
		}
		return result, true, nil
	}
	links := func(r ScrapeResult) []string { return r.SitemapIndexedLinks }
	res := crawl.Run(ctx, seeds, params, produce, links, nil,
		crawl.WithClock(c.clock), crawl.WithLogger(c.logger), crawl.WithSite(c.Hostname()))
	out := c.siteResult(res)
	c.logger.Info("END SITEMAP INDEX CRAWL", zap.Int("listed_links", len(out.ListedLinks())))
	return out
}

// CrawlSitemapURLs crawls the sitemap indexes and then the pages they list.
// If the index crawl recorded any error the page crawl is skipped and main
// is nil. Otherwise it waits delay after the index crawl ended before
// crawling the listed pages.
func (c *Crawler) CrawlSitemapURLs(
	ctx context.Context,
	params crawl.Params,
	page webpage.Page,
	delay time.Duration,
) (index CrawlResult, main *CrawlResult) {
	index = c.CrawlSitemapIndexes(ctx, params)
	if len(index.Errors) > 0 {
		c.logger.Warn("sitemap index crawl had errors, skipping page crawl", zap.Int("errors", len(index.Errors)))
		return index, nil
	}
	listed, _ := linkutil.Sanitize(index.ListedLinks())
	if wait := delay - c.clock.Now().Sub(index.EndTime); wait > 0 {
		if err := c.clock.Sleep(ctx, wait); err != nil {
			return index, nil
		}
	}
	result := c.CrawlSiteURLs(ctx, listed, params, page)
	return index, &result
}

func (c *Crawler) siteResult(res crawl.Result[ScrapeResult]) CrawlResult {
	out := CrawlResult{
		SiteHostname:   c.Hostname(),
		Completed:      res.Completed,
		StartTime:      res.StartTime,
		EndTime:        res.EndTime,
		PageResults:    res.PageResults,
		UnvisitedLinks: res.UnvisitedLinks,
		SkippedLinks:   res.SkippedLinks,
		Errors:         c.serializeErrors(res.Errors),
	}
	if out.PageResults == nil {
		out.PageResults = []ScrapeResult{}
	}
	if c.robotsText != "" || c.robotsUnreachable {
		out.SiteMetadata = &Metadata{RobotsText: c.robotsText, RobotsUnreachable: c.robotsUnreachable}
	}
	metrics.ObserveSiteCrawl(out.Completed)
	return out
}

func (c *Crawler) serializeErrors(errs []*crawl.CrawlingError) []CrawlError {
	out := make([]CrawlError, 0, len(errs))
	for _, e := range errs {
		ce := CrawlError{
			Link:           e.URL,
			ErrorMsg:       e.Cause.Error(),
			VisitStartTime: e.VisitStartTime,
			VisitEndTime:   e.CatchTime,
		}
		if u, err := url.Parse(e.URL); err == nil {
			if matched, ok := c.MatchPath(u); ok {
				ce.PathLabel = matched.Label
			}
		}
		out = append(out, ce)
	}
	return out
}

func pathname(u *url.URL) string {
	if p := u.EscapedPath(); p != "" {
		return p
	}
	return "/"
}

// String implements fmt.Stringer for logs.
func (c *Crawler) String() string {
	return fmt.Sprintf("site crawler %s (%d paths)", c.Hostname(), len(c.paths))
}
