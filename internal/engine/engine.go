// Package engine runs site crawls in sequential batches, with the sites of a
// batch crawled concurrently.
package engine

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/webcrawl-engine/internal/clock/system"
	"github.com/JakeFAU/webcrawl-engine/internal/crawl"
	"github.com/JakeFAU/webcrawl-engine/internal/metrics"
	"github.com/JakeFAU/webcrawl-engine/internal/routine"
	"github.com/JakeFAU/webcrawl-engine/internal/scraper"
	"github.com/JakeFAU/webcrawl-engine/internal/site"
	"github.com/JakeFAU/webcrawl-engine/internal/webpage"
)

const defaultBatchSize = 5

// ErrBrowserInactive is recorded when the shared browser dies mid-run.
var ErrBrowserInactive = errors.New("browser session is not active")

// SiteCrawl is one queued site.
type SiteCrawl struct {
	CrawlID         int
	Config          site.Config
	SeedURLs        []*url.URL
	IgnorePathnames []string
}

// SiteResult is a site crawl result tagged with its crawl ID.
type SiteResult struct {
	CrawlID int `json:"crawlID"`
	site.CrawlResult
}

// BatchError records a batch that could not run at all.
type BatchError struct {
	SiteCrawlIDs []int     `json:"siteCrawlIDs"`
	Message      string    `json:"message"`
	StartTime    time.Time `json:"startTime"`
	EndTime      time.Time `json:"endTime"`
}

func (e BatchError) Error() string {
	return fmt.Sprintf("batch %v failed: %s", e.SiteCrawlIDs, e.Message)
}

// Result is the outcome of a whole engine run.
type Result struct {
	SiteResults []SiteResult `json:"siteResults"`
	StartTime   time.Time    `json:"startTime"`
	EndTime     time.Time    `json:"endTime"`
	BatchErrors []BatchError `json:"batchErrors"`
}

// Settings tune the engine.
type Settings struct {
	// BatchSize is how many sites run concurrently.
	BatchSize int `mapstructure:"batch_size"`
	// InterPhaseDelay separates a site's sitemap index crawl from the crawl
	// of the pages it lists. Zero means site.DefaultInterPhaseDelay and a
	// negative value disables the wait.
	InterPhaseDelay time.Duration `mapstructure:"inter_phase_delay"`
}

// Deps are shared by every site crawler the engine builds.
type Deps struct {
	Fetcher        scraper.Fetcher
	Clock          site.Clock
	Rand           func(n int64) int64
	Logger         *zap.Logger
	Scraper        scraper.Settings
	DefaultRoutine routine.Routine
	RobotsAgent    string
}

// Engine queues site crawls and runs them.
type Engine struct {
	browser  webpage.Browser
	settings Settings
	deps     Deps
	logger   *zap.Logger

	mu    sync.Mutex
	queue []SiteCrawl
}

// New builds an Engine. browser may be nil, in which case every page is
// fetched over plain HTTP.
func New(browser webpage.Browser, settings Settings, deps Deps) *Engine {
	if settings.BatchSize <= 0 {
		settings.BatchSize = defaultBatchSize
	}
	if settings.InterPhaseDelay == 0 {
		settings.InterPhaseDelay = site.DefaultInterPhaseDelay
	}
	if deps.Clock == nil {
		deps.Clock = system.New()
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	return &Engine{
		browser:  browser,
		settings: settings,
		deps:     deps,
		logger:   deps.Logger.Named("engine"),
	}
}

// QueueSiteCrawl appends sc, replacing a pending crawl for the same hostname
// in place.
func (e *Engine) QueueSiteCrawl(sc SiteCrawl) {
	e.mu.Lock()
	defer e.mu.Unlock()
	host := sc.Config.Hostname()
	for i := range e.queue {
		if e.queue[i].Config.Hostname() == host {
			e.queue[i] = sc
			e.logger.Warn("updated queued site crawl", zap.String("site", host), zap.Int("queued", len(e.queue)))
			return
		}
	}
	e.queue = append(e.queue, sc)
	e.logger.Info("queued site crawl", zap.String("site", host), zap.Int("queued", len(e.queue)))
}

// Queued returns the number of pending site crawls.
func (e *Engine) Queued() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.queue)
}

func (e *Engine) nextBatch() []SiteCrawl {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := min(e.settings.BatchSize, len(e.queue))
	batch := append([]SiteCrawl(nil), e.queue[:n]...)
	e.queue = e.queue[n:]
	return batch
}

// siteRunner crawls one site with an optional page.
type siteRunner func(ctx context.Context, crawler *site.Crawler, sc SiteCrawl, page webpage.Page) site.CrawlResult

// CrawlSites drains the queue, crawling each site from its seeds (or its
// home page when it has none). With a browser, the session is opened before
// the first batch and closed after the last, and every site gets its own page.
func (e *Engine) CrawlSites(ctx context.Context, params crawl.Params) (Result, error) {
	run := func(ctx context.Context, crawler *site.Crawler, sc SiteCrawl, page webpage.Page) site.CrawlResult {
		seeds := sc.SeedURLs
		if len(seeds) == 0 {
			seeds = []*url.URL{crawler.HomeURL()}
		}
		return crawler.CrawlSiteURLs(ctx, seeds, params, page)
	}
	return e.withBrowser(ctx, run)
}

// CrawlSitemapPages drains the queue, crawling each site's sitemap indexes
// and then, after the inter-phase delay, the pages they list. A site whose
// index crawl recorded errors skips its page crawl. Both phases are merged
// into one result per site.
func (e *Engine) CrawlSitemapPages(ctx context.Context, params crawl.Params) (Result, error) {
	delay := e.settings.InterPhaseDelay
	return e.withBrowser(ctx, func(ctx context.Context, crawler *site.Crawler, _ SiteCrawl, page webpage.Page) site.CrawlResult {
		index, main := crawler.CrawlSitemapURLs(ctx, params, page, delay)
		return mergePhases(index, main)
	})
}

// withBrowser runs every queued site, inside one browser session when the
// engine has a browser.
func (e *Engine) withBrowser(ctx context.Context, run siteRunner) (Result, error) {
	if e.browser == nil {
		return e.runWebCrawl(ctx, false, run), nil
	}

	e.logger.Info("initializing browser for site crawls")
	if err := e.browser.Init(ctx); err != nil {
		return Result{}, fmt.Errorf("init browser: %w", err)
	}
	result := e.runWebCrawl(ctx, true, run)
	if err := e.browser.Close(context.WithoutCancel(ctx)); err != nil {
		e.logger.Warn("close browser", zap.Error(err))
	}
	return result, nil
}

// mergePhases folds the page crawl into the index crawl result. The site is
// only completed when both phases ran to completion.
func mergePhases(index site.CrawlResult, main *site.CrawlResult) site.CrawlResult {
	if main == nil {
		index.Completed = false
		return index
	}
	index.Completed = index.Completed && main.Completed
	index.EndTime = main.EndTime
	index.PageResults = append(index.PageResults, main.PageResults...)
	index.UnvisitedLinks = append(index.UnvisitedLinks, main.UnvisitedLinks...)
	index.SkippedLinks = append(index.SkippedLinks, main.SkippedLinks...)
	index.Errors = append(index.Errors, main.Errors...)
	if main.SiteMetadata != nil {
		index.SiteMetadata = main.SiteMetadata
	}
	return index
}

// CrawlSitemaps drains the queue, crawling each site's sitemap indexes over
// plain HTTP.
func (e *Engine) CrawlSitemaps(ctx context.Context, params crawl.Params) Result {
	return e.runWebCrawl(ctx, false, func(ctx context.Context, crawler *site.Crawler, _ SiteCrawl, _ webpage.Page) site.CrawlResult {
		return crawler.CrawlSitemapIndexes(ctx, params)
	})
}

func (e *Engine) runWebCrawl(ctx context.Context, usePages bool, run siteRunner) Result {
	start := e.deps.Clock.Now()
	e.logger.Info("START PARALLEL WEB CRAWL", zap.Int("sites", e.Queued()))
	result := Result{StartTime: start, SiteResults: []SiteResult{}, BatchErrors: []BatchError{}}

	for {
		batch := e.nextBatch()
		if len(batch) == 0 {
			break
		}
		batchStart := e.deps.Clock.Now()
		siteResults, err := e.crawlBatch(ctx, batch, usePages, run)
		if err != nil {
			batchErr := BatchError{
				SiteCrawlIDs: crawlIDs(batch),
				Message:      err.Error(),
				StartTime:    batchStart,
				EndTime:      e.deps.Clock.Now(),
			}
			metrics.ObserveBatchError()
			e.logger.Error("batch crawl failed",
				zap.Ints("crawl_ids", batchErr.SiteCrawlIDs),
				zap.Error(err),
			)
			result.BatchErrors = append(result.BatchErrors, batchErr)
			continue
		}
		result.SiteResults = append(result.SiteResults, siteResults...)
	}

	result.EndTime = e.deps.Clock.Now()
	e.logger.Info("END PARALLEL WEB CRAWL",
		zap.Int("sites", len(result.SiteResults)),
		zap.Int("batch_errors", len(result.BatchErrors)),
		zap.Duration("elapsed", result.EndTime.Sub(start)),
	)
	return result
}

// crawlBatch runs every site of batch concurrently and waits for all of
// them. Each site opens its own page and closes it when its crawl ends, so a
// browser that caps open pages makes the surplus sites wait for a free one.
// Site failures become degraded results; only failures that prevent the
// batch from starting are returned.
func (e *Engine) crawlBatch(ctx context.Context, batch []SiteCrawl, usePages bool, run siteRunner) (results []SiteResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in batch setup: %v", r)
		}
	}()

	if usePages && !e.browser.IsActive() {
		return nil, ErrBrowserInactive
	}

	e.logger.Info("START PARALLEL BATCH CRAWL", zap.Int("sites", len(batch)))
	results = make([]SiteResult, len(batch))
	var g errgroup.Group
	for i := range batch {
		g.Go(func() error {
			results[i] = e.runSiteCrawl(ctx, batch[i], usePages, run)
			return nil
		})
	}
	_ = g.Wait() //nolint:errcheck // site goroutines never return errors
	e.logger.Info("END PARALLEL BATCH CRAWL", zap.Int("sites", len(batch)))
	return results, nil
}

func (e *Engine) runSiteCrawl(ctx context.Context, sc SiteCrawl, usePages bool, run siteRunner) (result SiteResult) {
	host := sc.Config.Hostname()
	var page webpage.Page
	defer func() {
		if page != nil {
			if err := page.Close(context.WithoutCancel(ctx)); err != nil {
				e.logger.Warn("close page", zap.String("site", host), zap.Error(err))
			}
		}
		if r := recover(); r != nil {
			e.logger.Error("site crawl panicked",
				zap.String("site", host),
				zap.Any("panic", r),
				zap.String("stack", string(debug.Stack())),
			)
			result = e.degraded(sc, fmt.Errorf("panic: %v", r))
		}
	}()

	crawler, err := site.NewCrawler(sc.Config, sc.IgnorePathnames, site.Deps{
		Fetcher:        e.deps.Fetcher,
		Clock:          e.deps.Clock,
		Rand:           e.deps.Rand,
		Logger:         e.deps.Logger,
		Settings:       e.deps.Scraper,
		DefaultRoutine: e.deps.DefaultRoutine,
		RobotsAgent:    e.deps.RobotsAgent,
	})
	if err != nil {
		e.logger.Error("site crawl failed", zap.String("site", host), zap.Error(err))
		return e.degraded(sc, err)
	}
	if usePages {
		if page, err = e.browser.NewPage(ctx); err != nil {
			page = nil
			e.logger.Error("open page failed", zap.String("site", host), zap.Error(err))
			return e.degraded(sc, fmt.Errorf("open page: %w", err))
		}
	}
	return SiteResult{CrawlID: sc.CrawlID, CrawlResult: run(ctx, crawler, sc, page)}
}

// degraded is the result of a site that never crawled. cause, when set, is
// recorded against the home link.
func (e *Engine) degraded(sc SiteCrawl, cause error) SiteResult {
	now := e.deps.Clock.Now()
	host := sc.Config.Hostname()
	if host == "" {
		host = strings.TrimSpace(sc.Config.HomeLink)
	}
	errs := []site.CrawlError{}
	if cause != nil {
		errs = append(errs, site.CrawlError{
			Link:           sc.Config.HomeLink,
			ErrorMsg:       cause.Error(),
			VisitStartTime: now,
			VisitEndTime:   now,
		})
	}
	metrics.ObserveSiteCrawl(false)
	return SiteResult{
		CrawlID: sc.CrawlID,
		CrawlResult: site.CrawlResult{
			SiteHostname:   host,
			Completed:      false,
			StartTime:      now,
			EndTime:        now,
			PageResults:    []site.ScrapeResult{},
			UnvisitedLinks: []string{},
			Errors:         errs,
		},
	}
}

func crawlIDs(batch []SiteCrawl) []int {
	ids := make([]int, 0, len(batch))
	for _, sc := range batch {
		ids = append(ids, sc.CrawlID)
	}
	return ids
}
