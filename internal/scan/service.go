package scan

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/webcrawl-engine/internal/clock/system"
	"github.com/JakeFAU/webcrawl-engine/internal/crawl"
	"github.com/JakeFAU/webcrawl-engine/internal/engine"
	"github.com/JakeFAU/webcrawl-engine/internal/linkutil"
	"github.com/JakeFAU/webcrawl-engine/internal/metrics"
	"github.com/JakeFAU/webcrawl-engine/internal/progress"
	"github.com/JakeFAU/webcrawl-engine/internal/routine"
	"github.com/JakeFAU/webcrawl-engine/internal/scraper"
	"github.com/JakeFAU/webcrawl-engine/internal/site"
	"github.com/JakeFAU/webcrawl-engine/internal/siteconfig"
	"github.com/JakeFAU/webcrawl-engine/internal/webpage"
)

var (
	// ErrNoSites is returned when a request resolves to no site to crawl.
	ErrNoSites = errors.New("scan has no sites to crawl")
	// ErrNoHistory is returned for a backlog scan without a history store.
	ErrNoHistory = errors.New("backlog scan requires a history store")
)

// Config holds the defaults every scan starts from.
type Config struct {
	Params         crawl.Params
	Engine         engine.Settings
	Scraper        scraper.Settings
	DefaultRoutine routine.Routine
	RobotsAgent    string
	// Topic is where finished scans are published.
	Topic string
}

// Deps are the collaborators of a Service. Only Fetcher is required.
type Deps struct {
	Sites     siteconfig.Provider
	Fetcher   scraper.Fetcher
	Browser   webpage.Browser
	Sink      Sink
	History   History
	Publisher Publisher
	Progress  progress.Emitter
	IDs       IDGenerator
	Clock     site.Clock
	Rand      func(n int64) int64
	Logger    *zap.Logger
}

// Service runs scans one at a time, since they share one browser.
type Service struct {
	cfg    Config
	deps   Deps
	logger *zap.Logger
	mu     sync.Mutex
}

// NewService builds a Service.
func NewService(cfg Config, deps Deps) (*Service, error) {
	if deps.Fetcher == nil {
		return nil, errors.New("scan service requires a fetcher")
	}
	if deps.Clock == nil {
		deps.Clock = system.New()
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if cfg.Params == (crawl.Params{}) {
		cfg.Params = crawl.DefaultParams()
	}
	return &Service{cfg: cfg, deps: deps, logger: deps.Logger.Named("scan")}, nil
}

// Scan mints an ID and runs req.
func (s *Service) Scan(ctx context.Context, req Request) (Payload, error) {
	if s.deps.IDs == nil {
		return Payload{}, errors.New("scan service has no id generator")
	}
	id, err := s.deps.IDs.NewID()
	if err != nil {
		return Payload{}, fmt.Errorf("scan id: %w", err)
	}
	return s.Run(ctx, id, req)
}

var tracer = otel.Tracer("github.com/JakeFAU/webcrawl-engine/internal/scan")

// Run executes req under scanID, writes its records to the sink and
// publishes the payload. The payload is returned even when the scan fails.
func (s *Service) Run(ctx context.Context, scanID string, req Request) (Payload, error) {
	ctx, span := tracer.Start(ctx, "scan.Run", trace.WithAttributes(
		attribute.String("scan.id", scanID),
		attribute.String("scan.task", string(req.Task)),
	))
	defer span.End()

	payload, err := s.run(ctx, scanID, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return payload, err
	}
	if payload.Stats != nil {
		span.SetAttributes(
			attribute.Int("scan.sites", payload.Stats.Sites),
			attribute.Int("scan.pages", payload.Stats.Pages),
			attribute.Int("scan.errors", payload.Stats.Errors),
		)
	}
	return payload, nil
}

func (s *Service) run(ctx context.Context, scanID string, req Request) (Payload, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	metrics.IncActiveScans()
	defer metrics.DecActiveScans()

	logger := s.logger.With(zap.String("scan_id", scanID), zap.String("task", string(req.Task)))
	start := s.deps.Clock.Now()
	payload := Payload{ScanID: scanID, Task: req.Task, StartTime: start}
	s.emit(progress.Event{ScanID: scanID, TS: start, Stage: progress.StageScanStart, Task: string(req.Task)})
	logger.Info("START SCAN", zap.Strings("sites", req.Sites), zap.Int("seeds", len(req.Seeds)))

	res, err := s.execute(ctx, req, logger)
	if err != nil {
		return s.fail(ctx, payload, err, logger)
	}

	records := BuildRecords(scanID, req.Task, res)
	stats := Summarize(res, records)
	payload.Success = true
	payload.Stats = &stats
	payload.EndTime = s.deps.Clock.Now()
	records.Payload = payload
	if s.deps.Sink != nil {
		if err := s.deps.Sink.WriteScan(ctx, records); err != nil {
			return s.fail(ctx, payload, fmt.Errorf("write scan records: %w", err), logger)
		}
	}

	s.emitResults(scanID, string(req.Task), res)
	s.emit(progress.Event{
		ScanID: scanID,
		TS:     payload.EndTime,
		Stage:  progress.StageScanDone,
		Task:   string(req.Task),
		Visits: int64(stats.Pages),
		Errors: int64(stats.Errors),
		Dur:    payload.EndTime.Sub(start),
	})
	s.publish(ctx, payload, logger)
	metrics.ObserveScan(string(req.Task), "success")
	logger.Info("END SCAN",
		zap.Int("sites", stats.Sites),
		zap.Int("pages", stats.Pages),
		zap.Int("errors", stats.Errors),
		zap.Duration("elapsed", payload.EndTime.Sub(start)),
	)
	return payload, nil
}

func (s *Service) fail(ctx context.Context, payload Payload, err error, logger *zap.Logger) (Payload, error) {
	payload.Success = false
	payload.Stats = nil
	payload.Error = err.Error()
	payload.EndTime = s.deps.Clock.Now()
	s.emit(progress.Event{
		ScanID: payload.ScanID,
		TS:     payload.EndTime,
		Stage:  progress.StageScanError,
		Task:   string(payload.Task),
		Dur:    payload.EndTime.Sub(payload.StartTime),
		Note:   payload.Error,
	})
	s.publish(ctx, payload, logger)
	metrics.ObserveScan(string(payload.Task), "error")
	logger.Error("scan failed", zap.Error(err))
	return payload, err
}

func (s *Service) execute(ctx context.Context, req Request, logger *zap.Logger) (engine.Result, error) {
	task, err := ParseTask(string(req.Task))
	if err != nil {
		return engine.Result{}, err
	}
	crawls, err := s.siteCrawls(ctx, task, req, logger)
	if err != nil {
		return engine.Result{}, err
	}
	if len(crawls) == 0 {
		return engine.Result{}, ErrNoSites
	}
	params := taskParams(s.cfg.Params, task).Merge(req.Params)

	browser := s.deps.Browser
	if task == TaskIndexes {
		browser = nil
	}
	eng := engine.New(browser, s.cfg.Engine, engine.Deps{
		Fetcher:        s.deps.Fetcher,
		Clock:          s.deps.Clock,
		Rand:           s.deps.Rand,
		Logger:         logger,
		Scraper:        s.cfg.Scraper,
		DefaultRoutine: s.cfg.DefaultRoutine,
		RobotsAgent:    s.cfg.RobotsAgent,
	})
	for _, sc := range crawls {
		eng.QueueSiteCrawl(sc)
	}
	var res engine.Result
	switch task {
	case TaskIndexes:
		return eng.CrawlSitemaps(ctx, params), nil
	case TaskSitemaps:
		res, err = eng.CrawlSitemapPages(ctx, params)
	default:
		res, err = eng.CrawlSites(ctx, params)
	}
	if err != nil {
		return engine.Result{}, fmt.Errorf("crawl sites: %w", err)
	}
	return res, nil
}

// taskParams applies the fixed settings of each task over base.
func taskParams(base crawl.Params, task Task) crawl.Params {
	switch task {
	case TaskLinks:
		base.FollowLinks = true
	case TaskFrontpages:
		base.FollowLinks = true
		base.RequireRoutines = false
	case TaskBacklogs, TaskSitemaps:
		base.FollowLinks = false
	case TaskIndexes:
	}
	return base
}

type siteTarget struct {
	host  string
	seeds []*url.URL
}

func (s *Service) targets(ctx context.Context, task Task, req Request) ([]siteTarget, error) {
	var targets []siteTarget
	index := map[string]int{}
	add := func(host string, seeds []*url.URL) {
		if i, ok := index[host]; ok {
			targets[i].seeds = append(targets[i].seeds, seeds...)
			return
		}
		index[host] = len(targets)
		targets = append(targets, siteTarget{host: host, seeds: seeds})
	}

	if task == TaskLinks {
		for _, group := range linkutil.GroupLinksByHostname(req.Seeds) {
			add(group.Hostname, group.URLs)
		}
	}
	for _, host := range req.Sites {
		add(host, nil)
	}
	if len(targets) > 0 || task == TaskLinks || s.deps.Sites == nil {
		return targets, nil
	}
	all, err := s.deps.Sites.Sites(ctx)
	if err != nil {
		return nil, fmt.Errorf("list sites: %w", err)
	}
	for _, cfg := range all {
		add(cfg.Hostname(), nil)
	}
	return targets, nil
}

func (s *Service) siteCrawls(ctx context.Context, task Task, req Request, logger *zap.Logger) ([]engine.SiteCrawl, error) {
	if task == TaskBacklogs && s.deps.History == nil {
		return nil, ErrNoHistory
	}
	targets, err := s.targets(ctx, task, req)
	if err != nil {
		return nil, err
	}

	crawls := make([]engine.SiteCrawl, 0, len(targets))
	for i, target := range targets {
		cfg, err := siteconfig.Resolve(ctx, s.deps.Sites, target.host)
		if err != nil {
			return nil, fmt.Errorf("site %s: %w", target.host, err)
		}
		home, err := cfg.HomeURL()
		if err != nil {
			return nil, fmt.Errorf("site %s: %w", target.host, err)
		}
		sc := engine.SiteCrawl{CrawlID: i + 1, Config: cfg, SeedURLs: target.seeds}

		switch task {
		case TaskLinks:
			if len(sc.SeedURLs) == 0 {
				sc.SeedURLs = []*url.URL{home}
			}
			sc.IgnorePathnames, err = s.history(ctx, History.VisitedPathnames, target.host)
		case TaskBacklogs:
			var backlog []string
			backlog, err = s.deps.History.BacklogPathnames(ctx, target.host)
			if err == nil {
				sc.SeedURLs = resolvePathnames(home, backlog)
				sc.IgnorePathnames, err = s.history(ctx, History.VisitedPathnames, target.host)
			}
		case TaskIndexes, TaskSitemaps:
			sc.IgnorePathnames, err = s.history(ctx, History.FailedSitemapPathnames, target.host)
		case TaskFrontpages:
			sc.SeedURLs = []*url.URL{home}
		}
		if err != nil {
			return nil, fmt.Errorf("site %s history: %w", target.host, err)
		}
		if task == TaskBacklogs && len(sc.SeedURLs) == 0 {
			logger.Info("no backlog for site", zap.String("site", target.host))
			continue
		}
		crawls = append(crawls, sc)
	}
	return crawls, nil
}

func (s *Service) history(
	ctx context.Context,
	query func(History, context.Context, string) ([]string, error),
	host string,
) ([]string, error) {
	if s.deps.History == nil {
		return nil, nil
	}
	return query(s.deps.History, ctx, host)
}

func resolvePathnames(home *url.URL, pathnames []string) []*url.URL {
	out := make([]*url.URL, 0, len(pathnames))
	for _, p := range pathnames {
		ref, err := url.Parse(p)
		if err != nil {
			continue
		}
		out = append(out, home.ResolveReference(ref))
	}
	return out
}

func (s *Service) emitResults(scanID, task string, res engine.Result) {
	for _, sr := range res.SiteResults {
		s.emit(progress.Event{
			ScanID:    scanID,
			TS:        sr.EndTime,
			Stage:     progress.StageSiteDone,
			Task:      task,
			Site:      sr.SiteHostname,
			Visits:    int64(len(sr.PageResults)),
			Errors:    int64(len(sr.Errors)),
			Completed: sr.Completed,
			Dur:       max(sr.EndTime.Sub(sr.StartTime), 0),
		})
	}
	for _, be := range res.BatchErrors {
		s.emit(progress.Event{
			ScanID: scanID,
			TS:     be.EndTime,
			Stage:  progress.StageBatchFail,
			Task:   task,
			Note:   be.Message,
		})
	}
}

func (s *Service) emit(evt progress.Event) {
	if s.deps.Progress != nil {
		s.deps.Progress.Emit(evt)
	}
}

func (s *Service) publish(ctx context.Context, payload Payload, logger *zap.Logger) {
	if s.deps.Publisher == nil {
		return
	}
	id, err := s.deps.Publisher.Publish(context.WithoutCancel(ctx), s.cfg.Topic, payload)
	if err != nil {
		logger.Warn("publish scan payload", zap.Error(err))
		return
	}
	logger.Debug("published scan payload", zap.String("message_id", id))
}
