// Package crawl runs a bounded breadth-first visit over a URL queue. It knows
// nothing about pages: callers supply a producer that visits one URL and an
// optional link producer that feeds new URLs back into the queue.
package crawl

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/webcrawl-engine/internal/clock/system"
	"github.com/JakeFAU/webcrawl-engine/internal/linkutil"
	"github.com/JakeFAU/webcrawl-engine/internal/metrics"
)

// Producer visits u. ok=false means the URL was deliberately skipped.
type Producer[R any] func(ctx context.Context, u *url.URL) (result R, ok bool, err error)

// LinkProducer extracts candidate links from a visit result.
type LinkProducer[R any] func(result R) []string

// Terminator is polled before every visit; returning true ends the crawl.
type Terminator func() bool

// Clock supplies timestamps.
type Clock interface {
	Now() time.Time
}

// CrawlingError records one failed visit.
type CrawlingError struct {
	URL            string
	Cause          error
	VisitStartTime time.Time
	CatchTime      time.Time
}

func (e *CrawlingError) Error() string {
	return fmt.Sprintf("crawl %s: %v", e.URL, e.Cause)
}

func (e *CrawlingError) Unwrap() error { return e.Cause }

// Result is the outcome of Run.
type Result[R any] struct {
	// Completed is false when the crawl had nothing to do or stopped on the
	// error limit, the skip limit, the terminator or context cancellation.
	Completed   bool
	StartTime   time.Time
	EndTime     time.Time
	PageResults []R
	// UnvisitedLinks holds the queue left at exit followed by links that did
	// not fit in the queue.
	UnvisitedLinks []string
	Errors         []*CrawlingError

	VisitedLinks []string
	SkippedLinks []string
	FailedLinks  []string
}

type options struct {
	clock  Clock
	logger *zap.Logger
	site   string
}

// Option customizes Run.
type Option func(*options)

// WithClock sets the timestamp source.
func WithClock(c Clock) Option {
	return func(o *options) { o.clock = c }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithSite labels logs and metrics with site.
func WithSite(site string) Option {
	return func(o *options) { o.site = site }
}

type linkSet struct {
	index map[string]struct{}
	order []string
}

func newLinkSet() *linkSet { return &linkSet{index: map[string]struct{}{}} }

func (s *linkSet) add(link string) {
	if _, ok := s.index[link]; ok {
		return
	}
	s.index[link] = struct{}{}
	s.order = append(s.order, link)
}

func (s *linkSet) has(link string) bool {
	_, ok := s.index[link]
	return ok
}

func (s *linkSet) len() int { return len(s.order) }

// Run visits URLs from seeds in FIFO order until params.MaxVisits pages have
// been visited or an early stop condition holds. Each distinct URL string
// is resolved at most once, as visited, skipped or failed; dequeuing an
// already resolved URL counts against the skip limit without changing its
// resolution. A failing visit is recorded and never retried.
func Run[R any](
	ctx context.Context,
	seeds []*url.URL,
	params Params,
	produce Producer[R],
	links LinkProducer[R],
	terminate Terminator,
	opts ...Option,
) Result[R] {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.clock == nil {
		o.clock = system.New()
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}
	logger := o.logger.Named("crawl")
	if o.site != "" {
		logger = logger.With(zap.String("site", o.site))
	}

	queue := make([]*url.URL, 0, min(len(seeds), max(params.QueueLimit, 0)))
	for _, seed := range seeds {
		if len(queue) >= params.QueueLimit {
			break
		}
		queue = append(queue, seed)
	}

	var (
		results    []R
		errs       []*CrawlingError
		visited    = newLinkSet()
		skipped    = newLinkSet()
		failed     = newLinkSet()
		overflow   = newLinkSet()
		repeats    int
		terminated bool
	)
	emptyAtStart := len(queue) == 0
	skipCount := func() int { return skipped.len() + repeats }
	stopEarly := func() bool {
		switch {
		case len(errs) >= params.ErrorLimit, skipCount() >= params.SkipLimit:
			return true
		case ctx.Err() != nil:
			return true
		case terminate != nil && terminate():
			terminated = true
			return true
		}
		return false
	}

	start := o.clock.Now()
	logger.Info("START CRAWL",
		zap.Int("seeds", len(seeds)),
		zap.Int("max_visits", params.MaxVisits),
	)

	for visited.len() < params.MaxVisits && len(queue) > 0 && !stopEarly() {
		u := queue[0]
		queue[0] = nil
		queue = queue[1:]
		link := u.String()

		if visited.has(link) || skipped.has(link) || failed.has(link) {
			repeats++
			logger.Debug("skipped repeat link", zap.String("url", link), zap.Int("skips", skipCount()))
			metrics.ObservePage(link, metrics.OutcomeSkipped)
			continue
		}

		visitStart := o.clock.Now()
		result, ok, err := produce(ctx, u)
		if err != nil {
			failed.add(link)
			errs = append(errs, &CrawlingError{
				URL:            link,
				Cause:          err,
				VisitStartTime: visitStart,
				CatchTime:      o.clock.Now(),
			})
			metrics.ObservePage(link, metrics.OutcomeFailed)
			logger.Error("link failed",
				zap.String("url", link),
				zap.Int("failures", failed.len()),
				zap.Error(err),
			)
			continue
		}
		if !ok {
			skipped.add(link)
			metrics.ObservePage(link, metrics.OutcomeSkipped)
			logger.Debug("link skipped", zap.String("url", link), zap.Int("skips", skipCount()))
			continue
		}

		visited.add(link)
		results = append(results, result)
		metrics.ObservePage(link, metrics.OutcomeVisited)
		logger.Info("crawled link",
			zap.String("url", link),
			zap.Int("visited", visited.len()),
			zap.Int("max_visits", params.MaxVisits),
		)

		if params.FollowLinks && links != nil && len(queue) < params.QueueLimit {
			valid, _ := linkutil.Sanitize(links(result))
			capacity := params.QueueLimit - len(queue)
			for i, next := range valid {
				if i < capacity {
					queue = append(queue, next)
					continue
				}
				overflow.add(next.String())
			}
		}
	}

	completed := !emptyAtStart &&
		!terminated &&
		len(errs) < params.ErrorLimit &&
		skipCount() < params.SkipLimit &&
		ctx.Err() == nil

	unvisited := make([]string, 0, len(queue)+overflow.len())
	for _, u := range queue {
		unvisited = append(unvisited, u.String())
	}
	unvisited = append(unvisited, overflow.order...)

	logger.Info("END CRAWL",
		zap.Bool("completed", completed),
		zap.Int("visited", visited.len()),
		zap.Int("skipped", skipCount()),
		zap.Int("failed", failed.len()),
		zap.Int("unvisited", len(unvisited)),
	)

	return Result[R]{
		Completed:      completed,
		StartTime:      start,
		EndTime:        o.clock.Now(),
		PageResults:    results,
		UnvisitedLinks: unvisited,
		Errors:         errs,
		VisitedLinks:   visited.order,
		SkippedLinks:   skipped.order,
		FailedLinks:    failed.order,
	}
}
