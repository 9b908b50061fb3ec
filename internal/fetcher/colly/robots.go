package collyfetcher

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/webcrawl-engine/internal/metrics"
	"github.com/JakeFAU/webcrawl-engine/internal/robots"
)

var defaultRobotsBackoff = []time.Duration{
	250 * time.Millisecond,
	500 * time.Millisecond,
	time.Second,
}

// FetchRobots GETs /robots.txt for home. Timeouts are retried with backoff.
// When every attempt times out the call succeeds with an empty body and
// Permissive set, so the site is crawled as if robots.txt allowed everything.
// Any other failure, a 404 included, is returned as a *FetchError.
func (f *Fetcher) FetchRobots(ctx context.Context, home *url.URL, userAgent string) (Response, error) {
	req := Request{URL: robots.URL(home), UserAgent: userAgent}
	link := req.URL.String()

	var lastErr error
	for attempt := 0; attempt <= len(f.robotsBackoff); attempt++ {
		if attempt > 0 {
			delay := f.robotsBackoff[attempt-1]
			f.logger.Warn("robots.txt timed out, retrying",
				zap.String("url", link),
				zap.Int("attempt", attempt+1),
				zap.Duration("backoff", delay),
				zap.Error(lastErr),
			)
			if err := sleepContext(ctx, delay); err != nil {
				return Response{}, newFetchError(FetchNetwork, link, 0, err)
			}
		}
		resp, err := f.FetchPage(ctx, req)
		if err == nil {
			return resp, nil
		}
		if ctx.Err() != nil || !isTimeout(err) {
			return resp, err
		}
		lastErr = err
	}

	metrics.ObserveRobotsUnreachable()
	f.logger.Warn("robots.txt unreachable, crawling without it",
		zap.String("url", link),
		zap.Error(lastErr),
	)
	return Response{
		Link:             link,
		FinalURL:         link,
		Permissive:       true,
		PermissiveReason: lastErr.Error(),
	}, nil
}

// isTimeout reports whether a fetch failed because the host was slow rather
// than because it answered badly.
func isTimeout(err error) bool {
	var fetchErr *FetchError
	if errors.As(err, &fetchErr) && fetchErr.Kind != FetchNetwork {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return strings.Contains(err.Error(), "handshake timeout")
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("robots backoff: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}
