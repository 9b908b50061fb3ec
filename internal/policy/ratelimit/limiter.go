// Package ratelimit implements a per-host token bucket that caps raw request
// rates under the scraper's politeness delay.
package ratelimit

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/JakeFAU/webcrawl-engine/internal/metrics"
)

// Limiter manages per-host rate limits.
type Limiter struct {
	mu           sync.Mutex
	limiters     map[string]*rate.Limiter
	defaultRate  rate.Limit
	defaultBurst int
	minRate      rate.Limit
}

// Config holds rate limiter configuration. DefaultRPS <= 0 disables limiting.
type Config struct {
	DefaultRPS   float64
	DefaultBurst int
}

// New creates a new Limiter.
func New(cfg Config) *Limiter {
	r := rate.Limit(cfg.DefaultRPS)
	if cfg.DefaultRPS <= 0 {
		r = rate.Inf
	}
	burst := cfg.DefaultBurst
	if burst <= 0 {
		burst = 1
	}
	return &Limiter{
		limiters:     make(map[string]*rate.Limiter),
		defaultRate:  r,
		defaultBurst: burst,
		minRate:      r / 8,
	}
}

func (l *Limiter) forHost(host string) *rate.Limiter {
	host = strings.ToLower(host)
	if host == "" {
		host = "unknown"
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	limiter, exists := l.limiters[host]
	if !exists {
		limiter = rate.NewLimiter(l.defaultRate, l.defaultBurst)
		l.limiters[host] = limiter
	}
	return limiter
}

// Wait blocks until a token is available for host, respecting the context.
func (l *Limiter) Wait(ctx context.Context, host string) error {
	limiter := l.forHost(host)
	start := time.Now()
	if err := limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	if waited := time.Since(start); waited > time.Millisecond {
		metrics.ObserveRateLimitDelay(strings.ToLower(host), waited)
	}
	return nil
}

// ReportStatus halves the host's rate after a 429 or 503 response, down to
// an eighth of the default.
func (l *Limiter) ReportStatus(host string, status int) {
	if l.defaultRate == rate.Inf {
		return
	}
	if status != http.StatusTooManyRequests && status != http.StatusServiceUnavailable {
		return
	}
	limiter := l.forHost(host)
	next := limiter.Limit() / 2
	if next < l.minRate {
		next = l.minRate
	}
	limiter.SetLimit(next)
}

// Rate returns the current limit for host.
func (l *Limiter) Rate(host string) rate.Limit {
	return l.forHost(host).Limit()
}
