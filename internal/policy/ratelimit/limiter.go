// Package ratelimit implements per-host token buckets for upstream marketplaces
// and product-data APIs.
package ratelimit

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/JakeFAU/realtime-product-sourcing/internal/metrics"
)

// minThrottledRate is the floor applied after repeated 429 responses.
const minThrottledRate = rate.Limit(0.1)

// Limiter manages per-host rate limits.
type Limiter struct {
	mu            sync.Mutex
	limiters      map[string]*rate.Limiter
	headless      map[string]*rate.Limiter
	defaultRate   rate.Limit
	defaultBurst  int
	headlessRate  rate.Limit
	headlessBurst int
}

// Config holds rate limiter configuration.
type Config struct {
	DefaultRPS   float64
	DefaultBurst int
	// HeadlessPerMinute caps browser renders per host. Zero disables the cap.
	HeadlessPerMinute float64
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
	hr := rate.Inf
	if cfg.HeadlessPerMinute > 0 {
		hr = rate.Limit(cfg.HeadlessPerMinute / 60)
	}
	return &Limiter{
		limiters:      make(map[string]*rate.Limiter),
		headless:      make(map[string]*rate.Limiter),
		defaultRate:   r,
		defaultBurst:  burst,
		headlessRate:  hr,
		headlessBurst: 1,
	}
}

// Wait blocks until a token is available for the URL's host, respecting the context.
func (l *Limiter) Wait(ctx context.Context, rawURL string) error {
	domain := hostOf(rawURL)
	limiter := l.limiterFor(domain)

	start := time.Now()
	if err := limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	// only waits long enough to matter are recorded
	if duration := time.Since(start); duration > time.Millisecond {
		metrics.ObserveRateLimitDelay(domain, duration)
	}
	return nil
}

// AllowHeadless reports whether another browser render against the host fits
// the per-minute budget.
func (l *Limiter) AllowHeadless(rawURL string) bool {
	domain := hostOf(rawURL)
	l.mu.Lock()
	limiter, ok := l.headless[domain]
	if !ok {
		limiter = rate.NewLimiter(l.headlessRate, l.headlessBurst)
		l.headless[domain] = limiter
	}
	l.mu.Unlock()
	return limiter.Allow()
}

// ReportStatus adapts the host's rate to upstream feedback: a 429 halves the
// current rate down to a floor, any 2xx restores the configured default.
func (l *Limiter) ReportStatus(rawURL string, code int) {
	limiter := l.limiterFor(hostOf(rawURL))
	switch {
	case code == http.StatusTooManyRequests:
		current := limiter.Limit()
		if current == rate.Inf {
			current = rate.Limit(l.defaultBurst)
		}
		next := current / 2
		if next < minThrottledRate {
			next = minThrottledRate
		}
		limiter.SetLimit(next)
	case code >= 200 && code < 300:
		if limiter.Limit() != l.defaultRate {
			limiter.SetLimit(l.defaultRate)
		}
	}
}

// CurrentLimit exposes the effective rate for a URL's host.
func (l *Limiter) CurrentLimit(rawURL string) rate.Limit {
	return l.limiterFor(hostOf(rawURL)).Limit()
}

func (l *Limiter) limiterFor(domain string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	limiter, exists := l.limiters[domain]
	if !exists {
		limiter = rate.NewLimiter(l.defaultRate, l.defaultBurst)
		l.limiters[domain] = limiter
	}
	return limiter
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return u.Hostname()
}
