package crawler

import (
	"context"
	"net/url"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiter manages rate limiting per host
type RateLimiter struct {
	limiters map[string]*hostLimiter
	mu       sync.RWMutex
	delay    time.Duration
}

type hostLimiter struct {
	limiter *rate.Limiter
	delay   time.Duration
}

// NewRateLimiter creates a new rate limiter
func NewRateLimiter(defaultDelay time.Duration) *RateLimiter {
	return &RateLimiter{
		limiters: make(map[string]*hostLimiter),
		delay:    defaultDelay,
	}
}

// Wait waits for permission to proceed with a request to the given URL
func (r *RateLimiter) Wait(ctx context.Context, urlStr string) error {
	parsedURL, err := url.Parse(urlStr)
	if err != nil {
		return err
	}

	return r.getLimiter(parsedURL.Host).limiter.Wait(ctx)
}

// SetHostDelay sets a custom delay for a specific host. Delays not longer
// than the default are ignored, and an unchanged delay keeps the limiter's
// state.
func (r *RateLimiter) SetHostDelay(host string, delay time.Duration) {
	if delay <= r.delay {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.limiters[host]; ok && existing.delay == delay {
		return
	}
	r.limiters[host] = newHostLimiter(delay)
}

// HostDelay returns the delay applied to host
func (r *RateLimiter) HostDelay(host string) time.Duration {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if l, ok := r.limiters[host]; ok {
		return l.delay
	}
	return r.delay
}

// getLimiter gets or creates a rate limiter for a host
func (r *RateLimiter) getLimiter(host string) *hostLimiter {
	r.mu.RLock()
	limiter, exists := r.limiters[host]
	r.mu.RUnlock()

	if exists {
		return limiter
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	// Check again in case another goroutine created it
	if limiter, exists := r.limiters[host]; exists {
		return limiter
	}

	limiter = newHostLimiter(r.delay)
	r.limiters[host] = limiter

	return limiter
}

func newHostLimiter(delay time.Duration) *hostLimiter {
	limit := rate.Inf
	if delay > 0 {
		limit = rate.Every(delay)
	}
	return &hostLimiter{
		limiter: rate.NewLimiter(limit, 1),
		delay:   delay,
	}
}
