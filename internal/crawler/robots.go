package crawler

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/temoto/robotstxt"
	"golang.org/x/sync/singleflight"
)

// RobotsCache fetches and caches robots.txt per scheme and host
type RobotsCache struct {
	httpClient   *HTTPClient
	userAgent    string
	ignoreRobots bool

	mu    sync.RWMutex
	rules map[string]*robotstxt.RobotsData
	group singleflight.Group
}

// NewRobotsCache creates a robots.txt cache evaluating rules for userAgent
func NewRobotsCache(httpClient *HTTPClient, userAgent string, ignoreRobots bool) *RobotsCache {
	return &RobotsCache{
		httpClient:   httpClient,
		userAgent:    userAgent,
		ignoreRobots: ignoreRobots,
		rules:        make(map[string]*robotstxt.RobotsData),
	}
}

// IsAllowed checks if a URL is allowed by robots.txt. A robots.txt that
// cannot be fetched allows everything.
func (r *RobotsCache) IsAllowed(ctx context.Context, urlStr string) (bool, error) {
	if r.ignoreRobots {
		return true, nil
	}

	parsedURL, err := url.Parse(urlStr)
	if err != nil {
		return false, fmt.Errorf("invalid URL: %w", err)
	}

	rules, err := r.getRules(ctx, parsedURL.Scheme, parsedURL.Host)
	if err != nil {
		return true, err
	}

	path := parsedURL.EscapedPath()
	if path == "" {
		path = "/"
	}
	if parsedURL.RawQuery != "" {
		path += "?" + parsedURL.RawQuery
	}

	return rules.FindGroup(r.userAgent).Test(path), nil
}

// CrawlDelay returns the Crawl-delay for host, 0 when unknown
func (r *RobotsCache) CrawlDelay(host string) time.Duration {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, scheme := range []string{"https", "http"} {
		if rules, ok := r.rules[scheme+"://"+host]; ok {
			return rules.FindGroup(r.userAgent).CrawlDelay
		}
	}
	return 0
}

// Sitemaps returns the sitemap URLs host declared in its robots.txt
func (r *RobotsCache) Sitemaps(host string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, scheme := range []string{"https", "http"} {
		if rules, ok := r.rules[scheme+"://"+host]; ok {
			return rules.Sitemaps
		}
	}
	return nil
}

// getRules fetches and parses robots.txt for a host, once per host
func (r *RobotsCache) getRules(ctx context.Context, scheme, host string) (*robotstxt.RobotsData, error) {
	key := scheme + "://" + host

	r.mu.RLock()
	rules, exists := r.rules[key]
	r.mu.RUnlock()
	if exists {
		return rules, nil
	}

	v, err, _ := r.group.Do(key, func() (interface{}, error) {
		robotsURL := key + "/robots.txt"
		resp, err := r.httpClient.Get(ctx, robotsURL)
		if err != nil {
			if ctx.Err() == nil {
				// Unreachable robots.txt allows everything for the rest of the crawl
				allowAll, _ := robotstxt.FromStatusAndBytes(404, nil)
				r.mu.Lock()
				r.rules[key] = allowAll
				r.mu.Unlock()
			}
			return nil, err
		}

		rules, err := robotstxt.FromStatusAndBytes(resp.StatusCode, resp.Body)
		if err != nil {
			slog.Warn("Failed to parse robots.txt, allowing all", "url", robotsURL, "error", err)
			rules, _ = robotstxt.FromStatusAndBytes(404, nil)
		}

		r.mu.Lock()
		r.rules[key] = rules
		r.mu.Unlock()

		slog.Debug("Loaded robots.txt", "url", robotsURL, "status_code", resp.StatusCode)
		return rules, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*robotstxt.RobotsData), nil
}
