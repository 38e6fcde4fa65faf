package crawler

import (
	"time"

	"github.com/masahif/linkmapper/internal/discovery"
	"github.com/masahif/linkmapper/internal/model"
)

// URLItem represents an item in the crawl queue
type URLItem struct {
	ID    int    // Queue item ID for tracking
	URL   string // URL to be processed
	Depth int    // Crawl depth, seeds are 1
}

// QueueEntry is a URL offered to the queue
type QueueEntry struct {
	URL           string // URL as discovered
	URLNormalized string // Identity form, unique across the queue
	Depth         int    // Depth the URL will be crawled at
}

// PageData represents the fetch result of a page
type PageData struct {
	URL             string
	FinalURL        string        // URL after redirects
	StatusCode      int           // HTTP status code (200, 404, 500, etc.)
	ContentType     string        // HTTP Content-Type header
	ContentLength   int64         // HTTP Content-Length header
	ContentEncoding string        // HTTP Content-Encoding header (gzip, br)
	LastModified    string        // Last-Modified or crawl time, UTC RFC 3339
	TTFB            time.Duration // Time to First Byte
	DownloadTime    time.Duration // Total download time
	ResponseSize    int64         // Decoded body size in bytes
	CrawledAt       time.Time     // Timestamp when crawled (UTC)
}

// DiscoveryData represents the outcome of discovery for a page
type DiscoveryData struct {
	Lang         string
	Canonical    string
	Alternatives []model.Alternative
	LinksFound   int
	InSitemap    bool
	Error        string // Collaborator error that cut discovery short
}

// CrawlStats represents crawling statistics
type CrawlStats struct {
	RunID          string
	PagesCrawled   int
	PagesQueued    int
	ErrorCount     int
	SitemapEntries int
	StartTime      time.Time
	Duration       time.Duration
}

// pendingFlush is a page whose discovery is still running
type pendingFlush struct {
	id   int
	item *model.QueueItem
	task *discovery.Task
}
