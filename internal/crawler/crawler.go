// Package crawler provides the crawl frontier and the worker pool feeding
// resource discovery. It fetches queued pages with rate limiting and
// robots.txt compliance, hands them to discovery, and streams finished
// pages into the sitemap.
package crawler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/masahif/linkmapper/internal/config"
	"github.com/masahif/linkmapper/internal/discovery"
	"github.com/masahif/linkmapper/internal/lang"
	"github.com/masahif/linkmapper/internal/model"
	"github.com/masahif/linkmapper/internal/parser"
	"github.com/masahif/linkmapper/internal/urlnorm"
)

// Meta keys written to storage
const (
	MetaRunID     = "run_id"
	MetaSeedURLs  = "seed_urls"
	MetaStartedAt = "started_at"
	MetaEndedAt   = "ended_at"

	// MetaRobotsSitemaps lists the sitemaps declared in the robots.txt of
	// seed hosts, one per line
	MetaRobotsSitemaps = "robots_sitemaps"
)

const (
	idlePollInterval = 50 * time.Millisecond
	statsInterval    = 10 * time.Second
)

// ErrNoStorage is returned by NewCrawler without storage
var ErrNoStorage = errors.New("storage is required")

// Option customizes a DefaultCrawler
type Option func(*DefaultCrawler)

// WithSitemap streams finished pages into s
func WithSitemap(s SitemapWriter) Option {
	return func(c *DefaultCrawler) { c.sitemap = s }
}

// WithRenderer renders every HTML page before extraction
func WithRenderer(r discovery.Renderer) Option {
	return func(c *DefaultCrawler) { c.renderer = r }
}

// WithDetector enables statistical language detection
func WithDetector(d lang.Detector) Option {
	return func(c *DefaultCrawler) { c.detector = d }
}

// DefaultCrawler implements the Crawler interface
type DefaultCrawler struct {
	config       *config.CrawlConfig
	storage      Storage
	httpClient   *HTTPClient
	rateLimiter  *RateLimiter
	robots       *RobotsCache
	gate         *Gate
	frontier     *Frontier
	orchestrator *discovery.Orchestrator
	sitemap      SitemapWriter
	renderer     discovery.Renderer
	detector     lang.Detector

	pending chan pendingFlush

	// Sitemaps declared by seed hosts
	sitemapHosts     map[string]bool
	declaredSitemaps []string
	sitemapMutex     sync.Mutex

	// State
	runID      string
	stats      CrawlStats
	started    int
	statsMutex sync.RWMutex
	ctx        context.Context
	cancel     context.CancelFunc
}

// NewCrawler creates a new crawler instance with the provided configuration and storage.
// It initializes the HTTP client, rate limiter, robots.txt cache, frontier and
// discovery orchestrator.
func NewCrawler(cfg *config.CrawlConfig, storage Storage, opts ...Option) (*DefaultCrawler, error) {
	if storage == nil {
		return nil, ErrNoStorage
	}

	httpClient := NewHTTPClient(cfg.UserAgent, cfg.RequestTimeout)

	if username, password := cfg.GetBasicAuthCredentials(); username != "" && password != "" {
		httpClient.SetBasicAuth(username, password)
	}

	if len(cfg.Headers) > 0 {
		headerMap := make(map[string]string)
		for _, header := range cfg.Headers {
			name, value, ok := config.ParseHeader(header)
			if !ok {
				// Skip invalid headers - validation should have caught this
				slog.Warn("Skipping invalid header format", "header", header)
				continue
			}
			headerMap[name] = value
		}
		if len(headerMap) > 0 {
			httpClient.SetCustomHeaders(headerMap)
			slog.Info("Set custom headers", "count", len(headerMap))
		}
	}

	gate := NewGate(cfg.Concurrency)

	c := &DefaultCrawler{
		config:      cfg,
		storage:     storage,
		httpClient:  httpClient,
		rateLimiter: NewRateLimiter(cfg.RequestDelay),
		robots:      NewRobotsCache(httpClient, cfg.UserAgent, cfg.IgnoreRobots),
		gate:        gate,
		frontier:    NewFrontier(cfg, storage, gate, cfg.SeedURLs),
		pending:     make(chan pendingFlush, cfg.Concurrency*4),
		stats: CrawlStats{
			StartTime: time.Now(),
		},
	}

	for _, opt := range opts {
		opt(c)
	}

	var resolver *lang.Resolver
	if c.detector != nil {
		resolver = lang.NewResolver(c.detector)
	}
	c.orchestrator = discovery.New(c.frontier, resolver, discovery.Options{
		Parser:   parser.DefaultOptions(),
		Renderer: c.renderer,
	})

	return c, nil
}

// Start crawls until the queue is exhausted, the limit is reached or ctx
// is cancelled.
// Startup process:
// 1. Queue seed URLs at depth 1, or resume the queue left in storage
// 2. Start configured number of workers and the sitemap flusher
// 3. Workers compete for 'queued' items using atomic status updates
// 4. After workers finish, drain pending discoveries and close the sitemap
func (c *DefaultCrawler) Start(ctx context.Context, seedURLs []string) error {
	c.ctx, c.cancel = context.WithCancel(ctx)
	defer c.cancel()

	if err := c.prepareRun(seedURLs); err != nil {
		return err
	}

	flushDone := make(chan struct{})
	go func() {
		defer close(flushDone)
		c.flusher()
	}()

	statsCtx, stopStats := context.WithCancel(c.ctx)
	statsDone := make(chan struct{})
	go func() {
		defer close(statsDone)
		c.statsReporter(statsCtx)
	}()

	g, gctx := errgroup.WithContext(c.ctx)
	for i := 0; i < c.config.Concurrency; i++ {
		id := i
		g.Go(func() error {
			c.worker(gctx, id)
			return nil
		})
	}
	_ = g.Wait()

	close(c.pending)
	<-flushDone
	stopStats()
	<-statsDone

	if c.ctx.Err() != nil {
		slog.Info("Crawling cancelled")
	} else {
		slog.Info("Crawling completed")
	}

	if err := c.storage.SetMeta(MetaEndedAt, time.Now().UTC().Format(time.RFC3339)); err != nil {
		slog.Error("Failed to record end time", "error", err)
	}

	return c.finishSitemap()
}

// prepareRun records the run and seeds or resumes the queue
func (c *DefaultCrawler) prepareRun(seedURLs []string) error {
	c.runID = uuid.NewString()
	c.statsMutex.Lock()
	c.stats.RunID = c.runID
	c.statsMutex.Unlock()

	if err := c.storage.SetMeta(MetaRunID, c.runID); err != nil {
		return fmt.Errorf("failed to record run: %w", err)
	}
	if err := c.storage.SetMeta(MetaStartedAt, time.Now().UTC().Format(time.RFC3339)); err != nil {
		return fmt.Errorf("failed to record run: %w", err)
	}

	if len(seedURLs) > 0 {
		slog.Info("Starting crawler", "run_id", c.runID, "seed_urls", len(seedURLs))

		if err := c.storage.SetMeta(MetaSeedURLs, strings.Join(seedURLs, "\n")); err != nil {
			return fmt.Errorf("failed to record seed URLs: %w", err)
		}

		queued := 0
		for i, seedURL := range seedURLs {
			if c.config.Limit > 0 && i >= c.config.Limit {
				break
			}
			c.frontier.AllowHost(seedURL)
			if c.frontier.QueueURL(seedURL, nil) {
				queued++
			}
		}
		slog.Info("Added seed URLs to queue", "count", queued)
		return nil
	}

	slog.Info("Starting crawler - resuming from existing queue", "run_id", c.runID)

	seeds, err := c.storage.GetMeta(MetaSeedURLs)
	if err != nil {
		return fmt.Errorf("failed to read seed URLs: %w", err)
	}
	for _, seed := range strings.Split(seeds, "\n") {
		if seed != "" {
			c.frontier.AllowHost(seed)
		}
	}

	reset, err := c.storage.ResetProcessing()
	if err != nil {
		return fmt.Errorf("failed to reset interrupted items: %w", err)
	}
	if reset > 0 {
		slog.Info("Requeued interrupted items", "count", reset)
	}
	return nil
}

// Stop stops the crawling process
func (c *DefaultCrawler) Stop() error {
	if c.cancel != nil {
		c.cancel()
	}
	c.httpClient.Close()
	return nil
}

// GetStats returns current crawling statistics
func (c *DefaultCrawler) GetStats() CrawlStats {
	c.statsMutex.RLock()
	defer c.statsMutex.RUnlock()

	stats := c.stats
	stats.Duration = time.Since(stats.StartTime)
	return stats
}

// worker processes URLs from the queue
// Termination conditions:
// 1. Context cancelled (graceful shutdown)
// 2. Reached configured limit of pages
// 3. Queue empty with no fetch or discovery in flight
func (c *DefaultCrawler) worker(ctx context.Context, id int) {
	slog.Debug("Worker started", "worker_id", id)
	defer slog.Debug("Worker stopped", "worker_id", id)

	for {
		if ctx.Err() != nil {
			return
		}

		if !c.reservePage() {
			slog.Info("Worker reached limit", "worker_id", id)
			return
		}

		if err := c.gate.Acquire(ctx); err != nil {
			c.unreservePage()
			return
		}

		item, err := c.storage.GetNextFromQueue()
		if err != nil {
			c.gate.Release()
			c.unreservePage()
			slog.Error("Worker failed to get from queue", "worker_id", id, "error", err)
			sleepCtx(ctx, c.config.RequestDelay)
			continue
		}

		if item == nil {
			c.gate.Release()
			c.unreservePage()
			if c.queueExhausted() {
				slog.Debug("Worker no more items in queue, exiting", "worker_id", id)
				return
			}
			sleepCtx(ctx, idlePollInterval)
			continue
		}

		c.processURLItem(ctx, id, item)
		c.gate.Release()
	}
}

// queueExhausted reports whether no more work can appear: nothing queued,
// and nothing in flight that could queue more
func (c *DefaultCrawler) queueExhausted() bool {
	if !c.gate.Idle() {
		return false
	}
	hasItems, err := c.storage.HasQueuedItems()
	if err != nil {
		slog.Error("Failed to check queue", "error", err)
		return false
	}
	return !hasItems
}

// reservePage claims one page of the crawl limit
func (c *DefaultCrawler) reservePage() bool {
	c.statsMutex.Lock()
	defer c.statsMutex.Unlock()

	if c.config.Limit > 0 && c.started >= c.config.Limit {
		return false
	}
	c.started++
	return true
}

func (c *DefaultCrawler) unreservePage() {
	c.statsMutex.Lock()
	defer c.statsMutex.Unlock()
	c.started--
}

// processURLItem fetches one queued page and starts its discovery
func (c *DefaultCrawler) processURLItem(ctx context.Context, id int, urlItem *URLItem) {
	if !c.shouldProcessURL(ctx, id, urlItem) {
		return
	}

	if err := c.rateLimiter.Wait(ctx, urlItem.URL); err != nil {
		slog.Error("Worker rate limiting error", "worker_id", id, "error", err)
		c.handleProcessingError(id, urlItem, "rate_limit", err)
		return
	}

	resp, err := c.httpClient.Get(ctx, urlItem.URL)
	if err != nil {
		c.handleProcessingError(id, urlItem, "network_error", err)
		return
	}

	item := model.NewQueueItem(urlItem.URL, urlItem.Depth)
	item.LastMod = lastMod(resp.LastModified, time.Now())

	page := &PageData{
		URL:             urlItem.URL,
		FinalURL:        resp.FinalURL,
		StatusCode:      resp.StatusCode,
		ContentType:     resp.ContentType,
		ContentLength:   resp.ContentLength,
		ContentEncoding: resp.ContentEncoding,
		LastModified:    item.LastMod,
		TTFB:            resp.Metrics.TTFB,
		DownloadTime:    resp.Metrics.DownloadTime,
		ResponseSize:    int64(len(resp.Body)),
		CrawledAt:       time.Now().UTC(),
	}
	if err := c.storage.SavePageResult(urlItem.ID, page); err != nil {
		slog.Error("Worker failed to save page", "worker_id", id, "url", urlItem.URL, "error", err)
	}
	c.incrementCrawledCount()

	if !resp.IsHTML() || resp.StatusCode >= 400 {
		slog.Info("Worker processed URL", "worker_id", id, "url", urlItem.URL, "status", resp.StatusCode, "discovered", false)
		return
	}

	links, task := c.orchestrator.Discover(ctx, item, resp.Body, resp.ContentType)
	queued := c.queueLinks(links, item)

	slog.Info("Worker processed URL", "worker_id", id, "url", urlItem.URL, "status", resp.StatusCode,
		"depth", item.Depth, "links", len(links), "queued", queued)

	c.pending <- pendingFlush{id: urlItem.ID, item: item, task: task}
}

// queueLinks queues the links of the fetched document within the depth ceiling
func (c *DefaultCrawler) queueLinks(links []string, item *model.QueueItem) int {
	maxDepth := c.frontier.MaxDepth()
	if maxDepth > 0 && item.Depth+1 > maxDepth {
		return 0
	}

	queued := 0
	for _, link := range c.frontier.CleanExpandResources(links, item) {
		if c.frontier.QueueURL(link, item) {
			queued++
		}
	}
	if queued > 0 {
		c.statsMutex.Lock()
		c.stats.PagesQueued += queued
		c.statsMutex.Unlock()
	}
	return queued
}

// shouldProcessURL checks robots.txt and applies its Crawl-delay
func (c *DefaultCrawler) shouldProcessURL(ctx context.Context, id int, item *URLItem) bool {
	if c.config.IgnoreRobots {
		return true
	}

	allowed, err := c.robots.IsAllowed(ctx, item.URL)
	if err != nil {
		slog.Warn("Worker robots.txt check failed", "worker_id", id, "url", item.URL, "error", err)
	}
	if !allowed {
		slog.Info("URL disallowed by robots.txt", "worker_id", id, "url", item.URL)
		if err := c.storage.SavePageError(item.ID, "robots_disallowed", "Disallowed by robots.txt"); err != nil {
			slog.Error("Worker failed to save robots error", "worker_id", id, "error", err)
		}
		return false
	}

	if u, err := url.Parse(item.URL); err == nil {
		if delay := c.robots.CrawlDelay(u.Host); delay > 0 {
			c.rateLimiter.SetHostDelay(u.Host, delay)
		}
		if item.Depth == 1 {
			c.recordDeclaredSitemaps(u.Host)
		}
	}
	return true
}

// recordDeclaredSitemaps stores the sitemaps a seed host lists in its
// robots.txt, once per host
func (c *DefaultCrawler) recordDeclaredSitemaps(host string) {
	c.sitemapMutex.Lock()
	defer c.sitemapMutex.Unlock()

	if c.sitemapHosts == nil {
		c.sitemapHosts = make(map[string]bool)
	}
	if c.sitemapHosts[host] {
		return
	}
	c.sitemapHosts[host] = true

	sitemaps := c.robots.Sitemaps(host)
	if len(sitemaps) == 0 {
		return
	}
	slog.Info("Host declares sitemaps in robots.txt", "host", host, "sitemaps", sitemaps)

	c.declaredSitemaps = append(c.declaredSitemaps, sitemaps...)
	if err := c.storage.SetMeta(MetaRobotsSitemaps, strings.Join(c.declaredSitemaps, "\n")); err != nil {
		slog.Error("Failed to record declared sitemaps", "host", host, "error", err)
	}
}

// handleProcessingError records a page that could not be fetched
func (c *DefaultCrawler) handleProcessingError(id int, item *URLItem, errorType string, err error) {
	slog.Error("Worker failed to process URL", "worker_id", id, "url", item.URL, "error", err)
	if saveErr := c.storage.SavePageError(item.ID, errorType, err.Error()); saveErr != nil {
		slog.Error("Worker failed to save processing error", "worker_id", id, "error", saveErr)
	}
	c.incrementErrorCount()
}

// flusher persists discovery results and writes sitemap entries, one page
// at a time, in fetch order
func (c *DefaultCrawler) flusher() {
	for p := range c.pending {
		<-p.task.Done()

		inSitemap := c.flushSitemap(p.item)

		data := &DiscoveryData{
			Lang:         p.item.Lang,
			Canonical:    p.item.Canonical,
			Alternatives: p.item.Alternatives,
			LinksFound:   len(p.task.Links()),
			InSitemap:    inSitemap,
		}
		if err := p.task.Err(); err != nil {
			data.Error = err.Error()
		}
		if err := c.storage.SaveDiscovery(p.id, data); err != nil {
			slog.Error("Failed to save discovery", "url", p.item.URL, "error", err)
		}
	}
}

// flushSitemap writes item unless its canonical points elsewhere
func (c *DefaultCrawler) flushSitemap(item *model.QueueItem) bool {
	if c.sitemap == nil {
		return false
	}

	if item.Canonical != "" && urlnorm.Identity(item.Canonical) != item.URLNormalized {
		slog.Debug("Skipping non-canonical page", "url", item.URL, "canonical", item.Canonical)
		return false
	}

	if err := c.sitemap.Flush(item); err != nil {
		slog.Error("Failed to write sitemap entry", "url", item.URL, "error", err)
		return false
	}

	c.statsMutex.Lock()
	c.stats.SitemapEntries++
	c.statsMutex.Unlock()
	return true
}

// finishSitemap closes the sitemap and copies it to the output path
func (c *DefaultCrawler) finishSitemap() error {
	if c.sitemap == nil {
		return nil
	}

	if err := c.sitemap.End(); err != nil {
		return fmt.Errorf("failed to close sitemap: %w", err)
	}

	output := c.config.Sitemap.OutputPath
	if output == "" {
		slog.Info("Sitemap left at temporary path", "path", c.sitemap.Path())
		return nil
	}

	if err := c.sitemap.CopyTo(output); err != nil {
		return fmt.Errorf("failed to write sitemap: %w", err)
	}
	slog.Info("Sitemap written", "path", output, "entries", c.GetStats().SitemapEntries)
	return nil
}

// statsReporter periodically reports crawling statistics
func (c *DefaultCrawler) statsReporter(ctx context.Context) {
	ticker := time.NewTicker(statsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			// Get real-time queue status from database
			queued, processing, completed, errs, err := c.storage.GetQueueStatus()
			if err != nil {
				slog.Error("Failed to get queue status", "error", err)
				continue
			}

			stats := c.GetStats()
			slog.Info("Crawling stats", "crawled", stats.PagesCrawled, "queued", queued, "processing", processing,
				"completed", completed, "errors", errs, "in_flight", c.gate.Open(),
				"sitemap_entries", stats.SitemapEntries, "duration", stats.Duration)
		}
	}
}

// lastMod formats the sitemap modification time: the Last-Modified
// header when present, otherwise the crawl time
func lastMod(lastModified, crawled time.Time) string {
	if lastModified.IsZero() {
		lastModified = crawled
	}
	return lastModified.UTC().Format(time.RFC3339)
}

func sleepCtx(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

func (c *DefaultCrawler) incrementCrawledCount() {
	c.statsMutex.Lock()
	defer c.statsMutex.Unlock()
	c.stats.PagesCrawled++
}

func (c *DefaultCrawler) incrementErrorCount() {
	c.statsMutex.Lock()
	defer c.statsMutex.Unlock()
	c.stats.ErrorCount++
}

var _ Crawler = (*DefaultCrawler)(nil)

var _ discovery.Frontier = (*Frontier)(nil)
