package crawler

import (
	"log/slog"
	"net/url"
	"regexp"
	"strings"
	"sync"

	"github.com/bits-and-blooms/bloom/v3"

	"github.com/masahif/linkmapper/internal/config"
	"github.com/masahif/linkmapper/internal/model"
	"github.com/masahif/linkmapper/internal/urlnorm"
)

const (
	bloomEstimate = 1_000_000
	bloomFPRate   = 0.0001
)

// Frontier owns the crawl queue, the visited set and depth accounting.
// It is what discovery reports links to.
type Frontier struct {
	storage  Storage
	gate     *Gate
	maxDepth int

	followExternal bool
	stripWWW       bool
	allowedHosts   map[string]struct{}
	include        []*regexp.Regexp
	exclude        []*regexp.Regexp

	seenMu sync.Mutex
	seen   *bloom.BloomFilter
}

// NewFrontier creates a frontier limited to the hosts of seedURLs unless
// the configuration follows external hosts. Patterns are assumed to have
// passed config validation.
func NewFrontier(cfg *config.CrawlConfig, storage Storage, gate *Gate, seedURLs []string) *Frontier {
	f := &Frontier{
		storage:        storage,
		gate:           gate,
		maxDepth:       cfg.MaxDepth,
		followExternal: cfg.FollowExternalHosts,
		stripWWW:       cfg.StripWWW,
		allowedHosts:   make(map[string]struct{}),
		seen:           bloom.NewWithEstimates(bloomEstimate, bloomFPRate),
	}

	for _, seed := range seedURLs {
		f.AllowHost(seed)
	}
	for _, p := range cfg.IncludePatterns {
		if re, err := regexp.Compile(p); err == nil {
			f.include = append(f.include, re)
		}
	}
	for _, p := range cfg.ExcludePatterns {
		if re, err := regexp.Compile(p); err == nil {
			f.exclude = append(f.exclude, re)
		}
	}

	return f
}

// AllowHost adds the host of rawURL to the crawl scope
func (f *Frontier) AllowHost(rawURL string) {
	if host := f.hostKey(rawURL); host != "" {
		f.allowedHosts[host] = struct{}{}
	}
}

// MaxDepth returns the depth ceiling, 0 for unlimited
func (f *Frontier) MaxDepth() int {
	return f.maxDepth
}

// Wait holds a concurrency slot for a suspended discovery and returns the
// function releasing it. The returned function is safe to call repeatedly.
func (f *Frontier) Wait() func() {
	f.gate.Hold()
	var once sync.Once
	return func() {
		once.Do(f.gate.Release)
	}
}

// QueueURL queues rawURL one level below from, or as a seed when from is
// nil. It reports whether the URL was newly queued.
func (f *Frontier) QueueURL(rawURL string, from *model.QueueItem) bool {
	depth := 1
	if from != nil {
		depth = from.Depth + 1
	}
	if f.maxDepth > 0 && depth > f.maxDepth {
		return false
	}

	normalized := urlnorm.Identity(rawURL)
	added, err := f.storage.AddToQueue([]QueueEntry{{
		URL:           rawURL,
		URLNormalized: normalized,
		Depth:         depth,
	}})
	if err != nil {
		slog.Error("Failed to queue URL", "url", rawURL, "error", err)
		return false
	}

	f.markSeen(normalized)

	if added > 0 {
		slog.Debug("Queued URL", "url", rawURL, "depth", depth)
	}
	return added > 0
}

// CleanExpandResources keeps the links worth queueing: http(s) links in
// scope, matching the include and exclude patterns, not yet visited, each
// resource once.
func (f *Frontier) CleanExpandResources(links []string, from *model.QueueItem) []string {
	cleaned := make([]string, 0, len(links))
	batch := make(map[string]struct{}, len(links))

	for _, link := range links {
		u, err := url.Parse(link)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			continue
		}

		if !f.inScope(link) || !f.matchesPatterns(link) {
			continue
		}

		normalized := urlnorm.Identity(link)
		if _, dup := batch[normalized]; dup {
			continue
		}
		batch[normalized] = struct{}{}

		if f.isKnown(normalized) {
			continue
		}

		cleaned = append(cleaned, link)
	}

	if from != nil {
		slog.Debug("Cleaned resources", "url", from.URL, "links", len(links), "kept", len(cleaned))
	}
	return cleaned
}

// isKnown checks the bloom prefilter, confirming positives in storage.
// The unique index in storage stays authoritative for URLs queued by a
// previous run.
func (f *Frontier) isKnown(normalized string) bool {
	f.seenMu.Lock()
	maybe := f.seen.TestString(normalized)
	f.seenMu.Unlock()
	if !maybe {
		return false
	}

	known, err := f.storage.IsKnown(normalized)
	if err != nil {
		slog.Warn("Failed to check visited set", "url", normalized, "error", err)
		return false
	}
	return known
}

func (f *Frontier) markSeen(normalized string) {
	f.seenMu.Lock()
	f.seen.AddString(normalized)
	f.seenMu.Unlock()
}

func (f *Frontier) inScope(link string) bool {
	if f.followExternal {
		return true
	}
	_, ok := f.allowedHosts[f.hostKey(link)]
	return ok
}

func (f *Frontier) matchesPatterns(link string) bool {
	if len(f.include) > 0 {
		matched := false
		for _, re := range f.include {
			if re.MatchString(link) {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}

	for _, re := range f.exclude {
		if re.MatchString(link) {
			return false
		}
	}
	return true
}

// hostKey returns the host compared for scope. Default ports are dropped,
// so http and https URLs of one host share a key.
func (f *Frontier) hostKey(rawURL string) string {
	u, err := url.Parse(urlnorm.Normalize(rawURL, urlnorm.Options{StripWWW: f.stripWWW}))
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Host)
}
