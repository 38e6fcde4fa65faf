// Package model defines the crawl state shared by the discovery pipeline,
// the frontier and the sitemap builder.
package model

import (
	"net/url"
	"strings"
	"sync/atomic"
)

// Alternative is an alternate-language variant declared by a page
// through <link rel="alternate" hreflang="...">.
type Alternative struct {
	URL           string // href as declared (resolved to an absolute URL)
	URLNormalized string // identity form used for equality checks
	Lang          string // hreflang value
	Flushed       bool   // true once written as an xhtml:link entry
}

// QueueItem is the crawl state of a single fetched page.
//
// An item is mutated only by the discovery pipeline while its task runs.
// Once IsDiscoveryDone reports true the item is terminal and may be read
// by the sitemap builder and the storage layer.
type QueueItem struct {
	URL           string        // original fetch URL
	URLNormalized string        // identity form of URL
	Protocol      string        // scheme of URL, without ":"
	Depth         int           // 1 for seeds
	Canonical     string        // resolved rel="canonical" href, possibly empty
	Alternatives  []Alternative // declared alternate-language links, document order
	Lang          string        // resolved page language, possibly empty
	LastMod       string        // RFC 3339 timestamp for the sitemap entry

	flushed       atomic.Bool
	discoveryDone atomic.Bool
}

// NewQueueItem creates an item for rawURL at the given crawl depth.
// Depths below 1 are clamped to 1.
func NewQueueItem(rawURL string, depth int) *QueueItem {
	if depth < 1 {
		depth = 1
	}
	return &QueueItem{
		URL:      rawURL,
		Protocol: protocolOf(rawURL),
		Depth:    depth,
	}
}

// Flushed reports whether the item was written to the sitemap.
func (q *QueueItem) Flushed() bool {
	return q.flushed.Load()
}

// MarkFlushed records that the item was written to the sitemap.
// It returns false if the item had already been flushed.
func (q *QueueItem) MarkFlushed() bool {
	return q.flushed.CompareAndSwap(false, true)
}

// IsDiscoveryDone reports whether the discovery pipeline finished for the item.
func (q *QueueItem) IsDiscoveryDone() bool {
	return q.discoveryDone.Load()
}

// MarkDiscoveryDone moves the item to its terminal state.
func (q *QueueItem) MarkDiscoveryDone() {
	q.discoveryDone.Store(true)
}

func protocolOf(rawURL string) string {
	if u, err := url.Parse(strings.TrimSpace(rawURL)); err == nil && u.Scheme != "" {
		return strings.ToLower(u.Scheme)
	}
	return "http"
}
