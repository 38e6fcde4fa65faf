package crawler

import (
	"context"

	"github.com/masahif/linkmapper/internal/model"
)

// Crawler defines the main crawling interface
type Crawler interface {
	Start(ctx context.Context, seedURLs []string) error
	Stop() error
	GetStats() CrawlStats
}

// Storage handles data persistence
type Storage interface {
	// Queue management (using pages table)
	AddToQueue(entries []QueueEntry) (added int, err error)
	GetNextFromQueue() (*URLItem, error)
	ResetProcessing() (int, error) // Requeue items left processing by an interrupted run

	// Page results (updates existing queued entry)
	SavePageResult(id int, page *PageData) error
	SaveDiscovery(id int, discovery *DiscoveryData) error
	SavePageError(id int, errorType, errorMessage string) error

	// Visited set
	IsKnown(urlNormalized string) (bool, error)

	// Queue status
	GetQueueStatus() (queued int, processing int, completed int, errors int, err error)
	HasQueuedItems() (bool, error) // Check if queue has any work items (queued or processing)

	// Meta-data management
	GetMeta(key string) (string, error)
	SetMeta(key, value string) error

	// Database lifecycle
	Close() error
}

// SitemapWriter receives pages whose discovery finished
type SitemapWriter interface {
	Flush(item *model.QueueItem) error
	End() error
	CopyTo(dest string) error
	Path() string
}
