// Package discovery sequences resource discovery for a fetched page.
//
// For every page the Orchestrator extracts links from the fetched body
// synchronously, then finishes the page asynchronously: an optional headless
// render, re-extraction, queueing through the Frontier and language
// resolution. The Frontier is held suspended until that work completes.
package discovery

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/masahif/linkmapper/internal/lang"
	"github.com/masahif/linkmapper/internal/model"
	"github.com/masahif/linkmapper/internal/parser"
	"github.com/masahif/linkmapper/internal/render"
)

// Frontier is the crawl frontier discovery reports to.
type Frontier interface {
	// QueueURL schedules url as discovered from the given page. It returns
	// false when the URL was not accepted.
	QueueURL(url string, from *model.QueueItem) bool
	// Wait suspends the frontier's accounting for one in-flight discovery and
	// returns the function that resumes it.
	Wait() func()
	// MaxDepth returns the depth ceiling, 0 for unlimited.
	MaxDepth() int
	// CleanExpandResources filters and deduplicates links found on from.
	CleanExpandResources(links []string, from *model.QueueItem) []string
}

// Renderer produces a script-rendered document for a URL.
type Renderer interface {
	Render(ctx context.Context, url string) (*render.Result, error)
}

// State names a step of the per-page pipeline.
type State string

// Pipeline states, in order.
const (
	StateFetched          State = "fetched"
	StateParsing          State = "parsing"
	StateRendering        State = "rendering"
	StateExtracted        State = "extracted"
	StateLanguageResolved State = "language-resolved"
	StateDone             State = "done"
)

// Options configures an Orchestrator.
type Options struct {
	Parser   parser.Options
	Renderer Renderer // nil extracts from the fetched body only
}

// Orchestrator runs discovery for fetched pages.
type Orchestrator struct {
	frontier  Frontier
	extractor *parser.Extractor
	resolver  *lang.Resolver
	renderer  Renderer
}

// New creates an orchestrator reporting to frontier. A nil resolver leaves
// page languages to the self-referencing alternate only.
func New(frontier Frontier, resolver *lang.Resolver, opts Options) *Orchestrator {
	if resolver == nil {
		resolver = lang.NewResolver(nil)
	}
	return &Orchestrator{
		frontier:  frontier,
		extractor: parser.NewExtractor(opts.Parser),
		resolver:  resolver,
		renderer:  opts.Renderer,
	}
}

// Discover extracts the links of a fetched page and starts the rest of its
// discovery in the background. The returned links come from body; the Task
// completes once item is DiscoveryDone.
func (o *Orchestrator) Discover(ctx context.Context, item *model.QueueItem, body []byte, contentType string) ([]string, *Task) {
	logState(item, StateFetched)
	logState(item, StateParsing)

	page, err := o.extractor.Parse(body, contentType)
	if err != nil {
		slog.Debug("Failed to parse page", "url", item.URL, "error", err)
		page = nil
	}
	links := o.extractor.Extract(page, item)

	resume := o.frontier.Wait()
	task := newTask()
	go o.finish(ctx, item, page, links, resume, task)

	return links, task
}

func (o *Orchestrator) finish(ctx context.Context, item *model.QueueItem, page *parser.Page, links []string, resume func(), task *Task) {
	done := func(links []string, err error) {
		task.complete(links, err, func() {
			item.MarkDiscoveryDone()
			logState(item, StateDone)
			resume()
		})
	}

	defer func() {
		if r := recover(); r != nil {
			slog.Error("Discovery panicked", "url", item.URL, "panic", r)
			done(nil, fmt.Errorf("discovery panicked: %v", r))
		}
	}()

	var renderErr error
	if o.renderer != nil {
		links, page, renderErr = o.renderAndQueue(ctx, item, page)
	} else {
		logState(item, StateExtracted)
	}

	if item.Lang == "" {
		item.Lang = o.resolver.Resolve(ctx, page)
	}
	logState(item, StateLanguageResolved)

	done(links, renderErr)
}

// renderAndQueue replaces the fetched document with a rendered one and
// queues its links. On failure it keeps the fetched page for language
// resolution and reports no links.
func (o *Orchestrator) renderAndQueue(ctx context.Context, item *model.QueueItem, fetched *parser.Page) ([]string, *parser.Page, error) {
	logState(item, StateRendering)

	result, err := o.renderer.Render(ctx, item.URL)
	if err != nil {
		slog.Warn("Failed to render page", "url", item.URL, "error", err)
		return nil, fetched, err
	}

	page, err := o.extractor.Parse([]byte(result.Body), "text/html; charset=utf-8")
	if err != nil {
		slog.Warn("Failed to parse rendered page", "url", item.URL, "error", err)
		return nil, fetched, err
	}

	links := o.extractor.Extract(page, item)
	logState(item, StateExtracted)

	links = o.frontier.CleanExpandResources(links, item)

	maxDepth := o.frontier.MaxDepth()
	queued := 0
	for _, link := range links {
		if maxDepth == 0 || item.Depth+1 <= maxDepth {
			if o.frontier.QueueURL(link, item) {
				queued++
			}
		}
	}
	slog.Debug("Queued rendered links", "url", item.URL, "links_count", len(links), "queued", queued, "depth", item.Depth)

	return links, page, nil
}

func logState(item *model.QueueItem, state State) {
	slog.Debug("Discovery state", "url", item.URL, "state", string(state), "depth", item.Depth)
}
