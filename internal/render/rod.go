// Package render obtains script-rendered documents from a headless browser.
package render

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
)

// ErrEmptyDocument is returned when a rendered page serializes to nothing.
var ErrEmptyDocument = errors.New("rendered document is empty")

const serializeDocument = `() => (document.doctype ? new XMLSerializer().serializeToString(document.doctype) : '') + document.documentElement.outerHTML`

// Result is the outcome of rendering a URL.
type Result struct {
	URL    string // requested URL
	Body   string // serialized document after scripts ran
	EndURL string // URL after redirects
}

// Options configures a RodRenderer.
type Options struct {
	Headless          bool
	BrowserBin        string        // empty lets rod find or download a browser
	NavigationTimeout time.Duration // bound on navigation and load
	SettleDelay       time.Duration // fixed wait after load for late scripts
	AcceptLanguage    string
}

// DefaultOptions returns the renderer defaults.
func DefaultOptions() Options {
	return Options{
		Headless:          true,
		NavigationTimeout: 30 * time.Second,
		SettleDelay:       15 * time.Second,
		AcceptLanguage:    "en",
	}
}

// RodRenderer renders pages in a Chromium instance driven by go-rod.
// Every Render call uses its own tab, so it is safe for concurrent use.
type RodRenderer struct {
	opts     Options
	launcher *launcher.Launcher
	browser  *rod.Browser

	closeOnce sync.Once
}

// NewRodRenderer launches a browser and connects to it.
func NewRodRenderer(opts Options) (*RodRenderer, error) {
	l := launcher.New().Headless(opts.Headless)
	if opts.BrowserBin != "" {
		l = l.Bin(opts.BrowserBin)
	}

	controlURL, err := l.Launch()
	if err != nil {
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}

	browser := rod.New().ControlURL(controlURL)
	if err := browser.Connect(); err != nil {
		l.Kill()
		return nil, fmt.Errorf("failed to connect to browser: %w", err)
	}

	slog.Debug("Browser started", "control_url", controlURL, "headless", opts.Headless)

	return &RodRenderer{
		opts:     opts,
		launcher: l,
		browser:  browser,
	}, nil
}

// Render opens url in a new tab, waits for it to load and settle, and
// returns the serialized document.
func (r *RodRenderer) Render(ctx context.Context, url string) (*Result, error) {
	page, err := r.browser.Page(proto.TargetCreateTarget{})
	if err != nil {
		return nil, fmt.Errorf("failed to open tab: %w", err)
	}
	defer func() {
		if err := page.Close(); err != nil {
			slog.Debug("Failed to close tab", "url", url, "error", err)
		}
	}()

	p := page.Context(ctx)

	if r.opts.AcceptLanguage != "" {
		if _, err := p.SetExtraHeaders([]string{"Accept-Language", r.opts.AcceptLanguage}); err != nil {
			return nil, fmt.Errorf("failed to set headers: %w", err)
		}
	}

	nav := p
	if r.opts.NavigationTimeout > 0 {
		nav = p.Timeout(r.opts.NavigationTimeout)
	}
	if err := nav.Navigate(url); err != nil {
		return nil, fmt.Errorf("failed to navigate to %s: %w", url, err)
	}
	if err := nav.WaitLoad(); err != nil {
		return nil, fmt.Errorf("failed to load %s: %w", url, err)
	}

	if err := sleep(ctx, r.opts.SettleDelay); err != nil {
		return nil, err
	}

	obj, err := p.Evaluate(rod.Eval(serializeDocument))
	if err != nil {
		return nil, fmt.Errorf("failed to serialize %s: %w", url, err)
	}

	body := obj.Value.Str()
	if strings.TrimSpace(body) == "" {
		return nil, ErrEmptyDocument
	}

	result := &Result{URL: url, Body: body, EndURL: url}
	if info, err := p.Info(); err == nil && info.URL != "" {
		result.EndURL = info.URL
	}

	return result, nil
}

// Close shuts the browser down. It is safe to call more than once.
func (r *RodRenderer) Close() error {
	var err error
	r.closeOnce.Do(func() {
		err = r.browser.Close()
		r.launcher.Cleanup()
	})
	return err
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
