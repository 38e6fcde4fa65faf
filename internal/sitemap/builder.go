// Package sitemap streams crawled pages into a sitemap XML document.
package sitemap

import (
	"bufio"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/masahif/linkmapper/internal/model"
)

var (
	// ErrClosed is returned when writing to a builder after End.
	ErrClosed = errors.New("sitemap is closed")
	// ErrNotDiscovered is returned when flushing an item whose discovery
	// has not finished.
	ErrNotDiscovered = errors.New("item discovery not done")
)

const (
	xmlHeader  = `<?xml version="1.0" encoding="utf-8" standalone="yes" ?>`
	urlsetOpen = "\n" + `<urlset xmlns="http://www.sitemaps.org/schemas/sitemap/0.9" xmlns:xhtml="http://www.w3.org/1999/xhtml">`
	urlsetEnd  = "\n</urlset>"
)

var escaper = strings.NewReplacer(
	"&", "&amp;",
	"<", "&lt;",
	">", "&gt;",
	`"`, "&quot;",
	"'", "&apos;",
)

// Options configures a Builder.
type Options struct {
	TempDir    string // defaults to os.TempDir()
	ChangeFreq string // written on every entry when set
}

// Alternate is an alternate-language version of an entry.
type Alternate struct {
	HrefLang string
	Href     string
}

// Entry is one <url> element.
type Entry struct {
	Loc        string
	Priority   float64
	ChangeFreq string
	LastMod    string
	Alternates []Alternate
}

// Builder writes entries to a temporary file as they are flushed.
type Builder struct {
	opts Options
	path string

	mu      sync.Mutex
	file    *os.File
	w       *bufio.Writer
	entries []Entry
	closed  bool
}

// New creates the temporary sitemap file and writes the document header.
func New(opts Options) (*Builder, error) {
	dir := opts.TempDir
	if dir == "" {
		dir = os.TempDir()
	}

	suffix, err := randomHex(10)
	if err != nil {
		return nil, fmt.Errorf("failed to generate sitemap name: %w", err)
	}
	path := filepath.Join(dir, "sitemap_"+suffix)

	file, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to create sitemap file: %w", err)
	}

	b := &Builder{
		opts: opts,
		path: path,
		file: file,
		w:    bufio.NewWriter(file),
	}

	b.w.WriteString(xmlHeader)
	b.w.WriteString(urlsetOpen)
	if err := b.w.Flush(); err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to write sitemap header: %w", err)
	}

	slog.Info("Writing sitemap to temporary file", "path", path)
	return b, nil
}

// Path returns the temporary file path.
func (b *Builder) Path() string {
	return b.path
}

// Entries returns a copy of the entries written so far.
func (b *Builder) Entries() []Entry {
	b.mu.Lock()
	defer b.mu.Unlock()
	entries := make([]Entry, len(b.entries))
	copy(entries, b.entries)
	return entries
}

// Priority maps a crawl depth (1 = seed) to a sitemap priority.
func Priority(depth int) float64 {
	switch depth - 1 {
	case 0:
		return 1.0
	case 1:
		return 0.9
	case 2:
		return 0.8
	case 3:
		return 0.7
	case 4:
		return 0.6
	default:
		return 0.5
	}
}

// Flush appends item to the sitemap. Items already flushed are skipped.
func (b *Builder) Flush(item *model.QueueItem) error {
	if !item.IsDiscoveryDone() {
		return fmt.Errorf("%s: %w", item.URL, ErrNotDiscovered)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrClosed
	}
	if !item.MarkFlushed() {
		return nil
	}

	entry := Entry{
		Loc:        item.URL,
		Priority:   Priority(item.Depth),
		ChangeFreq: b.opts.ChangeFreq,
		LastMod:    item.LastMod,
	}
	for i := range item.Alternatives {
		alt := &item.Alternatives[i]
		entry.Alternates = append(entry.Alternates, Alternate{HrefLang: alt.Lang, Href: alt.URL})
		alt.Flushed = true
	}

	writeEntry(b.w, entry)
	if err := b.w.Flush(); err != nil {
		return fmt.Errorf("failed to write sitemap entry: %w", err)
	}

	b.entries = append(b.entries, entry)
	return nil
}

// End closes the document and the file.
func (b *Builder) End() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrClosed
	}
	b.closed = true

	b.w.WriteString(urlsetEnd)
	if err := b.w.Flush(); err != nil {
		b.file.Close()
		return fmt.Errorf("failed to write sitemap footer: %w", err)
	}
	if err := b.file.Close(); err != nil {
		return fmt.Errorf("failed to close sitemap: %w", err)
	}

	slog.Info("Sitemap completed", "path", b.path, "entries", len(b.entries))
	return nil
}

// CopyTo copies the sitemap written so far to dest, creating parent
// directories as needed.
func (b *Builder) CopyTo(dest string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if dir := filepath.Dir(dest); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create output directory: %w", err)
		}
	}

	src, err := os.Open(b.path)
	if err != nil {
		return fmt.Errorf("failed to open sitemap: %w", err)
	}
	defer src.Close()

	dst, err := os.Create(dest)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", dest, err)
	}

	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		return fmt.Errorf("failed to copy sitemap: %w", err)
	}
	return dst.Close()
}

func writeEntry(w *bufio.Writer, e Entry) {
	fmt.Fprintf(w, "\n  <url>\n    <loc>%s</loc>", escaper.Replace(e.Loc))
	for _, alt := range e.Alternates {
		fmt.Fprintf(w, "\n    <xhtml:link rel='alternate' hreflang='%s' href='%s' />",
			escaper.Replace(alt.HrefLang), escaper.Replace(alt.Href))
	}
	if e.ChangeFreq != "" {
		fmt.Fprintf(w, "\n    <changefreq>%s</changefreq>", escaper.Replace(e.ChangeFreq))
	}
	fmt.Fprintf(w, "\n    <priority>%.1f</priority>", e.Priority)
	if e.LastMod != "" {
		fmt.Fprintf(w, "\n    <lastmod>%s</lastmod>", escaper.Replace(e.LastMod))
	}
	w.WriteString("\n  </url>")
}

func randomHex(n int) (string, error) {
	buf := make([]byte, (n+1)/2)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf)[:n], nil
}
