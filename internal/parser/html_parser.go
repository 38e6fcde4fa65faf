// Package parser provides HTML parsing and resource extraction.
// It resolves the outbound links, alternate-language links and canonical
// link of a fetched page while honouring robots directives.
package parser

import (
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
	"golang.org/x/net/html/charset"

	"github.com/masahif/linkmapper/internal/model"
	"github.com/masahif/linkmapper/internal/urlnorm"
)

var (
	nofollowPattern   = regexp.MustCompile(`(?i)nofollow`)
	schemePattern     = regexp.MustCompile(`(?i)^[a-z]+:`)
	absoluteHTTP      = regexp.MustCompile(`^https?://`)
	fragmentPattern   = regexp.MustCompile(`#.*$`)
	hrefWhitespace    = strings.NewReplacer("\n", "", "\r", "", "\t", "")
	rssFeedType       = "application/rss+xml"
	linkSelector      = `a[href], link[rel="canonical"]`
	alternateSelector = `head link[rel="alternate"]`
)

// Options controls which robots directives the extractor honours.
type Options struct {
	RespectMetaRobots  bool // <meta name="robots" content="nofollow"> suppresses all links
	RespectRelNofollow bool // rel="nofollow" suppresses a single link
}

// DefaultOptions returns options honouring every robots directive.
func DefaultOptions() Options {
	return Options{
		RespectMetaRobots:  true,
		RespectRelNofollow: true,
	}
}

// Page is a parsed document together with its decoded body.
// It is owned by a single discovery pass and must not outlive it.
type Page struct {
	Doc  *goquery.Document
	Body string
}

// Extractor parses pages and extracts their resources
type Extractor struct {
	opts Options
}

// NewExtractor creates a new extractor with the given options
func NewExtractor(opts Options) *Extractor {
	return &Extractor{opts: opts}
}

// Parse decodes body to UTF-8 using contentType and any <meta charset>
// declaration, then parses it into a document.
func (e *Extractor) Parse(body []byte, contentType string) (*Page, error) {
	var reader io.Reader = bytes.NewReader(body)
	if decoded, err := charset.NewReader(reader, contentType); err == nil {
		reader = decoded
	} else {
		slog.Debug("Falling back to raw body encoding", "content_type", contentType, "error", err)
		reader = bytes.NewReader(body)
	}

	text, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("failed to decode body: %w", err)
	}

	root, err := html.Parse(bytes.NewReader(text))
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML: %w", err)
	}

	return &Page{
		Doc:  goquery.NewDocumentFromNode(root),
		Body: string(text),
	}, nil
}

// Extract resolves the resources of page on behalf of item.
//
// It sets item.URLNormalized, item.Canonical and item.Alternatives, and
// item.Lang when the page declares itself as an alternate. The returned
// links are absolute and in document order; duplicates are kept.
func (e *Extractor) Extract(page *Page, item *model.QueueItem) []string {
	item.URLNormalized = urlnorm.Identity(item.URL)
	item.Canonical = ""
	item.Alternatives = nil

	links := []string{}
	if page == nil || page.Doc == nil {
		return links
	}

	baseHref, hasBase := page.Doc.Find("base").First().Attr("href")
	if !hasBase {
		baseHref = ""
	}

	e.extractAlternatives(page.Doc, item, baseHref)

	if e.opts.RespectMetaRobots && hasNofollowMeta(page.Doc) {
		slog.Debug("Page is nofollow, skipping links", "url", item.URL)
		return links
	}

	page.Doc.Find(linkSelector).Each(func(_ int, s *goquery.Selection) {
		href, ok := s.Attr("href")
		href = cleanHref(href)
		if !ok || href == "" {
			return
		}

		if isNonNetworkScheme(href) {
			return
		}

		rel, _ := s.Attr("rel")
		if e.opts.RespectRelNofollow && nofollowPattern.MatchString(rel) {
			return
		}

		resolved, ok := resolveHref(href, item, baseHref)
		if !ok {
			return
		}

		if rel == "canonical" {
			item.Canonical = resolved
		}
		links = append(links, resolved)
	})

	slog.Debug("Found links", "url", item.URL, "links_count", len(links), "alternatives", len(item.Alternatives))
	return links
}

// extractAlternatives reads <link rel="alternate" hreflang> declarations.
func (e *Extractor) extractAlternatives(doc *goquery.Document, item *model.QueueItem, baseHref string) {
	doc.Find(alternateSelector).Each(func(_ int, s *goquery.Selection) {
		if linkType, _ := s.Attr("type"); linkType == rssFeedType {
			return
		}

		hreflang, hasLang := s.Attr("hreflang")
		href, _ := s.Attr("href")
		href = cleanHref(href)
		if href == "" {
			return
		}

		resolved, ok := resolveHref(href, item, baseHref)
		if !ok {
			return
		}
		normalized := urlnorm.Identity(resolved)

		if normalized == item.URLNormalized {
			if hreflang != "" {
				item.Lang = hreflang
			}
			return
		}

		if !hasLang || hreflang == "" {
			return
		}

		item.Alternatives = append(item.Alternatives, model.Alternative{
			URL:           resolved,
			URLNormalized: normalized,
			Lang:          hreflang,
		})
	})
}

func hasNofollowMeta(doc *goquery.Document) bool {
	nofollow := false
	doc.Find(`meta[name="robots"]`).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		content, _ := s.Attr("content")
		nofollow = nofollowPattern.MatchString(content)
		return !nofollow
	})
	return nofollow
}

// cleanHref strips the whitespace browsers ignore in URL attributes.
func cleanHref(href string) string {
	return strings.TrimSpace(hrefWhitespace.Replace(href))
}

// isNonNetworkScheme reports hrefs such as mailto:, tel: or javascript:,
// whose scheme is not followed by "//".
func isNonNetworkScheme(href string) bool {
	loc := schemePattern.FindStringIndex(href)
	if loc == nil {
		return false
	}
	return !strings.HasPrefix(href[loc[1]:], "//")
}

// resolveHref turns href into an absolute URL for item.
func resolveHref(href string, item *model.QueueItem, baseHref string) (string, bool) {
	href = fragmentPattern.ReplaceAllString(href, "")
	if href == "" {
		return "", false
	}

	if strings.HasPrefix(href, "//") {
		return item.Protocol + ":" + href, true
	}

	if absoluteHTTP.MatchString(href) {
		return href, true
	}

	if baseHref != "" {
		if resolved, err := resolveReference(baseHref, href); err == nil {
			href = resolved
		}
		if strings.HasPrefix(href, "//") {
			return item.Protocol + ":" + href, true
		}
		if absoluteHTTP.MatchString(href) {
			return href, true
		}
	}

	resolved, err := resolveReference(item.URL, href)
	if err != nil {
		slog.Debug("Skipping malformed link", "url", item.URL, "href", href, "error", err)
		return "", false
	}
	return resolved, true
}

// resolveReference resolves ref against base
func resolveReference(base, ref string) (string, error) {
	baseURL, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	refURL, err := url.Parse(ref)
	if err != nil {
		return "", err
	}
	return baseURL.ResolveReference(refURL).String(), nil
}
