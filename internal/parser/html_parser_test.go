package parser

import (
	"io"
	"log/slog"
	"reflect"
	"testing"

	"github.com/masahif/linkmapper/internal/model"
)

func init() {
	// Disable slog output during testing
	slog.SetDefault(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func extract(t *testing.T, pageURL, body string) ([]string, *model.QueueItem) {
	t.Helper()

	extractor := NewExtractor(DefaultOptions())
	page, err := extractor.Parse([]byte(body), "text/html; charset=utf-8")
	if err != nil {
		t.Fatalf("Failed to parse HTML: %v", err)
	}

	item := model.NewQueueItem(pageURL, 1)
	return extractor.Extract(page, item), item
}

func TestExtractLinks(t *testing.T) {
	htmlContent := `
<!DOCTYPE html>
<html>
<head>
	<title>Test Page Title</title>
	<link rel="canonical" href="https://example.com/canonical-page">
</head>
<body>
	<a href="/relative-link">Relative Link</a>
	<a href="https://example.com/absolute-link#section">Absolute Link</a>
	<a href="https://external.com/page" rel="nofollow">External Link</a>
	<a href="#anchor">Anchor Link</a>
	<a href="javascript:void(0)">JavaScript Link</a>
	<a href="mailto:a@b.com">Mail</a>
	<a href="tel:+123456">Phone</a>
	<a href="//cdn.example.com/a">Protocol relative</a>
	<a href="./sibling">Sibling</a>
	<a href="../up">Up</a>
	<a href="plain">Plain relative</a>
	<a href="/relative-link">Duplicate</a>
	<a href="">Empty</a>
	<a>No href</a>
</body>
</html>
`

	links, item := extract(t, "https://example.com/dir/test-page", htmlContent)

	expected := []string{
		"https://example.com/canonical-page",
		"https://example.com/relative-link",
		"https://example.com/absolute-link",
		"https://cdn.example.com/a",
		"https://example.com/dir/sibling",
		"https://example.com/up",
		"https://example.com/dir/plain",
		"https://example.com/relative-link",
	}

	if !reflect.DeepEqual(links, expected) {
		t.Errorf("links mismatch\n got: %v\nwant: %v", links, expected)
	}

	if item.Canonical != "https://example.com/canonical-page" {
		t.Errorf("Expected canonical 'https://example.com/canonical-page', got '%s'", item.Canonical)
	}

	if item.URLNormalized != "https://example.com/dir/test-page" {
		t.Errorf("Expected normalized URL 'https://example.com/dir/test-page', got '%s'", item.URLNormalized)
	}
}

func TestExtractLinksTrimsWhitespace(t *testing.T) {
	tests := []struct {
		name string
		href string
		want string
	}{
		{"padded", "  /trim ", "https://example.com/trim"},
		{"newline and indent", "\n  /about ", "https://example.com/about"},
		{"embedded newline", "/ab\nout", "https://example.com/about"},
		{"tab and carriage return", "\t../up\r\n", "https://example.com/up"},
		{"padded absolute", " https://example.com/abs ", "https://example.com/abs"},
		{"padded non network scheme", "  mailto:a@b.com", ""},
		{"whitespace only", " \n\t ", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			htmlContent := `<html><body><a href="` + tt.href + `">x</a></body></html>`
			links, _ := extract(t, "https://example.com/dir/page", htmlContent)

			if tt.want == "" {
				if len(links) != 0 {
					t.Errorf("Expected no links, got %v", links)
				}
				return
			}
			if len(links) != 1 || links[0] != tt.want {
				t.Errorf("Expected [%s], got %v", tt.want, links)
			}
		})
	}
}

func TestExtractCanonicalTrimsWhitespace(t *testing.T) {
	htmlContent := `<html><head><link rel="canonical" href="
	  /canonical  "></head></html>`

	_, item := extract(t, "https://example.com/dir/page", htmlContent)
	if item.Canonical != "https://example.com/canonical" {
		t.Errorf("Expected trimmed canonical, got %q", item.Canonical)
	}
}

func TestExtractProtocolRelativeUsesItemProtocol(t *testing.T) {
	htmlContent := `<html><body><a href="//cdn.example.com/a">cdn</a></body></html>`

	links, _ := extract(t, "http://example.com/", htmlContent)
	if len(links) != 1 || links[0] != "http://cdn.example.com/a" {
		t.Errorf("Expected [http://cdn.example.com/a], got %v", links)
	}
}

func TestExtractMetaRobotsNofollow(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    int
	}{
		{"nofollow", "nofollow", 0},
		{"noindex nofollow upper case", "NOINDEX, NOFOLLOW", 0},
		{"index follow", "index,follow", 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			htmlContent := `<html><head><meta name="robots" content="` + tt.content + `">
<link rel="alternate" hreflang="de" href="https://example.com/de/"></head>
<body><a href="/a">a</a><a href="/b">b</a></body></html>`

			links, item := extract(t, "https://example.com/", htmlContent)
			if len(links) != tt.want {
				t.Errorf("Expected %d links, got %d: %v", tt.want, len(links), links)
			}
			// Metadata is still read on nofollow pages
			if len(item.Alternatives) != 1 {
				t.Errorf("Expected 1 alternative, got %d", len(item.Alternatives))
			}
		})
	}
}

func TestExtractAlternatives(t *testing.T) {
	htmlContent := `
<html>
<head>
	<link rel="alternate" type="application/rss+xml" hreflang="en" href="https://example.com/feed.xml">
	<link rel="alternate" hreflang="fr" href="https://www.example.com/fr/">
	<link rel="alternate" hreflang="en" href="
	https://example.com/en/
	">
	<link rel="alternate" hreflang="de" href="/de/">
	<link rel="alternate" href="https://example.com/nolang/">
	<link rel="alternate" hreflang="" href="https://example.com/emptylang/">
</head>
<body></body>
</html>
`

	_, item := extract(t, "http://example.com/fr/", htmlContent)

	if item.Lang != "fr" {
		t.Errorf("Expected self declared lang 'fr', got '%s'", item.Lang)
	}

	expected := []model.Alternative{
		{URL: "https://example.com/en/", URLNormalized: "https://example.com/en/", Lang: "en"},
		{URL: "http://example.com/de/", URLNormalized: "https://example.com/de/", Lang: "de"},
	}

	if !reflect.DeepEqual(item.Alternatives, expected) {
		t.Errorf("alternatives mismatch\n got: %+v\nwant: %+v", item.Alternatives, expected)
	}

	for _, alt := range item.Alternatives {
		if alt.URLNormalized == item.URLNormalized {
			t.Errorf("self reference %q must not be an alternative", alt.URL)
		}
	}
}

func TestExtractSelfAlternateWithDefaultPort(t *testing.T) {
	tests := []struct {
		name string
		page string
		href string
	}{
		{"explicit http port", "http://example.com/page", "http://example.com:80/page"},
		{"explicit https port", "http://example.com/page", "https://www.example.com:443/page"},
		{"page with explicit port", "http://example.com:80/page", "https://example.com/page"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			htmlContent := `<html><head><link rel="alternate" hreflang="fr" href="` + tt.href + `"></head></html>`

			_, item := extract(t, tt.page, htmlContent)
			if item.Lang != "fr" {
				t.Errorf("Expected self reference to set lang 'fr', got %q", item.Lang)
			}
			if len(item.Alternatives) != 0 {
				t.Errorf("Expected no alternatives, got %+v", item.Alternatives)
			}
		})
	}
}

func TestExtractBaseHref(t *testing.T) {
	tests := []struct {
		name string
		base string
		href string
		want string
	}{
		{"absolute base", "https://static.example.com/assets/", "img/page", "https://static.example.com/assets/img/page"},
		{"relative base", "/sub/", "page", "https://example.com/sub/page"},
		{"base ignored for absolute href", "https://other.com/", "https://example.com/x", "https://example.com/x"},
		{"root relative href with base", "https://static.example.com/assets/", "/root", "https://static.example.com/root"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			htmlContent := `<html><head><base href="` + tt.base + `"></head><body><a href="` + tt.href + `">x</a></body></html>`
			links, _ := extract(t, "https://example.com/dir/page", htmlContent)
			if len(links) != 1 || links[0] != tt.want {
				t.Errorf("Expected [%s], got %v", tt.want, links)
			}
		})
	}
}

func TestExtractResetsPreviousPass(t *testing.T) {
	extractor := NewExtractor(DefaultOptions())
	item := model.NewQueueItem("https://example.com/", 1)

	first, err := extractor.Parse([]byte(`<html><head>
<link rel="canonical" href="https://example.com/first">
<link rel="alternate" hreflang="de" href="https://example.com/de/"></head></html>`), "")
	if err != nil {
		t.Fatalf("Failed to parse HTML: %v", err)
	}
	extractor.Extract(first, item)

	second, err := extractor.Parse([]byte(`<html><body><a href="/only">only</a></body></html>`), "")
	if err != nil {
		t.Fatalf("Failed to parse HTML: %v", err)
	}
	links := extractor.Extract(second, item)

	if item.Canonical != "" || len(item.Alternatives) != 0 {
		t.Errorf("Expected second pass to replace first pass, got canonical=%q alternatives=%v", item.Canonical, item.Alternatives)
	}
	if len(links) != 1 {
		t.Errorf("Expected 1 link, got %v", links)
	}
}

func TestExtractRelNofollowDisabled(t *testing.T) {
	extractor := NewExtractor(Options{RespectMetaRobots: false, RespectRelNofollow: false})
	page, err := extractor.Parse([]byte(`<html><head><meta name="robots" content="nofollow"></head>
<body><a rel="nofollow" href="/a">a</a></body></html>`), "")
	if err != nil {
		t.Fatalf("Failed to parse HTML: %v", err)
	}

	links := extractor.Extract(page, model.NewQueueItem("https://example.com/", 1))
	if len(links) != 1 {
		t.Errorf("Expected robots directives to be ignored, got %v", links)
	}
}

func TestParseDecodesCharset(t *testing.T) {
	// "café" in ISO-8859-1
	body := []byte("<html><head><title>caf\xe9</title></head><body></body></html>")

	extractor := NewExtractor(DefaultOptions())
	page, err := extractor.Parse(body, "text/html; charset=iso-8859-1")
	if err != nil {
		t.Fatalf("Failed to parse HTML: %v", err)
	}

	if title := page.Doc.Find("title").Text(); title != "café" {
		t.Errorf("Expected decoded title 'café', got %q", title)
	}
}

func TestParseEmptyContent(t *testing.T) {
	extractor := NewExtractor(DefaultOptions())
	page, err := extractor.Parse([]byte(""), "")
	if err != nil {
		t.Fatalf("Failed to parse empty HTML: %v", err)
	}

	links := extractor.Extract(page, model.NewQueueItem("https://example.com/", 1))
	if len(links) != 0 {
		t.Error("Expected no links for empty HTML")
	}
}
