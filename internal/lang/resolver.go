// Package lang resolves the language of a crawled page.
//
// A language declared on the root element always wins. Pages without a
// declaration fall back to statistical detection over their visible text.
package lang

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/abadojack/whatlanggo"
	"golang.org/x/net/html"

	"github.com/masahif/linkmapper/internal/parser"
)

// ErrNoConfidentMatch is returned by a Detector that cannot name a language.
var ErrNoConfidentMatch = errors.New("no confident language match")

// maxDetectionBytes bounds the amount of text handed to the detector.
const maxDetectionBytes = 4096

// Detector guesses the language of a text.
type Detector interface {
	Detect(ctx context.Context, text string) (string, error)
}

// WhatlangDetector detects languages with whatlanggo and reports
// ISO 639-1 codes.
type WhatlangDetector struct {
	// MinConfidence rejects detections below this confidence.
	// Zero falls back to whatlanggo's own reliability check.
	MinConfidence float64
}

// Detect implements Detector.
func (d WhatlangDetector) Detect(ctx context.Context, text string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if strings.TrimSpace(text) == "" {
		return "", ErrNoConfidentMatch
	}

	info := whatlanggo.Detect(text)
	if d.MinConfidence > 0 {
		if info.Confidence < d.MinConfidence {
			return "", ErrNoConfidentMatch
		}
	} else if !info.IsReliable() {
		return "", ErrNoConfidentMatch
	}

	code := info.Lang.Iso6391()
	if code == "" {
		return "", ErrNoConfidentMatch
	}
	return code, nil
}

// Resolver derives a best-effort language tag for a page.
type Resolver struct {
	detector Detector
}

// NewResolver creates a resolver. A nil detector disables detection.
func NewResolver(detector Detector) *Resolver {
	return &Resolver{detector: detector}
}

// Resolve returns the page language, or "" when it cannot be determined.
// Detector failures are logged and never returned.
func (r *Resolver) Resolve(ctx context.Context, page *parser.Page) string {
	if page == nil || page.Doc == nil {
		return ""
	}

	if declared, ok := page.Doc.Find("html").First().Attr("lang"); ok {
		if declared = strings.TrimSpace(declared); declared != "" {
			return declared
		}
	}

	if r.detector == nil {
		return ""
	}

	code, err := r.detector.Detect(ctx, visibleText(page.Doc))
	if err != nil {
		slog.Debug("Language detection failed", "error", err)
		return ""
	}
	return code
}

// visibleText collects the text nodes of the document body, skipping
// script and style content.
func visibleText(doc *goquery.Document) string {
	var b strings.Builder
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if b.Len() >= maxDetectionBytes {
			return
		}
		switch n.Type {
		case html.ElementNode:
			switch n.Data {
			case "script", "style", "noscript", "template":
				return
			}
		case html.TextNode:
			if text := strings.TrimSpace(n.Data); text != "" {
				b.WriteString(text)
				b.WriteByte(' ')
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}

	for _, n := range doc.Find("body").Nodes {
		walk(n)
	}
	return strings.TrimSpace(b.String())
}
