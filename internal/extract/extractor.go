package extract

import (
	"bytes"
	"net/url"
	"strings"

	readability "github.com/go-shiori/go-readability"
	"golang.org/x/net/html"

	"github.com/hyperifyio/tabscribe/internal/markdown"
)

// Extractor defines a minimal interface for whole-page extraction strategies.
// Implementations can swap readability tactics without changing callers.
type Extractor interface {
	// Extract converts raw HTML bytes into a Document.
	// Implementations should be deterministic and avoid side effects.
	Extract(input []byte) Document
}

// HeuristicExtractor uses FromHTML: boilerplate removal plus a preference
// for <main>/<article>.
type HeuristicExtractor struct{}

func (HeuristicExtractor) Extract(input []byte) Document {
	return FromHTML(input)
}

// ReadabilityExtractor scores the page with go-readability to find the
// article body. Pages readability cannot handle fall back to FromHTML.
type ReadabilityExtractor struct {
	// PageURL resolves relative links; a placeholder is used when nil.
	PageURL *url.URL
}

func (r ReadabilityExtractor) Extract(input []byte) Document {
	fallback := FromHTML(input)
	pageURL := r.PageURL
	if pageURL == nil {
		pageURL = &url.URL{Scheme: "http", Host: "localhost", Path: "/"}
	}
	article, err := readability.FromReader(bytes.NewReader(input), pageURL)
	if err != nil || strings.TrimSpace(article.Content) == "" {
		return fallback
	}
	root, err := html.Parse(strings.NewReader(article.Content))
	if err != nil {
		return fallback
	}
	text := tidy(markdown.Convert(root))
	if strings.TrimSpace(text) == "" {
		return fallback
	}
	title := strings.TrimSpace(article.Title)
	if title == "" {
		title = fallback.Title
	}
	return Document{Title: title, Text: text}
}

// ByName returns the extractor registered under name ("heuristic" or
// "readability"). Unknown names get the heuristic extractor.
func ByName(name string, pageURL *url.URL) Extractor {
	if strings.EqualFold(strings.TrimSpace(name), "readability") {
		return ReadabilityExtractor{PageURL: pageURL}
	}
	return HeuristicExtractor{}
}

// Known reports whether name selects an extractor ("" counts as heuristic).
func Known(name string) bool {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "heuristic", "readability":
		return true
	}
	return false
}
