package extract

import (
	"bytes"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/hyperifyio/tabscribe/internal/markdown"
)

// Document is the Markdown rendition of a page or a selection.
type Document struct {
	Title string
	Text  string
}

// boilerplate lists regions removed from a page before conversion.
const boilerplate = "nav, header, footer, script, style, aside, iframe, noscript"

// primaryContent is tried in order; the first match becomes the conversion root.
var primaryContent = []string{"main", "article", "[role=main]"}

const primaryContentSelector = "main, article, [role=main]"

// FromHTML converts a whole page. The input is parsed into a fresh tree, so
// the caller's document is never modified. Boilerplate regions and cookie
// banners are dropped, then <main>, <article> or a role=main region is
// preferred over <body>.
func FromHTML(input []byte) Document {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(input))
	if err != nil {
		return Document{}
	}
	title := strings.TrimSpace(doc.Find("head title").First().Text())

	doc.Find(boilerplate).Remove()
	doc.Find("body *").FilterFunction(func(_ int, s *goquery.Selection) bool {
		if len(s.Nodes) == 0 || !isBoilerplateContainer(s.Nodes[0]) {
			return false
		}
		// Never drop the primary content or a wrapper around it.
		return !s.Is(primaryContentSelector) && s.Has(primaryContentSelector).Length() == 0
	}).Remove()

	root := contentRoot(doc)
	if root == nil {
		return Document{Title: title}
	}
	return Document{Title: title, Text: tidy(markdown.Convert(root))}
}

// FromSelection converts an HTML fragment taken from the user's selection.
// The fragment is parsed into a detached <div> so nothing outside the
// selection can leak into the output.
func FromSelection(fragment string) Document {
	if strings.TrimSpace(fragment) == "" {
		return Document{}
	}
	container := &html.Node{Type: html.ElementNode, Data: "div", DataAtom: atom.Div}
	nodes, err := html.ParseFragment(strings.NewReader(fragment), container)
	if err != nil {
		return Document{}
	}
	for _, n := range nodes {
		container.AppendChild(n)
	}
	return Document{Text: tidy(markdown.Convert(container))}
}

func contentRoot(doc *goquery.Document) *html.Node {
	for _, sel := range primaryContent {
		if s := doc.Find(sel).First(); s.Length() > 0 {
			return s.Nodes[0]
		}
	}
	if s := doc.Find("body").First(); s.Length() > 0 {
		return s.Nodes[0]
	}
	if len(doc.Nodes) > 0 {
		return doc.Nodes[0]
	}
	return nil
}

// isBoilerplateContainer returns true if the element looks like a cookie/consent banner.
func isBoilerplateContainer(n *html.Node) bool {
	if n == nil || n.Type != html.ElementNode {
		return false
	}
	for _, attr := range n.Attr {
		key := strings.ToLower(attr.Key)
		if key != "id" && key != "class" && !strings.HasPrefix(key, "data-") && key != "aria-label" && key != "role" {
			continue
		}
		if containsAny(strings.ToLower(attr.Val), []string{"cookie", "consent", "gdpr"}) {
			return true
		}
	}
	return false
}

func containsAny(s string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(s, n) {
			return true
		}
	}
	return false
}

// tidy trims each line, collapses runs of spaces and blank lines and drops
// surrounding blank lines. Source indentation is not significant in HTML.
func tidy(s string) string {
	lines := strings.Split(s, "\n")
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			// Keep at most one consecutive blank
			if len(out) == 0 || out[len(out)-1] == "" {
				continue
			}
			out = append(out, "")
			continue
		}
		out = append(out, collapseSpaces(trimmed))
	}
	for len(out) > 0 && out[len(out)-1] == "" {
		out = out[:len(out)-1]
	}
	if len(out) == 0 {
		return ""
	}
	return strings.Join(out, "\n") + "\n"
}

func collapseSpaces(s string) string {
	var b strings.Builder
	lastSpace := false
	for _, r := range s {
		if r == ' ' || r == '\t' || r == '\r' {
			if !lastSpace {
				b.WriteByte(' ')
				lastSpace = true
			}
			continue
		}
		b.WriteRune(r)
		lastSpace = false
	}
	return b.String()
}
