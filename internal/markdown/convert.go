// Package markdown renders HTML node trees as lightweight Markdown and strips
// that Markdown back down to plain text.
package markdown

import (
	"strings"

	"golang.org/x/net/html"
)

// Convert renders the subtree rooted at n as Markdown. The traversal is
// depth-first; each element's children are converted before the element's own
// formatting is applied, so nested inline markup composes. Unknown elements
// pass their children through unchanged. Convert has no side effects and
// returns the same string for the same tree.
func Convert(n *html.Node) string {
	if n == nil {
		return ""
	}
	var b strings.Builder
	write(&b, n)
	return b.String()
}

func write(b *strings.Builder, n *html.Node) {
	switch n.Type {
	case html.TextNode:
		b.WriteString(n.Data)
	case html.DocumentNode:
		writeChildren(b, n)
	case html.ElementNode:
		writeElement(b, n)
	}
	// comments, doctypes and raw nodes carry no content
}

func writeChildren(b *strings.Builder, n *html.Node) {
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		write(b, c)
	}
}

func children(n *html.Node) string {
	var b strings.Builder
	writeChildren(&b, n)
	return b.String()
}

func writeElement(b *strings.Builder, n *html.Node) {
	switch strings.ToLower(n.Data) {
	case "h1":
		b.WriteString("# " + children(n) + "\n\n")
	case "h2":
		b.WriteString("## " + children(n) + "\n\n")
	case "h3":
		b.WriteString("### " + children(n) + "\n\n")
	case "b", "strong":
		b.WriteString("**" + children(n) + "**")
	case "i", "em":
		b.WriteString("*" + children(n) + "*")
	case "p":
		b.WriteString(children(n) + "\n\n")
	case "br":
		b.WriteString("\n")
	case "li":
		b.WriteString("- " + children(n) + "\n")
	case "ul", "ol":
		b.WriteString("\n" + children(n) + "\n")
	case "a":
		b.WriteString("[" + children(n) + "](" + attr(n, "href") + ")")
	case "img":
		b.WriteString("![" + attr(n, "alt") + "](" + attr(n, "src") + ")")
	default:
		writeChildren(b, n)
	}
}

// attr returns the value of the named attribute, or "" when it is absent.
func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Namespace == "" && strings.EqualFold(a.Key, key) {
			return a.Val
		}
	}
	return ""
}
