package format

import (
	"bytes"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

// Section is a heading and the Markdown between it and the next heading.
// Text before the first heading becomes a level 0 section with no heading.
type Section struct {
	Level   int    `json:"level"`
	Heading string `json:"heading,omitempty"`
	Body    string `json:"body"`
}

type headingMark struct {
	level     int
	title     string
	lineStart int
	bodyStart int
}

// Sections splits Markdown at its top-level headings.
func Sections(md string) []Section {
	src := []byte(md)
	doc := goldmark.New().Parser().Parse(text.NewReader(src))

	var marks []headingMark
	for n := doc.FirstChild(); n != nil; n = n.NextSibling() {
		h, ok := n.(*ast.Heading)
		if !ok || h.Lines().Len() == 0 {
			continue
		}
		seg := h.Lines().At(0)
		lineStart := bytes.LastIndexByte(src[:seg.Start], '\n') + 1
		bodyStart := len(src)
		if i := bytes.IndexByte(src[seg.Stop:], '\n'); i >= 0 {
			bodyStart = seg.Stop + i + 1
		}
		marks = append(marks, headingMark{
			level:     h.Level,
			title:     strings.TrimSpace(string(seg.Value(src))),
			lineStart: lineStart,
			bodyStart: bodyStart,
		})
	}

	sections := make([]Section, 0, len(marks)+1)
	end := len(src)
	if len(marks) > 0 {
		end = marks[0].lineStart
	}
	if pre := strings.TrimSpace(string(src[:end])); pre != "" {
		sections = append(sections, Section{Body: pre})
	}
	for i, m := range marks {
		stop := len(src)
		if i+1 < len(marks) {
			stop = marks[i+1].lineStart
		}
		body := ""
		if m.bodyStart < stop {
			body = strings.TrimSpace(string(src[m.bodyStart:stop]))
		}
		sections = append(sections, Section{Level: m.level, Heading: m.title, Body: body})
	}
	return sections
}
