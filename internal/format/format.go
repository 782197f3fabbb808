// Package format turns captured Markdown into the bytes of the chosen output
// format.
package format

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/hyperifyio/tabscribe/internal/markdown"
	"github.com/hyperifyio/tabscribe/internal/settings"
)

// Meta describes where the content came from.
type Meta struct {
	Title  string
	URL    string
	Source string
}

// Result is the payload handed to persistence.
type Result struct {
	Content []byte
	Ext     string
	MIME    string
}

// Ext returns the file extension for f, dot included.
func Ext(f settings.Format) string {
	switch f {
	case settings.FormatText:
		return ".txt"
	case settings.FormatJSON:
		return ".json"
	case settings.FormatPDF:
		return ".pdf"
	}
	return ".md"
}

// MIME returns the media type for f.
func MIME(f settings.Format) string {
	switch f {
	case settings.FormatText:
		return "text/plain; charset=utf-8"
	case settings.FormatJSON:
		return "application/json"
	case settings.FormatPDF:
		return "application/pdf"
	}
	return "text/markdown; charset=utf-8"
}

// Render converts Markdown text into format f.
func Render(text string, f settings.Format, meta Meta) (Result, error) {
	res := Result{Ext: Ext(f), MIME: MIME(f)}
	switch f {
	case settings.FormatMarkdown, "":
		res.Content = []byte(text)
	case settings.FormatText:
		res.Content = []byte(markdown.ToPlain(text))
	case settings.FormatJSON:
		b, err := renderJSON(text, meta)
		if err != nil {
			return Result{}, err
		}
		res.Content = b
	case settings.FormatPDF:
		var buf bytes.Buffer
		if err := writeSimplePDF(text, meta.Title, &buf); err != nil {
			return Result{}, fmt.Errorf("render pdf: %w", err)
		}
		res.Content = buf.Bytes()
	default:
		return Result{}, fmt.Errorf("unsupported format %q", f)
	}
	return res, nil
}

// Data is the JSON document written for the json format.
type Data struct {
	Title    string    `json:"title,omitempty"`
	URL      string    `json:"url,omitempty"`
	Source   string    `json:"source,omitempty"`
	Format   string    `json:"format"`
	Content  string    `json:"content"`
	Sections []Section `json:"sections"`
}

func renderJSON(text string, meta Meta) ([]byte, error) {
	d := Data{
		Title:    meta.Title,
		URL:      meta.URL,
		Source:   meta.Source,
		Format:   "markdown",
		Content:  text,
		Sections: Sections(text),
	}
	b, err := json.MarshalIndent(d, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode json: %w", err)
	}
	return append(b, '\n'), nil
}
