package capture

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/hyperifyio/tabscribe/internal/extract"
)

// FileTab is a local file. HTML files are converted directly; anything else
// yields empty text so the caller falls back to OCR on Resource.
type FileTab struct {
	Path      string
	Extractor extract.Extractor
}

// Title is the file name without its extension.
func (f *FileTab) Title() string {
	base := filepath.Base(f.Path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

func (f *FileTab) URL() string {
	abs, err := filepath.Abs(f.Path)
	if err != nil {
		return f.Path
	}
	return "file://" + filepath.ToSlash(abs)
}

// Extract converts the file when it is HTML. A file has no selection, so
// Selection always comes back empty.
func (f *FileTab) Extract(_ context.Context, kind Kind) (Capture, error) {
	c := Capture{Title: f.Title(), URL: f.URL(), Kind: kind}
	if kind == Selection {
		return c, nil
	}
	data, err := os.ReadFile(f.Path)
	if err != nil {
		return c, fmt.Errorf("read %s: %w", f.Path, err)
	}
	if !isHTML(detectMIME(f.Path, data), f.Path) {
		return c, nil
	}
	ex := f.Extractor
	if ex == nil {
		ex = extract.HeuristicExtractor{}
	}
	doc := ex.Extract(data)
	c.Text = doc.Text
	return c, nil
}

func (f *FileTab) Resource(_ context.Context) (Resource, error) {
	data, err := os.ReadFile(f.Path)
	if err != nil {
		return Resource{}, fmt.Errorf("read %s: %w", f.Path, err)
	}
	return Resource{Data: data, MIME: detectMIME(f.Path, data), Name: filepath.Base(f.Path)}, nil
}
