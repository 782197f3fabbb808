// Package capture gets content out of a page: a local file, a URL or a live
// browser tab.
package capture

import (
	"context"
	"errors"
	"mime"
	"net/http"
	"path/filepath"
	"strings"
)

// Kind selects what to capture.
type Kind int

const (
	// Page captures the whole document.
	Page Kind = iota
	// Selection captures only the current selection.
	Selection
)

func (k Kind) String() string {
	if k == Selection {
		return "selection"
	}
	return "page"
}

// Capture is the text produced by one extraction.
type Capture struct {
	Text  string
	Title string
	URL   string
	Kind  Kind
}

// Resource is the raw document behind a tab, used for OCR.
type Resource struct {
	Data []byte
	MIME string
	Name string
}

// Tab is the content-capture port.
type Tab interface {
	Title() string
	URL() string
	Extract(ctx context.Context, kind Kind) (Capture, error)
	Resource(ctx context.Context) (Resource, error)
}

// ErrNotListening is returned when the page script is not installed.
var ErrNotListening = errors.New("capture: page script not listening")

// withReinjection runs call; if the page script is not listening, install
// is run and call is retried exactly once.
func withReinjection(ctx context.Context, call func(context.Context) (Capture, error), install func(context.Context) error) (Capture, error) {
	c, err := call(ctx)
	if !errors.Is(err, ErrNotListening) {
		return c, err
	}
	if err := install(ctx); err != nil {
		return Capture{}, err
	}
	return call(ctx)
}

// isHTML reports whether a media type or, failing that, a file name denotes HTML.
func isHTML(mediaType, name string) bool {
	if mt, _, err := mime.ParseMediaType(mediaType); err == nil {
		if mt == "text/html" || mt == "application/xhtml+xml" {
			return true
		}
		if mt != "" && mt != "application/octet-stream" && mt != "text/plain" {
			return false
		}
	}
	switch strings.ToLower(filepath.Ext(name)) {
	case ".html", ".htm", ".xhtml":
		return true
	}
	return false
}

// detectMIME prefers the extension, then content sniffing.
func detectMIME(name string, data []byte) string {
	if t := mime.TypeByExtension(strings.ToLower(filepath.Ext(name))); t != "" {
		return t
	}
	return http.DetectContentType(data)
}
