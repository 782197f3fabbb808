package capture

import (
	"context"
	"fmt"
	"net/url"
	"path"
	"strings"
	"sync"

	"github.com/hyperifyio/tabscribe/internal/extract"
	"github.com/hyperifyio/tabscribe/internal/fetch"
)

// HTTPTab is a URL fetched once through the resilient client. The body is
// reused for both extraction and OCR.
type HTTPTab struct {
	Address   string
	Fetch     *fetch.Client
	Extractor extract.Extractor

	once  sync.Once
	res   Resource
	err   error
	title string
}

func (h *HTTPTab) load(ctx context.Context) (Resource, error) {
	h.once.Do(func() {
		resp, err := h.Fetch.Get(ctx, h.Address, nil)
		if err != nil {
			h.err = err
			return
		}
		if !resp.OK() {
			h.err = fmt.Errorf("fetch %s: status %d", fetch.RedactURL(h.Address), resp.StatusCode)
			return
		}
		mt := resp.Header.Get("Content-Type")
		if mt == "" {
			mt = detectMIME(h.Address, resp.Body)
		}
		h.res = Resource{Data: resp.Body, MIME: mt, Name: path.Base(urlPath(h.Address))}
	})
	return h.res, h.err
}

// Title is the page <title> once the page has been extracted, else the
// last path segment or host.
func (h *HTTPTab) Title() string {
	if h.title != "" {
		return h.title
	}
	u, err := url.Parse(h.Address)
	if err != nil {
		return ""
	}
	if base := path.Base(u.Path); base != "/" && base != "." {
		return strings.TrimSuffix(base, path.Ext(base))
	}
	return u.Host
}

func (h *HTTPTab) URL() string { return h.Address }

// Extract converts HTML responses. A fetched document has no selection.
func (h *HTTPTab) Extract(ctx context.Context, kind Kind) (Capture, error) {
	c := Capture{URL: h.Address, Kind: kind}
	if kind == Selection {
		c.Title = h.Title()
		return c, nil
	}
	res, err := h.load(ctx)
	if err != nil {
		return c, err
	}
	if !isHTML(res.MIME, res.Name) {
		c.Title = h.Title()
		return c, nil
	}
	ex := h.Extractor
	if ex == nil {
		ex = extract.HeuristicExtractor{}
	}
	doc := ex.Extract(res.Data)
	if doc.Title != "" {
		h.title = doc.Title
	}
	c.Title = h.Title()
	c.Text = doc.Text
	return c, nil
}

func (h *HTTPTab) Resource(ctx context.Context) (Resource, error) {
	return h.load(ctx)
}

func urlPath(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	return u.Path
}
