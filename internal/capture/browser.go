package capture

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"github.com/rs/zerolog/log"

	"github.com/hyperifyio/tabscribe/internal/extract"
	"github.com/hyperifyio/tabscribe/internal/fetch"
)

// pageScript installs the in-page responder. It answers page() and
// selection() with the markup to convert and select(css) highlights an
// element so the next selection capture covers it.
const pageScript = `(function () {
  if (window.__tabscribe) { return true; }
  window.__tabscribe = {
    page: function () {
      return { ok: true, html: document.documentElement.outerHTML, title: document.title };
    },
    selection: function () {
      var s = window.getSelection();
      if (!s || s.rangeCount === 0 || s.isCollapsed) { return { ok: true, html: "", title: document.title }; }
      var box = document.createElement("div");
      for (var i = 0; i < s.rangeCount; i++) { box.appendChild(s.getRangeAt(i).cloneContents()); }
      return { ok: true, html: box.innerHTML, title: document.title };
    },
    select: function (css) {
      var el = document.querySelector(css);
      if (!el) { return false; }
      var r = document.createRange();
      r.selectNodeContents(el);
      var s = window.getSelection();
      s.removeAllRanges();
      s.addRange(r);
      return true;
    }
  };
  return true;
})()`

type scriptReply struct {
	OK    bool   `json:"ok"`
	HTML  string `json:"html"`
	Title string `json:"title"`
}

// BrowserOptions configures the headless browser.
type BrowserOptions struct {
	ChromePath string
	NoSandbox  bool
	Headless   bool
}

// Browser owns one Chrome process. Tabs opened from it share the process.
type Browser struct {
	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc

	mu     sync.Mutex
	closed bool
}

// NewBrowser starts Chrome eagerly so launch failures surface here.
func NewBrowser(opts BrowserOptions) (*Browser, error) {
	allocOpts := append(
		chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-extensions", true),
		chromedp.Flag("no-first-run", true),
		chromedp.Flag("headless", opts.Headless),
	)
	if opts.ChromePath != "" {
		allocOpts = append(allocOpts, chromedp.ExecPath(opts.ChromePath))
	}
	if opts.NoSandbox {
		allocOpts = append(allocOpts, chromedp.Flag("no-sandbox", true))
	}
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), allocOpts...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)
	if err := chromedp.Run(browserCtx); err != nil {
		browserCancel()
		allocCancel()
		return nil, fmt.Errorf("start browser: %w", err)
	}
	return &Browser{allocCancel: allocCancel, browserCtx: browserCtx, browserCancel: browserCancel}, nil
}

// Close stops the browser. It is safe to call more than once.
func (b *Browser) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	b.browserCancel()
	b.allocCancel()
}

// Open navigates a new tab to address and waits for the body.
func (b *Browser) Open(ctx context.Context, address string) (*BrowserTab, error) {
	tabCtx, tabCancel := chromedp.NewContext(b.browserCtx)
	t := &BrowserTab{address: address, tabCtx: tabCtx, cancel: tabCancel}
	err := t.run(ctx,
		chromedp.Navigate(address),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Title(&t.title),
	)
	if err != nil {
		tabCancel()
		return nil, fmt.Errorf("open %s: %w", address, err)
	}
	return t, nil
}

// BrowserTab is a live page in the browser.
type BrowserTab struct {
	// Selector, when set, is selected before a selection capture.
	Selector  string
	Extractor extract.Extractor
	// Origin, when set, supplies the original bytes behind the page for OCR.
	Origin *HTTPTab

	address string
	title   string
	tabCtx  context.Context
	cancel  context.CancelFunc
}

// Close closes the tab.
func (t *BrowserTab) Close() { t.cancel() }

func (t *BrowserTab) Title() string { return t.title }
func (t *BrowserTab) URL() string   { return t.address }

// run executes actions on the tab while honouring ctx cancellation.
func (t *BrowserTab) run(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := context.WithCancel(t.tabCtx)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()
	err := chromedp.Run(runCtx, actions...)
	if err != nil && ctx.Err() != nil {
		return errors.Join(ctx.Err(), err)
	}
	return err
}

func (t *BrowserTab) install(ctx context.Context) error {
	var ok bool
	if err := t.run(ctx, chromedp.Evaluate(pageScript, &ok)); err != nil {
		return fmt.Errorf("inject page script: %w", err)
	}
	log.Debug().Str("url", t.address).Msg("page script injected")
	return nil
}

func (t *BrowserTab) request(kind Kind) string {
	call := "window.__tabscribe.page()"
	if kind == Selection {
		call = "window.__tabscribe.selection()"
		if t.Selector != "" {
			sel, _ := json.Marshal(t.Selector)
			call = fmt.Sprintf("(window.__tabscribe.select(%s), window.__tabscribe.selection())", sel)
		}
	}
	return "window.__tabscribe ? " + call + " : {ok: false}"
}

func (t *BrowserTab) ask(kind Kind) func(context.Context) (Capture, error) {
	return func(ctx context.Context) (Capture, error) {
		var reply scriptReply
		if err := t.run(ctx, chromedp.Evaluate(t.request(kind), &reply)); err != nil {
			return Capture{}, fmt.Errorf("evaluate %s request: %w", kind, err)
		}
		if !reply.OK {
			return Capture{}, ErrNotListening
		}
		if reply.Title != "" {
			t.title = reply.Title
		}
		c := Capture{Title: t.title, URL: t.address, Kind: kind}
		switch {
		case reply.HTML == "":
		case kind == Selection:
			c.Text = extract.FromSelection(reply.HTML).Text
		default:
			ex := t.Extractor
			if ex == nil {
				ex = extract.HeuristicExtractor{}
			}
			c.Text = ex.Extract([]byte(reply.HTML)).Text
		}
		return c, nil
	}
}

// Extract asks the page script for content, injecting it once when the
// page does not answer.
func (t *BrowserTab) Extract(ctx context.Context, kind Kind) (Capture, error) {
	return withReinjection(ctx, t.ask(kind), t.install)
}

// Resource returns the original bytes at the tab's address. The rendered
// page is printed to PDF only when there is no origin or it cannot be
// fetched.
func (t *BrowserTab) Resource(ctx context.Context) (Resource, error) {
	if t.Origin != nil {
		res, err := t.Origin.Resource(ctx)
		if err == nil {
			return res, nil
		}
		log.Warn().Err(err).Str("url", fetch.RedactURL(t.address)).Msg("origin fetch failed, printing page")
	}
	var buf []byte
	err := t.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		var err error
		buf, _, err = page.PrintToPDF().WithPrintBackground(true).Do(ctx)
		return err
	}))
	if err != nil {
		return Resource{}, fmt.Errorf("print %s: %w", t.address, err)
	}
	return Resource{Data: buf, MIME: "application/pdf", Name: "page.pdf"}, nil
}
