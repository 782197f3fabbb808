package app

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hyperifyio/tabscribe/internal/capture"
	"github.com/hyperifyio/tabscribe/internal/ocr"
	"github.com/hyperifyio/tabscribe/internal/settings"
)

type fakeTab struct {
	title     string
	page      string
	selection string
	resource  capture.Resource
	pageErr   error

	extractCalls []capture.Kind
}

func (f *fakeTab) Title() string { return f.title }
func (f *fakeTab) URL() string   { return "https://example.com/page?token=secret" }
func (f *fakeTab) Extract(_ context.Context, kind capture.Kind) (capture.Capture, error) {
	f.extractCalls = append(f.extractCalls, kind)
	c := capture.Capture{Title: f.title, URL: f.URL(), Kind: kind}
	if kind == capture.Selection {
		c.Text = f.selection
		return c, nil
	}
	c.Text = f.page
	return c, f.pageErr
}
func (f *fakeTab) Resource(context.Context) (capture.Resource, error) { return f.resource, nil }

type fakeOCR struct {
	text  string
	err   error
	calls []ocr.Input
}

func (f *fakeOCR) Recognize(_ context.Context, in ocr.Input) (ocr.Result, error) {
	f.calls = append(f.calls, in)
	if f.err != nil {
		return ocr.Result{}, f.err
	}
	return ocr.Result{Text: f.text, Pages: 1}, nil
}

type memSaver struct {
	mu    sync.Mutex
	files map[string][]byte
	mimes map[string]string
}

func (m *memSaver) Save(_ context.Context, content []byte, filename, mime string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.files == nil {
		m.files = map[string][]byte{}
		m.mimes = map[string]string{}
	}
	m.files[filename] = append([]byte(nil), content...)
	m.mimes[filename] = mime
	return "/mem/" + filename, nil
}

type countingSource struct {
	st    settings.Settings
	loads int
}

func (c *countingSource) Load() (settings.Settings, error) {
	c.loads++
	return c.st.Normalized(), nil
}

func TestProcess_DOMContentSavedAsMarkdown(t *testing.T) {
	tab := &fakeTab{title: "My Page", page: "# Title\n\nSome **bold** text.\n"}
	o := &fakeOCR{text: "unused"}
	saver := &memSaver{}
	src := &countingSource{st: settings.Settings{APIKey: "k"}}
	out, err := Processor{Settings: src, OCR: o, Saver: saver}.Process(context.Background(), tab, capture.Page)
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if out.Source != SourceDOM || out.Path != "/mem/My_Page.md" || out.Format != settings.FormatMarkdown {
		t.Fatalf("unexpected outcome: %+v", out)
	}
	if string(saver.files["My_Page.md"]) != tab.page {
		t.Fatalf("content changed: %q", saver.files["My_Page.md"])
	}
	if len(o.calls) != 0 {
		t.Fatalf("ocr must not run when the page had text")
	}
	if src.loads != 1 {
		t.Fatalf("settings should be read once per action, got %d", src.loads)
	}
	if out.ActionID == "" {
		t.Fatalf("missing action id")
	}
}

func TestProcess_OCRFallbackInvokedOnce(t *testing.T) {
	tab := &fakeTab{title: "scan", resource: capture.Resource{Data: []byte("%PDF"), MIME: "application/pdf"}}
	o := &fakeOCR{text: "# Scanned\n\nHello"}
	saver := &memSaver{}
	st := settings.Settings{APIKey: "k", Model: "m", Language: "fi", OutputFormat: settings.FormatText}
	out, err := Processor{Settings: settings.Static(st), OCR: o, Saver: saver}.Process(context.Background(), tab, capture.Page)
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if len(o.calls) != 1 {
		t.Fatalf("ocr should run exactly once, ran %d", len(o.calls))
	}
	in := o.calls[0]
	if in.APIKey != "k" || in.Model != "m" || in.Language != "fi" || in.MIME != "application/pdf" {
		t.Fatalf("unexpected ocr input: %+v", in)
	}
	if out.Source != SourceOCR {
		t.Fatalf("source: %q", out.Source)
	}
	got := string(saver.files["scan.txt"])
	if got != "Scanned\n\nHello" {
		t.Fatalf("plain conversion: %q", got)
	}
}

func TestProcess_SelectionFallbackMatchesPage(t *testing.T) {
	page := "# Heading\n\nBody\n"
	selTab := &fakeTab{title: "t", page: page}
	pageTab := &fakeTab{title: "t", page: page}
	s1, s2 := &memSaver{}, &memSaver{}
	src := settings.Static(settings.Settings{})
	if _, err := (Processor{Settings: src, Saver: s1}).Process(context.Background(), selTab, capture.Selection); err != nil {
		t.Fatalf("selection: %v", err)
	}
	if _, err := (Processor{Settings: src, Saver: s2}).Process(context.Background(), pageTab, capture.Page); err != nil {
		t.Fatalf("page: %v", err)
	}
	if string(s1.files["t.md"]) != string(s2.files["t.md"]) {
		t.Fatalf("fallback differs: %q vs %q", s1.files["t.md"], s2.files["t.md"])
	}
	if len(selTab.extractCalls) != 2 || selTab.extractCalls[0] != capture.Selection || selTab.extractCalls[1] != capture.Page {
		t.Fatalf("unexpected extract calls: %v", selTab.extractCalls)
	}
}

func TestProcess_SelectionUsedWhenPresent(t *testing.T) {
	tab := &fakeTab{title: "t", page: "whole page", selection: "just this"}
	saver := &memSaver{}
	if _, err := (Processor{Settings: settings.Static{}, Saver: saver}).Process(context.Background(), tab, capture.Selection); err != nil {
		t.Fatalf("process: %v", err)
	}
	if string(saver.files["t.md"]) != "just this" || len(tab.extractCalls) != 1 {
		t.Fatalf("got %q calls %v", saver.files["t.md"], tab.extractCalls)
	}
}

func TestProcess_NothingAnywhereWritesNoFile(t *testing.T) {
	tab := &fakeTab{title: "blank", page: "  \n", resource: capture.Resource{Data: []byte{1, 2}, MIME: "image/png"}}
	o := &fakeOCR{err: errors.New("upstream 500")}
	saver := &memSaver{}
	_, err := Processor{Settings: settings.Static{APIKey: "k"}, OCR: o, Saver: saver}.Process(context.Background(), tab, capture.Selection)
	if !errors.Is(err, ErrContentUnavailable) {
		t.Fatalf("expected ErrContentUnavailable, got %v", err)
	}
	if len(saver.files) != 0 {
		t.Fatalf("no file should be written")
	}
	if len(o.calls) != 1 {
		t.Fatalf("ocr should be tried once, got %d", len(o.calls))
	}
}

func TestProcess_BlankOCRTextWritesNoFile(t *testing.T) {
	tab := &fakeTab{title: "blank", resource: capture.Resource{Data: []byte{1, 2}, MIME: "image/png"}}
	o := &fakeOCR{text: " \n\t "}
	saver := &memSaver{}
	_, err := Processor{Settings: settings.Static{APIKey: "k"}, OCR: o, Saver: saver}.Process(context.Background(), tab, capture.Page)
	if !errors.Is(err, ErrContentUnavailable) {
		t.Fatalf("expected ErrContentUnavailable, got %v", err)
	}
	if len(o.calls) != 1 {
		t.Fatalf("ocr should be tried once, got %d", len(o.calls))
	}
	if len(saver.files) != 0 {
		t.Fatalf("no file should be written, got %v", saver.files)
	}
}

func TestProcess_ExtractionErrorIsDowngraded(t *testing.T) {
	tab := &fakeTab{title: "x", pageErr: errors.New("read failed"), resource: capture.Resource{Data: []byte("img"), MIME: "image/jpeg"}}
	o := &fakeOCR{text: "from ocr"}
	saver := &memSaver{}
	out, err := Processor{Settings: settings.Static{APIKey: "k"}, OCR: o, Saver: saver}.Process(context.Background(), tab, capture.Page)
	if err != nil || out.Source != SourceOCR {
		t.Fatalf("expected ocr fallback after extraction error: %+v %v", out, err)
	}
}

func TestProcess_JSONFormat(t *testing.T) {
	tab := &fakeTab{title: "Doc", page: "# A\n\none\n"}
	saver := &memSaver{}
	_, err := Processor{Settings: settings.Static{OutputFormat: settings.FormatJSON}, Saver: saver}.Process(context.Background(), tab, capture.Page)
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	body := string(saver.files["Doc.json"])
	if !strings.Contains(body, `"source": "dom"`) && !strings.Contains(body, `"source":"dom"`) {
		t.Fatalf("json missing source: %s", body)
	}
	if saver.mimes["Doc.json"] != "application/json" {
		t.Fatalf("mime: %q", saver.mimes["Doc.json"])
	}
}

// ocrStub answers like the remote service with one markdown page.
func ocrStub(t *testing.T, calls *int) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*calls++
		if r.Header.Get("Authorization") != "Bearer test-key" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"pages":[{"index":0,"markdown":"# Scanned page"}],"usage_info":{"pages_processed":1}}`))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestRun_BatchWritesNextToInputs(t *testing.T) {
	var calls int
	srv := ocrStub(t, &calls)
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "article.html"), []byte(`<html><body><main><h1>Hello</h1><p>World</p></main></body></html>`), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "scan.pdf"), []byte("%PDF-1.4 fake"), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg := Config{Inputs: []string{filepath.Join(dir, "*.html"), filepath.Join(dir, "*.pdf")}, OCREndpoint: srv.URL + "/v1/ocr", OCRRetries: -1, Jobs: 2}
	ApplyDefaults(&cfg)
	cfg.OCRTimeout = 2 * time.Second
	a := New(cfg, settings.Static{APIKey: "test-key"})
	defer a.Close()
	sum, err := a.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if sum.Inputs != 2 || sum.Saved != 2 {
		t.Fatalf("unexpected summary: %+v", sum)
	}
	md, err := os.ReadFile(filepath.Join(dir, "article.md"))
	if err != nil || !strings.Contains(string(md), "# Hello") {
		t.Fatalf("article.md: %q %v", md, err)
	}
	scan, err := os.ReadFile(filepath.Join(dir, "scan.md"))
	if err != nil || !strings.Contains(string(scan), "Scanned page") {
		t.Fatalf("scan.md: %q %v", scan, err)
	}
	if calls != 1 {
		t.Fatalf("ocr should be called once (for the pdf), got %d", calls)
	}
}

func TestRun_NothingSavedIsContentUnavailable(t *testing.T) {
	var calls int
	srv := ocrStub(t, &calls)
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "scan.png"), []byte{0x89, 'P', 'N', 'G'}, 0o644); err != nil {
		t.Fatal(err)
	}
	cfg := Config{Inputs: []string{filepath.Join(dir, "*.png")}, OCREndpoint: srv.URL, OCRRetries: 0}
	ApplyDefaults(&cfg)
	a := New(cfg, settings.Static{APIKey: "wrong"})
	sum, err := a.Run(context.Background())
	if !errors.Is(err, ErrContentUnavailable) {
		t.Fatalf("expected ErrContentUnavailable, got %v", err)
	}
	if sum.Empty != 1 || sum.Saved != 0 {
		t.Fatalf("unexpected summary: %+v", sum)
	}
	if _, err := os.Stat(filepath.Join(dir, "scan.md")); !os.IsNotExist(err) {
		t.Fatalf("no file should be written")
	}
}

func TestRun_BrowserUnavailableFetchesDirectly(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(`<html><head><title>Remote</title></head><body><article><p>Fetched without a browser</p></article></body></html>`))
	}))
	defer srv.Close()
	out := t.TempDir()
	cfg := Config{
		Inputs:     []string{srv.URL + "/story"},
		OutputDir:  out,
		Browser:    true,
		ChromePath: filepath.Join(t.TempDir(), "no-such-chrome"),
		OCRRetries: -1,
	}
	ApplyDefaults(&cfg)
	a := New(cfg, settings.Static{})
	defer a.Close()
	sum, err := a.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if sum.Saved != 1 {
		t.Fatalf("unexpected summary: %+v", sum)
	}
	md, err := os.ReadFile(filepath.Join(out, "Remote.md"))
	if err != nil || !strings.Contains(string(md), "Fetched without a browser") {
		t.Fatalf("Remote.md: %q %v", md, err)
	}
}

func TestRun_NoInputs(t *testing.T) {
	a := New(Config{Inputs: []string{filepath.Join(t.TempDir(), "*.nothing")}, OCRRetries: -1}, settings.Static{})
	if _, err := a.Run(context.Background()); !errors.Is(err, ErrNoInputs) {
		t.Fatalf("expected ErrNoInputs, got %v", err)
	}
}

func TestExpandInputs(t *testing.T) {
	dir := t.TempDir()
	for _, n := range []string{"a.pdf", "b.pdf", "c.png"} {
		if err := os.WriteFile(filepath.Join(dir, n), []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.Mkdir(filepath.Join(dir, "d.pdf"), 0o755); err != nil {
		t.Fatal(err)
	}
	got := ExpandInputs([]string{filepath.Join(dir, "*.pdf"), filepath.Join(dir, "a.pdf"), "https://example.com/x", "HTTP://EXAMPLE.com/y"})
	want := []string{filepath.Join(dir, "a.pdf"), filepath.Join(dir, "b.pdf"), "https://example.com/x", "HTTP://EXAMPLE.com/y"}
	if strings.Join(got, "|") != strings.Join(want, "|") {
		t.Fatalf("got %v want %v", got, want)
	}
}
