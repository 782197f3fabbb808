package app

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/hyperifyio/tabscribe/internal/capture"
	"github.com/hyperifyio/tabscribe/internal/extract"
	"github.com/hyperifyio/tabscribe/internal/fetch"
	"github.com/hyperifyio/tabscribe/internal/ocr"
	"github.com/hyperifyio/tabscribe/internal/persist"
	"github.com/hyperifyio/tabscribe/internal/settings"
)

// App holds the clients shared by every action in a run.
type App struct {
	cfg      Config
	settings settings.Source
	pages    *fetch.Client
	ocr      *ocr.Client

	browserOnce sync.Once
	browser     *capture.Browser
	browserErr  error
}

// Summary counts what a batch run did.
type Summary struct {
	Inputs int
	Saved  int
	Empty  int
	Failed int
}

// New builds the shared clients. src supplies the per-action settings snapshot.
func New(cfg Config, src settings.Source) *App {
	hc := newHTTPClient(cfg.Jobs)
	ua := cfg.UserAgent
	if ua == "" {
		ua = UserAgent()
	}
	ocrFetch := fetch.New(
		fetch.WithHTTPClient(hc),
		fetch.WithUserAgent(ua),
		fetch.WithTimeout(cfg.OCRTimeout),
		fetch.WithRetries(cfg.OCRRetries),
		fetch.WithBackoff(cfg.OCRBackoff),
	)
	return &App{
		cfg:      cfg,
		settings: src,
		pages:    fetch.New(fetch.WithHTTPClient(hc), fetch.WithUserAgent(ua)),
		ocr:      ocr.NewClient(cfg.OCREndpoint, ocrFetch),
	}
}

// OCR returns the shared OCR client.
func (a *App) OCR() *ocr.Client { return a.ocr }

// Fetch returns the shared client used for pages and provider passthrough.
func (a *App) Fetch() *fetch.Client { return a.pages }

// Close stops the browser if one was started.
func (a *App) Close() {
	if a.browser != nil {
		a.browser.Close()
	}
}

// Processor returns a processor saving into dir.
func (a *App) Processor(dir string) Processor {
	return Processor{Settings: a.settings, OCR: a.ocr, Saver: persist.DirSaver{Dir: dir}}
}

// Run processes every input. Inputs are independent: one failing does not
// cancel the others. The returned error wraps ErrContentUnavailable when no
// input produced a file.
func (a *App) Run(ctx context.Context) (Summary, error) {
	inputs := ExpandInputs(a.cfg.Inputs)
	sum := Summary{Inputs: len(inputs)}
	if len(inputs) == 0 {
		return sum, ErrNoInputs
	}
	mode := capture.Page
	if a.cfg.Selection {
		mode = capture.Selection
	}

	var saved, empty, failed atomic.Int64
	var g errgroup.Group
	g.SetLimit(max(a.cfg.Jobs, 1))
	for _, in := range inputs {
		g.Go(func() error {
			switch err := a.processOne(ctx, in, mode); {
			case err == nil:
				saved.Add(1)
			case errors.Is(err, ErrContentUnavailable):
				empty.Add(1)
			default:
				failed.Add(1)
				log.Error().Err(err).Str("input", fetch.RedactURL(in)).Msg("input failed")
			}
			return nil
		})
	}
	_ = g.Wait()

	sum.Saved, sum.Empty, sum.Failed = int(saved.Load()), int(empty.Load()), int(failed.Load())
	log.Info().Int("inputs", sum.Inputs).Int("saved", sum.Saved).Int("empty", sum.Empty).Int("failed", sum.Failed).Msg("run finished")
	if sum.Saved == 0 {
		return sum, fmt.Errorf("%w: 0 of %d inputs saved", ErrContentUnavailable, sum.Inputs)
	}
	return sum, nil
}

func (a *App) processOne(ctx context.Context, input string, mode capture.Kind) error {
	tab, closeTab, err := a.open(ctx, input)
	if err != nil {
		return err
	}
	defer closeTab()
	_, err = a.Processor(a.outputDir(input)).Process(ctx, tab, mode)
	return err
}

// open turns an argument into a tab: URLs become HTTP or browser tabs,
// anything else a local file.
func (a *App) open(ctx context.Context, input string) (capture.Tab, func(), error) {
	if !IsURL(input) {
		return &capture.FileTab{Path: input, Extractor: extract.ByName(a.cfg.Extractor, nil)}, func() {}, nil
	}
	u, _ := url.Parse(input)
	ex := extract.ByName(a.cfg.Extractor, u)
	direct := &capture.HTTPTab{Address: input, Fetch: a.pages, Extractor: ex}
	if !a.cfg.Browser {
		return direct, func() {}, nil
	}
	b, err := a.startBrowser()
	if err != nil {
		log.Warn().Err(err).Msg("browser unavailable, fetching directly")
		return direct, func() {}, nil
	}
	tab, err := b.Open(ctx, input)
	if err != nil {
		log.Warn().Err(err).Str("url", fetch.RedactURL(input)).Msg("browser could not open page, fetching directly")
		return direct, func() {}, nil
	}
	tab.Selector = a.cfg.Selector
	tab.Extractor = ex
	tab.Origin = direct
	return tab, tab.Close, nil
}

func (a *App) startBrowser() (*capture.Browser, error) {
	a.browserOnce.Do(func() {
		a.browser, a.browserErr = capture.NewBrowser(capture.BrowserOptions{
			ChromePath: a.cfg.ChromePath,
			NoSandbox:  a.cfg.NoSandbox,
			Headless:   true,
		})
	})
	return a.browser, a.browserErr
}

// outputDir is -out when set, else the input's directory, else the working
// directory for URLs.
func (a *App) outputDir(input string) string {
	if a.cfg.OutputDir != "" {
		return a.cfg.OutputDir
	}
	if IsURL(input) {
		return "."
	}
	return filepath.Dir(input)
}

// IsURL reports whether s is an http(s) URL.
func IsURL(s string) bool {
	l := strings.ToLower(strings.TrimSpace(s))
	return strings.HasPrefix(l, "http://") || strings.HasPrefix(l, "https://")
}

// ExpandInputs globs file patterns, keeps URLs as they are and drops
// duplicates while preserving order. Patterns matching nothing are logged.
func ExpandInputs(args []string) []string {
	seen := map[string]bool{}
	var out []string
	add := func(s string) {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	for _, arg := range args {
		arg = strings.TrimSpace(arg)
		if arg == "" {
			continue
		}
		if IsURL(arg) {
			add(arg)
			continue
		}
		matches, err := filepath.Glob(arg)
		if err != nil {
			log.Warn().Err(err).Str("pattern", arg).Msg("bad pattern")
			continue
		}
		n := 0
		for _, m := range matches {
			if info, err := os.Stat(m); err == nil && info.Mode().IsRegular() {
				add(m)
				n++
			}
		}
		if n == 0 {
			log.Warn().Str("pattern", arg).Msg("no files found matching pattern")
		}
	}
	return out
}
