package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/hyperifyio/tabscribe/internal/app"
	"github.com/hyperifyio/tabscribe/internal/diag"
	"github.com/hyperifyio/tabscribe/internal/ocr"
	"github.com/hyperifyio/tabscribe/internal/server"
	"github.com/hyperifyio/tabscribe/internal/settings"
)

const usage = `Usage: tabscribe [flags] <file pattern | url>...

Captures pages and documents as Markdown, text, JSON or PDF. Files that
cannot be parsed as HTML are sent to the OCR service.

Flags:
`

func main() {
	// Logging setup
	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	if err := app.LoadEnvFiles(".env", ".env.local"); err != nil {
		log.Warn().Err(err).Msg("dotenv load failed")
	}

	flag.Usage = func() {
		fmt.Fprint(flag.CommandLine.Output(), usage)
		flag.PrintDefaults()
	}
	cfg, showVersion, err := parseFlags(flag.CommandLine, os.Args[1:])
	if err != nil {
		os.Exit(1)
	}
	if showVersion {
		fmt.Println(app.VersionString())
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err = run(ctx, cfg, os.Stdout)
	if errors.Is(err, app.ErrNoInputs) && len(cfg.Inputs) == 0 {
		flag.Usage()
	}
	os.Exit(exitCode(err))
}

// parseFlags reads flags into a Config holding only what was set explicitly;
// env, the config file and defaults are layered in by loadConfig.
func parseFlags(fs *flag.FlagSet, args []string) (app.Config, bool, error) {
	var (
		cfg         app.Config
		format      string
		showVersion bool
	)
	fs.StringVar(&cfg.APIKey, "api-key", "", "OCR API key (or TABSCRIBE_API_KEY / MISTRAL_API_KEY)")
	fs.StringVar(&format, "format", "", "Output format: markdown, text, json or pdf (default markdown)")
	fs.StringVar(&cfg.Language, "lang", "", "Optional OCR language hint, e.g. 'en' or 'fi'")
	fs.StringVar(&cfg.Model, "model", "", "OCR model name (default "+ocr.DefaultModel+")")
	fs.StringVar(&cfg.ConfigPath, "config", "", "Settings file (default ~/"+settings.DefaultFileName+")")
	fs.StringVar(&cfg.OutputDir, "out", "", "Output directory (default: next to the input, or the working directory for URLs)")
	fs.BoolVar(&cfg.Selection, "selection", false, "Capture the selection, falling back to the whole page")
	fs.StringVar(&cfg.Selector, "selector", "", "CSS selector to select before a selection capture (browser mode)")
	fs.BoolVar(&cfg.Browser, "browser", false, "Render URLs in headless Chrome instead of fetching them")
	fs.StringVar(&cfg.ChromePath, "chrome", "", "Path to the Chrome executable")
	fs.BoolVar(&cfg.NoSandbox, "no-sandbox", false, "Run Chrome without its sandbox (containers)")
	fs.StringVar(&cfg.Extractor, "extractor", "", "HTML extractor: heuristic or readability (default heuristic)")
	fs.StringVar(&cfg.OCREndpoint, "ocr.endpoint", "", "OCR endpoint (default "+ocr.DefaultEndpoint+")")
	fs.DurationVar(&cfg.OCRTimeout, "ocr.timeout", 0, "Per-attempt OCR timeout, at most 15s (default 15s)")
	fs.IntVar(&cfg.OCRRetries, "ocr.retries", -1, "OCR retries after the first attempt; negative uses the default of 2")
	fs.DurationVar(&cfg.OCRBackoff, "ocr.backoff", 0, "Base OCR retry backoff, doubled per attempt (default 500ms)")
	fs.IntVar(&cfg.Jobs, "jobs", 0, "Inputs processed in parallel (default 1)")
	fs.BoolVar(&cfg.SaveKey, "save-key", false, "Store -api-key in the settings file")
	fs.BoolVar(&cfg.SelfTest, "selftest", false, "Check that the OCR provider accepts the API key")
	fs.StringVar(&cfg.ServeAddr, "serve", "", "Run the OCR proxy on this address, e.g. 127.0.0.1:5000")
	fs.BoolVar(&cfg.Verbose, "v", false, "Verbose logging")
	fs.BoolVar(&showVersion, "version", false, "Print version and exit")
	if err := fs.Parse(args); err != nil {
		return cfg, false, err
	}
	if format != "" {
		f, err := settings.ParseFormat(format)
		if err != nil {
			fmt.Fprintln(fs.Output(), err)
			return cfg, false, err
		}
		cfg.Format = f
	}
	cfg.Inputs = fs.Args()
	return cfg, showVersion, nil
}

// loadConfig layers env over the settings file and applies defaults. The
// returned overlay carries the values that must win over later edits to the
// file.
func loadConfig(cfg app.Config) (app.Config, *settings.FileStore, settings.Settings, error) {
	app.ApplyEnvToConfig(&cfg)
	overlay := settings.Settings{
		APIKey:       cfg.APIKey,
		Model:        cfg.Model,
		Language:     cfg.Language,
		OutputFormat: cfg.Format,
		Debug:        cfg.Verbose,
	}

	store := settings.NewFileStore(cfg.ConfigPath)
	if err := store.EnsureTemplate(); err != nil {
		log.Warn().Err(err).Str("path", store.Path).Msg("could not create settings file")
	}
	fc, err := app.LoadConfigFile(store.Path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return cfg, nil, overlay, fmt.Errorf("config %s: %w", store.Path, err)
	default:
		app.ApplyFileConfig(&cfg, fc)
	}
	app.ApplyDefaults(&cfg)
	return cfg, store, overlay, nil
}

func setLogLevel(debug bool) {
	if debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}

func run(ctx context.Context, flags app.Config, stdout io.Writer) error {
	cfg, store, overlay, err := loadConfig(flags)
	if err != nil {
		return usageError{err}
	}
	if err := app.ValidateConfig(cfg); err != nil {
		return usageError{err}
	}
	setLogLevel(cfg.Verbose)
	// flip the level live when the settings file changes
	unsubscribe := store.Subscribe(func(st settings.Settings) {
		setLogLevel(st.Debug || overlay.Debug)
	})
	defer unsubscribe()

	if cfg.SaveKey {
		st, err := store.Load()
		if err != nil {
			return usageError{err}
		}
		st.APIKey = cfg.APIKey
		if err := store.Save(st); err != nil {
			return fmt.Errorf("save api key: %w", err)
		}
		log.Info().Str("path", store.Path).Msg("api key saved")
	}

	if cfg.SelfTest {
		rep := diag.SelfTest(ctx, diag.Options{APIKey: cfg.APIKey, Endpoint: cfg.OCREndpoint, Model: cfg.Model})
		fmt.Fprintf(stdout, "provider: %s\nstatus:   %s\nmodels:   %d\n", rep.BaseURL, rep.Status, rep.Models)
		if rep.OK() && !rep.ModelAvailable {
			log.Warn().Str("model", cfg.Model).Msg("configured model not listed by provider")
		}
		if err := rep.Error(); err != nil {
			return err
		}
	}

	src := settings.Overlay{Base: store, Over: overlay}
	a := app.New(cfg, src)
	defer a.Close()

	if cfg.ServeAddr != "" {
		go store.Watch(ctx, 2*time.Second)
		srv := server.New(server.Options{
			OCR: a.OCR(),
			Check: func(ctx context.Context, key string) diag.Report {
				return diag.SelfTest(ctx, diag.Options{APIKey: key, Endpoint: cfg.OCREndpoint, Model: cfg.Model})
			},
			Model:     cfg.Model,
			Language:  cfg.Language,
			ModelsURL: diag.BaseURL(cfg.OCREndpoint) + "/models",
			Fetch:     a.Fetch(),
			RateLimit: cfg.RateLimit,
			RateBurst: cfg.RateBurst,
		})
		return srv.ListenAndServe(ctx, cfg.ServeAddr)
	}

	if len(cfg.Inputs) == 0 {
		return nil
	}
	_, err = a.Run(ctx)
	return err
}

// usageError marks configuration problems (exit code 1).
type usageError struct{ err error }

func (u usageError) Error() string { return u.err.Error() }
func (u usageError) Unwrap() error { return u.err }

// exitCode maps run errors to the process exit status: 2 when no input
// produced content, 1 for configuration and other failures.
func exitCode(err error) int {
	var ue usageError
	switch {
	case err == nil:
		return 0
	case errors.As(err, &ue):
		log.Error().Err(err).Msg("invalid configuration")
		return 1
	case errors.Is(err, app.ErrContentUnavailable), errors.Is(err, app.ErrNoInputs):
		log.Error().Err(err).Msg("nothing captured")
		return 2
	default:
		log.Error().Err(err).Msg("run failed")
		return 1
	}
}
