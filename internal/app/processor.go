// Package app wires capture, OCR, formatting and persistence into single
// capture actions and the batch runner behind the command line tool.
package app

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/hyperifyio/tabscribe/internal/capture"
	"github.com/hyperifyio/tabscribe/internal/fetch"
	"github.com/hyperifyio/tabscribe/internal/format"
	"github.com/hyperifyio/tabscribe/internal/ocr"
	"github.com/hyperifyio/tabscribe/internal/persist"
	"github.com/hyperifyio/tabscribe/internal/settings"
)

var (
	// ErrContentUnavailable means neither extraction nor OCR produced text.
	// No file is written in that case.
	ErrContentUnavailable = errors.New("no content could be captured")
	// ErrNoInputs is returned when no argument resolved to a file or URL.
	ErrNoInputs = errors.New("no input files or URLs")
)

const (
	SourceDOM = "dom"
	SourceOCR = "ocr"
)

// Recognizer is the OCR port.
type Recognizer interface {
	Recognize(ctx context.Context, in ocr.Input) (ocr.Result, error)
}

// Outcome describes one finished action.
type Outcome struct {
	ActionID string
	Path     string
	Source   string
	Format   settings.Format
	Bytes    int
}

// Processor runs one capture action per call. It holds no per-action state.
type Processor struct {
	Settings settings.Source
	OCR      Recognizer
	Saver    persist.Saver
}

// Process captures tab in mode, falls back to OCR once when nothing was
// extracted, converts to the configured format and saves the result.
func (p Processor) Process(ctx context.Context, tab capture.Tab, mode capture.Kind) (Outcome, error) {
	out := Outcome{ActionID: uuid.NewString()}
	logger := log.With().Str("action", out.ActionID).Str("url", fetch.RedactURL(tab.URL())).Logger()

	st := settings.Defaults()
	if p.Settings != nil {
		loaded, err := p.Settings.Load()
		if err != nil {
			logger.Warn().Err(err).Msg("settings unavailable; using defaults")
		} else {
			st = loaded
		}
	}
	out.Format = st.OutputFormat

	c := p.extract(ctx, tab, mode, logger)
	text, source := c.Text, SourceDOM
	if strings.TrimSpace(text) == "" {
		text, source = p.recognize(ctx, tab, st, logger), SourceOCR
	}
	if strings.TrimSpace(text) == "" {
		logger.Warn().Msg("no content extracted")
		return out, ErrContentUnavailable
	}
	out.Source = source

	title := strings.TrimSpace(c.Title)
	if title == "" {
		title = tab.Title()
	}
	res, err := format.Render(text, st.OutputFormat, format.Meta{Title: title, URL: tab.URL(), Source: source})
	if err != nil {
		return out, fmt.Errorf("convert: %w", err)
	}
	if len(bytes.TrimSpace(res.Content)) == 0 {
		logger.Warn().Str("format", string(st.OutputFormat)).Msg("conversion left nothing to save")
		return out, ErrContentUnavailable
	}
	if p.Saver == nil {
		return out, errors.New("no saver configured")
	}
	path, err := p.Saver.Save(ctx, res.Content, persist.Filename(title, res.Ext), res.MIME)
	if err != nil {
		return out, fmt.Errorf("save: %w", err)
	}
	out.Path = path
	out.Bytes = len(res.Content)
	logger.Info().Str("path", path).Str("source", source).Str("format", string(st.OutputFormat)).Int("bytes", out.Bytes).Msg("saved")
	return out, nil
}

// extract never fails: errors are logged and treated as no content.
func (p Processor) extract(ctx context.Context, tab capture.Tab, mode capture.Kind, logger zerolog.Logger) capture.Capture {
	if mode == capture.Selection {
		c, err := tab.Extract(ctx, capture.Selection)
		if err != nil {
			logger.Warn().Err(err).Msg("selection extraction failed")
		}
		if strings.TrimSpace(c.Text) != "" {
			return c
		}
		logger.Debug().Msg("selection empty; capturing whole page")
	}
	c, err := tab.Extract(ctx, capture.Page)
	if err != nil {
		logger.Warn().Err(err).Msg("page extraction failed")
		return capture.Capture{}
	}
	return c
}

// recognize runs the OCR fallback exactly once and returns "" on any failure.
func (p Processor) recognize(ctx context.Context, tab capture.Tab, st settings.Settings, logger zerolog.Logger) string {
	if p.OCR == nil {
		return ""
	}
	res, err := tab.Resource(ctx)
	if err != nil {
		logger.Warn().Err(err).Msg("resource unavailable for ocr")
		return ""
	}
	if len(res.Data) == 0 {
		return ""
	}
	logger.Info().Str("mime", res.MIME).Int("bytes", len(res.Data)).Msg("falling back to ocr")
	r, err := p.OCR.Recognize(ctx, ocr.Input{
		Data:     res.Data,
		MIME:     res.MIME,
		APIKey:   st.APIKey,
		Model:    st.Model,
		Language: st.Language,
	})
	switch {
	case errors.Is(err, ocr.ErrMissingAPIKey):
		logger.Warn().Msg("ocr skipped: no api key configured")
		return ""
	case errors.Is(err, ocr.ErrAuthRejected):
		logger.Error().Err(err).Msg("ocr rejected the api key")
		return ""
	case err != nil:
		logger.Error().Err(err).Msg("ocr failed")
		return ""
	}
	logger.Debug().Int("pages", r.Pages).Msg("ocr done")
	return r.Text
}
