// Package server exposes the OCR client over HTTP for browser extensions
// and other local tools.
package server

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/hyperifyio/tabscribe/internal/diag"
	"github.com/hyperifyio/tabscribe/internal/fetch"
	"github.com/hyperifyio/tabscribe/internal/ocr"
)

// DefaultMaxBodyBytes bounds an /ocr request body.
const DefaultMaxBodyBytes = 50 << 20

// Recognizer is the OCR capability the server forwards to.
type Recognizer interface {
	Recognize(ctx context.Context, in ocr.Input) (ocr.Result, error)
}

// Checker runs the provider self-test with a caller's key.
type Checker func(ctx context.Context, apiKey string) diag.Report

// Options configures a Server.
type Options struct {
	OCR          Recognizer
	Check        Checker
	Model        string
	Language     string
	// ModelsURL is the provider's model listing. GET /v1/models forwards
	// there through Fetch.
	ModelsURL    string
	Fetch        *fetch.Client
	RateLimit    float64
	RateBurst    int
	MaxBodyBytes int64
}

// Server is the OCR proxy.
type Server struct {
	opts    Options
	limiter *rate.Limiter
}

// New returns a server. A zero RateLimit disables limiting.
func New(opts Options) *Server {
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if opts.Fetch == nil {
		opts.Fetch = fetch.New()
	}
	s := &Server{opts: opts}
	if opts.RateLimit > 0 {
		s.limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), max(opts.RateBurst, 1))
	}
	return s
}

// Handler builds the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Authorization", "X-API-Key", "Content-Type"},
		MaxAge:         300,
	}))
	r.Use(s.rateLimit)

	r.Post("/ocr", s.handleOCR)
	r.Get("/health", s.handleHealth)
	r.Get("/v1/models", s.handleModels)
	return r
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errc := make(chan error, 1)
	go func() {
		log.Info().Str("addr", addr).Msg("ocr proxy listening")
		errc <- srv.ListenAndServe()
	}()
	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		log.Info().Msg("shutting down ocr proxy")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

type ocrRequest struct {
	Image    string `json:"image"`
	File     string `json:"file"`
	APIKey   string `json:"api_key"`
	Model    string `json:"model"`
	Language string `json:"language"`
}

type ocrResponse struct {
	Markdown string `json:"markdown"`
	Pages    int    `json:"pages"`
}

func (s *Server) handleOCR(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.opts.MaxBodyBytes)
	var req ocrRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	key := bearerKey(r)
	if key == "" {
		key = strings.TrimSpace(req.APIKey)
	}
	if key == "" {
		key = strings.TrimSpace(r.Header.Get("X-API-Key"))
	}
	uri := req.Image
	if uri == "" {
		uri = req.File
	}
	if uri == "" || key == "" {
		writeError(w, http.StatusBadRequest, "file/image and api_key required")
		return
	}
	mime, data, err := decodeDataURI(uri)
	if err != nil {
		writeError(w, http.StatusBadRequest, "file/image is not valid base64")
		return
	}
	in := ocr.Input{
		Data:     data,
		MIME:     mime,
		APIKey:   key,
		Model:    firstNonEmpty(req.Model, s.opts.Model),
		Language: firstNonEmpty(req.Language, s.opts.Language),
	}
	res, err := s.opts.OCR.Recognize(r.Context(), in)
	switch {
	case errors.Is(err, ocr.ErrAuthRejected):
		writeError(w, http.StatusUnauthorized, "api key rejected by ocr provider")
		return
	case err != nil:
		log.Error().Err(err).Str("request_id", middleware.GetReqID(r.Context())).Msg("ocr failed")
		writeError(w, http.StatusBadGateway, "ocr provider failed")
		return
	}
	writeJSON(w, http.StatusOK, ocrResponse{Markdown: res.Text, Pages: res.Pages})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	key := apiKeyFrom(r)
	if key == "" {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"status": "missing_key"})
		return
	}
	if s.opts.Check == nil {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		return
	}
	rep := s.opts.Check(r.Context(), key)
	switch rep.Status {
	case diag.StatusOK:
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	case diag.StatusAuthRejected, diag.StatusMissingKey:
		writeJSON(w, http.StatusUnauthorized, map[string]string{"status": string(rep.Status)})
	default:
		writeJSON(w, http.StatusBadGateway, map[string]string{"status": string(rep.Status)})
	}
}

// handleModels passes the provider's model listing through with the
// caller's key.
func (s *Server) handleModels(w http.ResponseWriter, r *http.Request) {
	key := apiKeyFrom(r)
	if key == "" {
		writeError(w, http.StatusUnauthorized, "missing api key")
		return
	}
	if s.opts.ModelsURL == "" {
		writeError(w, http.StatusNotFound, "model listing not configured")
		return
	}
	h := http.Header{}
	h.Set("Authorization", "Bearer "+key)
	h.Set("X-API-Key", key)
	h.Set("Accept", "application/json")
	resp, err := s.opts.Fetch.Get(r.Context(), s.opts.ModelsURL, h)
	if err != nil {
		log.Error().Err(err).Str("request_id", middleware.GetReqID(r.Context())).Msg("model listing failed")
		writeError(w, http.StatusBadGateway, "ocr provider unreachable")
		return
	}
	ct := resp.Header.Get("Content-Type")
	if ct == "" {
		ct = "application/json"
	}
	w.Header().Set("Content-Type", ct)
	w.WriteHeader(resp.StatusCode)
	_, _ = w.Write(resp.Body)
}

// bearerKey reads the Authorization bearer token without surrounding
// whitespace.
func bearerKey(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))
	}
	return ""
}

// apiKeyFrom reads a bearer token, else X-API-Key.
func apiKeyFrom(r *http.Request) string {
	if k := bearerKey(r); k != "" {
		return k
	}
	return strings.TrimSpace(r.Header.Get("X-API-Key"))
}

// decodeDataURI accepts "data:<mime>;base64,<payload>" or bare base64.
// Without a declared type the payload is sniffed.
func decodeDataURI(s string) (string, []byte, error) {
	header, payload := "", s
	if i := strings.IndexByte(s, ','); i >= 0 {
		header, payload = s[:i], s[i+1:]
	}
	data, err := base64.StdEncoding.DecodeString(strings.TrimSpace(payload))
	if err != nil {
		return "", nil, err
	}
	mime := ""
	if strings.HasPrefix(header, "data:") && strings.Contains(header, ";base64") {
		mime = strings.TrimPrefix(header[:strings.Index(header, ";")], "data:")
	}
	if mime == "" {
		mime = http.DetectContentType(data)
	}
	return mime, data, nil
}

func firstNonEmpty(a, b string) string {
	if strings.TrimSpace(a) != "" {
		return strings.TrimSpace(a)
	}
	return b
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
