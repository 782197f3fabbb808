package main

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type ocrRequest struct {
	Model    string `json:"model"`
	Document struct {
		Type        string `json:"type"`
		DocumentURL string `json:"document_url"`
		ImageURL    string `json:"image_url"`
	} `json:"document"`
}

func main() {
	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	model := os.Getenv("MODEL_ID")
	if strings.TrimSpace(model) == "" {
		model = "mistral-ocr-latest"
	}
	addr := os.Getenv("ADDR")
	if strings.TrimSpace(addr) == "" {
		addr = ":8081"
	}
	// When set, requests must carry this bearer key.
	wantKey := strings.TrimSpace(os.Getenv("STUB_API_KEY"))

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if wantKey != "" && strings.TrimSpace(strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")) != wantKey {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnauthorized)
				_, _ = w.Write([]byte(`{"error":{"message":"Unauthorized","type":"invalid_request_error"}}`))
				return
			}
			next.ServeHTTP(w, r)
		})
	})

	r.Get("/v1/models", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"object": "list",
			"data":   []map[string]any{{"id": model, "object": "model"}},
		})
	})
	r.Post("/v1/ocr", func(w http.ResponseWriter, r *http.Request) {
		defer r.Body.Close()
		var req ocrRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnprocessableEntity)
			_, _ = w.Write([]byte(`{"detail":[{"loc":["body"],"msg":"invalid JSON","type":"value_error"}]}`))
			return
		}
		uri := req.Document.DocumentURL
		if uri == "" {
			uri = req.Document.ImageURL
		}
		mime, size := describe(uri)
		log.Info().Str("type", req.Document.Type).Str("mime", mime).Int("bytes", size).Msg("ocr request")
		page := fmt.Sprintf("# Stub OCR\n\nReceived %d bytes of %s for model %s.", size, mime, req.Model)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"pages":      []map[string]any{{"index": 0, "markdown": page}},
			"model":      model,
			"usage_info": map[string]any{"pages_processed": 1, "doc_size_bytes": size},
		})
	})

	log.Info().Str("addr", addr).Str("model", model).Msg("ocr-stub listening")
	if err := http.ListenAndServe(addr, r); err != nil {
		log.Fatal().Err(err).Msg("ocr-stub stopped")
	}
}

// describe returns the media type and decoded size of a base64 data URI.
func describe(uri string) (string, int) {
	header, payload, ok := strings.Cut(uri, ",")
	if !ok {
		return "unknown", 0
	}
	mime := strings.TrimSuffix(strings.TrimPrefix(header, "data:"), ";base64")
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return mime, 0
	}
	return mime, len(data)
}
