// Package ocr talks to a Mistral-style OCR endpoint through the resilient
// fetch client.
package ocr

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/hyperifyio/tabscribe/internal/fetch"
)

const (
	DefaultEndpoint = "https://api.mistral.ai/v1/ocr"
	DefaultModel    = "mistral-ocr-latest"
)

var (
	// ErrAuthRejected is returned for 401 and 403 responses.
	ErrAuthRejected = errors.New("ocr: credentials rejected")
	// ErrMalformedResponse is returned when the body is not the expected JSON.
	ErrMalformedResponse = errors.New("ocr: malformed response")
	// ErrMissingAPIKey is returned before any request is made without a key.
	ErrMissingAPIKey = errors.New("ocr: api key is required")
)

// StatusError reports any other non-2xx reply.
type StatusError struct {
	StatusCode int
	Summary    string
}

func (e *StatusError) Error() string {
	if e.Summary == "" {
		return fmt.Sprintf("ocr: api error %d", e.StatusCode)
	}
	return fmt.Sprintf("ocr: api error %d: %s", e.StatusCode, e.Summary)
}

// Input is one document to recognize.
type Input struct {
	Data     []byte
	MIME     string
	APIKey   string
	Model    string
	Language string
}

// Result is the recognized text and what the service reported about it.
type Result struct {
	Text  string
	Pages int
}

// Client posts documents to an OCR endpoint.
type Client struct {
	Endpoint string
	Fetch    *fetch.Client
}

// NewClient returns a client for endpoint (DefaultEndpoint when empty) using f.
func NewClient(endpoint string, f *fetch.Client) *Client {
	if strings.TrimSpace(endpoint) == "" {
		endpoint = DefaultEndpoint
	}
	return &Client{Endpoint: endpoint, Fetch: f}
}

type document struct {
	Type        string `json:"type"`
	DocumentURL string `json:"document_url,omitempty"`
	ImageURL    string `json:"image_url,omitempty"`
}

type request struct {
	Model    string   `json:"model"`
	Document document `json:"document"`
	Language string   `json:"language,omitempty"`
}

// DataURI base64-encodes data as a data: URI. An empty mime becomes
// application/octet-stream.
func DataURI(mime string, data []byte) string {
	if strings.TrimSpace(mime) == "" {
		mime = "application/octet-stream"
	}
	return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(data)
}

// Recognize submits in and returns the recognized text. Images are sent as
// image_url documents, everything else as document_url.
func (c *Client) Recognize(ctx context.Context, in Input) (Result, error) {
	key := strings.TrimSpace(in.APIKey)
	if key == "" {
		return Result{}, ErrMissingAPIKey
	}
	model := strings.TrimSpace(in.Model)
	if model == "" {
		model = DefaultModel
	}
	mime := baseMIME(in.MIME)
	uri := DataURI(mime, in.Data)
	doc := document{Type: "document_url", DocumentURL: uri}
	if strings.HasPrefix(mime, "image/") {
		doc = document{Type: "image_url", ImageURL: uri}
	}
	body, err := json.Marshal(request{Model: model, Document: doc, Language: strings.TrimSpace(in.Language)})
	if err != nil {
		return Result{}, fmt.Errorf("encode request: %w", err)
	}

	h := http.Header{}
	h.Set("Authorization", "Bearer "+key)
	h.Set("Content-Type", "application/json")
	h.Set("Accept", "application/json")
	log.Debug().Str("endpoint", fetch.RedactURL(c.Endpoint)).Str("model", model).Str("mime", mime).Int("bytes", len(in.Data)).Msg("ocr request")

	resp, err := c.Fetch.Do(ctx, fetch.Request{Method: http.MethodPost, URL: c.Endpoint, Header: h, Body: body})
	if err != nil {
		return Result{}, fmt.Errorf("ocr request: %w", err)
	}
	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return Result{}, fmt.Errorf("%w (status %d)", ErrAuthRejected, resp.StatusCode)
	case !resp.OK():
		return Result{}, &StatusError{StatusCode: resp.StatusCode, Summary: summarizeError(resp.Body)}
	}
	return ParseResponse(resp.Body)
}

func baseMIME(m string) string {
	if i := strings.IndexByte(m, ';'); i >= 0 {
		m = m[:i]
	}
	return strings.ToLower(strings.TrimSpace(m))
}
