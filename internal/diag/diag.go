// Package diag checks that the OCR provider is reachable and accepts the
// configured key, without spending an OCR call.
package diag

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/hyperifyio/tabscribe/internal/ocr"
)

// ModelLister is the one provider capability the self-test needs.
type ModelLister interface {
	ListModels(ctx context.Context) (openai.ModelsList, error)
}

// Status is the self-test verdict.
type Status string

const (
	StatusOK           Status = "ok"
	StatusMissingKey   Status = "missing_key"
	StatusAuthRejected Status = "auth_rejected"
	StatusUnreachable  Status = "unreachable"
)

// Options configures SelfTest.
type Options struct {
	APIKey     string
	Endpoint   string
	Model      string
	Timeout    time.Duration
	HTTPClient *http.Client
}

// Report is what SelfTest found.
type Report struct {
	Status         Status
	BaseURL        string
	Models         int
	ModelAvailable bool
	Err            error
}

// OK reports whether the provider answered and accepted the key.
func (r Report) OK() bool { return r.Status == StatusOK }

// Error returns nil for a passing report. A rejected key wraps
// ocr.ErrAuthRejected so callers can tell it apart from an outage.
func (r Report) Error() error {
	switch r.Status {
	case StatusOK:
		return nil
	case StatusMissingKey:
		return ocr.ErrMissingAPIKey
	case StatusAuthRejected:
		return fmt.Errorf("%w: %v", ocr.ErrAuthRejected, r.Err)
	}
	return fmt.Errorf("ocr provider unreachable at %s: %w", r.BaseURL, r.Err)
}

// BaseURL derives the OpenAI-compatible API root from an OCR endpoint by
// dropping the trailing /ocr path segment.
func BaseURL(endpoint string) string {
	if strings.TrimSpace(endpoint) == "" {
		endpoint = ocr.DefaultEndpoint
	}
	return strings.TrimSuffix(strings.TrimSuffix(strings.TrimSpace(endpoint), "/"), "/ocr")
}

// NewLister returns a go-openai client pointed at the provider.
func NewLister(opts Options) ModelLister {
	cfg := openai.DefaultConfig(strings.TrimSpace(opts.APIKey))
	cfg.BaseURL = BaseURL(opts.Endpoint)
	if opts.HTTPClient != nil {
		cfg.HTTPClient = opts.HTTPClient
	}
	return openai.NewClientWithConfig(cfg)
}

// SelfTest lists the provider's models with the configured key.
func SelfTest(ctx context.Context, opts Options) Report {
	if strings.TrimSpace(opts.APIKey) == "" {
		return Report{Status: StatusMissingKey, BaseURL: BaseURL(opts.Endpoint)}
	}
	r := Check(ctx, NewLister(opts), opts.Model, opts.Timeout)
	r.BaseURL = BaseURL(opts.Endpoint)
	return r
}

// Check runs the model listing against any lister.
func Check(ctx context.Context, l ModelLister, model string, timeout time.Duration) Report {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	models, err := l.ListModels(ctx)
	if err != nil {
		if isAuthError(err) {
			return Report{Status: StatusAuthRejected, Err: err}
		}
		return Report{Status: StatusUnreachable, Err: err}
	}
	r := Report{Status: StatusOK, Models: len(models.Models)}
	for _, m := range models.Models {
		if m.ID == model {
			r.ModelAvailable = true
			break
		}
	}
	return r
}

func isAuthError(err error) bool {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode == http.StatusUnauthorized || apiErr.HTTPStatusCode == http.StatusForbidden
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode == http.StatusUnauthorized || reqErr.HTTPStatusCode == http.StatusForbidden
	}
	return false
}
