package fetch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	DefaultTimeout = 5 * time.Second
	// MaxTimeout caps the per-attempt timeout; OCR calls use it.
	MaxTimeout     = 15 * time.Second
	DefaultRetries = 2
	DefaultBackoff = 500 * time.Millisecond
)

// ErrNetworkExhausted is returned once every attempt has failed.
var ErrNetworkExhausted = errors.New("network retries exhausted")

// Request describes one outbound call. Body is kept as bytes so it can be
// replayed on every attempt.
type Request struct {
	Method string
	URL    string
	Header http.Header
	Body   []byte
}

// Response is a fully read HTTP response.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// OK reports whether the status is 2xx.
func (r *Response) OK() bool {
	return r != nil && r.StatusCode >= 200 && r.StatusCode <= 299
}

// Client issues requests with a per-attempt deadline and retries transport
// failures and 5xx responses with exponential backoff. The zero value is not
// usable; construct with New.
type Client struct {
	httpClient   *http.Client
	userAgent    string
	timeout      time.Duration
	retries      int
	backoff      time.Duration
	maxBodyBytes int64
	sleep        func(ctx context.Context, d time.Duration) error
}

// Option configures a Client.
type Option func(*Client)

// WithTimeout sets the per-attempt timeout. Values above MaxTimeout are
// clamped; zero or negative keeps the default.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = min(d, MaxTimeout)
		}
	}
}

// WithRetries sets how many times a failed attempt is retried. Zero means a
// single attempt.
func WithRetries(n int) Option {
	return func(c *Client) {
		if n >= 0 {
			c.retries = n
		}
	}
}

// WithBackoff sets the base wait; attempt i waits backoff * 2^i before retrying.
func WithBackoff(d time.Duration) Option {
	return func(c *Client) {
		if d >= 0 {
			c.backoff = d
		}
	}
}

// WithHTTPClient replaces the underlying transport client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithUserAgent sets the User-Agent sent when the request has none.
func WithUserAgent(ua string) Option {
	return func(c *Client) { c.userAgent = ua }
}

// WithMaxBodyBytes bounds how much of a response body is read. Zero means unlimited.
func WithMaxBodyBytes(n int64) Option {
	return func(c *Client) { c.maxBodyBytes = n }
}

// WithSleeper replaces the backoff wait, for tests.
func WithSleeper(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(c *Client) {
		if fn != nil {
			c.sleep = fn
		}
	}
}

// New returns a Client with the defaults (5s, 2 retries, 500ms) overridden by opts.
func New(opts ...Option) *Client {
	c := &Client{
		httpClient: &http.Client{},
		timeout:    DefaultTimeout,
		retries:    DefaultRetries,
		backoff:    DefaultBackoff,
		sleep:      sleepContext,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Timeout returns the effective per-attempt timeout.
func (c *Client) Timeout() time.Duration { return c.timeout }

// Get issues a GET to an http(s) URL.
func (c *Client) Get(ctx context.Context, rawURL string, header http.Header) (*Response, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse url: %w", err)
	}
	if !isHTTPScheme(u) {
		return nil, fmt.Errorf("unsupported URL scheme: %q", u.Scheme)
	}
	return c.Do(ctx, Request{Method: http.MethodGet, URL: rawURL, Header: header})
}

// Do performs req. A completed response with status below 500 is returned as
// is, 4xx included. Transport errors, per-attempt timeouts and 5xx responses
// are retried until the retry budget is spent, after which the returned error
// wraps ErrNetworkExhausted and the last failure. Cancelling ctx stops at once.
func (c *Client) Do(ctx context.Context, req Request) (*Response, error) {
	attempts := c.retries + 1
	var lastErr error
	for i := 0; i < attempts; i++ {
		resp, err := c.tryOnce(ctx, req, i)
		if err == nil && resp.StatusCode < 500 {
			return resp, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if err == nil {
			err = fmt.Errorf("server error: %d", resp.StatusCode)
		}
		lastErr = err
		if i == attempts-1 {
			break
		}
		wait := c.backoff * time.Duration(1<<i)
		log.Debug().Err(err).Int("attempt", i+1).Dur("backoff", wait).Str("url", RedactURL(req.URL)).Msg("retrying request")
		if err := c.sleep(ctx, wait); err != nil {
			return nil, err
		}
	}
	return nil, fmt.Errorf("%w after %d attempts: %w", ErrNetworkExhausted, attempts, lastErr)
}

func (c *Client) tryOnce(ctx context.Context, req Request, attempt int) (*Response, error) {
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var body io.Reader
	if req.Body != nil {
		body = bytes.NewReader(req.Body)
	}
	hreq, err := http.NewRequestWithContext(ctx, method, req.URL, body)
	if err != nil {
		return nil, fmt.Errorf("new request: %w", err)
	}
	for k, vs := range req.Header {
		for _, v := range vs {
			hreq.Header.Add(k, v)
		}
	}
	if c.userAgent != "" && hreq.Header.Get("User-Agent") == "" {
		hreq.Header.Set("User-Agent", c.userAgent)
	}

	// Redacted copies are built before anything is handed to the logger.
	log.Debug().
		Int("attempt", attempt+1).
		Str("method", method).
		Str("url", RedactURL(req.URL)).
		Interface("headers", RedactHeaders(hreq.Header)).
		Dur("timeout", c.timeout).
		Msg("http attempt")

	start := time.Now()
	resp, err := c.httpClient.Do(hreq)
	if err != nil {
		log.Debug().Err(redactError(err, req.URL)).Int("attempt", attempt+1).Dur("elapsed", time.Since(start)).Msg("http attempt failed")
		return nil, redactError(err, req.URL)
	}
	defer resp.Body.Close()

	var r io.Reader = resp.Body
	if c.maxBodyBytes > 0 {
		r = io.LimitReader(resp.Body, c.maxBodyBytes)
	}
	b, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	log.Debug().Int("attempt", attempt+1).Int("status", resp.StatusCode).Int("bytes", len(b)).Dur("elapsed", time.Since(start)).Msg("http attempt done")
	return &Response{StatusCode: resp.StatusCode, Header: resp.Header, Body: b}, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func isHTTPScheme(u *url.URL) bool {
	if u == nil {
		return false
	}
	scheme := strings.ToLower(u.Scheme)
	return scheme == "http" || scheme == "https"
}
