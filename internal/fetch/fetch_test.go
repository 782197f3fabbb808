package fetch

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// recordSleeps returns a sleeper that records waits instead of blocking.
func recordSleeps(waits *[]time.Duration) Option {
	return WithSleeper(func(_ context.Context, d time.Duration) error {
		*waits = append(*waits, d)
		return nil
	})
}

func TestDo_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		w.Header().Set("Content-Type", "text/plain")
		_, _ = w.Write(append([]byte("echo:"), body...))
	}))
	defer srv.Close()

	c := New(WithUserAgent("tabscribe-test"))
	resp, err := c.Do(context.Background(), Request{Method: http.MethodPost, URL: srv.URL, Body: []byte("hi")})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !resp.OK() || string(resp.Body) != "echo:hi" {
		t.Fatalf("unexpected response: %d %q", resp.StatusCode, resp.Body)
	}
}

func TestDo_RetryBoundOn500(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	var waits []time.Duration
	c := New(WithRetries(2), WithBackoff(500*time.Millisecond), recordSleeps(&waits))
	_, err := c.Do(context.Background(), Request{URL: srv.URL})
	if !errors.Is(err, ErrNetworkExhausted) {
		t.Fatalf("expected ErrNetworkExhausted, got %v", err)
	}
	if got := atomic.LoadInt32(&calls); got != 3 {
		t.Fatalf("expected 3 calls, got %d", got)
	}
	want := []time.Duration{500 * time.Millisecond, 1000 * time.Millisecond}
	if len(waits) != len(want) || waits[0] != want[0] || waits[1] != want[1] {
		t.Fatalf("waits = %v, want %v", waits, want)
	}
}

func TestDo_NoRetryOn4xx(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	var waits []time.Duration
	c := New(recordSleeps(&waits))
	resp, err := c.Do(context.Background(), Request{URL: srv.URL})
	if err != nil {
		t.Fatalf("4xx should be returned, not raised: %v", err)
	}
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Fatalf("expected exactly 1 call, got %d", got)
	}
	if len(waits) != 0 {
		t.Fatalf("expected no backoff, got %v", waits)
	}
}

func TestDo_RecoversAfterTransient5xx(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	var waits []time.Duration
	c := New(recordSleeps(&waits))
	resp, err := c.Do(context.Background(), Request{URL: srv.URL})
	if err != nil {
		t.Fatalf("expected success after retry, got %v", err)
	}
	if string(resp.Body) != "ok" || len(waits) != 1 {
		t.Fatalf("body=%q waits=%v", resp.Body, waits)
	}
}

func TestDo_PerAttemptTimeoutIsRetried(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	var waits []time.Duration
	c := New(WithTimeout(50*time.Millisecond), WithRetries(1), recordSleeps(&waits))
	_, err := c.Do(context.Background(), Request{URL: srv.URL})
	if !errors.Is(err, ErrNetworkExhausted) {
		t.Fatalf("expected exhaustion, got %v", err)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline in chain, got %v", err)
	}
	if got := atomic.LoadInt32(&calls); got != 2 {
		t.Fatalf("expected 2 attempts, got %d", got)
	}
}

func TestDo_TransportErrorIsRetried(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	addr := srv.URL
	srv.Close()

	var waits []time.Duration
	c := New(WithRetries(2), recordSleeps(&waits))
	_, err := c.Do(context.Background(), Request{URL: addr})
	if !errors.Is(err, ErrNetworkExhausted) {
		t.Fatalf("expected exhaustion, got %v", err)
	}
	if len(waits) != 2 {
		t.Fatalf("expected 2 backoff waits, got %v", waits)
	}
}

func TestDo_ParentCancelStopsRetries(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	c := New(WithSleeper(func(context.Context, time.Duration) error {
		cancel()
		return context.Canceled
	}))
	_, err := c.Do(ctx, Request{URL: srv.URL})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation, got %v", err)
	}
}

func TestWithTimeout_Clamped(t *testing.T) {
	if got := New(WithTimeout(time.Minute)).Timeout(); got != MaxTimeout {
		t.Fatalf("timeout = %v, want %v", got, MaxTimeout)
	}
	if got := New().Timeout(); got != DefaultTimeout {
		t.Fatalf("default timeout = %v", got)
	}
}

func TestGet_RejectsNonHTTP(t *testing.T) {
	c := New()
	if _, err := c.Get(context.Background(), "file:///etc/hosts", nil); err == nil {
		t.Fatalf("expected error for non-http scheme")
	}
}

func TestDo_LogsRedactedHeaders(t *testing.T) {
	var buf bytes.Buffer
	old := log.Logger
	oldLevel := zerolog.GlobalLevel()
	log.Logger = zerolog.New(&buf)
	zerolog.SetGlobalLevel(zerolog.DebugLevel)
	t.Cleanup(func() {
		log.Logger = old
		zerolog.SetGlobalLevel(oldLevel)
	})

	var seenAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seenAuth = r.Header.Get("Authorization")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	h := http.Header{}
	h.Set("Authorization", "Bearer abcdef123")
	h.Set("X-API-Key", "k-987654")
	if _, err := New().Do(context.Background(), Request{URL: srv.URL + "/?api_key=q-555", Header: h}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if seenAuth != "Bearer abcdef123" {
		t.Fatalf("server must receive the real credential, got %q", seenAuth)
	}
	out := buf.String()
	if !strings.Contains(out, "Bearer ***") {
		t.Fatalf("expected redacted bearer in logs: %s", out)
	}
	for _, secret := range []string{"abcdef123", "k-987654", "q-555"} {
		if strings.Contains(out, secret) {
			t.Fatalf("secret %q leaked into logs: %s", secret, out)
		}
	}
}
