package diag

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	openai "github.com/sashabaranov/go-openai"

	"github.com/hyperifyio/tabscribe/internal/ocr"
)

func modelsServer(t *testing.T, status int, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/models" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestBaseURL(t *testing.T) {
	cases := map[string]string{
		"":                                "https://api.mistral.ai/v1",
		"https://api.mistral.ai/v1/ocr":   "https://api.mistral.ai/v1",
		"http://localhost:8081/v1/ocr/":   "http://localhost:8081/v1",
		"http://proxy.internal/custom/v1": "http://proxy.internal/custom/v1",
	}
	for in, want := range cases {
		if got := BaseURL(in); got != want {
			t.Fatalf("BaseURL(%q)=%q want %q", in, got, want)
		}
	}
}

func TestSelfTest_OK(t *testing.T) {
	srv := modelsServer(t, http.StatusOK, `{"object":"list","data":[{"id":"mistral-ocr-latest","object":"model"},{"id":"other","object":"model"}]}`)
	r := SelfTest(context.Background(), Options{APIKey: "k", Endpoint: srv.URL + "/v1/ocr", Model: "mistral-ocr-latest"})
	if !r.OK() || r.Models != 2 || !r.ModelAvailable {
		t.Fatalf("unexpected report: %+v", r)
	}
	if r.Error() != nil {
		t.Fatalf("passing report should have no error")
	}
}

func TestSelfTest_AuthRejectedIsDistinct(t *testing.T) {
	srv := modelsServer(t, http.StatusUnauthorized, `{"error":{"message":"Unauthorized","type":"invalid_request_error"}}`)
	r := SelfTest(context.Background(), Options{APIKey: "bad", Endpoint: srv.URL + "/v1/ocr"})
	if r.Status != StatusAuthRejected {
		t.Fatalf("expected auth_rejected, got %+v", r)
	}
	if !errors.Is(r.Error(), ocr.ErrAuthRejected) {
		t.Fatalf("error should wrap ErrAuthRejected: %v", r.Error())
	}
}

func TestSelfTest_ForbiddenWithoutJSONBody(t *testing.T) {
	srv := modelsServer(t, http.StatusForbidden, `nope`)
	r := SelfTest(context.Background(), Options{APIKey: "bad", Endpoint: srv.URL + "/v1/ocr"})
	if r.Status != StatusAuthRejected {
		t.Fatalf("expected auth_rejected, got %+v", r)
	}
}

func TestSelfTest_ServerErrorIsUnreachable(t *testing.T) {
	srv := modelsServer(t, http.StatusBadGateway, `{"error":{"message":"upstream down"}}`)
	r := SelfTest(context.Background(), Options{APIKey: "k", Endpoint: srv.URL + "/v1/ocr"})
	if r.Status != StatusUnreachable || errors.Is(r.Error(), ocr.ErrAuthRejected) {
		t.Fatalf("expected unreachable, got %+v", r)
	}
}

func TestSelfTest_MissingKeyMakesNoRequest(t *testing.T) {
	hit := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { hit = true }))
	defer srv.Close()
	r := SelfTest(context.Background(), Options{Endpoint: srv.URL + "/v1/ocr"})
	if r.Status != StatusMissingKey || hit {
		t.Fatalf("status=%s hit=%v", r.Status, hit)
	}
	if !errors.Is(r.Error(), ocr.ErrMissingAPIKey) {
		t.Fatalf("unexpected error: %v", r.Error())
	}
}

type staticLister struct{ list openai.ModelsList }

func (s staticLister) ListModels(context.Context) (openai.ModelsList, error) { return s.list, nil }

func TestCheck_ModelNotListed(t *testing.T) {
	r := Check(context.Background(), staticLister{openai.ModelsList{Models: []openai.Model{{ID: "a"}}}}, "b", 0)
	if !r.OK() || r.ModelAvailable {
		t.Fatalf("unexpected report: %+v", r)
	}
}
