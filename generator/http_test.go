package generator

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pithecene-io/kiln/iox"
	"github.com/pithecene-io/kiln/types"
)

func intPtr(n int) *int { return &n }

func newTestHTTP(t *testing.T, url string, retries int) *HTTP {
	t.Helper()
	h, err := NewHTTP(HTTPConfig{
		URL:     url,
		Model:   "test-model",
		Headers: map[string]string{"Authorization": "Bearer token"},
		Retries: intPtr(retries),
		Backoff: time.Millisecond,
	})
	if err != nil {
		t.Fatalf("NewHTTP: %v", err)
	}
	t.Cleanup(iox.CloseFunc(h))
	return h
}

func TestHTTP_Generate(t *testing.T) {
	var received map[string]any
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer token" {
			t.Errorf("missing auth header")
		}
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"code": "package main", "dependencies": [{"name": "example.com/x"}]}`))
	}))
	defer ts.Close()

	h := newTestHTTP(t, ts.URL, 0)
	p, err := h.Generate(t.Context(), Request{Role: "math", Method: "add", SystemPrompt: "sys", UserPrompt: "user", Attempt: 2})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if p.Code != "package main" || len(p.Dependencies) != 1 || p.Dependencies[0].Name != "example.com/x" {
		t.Errorf("program = %+v", p)
	}
	if received["role"] != "math" || received["user_prompt"] != "user" || received["model"] != "test-model" {
		t.Errorf("request body = %v", received)
	}
	if received["attempt"] != float64(2) {
		t.Errorf("attempt = %v", received["attempt"])
	}
	if ModelOf(h) != "test-model" {
		t.Errorf("ModelOf = %q", ModelOf(h))
	}
}

func TestHTTP_RetriesTransientFailures(t *testing.T) {
	var calls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch calls.Add(1) {
		case 1:
			w.WriteHeader(http.StatusServiceUnavailable)
		case 2:
			w.WriteHeader(http.StatusTooManyRequests)
		default:
			_, _ = w.Write([]byte(`{"code": "package main"}`))
		}
	}))
	defer ts.Close()

	p, err := newTestHTTP(t, ts.URL, 2).Generate(t.Context(), Request{})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if p.Code != "package main" || calls.Load() != 3 {
		t.Errorf("code = %q after %d calls", p.Code, calls.Load())
	}
}

func TestHTTP_Failures(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		body      string
		retries   int
		wantCalls int32
		wantType  string
	}{
		{name: "client error is not retried", status: http.StatusBadRequest, retries: 2, wantCalls: 1, wantType: types.ErrorTypeProvider},
		{name: "server errors exhaust retries", status: http.StatusBadGateway, retries: 2, wantCalls: 3, wantType: types.ErrorTypeProvider},
		{name: "rate limited", status: http.StatusTooManyRequests, retries: 1, wantCalls: 2, wantType: types.ErrorTypeRateLimited},
		{name: "empty code", status: http.StatusOK, body: `{"code": ""}`, retries: 2, wantCalls: 1, wantType: types.ErrorTypeInvalidFormat},
		{name: "not json", status: http.StatusOK, body: `<html>`, retries: 2, wantCalls: 1, wantType: types.ErrorTypeInvalidFormat},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls atomic.Int32
			ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				calls.Add(1)
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer ts.Close()

			_, err := newTestHTTP(t, ts.URL, tt.retries).Generate(t.Context(), Request{})
			if err == nil {
				t.Fatal("expected error")
			}
			var typed interface{ ErrorType() string }
			if !errors.As(err, &typed) || typed.ErrorType() != tt.wantType {
				t.Errorf("err = %v, want error type %q", err, tt.wantType)
			}
			if got := calls.Load(); got != tt.wantCalls {
				t.Errorf("calls = %d, want %d", got, tt.wantCalls)
			}
		})
	}
}

func TestHTTP_Unreachable(t *testing.T) {
	ts := httptest.NewServer(http.NotFoundHandler())
	url := ts.URL
	ts.Close()

	_, err := newTestHTTP(t, url, 0).Generate(t.Context(), Request{})
	var pe *ProviderError
	if !errors.As(err, &pe) || pe.ErrorType() != types.ErrorTypeNetwork {
		t.Fatalf("err = %v, want network ProviderError", err)
	}
}

func TestNewHTTP_Validation(t *testing.T) {
	if _, err := NewHTTP(HTTPConfig{}); err == nil {
		t.Error("missing URL accepted")
	}
	if _, err := NewHTTP(HTTPConfig{URL: "http://x", Retries: intPtr(-1)}); err == nil {
		t.Error("negative retries accepted")
	}
}
