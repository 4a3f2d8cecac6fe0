package generator

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/pithecene-io/kiln/iox"
	"github.com/pithecene-io/kiln/types"
)

// Defaults for the HTTP generator.
const (
	DefaultTimeout = 60 * time.Second
	DefaultRetries = 2
	maxResponse    = 4 << 20
)

// HTTPConfig configures an HTTP generator.
type HTTPConfig struct {
	// URL receives a JSON POST per generation (required).
	URL string
	// Headers are added to each request, e.g. Authorization.
	Headers map[string]string
	// Model is forwarded to the service and recorded on artifacts.
	Model string
	// Timeout is the per-request timeout (default 60s).
	Timeout time.Duration
	// Retries is the number of retries on 5xx, 429 and network errors
	// (default 2 when nil).
	Retries *int
	// Backoff is the first retry delay, doubled per retry (default 500ms).
	Backoff time.Duration
}

// HTTP asks a generation service for programs.
//
// Request body: {role, method, system_prompt, user_prompt, attempt,
// repair, model}. Response body: {code, dependencies}.
type HTTP struct {
	cfg    HTTPConfig
	client *http.Client
}

// NewHTTP creates an HTTP generator.
func NewHTTP(cfg HTTPConfig) (*HTTP, error) {
	if cfg.URL == "" {
		return nil, errors.New("http generator requires a URL")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Retries == nil {
		n := DefaultRetries
		cfg.Retries = &n
	}
	if *cfg.Retries < 0 {
		return nil, fmt.Errorf("retries must be >= 0, got %d", *cfg.Retries)
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = 500 * time.Millisecond
	}
	return &HTTP{cfg: cfg, client: &http.Client{Timeout: cfg.Timeout}}, nil
}

// Model returns the configured model name.
func (h *HTTP) Model() string { return h.cfg.Model }

// ProviderError is a failure to reach or use the generation service.
type ProviderError struct {
	// Code is the HTTP status, 0 for transport failures.
	Code int
	Err  error
}

func (e *ProviderError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("generator service returned status %d", e.Code)
	}
	return "generator service unreachable: " + e.Err.Error()
}

func (e *ProviderError) Unwrap() error { return e.Err }

// ErrorType implements the typed-error convention.
func (e *ProviderError) ErrorType() string {
	switch {
	case e.Code == http.StatusTooManyRequests:
		return types.ErrorTypeRateLimited
	case e.Code == 0:
		return types.ErrorTypeNetwork
	default:
		return types.ErrorTypeProvider
	}
}

func (e *ProviderError) retriable() bool {
	return e.Code == 0 || e.Code == http.StatusTooManyRequests || e.Code >= 500
}

// Generate posts req and parses the program from the response. Transport
// errors, 429 and 5xx are retried with exponential backoff; other 4xx fail
// immediately.
func (h *HTTP) Generate(ctx context.Context, req Request) (types.Program, error) {
	body, err := json.Marshal(map[string]any{
		"role":          req.Role,
		"method":        req.Method,
		"system_prompt": req.SystemPrompt,
		"user_prompt":   req.UserPrompt,
		"attempt":       req.Attempt,
		"repair":        req.Repair,
		"model":         h.cfg.Model,
	})
	if err != nil {
		return types.Program{}, fmt.Errorf("generator: marshal request: %w", err)
	}

	attempts := 1 + *h.cfg.Retries
	var lastErr error
	for i := range attempts {
		if i > 0 {
			backoff := time.Duration(1<<uint(i-1)) * h.cfg.Backoff
			select {
			case <-ctx.Done():
				return types.Program{}, fmt.Errorf("generator: canceled during backoff: %w", ctx.Err())
			case <-time.After(backoff):
			}
		}

		doc, err := h.do(ctx, body)
		if err == nil {
			return ParseResponse(doc)
		}
		lastErr = err

		var pe *ProviderError
		if !errors.As(err, &pe) || !pe.retriable() || ctx.Err() != nil {
			return types.Program{}, err
		}
	}
	return types.Program{}, fmt.Errorf("generator: failed after %d attempts: %w", attempts, lastErr)
}

func (h *HTTP) do(ctx context.Context, body []byte) (map[string]any, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, h.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("generator: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	for k, v := range h.cfg.Headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := h.client.Do(httpReq)
	if err != nil {
		return nil, &ProviderError{Err: err}
	}
	defer iox.DiscardClose(resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, &ProviderError{Code: resp.StatusCode}
	}

	var doc map[string]any
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponse)).Decode(&doc); err != nil {
		return nil, &ResponseError{Msg: "decode body: " + err.Error()}
	}
	return doc, nil
}

// Close releases idle connections.
func (h *HTTP) Close() error {
	h.client.CloseIdleConnections()
	return nil
}
