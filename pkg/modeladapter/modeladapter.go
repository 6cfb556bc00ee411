package modeladapter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/germanamz/stepwise/pkg/modeladapter/usage"
)

// Completer sends a prompt to an LLM and returns the text of its reply.
type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// CompleterFunc adapts a plain function to the Completer interface.
type CompleterFunc func(ctx context.Context, prompt string) (string, error)

// Complete calls the underlying function.
func (f CompleterFunc) Complete(ctx context.Context, prompt string) (string, error) {
	return f(ctx, prompt)
}

// UsageReporter provides token usage information from a completer.
// Completers that embed ModelAdapter implement this interface automatically.
type UsageReporter interface {
	UsageTracker() *usage.Tracker
}

// DefaultKeyHeader carries the API key on Google endpoints.
const DefaultKeyHeader = "x-goog-api-key"

// Auth holds the API key and where to send it.
type Auth struct {
	Key    string // API key value.
	Header string // Header name (default DefaultKeyHeader).
	Scheme string // Optional value prefix, e.g. "Bearer".
}

func (a Auth) header() (string, string) {
	name := a.Header
	if name == "" {
		name = DefaultKeyHeader
	}
	if a.Scheme != "" {
		return name, a.Scheme + " " + a.Key
	}
	return name, a.Key
}

// ModelAdapter holds shared state for HTTP-based providers: endpoint, auth,
// generation settings and usage tracking. Embed it and define Complete.
type ModelAdapter struct {
	Name        string            // Model identifier (e.g. "gemini-2.0-flash").
	Temperature float64           // Sampling temperature; zero leaves the provider default.
	MaxTokens   int               // Maximum tokens in the response.
	Auth        Auth              // Authentication settings.
	BaseURL     string            // API base URL (no trailing slash).
	Client      *http.Client      // HTTP client; falls back to a cached default.
	Headers     map[string]string // Extra headers applied to every request.
	Usage       usage.Tracker     // Token usage tracker.

	clientOnce    sync.Once
	defaultClient *http.Client
}

// New creates a ModelAdapter with the given settings.
// A nil client falls back to a default client at call time.
func New(baseURL string, auth Auth, client *http.Client) ModelAdapter {
	return ModelAdapter{
		Auth:    auth,
		BaseURL: baseURL,
		Client:  client,
	}
}

// UsageTracker returns the adapter's token usage tracker.
func (a *ModelAdapter) UsageTracker() *usage.Tracker { return &a.Usage }

func (a *ModelAdapter) httpClient() *http.Client {
	if a.Client != nil {
		return a.Client
	}

	a.clientOnce.Do(func() {
		a.defaultClient = &http.Client{Timeout: 2 * time.Minute}
	})
	return a.defaultClient
}

// NewRequest builds an *http.Request with the base URL, auth, and custom
// headers already applied.
func (a *ModelAdapter) NewRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, a.BaseURL+path, body)
	if err != nil {
		return nil, err
	}

	if a.Auth.Key != "" {
		req.Header.Set(a.Auth.header())
	}
	for k, v := range a.Headers {
		req.Header.Set(k, v)
	}

	return req, nil
}

// PostJSON sends payload as JSON to path and decodes a 2xx body into dest.
// A nil dest discards the body. Failed responses come back as
// *RateLimitError or *APIError.
func (a *ModelAdapter) PostJSON(ctx context.Context, path string, payload, dest any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	req, err := a.NewRequest(ctx, http.MethodPost, path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.httpClient().Do(req) //nolint:gosec // URL is built from the configured BaseURL.
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(resp.Body)
		return responseError(resp.StatusCode, resp.Header, respBody)
	}

	if dest == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(dest); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
