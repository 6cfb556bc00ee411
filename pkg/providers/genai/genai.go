// Package genai provides a Completer backed by the official Google Gen AI SDK.
package genai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"google.golang.org/genai"

	"github.com/germanamz/stepwise/pkg/modeladapter"
	"github.com/germanamz/stepwise/pkg/modeladapter/usage"
)

var (
	_ modeladapter.Completer     = (*Completer)(nil)
	_ modeladapter.UsageReporter = (*Completer)(nil)
)

// Options configures a Completer.
type Options struct {
	APIKey      string
	Model       string
	Temperature float64
	MaxTokens   int
	// BaseURL overrides the API endpoint. Empty uses the SDK default.
	BaseURL    string
	HTTPClient *http.Client
}

// Completer implements modeladapter.Completer with genai.Client.
type Completer struct {
	client *genai.Client
	model  string
	config *genai.GenerateContentConfig
	usage  usage.Tracker
}

// New creates a Completer for the Gemini API backend.
func New(ctx context.Context, opts Options) (*Completer, error) {
	if opts.APIKey == "" {
		return nil, errors.New("genai: api key is required")
	}
	if opts.Model == "" {
		return nil, errors.New("genai: model is required")
	}

	cfg := &genai.ClientConfig{
		APIKey:     opts.APIKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: opts.HTTPClient,
	}
	if opts.BaseURL != "" {
		cfg.HTTPOptions = genai.HTTPOptions{BaseURL: opts.BaseURL}
	}

	client, err := genai.NewClient(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("genai: new client: %w", err)
	}

	callCfg := &genai.GenerateContentConfig{}
	if opts.Temperature != 0 {
		callCfg.Temperature = genai.Ptr(float32(opts.Temperature))
	}
	if opts.MaxTokens > 0 {
		callCfg.MaxOutputTokens = int32(opts.MaxTokens) //nolint:gosec // bounded by config
	}

	return &Completer{client: client, model: opts.Model, config: callCfg}, nil
}

// Model returns the configured model name.
func (c *Completer) Model() string { return c.model }

// UsageTracker returns the completer's token usage tracker.
func (c *Completer) UsageTracker() *usage.Tracker { return &c.usage }

// Complete sends prompt as a single user turn and returns the reply text.
func (c *Completer) Complete(ctx context.Context, prompt string) (string, error) {
	contents := []*genai.Content{
		genai.NewContentFromText(prompt, genai.RoleUser),
	}

	resp, err := c.client.Models.GenerateContent(ctx, c.model, contents, c.config)
	if err != nil {
		return "", fmt.Errorf("genai: %w", mapError(err))
	}

	if md := resp.UsageMetadata; md != nil {
		c.usage.Add(usage.TokenCount{
			InputTokens:  int(md.PromptTokenCount),
			OutputTokens: int(md.CandidatesTokenCount),
		})
	}

	if len(resp.Candidates) == 0 {
		if resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != "" {
			return "", fmt.Errorf("genai: prompt blocked: %s", resp.PromptFeedback.BlockReason)
		}
		return "", fmt.Errorf("genai: %w", modeladapter.ErrEmptyCompletion)
	}

	text := candidateText(resp.Candidates[0])
	if strings.TrimSpace(text) == "" {
		return "", fmt.Errorf("genai: %w", modeladapter.ErrEmptyCompletion)
	}

	return text, nil
}

// mapError converts quota errors reported by the SDK into
// *modeladapter.RateLimitError so callers can back off uniformly.
func mapError(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) && (apiErr.Code == http.StatusTooManyRequests || apiErr.Status == "RESOURCE_EXHAUSTED") {
		return errors.Join(&modeladapter.RateLimitError{Body: apiErr.Message}, err)
	}
	return err
}

func candidateText(c *genai.Candidate) string {
	if c == nil || c.Content == nil {
		return ""
	}

	var b strings.Builder
	for _, p := range c.Content.Parts {
		if p == nil || p.Thought {
			continue
		}
		b.WriteString(p.Text)
	}
	return b.String()
}
