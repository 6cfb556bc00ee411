// Package gemini provides a Completer implementation for the Google Gemini
// REST API.
package gemini

import (
	"context"
	"fmt"
	"strings"

	"github.com/germanamz/stepwise/pkg/modeladapter"
	"github.com/germanamz/stepwise/pkg/modeladapter/usage"
)

// DefaultBaseURL is the public Gemini API endpoint.
const DefaultBaseURL = "https://generativelanguage.googleapis.com"

var _ modeladapter.Completer = (*Adapter)(nil)

// Adapter implements modeladapter.Completer for the Google Gemini API.
type Adapter struct {
	modeladapter.ModelAdapter
}

// New creates an Adapter configured for the Gemini API.
// An empty baseURL selects DefaultBaseURL.
func New(baseURL, apiKey, model string) *Adapter {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	a := &Adapter{}
	a.BaseURL = strings.TrimRight(baseURL, "/")
	a.Auth = modeladapter.Auth{
		Key:    apiKey,
		Header: "x-goog-api-key",
	}
	a.Name = model
	a.MaxTokens = 8192

	return a
}

// Complete sends a single user prompt to generateContent and returns the
// concatenated text of the first candidate.
func (a *Adapter) Complete(ctx context.Context, prompt string) (string, error) {
	req := a.buildRequest(prompt)
	path := fmt.Sprintf("/v1beta/models/%s:generateContent", a.Name)

	var resp apiResponse
	if err := a.PostJSON(ctx, path, req, &resp); err != nil {
		return "", fmt.Errorf("gemini: %w", err)
	}

	a.Usage.Add(usage.TokenCount{
		InputTokens:  resp.UsageMetadata.PromptTokenCount,
		OutputTokens: resp.UsageMetadata.CandidatesTokenCount,
	})

	if len(resp.Candidates) == 0 {
		if resp.PromptFeedback.BlockReason != "" {
			return "", fmt.Errorf("gemini: prompt blocked: %s", resp.PromptFeedback.BlockReason)
		}
		return "", fmt.Errorf("gemini: %w", modeladapter.ErrEmptyCompletion)
	}

	text := candidateText(resp.Candidates[0])
	if strings.TrimSpace(text) == "" {
		return "", fmt.Errorf("gemini: %w", modeladapter.ErrEmptyCompletion)
	}

	return text, nil
}

// --- request types ---

type apiRequest struct {
	Contents         []apiContent     `json:"contents"`
	GenerationConfig generationConfig `json:"generationConfig"`
}

type apiContent struct {
	Role  string    `json:"role,omitempty"`
	Parts []apiPart `json:"parts"`
}

type apiPart struct {
	Text    string `json:"text,omitempty"`
	Thought bool   `json:"thought,omitempty"`
}

type generationConfig struct {
	Temperature     *float64 `json:"temperature,omitempty"`
	MaxOutputTokens int      `json:"maxOutputTokens,omitempty"`
}

// --- response types ---

type apiResponse struct {
	Candidates     []apiCandidate    `json:"candidates"`
	PromptFeedback apiPromptFeedback `json:"promptFeedback"`
	UsageMetadata  apiUsageMeta      `json:"usageMetadata"`
}

type apiCandidate struct {
	Content      apiContent `json:"content"`
	FinishReason string     `json:"finishReason"`
}

type apiPromptFeedback struct {
	BlockReason string `json:"blockReason"`
}

type apiUsageMeta struct {
	PromptTokenCount     int `json:"promptTokenCount"`
	CandidatesTokenCount int `json:"candidatesTokenCount"`
	TotalTokenCount      int `json:"totalTokenCount"`
}

// --- conversion helpers ---

func (a *Adapter) buildRequest(prompt string) apiRequest {
	req := apiRequest{
		Contents: []apiContent{{
			Role:  "user",
			Parts: []apiPart{{Text: prompt}},
		}},
		GenerationConfig: generationConfig{
			MaxOutputTokens: a.MaxTokens,
		},
	}

	if a.Temperature != 0 {
		t := a.Temperature
		req.GenerationConfig.Temperature = &t
	}

	return req
}

// candidateText joins the non-thought text parts of a candidate.
func candidateText(c apiCandidate) string {
	var b strings.Builder
	for _, p := range c.Content.Parts {
		if p.Thought {
			continue
		}
		b.WriteString(p.Text)
	}
	return b.String()
}
