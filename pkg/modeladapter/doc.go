// Package modeladapter defines the interface and shared plumbing for LLM
// completion adapters.
//
// It contains:
//   - [Completer] interface (prompt in, text out) and the embeddable [ModelAdapter] base struct with HTTP helpers, auth, and custom headers
//   - [RateLimitedCompleter], which retries rate-limited calls with linear or exponential backoff and jitter and throttles requests and tokens per minute
//   - [RateLimitError] and [APIError], decoded from Google error envelopes by [ModelAdapter.PostJSON]
//   - [github.com/germanamz/stepwise/pkg/modeladapter/usage] thread-safe token usage tracker
//
// Concrete adapters live in separate packages that import modeladapter.
package modeladapter
