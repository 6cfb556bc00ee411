// Package providers groups the concrete LLM completion adapters.
//
// It is organized into sub-packages:
//   - [github.com/germanamz/stepwise/pkg/providers/genai]: Completer built on the official Google Gen AI SDK (default)
//   - [github.com/germanamz/stepwise/pkg/providers/gemini]: Completer that calls the Gemini REST API through [github.com/germanamz/stepwise/pkg/modeladapter.ModelAdapter]
//
// Both satisfy [github.com/germanamz/stepwise/pkg/modeladapter.Completer]: a
// rendered transcript goes in, the model's raw reply text comes out.
package providers
