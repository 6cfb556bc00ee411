// Package callproto implements the single-line tool-calling protocol spoken
// between a driver and a model.
//
// A model turn is exactly one line in one of two shapes:
//
//	FUNCTION_CALL: name|arg1|arg2|...
//	FINAL_ANSWER: [payload]
//
// It is organized into sub-packages:
//   - [github.com/germanamz/stepwise/pkg/callproto/sanitize]: argument cleaning and content checks (fences, quotes, arithmetic tokens, JSON, numbers, dates)
//   - [github.com/germanamz/stepwise/pkg/callproto/callline]: classifies one line as a tool call, a final answer, or malformed
//   - [github.com/germanamz/stepwise/pkg/callproto/contract]: validates a tool call against a static per-tool contract
//   - [github.com/germanamz/stepwise/pkg/callproto/ledger]: per-tool retry counters bounded by a ceiling
//
// All packages are pure and hold no I/O; the driver package wires them into
// a conversation loop.
package callproto
