package driver

import (
	"context"

	"github.com/germanamz/stepwise/pkg/callproto/contract"
)

// Caller dispatches one tool call with the driver's deadline applied. Flows
// receive it in Finish to run a closing verification.
type Caller func(ctx context.Context, tool string, args map[string]any) (string, error)

// Observation is a flow's verdict on one tool result.
type Observation struct {
	// Feedback is appended to the transcript as a user message. Empty means
	// the raw result is folded in verbatim.
	Feedback string
	// Failed marks the result as a tool runtime failure counted by the
	// retry ledger.
	Failed bool
}

// Verdict is a flow's decision on a FINAL_ANSWER payload.
type Verdict struct {
	// Correction, when non-empty, rejects the answer and is sent back to the
	// model.
	Correction string
	// Answer is the accepted answer text.
	Answer string
	// Verified carries the output of a closing verification call.
	Verified string
}

// Flow supplies the domain knowledge the driver needs for one kind of
// conversation. A Flow value serves a single session and may keep state
// between calls.
type Flow interface {
	// Name identifies the flow in logs and events.
	Name() string
	// Contract is the static set of callable tools.
	Contract() contract.Contract
	// Seed returns the opening prompt: system rules plus the task.
	Seed() string
	// Sentinel is the answer emitted when a tool exhausts its retries.
	Sentinel() string
	// Intercept may answer a validated call locally. When handled is true
	// the tool is not dispatched and reply is sent to the model.
	Intercept(tool string, args []string) (reply string, handled bool)
	// Arguments maps validated positional args onto the tool's named
	// arguments. An error is reported to the model as a content rejection.
	Arguments(tool string, args []string) (map[string]any, error)
	// Observe judges a tool result.
	Observe(tool string, args []string, result string) Observation
	// Retry is the instruction sent after a failed result that still has
	// retries left.
	Retry(tool, result string) string
	// Finish judges a final answer.
	Finish(ctx context.Context, payload string, call Caller) Verdict
}
