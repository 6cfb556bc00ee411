package driver

import "errors"

// Error taxonomy for session termination. Outcome.Err wraps one of these.
var (
	ErrToolRuntime      = errors.New("tool runtime error")
	ErrTransport        = errors.New("tool transport error")
	ErrModelUnavailable = errors.New("model unavailable")
	ErrBudgetExceeded   = errors.New("budget exceeded")
)

// Status is the terminal state of a session.
type Status int

const (
	// Answered means the model produced an accepted FINAL_ANSWER.
	Answered Status = iota
	// GaveUp means a tool exhausted its retries and the flow's sentinel was
	// emitted in place of an answer.
	GaveUp
	// NoAnswer means the session ended without an answer: the model went
	// silent or a budget ran out.
	NoAnswer
	// Failed means an unexpected error stopped the session.
	Failed
)

func (s Status) String() string {
	switch s {
	case Answered:
		return "answered"
	case GaveUp:
		return "gave_up"
	case NoAnswer:
		return "no_answer"
	case Failed:
		return "failed"
	}
	return "unknown"
}

// Outcome is the result of one Run. Callers always receive one, even when
// the session failed.
type Outcome struct {
	SessionID string
	Status    Status
	// Answer is the accepted final answer, or the sentinel when Status is
	// GaveUp.
	Answer string
	// Turns counts model calls.
	Turns int
	Err   error
	// Verified holds the text of the flow's closing verification call, if
	// one ran.
	Verified string
}

// OK reports whether the session produced an accepted answer.
func (o Outcome) OK() bool { return o.Status == Answered }
