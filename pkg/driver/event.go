package driver

import "time"

// EventKind identifies a step of the driver loop.
type EventKind string

const (
	EventTurnStarted  EventKind = "turn_started"
	EventModelReplied EventKind = "model_replied"
	EventToolCalled   EventKind = "tool_called"
	EventToolReturned EventKind = "tool_returned"
	EventCorrected    EventKind = "corrected"
	EventFinished     EventKind = "finished"
)

// Event is an immutable notification emitted while a session runs.
type Event struct {
	Kind      EventKind
	SessionID string
	Flow      string
	Turn      int
	Timestamp time.Time
	// Tool is set for tool events.
	Tool string
	// Text is the model line, tool result, correction or final answer.
	Text string
	Err  error
}

// Observer receives events synchronously from the driver goroutine. It must
// not block.
type Observer func(Event)
