// Package message defines the Message type stored in a driver transcript.
package message

import "github.com/germanamz/stepwise/pkg/chats/role"

// Message is a single transcript fragment. It is a value type that copies
// cheaply; once appended to a chat it is never modified.
type Message struct {
	Role role.Role
	Text string
	// Kind tags why the fragment was added (e.g. "correction", "tool_result").
	// It is informational only and never rendered into the prompt.
	Kind string
}

// New creates a message with the given role and text.
func New(r role.Role, text string) Message {
	return Message{Role: r, Text: text}
}

// WithKind returns a copy of m tagged with kind.
func (m Message) WithKind(kind string) Message {
	m.Kind = kind
	return m
}

// Render formats the message as a prompt line. Messages whose role carries no
// label are rendered verbatim.
func (m Message) Render() string {
	label := m.Role.Label()
	if label == "" {
		return m.Text
	}
	return label + ": " + m.Text
}
