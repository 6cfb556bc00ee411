// Package chat provides the append-only transcript a driver grows while it
// talks to a model.
package chat

import (
	"strings"

	"github.com/germanamz/stepwise/pkg/chats/message"
	"github.com/germanamz/stepwise/pkg/chats/role"
)

// Chat is an append-only conversation container. The zero value is ready to
// use. Chat is not safe for concurrent use; callers must synchronize externally.
type Chat struct {
	messages []message.Message
}

// New creates a Chat pre-populated with the given messages.
func New(msgs ...message.Message) *Chat {
	c := &Chat{}
	c.Append(msgs...)
	return c
}

// Append adds one or more messages to the conversation.
func (c *Chat) Append(msgs ...message.Message) {
	c.messages = append(c.messages, msgs...)
}

// Say appends a text message from the given role.
func (c *Chat) Say(r role.Role, text string) {
	c.Append(message.New(r, text))
}

// Len returns the number of messages in the conversation.
func (c *Chat) Len() int {
	return len(c.messages)
}

// At returns the message at the given index.
// It panics if the index is out of range.
func (c *Chat) At(index int) message.Message {
	return c.messages[index]
}

// Last returns the most recent message and true, or a zero Message and false
// if the conversation is empty.
func (c *Chat) Last() (message.Message, bool) {
	if len(c.messages) == 0 {
		return message.Message{}, false
	}
	return c.messages[len(c.messages)-1], true
}

// Messages returns a copy of all messages in the conversation.
func (c *Chat) Messages() []message.Message {
	cp := make([]message.Message, len(c.messages))
	copy(cp, c.messages)
	return cp
}

// ByKind returns all messages tagged with the given kind.
func (c *Chat) ByKind(kind string) []message.Message {
	var out []message.Message
	for _, m := range c.messages {
		if m.Kind == kind {
			out = append(out, m)
		}
	}
	return out
}

// SystemPrompt returns the text of the first system message, or an empty
// string if there is none.
func (c *Chat) SystemPrompt() string {
	for _, m := range c.messages {
		if m.Role == role.System {
			return m.Text
		}
	}
	return ""
}

// Render concatenates the conversation into a single prompt. Every message
// after the first starts on a new line.
func (c *Chat) Render() string {
	var b strings.Builder
	for i, m := range c.messages {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(m.Render())
	}
	return b.String()
}
