package chat

import (
	"testing"

	"github.com/germanamz/stepwise/pkg/chats/message"
	"github.com/germanamz/stepwise/pkg/chats/role"

	"github.com/stretchr/testify/assert"
)

func TestNew(t *testing.T) {
	c := New(
		message.New(role.System, "rules"),
		message.New(role.User, "hi"),
	)

	assert.Equal(t, 2, c.Len())
}

func TestChat_ZeroValue(t *testing.T) {
	var c Chat

	assert.Equal(t, 0, c.Len())

	_, ok := c.Last()
	assert.False(t, ok)
	assert.Empty(t, c.Messages())
	assert.Empty(t, c.Render())
}

func TestChat_AppendAndSay(t *testing.T) {
	c := New()
	c.Append(message.New(role.System, "one"))
	c.Say(role.Assistant, "two")
	c.Say(role.User, "three")

	assert.Equal(t, 3, c.Len())

	last, ok := c.Last()
	assert.True(t, ok)
	assert.Equal(t, "three", last.Text)
}

func TestChat_At_Panics(t *testing.T) {
	c := New()
	assert.Panics(t, func() { c.At(0) })
}

func TestChat_MessagesReturnsCopy(t *testing.T) {
	c := New(message.New(role.User, "original"))

	msgs := c.Messages()
	msgs[0].Text = "mutated"

	assert.Equal(t, "original", c.At(0).Text)
}

func TestChat_AppendNeverEditsEarlierFragments(t *testing.T) {
	c := New(message.New(role.System, "seed"))
	before := c.Render()

	c.Say(role.Assistant, "FUNCTION_CALL: calculate|1+1")
	c.Say(role.User, "Result is 2.")

	assert.Equal(t, "seed", c.At(0).Text)
	assert.Contains(t, c.Render(), before)
}

func TestChat_ByKind(t *testing.T) {
	c := New(message.New(role.System, "seed"))
	c.Append(message.New(role.User, "bad format").WithKind("correction"))
	c.Append(message.New(role.User, "Result is 2.").WithKind("tool_result"))
	c.Append(message.New(role.User, "bad arity").WithKind("correction"))

	assert.Len(t, c.ByKind("correction"), 2)
	assert.Len(t, c.ByKind("tool_result"), 1)
}

func TestChat_SystemPrompt(t *testing.T) {
	c := New(
		message.New(role.User, "hi"),
		message.New(role.System, "be terse"),
	)

	assert.Equal(t, "be terse", c.SystemPrompt())
	assert.Empty(t, New().SystemPrompt())
}

func TestChat_Render(t *testing.T) {
	c := New(message.New(role.System, "SYSTEM\n\nSolve: 1+1"))
	c.Say(role.Assistant, "FUNCTION_CALL: calculate|1+1")
	c.Say(role.User, "Result is 2. Let's verify this step.")

	want := "SYSTEM\n\nSolve: 1+1\nAssistant: FUNCTION_CALL: calculate|1+1\nUser: Result is 2. Let's verify this step."
	assert.Equal(t, want, c.Render())
}
