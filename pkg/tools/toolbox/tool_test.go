package toolbox

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type echoArgs struct {
	Text  string `json:"text" jsonschema:"description=Text to echo"`
	Times int    `json:"times,omitempty"`
}

func TestSchema(t *testing.T) {
	var s map[string]any
	require.NoError(t, json.Unmarshal(Schema[echoArgs](), &s))

	assert.Equal(t, "object", s["type"])
	assert.NotContains(t, s, "$schema")

	props, ok := s["properties"].(map[string]any)
	require.True(t, ok)
	assert.Contains(t, props, "text")
	assert.Contains(t, props, "times")
	assert.Equal(t, []any{"text"}, s["required"])
}

func TestTypedHandler(t *testing.T) {
	tool := New("echo", "Echoes input back", func(_ context.Context, a echoArgs) (string, error) {
		return a.Text, nil
	})

	assert.Equal(t, "echo", tool.Name)
	assert.NotEmpty(t, tool.InputSchema)

	result, err := tool.Handler(context.Background(), json.RawMessage(`{"text":"hello"}`))
	require.NoError(t, err)
	assert.Equal(t, "hello", result)
}

func TestTypedHandler_BadInput(t *testing.T) {
	h := Typed(func(_ context.Context, a echoArgs) (string, error) { return a.Text, nil })

	_, err := h(context.Background(), json.RawMessage(`{"text":`))
	require.ErrorContains(t, err, "decode arguments")

	out, err := h(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, out)
}
