package cot_test

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/germanamz/stepwise/pkg/console"
	"github.com/germanamz/stepwise/pkg/toolkits/cot"
	"github.com/germanamz/stepwise/pkg/tools/toolbox"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEvaluate(t *testing.T) {
	assert.Equal(t, "120", cot.Evaluate("(23 + 7) * (15 - 8)"))
	assert.Equal(t, "2.5", cot.Evaluate(" 5 / 2 "))
	assert.Equal(t, "Error: disallowed characters in expression", cot.Evaluate("__import__('os')"))
	assert.Equal(t, "Error: disallowed characters in expression", cot.Evaluate("1; 2"))
	assert.Equal(t, "Error: disallowed characters in expression", cot.Evaluate("abc"))
	assert.Equal(t, "Error: division by zero", cot.Evaluate("1/0"))
}

func TestCheck(t *testing.T) {
	assert.Equal(t, "True", cot.Check("(23 + 7) * (15 - 8)", 120))
	assert.Equal(t, "False", cot.Check("1+1", 3))
	assert.Equal(t, "True", cot.Check("0.1 + 0.2", 0.3))
	assert.Equal(t, "Error: disallowed characters in expression", cot.Check("x", 1))
}

func TestToolsOverToolBox(t *testing.T) {
	var buf bytes.Buffer
	tb := toolbox.NewToolBox(cot.Kit{Console: console.New(&buf)}.Tools()...)

	res := tb.Call(context.Background(), cot.Calculate, json.RawMessage(`{"expression":"(23 + 7) * (15 - 8)"}`))
	require.False(t, res.IsError)
	assert.Equal(t, "120", res.Content)
	assert.Contains(t, buf.String(), "Calculating")

	res = tb.Call(context.Background(), cot.Verify, json.RawMessage(`{"expression":"1+1","expected":3}`))
	require.False(t, res.IsError)
	assert.Equal(t, "False", res.Content)

	res = tb.Call(context.Background(), cot.ShowReasoning, json.RawMessage(`{"steps":["add","multiply"]}`))
	require.False(t, res.IsError)
	assert.Equal(t, cot.ReasoningShown, res.Content)
	assert.Contains(t, buf.String(), "Step 2")
}

func TestCalculateErrorIsResultText(t *testing.T) {
	tb := toolbox.NewToolBox(cot.Kit{}.Tools()...)

	res := tb.Call(context.Background(), cot.Calculate, json.RawMessage(`{"expression":"2 +"}`))
	assert.False(t, res.IsError)
	assert.Contains(t, res.Content, cot.ErrorPrefix)
}

func TestSchemas(t *testing.T) {
	for _, tool := range (cot.Kit{}).Tools() {
		var s map[string]any
		require.NoError(t, json.Unmarshal(tool.InputSchema, &s), tool.Name)
		assert.Equal(t, "object", s["type"], tool.Name)
	}
}
