package toolbox

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strings"
)

// Result is the textual outcome of a tool call. IsError marks a runtime
// failure reported by the tool itself.
type Result struct {
	Content string
	IsError bool
}

// ToolBox holds a named set of tools and dispatches calls to them. Tool
// servers expose a ToolBox over MCP.
type ToolBox struct {
	tools map[string]Tool
}

// NewToolBox creates a ToolBox holding tools.
func NewToolBox(tools ...Tool) *ToolBox {
	tb := &ToolBox{tools: make(map[string]Tool, len(tools))}
	tb.Register(tools...)
	return tb
}

// Register adds one or more tools to the ToolBox. If a tool with the same name
// already exists, it is replaced.
func (tb *ToolBox) Register(tools ...Tool) {
	for _, t := range tools {
		tb.tools[t.Name] = t
	}
}

// Get returns a tool by name and a boolean indicating whether it was found.
func (tb *ToolBox) Get(name string) (Tool, bool) {
	t, ok := tb.tools[name]
	return t, ok
}

// Tools returns all registered tools sorted by name.
func (tb *ToolBox) Tools() []Tool {
	result := make([]Tool, 0, len(tb.tools))
	for _, t := range tb.tools {
		result = append(result, t)
	}
	slices.SortFunc(result, func(a, b Tool) int { return strings.Compare(a.Name, b.Name) })
	return result
}

// Call executes the named tool. If the tool is not found or the handler
// returns an error, the result has IsError set.
func (tb *ToolBox) Call(ctx context.Context, name string, args json.RawMessage) Result {
	t, ok := tb.tools[name]
	if !ok {
		return Result{Content: fmt.Sprintf("tool not found: %s", name), IsError: true}
	}

	out, err := t.Handler(ctx, args)
	if err != nil {
		return Result{Content: err.Error(), IsError: true}
	}

	return Result{Content: out}
}
