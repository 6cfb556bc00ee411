// Package mcpclient drives a tool server over MCP. The usual transport is a
// child process speaking JSON-RPC on its stdin and stdout.
package mcpclient

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sort"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// ToolError is returned by CallTool when the server reports a tool runtime
// failure (an IsError result). Text holds the tool's message.
type ToolError struct {
	Tool string
	Text string
}

func (e *ToolError) Error() string {
	return fmt.Sprintf("tool %s failed: %s", e.Tool, e.Text)
}

// IsToolError reports whether err carries a *ToolError.
func IsToolError(err error) bool {
	var te *ToolError
	return errors.As(err, &te)
}

// Command describes a tool server process.
type Command struct {
	Path string
	Args []string
	// Env is the complete child environment. Nil inherits the parent's.
	Env []string
	// Stderr receives the child's diagnostics. Nil uses os.Stderr.
	Stderr io.Writer
}

// MCPClient communicates with an MCP server using the official MCP Go SDK.
type MCPClient struct {
	client  *mcp.Client
	session *mcp.ClientSession
	stop    func() // shuts down an in-process server, if any
}

// New spawns an MCP server process and returns a connected client.
// The SDK handles initialization automatically during Connect.
func New(ctx context.Context, c Command) (*MCPClient, error) {
	cmd := exec.Command(c.Path, c.Args...) //nolint:gosec // path and args come from configuration
	cmd.Env = c.Env
	cmd.Stderr = c.Stderr
	if cmd.Stderr == nil {
		cmd.Stderr = os.Stderr
	}

	return newFromTransport(ctx, &mcp.CommandTransport{Command: cmd})
}

// Server is an MCP server that can serve one end of an in-memory transport.
// *mcpserver.MCPServer satisfies it.
type Server interface {
	ServeTransport(ctx context.Context, transport mcp.Transport) error
}

// NewInProcess connects to srv over in-memory transports. The server runs in
// a goroutine that Close stops and waits for.
func NewInProcess(ctx context.Context, srv Server) (*MCPClient, error) {
	serverT, clientT := mcp.NewInMemoryTransports()

	sctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = srv.ServeTransport(sctx, serverT)
	}()

	stop := func() {
		cancel()
		<-done
	}

	c, err := newFromTransport(ctx, clientT)
	if err != nil {
		stop()
		return nil, err
	}
	c.stop = stop

	return c, nil
}

// newFromTransport creates an MCPClient using the given transport. Used by New
// and useful for testing with InMemoryTransport.
func newFromTransport(ctx context.Context, transport mcp.Transport) (*MCPClient, error) {
	client := mcp.NewClient(&mcp.Implementation{
		Name:    "stepwise",
		Version: "0.1.0",
	}, nil)

	session, err := client.Connect(ctx, transport, nil)
	if err != nil {
		return nil, fmt.Errorf("mcpclient: connect: %w", err)
	}

	return &MCPClient{client: client, session: session}, nil
}

// ListTools returns the sorted names of the tools the server offers.
func (c *MCPClient) ListTools(ctx context.Context) ([]string, error) {
	result, err := c.session.ListTools(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("mcpclient: list tools: %w", err)
	}

	names := make([]string, 0, len(result.Tools))
	for _, t := range result.Tools {
		names = append(names, t.Name)
	}
	sort.Strings(names)

	return names, nil
}

// CallTool calls a named tool on the server with the given arguments and
// returns the joined text content. A tool-reported failure is returned as a
// *ToolError; any other error is a transport or protocol failure.
func (c *MCPClient) CallTool(ctx context.Context, name string, args map[string]any) (string, error) {
	if args == nil {
		args = map[string]any{}
	}

	result, err := c.session.CallTool(ctx, &mcp.CallToolParams{
		Name:      name,
		Arguments: args,
	})
	if err != nil {
		return "", fmt.Errorf("mcpclient: call tool %s: %w", name, err)
	}

	text := extractText(result)

	if result.IsError {
		return "", &ToolError{Tool: name, Text: text}
	}

	return text, nil
}

// Close terminates the session. For command transports the SDK closes the
// child's stdin, waits, and escalates to signals if it does not exit.
func (c *MCPClient) Close() error {
	err := c.session.Close()
	if c.stop != nil {
		c.stop()
	}
	return err
}

// extractText joins all TextContent items from a CallToolResult with newlines.
func extractText(result *mcp.CallToolResult) string {
	var texts []string
	for _, item := range result.Content {
		if tc, ok := item.(*mcp.TextContent); ok {
			texts = append(texts, tc.Text)
		}
	}

	return strings.Join(texts, "\n")
}
