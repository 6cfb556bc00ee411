// Package mcpserver exposes a toolbox over MCP. Tool servers speak JSON-RPC
// on stdout, so nothing here writes to it except the transport.
package mcpserver

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"time"

	"github.com/germanamz/stepwise/pkg/tools/toolbox"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// MCPServer serves tools over the MCP protocol using the official MCP Go SDK.
type MCPServer struct {
	server *mcp.Server
	logger *slog.Logger
}

// Option configures an MCPServer.
type Option func(*MCPServer)

// WithLogger sets the logger used for per-call logging.
func WithLogger(l *slog.Logger) Option {
	return func(s *MCPServer) { s.logger = l }
}

// New creates a new MCPServer with the given name and version.
func New(name, version string, opts ...Option) *MCPServer {
	server := mcp.NewServer(&mcp.Implementation{
		Name:    name,
		Version: version,
	}, nil)

	s := &MCPServer{server: server, logger: slog.Default()}
	for _, o := range opts {
		o(s)
	}

	return s
}

// Register adds tools to the server.
func (s *MCPServer) Register(tools ...toolbox.Tool) {
	for _, t := range tools {
		s.server.AddTool(toSDKTool(t), s.toSDKHandler(t.Name, t.Handler))
	}
}

// RegisterToolBox adds every tool of tb to the server.
func (s *MCPServer) RegisterToolBox(tb *toolbox.ToolBox) {
	s.Register(tb.Tools()...)
}

// Serve starts serving MCP requests. It reads requests from in and writes
// responses to out. It blocks until ctx is cancelled or the transport closes.
func (s *MCPServer) Serve(ctx context.Context, in io.Reader, out io.Writer) error {
	transport := &mcp.IOTransport{
		Reader: io.NopCloser(in),
		Writer: nopWriteCloser{out},
	}

	return s.ServeTransport(ctx, transport)
}

// ServeTransport serves on an arbitrary SDK transport, such as one end of
// mcp.NewInMemoryTransports for an in-process tool server.
func (s *MCPServer) ServeTransport(ctx context.Context, transport mcp.Transport) error {
	return s.server.Run(ctx, transport)
}

// toSDKTool converts a toolbox.Tool to an SDK *mcp.Tool.
func toSDKTool(t toolbox.Tool) *mcp.Tool {
	schema := t.InputSchema
	if len(schema) == 0 {
		schema = json.RawMessage(`{"type":"object"}`)
	}

	return &mcp.Tool{
		Name:        t.Name,
		Description: t.Description,
		InputSchema: schema,
	}
}

// toSDKHandler wraps a toolbox.Handler as an SDK ToolHandler. Handler errors
// become IsError results so the client sees a tool failure, not a protocol
// failure.
func (s *MCPServer) toSDKHandler(name string, h toolbox.Handler) mcp.ToolHandler {
	return func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := req.Params.Arguments
		if args == nil {
			args = json.RawMessage("{}")
		}

		start := time.Now()
		result, err := h(ctx, args)
		if err != nil {
			s.logger.WarnContext(ctx, "tool failed",
				"tool", name,
				"duration", time.Since(start),
				"error", err,
			)
			return &mcp.CallToolResult{
				Content: []mcp.Content{&mcp.TextContent{Text: err.Error()}},
				IsError: true,
			}, nil
		}

		s.logger.DebugContext(ctx, "tool called",
			"tool", name,
			"duration", time.Since(start),
			"result_len", len(result),
		)

		return &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{Text: result}},
		}, nil
	}
}

// nopWriteCloser wraps an io.Writer as an io.WriteCloser with a no-op Close.
type nopWriteCloser struct {
	io.Writer
}

func (nopWriteCloser) Close() error { return nil }
