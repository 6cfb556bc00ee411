// Package tools provides tool definitions and their MCP transport.
//
// It is organized into sub-packages:
//   - [github.com/germanamz/stepwise/pkg/tools/toolbox]: Tool type, schema reflection, and the ToolBox dispatcher
//   - [github.com/germanamz/stepwise/pkg/tools/mcpclient]: MCP client that spawns a tool server process and calls its tools
//   - [github.com/germanamz/stepwise/pkg/tools/mcpserver]: MCP server that exposes a ToolBox over stdio
//
// Tool runtime failures cross the wire as IsError results and surface on the
// client as *mcpclient.ToolError, distinct from transport errors.
package tools
