// Package mcptools exposes the evidence backends as an MCP tool server so
// external reasoning CLIs can attach to the same repositories the engine
// searches. Composition only; the adapters hold the logic.
package mcptools

import (
	"github.com/mark3labs/mcp-go/server"

	"github.com/triagestack/triage-engine/internal/evidence"
)

// Version is set at build time via ldflags.
var Version = "dev"

// New creates the MCP server with the evidence tools registered.
func New(adapter evidence.Adapter) *server.MCPServer {
	s := server.NewMCPServer(
		"triage-evidence",
		Version,
		server.WithToolCapabilities(true),
		server.WithRecovery(),
	)

	searchTool := NewSearchTool(adapter)
	s.AddTool(searchTool.Definition(), searchTool.Handle)

	readTool := NewReadFileTool(adapter)
	s.AddTool(readTool.Definition(), readTool.Handle)

	metricTool := NewMetricQueryTool(adapter)
	s.AddTool(metricTool.Definition(), metricTool.Handle)

	return s
}
