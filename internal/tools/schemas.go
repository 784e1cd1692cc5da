package tools

import "github.com/triagestack/triage-engine/internal/models"

// Schema describes one tool for callers that surface the tool set
// externally, such as the chat-completions client and the MCP server.
type Schema struct {
	Name        string
	Description string
	Parameters  map[string]any
}

// Schemas returns the closed tool set in a stable order.
func Schemas() []Schema {
	return []Schema{
		{
			Name:        models.ToolSearchRepo,
			Description: "Search a configured repository for lines matching a query string. Returns file paths, line numbers and previews.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"repo":  map[string]any{"type": "string", "description": "Repository name from the configured set."},
					"query": map[string]any{"type": "string", "description": "Literal text to search for."},
				},
				"required": []string{"repo", "query"},
			},
		},
		{
			Name:        models.ToolReadFile,
			Description: "Read the contents of a file from a configured repository.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"repo": map[string]any{"type": "string", "description": "Repository name from the configured set."},
					"path": map[string]any{"type": "string", "description": "Repository-relative file path."},
					"ref":  map[string]any{"type": "string", "description": "Optional revision. The working checkout is used when empty."},
				},
				"required": []string{"repo", "path"},
			},
		},
		{
			Name:        models.ToolRunMetricQuery,
			Description: "Query a metrics source for a time series. Reports unavailable when no metrics backend is configured.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"source": map[string]any{"type": "string", "description": "Metrics source identifier."},
					"params": map[string]any{"type": "object", "description": "Source-specific query parameters."},
				},
				"required": []string{"source"},
			},
		},
	}
}
