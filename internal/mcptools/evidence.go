package mcptools

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/triagestack/triage-engine/internal/evidence"
	"github.com/triagestack/triage-engine/internal/models"
)

// SearchTool handles the search_repo MCP tool.
type SearchTool struct {
	adapter evidence.Adapter
}

// NewSearchTool creates a SearchTool.
func NewSearchTool(adapter evidence.Adapter) *SearchTool {
	return &SearchTool{adapter: adapter}
}

// Definition returns the MCP tool definition for search_repo.
func (t *SearchTool) Definition() mcp.Tool {
	return mcp.NewTool(models.ToolSearchRepo,
		mcp.WithDescription(
			"Search a configured repository for lines matching a query string. "+
				"Returns file paths, line numbers and preview lines.",
		),
		mcp.WithString("repo",
			mcp.Required(),
			mcp.Description("Repository name. Available: "+strings.Join(t.adapter.Repos(), ", ")),
		),
		mcp.WithString("query",
			mcp.Required(),
			mcp.Description("Literal text to search for"),
		),
		mcp.WithNumber("limit",
			mcp.Description("Max matches (default: 5)"),
		),
	)
}

// Handle processes a search_repo call.
func (t *SearchTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	repo := req.GetString("repo", "")
	if repo == "" {
		return mcp.NewToolResultError("'repo' is required"), nil
	}
	query := req.GetString("query", "")
	if query == "" {
		return mcp.NewToolResultError("'query' is required"), nil
	}
	limit := intArg(req, "limit", 5)

	matches, err := t.adapter.Search(ctx, repo, query, limit)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("search failed: %v", err)), nil
	}
	if len(matches) == 0 {
		return mcp.NewToolResultText("No matches found."), nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Found %d matches:\n\n", len(matches))
	for _, m := range matches {
		fmt.Fprintf(&b, "%s:%d\n    %s\n", m.Path, m.Line, m.Preview)
	}
	return mcp.NewToolResultText(b.String()), nil
}

// ReadFileTool handles the read_file MCP tool.
type ReadFileTool struct {
	adapter evidence.Adapter
}

// NewReadFileTool creates a ReadFileTool.
func NewReadFileTool(adapter evidence.Adapter) *ReadFileTool {
	return &ReadFileTool{adapter: adapter}
}

// Definition returns the MCP tool definition for read_file.
func (t *ReadFileTool) Definition() mcp.Tool {
	return mcp.NewTool(models.ToolReadFile,
		mcp.WithDescription("Read the contents of a file from a configured repository."),
		mcp.WithString("repo",
			mcp.Required(),
			mcp.Description("Repository name"),
		),
		mcp.WithString("path",
			mcp.Required(),
			mcp.Description("Repository-relative file path"),
		),
		mcp.WithString("ref",
			mcp.Description("Optional revision; the working checkout is used when empty"),
		),
	)
}

// Handle processes a read_file call.
func (t *ReadFileTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	repo := req.GetString("repo", "")
	if repo == "" {
		return mcp.NewToolResultError("'repo' is required"), nil
	}
	path := req.GetString("path", "")
	if path == "" {
		return mcp.NewToolResultError("'path' is required"), nil
	}

	content, err := t.adapter.ReadFile(ctx, repo, path, req.GetString("ref", ""))
	if errors.Is(err, evidence.ErrNotFound) {
		return mcp.NewToolResultError(fmt.Sprintf("file not found: %s", path)), nil
	}
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("read failed: %v", err)), nil
	}
	return mcp.NewToolResultText(content), nil
}

// MetricQueryTool handles the run_metric_query MCP tool.
type MetricQueryTool struct {
	adapter evidence.Adapter
}

// NewMetricQueryTool creates a MetricQueryTool.
func NewMetricQueryTool(adapter evidence.Adapter) *MetricQueryTool {
	return &MetricQueryTool{adapter: adapter}
}

// Definition returns the MCP tool definition for run_metric_query.
func (t *MetricQueryTool) Definition() mcp.Tool {
	return mcp.NewTool(models.ToolRunMetricQuery,
		mcp.WithDescription(
			"Query a metrics source for a time series. "+
				"Reports unavailable when no metrics backend is configured.",
		),
		mcp.WithString("source",
			mcp.Required(),
			mcp.Description("Metrics source identifier"),
		),
	)
}

// Handle processes a run_metric_query call.
func (t *MetricQueryTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	source := req.GetString("source", "")
	if source == "" {
		return mcp.NewToolResultError("'source' is required"), nil
	}

	series, err := t.adapter.QueryMetric(ctx, source, req.GetArguments())
	if errors.Is(err, evidence.ErrUnavailable) {
		return mcp.NewToolResultText("Metrics backend unavailable; no series returned."), nil
	}
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("metric query failed: %v", err)), nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Series %s with %d points:\n", series.Source, len(series.Points))
	for _, p := range series.Points {
		fmt.Fprintf(&b, "%s\t%g\n", p.Timestamp.Format("2006-01-02T15:04:05Z07:00"), p.Value)
	}
	return mcp.NewToolResultText(b.String()), nil
}

// intArg extracts an integer argument, returning defaultVal if the key is
// missing or not a number (JSON numbers are float64).
func intArg(req mcp.CallToolRequest, key string, defaultVal int) int {
	v, ok := req.GetArguments()[key].(float64)
	if !ok {
		return defaultVal
	}
	return int(v)
}
