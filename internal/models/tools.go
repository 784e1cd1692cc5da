package models

import "encoding/json"

// Tool names form a closed set; dispatch is by lookup table, never reflection.
const (
	ToolSearchRepo     = "search_repo"
	ToolReadFile       = "read_file"
	ToolRunMetricQuery = "run_metric_query"
)

// ErrorKind classifies tool and job failures for local recovery decisions.
type ErrorKind string

const (
	ErrKindInvalidArguments ErrorKind = "invalid_arguments"
	ErrKindBudgetExceeded   ErrorKind = "budget_exceeded"
	ErrKindNotFound         ErrorKind = "not_found"
	ErrKindAdapterError     ErrorKind = "adapter_error"
	ErrKindUnavailable      ErrorKind = "unavailable"
)

// ToolCall is one evidence request issued by the reasoning step.
type ToolCall struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// ToolResult carries either a payload or a failure kind back to the caller.
type ToolResult struct {
	OK        bool            `json:"ok"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	ErrorKind ErrorKind       `json:"error_kind,omitempty"`
}
