// Package tools exposes the evidence capability set as callable tools for
// the reasoning step, with per-session argument validation and budgets.
package tools

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/triagestack/triage-engine/internal/evidence"
	"github.com/triagestack/triage-engine/internal/metrics"
	"github.com/triagestack/triage-engine/internal/models"
)

// Budget bounds one reasoning session's tool usage so a looping model can
// never pin a worker indefinitely.
type Budget struct {
	MaxCalls       int
	MaxSessionTime time.Duration
	PerCallTimeout time.Duration
}

// DefaultBudget is used when a zero Budget is supplied.
var DefaultBudget = Budget{
	MaxCalls:       8,
	MaxSessionTime: 60 * time.Second,
	PerCallTimeout: 10 * time.Second,
}

// Dispatcher routes validated tool calls to the evidence adapter.
type Dispatcher struct {
	adapter     evidence.Adapter
	budget      Budget
	searchLimit int
	logger      *slog.Logger
}

// NewDispatcher constructs a dispatcher over the adapter.
func NewDispatcher(adapter evidence.Adapter, budget Budget, logger *slog.Logger) *Dispatcher {
	if budget.MaxCalls <= 0 {
		budget.MaxCalls = DefaultBudget.MaxCalls
	}
	if budget.MaxSessionTime <= 0 {
		budget.MaxSessionTime = DefaultBudget.MaxSessionTime
	}
	if budget.PerCallTimeout <= 0 {
		budget.PerCallTimeout = DefaultBudget.PerCallTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{adapter: adapter, budget: budget, searchLimit: 5, logger: logger}
}

// CallRecord is one logged invocation, kept in call order.
type CallRecord struct {
	Call    models.ToolCall
	Result  models.ToolResult
	Elapsed time.Duration
}

// Session tracks the call log and budget for one reasoning run. Sessions
// are transient: discarded when the owning job completes.
type Session struct {
	d       *Dispatcher
	mu      sync.Mutex
	records []CallRecord
	spent   time.Duration
}

// NewSession starts a fresh budgeted session.
func (d *Dispatcher) NewSession() *Session {
	return &Session{d: d}
}

// Invoke validates and executes one tool call. Schema failures never reach
// the adapter; budget exhaustion fails fast so the reasoning step must
// finalize with the evidence it already has.
func (s *Session) Invoke(ctx context.Context, call models.ToolCall) models.ToolResult {
	s.mu.Lock()
	overBudget := len(s.records) >= s.d.budget.MaxCalls || s.spent >= s.d.budget.MaxSessionTime
	s.mu.Unlock()

	var result models.ToolResult
	var elapsed time.Duration
	switch {
	case overBudget:
		result = models.ToolResult{OK: false, ErrorKind: models.ErrKindBudgetExceeded}
	default:
		start := time.Now()
		result = s.d.dispatch(ctx, call)
		elapsed = time.Since(start)
	}

	outcome := "ok"
	if !result.OK {
		outcome = string(result.ErrorKind)
	}
	metrics.ObserveToolCall(call.Name, outcome)
	s.d.logger.Debug("tool call",
		slog.String("tool", call.Name),
		slog.String("outcome", outcome),
		slog.Duration("elapsed", elapsed))

	s.mu.Lock()
	s.records = append(s.records, CallRecord{Call: call, Result: result, Elapsed: elapsed})
	s.spent += elapsed
	s.mu.Unlock()
	return result
}

// Exhausted reports whether further calls would be rejected.
func (s *Session) Exhausted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records) >= s.d.budget.MaxCalls || s.spent >= s.d.budget.MaxSessionTime
}

// Log returns the ordered call log.
func (s *Session) Log() []CallRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]CallRecord(nil), s.records...)
}

type searchRepoArgs struct {
	Repo  string `json:"repo"`
	Query string `json:"query"`
}

type readFileArgs struct {
	Repo string `json:"repo"`
	Path string `json:"path"`
	Ref  string `json:"ref,omitempty"`
}

type metricQueryArgs struct {
	Source string         `json:"source"`
	Params map[string]any `json:"params"`
}

func (d *Dispatcher) dispatch(ctx context.Context, call models.ToolCall) models.ToolResult {
	ctx, cancel := context.WithTimeout(ctx, d.budget.PerCallTimeout)
	defer cancel()

	switch call.Name {
	case models.ToolSearchRepo:
		var args searchRepoArgs
		if !decodeArgs(call.Arguments, &args) || args.Repo == "" || strings.TrimSpace(args.Query) == "" {
			return invalidArguments()
		}
		matches, err := d.adapter.Search(ctx, args.Repo, args.Query, d.searchLimit)
		if err != nil {
			return adapterFailure(err)
		}
		return okPayload(map[string]any{"matches": matches})

	case models.ToolReadFile:
		var args readFileArgs
		if !decodeArgs(call.Arguments, &args) || args.Repo == "" || args.Path == "" {
			return invalidArguments()
		}
		content, err := d.adapter.ReadFile(ctx, args.Repo, args.Path, args.Ref)
		if err != nil {
			return adapterFailure(err)
		}
		return okPayload(map[string]any{"content": content})

	case models.ToolRunMetricQuery:
		var args metricQueryArgs
		if !decodeArgs(call.Arguments, &args) || args.Source == "" {
			return invalidArguments()
		}
		series, err := d.adapter.QueryMetric(ctx, args.Source, args.Params)
		if errors.Is(err, evidence.ErrUnavailable) {
			// Contractual no-op when no metrics backend is configured.
			return okPayload(map[string]any{"status": "unavailable"})
		}
		if err != nil {
			return adapterFailure(err)
		}
		return okPayload(map[string]any{"series": series})

	default:
		return invalidArguments()
	}
}

func decodeArgs(raw json.RawMessage, out any) bool {
	if len(raw) == 0 {
		return false
	}
	dec := json.NewDecoder(strings.NewReader(string(raw)))
	dec.DisallowUnknownFields()
	return dec.Decode(out) == nil
}

func invalidArguments() models.ToolResult {
	return models.ToolResult{OK: false, ErrorKind: models.ErrKindInvalidArguments}
}

func adapterFailure(err error) models.ToolResult {
	kind := models.ErrKindAdapterError
	if errors.Is(err, evidence.ErrNotFound) {
		kind = models.ErrKindNotFound
	}
	if errors.Is(err, evidence.ErrUnavailable) {
		kind = models.ErrKindUnavailable
	}
	return models.ToolResult{OK: false, ErrorKind: kind}
}

func okPayload(v any) models.ToolResult {
	data, err := json.Marshal(v)
	if err != nil {
		return models.ToolResult{OK: false, ErrorKind: models.ErrKindAdapterError}
	}
	return models.ToolResult{OK: true, Payload: data}
}
