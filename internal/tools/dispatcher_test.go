package tools_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/triagestack/triage-engine/internal/evidence"
	"github.com/triagestack/triage-engine/internal/models"
	"github.com/triagestack/triage-engine/internal/tools"
)

// recordingAdapter counts calls so tests can assert the adapter was, or was
// not, reached.
type recordingAdapter struct {
	searches  int
	reads     int
	metrics   int
	searchErr error
}

func (a *recordingAdapter) Name() string    { return "recording" }
func (a *recordingAdapter) Repos() []string { return []string{"shop"} }

func (a *recordingAdapter) Search(_ context.Context, repo, query string, limit int) ([]evidence.SearchMatch, error) {
	a.searches++
	if a.searchErr != nil {
		return nil, a.searchErr
	}
	return []evidence.SearchMatch{{Path: "app/checkout.go", Line: 12, Preview: "func Checkout()"}}, nil
}

func (a *recordingAdapter) ReadFile(_ context.Context, repo, path, ref string) (string, error) {
	a.reads++
	if path == "missing.go" {
		return "", evidence.ErrNotFound
	}
	return "package app\n", nil
}

func (a *recordingAdapter) RecentCommits(context.Context, string, int) ([]evidence.Commit, error) {
	return nil, nil
}

func (a *recordingAdapter) QueryMetric(context.Context, string, map[string]any) (models.MetricSeries, error) {
	a.metrics++
	return models.MetricSeries{}, evidence.ErrUnavailable
}

func newSession(adapter evidence.Adapter, budget tools.Budget) *tools.Session {
	return tools.NewDispatcher(adapter, budget, nil).NewSession()
}

func call(name, args string) models.ToolCall {
	return models.ToolCall{Name: name, Arguments: json.RawMessage(args)}
}

func TestInvokeSearch(t *testing.T) {
	adapter := &recordingAdapter{}
	session := newSession(adapter, tools.Budget{})

	result := session.Invoke(context.Background(), call(models.ToolSearchRepo, `{"repo":"shop","query":"checkout"}`))
	require.True(t, result.OK)

	var payload struct {
		Matches []evidence.SearchMatch `json:"matches"`
	}
	require.NoError(t, json.Unmarshal(result.Payload, &payload))
	require.Len(t, payload.Matches, 1)
	assert.Equal(t, "app/checkout.go", payload.Matches[0].Path)
	assert.Equal(t, 1, adapter.searches)
}

func TestInvalidArgumentsNeverReachAdapter(t *testing.T) {
	adapter := &recordingAdapter{}
	session := newSession(adapter, tools.Budget{})

	cases := []models.ToolCall{
		call(models.ToolSearchRepo, `{"repo":"shop"}`),
		call(models.ToolSearchRepo, `{"repo":"shop","query":"   "}`),
		call(models.ToolSearchRepo, `{"repo":"shop","query":"x","extra":true}`),
		call(models.ToolReadFile, `{"path":"a.go"}`),
		call(models.ToolRunMetricQuery, `{}`),
		call(models.ToolSearchRepo, `not json`),
		call("unknown_tool", `{}`),
	}
	for _, c := range cases {
		result := session.Invoke(context.Background(), c)
		assert.False(t, result.OK, "call %s %s", c.Name, c.Arguments)
		assert.Equal(t, models.ErrKindInvalidArguments, result.ErrorKind)
	}
	assert.Zero(t, adapter.searches, "validation failures must not touch the adapter")
	assert.Zero(t, adapter.reads)
	assert.Zero(t, adapter.metrics)
}

func TestReadFileNotFound(t *testing.T) {
	session := newSession(&recordingAdapter{}, tools.Budget{})

	result := session.Invoke(context.Background(), call(models.ToolReadFile, `{"repo":"shop","path":"missing.go"}`))
	assert.False(t, result.OK)
	assert.Equal(t, models.ErrKindNotFound, result.ErrorKind)
}

func TestSearchAdapterError(t *testing.T) {
	adapter := &recordingAdapter{searchErr: errors.New("index down")}
	session := newSession(adapter, tools.Budget{})

	result := session.Invoke(context.Background(), call(models.ToolSearchRepo, `{"repo":"shop","query":"checkout"}`))
	assert.False(t, result.OK)
	assert.Equal(t, models.ErrKindAdapterError, result.ErrorKind)
}

func TestMetricQueryUnavailableIsContractualOK(t *testing.T) {
	session := newSession(&recordingAdapter{}, tools.Budget{})

	result := session.Invoke(context.Background(), call(models.ToolRunMetricQuery, `{"source":"prometheus","params":{"query":"up"}}`))
	require.True(t, result.OK)

	var payload struct {
		Status string `json:"status"`
	}
	require.NoError(t, json.Unmarshal(result.Payload, &payload))
	assert.Equal(t, "unavailable", payload.Status)
}

func TestCallCountBudget(t *testing.T) {
	adapter := &recordingAdapter{}
	session := newSession(adapter, tools.Budget{MaxCalls: 2, MaxSessionTime: time.Minute})

	good := call(models.ToolSearchRepo, `{"repo":"shop","query":"checkout"}`)
	require.True(t, session.Invoke(context.Background(), good).OK)
	require.True(t, session.Invoke(context.Background(), good).OK)
	assert.True(t, session.Exhausted())

	result := session.Invoke(context.Background(), good)
	assert.False(t, result.OK)
	assert.Equal(t, models.ErrKindBudgetExceeded, result.ErrorKind)
	assert.Equal(t, 2, adapter.searches, "rejected calls must not reach the adapter")
}

func TestBudgetDoesNotSpanSessions(t *testing.T) {
	adapter := &recordingAdapter{}
	dispatcher := tools.NewDispatcher(adapter, tools.Budget{MaxCalls: 1, MaxSessionTime: time.Minute}, nil)
	good := call(models.ToolSearchRepo, `{"repo":"shop","query":"checkout"}`)

	first := dispatcher.NewSession()
	require.True(t, first.Invoke(context.Background(), good).OK)
	require.False(t, first.Invoke(context.Background(), good).OK)

	second := dispatcher.NewSession()
	assert.True(t, second.Invoke(context.Background(), good).OK, "a fresh session starts with a fresh budget")
}

func TestSessionLogKeepsCallOrder(t *testing.T) {
	session := newSession(&recordingAdapter{}, tools.Budget{})

	session.Invoke(context.Background(), call(models.ToolSearchRepo, `{"repo":"shop","query":"checkout"}`))
	session.Invoke(context.Background(), call(models.ToolReadFile, `{"repo":"shop","path":"app/checkout.go"}`))

	log := session.Log()
	require.Len(t, log, 2)
	assert.Equal(t, models.ToolSearchRepo, log[0].Call.Name)
	assert.Equal(t, models.ToolReadFile, log[1].Call.Name)
}

func TestSchemasCoverToolSet(t *testing.T) {
	schemas := tools.Schemas()
	require.Len(t, schemas, 3)

	names := make(map[string]bool)
	for _, s := range schemas {
		names[s.Name] = true
		assert.NotEmpty(t, s.Description)
		assert.Equal(t, "object", s.Parameters["type"])
	}
	assert.True(t, names[models.ToolSearchRepo])
	assert.True(t, names[models.ToolReadFile])
	assert.True(t, names[models.ToolRunMetricQuery])
}
