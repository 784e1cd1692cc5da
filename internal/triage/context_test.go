package triage_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/triagestack/triage-engine/internal/cache"
	"github.com/triagestack/triage-engine/internal/evidence"
	"github.com/triagestack/triage-engine/internal/models"
	"github.com/triagestack/triage-engine/internal/triage"
)

// countingAdapter serves canned matches and counts searches so tests can
// observe cache behaviour.
type countingAdapter struct {
	searches  atomic.Int64
	searchErr error
}

func (a *countingAdapter) Name() string    { return "local" }
func (a *countingAdapter) Repos() []string { return []string{"shop"} }

func (a *countingAdapter) Search(_ context.Context, _, query string, _ int) ([]evidence.SearchMatch, error) {
	a.searches.Add(1)
	if a.searchErr != nil {
		return nil, a.searchErr
	}
	if query != "checkout" {
		return nil, nil
	}
	return []evidence.SearchMatch{
		{Path: "app/checkout.go", Line: 3, Preview: "func Checkout()"},
		{Path: "docs/runbook.md", Line: 1, Preview: "# Checkout runbook"},
	}, nil
}

func (a *countingAdapter) ReadFile(_ context.Context, _, path, _ string) (string, error) {
	if path == "app/checkout.go" {
		return "package app\n\nfunc Checkout() error {\n\treturn nil\n}\n", nil
	}
	return "", evidence.ErrNotFound
}

func (a *countingAdapter) RecentCommits(context.Context, string, int) ([]evidence.Commit, error) {
	return []evidence.Commit{{SHA: "abc1234", Author: "dev", Date: "2026-08-27", Message: "tighten timeout"}}, nil
}

func (a *countingAdapter) QueryMetric(context.Context, string, map[string]any) (models.MetricSeries, error) {
	return models.MetricSeries{}, evidence.ErrUnavailable
}

type stubThreads struct {
	msgs []models.ThreadMessage
	err  error
}

func (s *stubThreads) FetchThread(context.Context, models.ThreadRef) ([]models.ThreadMessage, error) {
	return s.msgs, s.err
}

func builderOpts() triage.BuilderOptions {
	return triage.BuilderOptions{
		KeywordLimit:   4,
		MaxSnippets:    4,
		SnippetContext: 1,
		SearchTTL:      time.Minute,
		ThreadTTL:      time.Minute,
	}
}

func triageRequest(text string) models.TriageRequest {
	return models.TriageRequest{
		IncidentKey: "ops::checkout",
		Sender:      "oncall",
		RawText:     text,
		RequestedAt: time.Now(),
	}
}

func TestBuildGathersSnippets(t *testing.T) {
	adapter := &countingAdapter{}
	builder := triage.NewContextBuilder(adapter, cache.NewContextCache(64, nil), nil, builderOpts(), nil)

	packet := builder.Build(context.Background(), triageRequest("checkout broken since deploy"))
	require.NotEmpty(t, packet.CodeSnippets)

	first := packet.CodeSnippets[0]
	assert.Equal(t, "shop", first.Repo)
	assert.Equal(t, "app/checkout.go", first.Path)
	assert.Contains(t, first.Excerpt, "func Checkout()", "readable files widen to a window")

	// Unreadable file falls back to the preview line.
	second := packet.CodeSnippets[1]
	assert.Equal(t, "# Checkout runbook", second.Excerpt)
}

func TestBuildUsesCachedSearches(t *testing.T) {
	adapter := &countingAdapter{}
	builder := triage.NewContextBuilder(adapter, cache.NewContextCache(64, nil), nil, builderOpts(), nil)
	req := triageRequest("checkout broken")

	builder.Build(context.Background(), req)
	first := adapter.searches.Load()
	builder.Build(context.Background(), req)

	assert.Equal(t, first, adapter.searches.Load(), "repeat build must hit the cache")
}

func TestBuildSearchFailureOmitsSource(t *testing.T) {
	adapter := &countingAdapter{searchErr: errors.New("scan failed")}
	builder := triage.NewContextBuilder(adapter, cache.NewContextCache(64, nil), nil, builderOpts(), nil)

	packet := builder.Build(context.Background(), triageRequest("checkout broken"))
	assert.Empty(t, packet.CodeSnippets, "failed source is omitted, not fatal")
}

func TestBuildThreadContext(t *testing.T) {
	adapter := &countingAdapter{}
	threads := &stubThreads{msgs: []models.ThreadMessage{{Author: "dev", Text: "started after the 14:00 deploy"}}}
	builder := triage.NewContextBuilder(adapter, cache.NewContextCache(64, nil), threads, builderOpts(), nil)

	req := triageRequest("checkout broken")
	req.ThreadRefs = []models.ThreadRef{{Stream: "ops", Topic: "checkout"}}

	packet := builder.Build(context.Background(), req)
	require.Len(t, packet.ThreadMessages, 1)
	assert.Equal(t, "dev", packet.ThreadMessages[0].Author)
}

func TestBuildThreadFailureOmitted(t *testing.T) {
	adapter := &countingAdapter{}
	threads := &stubThreads{err: errors.New("history unavailable")}
	builder := triage.NewContextBuilder(adapter, cache.NewContextCache(64, nil), threads, builderOpts(), nil)

	req := triageRequest("checkout broken")
	req.ThreadRefs = []models.ThreadRef{{Stream: "ops", Topic: "checkout"}}

	packet := builder.Build(context.Background(), req)
	assert.Empty(t, packet.ThreadMessages)
	assert.NotEmpty(t, packet.CodeSnippets, "code evidence still gathered")
}

func TestBuildIncludesCommitNote(t *testing.T) {
	adapter := &countingAdapter{}
	opts := builderOpts()
	opts.IncludeCommits = true
	builder := triage.NewContextBuilder(adapter, cache.NewContextCache(64, nil), nil, opts, nil)

	packet := builder.Build(context.Background(), triageRequest("checkout broken"))
	require.Len(t, packet.RecentCommits, 1)
	assert.Contains(t, packet.RecentCommits[0], "abc1234")
}

func TestProductSnippetsFilterDocPaths(t *testing.T) {
	adapter := &countingAdapter{}
	builder := triage.NewContextBuilder(adapter, cache.NewContextCache(64, nil), nil, builderOpts(), nil)

	snippets := builder.ProductSnippets(context.Background(), "checkout runbook")
	require.NotEmpty(t, snippets)
	for _, s := range snippets {
		assert.Equal(t, "docs/runbook.md", s.Path, "only doc-like paths may answer product queries")
	}
}
