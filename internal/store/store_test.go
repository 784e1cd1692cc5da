package store_test

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/triagestack/triage-engine/internal/models"
	"github.com/triagestack/triage-engine/internal/store"
)

func newRequest(key, text string) models.TriageRequest {
	return models.TriageRequest{
		IncidentKey: key,
		Sender:      "oncall@example.com",
		RawText:     text,
		RequestedAt: time.Now().UTC().Truncate(time.Second),
	}
}

func newResult(key string, seq int, at time.Time) models.RCAResult {
	return models.RCAResult{
		ID:           fmt.Sprintf("res-%d", seq),
		IncidentKey:  key,
		Finding:      fmt.Sprintf("finding %d", seq),
		Confidence:   models.ConfidenceMedium,
		EvidenceRefs: []string{"svc:docs/runbook.md:12"},
		NextSteps:    []string{"check deploy log"},
		ProducedBy:   models.ProducedByReasoning,
		ProducedAt:   at,
	}
}

// drivers runs the same contract tests against every Store implementation.
func drivers(t *testing.T) map[string]store.Store {
	t.Helper()
	sqlitePath := filepath.Join(t.TempDir(), "triage.db")
	sqliteStore, err := store.NewSQLiteStore(sqlitePath, 3)
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqliteStore.Close() })

	return map[string]store.Store{
		"memory": store.NewMemoryStore(3),
		"sqlite": sqliteStore,
	}
}

func TestGetUnknownKeyReturnsNoIncident(t *testing.T) {
	for name, s := range drivers(t) {
		t.Run(name, func(t *testing.T) {
			_, err := s.Get(context.Background(), "ops::nothing-here")
			assert.ErrorIs(t, err, store.ErrNoIncident)
		})
	}
}

func TestUpsertThenGet(t *testing.T) {
	for name, s := range drivers(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			key := models.IncidentKey("ops", name)
			req := newRequest(key, "service X throwing 500s")

			require.NoError(t, s.UpsertRequest(ctx, key, req, models.CommandTriage))

			rec, err := s.Get(ctx, key)
			require.NoError(t, err)
			assert.Equal(t, key, rec.Key)
			assert.Equal(t, req.RawText, rec.LatestRequest.RawText)
			assert.Equal(t, models.CommandTriage, rec.LastCommand)
			assert.Nil(t, rec.LatestResult)
		})
	}
}

func TestHistoryTrimmedToCap(t *testing.T) {
	for name, s := range drivers(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			key := models.IncidentKey("ops", "trim-"+name)
			require.NoError(t, s.UpsertRequest(ctx, key, newRequest(key, "disk full"), models.CommandTriage))

			base := time.Now().UTC().Truncate(time.Second)
			for i := 0; i < 5; i++ {
				require.NoError(t, s.AppendResult(ctx, key, newResult(key, i, base.Add(time.Duration(i)*time.Second))))
			}

			rec, err := s.Get(ctx, key)
			require.NoError(t, err)
			require.Len(t, rec.History, 3, "history must be trimmed to the cap")
			// Oldest evicted first, most recent last.
			assert.Equal(t, "finding 2", rec.History[0].Finding)
			assert.Equal(t, "finding 4", rec.History[2].Finding)
			require.NotNil(t, rec.LatestResult)
			assert.Equal(t, "finding 4", rec.LatestResult.Finding)
		})
	}
}

func TestAppendResultMonotonicLatest(t *testing.T) {
	// A stale result arriving after a newer one must not regress LatestResult.
	for name, s := range drivers(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			key := models.IncidentKey("ops", "mono-"+name)

			base := time.Now().UTC().Truncate(time.Second)
			newer := newResult(key, 1, base.Add(10*time.Second))
			stale := newResult(key, 0, base)

			require.NoError(t, s.AppendResult(ctx, key, newer))
			require.NoError(t, s.AppendResult(ctx, key, stale))

			rec, err := s.Get(ctx, key)
			require.NoError(t, err)
			require.NotNil(t, rec.LatestResult)
			assert.Equal(t, newer.ID, rec.LatestResult.ID)
			assert.Len(t, rec.History, 2, "both results remain in history")
		})
	}
}

func TestSequentialResultsAppendInOrder(t *testing.T) {
	for name, s := range drivers(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			key := models.IncidentKey("ops", "order-"+name)

			base := time.Now().UTC().Truncate(time.Second)
			first := newResult(key, 1, base)
			second := newResult(key, 2, base.Add(time.Second))

			require.NoError(t, s.AppendResult(ctx, key, first))
			require.NoError(t, s.AppendResult(ctx, key, second))

			rec, err := s.Get(ctx, key)
			require.NoError(t, err)
			require.Len(t, rec.History, 2)
			assert.Equal(t, first.ID, rec.History[0].ID)
			assert.Equal(t, second.ID, rec.History[1].ID)
			assert.Equal(t, second.ID, rec.LatestResult.ID)
		})
	}
}

func TestSQLiteSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "persist.db")
	ctx := context.Background()
	key := models.IncidentKey("ops", "persist")

	first, err := store.NewSQLiteStore(path, 5)
	require.NoError(t, err)
	require.NoError(t, first.UpsertRequest(ctx, key, newRequest(key, "checkout latency spike"), models.CommandTriage))
	require.NoError(t, first.AppendResult(ctx, key, newResult(key, 1, time.Now().UTC().Truncate(time.Second))))
	require.NoError(t, first.Close())

	second, err := store.NewSQLiteStore(path, 5)
	require.NoError(t, err)
	defer second.Close()

	rec, err := second.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, "checkout latency spike", rec.LatestRequest.RawText)
	require.NotNil(t, rec.LatestResult)
	assert.Equal(t, "finding 1", rec.LatestResult.Finding)
}
