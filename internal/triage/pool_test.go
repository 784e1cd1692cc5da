package triage_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/triagestack/triage-engine/internal/models"
	"github.com/triagestack/triage-engine/internal/triage"
)

func TestPoolPerKeyOrdering(t *testing.T) {
	h := newHarness(t, &stubAgent{})
	pool := triage.NewPool(h.service, 2, 8, nil)
	defer pool.Close()

	first := triageRequest("first report")
	second := triageRequest("second report")

	require.NoError(t, pool.SubmitTriage(first, models.CommandTriage))
	require.NoError(t, pool.SubmitTriage(second, models.CommandRerun))

	replies := h.responder.wait(t, 2)
	assert.Contains(t, replies[0].Text, "first report")
	assert.Contains(t, replies[1].Text, "second report", "same-key jobs apply in FIFO order")

	record, err := h.store.Get(context.Background(), first.IncidentKey)
	require.NoError(t, err)
	require.Len(t, record.History, 2)
	assert.Contains(t, record.LatestResult.Finding, "second report")
	assert.Equal(t, models.CommandRerun, record.LastCommand)
}

func TestPoolBusyRejection(t *testing.T) {
	agent := &stubAgent{started: make(chan struct{}, 1), release: make(chan struct{})}
	h := newHarness(t, agent)
	pool := triage.NewPool(h.service, 1, 1, nil)
	defer pool.Close()

	running := triageRequest("running job")
	require.NoError(t, pool.SubmitTriage(running, models.CommandTriage))

	select {
	case <-agent.started:
	case <-time.After(5 * time.Second):
		t.Fatal("first job never started")
	}

	require.NoError(t, pool.SubmitTriage(triageRequest("queued job"), models.CommandTriage))

	err := pool.SubmitTriage(triageRequest("rejected job"), models.CommandTriage)
	assert.ErrorIs(t, err, triage.ErrBusy, "full per-key queue rejects without queueing")

	close(agent.release)
	h.responder.wait(t, 2)
}

func TestPoolIndependentKeysRunConcurrently(t *testing.T) {
	agent := &stubAgent{started: make(chan struct{}, 2), release: make(chan struct{})}
	h := newHarness(t, agent)
	pool := triage.NewPool(h.service, 2, 4, nil)
	defer pool.Close()

	reqA := triageRequest("alpha incident")
	reqB := triageRequest("beta incident")
	reqB.IncidentKey = "ops::other-topic"

	require.NoError(t, pool.SubmitTriage(reqA, models.CommandTriage))
	require.NoError(t, pool.SubmitTriage(reqB, models.CommandTriage))

	// Both jobs must be in flight at once before either is released.
	for i := 0; i < 2; i++ {
		select {
		case <-agent.started:
		case <-time.After(5 * time.Second):
			t.Fatal("jobs for independent keys did not run concurrently")
		}
	}
	close(agent.release)
	h.responder.wait(t, 2)
}

func TestPoolClosedRejectsSubmissions(t *testing.T) {
	h := newHarness(t, &stubAgent{})
	pool := triage.NewPool(h.service, 1, 2, nil)
	pool.Close()

	err := pool.SubmitTriage(triageRequest("late job"), models.CommandTriage)
	assert.ErrorIs(t, err, triage.ErrPoolClosed)
}
