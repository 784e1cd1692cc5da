// Package store owns IncidentRecord lifetime: one record per incident key,
// mutated only through the operations below, with per-key atomic
// read/modify/write so concurrent jobs cannot interleave partial updates.
package store

import (
	"context"
	"errors"

	"github.com/triagestack/triage-engine/internal/models"
)

// ErrNoIncident reports a status or rerun against an unknown key. It is an
// informational signal, not a failure.
var ErrNoIncident = errors.New("no incident recorded for this key")

// Store is the single source of truth for per-incident state.
type Store interface {
	// Get returns a snapshot of the record for key, or ErrNoIncident.
	Get(ctx context.Context, key string) (models.IncidentRecord, error)
	// UpsertRequest records the triggering request and command for key,
	// creating the record on first trigger.
	UpsertRequest(ctx context.Context, key string, req models.TriageRequest, cmd models.Command) error
	// AppendResult appends a finished result, trims history to the cap
	// (oldest evicted first) and advances LatestResult unless a newer
	// result has already been applied.
	AppendResult(ctx context.Context, key string, res models.RCAResult) error
	Close() error
}
