package store

import (
	"context"
	"sync"

	"github.com/triagestack/triage-engine/internal/models"
)

// MemoryStore keeps incident records in process memory. Records live for
// the process lifetime; there is no explicit deletion.
type MemoryStore struct {
	mu         sync.Mutex
	records    map[string]*models.IncidentRecord
	historyCap int
}

// NewMemoryStore creates a store trimming history to historyCap entries per key.
func NewMemoryStore(historyCap int) *MemoryStore {
	if historyCap <= 0 {
		historyCap = 20
	}
	return &MemoryStore{
		records:    make(map[string]*models.IncidentRecord),
		historyCap: historyCap,
	}
}

// Get returns a copy of the record so callers never observe concurrent mutation.
func (s *MemoryStore) Get(_ context.Context, key string) (models.IncidentRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[key]
	if !ok {
		return models.IncidentRecord{}, ErrNoIncident
	}
	return snapshot(rec), nil
}

// UpsertRequest records the triggering request, creating the record on first use.
func (s *MemoryStore) UpsertRequest(_ context.Context, key string, req models.TriageRequest, cmd models.Command) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[key]
	if !ok {
		rec = &models.IncidentRecord{Key: key}
		s.records[key] = rec
	}
	rec.LatestRequest = req
	rec.LastCommand = cmd
	return nil
}

// AppendResult appends res to history and advances LatestResult unless a
// newer result was already applied (monotonic apply).
func (s *MemoryStore) AppendResult(_ context.Context, key string, res models.RCAResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[key]
	if !ok {
		rec = &models.IncidentRecord{Key: key}
		s.records[key] = rec
	}

	rec.History = append(rec.History, res)
	if over := len(rec.History) - s.historyCap; over > 0 {
		rec.History = append(rec.History[:0:0], rec.History[over:]...)
	}

	if rec.LatestResult == nil || !rec.LatestResult.ProducedAt.After(res.ProducedAt) {
		stored := res
		rec.LatestResult = &stored
	}
	return nil
}

// Close is a no-op for the in-memory driver.
func (s *MemoryStore) Close() error { return nil }

func snapshot(rec *models.IncidentRecord) models.IncidentRecord {
	out := *rec
	out.History = append([]models.RCAResult(nil), rec.History...)
	if rec.LatestResult != nil {
		latest := *rec.LatestResult
		out.LatestResult = &latest
	}
	return out
}
