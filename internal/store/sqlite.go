package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/triagestack/triage-engine/internal/models"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS incidents (
	key           TEXT PRIMARY KEY,
	sender        TEXT NOT NULL DEFAULT '',
	raw_text      TEXT NOT NULL DEFAULT '',
	thread_refs   TEXT NOT NULL DEFAULT '[]',
	requested_at  TIMESTAMP,
	last_command  TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS results (
	id            TEXT PRIMARY KEY,
	incident_key  TEXT NOT NULL,
	finding       TEXT NOT NULL,
	confidence    TEXT NOT NULL,
	evidence_refs TEXT NOT NULL DEFAULT '[]',
	next_steps    TEXT NOT NULL DEFAULT '[]',
	produced_by   TEXT NOT NULL,
	produced_at   TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_results_key_time ON results(incident_key, produced_at);
`

// SQLiteStore persists incident records in a single SQLite file so triage
// history survives process restarts.
type SQLiteStore struct {
	mu         sync.Mutex
	db         *sql.DB
	historyCap int
}

// NewSQLiteStore opens (creating if needed) the database at path.
func NewSQLiteStore(path string, historyCap int) (*SQLiteStore, error) {
	if historyCap <= 0 {
		historyCap = 20
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite store: %w", err)
	}
	// modernc sqlite allows one writer; a single connection avoids
	// SQLITE_BUSY churn under concurrent workers.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply sqlite schema: %w", err)
	}
	return &SQLiteStore{db: db, historyCap: historyCap}, nil
}

// Get loads the record and its bounded history for key.
func (s *SQLiteStore) Get(ctx context.Context, key string) (models.IncidentRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec := models.IncidentRecord{Key: key}

	var threadRefs string
	var requestedAt sql.NullTime
	var lastCommand string
	row := s.db.QueryRowContext(ctx,
		`SELECT sender, raw_text, thread_refs, requested_at, last_command FROM incidents WHERE key = ?`, key)
	err := row.Scan(&rec.LatestRequest.Sender, &rec.LatestRequest.RawText, &threadRefs, &requestedAt, &lastCommand)
	if errors.Is(err, sql.ErrNoRows) {
		return models.IncidentRecord{}, ErrNoIncident
	}
	if err != nil {
		return models.IncidentRecord{}, fmt.Errorf("load incident %s: %w", key, err)
	}
	rec.LatestRequest.IncidentKey = key
	if requestedAt.Valid {
		rec.LatestRequest.RequestedAt = requestedAt.Time
	}
	rec.LastCommand = models.Command(lastCommand)
	if err := json.Unmarshal([]byte(threadRefs), &rec.LatestRequest.ThreadRefs); err != nil {
		rec.LatestRequest.ThreadRefs = nil
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, finding, confidence, evidence_refs, next_steps, produced_by, produced_at
		 FROM results WHERE incident_key = ? ORDER BY produced_at ASC, rowid ASC`, key)
	if err != nil {
		return models.IncidentRecord{}, fmt.Errorf("load results for %s: %w", key, err)
	}
	defer rows.Close()

	for rows.Next() {
		var res models.RCAResult
		var evidenceRefs, nextSteps, producedBy, confidence string
		var producedAt time.Time
		if err := rows.Scan(&res.ID, &res.Finding, &confidence, &evidenceRefs, &nextSteps, &producedBy, &producedAt); err != nil {
			return models.IncidentRecord{}, fmt.Errorf("scan result for %s: %w", key, err)
		}
		res.IncidentKey = key
		res.Confidence = models.Confidence(confidence)
		res.ProducedBy = models.Producer(producedBy)
		res.ProducedAt = producedAt
		_ = json.Unmarshal([]byte(evidenceRefs), &res.EvidenceRefs)
		_ = json.Unmarshal([]byte(nextSteps), &res.NextSteps)
		rec.History = append(rec.History, res)
	}
	if err := rows.Err(); err != nil {
		return models.IncidentRecord{}, fmt.Errorf("iterate results for %s: %w", key, err)
	}

	for i := range rec.History {
		res := rec.History[i]
		if rec.LatestResult == nil || !rec.LatestResult.ProducedAt.After(res.ProducedAt) {
			latest := res
			rec.LatestResult = &latest
		}
	}
	return rec, nil
}

// UpsertRequest writes the triggering request, creating the row on first trigger.
func (s *SQLiteStore) UpsertRequest(ctx context.Context, key string, req models.TriageRequest, cmd models.Command) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	threadRefs, err := json.Marshal(req.ThreadRefs)
	if err != nil {
		return fmt.Errorf("encode thread refs: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO incidents (key, sender, raw_text, thread_refs, requested_at, last_command)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			sender = excluded.sender,
			raw_text = excluded.raw_text,
			thread_refs = excluded.thread_refs,
			requested_at = excluded.requested_at,
			last_command = excluded.last_command`,
		key, req.Sender, req.RawText, string(threadRefs), req.RequestedAt, string(cmd))
	if err != nil {
		return fmt.Errorf("upsert incident %s: %w", key, err)
	}
	return nil
}

// AppendResult inserts the result and trims history beyond the cap in one transaction.
func (s *SQLiteStore) AppendResult(ctx context.Context, key string, res models.RCAResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	evidenceRefs, err := json.Marshal(res.EvidenceRefs)
	if err != nil {
		return fmt.Errorf("encode evidence refs: %w", err)
	}
	nextSteps, err := json.Marshal(res.NextSteps)
	if err != nil {
		return fmt.Errorf("encode next steps: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin append tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO incidents (key) VALUES (?)`, key); err != nil {
		return fmt.Errorf("ensure incident %s: %w", key, err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO results (id, incident_key, finding, confidence, evidence_refs, next_steps, produced_by, produced_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		res.ID, key, res.Finding, string(res.Confidence), string(evidenceRefs), string(nextSteps),
		string(res.ProducedBy), res.ProducedAt); err != nil {
		return fmt.Errorf("insert result for %s: %w", key, err)
	}

	if _, err := tx.ExecContext(ctx, `
		DELETE FROM results WHERE incident_key = ? AND id NOT IN (
			SELECT id FROM results WHERE incident_key = ?
			ORDER BY produced_at DESC, rowid DESC LIMIT ?
		)`, key, key, s.historyCap); err != nil {
		return fmt.Errorf("trim history for %s: %w", key, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit append for %s: %w", key, err)
	}
	return nil
}

// Close releases the database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
