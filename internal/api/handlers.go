package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/triagestack/triage-engine/internal/metrics"
	"github.com/triagestack/triage-engine/internal/models"
	"github.com/triagestack/triage-engine/internal/router"
	"github.com/triagestack/triage-engine/internal/store"
	"github.com/triagestack/triage-engine/internal/triage"
)

// eventRequest is one inbound chat event tuple.
type eventRequest struct {
	Stream     string      `json:"stream"`
	Topic      string      `json:"topic"`
	Sender     string      `json:"sender"`
	Text       string      `json:"text"`
	Direct     bool        `json:"direct"`
	Mentioned  bool        `json:"mentioned"`
	ThreadRefs []threadRef `json:"thread_refs,omitempty"`
}

type threadRef struct {
	Stream string `json:"stream"`
	Topic  string `json:"topic"`
}

type eventResponse struct {
	IncidentKey string `json:"incident_key"`
	Action      string `json:"action"`
	Detail      string `json:"detail,omitempty"`
}

func (s *Server) handleEvent(w http.ResponseWriter, r *http.Request) {
	var event eventRequest
	if err := json.NewDecoder(r.Body).Decode(&event); err != nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid event payload")
		return
	}
	if event.Text == "" {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "text is required")
		return
	}

	key := models.IncidentKey(event.Stream, event.Topic)
	msg := router.InboundMessage{
		Stream:    event.Stream,
		Topic:     event.Topic,
		Sender:    event.Sender,
		Text:      event.Text,
		Direct:    event.Direct,
		Mentioned: event.Mentioned,
	}
	for _, ref := range event.ThreadRefs {
		msg.ThreadRefs = append(msg.ThreadRefs, models.ThreadRef{Stream: ref.Stream, Topic: ref.Topic})
	}

	action := s.router.Route(msg)
	metrics.ObserveRoutedMessage(string(action.Kind))

	switch action.Kind {
	case router.ActionIgnore:
		writeData(w, http.StatusOK, eventResponse{IncidentKey: key, Action: string(action.Kind)})

	case router.ActionPing:
		s.reply(w, r, key, action, s.service.SendPing(r.Context(), key))

	case router.ActionStatus:
		s.reply(w, r, key, action, s.service.SendStatus(r.Context(), key))

	case router.ActionStartTriage:
		req := models.TriageRequest{
			IncidentKey: key,
			Sender:      event.Sender,
			RawText:     event.Text,
			ThreadRefs:  msg.ThreadRefs,
			RequestedAt: time.Now().UTC(),
		}
		s.enqueue(w, key, action, s.pool.SubmitTriage(req, models.CommandTriage))

	case router.ActionRerun:
		req, err := s.service.RerunRequest(r.Context(), key, event.Sender, action.Remainder)
		if errors.Is(err, store.ErrNoIncident) {
			s.reply(w, r, key, action, s.service.SendNoRerunContext(r.Context(), key))
			return
		}
		if err != nil {
			writeError(w, http.StatusInternalServerError, "STORE_ERROR", err.Error())
			return
		}
		req.ThreadRefs = append(req.ThreadRefs, msg.ThreadRefs...)
		s.enqueue(w, key, action, s.pool.SubmitTriage(req, models.CommandRerun))

	case router.ActionProductQuery:
		if action.Remainder == "" {
			s.reply(w, r, key, action, s.service.SendProductUsage(r.Context(), key))
			return
		}
		s.enqueue(w, key, action, s.pool.SubmitProduct(key, action.Remainder))

	default:
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "unhandled action")
	}
}

// enqueue maps pool submission outcomes onto HTTP statuses. A full queue
// is 429 so the transport can surface "busy, retry".
func (s *Server) enqueue(w http.ResponseWriter, key string, action router.Action, err error) {
	switch {
	case errors.Is(err, triage.ErrBusy):
		writeError(w, http.StatusTooManyRequests, "BUSY", "triage queue full, retry shortly")
	case errors.Is(err, triage.ErrPoolClosed):
		writeError(w, http.StatusServiceUnavailable, "SHUTTING_DOWN", "engine is shutting down")
	case err != nil:
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
	default:
		writeData(w, http.StatusAccepted, eventResponse{IncidentKey: key, Action: string(action.Kind), Detail: "queued"})
	}
}

func (s *Server) reply(w http.ResponseWriter, _ *http.Request, key string, action router.Action, err error) {
	if err != nil {
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}
	writeData(w, http.StatusOK, eventResponse{IncidentKey: key, Action: string(action.Kind), Detail: "replied"})
}

type incidentResponse struct {
	Key           string             `json:"key"`
	LastCommand   string             `json:"last_command"`
	LatestRequest requestResponse    `json:"latest_request"`
	LatestResult  *resultResponse    `json:"latest_result,omitempty"`
	History       []resultResponse   `json:"history"`
}

type requestResponse struct {
	Sender      string    `json:"sender"`
	RawText     string    `json:"raw_text"`
	RequestedAt time.Time `json:"requested_at"`
}

type resultResponse struct {
	ID           string    `json:"id"`
	Finding      string    `json:"finding"`
	Confidence   string    `json:"confidence"`
	EvidenceRefs []string  `json:"evidence_refs,omitempty"`
	NextSteps    []string  `json:"next_steps,omitempty"`
	ProducedBy   string    `json:"produced_by"`
	ProducedAt   time.Time `json:"produced_at"`
}

func (s *Server) handleGetIncident(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")

	record, err := s.store.Get(r.Context(), key)
	if errors.Is(err, store.ErrNoIncident) {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "no incident recorded for this key")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "STORE_ERROR", err.Error())
		return
	}

	resp := incidentResponse{
		Key:         record.Key,
		LastCommand: string(record.LastCommand),
		LatestRequest: requestResponse{
			Sender:      record.LatestRequest.Sender,
			RawText:     record.LatestRequest.RawText,
			RequestedAt: record.LatestRequest.RequestedAt,
		},
		History: make([]resultResponse, 0, len(record.History)),
	}
	for _, res := range record.History {
		resp.History = append(resp.History, renderResult(res))
	}
	if record.LatestResult != nil {
		latest := renderResult(*record.LatestResult)
		resp.LatestResult = &latest
	}
	writeData(w, http.StatusOK, resp)
}

func renderResult(res models.RCAResult) resultResponse {
	return resultResponse{
		ID:           res.ID,
		Finding:      res.Finding,
		Confidence:   string(res.Confidence),
		EvidenceRefs: res.EvidenceRefs,
		NextSteps:    res.NextSteps,
		ProducedBy:   string(res.ProducedBy),
		ProducedAt:   res.ProducedAt,
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeData(w, http.StatusOK, map[string]any{
		"status":      "ok",
		"queued_jobs": s.pool.QueuedJobs(),
		"job_p95_ms":  s.service.LatencyPercentile(95).Milliseconds(),
	})
}
