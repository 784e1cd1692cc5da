package triage

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/triagestack/triage-engine/internal/metrics"
	"github.com/triagestack/triage-engine/internal/models"
	"github.com/triagestack/triage-engine/internal/reasoning"
	"github.com/triagestack/triage-engine/internal/responder"
	"github.com/triagestack/triage-engine/internal/store"
	"github.com/triagestack/triage-engine/internal/tools"
	"github.com/triagestack/triage-engine/internal/utils"
)

// Service executes triage jobs end to end. One call per job; per-key
// ordering is the pool's responsibility.
type Service struct {
	store      store.Store
	builder    *ContextBuilder
	dispatcher *tools.Dispatcher
	agent      reasoning.Agent
	fallback   *reasoning.Fallback
	responder  responder.Responder
	jobTimeout time.Duration
	latency    *utils.LatencyTracker
	logger     *slog.Logger
}

// NewService wires the job executor. agent may be nil when the reasoning
// backend is disabled; every job then takes the fallback path.
func NewService(st store.Store, builder *ContextBuilder, dispatcher *tools.Dispatcher, agent reasoning.Agent, fallback *reasoning.Fallback, resp responder.Responder, jobTimeout time.Duration, logger *slog.Logger) *Service {
	if jobTimeout <= 0 {
		jobTimeout = 90 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:      st,
		builder:    builder,
		dispatcher: dispatcher,
		agent:      agent,
		fallback:   fallback,
		responder:  resp,
		jobTimeout: jobTimeout,
		latency:    utils.NewLatencyTracker(256),
		logger:     logger,
	}
}

// RunJob records the triggering request and executes one triage job under
// the job deadline. The fallback guarantees a result even when reasoning
// fails or the deadline expires mid-flight; only a panic or a store
// failure ends a job without one.
func (s *Service) RunJob(ctx context.Context, req models.TriageRequest, cmd models.Command) {
	start := time.Now()
	outcome := metrics.OutcomeFailed

	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("triage job panicked",
				slog.String("incident_key", req.IncidentKey), slog.Any("panic", r))
			s.notifyFailure(req.IncidentKey)
		}
		metrics.ObserveJob(time.Since(start), outcome)
		s.latency.Observe(time.Since(start))
	}()

	ctx, cancel := context.WithTimeout(ctx, s.jobTimeout)
	defer cancel()

	if err := s.store.UpsertRequest(ctx, req.IncidentKey, req, cmd); err != nil {
		s.logger.Error("record request failed",
			slog.String("incident_key", req.IncidentKey), slog.Any("error", err))
		s.notifyFailure(req.IncidentKey)
		return
	}

	packet := s.builder.Build(ctx, req)
	result, producedBy := s.produce(ctx, req, packet)
	outcome = producedBy

	// Persistence and delivery must survive job deadline expiry.
	tail, tailCancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer tailCancel()

	if err := s.store.AppendResult(tail, req.IncidentKey, result); err != nil {
		s.logger.Error("append result failed",
			slog.String("incident_key", req.IncidentKey), slog.Any("error", err))
		outcome = metrics.OutcomeFailed
		s.notifyFailure(req.IncidentKey)
		return
	}

	s.send(tail, responder.Reply{
		IncidentKey: req.IncidentKey,
		Kind:        responder.KindResult,
		Text:        responder.FormatResult(result),
	})
	s.logger.Info("triage job finished",
		slog.String("incident_key", req.IncidentKey),
		slog.String("produced_by", string(result.ProducedBy)),
		slog.Duration("elapsed", time.Since(start)))
}

// produce tries the reasoning step once and falls back on any error.
// Reasoning failures are never retried inside a job.
func (s *Service) produce(ctx context.Context, req models.TriageRequest, packet models.ContextPacket) (models.RCAResult, string) {
	if s.agent != nil {
		session := s.dispatcher.NewSession()
		result, err := s.agent.ProduceFinding(ctx, req, packet, session)
		if err == nil {
			return result, metrics.OutcomeReasoning
		}
		s.logger.Warn("reasoning failed, using fallback",
			slog.String("incident_key", req.IncidentKey),
			slog.Int("tool_calls", len(session.Log())),
			slog.Any("error", err))
	}
	return s.fallback.Analyze(req, packet), metrics.OutcomeFallback
}

// Status answers a status request synchronously from the store.
func (s *Service) Status(ctx context.Context, key string) (string, error) {
	record, err := s.store.Get(ctx, key)
	if errors.Is(err, store.ErrNoIncident) {
		return responder.StatusUnknown(), nil
	}
	if err != nil {
		return "", utils.NewAppError("triage.status", "status read failed", err)
	}
	return responder.FormatStatus(record), nil
}

// SendStatus formats and delivers a status reply.
func (s *Service) SendStatus(ctx context.Context, key string) error {
	text, err := s.Status(ctx, key)
	if err != nil {
		return err
	}
	return s.responder.Send(ctx, responder.Reply{IncidentKey: key, Kind: responder.KindStatus, Text: text})
}

// SendPing answers a liveness probe message.
func (s *Service) SendPing(ctx context.Context, key string) error {
	return s.responder.Send(ctx, responder.Reply{
		IncidentKey: key,
		Kind:        responder.KindNotice,
		Text:        "triage engine is online",
	})
}

// SendNoRerunContext explains that a bare rerun needs prior context.
func (s *Service) SendNoRerunContext(ctx context.Context, key string) error {
	return s.responder.Send(ctx, responder.Reply{
		IncidentKey: key,
		Kind:        responder.KindNotice,
		Text:        "I couldn't find prior triage context to rerun. Please provide details about the issue first.",
	})
}

// SendProductUsage explains the product query syntax.
func (s *Service) SendProductUsage(ctx context.Context, key string) error {
	return s.responder.Send(ctx, responder.Reply{
		IncidentKey: key,
		Kind:        responder.KindNotice,
		Text:        "Use `/product <question>` to search product docs. Example: `/product pod adjust requirements`.",
	})
}

// RerunRequest builds the request a rerun executes: fresh text when the
// caller supplied it, the recorded request otherwise. ErrNoIncident when
// there is nothing to rerun and no replacement text.
func (s *Service) RerunRequest(ctx context.Context, key, sender, remainder string) (models.TriageRequest, error) {
	if remainder != "" {
		return models.TriageRequest{
			IncidentKey: key,
			Sender:      sender,
			RawText:     remainder,
			RequestedAt: time.Now().UTC(),
		}, nil
	}
	record, err := s.store.Get(ctx, key)
	if err != nil {
		return models.TriageRequest{}, err
	}
	req := record.LatestRequest
	req.RequestedAt = time.Now().UTC()
	return req, nil
}

// RunProductQuery answers a documentation lookup. The answer goes out
// through the responder and is never persisted to incident history.
func (s *Service) RunProductQuery(ctx context.Context, key, query string) {
	ctx, cancel := context.WithTimeout(ctx, s.jobTimeout)
	defer cancel()

	snippets := s.builder.ProductSnippets(ctx, query)
	s.send(ctx, responder.Reply{
		IncidentKey: key,
		Kind:        responder.KindProduct,
		Text:        responder.FormatProductAnswer(query, snippets),
	})
}

// LatencyPercentile exposes recent job latency for the health surface.
func (s *Service) LatencyPercentile(p float64) time.Duration {
	return s.latency.Percentile(p)
}

func (s *Service) notifyFailure(key string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	s.send(ctx, responder.Reply{
		IncidentKey: key,
		Kind:        responder.KindFailure,
		Text:        responder.FormatFailure(key),
	})
}

func (s *Service) send(ctx context.Context, reply responder.Reply) {
	if err := s.responder.Send(ctx, reply); err != nil {
		s.logger.Error("reply delivery failed",
			slog.String("incident_key", reply.IncidentKey),
			slog.String("kind", string(reply.Kind)),
			slog.Any("error", err))
	}
}
