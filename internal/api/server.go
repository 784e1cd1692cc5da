// Package api exposes the inbound event boundary over HTTP. The transport
// collaborator posts chat events here; handlers only route and enqueue,
// keeping transport cadence decoupled from worker scheduling.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/triagestack/triage-engine/internal/router"
	"github.com/triagestack/triage-engine/internal/store"
	"github.com/triagestack/triage-engine/internal/triage"
)

// Server hosts the event intake and incident read endpoints.
type Server struct {
	router  *router.Router
	service *triage.Service
	pool    *triage.Pool
	store   store.Store
	logger  *slog.Logger
	http    *http.Server
}

// NewServer wires handlers onto a chi router.
func NewServer(addr string, rt *router.Router, service *triage.Service, pool *triage.Pool, st store.Store, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		router:  rt,
		service: service,
		pool:    pool,
		store:   st,
		logger:  logger,
	}

	r := chi.NewRouter()
	r.Use(requestLogger(logger))
	r.Use(recovery(logger))

	r.Get("/healthz", s.handleHealth)
	r.Post("/api/v1/events", s.handleEvent)
	r.Get("/api/v1/incidents/{key}", s.handleGetIncident)

	s.http = &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler exposes the route tree, mainly for tests.
func (s *Server) Handler() http.Handler { return s.http.Handler }

// Start blocks serving HTTP until Shutdown or a listener error.
func (s *Server) Start() error {
	s.logger.Info("http server listening", slog.String("addr", s.http.Addr))
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}
