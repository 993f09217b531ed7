// SPDX-License-Identifier: MIT

// Package api provides the HTTP surface of the daemon: the streaming
// endpoints, transition queries, and operational probes.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/tablebuzz/tablebuzz/internal/bus"
	"github.com/tablebuzz/tablebuzz/internal/config"
	"github.com/tablebuzz/tablebuzz/internal/health"
	"github.com/tablebuzz/tablebuzz/internal/log"
	"github.com/tablebuzz/tablebuzz/internal/session"
	"github.com/tablebuzz/tablebuzz/internal/transition"
)

// Server wires the domain components behind the HTTP router.
type Server struct {
	cfg       config.Config
	engine    *transition.Engine
	store     session.Store
	hub       *bus.Hub
	health    *health.Manager
	jwtSecret []byte
	logger    zerolog.Logger
}

// NewServer constructs the API server around the given components.
func NewServer(cfg config.Config, engine *transition.Engine, store session.Store, hub *bus.Hub, healthMgr *health.Manager) *Server {
	return &Server{
		cfg:       cfg,
		engine:    engine,
		store:     store,
		hub:       hub,
		health:    healthMgr,
		jwtSecret: []byte(cfg.JWTSecret),
		logger:    log.WithComponent("api"),
	}
}

// Router builds the chi router with the full middleware stack applied.
func (s *Server) Router() *chi.Mux {
	r := chi.NewRouter()
	r.Use(recoverer)
	r.Use(requestID)
	r.Use(requestLogger)

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)

	r.Route("/api", func(r chi.Router) {
		r.Use(rateLimit(s.cfg.RateLimitRPS, s.cfg.RateLimitBurst))
		r.Use(s.authenticate)

		r.Get("/transitions", s.handleTransitions)
		r.Get("/stats", s.handleStats)
		r.Get("/events/sessions/{sessionID}", s.handleSessionStream)
		r.Get("/events/waiters/{waiterID}", s.handleWaiterStream)
	})
	return r
}

// ListenAndServe runs the HTTP server until ctx is cancelled, then shuts it
// down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.ListenAddr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
		// No WriteTimeout: SSE streams stay open indefinitely and enforce
		// their own per-write deadlines.
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", s.cfg.ListenAddr).Msg("api server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
