// SPDX-License-Identifier: MIT

package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/tablebuzz/tablebuzz/internal/bus"
	"github.com/tablebuzz/tablebuzz/internal/log"
)

// sseRetryMillis tells clients how long to wait before reconnecting.
const sseRetryMillis = 2000

// writeDeadline bounds a single SSE write so a dead client cannot pin the
// handler goroutine past it.
const writeDeadline = 10 * time.Second

// handleSessionStream answers GET /api/events/sessions/{sessionID} with a
// server-sent event stream of notifications addressed to the session.
func (s *Server) handleSessionStream(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	id, ok := identityFromContext(r.Context())
	if !ok {
		writeUnauthorized(w)
		return
	}
	if !id.canStreamSession(sessionID) {
		writeForbidden(w)
		return
	}

	sub := s.hub.SubscribeSession(sessionID)
	defer sub.Close()

	// Events are never replayed, so a (re)connecting client must resync its
	// view of the session.
	opening := bus.NewSessionEvent(sessionID, bus.KindConnected, "", "").WithRefresh()
	s.serveStream(w, r, sub, sessionID, opening)
}

// handleWaiterStream answers GET /api/events/waiters/{waiterID} with a
// server-sent event stream of notifications addressed to the waiter.
func (s *Server) handleWaiterStream(w http.ResponseWriter, r *http.Request) {
	waiterID := chi.URLParam(r, "waiterID")
	id, ok := identityFromContext(r.Context())
	if !ok {
		writeUnauthorized(w)
		return
	}
	if !id.canStreamWaiter(waiterID) {
		writeForbidden(w)
		return
	}

	sub := s.hub.SubscribeWaiter(waiterID)
	defer sub.Close()

	opening := bus.NewWaiterEvent(waiterID, bus.KindConnected, "", "").WithRefresh()
	s.serveStream(w, r, sub, waiterID, opening)
}

// serveStream runs the shared SSE loop: headers, the synthetic connected
// event, then hub events until either side releases the subscription.
func (s *Server) serveStream(w http.ResponseWriter, r *http.Request, sub *bus.Subscription, target string, opening bus.Event) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, fmt.Errorf("streaming unsupported"))
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	logger := s.logger.With().
		Str(log.FieldConnectionID, sub.ID()).
		Str(log.FieldTarget, target).
		Logger()
	logger.Info().Msg("stream opened")

	rc := http.NewResponseController(w)

	fmt.Fprintf(w, "retry: %d\n\n", sseRetryMillis)
	if err := writeEvent(w, rc, opening); err != nil {
		logger.Warn().Err(err).Msg("stream write failed on open")
		return
	}
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			logger.Info().Msg("stream client disconnected")
			return

		case <-sub.Done():
			logger.Info().Msg("stream released by hub")
			return

		case ev := <-sub.C():
			if err := writeEvent(w, rc, ev); err != nil {
				logger.Warn().Err(err).Msg("stream write failed")
				return
			}
			flusher.Flush()
		}
	}
}

// writeEvent serialises one event in SSE framing under a write deadline.
func writeEvent(w http.ResponseWriter, rc *http.ResponseController, ev bus.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	// Best effort: not every ResponseWriter supports deadlines (httptest).
	_ = rc.SetWriteDeadline(time.Now().Add(writeDeadline))
	defer func() { _ = rc.SetWriteDeadline(time.Time{}) }()

	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Kind, data); err != nil {
		return err
	}
	return nil
}
