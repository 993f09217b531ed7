// SPDX-License-Identifier: MIT

package api

import (
	"errors"
	"net/http"

	"github.com/tablebuzz/tablebuzz/internal/bus"
	"github.com/tablebuzz/tablebuzz/internal/session"
	"github.com/tablebuzz/tablebuzz/internal/transition"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.health.Health(r.Context()))
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	resp := s.health.Ready(r.Context())
	code := http.StatusOK
	if !resp.Ready {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, resp)
}

// transitionsResponse lists the legal next states for a (status, role) pair.
type transitionsResponse struct {
	Status  transition.Status   `json:"status"`
	Role    transition.Role     `json:"role"`
	Options []transition.Option `json:"options"`
}

// handleTransitions answers GET /api/transitions?status=&role=. The role
// defaults to the caller's own; privileged callers may query any role.
func (s *Server) handleTransitions(w http.ResponseWriter, r *http.Request) {
	id, ok := identityFromContext(r.Context())
	if !ok {
		writeUnauthorized(w)
		return
	}

	status := transition.Status(r.URL.Query().Get("status"))
	if !status.IsValid() {
		writeError(w, http.StatusBadRequest, errors.New("unknown or missing status"))
		return
	}

	role := id.Role
	if q := r.URL.Query().Get("role"); q != "" {
		requested := transition.Role(q)
		if !requested.IsValid() {
			writeError(w, http.StatusBadRequest, errors.New("unknown role"))
			return
		}
		if requested != id.Role && !id.Role.IsPrivileged() {
			writeForbidden(w)
			return
		}
		role = requested
	}

	writeJSON(w, http.StatusOK, transitionsResponse{
		Status:  status,
		Role:    role,
		Options: s.engine.AllowedTransitions(r.Context(), status, role),
	})
}

// statsResponse summarises live connections and the session cache backend.
type statsResponse struct {
	Connections bus.Counts    `json:"connections"`
	Sessions    session.Stats `json:"sessions"`
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	id, ok := identityFromContext(r.Context())
	if !ok {
		writeUnauthorized(w)
		return
	}
	if id.Role == transition.RoleClient {
		writeForbidden(w)
		return
	}

	writeJSON(w, http.StatusOK, statsResponse{
		Connections: s.hub.Counts(),
		Sessions:    s.store.Stats(r.Context()),
	})
}
