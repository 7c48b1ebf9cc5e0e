// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package handlers

import (
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/relaycore/workstation/internal/history"
	"github.com/relaycore/workstation/internal/registry"
)

// SessionsHandler serves read-only REST views over the registry and
// durable history, for clients that want a plain HTTP fallback to the
// WebSocket's sync.state and history.request.
type SessionsHandler struct {
	registry *registry.Registry
	history  *history.SQLStore
}

// NewSessionsHandler creates a new sessions handler.
func NewSessionsHandler(reg *registry.Registry, hist *history.SQLStore) *SessionsHandler {
	return &SessionsHandler{registry: reg, history: hist}
}

// List returns every non-terminated session, optionally narrowed by
// ?kind=agent|terminal|supervisor.
// GET /api/v1/sessions
func (h *SessionsHandler) List(w http.ResponseWriter, r *http.Request) {
	kind := r.URL.Query().Get("kind")
	var sessions []registry.Snapshot
	if kind != "" {
		sessions = h.registry.ListByKind(registry.Kind(kind))
	} else {
		sessions = h.registry.ListActive()
	}
	WriteJSON(w, http.StatusOK, sessions)
}

// History returns a page of a session's durable message log, newest page
// by default, or the page before ?before_sequence= when given.
// GET /api/v1/sessions/{id}/history
func (h *SessionsHandler) History(w http.ResponseWriter, r *http.Request) {
	if h.history == nil {
		WriteError(w, http.StatusNotFound, ErrNotFound, "history not configured")
		return
	}

	sessionID := mux.Vars(r)["id"]
	limit := 20
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if n, err := strconv.Atoi(limitStr); err == nil && n > 0 {
			limit = n
		}
	}

	var before *int64
	if beforeStr := r.URL.Query().Get("before_sequence"); beforeStr != "" {
		if n, err := strconv.ParseInt(beforeStr, 10, 64); err == nil {
			before = &n
		}
	}

	entries, hasMore, err := h.history.Page(r.Context(), sessionID, before, limit)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, ErrInternalError, err.Error())
		return
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"history":  entries,
		"has_more": hasMore,
	})
}
