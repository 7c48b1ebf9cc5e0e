// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package handlers

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/relaycore/workstation/internal/crashes"
)

// CrashesHandler handles crash-related API requests.
type CrashesHandler struct {
	manager *crashes.Manager
}

// NewCrashesHandler creates a new crashes handler.
func NewCrashesHandler(mgr *crashes.Manager) *CrashesHandler {
	return &CrashesHandler{manager: mgr}
}

// List returns all crashes, newest first, optionally narrowed to one
// session via ?session_id=.
// GET /api/v1/crashes
func (h *CrashesHandler) List(w http.ResponseWriter, r *http.Request) {
	if h.manager == nil {
		WriteJSON(w, http.StatusOK, []crashes.CrashSummary{})
		return
	}

	if sessionID := r.URL.Query().Get("session_id"); sessionID != "" {
		crash, err := h.manager.ForSession(sessionID)
		if err != nil {
			WriteError(w, http.StatusInternalServerError, ErrInternalError, err.Error())
			return
		}
		WriteJSON(w, http.StatusOK, crash)
		return
	}

	summaries, err := h.manager.List()
	if err != nil {
		WriteError(w, http.StatusInternalServerError, ErrInternalError, err.Error())
		return
	}
	WriteJSON(w, http.StatusOK, summaries)
}

// Get returns a specific crash by ID.
// GET /api/v1/crashes/{id}
func (h *CrashesHandler) Get(w http.ResponseWriter, r *http.Request) {
	if h.manager == nil {
		WriteError(w, http.StatusNotFound, ErrNotFound, "crashes not configured")
		return
	}

	id := mux.Vars(r)["id"]
	crash, err := h.manager.Get(id)
	if err != nil {
		WriteError(w, http.StatusNotFound, ErrNotFound, "crash not found: "+id)
		return
	}
	WriteJSON(w, http.StatusOK, crash)
}

// Delete removes a crash by ID.
// DELETE /api/v1/crashes/{id}
func (h *CrashesHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if h.manager == nil {
		WriteError(w, http.StatusNotFound, ErrNotFound, "crashes not configured")
		return
	}

	id := mux.Vars(r)["id"]
	if err := h.manager.Delete(id); err != nil {
		WriteError(w, http.StatusNotFound, ErrNotFound, "crash not found: "+id)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]string{"message": "crash deleted"})
}

// Clear removes all crashes.
// DELETE /api/v1/crashes
func (h *CrashesHandler) Clear(w http.ResponseWriter, r *http.Request) {
	if h.manager == nil {
		WriteJSON(w, http.StatusOK, map[string]string{"message": "no crashes to clear"})
		return
	}

	if err := h.manager.Clear(); err != nil {
		WriteError(w, http.StatusInternalServerError, ErrInternalError, err.Error())
		return
	}
	WriteJSON(w, http.StatusOK, map[string]string{"message": "all crashes cleared"})
}
