// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaycore/workstation/internal/events"
	"github.com/relaycore/workstation/internal/history"
	"github.com/relaycore/workstation/internal/registry"
)

func newTestRegistry(t *testing.T) *registry.Registry {
	t.Helper()
	bus := events.NewMemoryEventBus(events.MemoryBusConfig{})
	aliases := registry.NewAliasTable(nil)
	return registry.New(registry.Config{}, bus, newFakeAgentRuntime(), nil, fakeSupervisorRuntime{}, aliases)
}

func TestSessionsListReturnsActiveSessions(t *testing.T) {
	reg := newTestRegistry(t)
	_, err := reg.CreateSession(context.Background(), registry.KindAgent, "ws", "proj", "", "claude")
	require.NoError(t, err)

	h := NewSessionsHandler(reg, nil)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/sessions", nil)
	rec := httptest.NewRecorder()
	h.List(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	var resp Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	sessions, ok := resp.Data.([]interface{})
	require.True(t, ok)
	assert.Len(t, sessions, 1)
}

func TestSessionsListFiltersByKind(t *testing.T) {
	reg := newTestRegistry(t)
	_, err := reg.CreateSession(context.Background(), registry.KindAgent, "", "", "", "claude")
	require.NoError(t, err)

	h := NewSessionsHandler(reg, nil)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/sessions?kind=terminal", nil)
	rec := httptest.NewRecorder()
	h.List(rec, req)

	var resp Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Empty(t, resp.Data)
}

func TestSessionsHistoryWithoutStoreReportsNotFound(t *testing.T) {
	h := NewSessionsHandler(newTestRegistry(t), nil)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/sessions/s1/history", nil)
	rec := httptest.NewRecorder()
	h.History(rec, mux.SetURLVars(req, map[string]string{"id": "s1"}))

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSessionsHistoryReturnsPage(t *testing.T) {
	store, err := history.OpenSQLStore(filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	defer store.Close()

	require.NoError(t, store.IngestMessage(context.Background(), history.Entry{
		ID: "m1", SessionID: "s1", Sequence: 1, Role: "user",
		ContentType: "text", Content: "hello", IsComplete: true, CreatedAt: time.Now(),
	}))

	h := NewSessionsHandler(newTestRegistry(t), store)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/sessions/s1/history?limit=10", nil)
	rec := httptest.NewRecorder()
	h.History(rec, mux.SetURLVars(req, map[string]string{"id": "s1"}))

	assert.Equal(t, http.StatusOK, rec.Code)
	var resp Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	body, ok := resp.Data.(map[string]interface{})
	require.True(t, ok)
	entries, ok := body["history"].([]interface{})
	require.True(t, ok)
	assert.Len(t, entries, 1)
}
