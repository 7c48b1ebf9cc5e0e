// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package handlers

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaycore/workstation/internal/events"
	"github.com/relaycore/workstation/internal/protocol"
	"github.com/relaycore/workstation/internal/registry"
	"github.com/relaycore/workstation/internal/router"
	"github.com/relaycore/workstation/internal/terminal"
)

// fakeAgentRuntime satisfies registry.AgentRuntime so agent-kind sessions
// can be created in tests without spawning a real CLI process. It does
// not back DeviceHandler.AgentRuntime (a concrete *agent.Runtime, not an
// interface), so input/resize dispatch through the handler is exercised
// against terminal-kind sessions instead, where the wrapped runtime is
// genuinely fakeable end to end.
type fakeAgentRuntime struct {
	started map[string]bool
}

func newFakeAgentRuntime() *fakeAgentRuntime {
	return &fakeAgentRuntime{started: make(map[string]bool)}
}

func (f *fakeAgentRuntime) Start(ctx context.Context, sessionID, agentType, workingDir, resumeID string) error {
	f.started[sessionID] = true
	return nil
}
func (f *fakeAgentRuntime) Stop(sessionID string) error { delete(f.started, sessionID); return nil }
func (f *fakeAgentRuntime) DiscoverCLISessionID(sessionID string) (string, bool) { return "", false }
func (f *fakeAgentRuntime) Alive(sessionID string) bool                         { return f.started[sessionID] }

// fakeSupervisorRuntime satisfies registry.SupervisorRuntime.
type fakeSupervisorRuntime struct{}

func (fakeSupervisorRuntime) Ensure(ctx context.Context, sessionID string) error { return nil }
func (fakeSupervisorRuntime) Shutdown(sessionID string) error                    { return nil }

// fakeTerminalManager implements terminal.Manager with no-op/canned
// behavior so terminal.NewRuntime can back KindTerminal sessions in tests
// without a real tmux/pty.
type fakeTerminalManager struct {
	created map[string]bool
	input   []string
	resized []string
}

func newFakeTerminalManager() *fakeTerminalManager {
	return &fakeTerminalManager{created: make(map[string]bool)}
}

func (f *fakeTerminalManager) CreateSession(ctx context.Context, worktree, workdir string, windows []terminal.WindowConfig) error {
	f.created[worktree] = true
	return nil
}
func (f *fakeTerminalManager) EnsureSession(ctx context.Context, worktree, workdir string, windows []terminal.WindowConfig) error {
	f.created[worktree] = true
	return nil
}
func (f *fakeTerminalManager) KillSession(ctx context.Context, worktree string) error {
	delete(f.created, worktree)
	return nil
}
func (f *fakeTerminalManager) AttachReader(ctx context.Context, session, window string) (io.ReadCloser, error) {
	return io.NopCloser(strings.NewReader("")), nil
}
func (f *fakeTerminalManager) SendInput(ctx context.Context, session, window string, data []byte) error {
	f.input = append(f.input, session+":"+string(data))
	return nil
}
func (f *fakeTerminalManager) Resize(ctx context.Context, session, window string, cols, rows int) error {
	f.resized = append(f.resized, session)
	return nil
}
func (f *fakeTerminalManager) ListSessions(ctx context.Context) ([]terminal.SessionInfo, error) {
	var out []terminal.SessionInfo
	for name := range f.created {
		out = append(out, terminal.SessionInfo{Name: name})
	}
	return out, nil
}
func (f *fakeTerminalManager) GetScrollback(ctx context.Context, session, window string) ([]byte, error) {
	return nil, nil
}
func (f *fakeTerminalManager) GetCursorPosition(ctx context.Context, session, window string) (int, int, error) {
	return 0, 0, nil
}
func (f *fakeTerminalManager) GetRemoteWindow(name string) *terminal.RemoteWindowConfig { return nil }

// lookupAdapter adapts the registry to router.SessionLookup.
type lookupAdapter struct{ reg *registry.Registry }

func (l *lookupAdapter) Lookup(sessionID string) (kind, status string, ok bool) {
	sess, err := l.reg.GetSession(sessionID)
	if err != nil {
		return "", "", false
	}
	return string(sess.Kind), string(sess.Status()), true
}

type testHarness struct {
	handler  *DeviceHandler
	server   *httptest.Server
	agentRT  *fakeAgentRuntime
	termMgr  *fakeTerminalManager
	registry *registry.Registry
}

func newTestHarness(t *testing.T, authKey string) *testHarness {
	t.Helper()

	bus := events.NewMemoryEventBus(events.MemoryBusConfig{HistoryMaxEvents: 100, HistoryMaxAge: time.Hour})
	agentRT := newFakeAgentRuntime()
	termMgr := newFakeTerminalManager()
	termRT := terminal.NewRuntime(termMgr)
	aliases := registry.NewAliasTable(map[string]registry.AliasEntry{
		"claude": {BaseType: "claude"},
	})

	reg := registry.New(registry.Config{DefaultCols: 80, DefaultRows: 24}, bus, agentRT, termRT, fakeSupervisorRuntime{}, aliases)
	r := router.New(&lookupAdapter{reg: reg}, func(string) {})

	h := NewDeviceHandler(DeviceHandler{
		Registry:           reg,
		Router:             r,
		TerminalRT:         termRT,
		Aliases:            aliases,
		Bus:                bus,
		AuthKey:            authKey,
		WorkstationName:    "test-workstation",
		WorkstationVersion: "0.0.0-test",
	})

	srv := httptest.NewServer(http.HandlerFunc(h.WebSocket))
	t.Cleanup(srv.Close)

	return &testHarness{handler: h, server: srv, agentRT: agentRT, termMgr: termMgr, registry: reg}
}

func dialDevice(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readEnvelope(t *testing.T, conn *websocket.Conn) *protocol.Message {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, raw, err := conn.ReadMessage()
	require.NoError(t, err)
	msg, err := wireTypes.Decode(raw)
	require.NoError(t, err)
	return msg
}

func sendEnvelope(t *testing.T, conn *websocket.Conn, msgType, id, sessionID string, payload protocol.Payload) {
	t.Helper()
	data, err := protocol.Encode(msgType, id, sessionID, payload)
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, data))
}

func authenticate(t *testing.T, conn *websocket.Conn, authKey, deviceID string) *protocol.AuthSuccess {
	t.Helper()
	sendEnvelope(t, conn, "auth", "", "", &protocol.AuthRequest{AuthKey: authKey, DeviceID: deviceID})
	msg := readEnvelope(t, conn)
	require.Equal(t, "auth.success", msg.Type)
	return msg.Payload.(*protocol.AuthSuccess)
}

func TestHandshakeAuthenticatesDevice(t *testing.T) {
	h := newTestHarness(t, "secret")
	conn := dialDevice(t, h.server)

	success := authenticate(t, conn, "secret", "device-1")
	assert.Equal(t, "device-1", success.DeviceID)
	assert.Equal(t, "test-workstation", success.WorkstationName)
	assert.Equal(t, protocol.ProtocolVersion, success.ProtocolVersion)
}

func TestHandshakeRejectsWrongAuthKey(t *testing.T) {
	h := newTestHarness(t, "secret")
	conn := dialDevice(t, h.server)

	sendEnvelope(t, conn, "auth", "", "", &protocol.AuthRequest{AuthKey: "wrong", DeviceID: "device-1"})
	msg := readEnvelope(t, conn)
	assert.Equal(t, "auth.error", msg.Type)
	authErr := msg.Payload.(*protocol.AuthError)
	assert.Equal(t, string(protocol.ErrInvalidAuthKey), authErr.Code)
}

func TestHandshakeAcceptsConnectBeforeAuth(t *testing.T) {
	h := newTestHarness(t, "secret")
	conn := dialDevice(t, h.server)

	sendEnvelope(t, conn, "connect", "", "", &protocol.ConnectRequest{TunnelID: "t1", AuthKey: "secret", DeviceID: "device-1"})
	connected := readEnvelope(t, conn)
	require.Equal(t, "connected", connected.Type)
	assert.Equal(t, "t1", connected.Payload.(*protocol.Connected).TunnelID)

	authenticate(t, conn, "secret", "device-1")
}

func TestHeartbeatAck(t *testing.T) {
	h := newTestHarness(t, "")
	conn := dialDevice(t, h.server)
	authenticate(t, conn, "", "device-1")

	sendEnvelope(t, conn, "heartbeat", "hb-1", "", &protocol.Heartbeat{Timestamp: time.Now()})
	msg := readEnvelope(t, conn)
	assert.Equal(t, "heartbeat.ack", msg.Type)
	assert.Equal(t, "hb-1", msg.ID)
}

func TestSyncReturnsSessionsAndAliases(t *testing.T) {
	h := newTestHarness(t, "")
	conn := dialDevice(t, h.server)
	authenticate(t, conn, "", "device-1")

	_, err := h.registry.CreateSession(context.Background(), registry.KindAgent, "ws", "proj", "main", "claude")
	require.NoError(t, err)

	sendEnvelope(t, conn, "sync", "", "", &protocol.SyncRequest{Lightweight: false})
	msg := readEnvelope(t, conn)
	require.Equal(t, "sync.state", msg.Type)
	resp := msg.Payload.(*protocol.SyncResponse)
	require.Len(t, resp.Sessions, 1)
	assert.Equal(t, "agent", resp.Sessions[0].Kind)
	assert.Equal(t, map[string]string{"claude": "claude"}, resp.AgentAliases)
}

func TestCreateAgentSessionSucceedsButExecuteErrorsWithoutRuntime(t *testing.T) {
	h := newTestHarness(t, "")
	conn := dialDevice(t, h.server)
	authenticate(t, conn, "", "device-1")

	sendEnvelope(t, conn, "supervisor.create_session", "", "", &protocol.SupervisorCreateSession{
		Kind: "agent", AgentName: "claude", Workspace: "ws", Project: "proj",
	})
	created := readEnvelope(t, conn)
	require.Equal(t, "session.created", created.Type)
	sessionID := created.Payload.(*protocol.SessionCreated).SessionID
	assert.True(t, h.agentRT.started[sessionID])

	// DeviceHandler.AgentRuntime is nil in this harness (it is a concrete
	// *agent.Runtime, not the registry's fakeable interface), so dispatch
	// reports the runtime as unavailable rather than silently dropping it.
	sendEnvelope(t, conn, "session.execute", "exec-1", sessionID, &protocol.SessionExecute{SessionID: sessionID, Content: "hello"})
	msg := readEnvelope(t, conn)
	require.Equal(t, "error", msg.Type)
	errMsg := msg.Payload.(*protocol.ErrorMessage)
	assert.Equal(t, protocol.ErrAgentCommandFailed, errMsg.Code)
}

func TestCreateTerminalSessionThenInputAndResize(t *testing.T) {
	h := newTestHarness(t, "")
	conn := dialDevice(t, h.server)
	authenticate(t, conn, "", "device-1")

	sendEnvelope(t, conn, "supervisor.create_session", "", "", &protocol.SupervisorCreateSession{Kind: "terminal"})
	created := readEnvelope(t, conn)
	require.Equal(t, "session.created", created.Type)
	sessionID := created.Payload.(*protocol.SessionCreated).SessionID
	assert.True(t, h.termMgr.created[sessionID])

	sendEnvelope(t, conn, "session.input", "", sessionID, &protocol.SessionInput{SessionID: sessionID, Data: "ls\n"})
	sendEnvelope(t, conn, "session.resize", "", sessionID, &protocol.SessionResize{SessionID: sessionID, Cols: 100, Rows: 40})

	resized := readEnvelope(t, conn)
	assert.Equal(t, "session.resized", resized.Type)

	assert.Contains(t, h.termMgr.input, sessionID+":ls\n")
	assert.Contains(t, h.termMgr.resized, sessionID)
}

func TestExecuteUnknownSessionReportsError(t *testing.T) {
	h := newTestHarness(t, "")
	conn := dialDevice(t, h.server)
	authenticate(t, conn, "", "device-1")

	sendEnvelope(t, conn, "session.execute", "", "does-not-exist", &protocol.SessionExecute{SessionID: "does-not-exist", Content: "hi"})
	msg := readEnvelope(t, conn)
	require.Equal(t, "error", msg.Type)
	errMsg := msg.Payload.(*protocol.ErrorMessage)
	assert.Equal(t, protocol.ErrSessionNotFound, errMsg.Code)
}

func TestSubscribeReturnsSnapshot(t *testing.T) {
	h := newTestHarness(t, "")
	conn := dialDevice(t, h.server)
	authenticate(t, conn, "", "device-1")

	sess, err := h.registry.CreateSession(context.Background(), registry.KindAgent, "", "", "", "claude")
	require.NoError(t, err)

	sendEnvelope(t, conn, "session.subscribe", "", sess.ID, &protocol.SessionSubscribe{SessionID: sess.ID})
	msg := readEnvelope(t, conn)
	require.Equal(t, "session.subscribed", msg.Type)
	sub := msg.Payload.(*protocol.SessionSubscribed)
	assert.Equal(t, sess.ID, sub.SessionID)
}

func TestInvalidPayloadBeforeAuthClosesConnection(t *testing.T) {
	h := newTestHarness(t, "")
	conn := dialDevice(t, h.server)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("not json")))
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	// handshake sends an error envelope for the malformed frame and the
	// handshake loop returns false afterwards, closing the socket; either
	// observation confirms garbage is rejected before authentication.
	_, raw, err := conn.ReadMessage()
	if err == nil {
		msg, decodeErr := wireTypes.Decode(raw)
		require.NoError(t, decodeErr)
		assert.Equal(t, "error", msg.Type)
	}
}
