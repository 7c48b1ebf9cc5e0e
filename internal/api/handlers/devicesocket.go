// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package handlers

import (
	"context"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/relaycore/workstation/internal/agent"
	"github.com/relaycore/workstation/internal/crashes"
	"github.com/relaycore/workstation/internal/events"
	"github.com/relaycore/workstation/internal/history"
	"github.com/relaycore/workstation/internal/protocol"
	"github.com/relaycore/workstation/internal/registry"
	"github.com/relaycore/workstation/internal/router"
	"github.com/relaycore/workstation/internal/terminal"
	"github.com/relaycore/workstation/internal/watcher"
)

var deviceUpgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

var wireTypes = protocol.DefaultRegistry()

// DeviceHandler serves the single WebSocket endpoint a connecting device
// (by way of the tunnel) speaks the envelope protocol over: the
// connect/auth handshake, heartbeat, session control, history paging and
// sync bootstrap. It generalizes the ping/pong keepalive and
// read-goroutine/write-loop pattern from internal/api/handlers/events.go
// and claude.go's WebSocket handlers — both of which ran one socket per
// feature — into one type-dispatched socket.
type DeviceHandler struct {
	Registry     *registry.Registry
	Router       *router.Router
	History      *history.SQLStore
	Ring         *history.RingStore
	Crashes      *crashes.Manager
	Bus          events.EventBus
	AgentRuntime *agent.Runtime
	TerminalRT   *terminal.Runtime
	Aliases      *registry.AliasTable
	Workspaces   *watcher.WorkspaceWatcher

	AuthKey            string
	WorkstationName    string
	WorkstationVersion string
	WorkspacesRoot     string

	startedAt time.Time
}

// NewDeviceHandler constructs a DeviceHandler. startedAt seeds
// heartbeat.ack's workstation_uptime_ms.
func NewDeviceHandler(h DeviceHandler) *DeviceHandler {
	h.startedAt = time.Now()
	return &h
}

// WebSocket upgrades the connection, performs the auth handshake, then
// pumps the device's fan-out channel out while dispatching inbound
// envelopes by type.
func (h *DeviceHandler) WebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := deviceUpgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	var writeMu sync.Mutex

	deviceID, ok := h.handshake(conn, &writeMu)
	if !ok {
		return
	}

	dev := h.Router.RegisterDevice(deviceID)
	defer h.Router.UnregisterDevice(deviceID)

	conn.SetReadDeadline(time.Now().Add(30 * time.Second))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(30 * time.Second))
		return nil
	})

	done := make(chan struct{})
	go h.writeLoop(conn, dev, &writeMu, done)

	h.readLoop(conn, deviceID, &writeMu)
	close(done)
}

// handshake reads the first one or two frames: an optional "connect"
// (tunnel-level open) followed by the required "auth". It replies
// "auth.success" or "auth.error" and returns the authenticated device id.
func (h *DeviceHandler) handshake(conn *websocket.Conn, writeMu *sync.Mutex) (string, bool) {
	for attempts := 0; attempts < 2; attempts++ {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return "", false
		}
		msg, err := wireTypes.Decode(raw)
		if err != nil {
			h.sendError(conn, writeMu, "", protocol.ErrInvalidPayload, err.Error())
			return "", false
		}

		switch m := msg.Payload.(type) {
		case *protocol.ConnectRequest:
			h.send(conn, writeMu, "connected", "", "", &protocol.Connected{
				TunnelID:        m.TunnelID,
				ProtocolVersion: protocol.ProtocolVersion,
			})
			continue
		case *protocol.AuthRequest:
			if h.AuthKey != "" && m.AuthKey != h.AuthKey {
				h.send(conn, writeMu, "auth.error", "", "", &protocol.AuthError{
					Code:    string(protocol.ErrInvalidAuthKey),
					Message: "invalid auth key",
				})
				return "", false
			}
			var restored []string
			if h.History != nil {
				restored, _ = h.History.SubscriptionsForDevice(context.Background(), m.DeviceID)
			}
			h.send(conn, writeMu, "auth.success", "", "", &protocol.AuthSuccess{
				DeviceID:              m.DeviceID,
				WorkstationName:       h.WorkstationName,
				WorkstationVersion:    h.WorkstationVersion,
				ProtocolVersion:       protocol.ProtocolVersion,
				WorkspacesRoot:        h.WorkspacesRoot,
				RestoredSubscriptions: restored,
			})
			for _, sessionID := range restored {
				h.Router.Subscribe(sessionID, m.DeviceID)
			}
			return m.DeviceID, true
		default:
			h.sendError(conn, writeMu, "", protocol.ErrInvalidPayload, "expected connect or auth")
			return "", false
		}
	}
	return "", false
}

// writeLoop drains dev.Out() and frames each sequenced output event under
// the right message type, plus a periodic ping for keepalive, matching
// events.go's ping-ticker/select-loop shape.
func (h *DeviceHandler) writeLoop(conn *websocket.Conn, dev *router.Device, writeMu *sync.Mutex, done <-chan struct{}) {
	pingTicker := time.NewTicker(20 * time.Second)
	defer pingTicker.Stop()

	for {
		select {
		case evt := <-dev.Out():
			msgType := "session.output"
			if evt.SessionID == "supervisor" {
				msgType = "supervisor.output"
			}
			h.send(conn, writeMu, msgType, "", evt.SessionID, &evt)
		case <-pingTicker.C:
			writeMu.Lock()
			err := conn.WriteMessage(websocket.PingMessage, nil)
			writeMu.Unlock()
			if err != nil {
				return
			}
		case <-done:
			return
		}
	}
}

// readLoop is the sole reader of conn; it dispatches each decoded
// envelope to its handler until the connection closes.
func (h *DeviceHandler) readLoop(conn *websocket.Conn, deviceID string, writeMu *sync.Mutex) {
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}
		msg, err := wireTypes.Decode(raw)
		if err != nil {
			h.sendError(conn, writeMu, "", protocol.ErrInvalidPayload, err.Error())
			continue
		}
		h.dispatch(conn, writeMu, deviceID, msg)
	}
}

func (h *DeviceHandler) dispatch(conn *websocket.Conn, writeMu *sync.Mutex, deviceID string, msg *protocol.Message) {
	switch p := msg.Payload.(type) {
	case *protocol.Heartbeat:
		h.send(conn, writeMu, "heartbeat.ack", msg.ID, "", &protocol.HeartbeatAck{
			Timestamp:         time.Now(),
			WorkstationUptime: time.Since(h.startedAt).Milliseconds(),
		})

	case *protocol.SessionSubscribe:
		h.handleSubscribe(conn, writeMu, deviceID, p.SessionID)

	case *protocol.SessionUnsubscribe:
		h.Router.Unsubscribe(p.SessionID, deviceID)
		if h.History != nil {
			_ = h.History.RemoveSubscription(context.Background(), deviceID, p.SessionID)
		}

	case *protocol.SessionExecute:
		h.handleExecute(conn, writeMu, p.SessionID, p.Content, p.MessageID)

	case *protocol.SessionCancel:
		h.handleCancel(conn, writeMu, p.SessionID)

	case *protocol.SessionInput:
		h.handleInput(conn, writeMu, p.SessionID, p.Data)

	case *protocol.SessionResize:
		h.handleResize(conn, writeMu, p.SessionID, p.Cols, p.Rows)

	case *protocol.SessionReplay:
		h.handleReplay(conn, writeMu, p)

	case *protocol.SupervisorCreateSession:
		h.handleCreateSession(conn, writeMu, p)

	case *protocol.SupervisorTerminateSession:
		_ = h.Registry.TerminateSession(p.SessionID)

	case *protocol.SupervisorListSessions:
		// The client is expected to rely on sync.state for a full listing;
		// nothing further is sent here.

	case *protocol.SupervisorCommand:
		h.handleExecute(conn, writeMu, "supervisor", p.Content, p.MessageID)

	case *protocol.SupervisorCancel:
		h.handleCancel(conn, writeMu, "supervisor")

	case *protocol.HistoryRequest:
		h.handleHistoryRequest(conn, writeMu, p)

	case *protocol.AudioRequest:
		// Audio storage/codecs are out of scope; every request reports
		// that no blob is available rather than silently dropping it.
		h.send(conn, writeMu, "audio.response", msg.ID, "", &protocol.AudioResponse{
			MessageID: p.MessageID,
			Type:      p.Type,
			Error:     "audio not available",
		})

	case *protocol.MessageAck:
		// Acks are informational on the workstation side; the client owns
		// the pending-ack bookkeeping (rcclient/reconcile).

	case *protocol.SyncRequest:
		h.handleSync(conn, writeMu, deviceID, p.Lightweight)
	}
}

func (h *DeviceHandler) handleSubscribe(conn *websocket.Conn, writeMu *sync.Mutex, deviceID, sessionID string) {
	snap, _ := h.Router.Subscribe(sessionID, deviceID)
	if h.History != nil {
		_ = h.History.AddSubscription(context.Background(), deviceID, sessionID)
	}

	entries := h.recentHistory(sessionID)

	var streamingID *string
	if snap.StreamingMessageID != "" {
		id := snap.StreamingMessageID
		streamingID = &id
	}

	h.send(conn, writeMu, "session.subscribed", "", sessionID, &protocol.SessionSubscribed{
		SessionID:          sessionID,
		IsExecuting:        snap.IsExecuting,
		History:            entries,
		StreamingMessageID: streamingID,
	})
}

func (h *DeviceHandler) recentHistory(sessionID string) []protocol.HistoryEntry {
	if h.Ring != nil && sessionID != "supervisor" {
		if sess, err := h.Registry.GetSession(sessionID); err == nil && sess.Kind == registry.KindTerminal {
			ring := h.Ring.Snapshot(sessionID)
			entries := make([]protocol.HistoryEntry, 0, len(ring))
			for _, e := range ring {
				entries = append(entries, protocol.HistoryEntry{
					SessionID:   sessionID,
					Sequence:    e.Sequence,
					Role:        "system",
					ContentType: "terminal_output",
					Content:     e.Data,
					CreatedAt:   e.Timestamp,
					IsComplete:  true,
				})
			}
			return entries
		}
	}
	if h.History == nil {
		return nil
	}
	page, _, err := h.History.Page(context.Background(), sessionID, nil, 20)
	if err != nil {
		return nil
	}
	entries := make([]protocol.HistoryEntry, 0, len(page))
	for _, e := range page {
		entries = append(entries, historyEntryFromSQL(e))
	}
	return entries
}

func historyEntryFromSQL(e history.Entry) protocol.HistoryEntry {
	return protocol.HistoryEntry{
		ID:              e.ID,
		SessionID:       e.SessionID,
		Sequence:        e.Sequence,
		Role:            e.Role,
		ContentType:     e.ContentType,
		Content:         e.Content,
		ContentBlocks:   e.ContentBlocks,
		AudioInputPath:  e.AudioInputPath,
		AudioOutputPath: e.AudioOutputPath,
		IsComplete:      e.IsComplete,
		CreatedAt:       e.CreatedAt,
	}
}

func (h *DeviceHandler) handleExecute(conn *websocket.Conn, writeMu *sync.Mutex, sessionID, content, messageID string) {
	sess, err := h.Registry.GetSession(sessionID)
	if err != nil {
		h.sendError(conn, writeMu, sessionID, protocol.ErrSessionNotFound, "session not found")
		return
	}
	if messageID == "" {
		messageID = uuid.NewString()
	}

	switch sess.Kind {
	case registry.KindAgent, registry.KindSupervisor:
		if h.AgentRuntime == nil {
			h.sendError(conn, writeMu, sessionID, protocol.ErrAgentCommandFailed, "agent runtime unavailable")
			return
		}
		if err := h.AgentRuntime.Send(sessionID, content); err != nil {
			h.sendError(conn, writeMu, sessionID, protocol.ErrAgentCommandFailed, err.Error())
		}
	case registry.KindTerminal:
		if h.TerminalRT == nil {
			h.sendError(conn, writeMu, sessionID, protocol.ErrAgentCommandFailed, "terminal runtime unavailable")
			return
		}
		if err := h.TerminalRT.SendInput(sessionID, []byte(content)); err != nil {
			h.sendError(conn, writeMu, sessionID, protocol.ErrAgentCommandFailed, err.Error())
		}
	}
}

func (h *DeviceHandler) handleCancel(conn *websocket.Conn, writeMu *sync.Mutex, sessionID string) {
	if h.AgentRuntime == nil {
		return
	}
	if _, err := h.Registry.GetSession(sessionID); err != nil {
		h.sendError(conn, writeMu, sessionID, protocol.ErrSessionNotFound, "session not found")
		return
	}
	if err := h.AgentRuntime.Interrupt(sessionID); err != nil {
		h.sendError(conn, writeMu, sessionID, protocol.ErrAgentCommandFailed, err.Error())
	}
}

func (h *DeviceHandler) handleInput(conn *websocket.Conn, writeMu *sync.Mutex, sessionID, data string) {
	if h.TerminalRT == nil {
		return
	}
	if err := h.TerminalRT.SendInput(sessionID, []byte(data)); err != nil {
		h.sendError(conn, writeMu, sessionID, protocol.ErrAgentCommandFailed, err.Error())
	}
}

func (h *DeviceHandler) handleResize(conn *websocket.Conn, writeMu *sync.Mutex, sessionID string, cols, rows int) {
	if h.TerminalRT == nil {
		return
	}
	if err := h.TerminalRT.Resize(sessionID, cols, rows); err != nil {
		h.sendError(conn, writeMu, sessionID, protocol.ErrAgentCommandFailed, err.Error())
		return
	}
	h.send(conn, writeMu, "session.resized", "", sessionID, &protocol.SessionResize{SessionID: sessionID, Cols: cols, Rows: rows})
}

func (h *DeviceHandler) handleReplay(conn *websocket.Conn, writeMu *sync.Mutex, p *protocol.SessionReplay) {
	var since int64
	if p.SinceSequence != nil {
		since = *p.SinceSequence
	}
	replayed, hasMore := h.Router.Replay(p.SessionID, since, p.Limit)
	h.send(conn, writeMu, "session.replay.data", "", p.SessionID, &protocol.SessionReplayData{
		SessionID: p.SessionID,
		Events:    replayed,
		HasMore:   hasMore,
	})
}

func (h *DeviceHandler) handleCreateSession(conn *websocket.Conn, writeMu *sync.Mutex, p *protocol.SupervisorCreateSession) {
	sess, err := h.Registry.CreateSession(context.Background(), registry.Kind(p.Kind), p.Workspace, p.Project, p.Worktree, p.AgentName)
	if err != nil {
		h.sendError(conn, writeMu, "", protocol.ErrSessionCreateFailed, err.Error())
		return
	}

	if sess.Kind == registry.KindTerminal {
		if h.Ring != nil {
			h.Router.RegisterSession(sess.ID, &router.RingAppender{Store: h.Ring})
		}
	} else if h.History != nil {
		h.Router.RegisterSession(sess.ID, &router.SQLAppender{Store: h.History})
	}

	h.send(conn, writeMu, "session.created", "", sess.ID, &protocol.SessionCreated{
		SessionID: sess.ID,
		Kind:      string(sess.Kind),
		Status:    string(sess.Status()),
	})
}

func (h *DeviceHandler) handleHistoryRequest(conn *websocket.Conn, writeMu *sync.Mutex, p *protocol.HistoryRequest) {
	if h.History == nil {
		h.send(conn, writeMu, "history.response", "", p.SessionID, &protocol.HistoryResponse{})
		return
	}
	page, hasMore, err := h.History.Page(context.Background(), p.SessionID, p.BeforeSequence, p.Limit)
	if err != nil {
		h.sendError(conn, writeMu, p.SessionID, protocol.ErrInternalError, err.Error())
		return
	}
	oldest, newest, _ := h.History.Bounds(context.Background(), p.SessionID)

	entries := make([]protocol.HistoryEntry, 0, len(page))
	for _, e := range page {
		entries = append(entries, historyEntryFromSQL(e))
	}
	h.send(conn, writeMu, "history.response", "", p.SessionID, &protocol.HistoryResponse{
		History:        entries,
		HasMore:        hasMore,
		OldestSequence: oldest,
		NewestSequence: newest,
	})
}

func (h *DeviceHandler) handleSync(conn *websocket.Conn, writeMu *sync.Mutex, deviceID string, lightweight bool) {
	active := h.Registry.ListActive()
	sessions := make([]protocol.SessionSummary, 0, len(active))
	for _, s := range active {
		sessions = append(sessions, protocol.SessionSummary{
			ID:        s.ID,
			Kind:      string(s.Kind),
			Status:    string(s.Status),
			CreatedAt: s.CreatedAt,
		})
	}

	var subs []protocol.SubscriptionSummary
	if h.History != nil {
		ids, _ := h.History.SubscriptionsForDevice(context.Background(), deviceID)
		for _, id := range ids {
			subs = append(subs, protocol.SubscriptionSummary{SessionID: id})
		}
	}

	resp := &protocol.SyncResponse{
		Sessions:      sessions,
		Subscriptions: subs,
		AgentAliases:  h.Aliases.Names(),
	}
	if h.Workspaces != nil {
		resp.Workspaces = h.Workspaces.Snapshot()
	}
	if !lightweight {
		resp.HiddenBaseTypes = h.Aliases.HiddenBaseTypes()
		if h.History != nil {
			page, _, err := h.History.Page(context.Background(), "supervisor", nil, 20)
			if err == nil {
				for _, e := range page {
					resp.SupervisorHistory = append(resp.SupervisorHistory, historyEntryFromSQL(e))
				}
			}
		}
	}

	h.send(conn, writeMu, "sync.state", "", "", resp)
}

func (h *DeviceHandler) send(conn *websocket.Conn, writeMu *sync.Mutex, msgType, id, sessionID string, payload protocol.Payload) {
	data, err := protocol.Encode(msgType, id, sessionID, payload)
	if err != nil {
		log.Printf("devicesocket: encode %s: %v", msgType, err)
		return
	}
	writeMu.Lock()
	defer writeMu.Unlock()
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		log.Printf("devicesocket: write %s: %v", msgType, err)
	}
}

// sendError reports a failure that has no more specific response shape to
// ride along on.
func (h *DeviceHandler) sendError(conn *websocket.Conn, writeMu *sync.Mutex, sessionID string, code protocol.ErrorCode, message string) {
	h.send(conn, writeMu, "error", "", sessionID, &protocol.ErrorMessage{
		Code:    code,
		Message: message,
	})
}
