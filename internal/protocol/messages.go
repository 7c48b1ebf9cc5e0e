// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package protocol

import (
	"errors"
	"time"
)

// --- Handshake -------------------------------------------------------------

// ConnectRequest is the first frame sent by a client over the tunnel.
type ConnectRequest struct {
	TunnelID  string `json:"tunnel_id"`
	AuthKey   string `json:"auth_key"`
	DeviceID  string `json:"device_id"`
	Reconnect bool   `json:"reconnect,omitempty"`
}

func (m *ConnectRequest) Validate() error {
	if m.TunnelID == "" || m.AuthKey == "" || m.DeviceID == "" {
		return errors.New("connect requires tunnel_id, auth_key and device_id")
	}
	return nil
}

// Connected acknowledges a ConnectRequest before authentication.
type Connected struct {
	TunnelID        string `json:"tunnel_id"`
	ProtocolVersion string `json:"protocol_version"`
	Restored        bool   `json:"restored,omitempty"`
}

func (m *Connected) Validate() error {
	if m.TunnelID == "" || m.ProtocolVersion == "" {
		return errors.New("connected requires tunnel_id and protocol_version")
	}
	return nil
}

// AuthRequest authenticates an already-open tunnel connection.
type AuthRequest struct {
	AuthKey  string `json:"auth_key"`
	DeviceID string `json:"device_id"`
}

func (m *AuthRequest) Validate() error {
	if m.AuthKey == "" || m.DeviceID == "" {
		return errors.New("auth requires auth_key and device_id")
	}
	return nil
}

// AuthSuccess is returned on successful authentication.
type AuthSuccess struct {
	DeviceID              string   `json:"device_id"`
	WorkstationName       string   `json:"workstation_name"`
	WorkstationVersion    string   `json:"workstation_version"`
	ProtocolVersion       string   `json:"protocol_version"`
	WorkspacesRoot        string   `json:"workspaces_root"`
	RestoredSubscriptions []string `json:"restored_subscriptions"`
}

func (m *AuthSuccess) Validate() error {
	if m.DeviceID == "" || m.ProtocolVersion == "" {
		return errors.New("auth.success requires device_id and protocol_version")
	}
	return nil
}

// AuthError reports a terminal authentication failure.
type AuthError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (m *AuthError) Validate() error {
	if m.Code == "" {
		return errors.New("auth.error requires code")
	}
	return nil
}

// --- Heartbeat ---------------------------------------------------------

// Heartbeat is sent by the client every T seconds.
type Heartbeat struct {
	Timestamp time.Time `json:"timestamp"`
}

func (m *Heartbeat) Validate() error { return nil }

// HeartbeatAck is the workstation's reply.
type HeartbeatAck struct {
	Timestamp         time.Time `json:"timestamp"`
	WorkstationUptime int64     `json:"workstation_uptime_ms"`
}

func (m *HeartbeatAck) Validate() error { return nil }

// --- Content blocks & sequenced output -------------------------------------

// ActionButton is a clickable action offered inside an action-buttons block.
type ActionButton struct {
	Label  string `json:"label"`
	Action string `json:"action"`
}

// ContentBlock is one structured element inside a message.
type ContentBlock struct {
	ID         string         `json:"id"`
	Type       string         `json:"type"`
	Text       string         `json:"text,omitempty"`
	Language   string         `json:"language,omitempty"`
	ToolName   string         `json:"tool_name,omitempty"`
	ToolInput  interface{}    `json:"tool_input,omitempty"`
	ToolOutput interface{}    `json:"tool_output,omitempty"`
	Status     string         `json:"status,omitempty"`
	MessageID  string         `json:"message_id,omitempty"`
	DurationMS int            `json:"duration_ms,omitempty"`
	Actions    []ActionButton `json:"actions,omitempty"`
}

// SequencedOutputEvent is the fan-out envelope for session.output and
// supervisor.output events.
type SequencedOutputEvent struct {
	SessionID          string         `json:"session_id"`
	Sequence           int64          `json:"sequence"`
	StreamingMessageID string         `json:"streaming_message_id,omitempty"`
	ContentType        string         `json:"content_type"`
	ContentBlocks      []ContentBlock `json:"content_blocks"`
	Timestamp          time.Time      `json:"timestamp"`
	IsComplete         bool           `json:"is_complete"`
}

func (m *SequencedOutputEvent) Validate() error {
	if m.SessionID == "" {
		return errors.New("output event requires session_id")
	}
	if m.Sequence < 1 {
		return errors.New("output event requires sequence >= 1")
	}
	return nil
}

// --- Session control (client -> workstation) -------------------------------

// SessionSubscribe requests fan-out delivery for a session.
type SessionSubscribe struct {
	SessionID string `json:"session_id"`
}

func (m *SessionSubscribe) Validate() error {
	if m.SessionID == "" {
		return errors.New("session.subscribe requires session_id")
	}
	return nil
}

// SessionSubscribed is the snapshot returned on successful subscribe.
type SessionSubscribed struct {
	SessionID          string         `json:"session_id"`
	IsExecuting        bool           `json:"is_executing"`
	History            []HistoryEntry `json:"history"`
	StreamingMessageID *string        `json:"streaming_message_id"`
}

func (m *SessionSubscribed) Validate() error {
	if m.SessionID == "" {
		return errors.New("session.subscribed requires session_id")
	}
	return nil
}

// SessionUnsubscribe removes fan-out delivery for a session.
type SessionUnsubscribe struct {
	SessionID string `json:"session_id"`
}

func (m *SessionUnsubscribe) Validate() error {
	if m.SessionID == "" {
		return errors.New("session.unsubscribe requires session_id")
	}
	return nil
}

// SessionExecute submits a command to an agent or terminal session.
type SessionExecute struct {
	SessionID string `json:"session_id"`
	Content   string `json:"content"`
	MessageID string `json:"message_id,omitempty"`
}

func (m *SessionExecute) Validate() error {
	if m.SessionID == "" {
		return errors.New("session.execute requires session_id")
	}
	return nil
}

// SessionCancel cancels the in-flight work of a session.
type SessionCancel struct {
	SessionID string `json:"session_id"`
}

func (m *SessionCancel) Validate() error {
	if m.SessionID == "" {
		return errors.New("session.cancel requires session_id")
	}
	return nil
}

// SessionInput forwards raw keystrokes to a terminal session.
type SessionInput struct {
	SessionID string `json:"session_id"`
	Data      string `json:"data"`
}

func (m *SessionInput) Validate() error {
	if m.SessionID == "" {
		return errors.New("session.input requires session_id")
	}
	return nil
}

// SessionResize changes a terminal session's PTY dimensions.
type SessionResize struct {
	SessionID string `json:"session_id"`
	Cols      int    `json:"cols"`
	Rows      int    `json:"rows"`
}

func (m *SessionResize) Validate() error {
	if m.SessionID == "" {
		return errors.New("session.resize requires session_id")
	}
	if m.Cols <= 0 || m.Rows <= 0 {
		return errors.New("session.resize requires positive cols and rows")
	}
	return nil
}

// SessionReplay requests a bounded replay of past output events.
type SessionReplay struct {
	SessionID      string     `json:"session_id"`
	SinceSequence  *int64     `json:"since_sequence,omitempty"`
	SinceTimestamp *time.Time `json:"since_timestamp,omitempty"`
	Limit          int        `json:"limit,omitempty"`
}

func (m *SessionReplay) Validate() error {
	if m.SessionID == "" {
		return errors.New("session.replay requires session_id")
	}
	return nil
}

// SessionReplayData is the response to SessionReplay.
type SessionReplayData struct {
	SessionID string                 `json:"session_id"`
	Events    []SequencedOutputEvent `json:"events"`
	HasMore   bool                   `json:"has_more"`
}

func (m *SessionReplayData) Validate() error {
	if m.SessionID == "" {
		return errors.New("session.replay.data requires session_id")
	}
	return nil
}

// SessionCreated announces a new session to subscribed devices.
type SessionCreated struct {
	SessionID string `json:"session_id"`
	Kind      string `json:"kind"`
	Status    string `json:"status"`
}

func (m *SessionCreated) Validate() error {
	if m.SessionID == "" || m.Kind == "" {
		return errors.New("session.created requires session_id and kind")
	}
	return nil
}

// SessionTerminated announces that a session has ended, optionally due to
// an internal error.
type SessionTerminated struct {
	SessionID string `json:"session_id"`
	Code      string `json:"code,omitempty"`
	Message   string `json:"message,omitempty"`
}

func (m *SessionTerminated) Validate() error {
	if m.SessionID == "" {
		return errors.New("session.terminated requires session_id")
	}
	return nil
}

// --- Supervisor control -----------------------------------------------

// SupervisorCommand drives the supervisor's top-level chat.
type SupervisorCommand struct {
	Content   string `json:"content"`
	MessageID string `json:"message_id,omitempty"`
}

func (m *SupervisorCommand) Validate() error { return nil }

// SupervisorCancel cancels the supervisor's in-flight work.
type SupervisorCancel struct{}

func (m *SupervisorCancel) Validate() error { return nil }

// SupervisorClearContext resets the supervisor's conversation context.
type SupervisorClearContext struct{}

func (m *SupervisorClearContext) Validate() error { return nil }

// SupervisorCreateSession is the supervisor's session-creation command.
type SupervisorCreateSession struct {
	Kind      string `json:"kind"`
	Workspace string `json:"workspace,omitempty"`
	Project   string `json:"project,omitempty"`
	Worktree  string `json:"worktree,omitempty"`
	AgentName string `json:"agent_name,omitempty"`
}

func (m *SupervisorCreateSession) Validate() error {
	if m.Kind == "" {
		return errors.New("supervisor.create_session requires kind")
	}
	return nil
}

// SupervisorTerminateSession terminates a session by id.
type SupervisorTerminateSession struct {
	SessionID string `json:"session_id"`
}

func (m *SupervisorTerminateSession) Validate() error {
	if m.SessionID == "" {
		return errors.New("supervisor.terminate_session requires session_id")
	}
	return nil
}

// SupervisorListSessions requests the current session list.
type SupervisorListSessions struct{}

func (m *SupervisorListSessions) Validate() error { return nil }

// --- History -----------------------------------------------------------

// HistoryEntry mirrors the durable message data model for wire transfer.
type HistoryEntry struct {
	ID              string         `json:"id"`
	SessionID       string         `json:"session_id"`
	Sequence        int64          `json:"sequence"`
	Role            string         `json:"role"`
	ContentType     string         `json:"content_type"`
	Content         string         `json:"content"`
	ContentBlocks   []ContentBlock `json:"content_blocks,omitempty"`
	AudioInputPath  string         `json:"audio_input_path,omitempty"`
	AudioOutputPath string         `json:"audio_output_path,omitempty"`
	IsComplete      bool           `json:"is_complete"`
	CreatedAt       time.Time      `json:"created_at"`
}

// HistoryRequest asks for a page of a session's durable message log.
type HistoryRequest struct {
	SessionID      string `json:"session_id"`
	BeforeSequence *int64 `json:"before_sequence,omitempty"`
	Limit          int    `json:"limit,omitempty"`
}

func (m *HistoryRequest) Validate() error {
	if m.SessionID == "" {
		return errors.New("history.request requires session_id")
	}
	return nil
}

// HistoryResponse is the answer to HistoryRequest.
type HistoryResponse struct {
	History                []HistoryEntry `json:"history"`
	HasMore                bool           `json:"has_more"`
	OldestSequence         int64          `json:"oldest_sequence"`
	NewestSequence         int64          `json:"newest_sequence"`
	IsExecuting            bool           `json:"is_executing"`
	CurrentStreamingBlocks []ContentBlock `json:"current_streaming_blocks,omitempty"`
	StreamingMessageID     string         `json:"streaming_message_id,omitempty"`
}

func (m *HistoryResponse) Validate() error { return nil }

// --- Audio ---------------------------------------------------------------

// AudioRequest asks the workstation for a stored audio blob.
type AudioRequest struct {
	MessageID string `json:"message_id"`
	Type      string `json:"type"` // "output" | "input"
}

func (m *AudioRequest) Validate() error {
	if m.MessageID == "" {
		return errors.New("audio.request requires message_id")
	}
	if m.Type != "output" && m.Type != "input" {
		return errors.New("audio.request type must be output or input")
	}
	return nil
}

// AudioResponse carries a base64-encoded audio blob, or an error.
type AudioResponse struct {
	MessageID string `json:"message_id"`
	Type      string `json:"type"`
	Data      string `json:"data,omitempty"`
	Error     string `json:"error,omitempty"`
}

func (m *AudioResponse) Validate() error {
	if m.MessageID == "" {
		return errors.New("audio.response requires message_id")
	}
	return nil
}

// --- Acks and sync -------------------------------------------------------

// MessageAck resolves a client-generated message_id's pending-ack state.
type MessageAck struct {
	MessageID string `json:"message_id"`
	Status    string `json:"status"`
}

func (m *MessageAck) Validate() error {
	if m.MessageID == "" {
		return errors.New("message.ack requires message_id")
	}
	return nil
}

// SyncRequest bootstraps (or re-bootstraps) client-side state.
type SyncRequest struct {
	Lightweight bool `json:"lightweight,omitempty"`
}

func (m *SyncRequest) Validate() error { return nil }

// SessionSummary is one entry in SyncResponse.Sessions.
type SessionSummary struct {
	ID        string    `json:"id"`
	Kind      string    `json:"kind"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

// SubscriptionSummary is one entry in SyncResponse.Subscriptions.
type SubscriptionSummary struct {
	SessionID string `json:"session_id"`
}

// StreamingState describes one in-flight streaming message at sync time.
type StreamingState struct {
	SessionID          string         `json:"session_id"`
	StreamingMessageID string         `json:"streaming_message_id"`
	Blocks             []ContentBlock `json:"blocks"`
}

// WorkspaceSummary advertises the workspace/project tree for session
// creation pickers.
type WorkspaceSummary struct {
	Name          string   `json:"name"`
	Projects      []string `json:"projects"`
	DefaultBranch string   `json:"default_branch,omitempty"`
}

// SyncResponse answers SyncRequest.
type SyncResponse struct {
	Sessions          []SessionSummary      `json:"sessions"`
	Subscriptions     []SubscriptionSummary `json:"subscriptions"`
	SupervisorHistory []HistoryEntry        `json:"supervisor_history,omitempty"`
	StreamingStates   []StreamingState       `json:"streaming_states,omitempty"`
	AgentAliases      map[string]string      `json:"agent_aliases"`
	HiddenBaseTypes   []string               `json:"hidden_base_types,omitempty"`
	Workspaces        []WorkspaceSummary     `json:"workspaces"`
}

func (m *SyncResponse) Validate() error { return nil }

// --- Protocol-level errors -----------------------------------------------

// ErrorMessage reports a failure that has no more specific response shape
// to attach to, e.g. a session.subscribe against an unknown session id.
type ErrorMessage struct {
	Code    ErrorCode              `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

func (m *ErrorMessage) Validate() error {
	if m.Code == "" {
		return errors.New("error requires code")
	}
	return nil
}

// --- Connection state broadcast ------------------------------------------

// ConnectionWorkstationOffline/Online are emitted by the tunnel side when
// the workstation's own link drops or recovers.
type ConnectionWorkstationOffline struct{}

func (m *ConnectionWorkstationOffline) Validate() error { return nil }

type ConnectionWorkstationOnline struct{}

func (m *ConnectionWorkstationOnline) Validate() error { return nil }

// --- Watch relay -----------------------------------------------------------

// RelayConnect opens a watch-to-phone relay session.
type RelayConnect struct{}

func (m *RelayConnect) Validate() error { return nil }

// RelayDisconnect ends a watch-to-phone relay session.
type RelayDisconnect struct{}

func (m *RelayDisconnect) Validate() error { return nil }

// RelayMessage is opaque backbone traffic forwarded by the watch.
type RelayMessage struct {
	Payload interface{} `json:"payload"`
}

func (m *RelayMessage) Validate() error {
	if m.Payload == nil {
		return errors.New("relay.message requires payload")
	}
	return nil
}

// RelaySync asks the phone to relay a sync bootstrap.
type RelaySync struct {
	Lightweight bool `json:"lightweight,omitempty"`
}

func (m *RelaySync) Validate() error { return nil }

// RelayResponse mirrors backbone traffic back to the watch.
type RelayResponse struct {
	Payload interface{} `json:"payload"`
}

func (m *RelayResponse) Validate() error { return nil }

// RelayConnectionState reports the phone's own backbone connectivity.
type RelayConnectionState struct {
	IsConnected      bool   `json:"is_connected"`
	WorkstationOnline bool  `json:"workstation_online"`
	Error            string `json:"error,omitempty"`
}

func (m *RelayConnectionState) Validate() error { return nil }

// --- Default registry -------------------------------------------------

// DefaultRegistry returns a Registry populated with every message type
// defined in this package, keyed by its wire "type" string.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.RegisterType("connect", func() Payload { return &ConnectRequest{} })
	r.RegisterType("connected", func() Payload { return &Connected{} })
	r.RegisterType("auth", func() Payload { return &AuthRequest{} })
	r.RegisterType("auth.success", func() Payload { return &AuthSuccess{} })
	r.RegisterType("auth.error", func() Payload { return &AuthError{} })
	r.RegisterType("heartbeat", func() Payload { return &Heartbeat{} })
	r.RegisterType("heartbeat.ack", func() Payload { return &HeartbeatAck{} })

	r.RegisterType("supervisor.command", func() Payload { return &SupervisorCommand{} })
	r.RegisterType("supervisor.cancel", func() Payload { return &SupervisorCancel{} })
	r.RegisterType("supervisor.clear_context", func() Payload { return &SupervisorClearContext{} })
	r.RegisterType("supervisor.create_session", func() Payload { return &SupervisorCreateSession{} })
	r.RegisterType("supervisor.terminate_session", func() Payload { return &SupervisorTerminateSession{} })
	r.RegisterType("supervisor.list_sessions", func() Payload { return &SupervisorListSessions{} })
	r.RegisterType("supervisor.output", func() Payload { return &SequencedOutputEvent{} })
	r.RegisterType("supervisor.user_message", func() Payload { return &SequencedOutputEvent{} })
	r.RegisterType("supervisor.transcription", func() Payload { return &SequencedOutputEvent{} })
	r.RegisterType("supervisor.voice_output", func() Payload { return &SequencedOutputEvent{} })
	r.RegisterType("supervisor.context_cleared", func() Payload { return &SupervisorClearContext{} })

	r.RegisterType("session.subscribe", func() Payload { return &SessionSubscribe{} })
	r.RegisterType("session.subscribed", func() Payload { return &SessionSubscribed{} })
	r.RegisterType("session.unsubscribe", func() Payload { return &SessionUnsubscribe{} })
	r.RegisterType("session.execute", func() Payload { return &SessionExecute{} })
	r.RegisterType("session.cancel", func() Payload { return &SessionCancel{} })
	r.RegisterType("session.input", func() Payload { return &SessionInput{} })
	r.RegisterType("session.resize", func() Payload { return &SessionResize{} })
	r.RegisterType("session.resized", func() Payload { return &SessionResize{} })
	r.RegisterType("session.replay", func() Payload { return &SessionReplay{} })
	r.RegisterType("session.replay.data", func() Payload { return &SessionReplayData{} })
	r.RegisterType("session.created", func() Payload { return &SessionCreated{} })
	r.RegisterType("session.terminated", func() Payload { return &SessionTerminated{} })
	r.RegisterType("session.output", func() Payload { return &SequencedOutputEvent{} })
	r.RegisterType("session.user_message", func() Payload { return &SequencedOutputEvent{} })
	r.RegisterType("session.transcription", func() Payload { return &SequencedOutputEvent{} })
	r.RegisterType("session.voice_output", func() Payload { return &SequencedOutputEvent{} })

	r.RegisterType("history.request", func() Payload { return &HistoryRequest{} })
	r.RegisterType("history.response", func() Payload { return &HistoryResponse{} })

	r.RegisterType("audio.request", func() Payload { return &AudioRequest{} })
	r.RegisterType("audio.response", func() Payload { return &AudioResponse{} })

	r.RegisterType("error", func() Payload { return &ErrorMessage{} })
	r.RegisterType("message.ack", func() Payload { return &MessageAck{} })
	r.RegisterType("sync", func() Payload { return &SyncRequest{} })
	r.RegisterType("sync.state", func() Payload { return &SyncResponse{} })

	r.RegisterType("connection.workstation_offline", func() Payload { return &ConnectionWorkstationOffline{} })
	r.RegisterType("connection.workstation_online", func() Payload { return &ConnectionWorkstationOnline{} })

	r.RegisterType("relay.connect", func() Payload { return &RelayConnect{} })
	r.RegisterType("relay.disconnect", func() Payload { return &RelayDisconnect{} })
	r.RegisterType("relay.message", func() Payload { return &RelayMessage{} })
	r.RegisterType("relay.sync", func() Payload { return &RelaySync{} })
	r.RegisterType("relay.response", func() Payload { return &RelayResponse{} })
	r.RegisterType("relay.connectionState", func() Payload { return &RelayConnectionState{} })

	return r
}
