// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package sync bootstraps a client's local view of the backbone right
// after authentication: a sync request returns the session list, active
// subscriptions, a bounded supervisor history window, in-flight streaming
// state, agent aliases, and the workspace tree; per-session history beyond
// that window is fetched lazily via history.request.
package sync

import (
	"context"
	"fmt"
	"sync"

	"github.com/relaycore/workstation/internal/protocol"
)

// Requester performs one request/response round trip over the backbone,
// matching a reply to its request by the envelope id. A thin adapter over
// command.Sender plus a response correlator lives at the wiring site.
type Requester func(ctx context.Context, msgType string, payload protocol.Payload) (*protocol.Message, error)

// State is the client's cached view of the backbone, refreshed by
// Bootstrap and partially refreshed by RequestHistory.
type State struct {
	mu sync.RWMutex

	sessions        []protocol.SessionSummary
	subscriptions   []protocol.SubscriptionSummary
	streamingStates []protocol.StreamingState
	agentAliases    map[string]string
	hiddenBaseTypes []string
	workspaces      []protocol.WorkspaceSummary
}

// Sessions returns the last-known session list.
func (s *State) Sessions() []protocol.SessionSummary {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]protocol.SessionSummary(nil), s.sessions...)
}

// Subscriptions returns the last-known subscription list.
func (s *State) Subscriptions() []protocol.SubscriptionSummary {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]protocol.SubscriptionSummary(nil), s.subscriptions...)
}

// StreamingStates returns the in-flight streaming messages known at the
// last sync.
func (s *State) StreamingStates() []protocol.StreamingState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]protocol.StreamingState(nil), s.streamingStates...)
}

// AgentAliases returns the alias-name -> base-type map.
func (s *State) AgentAliases() map[string]string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]string, len(s.agentAliases))
	for k, v := range s.agentAliases {
		out[k] = v
	}
	return out
}

// HiddenBaseTypes returns base agent types that should not be offered in
// a session-creation picker.
func (s *State) HiddenBaseTypes() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.hiddenBaseTypes...)
}

// Workspaces returns the last-known workspace/project tree.
func (s *State) Workspaces() []protocol.WorkspaceSummary {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]protocol.WorkspaceSummary(nil), s.workspaces...)
}

func (s *State) apply(resp *protocol.SyncResponse) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions = resp.Sessions
	s.subscriptions = resp.Subscriptions
	s.streamingStates = resp.StreamingStates
	s.agentAliases = resp.AgentAliases
	s.hiddenBaseTypes = resp.HiddenBaseTypes
	s.workspaces = resp.Workspaces
}

// Client bootstraps and lazily refreshes a State over a Requester.
type Client struct {
	request Requester
	State   *State

	// OnSupervisorHistory is invoked with the bounded supervisor history
	// window returned by a non-lightweight Bootstrap.
	OnSupervisorHistory func([]protocol.HistoryEntry)
}

// New creates a Client. request performs the request/response round trip;
// typically a thin wrapper around command.Sender correlating replies by
// envelope id.
func New(request Requester) *Client {
	return &Client{request: request, State: &State{}}
}

// Bootstrap issues a sync request and applies the response to State. A
// lightweight bootstrap omits the supervisor history window, for
// reconnects that only need the session/subscription/alias picture
// refreshed.
func (c *Client) Bootstrap(ctx context.Context, lightweight bool) error {
	msg, err := c.request(ctx, "sync", &protocol.SyncRequest{Lightweight: lightweight})
	if err != nil {
		return fmt.Errorf("sync request failed: %w", err)
	}
	resp, ok := msg.Payload.(*protocol.SyncResponse)
	if !ok {
		return fmt.Errorf("sync: unexpected reply type %q", msg.Type)
	}
	c.State.apply(resp)
	if !lightweight && c.OnSupervisorHistory != nil && len(resp.SupervisorHistory) > 0 {
		c.OnSupervisorHistory(resp.SupervisorHistory)
	}
	return nil
}

// RequestHistory fetches one page of a session's durable message log,
// older than beforeSequence (nil for the most recent page).
func (c *Client) RequestHistory(ctx context.Context, sessionID string, beforeSequence *int64, limit int) (*protocol.HistoryResponse, error) {
	msg, err := c.request(ctx, "history.request", &protocol.HistoryRequest{
		SessionID:      sessionID,
		BeforeSequence: beforeSequence,
		Limit:          limit,
	})
	if err != nil {
		return nil, fmt.Errorf("history.request failed: %w", err)
	}
	resp, ok := msg.Payload.(*protocol.HistoryResponse)
	if !ok {
		return nil, fmt.Errorf("history.request: unexpected reply type %q", msg.Type)
	}
	return resp, nil
}
