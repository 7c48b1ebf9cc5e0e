// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package relay

import (
	"context"
	"io"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaycore/workstation/internal/protocol"
	"github.com/relaycore/workstation/pkg/rcclient/connection"
)

type fakeWatchLink struct {
	mu      sync.Mutex
	inbox   []*protocol.Message
	sent    []*protocol.Message
	closed  bool
}

func (f *fakeWatchLink) Receive() (*protocol.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.inbox) == 0 {
		return nil, io.EOF
	}
	msg := f.inbox[0]
	f.inbox = f.inbox[1:]
	return msg, nil
}

func (f *fakeWatchLink) Send(msgType string, payload protocol.Payload) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, &protocol.Message{Type: msgType, Payload: payload})
	return nil
}

func (f *fakeWatchLink) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func TestNewSessionReportsInitialConnectionState(t *testing.T) {
	conn := connection.New(connection.Config{Endpoint: "ws://127.0.0.1:1/unused"})
	watch := &fakeWatchLink{}

	s := NewSession(watch, func(string, string, protocol.Payload) error { return nil }, conn)
	defer s.Close()

	watch.mu.Lock()
	defer watch.mu.Unlock()
	require.Len(t, watch.sent, 1)
	assert.Equal(t, "relay.connectionState", watch.sent[0].Type)
	state := watch.sent[0].Payload.(*protocol.RelayConnectionState)
	assert.False(t, state.IsConnected)
}

func TestRunForwardsRelayMessageAndStopsOnDisconnect(t *testing.T) {
	conn := connection.New(connection.Config{Endpoint: "ws://127.0.0.1:1/unused"})

	var forwardedType, forwardedSession string
	watch := &fakeWatchLink{
		inbox: []*protocol.Message{
			{Type: "relay.message", Payload: &protocol.RelayMessage{Payload: map[string]interface{}{
				"type":       "session.input",
				"session_id": "sess-1",
				"data":       "hi",
			}}},
			{Type: "relay.disconnect", Payload: &protocol.RelayDisconnect{}},
		},
	}

	s := NewSession(watch, func(msgType, sessionID string, payload protocol.Payload) error {
		forwardedType = msgType
		forwardedSession = sessionID
		return nil
	}, conn)

	err := s.Run(context.Background(), nil)
	require.NoError(t, err)

	assert.Equal(t, "session.input", forwardedType)
	assert.Equal(t, "sess-1", forwardedSession)

	watch.mu.Lock()
	defer watch.mu.Unlock()
	assert.True(t, watch.closed)
}

func TestMirrorWrapsPayloadInRelayResponse(t *testing.T) {
	conn := connection.New(connection.Config{Endpoint: "ws://127.0.0.1:1/unused"})
	watch := &fakeWatchLink{}
	s := NewSession(watch, func(string, string, protocol.Payload) error { return nil }, conn)
	defer s.Close()

	err := s.Mirror(&protocol.Message{Type: "session.output", Payload: &protocol.SequencedOutputEvent{SessionID: "sess-1", Sequence: 1}})
	require.NoError(t, err)

	watch.mu.Lock()
	defer watch.mu.Unlock()
	last := watch.sent[len(watch.sent)-1]
	assert.Equal(t, "relay.response", last.Type)
}
