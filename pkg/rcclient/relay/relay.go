// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package relay forwards a watch's traffic through the phone's own
// backbone connection. The watch never talks to the tunnel directly: it
// opens a relay session against the phone, which forwards each payload
// onto the backbone under the phone's own device_id, mirrors every
// inbound backbone message back to the watch, and reports its own
// connectivity on every change. Either peer disconnecting ends the relay
// session; the phone's backbone connection itself is unaffected.
package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"

	"github.com/relaycore/workstation/internal/protocol"
	"github.com/relaycore/workstation/pkg/rcclient/connection"
)

// WatchLink is the phone's local transport to the paired watch (e.g. a
// WatchConnectivity/Bluetooth session wrapped to look like a byte
// message stream); Send/Receive/Close are all the relay needs.
type WatchLink interface {
	Send(msgType string, payload protocol.Payload) error
	Receive() (*protocol.Message, error)
	Close() error
}

// Forwarder sends a payload onto the backbone on the phone's own
// connection and returns once it's been written; typically backed by
// connection.Manager.Send or a command.Sender wrapping it.
type Forwarder func(msgType, sessionID string, payload protocol.Payload) error

// Session relays one watch's traffic over the phone's backbone
// connection until either side disconnects.
type Session struct {
	watch   WatchLink
	forward Forwarder
	conn    *connection.Manager

	mu     sync.Mutex
	closed bool

	cancelConnSub func()
}

// NewSession starts relaying for one connected watch. conn is the
// phone's own backbone connection, whose state changes are mirrored to
// the watch as relay.connectionState frames; forwarded payloads ride the
// phone's already-authenticated connection, so the tunnel stamps them
// with the phone's own device_id on ingress without the relay needing to
// set it explicitly.
func NewSession(watch WatchLink, forward Forwarder, conn *connection.Manager) *Session {
	s := &Session{watch: watch, forward: forward, conn: conn}
	s.cancelConnSub = conn.Subscribe(func(snap connection.Snapshot) {
		s.reportConnectionState(snap)
	})
	s.reportConnectionState(conn.Snapshot())
	return s
}

// Run reads relay frames from the watch until it disconnects or ctx is
// cancelled, forwarding relay.message payloads onto the backbone and
// relay.sync requests through the sync bootstrap path.
func (s *Session) Run(ctx context.Context, onSyncRequest func(lightweight bool)) error {
	defer s.Close()

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		msg, err := s.watch.Receive()
		if err != nil {
			return fmt.Errorf("relay: watch link closed: %w", err)
		}

		switch msg.Type {
		case "relay.disconnect":
			return nil
		case "relay.message":
			rm := msg.Payload.(*protocol.RelayMessage)
			if err := s.forwardPayload(rm.Payload); err != nil {
				log.Printf("relay: forward failed: %v", err)
			}
		case "relay.sync":
			rs := msg.Payload.(*protocol.RelaySync)
			if onSyncRequest != nil {
				onSyncRequest(rs.Lightweight)
			}
		default:
			log.Printf("relay: unexpected frame from watch: %s", msg.Type)
		}
	}
}

// forwardPayload unwraps a relay.message's opaque payload back into an
// envelope and forwards it onto the backbone under the phone's own
// device_id.
func (s *Session) forwardPayload(payload interface{}) error {
	fields, ok := payload.(map[string]interface{})
	if !ok {
		return errors.New("relay: payload is not an object")
	}
	msgType, _ := fields["type"].(string)
	sessionID, _ := fields["session_id"].(string)
	if msgType == "" {
		return errors.New("relay: payload missing type")
	}
	return s.forward(msgType, sessionID, &opaquePayload{fields: fields})
}

// Mirror sends an inbound backbone message back to the watch wrapped in
// relay.response, preserving the phone's view of the traffic exactly as
// received.
func (s *Session) Mirror(msg *protocol.Message) error {
	return s.watch.Send("relay.response", &protocol.RelayResponse{Payload: msg.Payload})
}

func (s *Session) reportConnectionState(snap connection.Snapshot) {
	isConnected := snap.State == connection.StateAuthenticated || snap.State == connection.StateVerified || snap.State == connection.StateDegraded
	state := &protocol.RelayConnectionState{
		IsConnected:       isConnected,
		WorkstationOnline: isConnected,
	}
	if snap.Err != nil {
		state.Error = snap.Err.Error()
	}
	if err := s.watch.Send("relay.connectionState", state); err != nil {
		log.Printf("relay: failed to report connection state to watch: %v", err)
	}
}

// Close tears down the relay session, unsubscribing from connection
// state changes and closing the watch link.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	if s.cancelConnSub != nil {
		s.cancelConnSub()
	}
	return s.watch.Close()
}

// opaquePayload is a protocol.Payload whose fields are an untyped
// map[string]interface{} decoded from a relay.message, used only to
// satisfy protocol.Encode's Validate/Marshal contract when re-forwarding
// it onto the backbone. MarshalJSON round-trips the map verbatim.
type opaquePayload struct {
	fields map[string]interface{}
}

func (p *opaquePayload) Validate() error { return nil }

func (p *opaquePayload) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.fields)
}
