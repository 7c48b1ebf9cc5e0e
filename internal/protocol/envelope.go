// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package protocol defines the wire envelope shared by the workstation
// backbone and the rcclient library: a single self-describing message with
// a required "type" discriminator and a closed set of payload shapes
// registered against it.
package protocol

import (
	"encoding/json"
	"fmt"
)

// ProtocolVersion is reported on "connected" and "auth.success" and echoed
// by clients so major-version mismatches can be detected before any
// commands are attempted.
const ProtocolVersion = "1.13"

// Payload is implemented by every concrete message type. Validate checks
// that required fields are present; it must not reject unknown optional
// fields (those are simply ignored by encoding/json).
type Payload interface {
	Validate() error
}

// Message is a decoded envelope: the type discriminator plus correlation
// and routing fields that live at the top level of every wire message,
// plus the concrete, type-specific payload.
type Message struct {
	Type      string `json:"type"`
	ID        string `json:"id,omitempty"`
	SessionID string `json:"session_id,omitempty"`

	// DeviceID is only ever trustworthy when it was injected by the tunnel
	// on ingress. Workstation-side code must read it from the connection
	// context, never from a client-supplied envelope field.
	DeviceID string `json:"device_id,omitempty"`

	Payload Payload `json:"-"`
}

// zeroFunc constructs a fresh, zero-valued instance of a registered
// payload type so it can be unmarshaled into.
type zeroFunc func() Payload

// Registry maps a message "type" string to the Go struct that decodes it.
// It is the closed discriminated union the protocol validates against on
// both ingress and egress.
type Registry struct {
	types map[string]zeroFunc
}

// NewRegistry returns an empty type registry. Use RegisterType to populate
// it, or DefaultRegistry for the one built from this package's own types.
func NewRegistry() *Registry {
	return &Registry{types: make(map[string]zeroFunc)}
}

// RegisterType associates a wire "type" string with a constructor for its
// payload struct. Re-registering an existing type panics: the type table
// is meant to be assembled once at init time, not mutated at runtime.
func (r *Registry) RegisterType(name string, zero zeroFunc) {
	if _, exists := r.types[name]; exists {
		panic(fmt.Sprintf("protocol: type %q already registered", name))
	}
	r.types[name] = zero
}

// Decode parses a raw envelope, looks up its payload type, and unmarshals
// the full object into that type's struct. Unknown types fail with
// ErrInvalidPayload; unmarshal failures against a known type also fail
// with ErrInvalidPayload since they mean a required field of the wrong
// shape arrived.
func (r *Registry) Decode(raw []byte) (*Message, error) {
	var head struct {
		Type      string `json:"type"`
		ID        string `json:"id,omitempty"`
		SessionID string `json:"session_id,omitempty"`
		DeviceID  string `json:"device_id,omitempty"`
	}
	if err := json.Unmarshal(raw, &head); err != nil {
		return nil, &Error{Code: ErrInvalidPayload, Message: "malformed envelope: " + err.Error()}
	}
	if head.Type == "" {
		return nil, &Error{Code: ErrInvalidPayload, Message: "missing required field \"type\""}
	}

	zero, ok := r.types[head.Type]
	if !ok {
		return nil, &Error{Code: ErrInvalidPayload, Message: fmt.Sprintf("unknown message type %q", head.Type)}
	}

	payload := zero()
	if err := json.Unmarshal(raw, payload); err != nil {
		return nil, &Error{Code: ErrInvalidPayload, Message: "decoding " + head.Type + ": " + err.Error()}
	}
	if err := payload.Validate(); err != nil {
		return nil, &Error{Code: ErrInvalidPayload, Message: err.Error()}
	}

	return &Message{
		Type:      head.Type,
		ID:        head.ID,
		SessionID: head.SessionID,
		DeviceID:  head.DeviceID,
		Payload:   payload,
	}, nil
}

// Encode produces the wire bytes for an outbound message: the payload is
// marshaled and the envelope fields (type, id, session_id) are merged in,
// so payload structs never need to duplicate those fields themselves.
func Encode(msgType, id, sessionID string, payload Payload) ([]byte, error) {
	if err := payload.Validate(); err != nil {
		return nil, err
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, err
	}
	fields["type"] = mustMarshal(msgType)
	if id != "" {
		fields["id"] = mustMarshal(id)
	}
	if sessionID != "" {
		fields["session_id"] = mustMarshal(sessionID)
	}
	return json.Marshal(fields)
}

func mustMarshal(v string) json.RawMessage {
	b, _ := json.Marshal(v)
	return b
}
