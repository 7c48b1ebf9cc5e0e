// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeKnownType(t *testing.T) {
	r := DefaultRegistry()
	raw := []byte(`{"type":"session.subscribe","id":"req-1","session_id":"claude-abc12345"}`)

	msg, err := r.Decode(raw)
	require.NoError(t, err)
	assert.Equal(t, "session.subscribe", msg.Type)
	assert.Equal(t, "req-1", msg.ID)

	payload, ok := msg.Payload.(*SessionSubscribe)
	require.True(t, ok)
	assert.Equal(t, "claude-abc12345", payload.SessionID)
}

func TestDecodeUnknownTypeIsInvalidPayload(t *testing.T) {
	r := DefaultRegistry()
	_, err := r.Decode([]byte(`{"type":"bogus.thing"}`))
	require.Error(t, err)

	var protoErr *Error
	require.ErrorAs(t, err, &protoErr)
	assert.Equal(t, ErrInvalidPayload, protoErr.Code)
}

func TestDecodeMissingTypeFails(t *testing.T) {
	r := DefaultRegistry()
	_, err := r.Decode([]byte(`{"session_id":"x"}`))
	require.Error(t, err)
}

func TestDecodeMissingRequiredFieldFails(t *testing.T) {
	r := DefaultRegistry()
	_, err := r.Decode([]byte(`{"type":"session.subscribe"}`))
	require.Error(t, err)
}

func TestDecodeIgnoresUnknownOptionalFields(t *testing.T) {
	r := DefaultRegistry()
	raw := []byte(`{"type":"session.subscribe","session_id":"claude-abc12345","future_field":"ignored"}`)
	msg, err := r.Decode(raw)
	require.NoError(t, err)
	assert.Equal(t, "claude-abc12345", msg.Payload.(*SessionSubscribe).SessionID)
}

func TestEncodeThenDecodeRoundTrips(t *testing.T) {
	r := DefaultRegistry()
	original := &SessionResize{SessionID: "term-deadbeef", Cols: 120, Rows: 40}

	raw, err := Encode("session.resize", "req-2", "term-deadbeef", original)
	require.NoError(t, err)

	msg, err := r.Decode(raw)
	require.NoError(t, err)
	assert.Equal(t, "req-2", msg.ID)
	assert.Equal(t, "term-deadbeef", msg.SessionID)
	assert.Equal(t, original, msg.Payload)
}

func TestRegisterTypeTwicePanics(t *testing.T) {
	r := NewRegistry()
	r.RegisterType("foo", func() Payload { return &SessionCancel{} })
	assert.Panics(t, func() {
		r.RegisterType("foo", func() Payload { return &SessionCancel{} })
	})
}

func TestSessionResizeRejectsNonPositiveDimensions(t *testing.T) {
	m := &SessionResize{SessionID: "term-1", Cols: 0, Rows: 40}
	assert.Error(t, m.Validate())
}

func TestSequencedOutputEventRequiresSequence(t *testing.T) {
	m := &SequencedOutputEvent{SessionID: "claude-1"}
	assert.Error(t, m.Validate())
}
