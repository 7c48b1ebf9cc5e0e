// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package audio mediates access to the workstation's voice blobs: TTS
// output and voice input never leave the workstation except on demand, so
// a client fetches a message's audio lazily via audio.request, caches the
// decoded bytes, coalesces concurrent requests for the same message_id,
// and enforces that device-side playback and recording never overlap.
package audio

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/relaycore/workstation/internal/protocol"
)

// ErrDeviceBusy is returned when playback or recording is requested while
// the other is already active.
var ErrDeviceBusy = errors.New("audio: device already playing or recording")

// Sender issues an audio.request and blocks for the matching
// audio.response; a thin adapter over command.Sender plus a response
// correlator lives at the wiring site, since audio.request/response pairs
// do not carry the fire-and-forget shape command.Sender otherwise assumes.
type Sender func(ctx context.Context, req protocol.AudioRequest) (*protocol.AudioResponse, error)

type deviceState int

const (
	deviceIdle deviceState = iota
	devicePlaying
	deviceRecording
)

// Mediator caches decoded audio blobs by message_id and coalesces
// concurrent fetches, and tracks the device's mutually exclusive
// playback/recording state.
type Mediator struct {
	send Sender

	group singleflight.Group

	mu    sync.Mutex
	cache map[string][]byte

	stateMu sync.Mutex
	state   deviceState
}

// New creates a Mediator. send performs the request/response round trip;
// callers typically wrap a command.Sender plus a correlation map keyed on
// message_id to implement it.
func New(send Sender) *Mediator {
	return &Mediator{
		send:  send,
		cache: make(map[string][]byte),
	}
}

// cacheKey scopes the cache by message_id and type, since a message may
// have both an input and output blob.
func cacheKey(messageID, typ string) string {
	return messageID + ":" + typ
}

// Fetch returns the decoded audio bytes for messageID/typ, serving from
// cache when present and coalescing concurrent callers for the same key
// into a single audio.request round trip.
func (m *Mediator) Fetch(ctx context.Context, messageID, typ string) ([]byte, error) {
	key := cacheKey(messageID, typ)

	m.mu.Lock()
	if cached, ok := m.cache[key]; ok {
		m.mu.Unlock()
		return cached, nil
	}
	m.mu.Unlock()

	v, err, _ := m.group.Do(key, func() (interface{}, error) {
		resp, err := m.send(ctx, protocol.AudioRequest{MessageID: messageID, Type: typ})
		if err != nil {
			return nil, err
		}
		if resp.Error != "" {
			return nil, fmt.Errorf("audio.response error: %s", resp.Error)
		}
		data, err := base64.StdEncoding.DecodeString(resp.Data)
		if err != nil {
			return nil, fmt.Errorf("audio.response: invalid base64: %w", err)
		}
		m.mu.Lock()
		m.cache[key] = data
		m.mu.Unlock()
		return data, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]byte), nil
}

// PlayAudioForMessage fetches (or serves cached) output audio for
// messageID and invokes onReady with the decoded bytes, failing fast if
// the device is already playing or recording. The caller is responsible
// for clearing playback state via StopPlayback when done.
func (m *Mediator) PlayAudioForMessage(ctx context.Context, messageID string, onReady func([]byte)) error {
	if err := m.beginState(devicePlaying); err != nil {
		return err
	}
	data, err := m.Fetch(ctx, messageID, "output")
	if err != nil {
		m.clearState(devicePlaying)
		return err
	}
	onReady(data)
	return nil
}

// StopPlayback releases the playing state so recording or another
// playback may begin.
func (m *Mediator) StopPlayback() {
	m.clearState(devicePlaying)
}

// BeginRecording reserves the recording state, failing if playback or
// another recording is already active.
func (m *Mediator) BeginRecording() error {
	return m.beginState(deviceRecording)
}

// StopRecording releases the recording state.
func (m *Mediator) StopRecording() {
	m.clearState(deviceRecording)
}

func (m *Mediator) beginState(want deviceState) error {
	m.stateMu.Lock()
	defer m.stateMu.Unlock()
	if m.state != deviceIdle {
		return ErrDeviceBusy
	}
	m.state = want
	return nil
}

func (m *Mediator) clearState(from deviceState) {
	m.stateMu.Lock()
	defer m.stateMu.Unlock()
	if m.state == from {
		m.state = deviceIdle
	}
}

// IsBusy reports whether playback or recording is currently active.
func (m *Mediator) IsBusy() bool {
	m.stateMu.Lock()
	defer m.stateMu.Unlock()
	return m.state != deviceIdle
}

// InvalidateCache drops any cached audio for messageID (both input and
// output), e.g. after a message is edited or deleted.
func (m *Mediator) InvalidateCache(messageID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.cache, cacheKey(messageID, "input"))
	delete(m.cache, cacheKey(messageID, "output"))
}
