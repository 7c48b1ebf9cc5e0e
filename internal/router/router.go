// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package router implements the device↔session subscription graph and
// the strictly per-session-ordered fan-out of streaming output. It
// adapts a familiar locking texture — a broad sync.RWMutex for the index
// plus a narrower per-entity mutex for serialized writes, the same split
// internal/claude/manager.go uses between Manager.mu and Session.mu —
// to enforce per-session sequence allocation.
package router

import (
	"context"
	"log"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/relaycore/workstation/internal/protocol"
)

const (
	// subscriberBufferSize is the bounded per-subscriber channel size.
	subscriberBufferSize = 256
	// recentWindowSize bounds the in-memory window handed back on
	// subscribe.
	recentWindowSize = 50
	// replayLimitCap is the hard cap on a single replay response.
	replayLimitCap = 1000
)

// Appender persists one sequenced output event to durable or ring-buffer
// storage. SQLAppender and RingAppender (appenders.go) are the two
// concrete implementations; which one a session uses is chosen by
// RegisterSession at session-creation time.
type Appender interface {
	Append(ctx context.Context, messageID, sessionID, role string, evt protocol.SequencedOutputEvent) error
}

// SessionLookup resolves a session id to the metadata a subscribe
// snapshot needs, without the router importing the registry package
// directly.
type SessionLookup interface {
	Lookup(sessionID string) (kind, status string, ok bool)
}

// Snapshot is returned to a device on successful subscribe: session
// metadata, whether it is currently executing, in-flight streaming
// blocks, and a bounded recent-history window, all reflecting one
// consistent instant.
type Snapshot struct {
	SessionID          string
	Kind               string
	Status             string
	IsExecuting        bool
	StreamingMessageID string
	StreamingBlocks     []protocol.ContentBlock
	Recent             []protocol.SequencedOutputEvent
}

type sessionState struct {
	mu       sync.Mutex // serializes sequence allocation + recent-window mutation
	nextSeq  int64
	appender Appender
	recent   []protocol.SequencedOutputEvent

	executing          bool
	streamingMessageID string
	streamingBlocks    []protocol.ContentBlock
}

// Device is a connected client's fan-out target. The owning transport
// (the WebSocket handler) reads Out() and writes frames to the socket;
// the router never touches the socket directly.
type Device struct {
	ID      string
	out     chan protocol.SequencedOutputEvent
	limiter *rate.Limiter
}

// Out returns the channel the transport should drain.
func (d *Device) Out() <-chan protocol.SequencedOutputEvent { return d.out }

// Router maintains the by-device/by-session subscription indices and
// fans out broadcast events to every subscribed device.
type Router struct {
	mu        sync.RWMutex
	byDevice  map[string]map[string]struct{}
	bySession map[string]map[string]*Device
	devices   map[string]*Device
	sessions  map[string]*sessionState
	lookup    SessionLookup

	// onDrop is invoked when a subscriber's outbound buffer overflows; the
	// transport layer uses it to force-reconnect that device.
	onDrop func(deviceID string)
}

// New constructs an empty Router. lookup may be nil in tests that only
// exercise the fan-out mechanics.
func New(lookup SessionLookup, onDrop func(deviceID string)) *Router {
	return &Router{
		byDevice:  make(map[string]map[string]struct{}),
		bySession: make(map[string]map[string]*Device),
		devices:   make(map[string]*Device),
		sessions:  make(map[string]*sessionState),
		lookup:    lookup,
		onDrop:    onDrop,
	}
}

// RegisterDevice creates a fan-out target for deviceID, replacing any
// prior one (e.g. after a forced reconnect).
func (r *Router) RegisterDevice(deviceID string) *Device {
	d := &Device{
		ID:      deviceID,
		out:     make(chan protocol.SequencedOutputEvent, subscriberBufferSize),
		limiter: rate.NewLimiter(rate.Limit(1000), subscriberBufferSize),
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.devices[deviceID] = d
	return d
}

// UnregisterDevice removes deviceID and every subscription it holds.
func (r *Router) UnregisterDevice(deviceID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for sessionID := range r.byDevice[deviceID] {
		delete(r.bySession[sessionID], deviceID)
	}
	delete(r.byDevice, deviceID)
	delete(r.devices, deviceID)
}

// RegisterSession wires a newly created session to the appender that
// persists its broadcast events (SQLAppender for agent/supervisor
// sessions, RingAppender for terminal sessions).
func (r *Router) RegisterSession(sessionID string, appender Appender) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[sessionID] = &sessionState{appender: appender}
}

// UnsubscribeAll implements registry.Cascade: called when a session
// terminates so every subscribed device is dropped and in-memory state
// for the session is released.
func (r *Router) UnsubscribeAll(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for deviceID := range r.bySession[sessionID] {
		delete(r.byDevice[deviceID], sessionID)
	}
	delete(r.bySession, sessionID)
	delete(r.sessions, sessionID)
}

// Subscribe registers deviceID's interest in sessionID and returns a
// consistent-instant snapshot. Idempotent: repeated calls leave exactly
// one edge.
func (r *Router) Subscribe(sessionID, deviceID string) (Snapshot, error) {
	r.mu.Lock()
	dev, ok := r.devices[deviceID]
	if !ok {
		dev = &Device{ID: deviceID, out: make(chan protocol.SequencedOutputEvent, subscriberBufferSize), limiter: rate.NewLimiter(rate.Limit(1000), subscriberBufferSize)}
		r.devices[deviceID] = dev
	}
	if r.byDevice[deviceID] == nil {
		r.byDevice[deviceID] = make(map[string]struct{})
	}
	r.byDevice[deviceID][sessionID] = struct{}{}
	if r.bySession[sessionID] == nil {
		r.bySession[sessionID] = make(map[string]*Device)
	}
	r.bySession[sessionID][deviceID] = dev

	state := r.sessions[sessionID]
	r.mu.Unlock()

	snap := Snapshot{SessionID: sessionID}
	if r.lookup != nil {
		if kind, status, ok := r.lookup.Lookup(sessionID); ok {
			snap.Kind = kind
			snap.Status = status
		}
	}

	if state != nil {
		state.mu.Lock()
		snap.IsExecuting = state.executing
		snap.StreamingMessageID = state.streamingMessageID
		snap.StreamingBlocks = append([]protocol.ContentBlock(nil), state.streamingBlocks...)
		snap.Recent = append([]protocol.SequencedOutputEvent(nil), state.recent...)
		state.mu.Unlock()
	}

	return snap, nil
}

// Unsubscribe removes one (device, session) edge. Idempotent.
func (r *Router) Unsubscribe(sessionID, deviceID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.byDevice[deviceID], sessionID)
	delete(r.bySession[sessionID], deviceID)
}

// Broadcast is the sole writer of sequence values for sessionID. It
// allocates the next sequence under the session's write lock, persists
// via the registered appender, updates in-memory streaming state, and
// fans out to every subscribed device. Returns the assigned sequence.
func (r *Router) Broadcast(ctx context.Context, sessionID, messageID, role string, evt protocol.SequencedOutputEvent) (int64, error) {
	r.mu.RLock()
	state := r.sessions[sessionID]
	subs := r.bySession[sessionID]
	r.mu.RUnlock()

	if state == nil {
		r.mu.Lock()
		state = &sessionState{}
		r.sessions[sessionID] = state
		r.mu.Unlock()
	}

	state.mu.Lock()
	state.nextSeq++
	evt.Sequence = state.nextSeq
	evt.SessionID = sessionID

	if state.appender != nil {
		if err := state.appender.Append(ctx, messageID, sessionID, role, evt); err != nil {
			state.mu.Unlock()
			return 0, err
		}
	}

	if evt.IsComplete {
		state.executing = false
		state.streamingMessageID = ""
		state.streamingBlocks = nil
	} else if evt.StreamingMessageID != "" {
		state.executing = true
		state.streamingMessageID = evt.StreamingMessageID
		state.streamingBlocks = evt.ContentBlocks
	}

	state.recent = append(state.recent, evt)
	if len(state.recent) > recentWindowSize {
		state.recent = state.recent[len(state.recent)-recentWindowSize:]
	}
	seq := evt.Sequence
	state.mu.Unlock()

	for deviceID, dev := range subs {
		// Give a slow-but-not-stuck consumer a brief grace period before
		// treating its full buffer as an overflow.
		waitCtx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
		_ = dev.limiter.Wait(waitCtx)
		cancel()

		select {
		case dev.out <- evt:
		default:
			log.Printf("router: dropping subscriber %s for session %s (buffer full)", deviceID, sessionID)
			r.dropDevice(sessionID, deviceID)
		}
	}

	return seq, nil
}

func (r *Router) dropDevice(sessionID, deviceID string) {
	r.Unsubscribe(sessionID, deviceID)
	if r.onDrop != nil {
		r.onDrop(deviceID)
	}
}

// Replay returns events for sessionID at or after sinceSequence, capped
// at limit (itself capped at 1000). Gap-safe: if sinceSequence predates
// what is retained in memory, whatever remains is returned with
// hasMore=false for the portion that has already aged out.
func (r *Router) Replay(sessionID string, sinceSequence int64, limit int) ([]protocol.SequencedOutputEvent, bool) {
	if limit <= 0 || limit > replayLimitCap {
		limit = replayLimitCap
	}

	r.mu.RLock()
	state := r.sessions[sessionID]
	r.mu.RUnlock()
	if state == nil {
		return nil, false
	}

	state.mu.Lock()
	defer state.mu.Unlock()

	var out []protocol.SequencedOutputEvent
	for _, evt := range state.recent {
		if evt.Sequence >= sinceSequence {
			out = append(out, evt)
		}
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, false
}
