// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package reconcile turns the raw stream of session.output/supervisor.output
// events into a stable per-session message log: it resolves streaming
// updates by streaming_message_id, detects sequence gaps and requests a
// bounded replay to fill them, buffers events that arrive out of order for
// a short grace period before surfacing them anyway, and tracks the
// pending/acked/failed lifecycle of client-generated messages.
package reconcile

import (
	"sort"
	"sync"
	"time"

	"github.com/relaycore/workstation/internal/protocol"
)

const (
	// outOfOrderSurfaceTimeout bounds how long an event waits for the
	// gap before it is surfaced anyway, marked partial.
	outOfOrderSurfaceTimeout = 2 * time.Second
	// ackTimeout is how long a client-generated message_id waits for
	// message.ack before its status flips to "failed".
	ackTimeout = 10 * time.Second
	// replayLimit bounds a single gap-filling session.replay request.
	replayLimit = 200
)

// Message is the reconciled, UI-facing unit: either a fully resolved
// history entry or an in-progress streaming update.
type Message struct {
	ID                 string
	SessionID          string
	Sequence           int64
	StreamingMessageID string
	ContentBlocks      []protocol.ContentBlock
	IsComplete         bool
	Partial            bool
	Timestamp          time.Time
}

// PendingStatus is the client-generated-message-id lifecycle state.
type PendingStatus string

const (
	PendingSent     PendingStatus = "sent"
	PendingReceived PendingStatus = "received"
	PendingFailed   PendingStatus = "failed"
)

type pendingSend struct {
	messageID string
	sentAt    time.Time
	status    PendingStatus
}

type sessionState struct {
	expectedSeq int64
	messages    map[string]*Message // keyed by streaming_message_id, "" for non-streaming
	buffered    map[int64]protocol.SequencedOutputEvent
	dedup       map[string]bool // message_id already applied from sync.state / output
}

// RequestReplay is called to fill a detected gap; implementations forward
// a session.replay frame via command.Sender.
type RequestReplay func(sessionID string, sinceSequence int64, limit int)

// Reconciler owns per-session state for one device's view of the backbone.
type Reconciler struct {
	mu       sync.Mutex
	sessions map[string]*sessionState
	pending  map[string]*pendingSend

	requestReplay RequestReplay

	// OnMessage is invoked whenever a session's reconciled Message is
	// created or updated.
	OnMessage func(Message)
	// OnPendingStatus is invoked whenever a pending send's status changes.
	OnPendingStatus func(messageID string, status PendingStatus)

	now        func() time.Time
	ackTimeout time.Duration
}

// New creates a Reconciler. requestReplay is called when a sequence gap
// is detected and needs filling.
func New(requestReplay RequestReplay) *Reconciler {
	return &Reconciler{
		sessions:      make(map[string]*sessionState),
		pending:       make(map[string]*pendingSend),
		requestReplay: requestReplay,
		now:           time.Now,
		ackTimeout:    ackTimeout,
	}
}

// ackTimeoutOverrideForTest shortens the ack-timeout window; used only by
// this package's own tests to keep them fast.
func (r *Reconciler) ackTimeoutOverrideForTest(d time.Duration) {
	r.ackTimeout = d
}

func (r *Reconciler) stateFor(sessionID string) *sessionState {
	st, ok := r.sessions[sessionID]
	if !ok {
		st = &sessionState{
			messages: make(map[string]*Message),
			buffered: make(map[int64]protocol.SequencedOutputEvent),
			dedup:    make(map[string]bool),
		}
		r.sessions[sessionID] = st
	}
	return st
}

// SeedSequence primes the expected-next-sequence counter for a session,
// e.g. from sync.state's newest_sequence, so gap detection does not
// misfire on the very first event after subscribing.
func (r *Reconciler) SeedSequence(sessionID string, newestSequence int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	st := r.stateFor(sessionID)
	st.expectedSeq = newestSequence + 1
}

// ApplyOutput processes one session.output or supervisor.output event,
// in order of arrival (which may not be in sequence order).
func (r *Reconciler) ApplyOutput(evt protocol.SequencedOutputEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()

	st := r.stateFor(evt.SessionID)

	if st.expectedSeq == 0 {
		st.expectedSeq = evt.Sequence
	}

	if evt.Sequence < st.expectedSeq {
		// Already-seen or duplicate of an already-resolved sequence; the
		// streaming-message-id resolution below is still safe to apply
		// since is_complete is one-way.
		r.resolve(st, evt)
		return
	}

	if evt.Sequence > st.expectedSeq {
		st.buffered[evt.Sequence] = evt
		go r.scheduleForceSurface(evt.SessionID, evt.Sequence)
		r.requestGap(evt.SessionID, st.expectedSeq)
		return
	}

	r.resolve(st, evt)
	st.expectedSeq++
	r.drainBuffered(evt.SessionID, st)
}

func (r *Reconciler) requestGap(sessionID string, sinceSequence int64) {
	if r.requestReplay != nil {
		r.requestReplay(sessionID, sinceSequence, replayLimit)
	}
}

// drainBuffered applies any buffered events that are now next-in-line,
// in ascending sequence order.
func (r *Reconciler) drainBuffered(sessionID string, st *sessionState) {
	for {
		evt, ok := st.buffered[st.expectedSeq]
		if !ok {
			return
		}
		delete(st.buffered, st.expectedSeq)
		r.resolve(st, evt)
		st.expectedSeq++
	}
}

// scheduleForceSurface surfaces a buffered event as partial if the gap
// ahead of it hasn't closed within outOfOrderSurfaceTimeout.
func (r *Reconciler) scheduleForceSurface(sessionID string, sequence int64) {
	time.Sleep(outOfOrderSurfaceTimeout)

	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.sessions[sessionID]
	if !ok {
		return
	}
	evt, ok := st.buffered[sequence]
	if !ok {
		return // already drained normally
	}
	delete(st.buffered, sequence)
	r.resolveForced(st, evt)
}

// resolveForced surfaces an event whose predecessor gap never closed,
// marking it partial rather than advancing expectedSeq past the gap.
func (r *Reconciler) resolveForced(st *sessionState, evt protocol.SequencedOutputEvent) {
	msg := r.buildMessage(evt)
	msg.Partial = true
	st.messages[evt.StreamingMessageID] = &msg
	if r.OnMessage != nil {
		r.OnMessage(msg)
	}
}

// resolve applies one event to the session's message set: an existing
// streaming_message_id is updated (content blocks replaced wholesale,
// is_complete only ever flips false->true), anything else becomes a new
// message keyed by its own streaming_message_id (empty string if none).
func (r *Reconciler) resolve(st *sessionState, evt protocol.SequencedOutputEvent) {
	key := evt.StreamingMessageID
	for _, block := range evt.ContentBlocks {
		if block.MessageID != "" && st.dedup[block.MessageID] {
			return
		}
	}

	existing, ok := st.messages[key]
	if ok && key != "" {
		if existing.IsComplete {
			// Completed streaming messages are immutable.
			return
		}
		existing.ContentBlocks = evt.ContentBlocks
		existing.IsComplete = existing.IsComplete || evt.IsComplete
		existing.Sequence = evt.Sequence
		existing.Timestamp = evt.Timestamp
		if r.OnMessage != nil {
			r.OnMessage(*existing)
		}
		return
	}

	msg := r.buildMessage(evt)
	st.messages[key] = &msg
	for _, block := range evt.ContentBlocks {
		if block.MessageID != "" {
			st.dedup[block.MessageID] = true
		}
	}
	if r.OnMessage != nil {
		r.OnMessage(msg)
	}
}

func (r *Reconciler) buildMessage(evt protocol.SequencedOutputEvent) Message {
	return Message{
		SessionID:          evt.SessionID,
		Sequence:           evt.Sequence,
		StreamingMessageID: evt.StreamingMessageID,
		ContentBlocks:      evt.ContentBlocks,
		IsComplete:         evt.IsComplete,
		Timestamp:          evt.Timestamp,
	}
}

// ApplyHistory seeds dedup state from a sync.state supervisor_history or
// history.request page, so a later session.output for the same
// message_id is recognized as a duplicate rather than reapplied.
func (r *Reconciler) ApplyHistory(entries []protocol.HistoryEntry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range entries {
		st := r.stateFor(e.SessionID)
		if e.ID != "" {
			st.dedup[e.ID] = true
		}
		if e.Sequence >= st.expectedSeq {
			st.expectedSeq = e.Sequence + 1
		}
	}
}

// TrackSend registers a client-generated message_id as sent, starting
// its ack-timeout countdown.
func (r *Reconciler) TrackSend(messageID string) {
	r.mu.Lock()
	r.pending[messageID] = &pendingSend{messageID: messageID, sentAt: r.now(), status: PendingSent}
	r.mu.Unlock()

	go func() {
		time.Sleep(r.ackTimeout)
		r.mu.Lock()
		p, ok := r.pending[messageID]
		stillSent := ok && p.status == PendingSent
		if stillSent {
			p.status = PendingFailed
		}
		r.mu.Unlock()
		if stillSent && r.OnPendingStatus != nil {
			r.OnPendingStatus(messageID, PendingFailed)
		}
	}()
}

// ApplyAck resolves a pending send's status from a message.ack frame. A
// message previously marked failed can still resolve to received if the
// ack arrives late — it remains resendable until then.
func (r *Reconciler) ApplyAck(ack protocol.MessageAck) {
	r.mu.Lock()
	status := PendingStatus(ack.Status)
	p, ok := r.pending[ack.MessageID]
	if ok {
		p.status = status
	}
	r.mu.Unlock()
	if r.OnPendingStatus != nil {
		r.OnPendingStatus(ack.MessageID, status)
	}
}

// PendingStatusOf reports the current status of a tracked client-generated
// message_id, and whether it is known at all.
func (r *Reconciler) PendingStatusOf(messageID string) (PendingStatus, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.pending[messageID]
	if !ok {
		return "", false
	}
	return p.status, true
}

// Snapshot returns every reconciled message for a session, ordered by
// sequence, for UI rendering or tests.
func (r *Reconciler) Snapshot(sessionID string) []Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.sessions[sessionID]
	if !ok {
		return nil
	}
	out := make([]Message, 0, len(st.messages))
	for _, m := range st.messages {
		out = append(out, *m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Sequence < out[j].Sequence })
	return out
}
