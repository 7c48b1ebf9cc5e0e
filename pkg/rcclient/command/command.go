// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package command sends protocol frames over a connection.Manager with
// per-message-type retry and queueing policy: a frame sent while the link
// is unusable either queues for replay once the link recovers or fails
// outright, and a frame that fails mid-send retries with the same backoff
// shape connection uses before falling back to the same queue-or-fail
// decision.
package command

import (
	"context"
	"fmt"
	"log"
	"math/rand"
	"sync"
	"time"

	"github.com/relaycore/workstation/internal/protocol"
	"github.com/relaycore/workstation/pkg/rcclient/connection"
)

const (
	backoffMin    = 500 * time.Millisecond
	backoffMax    = 4 * time.Second
	backoffFactor = 2.0
	jitterFraction = 0.25

	queueCapacity  = 50
	queuePurgeAge  = 60 * time.Second
	drainSpacing   = 100 * time.Millisecond
)

// Policy is the retry/queue behavior for one wire message type.
type Policy struct {
	MaxRetries  int
	ShouldQueue bool
}

// Policies is the fixed per-type policy table this client enforces.
var Policies = map[string]Policy{
	"supervisor.command":       {MaxRetries: 3, ShouldQueue: true},
	"supervisor.cancel":        {MaxRetries: 3, ShouldQueue: true},
	"supervisor.clear_context": {MaxRetries: 3, ShouldQueue: true},
	"session.execute":          {MaxRetries: 3, ShouldQueue: true},
	"session.cancel":           {MaxRetries: 3, ShouldQueue: true},
	"session.subscribe":        {MaxRetries: 3, ShouldQueue: true},
	"session.unsubscribe":      {MaxRetries: 1, ShouldQueue: false},
	"session.input":            {MaxRetries: 3, ShouldQueue: true},
	"session.resize":           {MaxRetries: 1, ShouldQueue: false},
	"session.replay":           {MaxRetries: 3, ShouldQueue: true},
	"history.request":          {MaxRetries: 3, ShouldQueue: true},
	"sync":                     {MaxRetries: 3, ShouldQueue: true},
}

// policyFor falls back to a conservative no-queue, single-attempt policy
// for any message type not in the table above.
func policyFor(msgType string) Policy {
	if p, ok := Policies[msgType]; ok {
		return p
	}
	return Policy{MaxRetries: 1, ShouldQueue: false}
}

// Config describes one outbound message and how stubbornly to deliver it.
type Config struct {
	MsgType   string
	ID        string
	SessionID string
	Payload   protocol.Payload

	// DebugName is included in log lines; defaults to MsgType.
	DebugName string
}

type queuedCommand struct {
	cfg      Config
	queuedAt time.Time
}

// Sender wraps a connection.Manager with the retry/queue policy above.
type Sender struct {
	conn *connection.Manager

	mu       sync.Mutex
	queue    []queuedCommand
	draining bool
	cancelSub func()
}

// New creates a Sender bound to conn. It subscribes to conn's state
// transitions so the queue drains automatically whenever the link
// becomes sendable again.
func New(conn *connection.Manager) *Sender {
	s := &Sender{conn: conn}
	s.cancelSub = conn.Subscribe(func(snap connection.Snapshot) {
		switch snap.State {
		case connection.StateAuthenticated, connection.StateVerified, connection.StateDegraded:
			go s.drain()
		}
	})
	return s
}

// Close stops the Sender from reacting to further connection transitions.
func (s *Sender) Close() {
	if s.cancelSub != nil {
		s.cancelSub()
	}
}

// Send delivers cfg according to its message type's policy: it retries
// with exponential backoff up to MaxRetries, then either queues (if the
// policy allows) or returns an error.
func (s *Sender) Send(ctx context.Context, cfg Config) error {
	policy := policyFor(cfg.MsgType)
	name := cfg.DebugName
	if name == "" {
		name = cfg.MsgType
	}

	err := s.attempt(cfg, policy.MaxRetries)
	if err == nil {
		return nil
	}

	if policy.ShouldQueue {
		s.enqueue(cfg)
		log.Printf("rcclient command: %s queued after send failure: %v", name, err)
		return nil
	}
	return fmt.Errorf("%s: %w", name, err)
}

// attempt retries the raw send up to maxRetries+1 total tries, honoring
// connection.ErrNotSendable as an immediate, non-retryable failure only
// once all retries have been exhausted — a momentarily unsendable link
// is itself worth retrying through, since it may recover within the
// backoff window.
func (s *Sender) attempt(cfg Config, maxRetries int) error {
	backoff := backoffMin
	var lastErr error
	for try := 0; try <= maxRetries; try++ {
		lastErr = s.conn.Send(cfg.MsgType, cfg.ID, cfg.SessionID, cfg.Payload)
		if lastErr == nil {
			return nil
		}
		if try < maxRetries {
			time.Sleep(jitter(backoff))
			backoff = nextBackoff(backoff)
		}
	}
	return lastErr
}

func (s *Sender) enqueue(cfg Config) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.queue) >= queueCapacity {
		s.queue = s.queue[1:]
	}
	s.queue = append(s.queue, queuedCommand{cfg: cfg, queuedAt: time.Now()})
}

// drain replays the queue once the connection becomes sendable again.
// Entries older than queuePurgeAge are dropped rather than resent, and
// replayed entries are attempted without re-queueing on failure.
func (s *Sender) drain() {
	s.mu.Lock()
	if s.draining {
		s.mu.Unlock()
		return
	}
	s.draining = true
	pending := s.queue
	s.queue = nil
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.draining = false
		s.mu.Unlock()
	}()

	now := time.Now()
	for _, q := range pending {
		if now.Sub(q.queuedAt) > queuePurgeAge {
			log.Printf("rcclient command: dropping stale queued %s (age %s)", q.cfg.MsgType, now.Sub(q.queuedAt))
			continue
		}
		if err := s.conn.Send(q.cfg.MsgType, q.cfg.ID, q.cfg.SessionID, q.cfg.Payload); err != nil {
			log.Printf("rcclient command: drain of %s failed, dropping: %v", q.cfg.MsgType, err)
		}
		time.Sleep(drainSpacing)
	}
}

// CancelPendingForSession drops any queued commands addressed to
// sessionID without sending them.
func (s *Sender) CancelPendingForSession(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.queue[:0]
	for _, q := range s.queue {
		if q.cfg.SessionID != sessionID {
			kept = append(kept, q)
		}
	}
	s.queue = kept
}

// CancelAll drops every queued command.
func (s *Sender) CancelAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queue = nil
}

// QueueLen reports how many commands are currently queued, for tests and
// diagnostics.
func (s *Sender) QueueLen() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

func nextBackoff(current time.Duration) time.Duration {
	next := time.Duration(float64(current) * backoffFactor)
	if next > backoffMax {
		return backoffMax
	}
	return next
}

func jitter(d time.Duration) time.Duration {
	delta := float64(d) * jitterFraction
	offset := (rand.Float64()*2 - 1) * delta
	result := time.Duration(float64(d) + offset)
	if result < 0 {
		return 0
	}
	return result
}
