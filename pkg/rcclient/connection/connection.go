// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package connection maintains the persistent WebSocket session a client
// (mobile, watch, web, or rc-ctl) holds against the tunnel relay: dial,
// handshake, auth, heartbeat, and automatic reconnection with backoff.
// Adapted from a gRPC connection manager with the same
// dial/register/heartbeat/reconnect shape; the state machine and its
// transitions here are driven by the backbone's own connect/auth/
// heartbeat frames instead of RPC calls.
package connection

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/rand"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/relaycore/workstation/internal/protocol"
)

// State is one node of the connection state machine.
type State string

const (
	StateDisconnected   State = "disconnected"
	StateConnecting     State = "connecting"
	StateConnected      State = "connected"
	StateAuthenticating State = "authenticating"
	StateAuthenticated  State = "authenticated"
	StateVerified       State = "verified"
	StateDegraded       State = "degraded"
	StateReconnecting   State = "reconnecting"
	StateError          State = "error"
)

const (
	backoffMin     = 500 * time.Millisecond
	backoffMax     = 4 * time.Second
	backoffFactor  = 2.0
	jitterFraction = 0.25

	defaultHeartbeatInterval = 10 * time.Second
	degradedAfterMisses      = 2
	forceReconnectAfterMiss  = 4
)

// Snapshot is an immutable view of the connection's current state, handed
// to Subscribe listeners and returned by Manager.Snapshot.
type Snapshot struct {
	State                 State
	Attempt               int
	Err                   error
	RestoredSubscriptions []string
}

func (s Snapshot) isConnected() bool {
	switch s.State {
	case StateConnected, StateAuthenticated, StateVerified, StateDegraded:
		return true
	default:
		return false
	}
}

// sendable reports whether a frame may be sent to the workstation in this
// state: authenticated and verified both accept traffic, and degraded
// keeps accepting it too since the link is merely suspect, not dead.
func (s Snapshot) sendable() bool {
	switch s.State {
	case StateAuthenticated, StateVerified, StateDegraded:
		return true
	default:
		return false
	}
}

// Config configures a Manager.
type Config struct {
	Endpoint string
	TunnelID string
	AuthKey  string
	DeviceID string

	HeartbeatInterval time.Duration

	// Registry decodes inbound frames. Defaults to protocol.DefaultRegistry().
	Registry *protocol.Registry

	// OnMessage is invoked for every decoded inbound message once the
	// handshake has completed (connect/connected/auth/auth.success are
	// handled internally and never reach this callback).
	OnMessage func(*protocol.Message)
}

// Manager owns one logical backbone session: reconnect, re-authenticate,
// and heartbeat for as long as Run's context stays alive.
type Manager struct {
	cfg Config

	mu       sync.RWMutex
	conn     *websocket.Conn
	writeMu  sync.Mutex
	snapshot Snapshot
	ackCh    chan struct{}

	subs   map[int]func(Snapshot)
	nextID int

	restoredSubs []string
}

// New creates a Manager. Call Run to start the connect/reconnect loop.
func New(cfg Config) *Manager {
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = defaultHeartbeatInterval
	}
	if cfg.Registry == nil {
		cfg.Registry = protocol.DefaultRegistry()
	}
	return &Manager{
		cfg:      cfg,
		snapshot: Snapshot{State: StateDisconnected},
		subs:     make(map[int]func(Snapshot)),
		ackCh:    make(chan struct{}, 1),
	}
}

// Snapshot returns the current connection state.
func (m *Manager) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.snapshot
}

// Subscribe registers a listener invoked with every Snapshot transition.
// The returned func cancels the subscription.
func (m *Manager) Subscribe(fn func(Snapshot)) (cancel func()) {
	m.mu.Lock()
	id := m.nextID
	m.nextID++
	m.subs[id] = fn
	m.mu.Unlock()
	return func() {
		m.mu.Lock()
		delete(m.subs, id)
		m.mu.Unlock()
	}
}

func (m *Manager) setState(s Snapshot) {
	m.mu.Lock()
	m.snapshot = s
	listeners := make([]func(Snapshot), 0, len(m.subs))
	for _, fn := range m.subs {
		listeners = append(listeners, fn)
	}
	m.mu.Unlock()
	for _, fn := range listeners {
		fn(s)
	}
}

// Run drives the connect -> authenticate -> heartbeat -> reconnect loop
// until ctx is cancelled or Close is called.
func (m *Manager) Run(ctx context.Context) {
	attempt := 0
	backoff := backoffMin

	for {
		if ctx.Err() != nil {
			m.setState(Snapshot{State: StateDisconnected})
			return
		}

		m.setState(Snapshot{State: StateConnecting, Attempt: attempt})

		err := m.connect(ctx)
		if ctx.Err() != nil {
			m.setState(Snapshot{State: StateDisconnected})
			return
		}
		if err == nil {
			// connect returns nil only when ctx was cancelled, which is
			// handled above; treat a nil anyway the same as an error for
			// backoff purposes so we don't spin.
			err = errors.New("connection: session ended")
		}

		attempt++
		m.setState(Snapshot{State: StateReconnecting, Attempt: attempt, Err: err})
		log.Printf("rcclient connection: session ended, reconnecting (attempt %d): %v", attempt, err)

		select {
		case <-ctx.Done():
			m.setState(Snapshot{State: StateDisconnected})
			return
		case <-time.After(jitter(backoff)):
		}
		backoff = nextBackoff(backoff)
	}
}

// connect dials, performs the connect/auth handshake, and runs the
// heartbeat and read loops until the session ends.
func (m *Manager) connect(ctx context.Context) error {
	dialer := websocket.DefaultDialer
	conn, _, err := dialer.DialContext(ctx, m.cfg.Endpoint, nil)
	if err != nil {
		return fmt.Errorf("dial failed: %w", err)
	}
	defer conn.Close()

	m.mu.Lock()
	m.conn = conn
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		m.conn = nil
		m.mu.Unlock()
	}()

	connectBody, err := protocol.Encode("connect", "", "", &protocol.ConnectRequest{
		TunnelID: m.cfg.TunnelID,
		AuthKey:  m.cfg.AuthKey,
		DeviceID: m.cfg.DeviceID,
	})
	if err != nil {
		return err
	}
	if err := conn.WriteMessage(websocket.TextMessage, connectBody); err != nil {
		return fmt.Errorf("connect frame failed: %w", err)
	}

	if _, err := m.expect(conn, "connected"); err != nil {
		return err
	}
	m.setState(Snapshot{State: StateConnected})

	authBody, err := protocol.Encode("auth", "", "", &protocol.AuthRequest{
		AuthKey:  m.cfg.AuthKey,
		DeviceID: m.cfg.DeviceID,
	})
	if err != nil {
		return err
	}
	if err := conn.WriteMessage(websocket.TextMessage, authBody); err != nil {
		return fmt.Errorf("auth frame failed: %w", err)
	}
	m.setState(Snapshot{State: StateAuthenticating})

	authMsg, err := m.expect(conn, "auth.success", "auth.error")
	if err != nil {
		return err
	}
	if authMsg.Type == "auth.error" {
		ae := authMsg.Payload.(*protocol.AuthError)
		m.setState(Snapshot{State: StateError, Err: fmt.Errorf("%s: %s", ae.Code, ae.Message)})
		return fmt.Errorf("authentication rejected: %s", ae.Message)
	}
	success := authMsg.Payload.(*protocol.AuthSuccess)
	m.restoredSubs = success.RestoredSubscriptions
	m.setState(Snapshot{State: StateAuthenticated, RestoredSubscriptions: success.RestoredSubscriptions})

	sessionCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, 2)
	go func() { errCh <- m.heartbeatLoop(sessionCtx, conn) }()
	go func() { errCh <- m.readLoop(sessionCtx, conn) }()

	err = <-errCh
	cancel()
	<-errCh
	if ctx.Err() != nil {
		return nil
	}
	return err
}

// expect blocks for the next frame and requires it to be one of wantTypes.
func (m *Manager) expect(conn *websocket.Conn, wantTypes ...string) (*protocol.Message, error) {
	_, raw, err := conn.ReadMessage()
	if err != nil {
		return nil, fmt.Errorf("read failed waiting for %v: %w", wantTypes, err)
	}
	msg, err := m.cfg.Registry.Decode(raw)
	if err != nil {
		return nil, err
	}
	for _, want := range wantTypes {
		if msg.Type == want {
			return msg, nil
		}
	}
	return nil, fmt.Errorf("unexpected frame %q while waiting for %v", msg.Type, wantTypes)
}

// heartbeatLoop sends a heartbeat every HeartbeatInterval and tracks
// consecutive misses. Two misses degrade the link without tearing down
// the session; four force a full reconnect.
func (m *Manager) heartbeatLoop(ctx context.Context, conn *websocket.Conn) error {
	ticker := time.NewTicker(m.cfg.HeartbeatInterval)
	defer ticker.Stop()

	ackTimeout := 2 * m.cfg.HeartbeatInterval
	misses := 0

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			body, err := protocol.Encode("heartbeat", "", "", &protocol.Heartbeat{Timestamp: time.Now()})
			if err != nil {
				return err
			}
			m.writeMu.Lock()
			err = conn.WriteMessage(websocket.TextMessage, body)
			m.writeMu.Unlock()
			if err != nil {
				return fmt.Errorf("heartbeat send failed: %w", err)
			}

			select {
			case <-time.After(ackTimeout):
				misses++
				log.Printf("rcclient connection: heartbeat ack timeout (%d consecutive)", misses)
				if misses >= forceReconnectAfterMiss {
					return errors.New("heartbeat: too many consecutive misses, forcing reconnect")
				}
				if misses >= degradedAfterMisses {
					snap := m.Snapshot()
					m.setState(Snapshot{State: StateDegraded, RestoredSubscriptions: snap.RestoredSubscriptions})
				}
			case <-m.ackCh:
				misses = 0
				snap := m.Snapshot()
				if snap.State == StateDegraded {
					m.setState(Snapshot{State: StateVerified, RestoredSubscriptions: snap.RestoredSubscriptions})
				} else if snap.State == StateAuthenticated {
					m.setState(Snapshot{State: StateVerified, RestoredSubscriptions: snap.RestoredSubscriptions})
				}
			case <-ctx.Done():
				return nil
			}
		}
	}
}

// readLoop decodes inbound frames and dispatches heartbeat.ack internally,
// forwarding everything else to cfg.OnMessage.
func (m *Manager) readLoop(ctx context.Context, conn *websocket.Conn) error {
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read failed: %w", err)
		}
		msg, err := m.cfg.Registry.Decode(raw)
		if err != nil {
			log.Printf("rcclient connection: dropping malformed frame: %v", err)
			continue
		}
		if msg.Type == "heartbeat.ack" {
			select {
			case m.ackCh <- struct{}{}:
			default:
			}
			continue
		}
		if m.cfg.OnMessage != nil {
			m.cfg.OnMessage(msg)
		}
		if ctx.Err() != nil {
			return nil
		}
	}
}

// Send writes a frame to the workstation. It fails fast with
// ErrNotSendable if the connection is not in a state that accepts
// traffic; callers that need retry/queue semantics build on top of this
// with package command.
func (m *Manager) Send(msgType, id, sessionID string, payload protocol.Payload) error {
	m.mu.RLock()
	conn := m.conn
	snap := m.snapshot
	m.mu.RUnlock()

	if conn == nil || !snap.sendable() {
		return ErrNotSendable
	}

	body, err := protocol.Encode(msgType, id, sessionID, payload)
	if err != nil {
		return err
	}
	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	return conn.WriteMessage(websocket.TextMessage, body)
}

// ErrNotSendable is returned by Send when the connection is not currently
// in a state that accepts outbound traffic.
var ErrNotSendable = errors.New("connection: not in a sendable state")

// nextBackoff returns the next backoff duration, capped at backoffMax.
func nextBackoff(current time.Duration) time.Duration {
	next := time.Duration(float64(current) * backoffFactor)
	if next > backoffMax {
		return backoffMax
	}
	return next
}

// jitter adds a random ±jitterFraction perturbation to d.
func jitter(d time.Duration) time.Duration {
	delta := float64(d) * jitterFraction
	offset := (rand.Float64()*2 - 1) * delta
	result := time.Duration(float64(d) + offset)
	if result < 0 {
		return 0
	}
	return result
}
