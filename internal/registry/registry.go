// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package registry

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/relaycore/workstation/internal/events"
)

// Errors returned by registry operations, mapped to protocol error codes
// by the API layer.
var (
	ErrSessionNotFound     = errors.New("session not found")
	ErrSessionLimitReached = errors.New("session limit reached")
	ErrSessionCreateFailed = errors.New("session creation failed")
)

// Config bounds and defaults for session creation.
type Config struct {
	MaxSessions       int
	DefaultCols       int
	DefaultRows       int
	DefaultWorkingDir string
}

// Registry owns the id -> Session map and the distinguished supervisor
// slot. It dispatches creation/termination by kind to injected runtime
// implementations and publishes lifecycle events.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session

	supervisorID string

	cfg Config

	aliases *AliasTable

	agentRuntime      AgentRuntime
	terminalRuntime   TerminalRuntime
	supervisorRuntime SupervisorRuntime

	bus events.EventBus

	cascade Cascade

	// nonce is overridable in tests for deterministic ids.
	nonce func() string
}

// New constructs a Registry. Runtimes may be nil in tests that only
// exercise bookkeeping; calling createSession for a kind with a nil
// runtime returns ErrSessionCreateFailed.
func New(cfg Config, bus events.EventBus, agent AgentRuntime, terminal TerminalRuntime, supervisor SupervisorRuntime, aliases *AliasTable) *Registry {
	if cfg.DefaultCols == 0 {
		cfg.DefaultCols = 80
	}
	if cfg.DefaultRows == 0 {
		cfg.DefaultRows = 24
	}
	return &Registry{
		sessions:          make(map[string]*Session),
		cfg:               cfg,
		aliases:           aliases,
		agentRuntime:      agent,
		terminalRuntime:   terminal,
		supervisorRuntime: supervisor,
		bus:               bus,
		nonce:             generateNonce,
	}
}

// SetCascade wires the subscription router so terminateSession can drop
// subscribers without the registry importing the router package.
func (r *Registry) SetCascade(c Cascade) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cascade = c
}

func generateNonce() string {
	b := make([]byte, 4)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

// CreateSession dispatches session creation by kind.
func (r *Registry) CreateSession(ctx context.Context, kind Kind, workspace, project, worktree, agentName string) (*Session, error) {
	switch kind {
	case KindSupervisor:
		return r.createSupervisor(ctx)
	case KindTerminal:
		return r.createTerminal(ctx, workspace, project, worktree)
	case KindAgent:
		return r.createAgent(ctx, workspace, project, worktree, agentName)
	default:
		return nil, fmt.Errorf("%w: unknown kind %q", ErrSessionCreateFailed, kind)
	}
}

func (r *Registry) createSupervisor(ctx context.Context) (*Session, error) {
	r.mu.Lock()
	if r.supervisorID != "" {
		existing := r.sessions[r.supervisorID]
		r.mu.Unlock()
		return existing, nil
	}
	r.mu.Unlock()

	if r.supervisorRuntime == nil {
		return nil, ErrSessionCreateFailed
	}

	id := "supervisor"
	if err := r.supervisorRuntime.Ensure(ctx, id); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSessionCreateFailed, err)
	}

	sess := newSession(id, KindSupervisor)
	sess.setStatus(StatusActive)

	r.mu.Lock()
	r.sessions[id] = sess
	r.supervisorID = id
	r.mu.Unlock()

	r.publish(events.EventSessionCreated, id, map[string]interface{}{"kind": string(KindSupervisor)})
	return sess, nil
}

func (r *Registry) createTerminal(ctx context.Context, workspace, project, worktree string) (*Session, error) {
	if r.terminalRuntime == nil {
		return nil, ErrSessionCreateFailed
	}
	if err := r.checkLimit(); err != nil {
		return nil, err
	}

	id := "term-" + r.nonce()
	workingDir := r.cfg.DefaultWorkingDir

	if err := r.terminalRuntime.Create(ctx, id, workingDir, r.cfg.DefaultCols, r.cfg.DefaultRows); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSessionCreateFailed, err)
	}

	sess := newSession(id, KindTerminal)
	sess.Workspace = workspace
	sess.Project = project
	sess.Worktree = worktree
	sess.WorkingDir = workingDir
	sess.setStatus(StatusActive)

	r.mu.Lock()
	r.sessions[id] = sess
	r.mu.Unlock()

	r.publish(events.EventSessionCreated, id, map[string]interface{}{"kind": string(KindTerminal)})
	return sess, nil
}

func (r *Registry) createAgent(ctx context.Context, workspace, project, worktree, agentName string) (*Session, error) {
	if r.agentRuntime == nil {
		return nil, ErrSessionCreateFailed
	}
	if err := r.checkLimit(); err != nil {
		return nil, err
	}
	if agentName == "" {
		return nil, fmt.Errorf("%w: agentName is required", ErrSessionCreateFailed)
	}

	baseType, _ := r.aliases.Resolve(agentName)
	id := fmt.Sprintf("%s-%s", agentName, r.nonce())
	workingDir := r.cfg.DefaultWorkingDir

	if err := r.agentRuntime.Start(ctx, id, baseType, workingDir, ""); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSessionCreateFailed, err)
	}

	sess := newSession(id, KindAgent)
	sess.Workspace = workspace
	sess.Project = project
	sess.Worktree = worktree
	sess.WorkingDir = workingDir
	sess.AgentName = agentName
	sess.setStatus(StatusActive)

	r.mu.Lock()
	r.sessions[id] = sess
	r.mu.Unlock()

	r.publish(events.EventSessionCreated, id, map[string]interface{}{"kind": string(KindAgent), "agent_name": agentName})
	return sess, nil
}

func (r *Registry) checkLimit() error {
	if r.cfg.MaxSessions <= 0 {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	if len(r.sessions) >= r.cfg.MaxSessions {
		return ErrSessionLimitReached
	}
	return nil
}

// GetSession returns the session for id, or ErrSessionNotFound.
func (r *Registry) GetSession(id string) (*Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sess, ok := r.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return sess, nil
}

// ListActive returns a snapshot of every non-terminated session.
func (r *Registry) ListActive() []Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Snapshot, 0, len(r.sessions))
	for _, sess := range r.sessions {
		if sess.Status() != StatusTerminated {
			out = append(out, sess.snapshot())
		}
	}
	return out
}

// ListByKind returns a snapshot of every non-terminated session of kind.
func (r *Registry) ListByKind(kind Kind) []Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Snapshot
	for _, sess := range r.sessions {
		if sess.Kind == kind && sess.Status() != StatusTerminated {
			out = append(out, sess.snapshot())
		}
	}
	return out
}

// TerminateSession transitions a session to terminated, delegates to its
// runtime, removes it from the registry, and cascades unsubscription.
// Idempotent: terminating an already-terminated or unknown session id
// succeeds silently.
func (r *Registry) TerminateSession(id string) error {
	r.mu.RLock()
	sess, ok := r.sessions[id]
	r.mu.RUnlock()
	if !ok {
		return nil
	}
	if sess.Status() == StatusTerminated {
		return nil
	}

	sess.setStatus(StatusTerminated)

	var runtimeErr error
	switch sess.Kind {
	case KindAgent:
		if r.agentRuntime != nil {
			runtimeErr = r.agentRuntime.Stop(id)
		}
	case KindTerminal:
		if r.terminalRuntime != nil {
			runtimeErr = r.terminalRuntime.Kill(id)
		}
	case KindSupervisor:
		if r.supervisorRuntime != nil {
			runtimeErr = r.supervisorRuntime.Shutdown(id)
		}
	}
	if runtimeErr != nil {
		log.Printf("registry: runtime stop failed for %s: %v", id, runtimeErr)
	}

	r.mu.Lock()
	delete(r.sessions, id)
	if r.supervisorID == id {
		r.supervisorID = ""
	}
	r.mu.Unlock()

	if r.cascade != nil {
		r.cascade.UnsubscribeAll(id)
	}

	r.publish(events.EventSessionTerminated, id, nil)
	return nil
}

// TerminateAll terminates every live session with per-session error
// isolation: one session's runtime failure does not block the others.
func (r *Registry) TerminateAll() error {
	r.mu.RLock()
	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	r.mu.RUnlock()

	var g errgroup.Group
	for _, id := range ids {
		id := id
		g.Go(func() error {
			return r.TerminateSession(id)
		})
	}
	return g.Wait()
}

// ReportExit implements ExitReporter: a runtime calls this when a
// session's backing process exits unexpectedly. The session is force
// terminated and subscribers are told why.
func (r *Registry) ReportExit(sessionID string, exitCode int, err error) {
	sess, getErr := r.GetSession(sessionID)
	if getErr != nil {
		return
	}
	if sess.Kind == KindAgent {
		if cliID, ok := r.agentRuntime.DiscoverCLISessionID(sessionID); ok {
			sess.setCLISessionID(cliID)
			r.publish(events.EventAgentCLISessionIDDiscovered, sessionID, map[string]interface{}{"cli_session_id": cliID})
		}
	}

	payload := map[string]interface{}{"exit_code": exitCode}
	if err != nil {
		payload["error"] = err.Error()
	}
	r.publish(events.EventAgentProcessExited, sessionID, payload)

	_ = r.TerminateSession(sessionID)
}

func (r *Registry) publish(eventType, sessionID string, payload map[string]interface{}) {
	if r.bus == nil {
		return
	}
	if payload == nil {
		payload = map[string]interface{}{}
	}
	payload["session_id"] = sessionID
	if err := r.bus.Publish(context.Background(), events.Event{Type: eventType, Payload: payload}); err != nil {
		log.Printf("registry: publish %s failed: %v", eventType, err)
	}
}
