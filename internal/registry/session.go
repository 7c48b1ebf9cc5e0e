// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package registry owns the lifecycle of every live session on the
// workstation: the singleton supervisor, agent sessions, and terminal
// sessions. It dispatches creation and termination by kind to injected
// runtime implementations and emits lifecycle events on the shared event
// bus for the router and API layer to consume.
package registry

import (
	"sync"
	"time"
)

// Kind identifies which runtime a session is backed by.
type Kind string

const (
	KindSupervisor Kind = "supervisor"
	KindAgent      Kind = "agent"
	KindTerminal   Kind = "terminal"
)

// Status is a session's lifecycle state.
type Status string

const (
	StatusActive     Status = "active"
	StatusIdle       Status = "idle"
	StatusBusy       Status = "busy"
	StatusTerminated Status = "terminated"
)

// Session is one runtime unit tracked by the registry.
type Session struct {
	mu sync.RWMutex

	ID         string
	Kind       Kind
	Workspace  string
	Project    string
	Worktree   string
	WorkingDir string
	AgentName  string // resolved agent alias, only set for KindAgent

	CreatedAt time.Time

	status       Status
	lastActivity time.Time

	// cliSessionID is the provider-side context id an agent runtime may
	// discover after its first execution, enabling --resume-like
	// continuation on subsequent executions of the same session.
	cliSessionID string
}

func newSession(id string, kind Kind) *Session {
	now := time.Now()
	return &Session{
		ID:           id,
		Kind:         kind,
		CreatedAt:    now,
		lastActivity: now,
		status:       StatusIdle,
	}
}

// Status returns the session's current lifecycle state.
func (s *Session) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// setStatus transitions status, enforcing that terminated is absorbing and
// that busy/idle toggling never applies to a terminated session.
func (s *Session) setStatus(status Status) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status == StatusTerminated {
		return
	}
	s.status = status
	s.lastActivity = time.Now()
}

// LastActivity returns the timestamp of the most recent status transition.
func (s *Session) LastActivity() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastActivity
}

// CLISessionID returns the discovered provider-side session id, if any.
func (s *Session) CLISessionID() (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cliSessionID, s.cliSessionID != ""
}

func (s *Session) setCLISessionID(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cliSessionID = id
}

// Snapshot is an immutable copy of a Session's fields, safe to hand to
// callers outside the registry's lock.
type Snapshot struct {
	ID           string
	Kind         Kind
	Status       Status
	Workspace    string
	Project      string
	Worktree     string
	WorkingDir   string
	AgentName    string
	CreatedAt    time.Time
	LastActivity time.Time
	CLISessionID string
}

func (s *Session) snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Snapshot{
		ID:           s.ID,
		Kind:         s.Kind,
		Status:       s.status,
		Workspace:    s.Workspace,
		Project:      s.Project,
		Worktree:     s.Worktree,
		WorkingDir:   s.WorkingDir,
		AgentName:    s.AgentName,
		CreatedAt:    s.CreatedAt,
		LastActivity: s.lastActivity,
		CLISessionID: s.cliSessionID,
	}
}
