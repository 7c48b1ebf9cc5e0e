// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package registry

import "context"

// AgentRuntime starts and stops headless AI-CLI processes wrapped as agent
// sessions. Adapted from internal/claude/manager.go, which owns a single
// concrete CLI (claude); here the same shape is generalized to any
// aliased agent type.
type AgentRuntime interface {
	// Start spawns (or resumes, if resumeID is non-empty) the agent
	// process for sessionID, running agentType in workingDir.
	Start(ctx context.Context, sessionID, agentType, workingDir, resumeID string) error

	// Stop terminates the agent process for sessionID. Must be idempotent.
	Stop(sessionID string) error

	// DiscoverCLISessionID returns the provider-side context id the
	// runtime learned after the session's first execution, if any.
	DiscoverCLISessionID(sessionID string) (string, bool)

	// Alive reports whether the backing process is still running.
	Alive(sessionID string) bool
}

// TerminalRuntime creates and manages terminal sessions. The implementation
// (terminal.Runtime) adapts internal/terminal.Manager and runs each session
// as a tmux session named after the session id.
type TerminalRuntime interface {
	Create(ctx context.Context, sessionID, workingDir string, cols, rows int) error
	Kill(sessionID string) error
	Resize(sessionID string, cols, rows int) error
	Alive(sessionID string) bool
}

// SupervisorRuntime backs the singleton supervisor session. There is no
// directly corresponding concept upstream (a top-level chat ungrounded in
// any single runtime); this interface is new, modeled on the registry's
// own lifecycle symmetry so the supervisor slot is dispatched through the
// same code path as agent and terminal sessions.
type SupervisorRuntime interface {
	Ensure(ctx context.Context, sessionID string) error
	Shutdown(sessionID string) error
}

// ExitReporter lets a runtime notify the registry when a session's backing
// process exits unexpectedly, without the runtime needing to know about
// the registry's internal session map or event bus.
type ExitReporter interface {
	ReportExit(sessionID string, exitCode int, err error)
}

// Cascade is implemented by the router; the registry calls it when a
// session terminates so subscribed devices are dropped without the
// registry importing the router package directly.
type Cascade interface {
	UnsubscribeAll(sessionID string)
}
