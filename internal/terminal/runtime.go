// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package terminal

import (
	"bufio"
	"context"
	"errors"
	"log"
	"time"
)

// mainWindow is the single tmux window every PTY session runs under.
// Terminal sessions have no concept of multiple windows per session —
// one session id maps to exactly one PTY — so the richer multi-window
// tmux model Manager supports is collapsed to one well-known window
// name per session.
const mainWindow = "main"

// Runtime adapts the tmux-backed Manager into the registry.TerminalRuntime
// shape the session registry depends on: sessionID stands in directly for
// Manager's "worktree" key, and output is pumped to OnOutput instead of
// being read interactively by a dashboard handler.
type Runtime struct {
	mgr Manager

	// OnOutput is called with each line (newline stripped) read from a
	// session's output stream. Wired by app.go to router.Broadcast via a
	// RingAppender so the ring buffer and subscribed devices both see it.
	OnOutput func(sessionID string, data string)

	// OnExit is called when a session's output stream closes
	// unexpectedly (the tmux pane died). Wired to registry.ReportExit.
	OnExit func(sessionID string, exitCode int, err error)
}

// NewRuntime wraps an existing terminal Manager (e.g. NewManager(tmux,
// cfg)) as a registry.TerminalRuntime.
func NewRuntime(mgr Manager) *Runtime {
	return &Runtime{mgr: mgr}
}

// Create ensures a tmux session exists for sessionID and starts streaming
// its output to OnOutput.
func (r *Runtime) Create(ctx context.Context, sessionID, workingDir string, cols, rows int) error {
	if err := r.mgr.EnsureSession(ctx, sessionID, workingDir, []WindowConfig{{Name: mainWindow}}); err != nil {
		return err
	}
	if err := r.mgr.Resize(ctx, sessionID, mainWindow, cols, rows); err != nil {
		log.Printf("terminal: initial resize failed for %s: %v", sessionID, err)
	}

	reader, err := r.mgr.AttachReader(ctx, sessionID, mainWindow)
	if err != nil {
		return err
	}
	go r.pump(sessionID, reader)
	return nil
}

func (r *Runtime) pump(sessionID string, reader interface {
	Read(p []byte) (int, error)
	Close() error
}) {
	defer reader.Close()
	scanner := bufio.NewScanner(reader)
	scanner.Buffer(make([]byte, 4096), 1<<20)
	for scanner.Scan() {
		if r.OnOutput != nil {
			r.OnOutput(sessionID, scanner.Text())
		}
	}
	if err := scanner.Err(); err != nil && r.OnExit != nil {
		r.OnExit(sessionID, -1, err)
	}
}

// Kill terminates the tmux session backing sessionID.
func (r *Runtime) Kill(sessionID string) error {
	return r.mgr.KillSession(context.Background(), sessionID)
}

// Resize changes the PTY dimensions of sessionID's window.
func (r *Runtime) Resize(sessionID string, cols, rows int) error {
	return r.mgr.Resize(context.Background(), sessionID, mainWindow, cols, rows)
}

// Alive reports whether sessionID's tmux session is still listed.
func (r *Runtime) Alive(sessionID string) bool {
	sessions, err := r.mgr.ListSessions(context.Background())
	if err != nil {
		return false
	}
	for _, s := range sessions {
		if s.Name == sessionID {
			return true
		}
	}
	return false
}

// SendInput forwards raw keystrokes to sessionID's terminal.
func (r *Runtime) SendInput(sessionID string, data []byte) error {
	return r.mgr.SendInput(context.Background(), sessionID, mainWindow, data)
}

// ErrNoScrollback is returned by Scrollback when the runtime cannot
// produce a buffer for sessionID.
var ErrNoScrollback = errors.New("terminal: no scrollback available")

// Scrollback returns sessionID's current scrollback buffer, used to seed
// a ring buffer replay for a newly-attached device before live frames
// start arriving.
func (r *Runtime) Scrollback(sessionID string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	data, err := r.mgr.GetScrollback(ctx, sessionID, mainWindow)
	if err != nil {
		return nil, ErrNoScrollback
	}
	return data, nil
}
