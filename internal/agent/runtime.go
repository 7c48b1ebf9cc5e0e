// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package agent spawns and supervises headless AI-CLI processes (claude,
// cursor-agent, opencode, ...) wrapped as agent sessions, implementing
// registry.AgentRuntime. Generalized from internal/claude/manager.go,
// which owned exactly one hardcoded CLI; here the invocation is driven
// by a registry.AliasTable entry per session instead.
package agent

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/relaycore/workstation/internal/protocol"
	"github.com/relaycore/workstation/internal/registry"
)

// BaseArgs returns the base command-line invocation for a known base
// agent type. Only the streaming NDJSON contract (stdout one JSON object
// per line, stdin accepting a user-message envelope) is assumed for any
// base type beyond "claude" — callers add their own base types via
// registry.AliasEntry.DefaultArgs for anything else.
func BaseArgs(baseType, resumeID string) (command string, args []string) {
	switch baseType {
	case "cursor":
		command = "cursor-agent"
	case "opencode":
		command = "opencode"
	default:
		command = "claude"
	}
	args = []string{
		"--output-format", "stream-json",
		"--input-format", "stream-json",
		"--verbose",
	}
	if resumeID != "" {
		args = append(args, "--resume", resumeID)
	}
	return command, args
}

// streamEvent is a parsed NDJSON line from an agent's stdout. Fields
// beyond "type" and "session_id" are provider-specific; this is the
// common subset every base type's stream-json mode is assumed to emit.
type streamEvent struct {
	Type      string          `json:"type"`
	Subtype   string          `json:"subtype,omitempty"`
	SessionID string          `json:"session_id,omitempty"`
	Message   json.RawMessage `json:"message,omitempty"`
	IsError   bool            `json:"is_error,omitempty"`
}

type parsedMessage struct {
	Role    string                  `json:"role"`
	Content []protocol.ContentBlock `json:"content"`
}

// session holds per-session process state.
type session struct {
	mu          sync.Mutex
	cmd         *exec.Cmd
	stdin       io.WriteCloser
	cancel      context.CancelFunc
	cliSID      string
	cliSIDKnown bool
}

// Runtime manages one process per agent session, implementing
// registry.AgentRuntime.
type Runtime struct {
	mu       sync.Mutex
	sessions map[string]*session
	aliases  *registry.AliasTable

	// OnOutput delivers one sequenced output event per assistant or user
	// message parsed from an agent's stdout, plus a completion event when
	// the agent reports its result. Wired by app.go to router.Broadcast.
	OnOutput func(sessionID, messageID, role string, evt protocol.SequencedOutputEvent)

	// OnExit reports unexpected process termination. Wired to
	// registry.ReportExit.
	OnExit func(sessionID string, exitCode int, err error)

	// SupervisorAgentType and SupervisorWorkingDir configure the process
	// Ensure starts for the registry's singleton supervisor session: the
	// supervisor is just another agent session under the hood, so the
	// same process-supervision mechanics back both registry.AgentRuntime
	// and registry.SupervisorRuntime instead of a separate package.
	SupervisorAgentType  string
	SupervisorWorkingDir string
}

// NewRuntime constructs a Runtime. aliases may be nil, in which case
// agentType is treated as a bare base type (registry.AliasTable.Resolve's
// own fallback behavior).
func NewRuntime(aliases *registry.AliasTable) *Runtime {
	return &Runtime{
		sessions: make(map[string]*session),
		aliases:  aliases,
	}
}

// Start implements registry.AgentRuntime.
func (r *Runtime) Start(ctx context.Context, sessionID, agentType, workingDir, resumeID string) error {
	baseType, defaultArgs := agentType, []string(nil)
	if r.aliases != nil {
		baseType, defaultArgs = r.aliases.Resolve(agentType)
	}
	command, args := BaseArgs(baseType, resumeID)
	args = append(args, defaultArgs...)

	cmdCtx, cancel := context.WithCancel(ctx)
	cmd := exec.CommandContext(cmdCtx, command, args...)
	cmd.Dir = workingDir
	cmd.Stderr = os.Stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		cancel()
		return fmt.Errorf("agent: stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return fmt.Errorf("agent: stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		cancel()
		return fmt.Errorf("agent: start %s: %w", command, err)
	}

	sess := &session{cmd: cmd, stdin: stdin, cancel: cancel}
	r.mu.Lock()
	r.sessions[sessionID] = sess
	r.mu.Unlock()

	go r.readLoop(sessionID, sess, stdout)
	return nil
}

func (r *Runtime) readLoop(sessionID string, sess *session, stdout io.Reader) {
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 1<<16), 1<<20)

	for scanner.Scan() {
		var evt streamEvent
		line := scanner.Bytes()
		if err := json.Unmarshal(line, &evt); err != nil {
			continue
		}

		if evt.SessionID != "" {
			sess.mu.Lock()
			sess.cliSID = evt.SessionID
			sess.cliSIDKnown = true
			sess.mu.Unlock()
		}

		switch evt.Type {
		case "assistant", "user":
			r.emit(sessionID, evt)
		case "result":
			r.emitComplete(sessionID)
		}
	}

	err := scanner.Err()
	cmd := sess.cmd
	waitErr := cmd.Wait()
	exitCode := 0
	if waitErr != nil {
		exitCode = -1
		if err == nil {
			err = waitErr
		}
	}
	if err != nil && r.OnExit != nil {
		r.OnExit(sessionID, exitCode, err)
	}
}

func (r *Runtime) emit(sessionID string, evt streamEvent) {
	var msg parsedMessage
	if err := json.Unmarshal(evt.Message, &msg); err != nil {
		return
	}
	if r.OnOutput == nil {
		return
	}
	messageID := fmt.Sprintf("%s-%d", sessionID, time.Now().UnixNano())
	r.OnOutput(sessionID, messageID, msg.Role, protocol.SequencedOutputEvent{
		SessionID:     sessionID,
		ContentType:   "message",
		ContentBlocks: msg.Content,
		Timestamp:     time.Now(),
		IsComplete:    false,
	})
}

func (r *Runtime) emitComplete(sessionID string) {
	if r.OnOutput == nil {
		return
	}
	r.OnOutput(sessionID, "", "assistant", protocol.SequencedOutputEvent{
		SessionID:   sessionID,
		ContentType: "message",
		Timestamp:   time.Now(),
		IsComplete:  true,
	})
}

// Send writes a user message to sessionID's agent stdin in stream-json
// input format.
func (r *Runtime) Send(sessionID, text string) error {
	r.mu.Lock()
	sess, ok := r.sessions[sessionID]
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("agent: no running session %s", sessionID)
	}

	payload := struct {
		Type    string `json:"type"`
		Message struct {
			Role    string                  `json:"role"`
			Content []protocol.ContentBlock `json:"content"`
		} `json:"message"`
	}{Type: "user"}
	payload.Message.Role = "user"
	payload.Message.Content = []protocol.ContentBlock{{Type: "text", Text: text}}

	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	data = append(data, '\n')

	sess.mu.Lock()
	defer sess.mu.Unlock()
	_, err = sess.stdin.Write(data)
	return err
}

// Interrupt sends an interrupt signal to sessionID's process without
// tearing down the session, used by session.cancel to stop an in-flight
// turn while leaving the process (and any --resume continuity) intact.
func (r *Runtime) Interrupt(sessionID string) error {
	r.mu.Lock()
	sess, ok := r.sessions[sessionID]
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("agent: no running session %s", sessionID)
	}
	if sess.cmd.Process == nil {
		return fmt.Errorf("agent: session %s has no process", sessionID)
	}
	return sess.cmd.Process.Signal(os.Interrupt)
}

// Stop implements registry.AgentRuntime. Idempotent.
func (r *Runtime) Stop(sessionID string) error {
	r.mu.Lock()
	sess, ok := r.sessions[sessionID]
	delete(r.sessions, sessionID)
	r.mu.Unlock()
	if !ok {
		return nil
	}
	sess.cancel()
	if sess.cmd.Process != nil {
		_ = sess.cmd.Process.Kill()
	}
	return nil
}

// DiscoverCLISessionID implements registry.AgentRuntime.
func (r *Runtime) DiscoverCLISessionID(sessionID string) (string, bool) {
	r.mu.Lock()
	sess, ok := r.sessions[sessionID]
	r.mu.Unlock()
	if !ok {
		return "", false
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	return sess.cliSID, sess.cliSIDKnown
}

// Alive implements registry.AgentRuntime.
func (r *Runtime) Alive(sessionID string) bool {
	r.mu.Lock()
	sess, ok := r.sessions[sessionID]
	r.mu.Unlock()
	if !ok || sess.cmd.Process == nil {
		return false
	}
	return sess.cmd.ProcessState == nil
}

// Ensure implements registry.SupervisorRuntime: starts the supervisor's
// backing process the first time it is requested, and is a no-op on
// every call after that (the supervisor session id never changes).
func (r *Runtime) Ensure(ctx context.Context, sessionID string) error {
	r.mu.Lock()
	_, exists := r.sessions[sessionID]
	r.mu.Unlock()
	if exists {
		return nil
	}
	agentType := r.SupervisorAgentType
	if agentType == "" {
		agentType = "claude"
	}
	return r.Start(ctx, sessionID, agentType, r.SupervisorWorkingDir, "")
}

// Shutdown implements registry.SupervisorRuntime.
func (r *Runtime) Shutdown(sessionID string) error {
	return r.Stop(sessionID)
}

var _ registry.AgentRuntime = (*Runtime)(nil)
var _ registry.SupervisorRuntime = (*Runtime)(nil)
