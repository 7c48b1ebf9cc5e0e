// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package agent

import (
	"context"
	"os/exec"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaycore/workstation/internal/registry"
)

// runningSession starts a real, short-lived process and registers it
// under sessionID, bypassing Start (whose command is always one of the
// hardcoded base-type binaries via BaseArgs) so Interrupt/Stop/Alive can
// be exercised against a process this test controls directly.
func runningSession(t *testing.T, rt *Runtime, sessionID string) *exec.Cmd {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	cmd := exec.CommandContext(ctx, "sleep", "30")
	require.NoError(t, cmd.Start())
	t.Cleanup(func() {
		cancel()
		_ = cmd.Wait()
	})

	rt.mu.Lock()
	rt.sessions[sessionID] = &session{cmd: cmd, cancel: cancel}
	rt.mu.Unlock()
	return cmd
}

func TestBaseArgsDefaultsToClaude(t *testing.T) {
	command, args := BaseArgs("claude", "")
	assert.Equal(t, "claude", command)
	assert.NotContains(t, args, "--resume")
}

func TestBaseArgsResumeAppendsFlag(t *testing.T) {
	command, args := BaseArgs("claude", "cli-sid-123")
	assert.Equal(t, "claude", command)
	assert.Contains(t, args, "--resume")
	assert.Contains(t, args, "cli-sid-123")
}

func TestBaseArgsUnknownBaseTypeFallsBackToClaude(t *testing.T) {
	command, _ := BaseArgs("something-unregistered", "")
	assert.Equal(t, "claude", command)
}

func TestBaseArgsCursorAndOpencode(t *testing.T) {
	command, _ := BaseArgs("cursor", "")
	assert.Equal(t, "cursor-agent", command)

	command, _ = BaseArgs("opencode", "")
	assert.Equal(t, "opencode", command)
}

func TestRuntimeAliasResolution(t *testing.T) {
	aliases := registry.NewAliasTable(map[string]registry.AliasEntry{
		"my-reviewer": {BaseType: "cursor", DefaultArgs: []string{"--agent", "reviewer"}},
	})
	rt := NewRuntime(aliases)

	base, args := rt.aliases.Resolve("my-reviewer")
	assert.Equal(t, "cursor", base)
	assert.Equal(t, []string{"--agent", "reviewer"}, args)
}

func TestStopUnknownSessionIsIdempotent(t *testing.T) {
	rt := NewRuntime(nil)
	assert.NoError(t, rt.Stop("never-started"))
}

func TestAliveUnknownSessionIsFalse(t *testing.T) {
	rt := NewRuntime(nil)
	assert.False(t, rt.Alive("never-started"))
}

func TestDiscoverCLISessionIDUnknownSession(t *testing.T) {
	rt := NewRuntime(nil)
	_, ok := rt.DiscoverCLISessionID("never-started")
	assert.False(t, ok)
}

func TestSendUnknownSessionErrors(t *testing.T) {
	rt := NewRuntime(nil)
	err := rt.Send("never-started", "hello")
	assert.Error(t, err)
}

func TestInterruptUnknownSessionErrors(t *testing.T) {
	rt := NewRuntime(nil)
	assert.Error(t, rt.Interrupt("never-started"))
}

func TestInterruptSignalsRunningProcess(t *testing.T) {
	rt := NewRuntime(nil)
	runningSession(t, rt, "s1")

	assert.NoError(t, rt.Interrupt("s1"))
}

func TestAliveReflectsRunningProcess(t *testing.T) {
	rt := NewRuntime(nil)
	runningSession(t, rt, "s1")

	assert.True(t, rt.Alive("s1"))
}

func TestStopKillsRunningProcessAndForgetsSession(t *testing.T) {
	rt := NewRuntime(nil)
	runningSession(t, rt, "s1")

	require.NoError(t, rt.Stop("s1"))

	assert.False(t, rt.Alive("s1"))
	assert.NoError(t, rt.Stop("s1")) // idempotent
}

func TestDiscoverCLISessionIDReturnsDiscoveredID(t *testing.T) {
	rt := NewRuntime(nil)
	runningSession(t, rt, "s1")

	rt.mu.Lock()
	rt.sessions["s1"].cliSID = "cli-abc"
	rt.sessions["s1"].cliSIDKnown = true
	rt.mu.Unlock()

	id, ok := rt.DiscoverCLISessionID("s1")
	assert.True(t, ok)
	assert.Equal(t, "cli-abc", id)
}

func TestEnsureIsNoOpOnceSessionExists(t *testing.T) {
	rt := NewRuntime(nil)
	runningSession(t, rt, "supervisor")

	assert.NoError(t, rt.Ensure(context.Background(), "supervisor"))

	rt.mu.Lock()
	_, stillPresent := rt.sessions["supervisor"]
	rt.mu.Unlock()
	assert.True(t, stillPresent)
}

func TestShutdownStopsTheSession(t *testing.T) {
	rt := NewRuntime(nil)
	runningSession(t, rt, "supervisor")

	require.NoError(t, rt.Shutdown("supervisor"))

	rt.mu.Lock()
	_, stillPresent := rt.sessions["supervisor"]
	rt.mu.Unlock()
	assert.False(t, stillPresent)
}

func TestSendWritesStreamJSONEnvelopeToStdin(t *testing.T) {
	rt := NewRuntime(nil)
	ctx, cancel := context.WithCancel(context.Background())
	cmd := exec.CommandContext(ctx, "cat")
	stdin, err := cmd.StdinPipe()
	require.NoError(t, err)
	require.NoError(t, cmd.Start())
	t.Cleanup(func() {
		cancel()
		_ = cmd.Wait()
	})

	rt.mu.Lock()
	rt.sessions["s1"] = &session{cmd: cmd, stdin: stdin, cancel: cancel}
	rt.mu.Unlock()

	assert.NoError(t, rt.Send("s1", "hello"))
}
