// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package crashes

import "time"

// Crash captures the context around a session's backing process exiting
// unexpectedly, so a device reconnecting to a dead session can be shown
// why it died.
type Crash struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	Kind      string    `json:"kind"` // "agent", "terminal", "supervisor"
	Timestamp time.Time `json:"timestamp"`
	ExitCode  int       `json:"exit_code"`
	Error     string    `json:"error"`
	Trigger   string    `json:"trigger"` // e.g. "agent.process_exited"
}

// CrashSummary is a minimal representation for listing crashes.
type CrashSummary struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	Kind      string    `json:"kind"`
	Timestamp time.Time `json:"timestamp"`
	ExitCode  int       `json:"exit_code"`
	Error     string    `json:"error"`
}
