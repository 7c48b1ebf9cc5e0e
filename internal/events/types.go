// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package events provides the internal event bus used to notify the
// session registry, router and API layer of registry lifecycle changes.
package events

import (
	"context"
	"time"
)

// Event represents an immutable event record.
type Event struct {
	ID        string                 `json:"id"`
	Version   string                 `json:"version"`
	Type      string                 `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	Device    string                 `json:"device"`
	Payload   map[string]interface{} `json:"payload"`
}

// EventHandler processes received events.
type EventHandler func(ctx context.Context, event Event) error

// SubscriptionID uniquely identifies a subscription.
type SubscriptionID string

// EventFilter for querying event history.
type EventFilter struct {
	Types  []string  // Event types to match (supports wildcards)
	Device string    // Filter by originating device ID
	Since  time.Time // Events after this time
	Until  time.Time // Events before this time
	Limit  int       // Maximum events to return
}

// EventBus is the core event pub/sub system.
type EventBus interface {
	// Publish emits an event to all matching subscribers.
	Publish(ctx context.Context, event Event) error

	// Subscribe registers a synchronous handler for events matching pattern.
	Subscribe(pattern string, handler EventHandler) (SubscriptionID, error)

	// SubscribeAsync registers an async handler with buffered channel.
	SubscribeAsync(pattern string, handler EventHandler, bufferSize int) (SubscriptionID, error)

	// Unsubscribe removes a subscription.
	Unsubscribe(id SubscriptionID) error

	// History retrieves past events matching filter.
	History(filter EventFilter) ([]Event, error)

	// SetDefaultDevice sets the default device ID for events that don't specify one.
	SetDefaultDevice(device string)

	// Close shuts down the event bus gracefully.
	Close() error
}

// Registry lifecycle event types, published on every session state
// transition and consumed by the router (for fan-out bookkeeping) and
// by the API event-history endpoint.
const (
	// Session lifecycle
	EventSessionCreated     = "session.created"
	EventSessionTerminated  = "session.terminated"
	EventSessionReattached  = "session.reattached"
	EventSessionRenamed     = "session.renamed"

	// Agent runtime events
	EventAgentCLISessionIDDiscovered = "agent.cli_session_id_discovered"
	EventAgentProcessExited          = "agent.process_exited"
	EventAgentCrashed                = "agent.crashed"

	// Terminal runtime events
	EventTerminalAttached = "terminal.attached"
	EventTerminalResized  = "terminal.resized"
	EventTerminalExited   = "terminal.exited"

	// Connection / device events
	EventDeviceConnected    = "device.connected"
	EventDeviceDisconnected = "device.disconnected"

	// Subscription events
	EventSubscriptionAdded   = "subscription.added"
	EventSubscriptionRemoved = "subscription.removed"
)

// RestartTrigger indicates why a runtime process was restarted.
type RestartTrigger string

const (
	RestartTriggerManual  RestartTrigger = "manual"
	RestartTriggerCrash   RestartTrigger = "crash"
	RestartTriggerOrphan  RestartTrigger = "orphan_recovery"
)
