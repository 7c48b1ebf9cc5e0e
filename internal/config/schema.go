// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package config handles HJSON configuration loading and template expansion.
package config

import "time"

// Config is the root configuration structure for the workstation.
type Config struct {
	Version   string             `json:"version"`
	Project   ProjectConfig      `json:"project"`
	Server    ServerConfig       `json:"server"`
	Tunnel    TunnelConfig       `json:"tunnel"`
	Workspace WorkspaceConfig    `json:"workspace"`
	Agents    map[string]AgentAliasConfig `json:"agents"`
	Terminal  TerminalConfig     `json:"terminal"`
	History   HistoryConfig      `json:"history"`
	Devices   DevicesConfig      `json:"devices"`
	Logging   LoggingConfig      `json:"logging"`
	Crashes   CrashesConfig      `json:"crashes"`
}

// ProjectConfig contains project metadata.
type ProjectConfig struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// ServerConfig configures the HTTP+WebSocket server devices connect to,
// typically through the tunnel relay rather than directly.
type ServerConfig struct {
	Port    int    `json:"port"`
	Host    string `json:"host"`
	TLSCert string `json:"tls_cert"` // optional, for direct (non-tunneled) exposure
	TLSKey  string `json:"tls_key"`
}

// TunnelConfig configures the outbound connection to the trusted tunnel
// relay that fronts the workstation for mobile/watch/web clients.
type TunnelConfig struct {
	Enabled  bool   `json:"enabled"`
	Endpoint string `json:"endpoint"`
	AuthKey  string `json:"auth_key"`
}

// WorkspaceConfig identifies the directory trees sessions are created
// under and watched for change notifications.
type WorkspaceConfig struct {
	Roots        []string `json:"roots"`
	StateDir     string   `json:"state_dir"` // persisted runtime state (terminal windows, etc.)
	WatchEnabled bool     `json:"watch_enabled"`
}

// AgentAliasConfig is the HJSON-decoded form of registry.AliasEntry,
// generalizing the Services/Workflows list-of-configs pattern to agent
// identities.
type AgentAliasConfig struct {
	BaseType    string   `json:"base_type"`
	DefaultArgs []string `json:"default_args,omitempty"`
	Hidden      bool     `json:"hidden,omitempty"`
}

// TerminalConfig configures the PTY terminal runtime.
type TerminalConfig struct {
	Backend      string         `json:"backend"` // "tmux"
	Tmux         TmuxConfig     `json:"tmux"`
	HistoryLimit int            `json:"history_limit"`
	DefaultShell string         `json:"default_shell"`
}

// TmuxConfig configures tmux settings.
type TmuxConfig struct {
	HistoryLimit int    `json:"history_limit"`
	Shell        string `json:"shell"`
}

// HistoryConfig configures the durable message log and ring buffers.
type HistoryConfig struct {
	DBPath           string `json:"db_path"`
	RingBufferSize   int    `json:"ring_buffer_size"`
	RetentionDays    int    `json:"retention_days"`
}

// DevicesConfig configures device authentication/pairing.
type DevicesConfig struct {
	PairingSecret   string `json:"pairing_secret"`
	HeartbeatPeriod string `json:"heartbeat_period"`
}

// CrashesConfig configures crash history storage.
type CrashesConfig struct {
	ReportsDir string `json:"reports_dir"`
	MaxAge     string `json:"max_age"`
	MaxCount   int    `json:"max_count"`
}

// LoggingConfig configures application logging.
type LoggingConfig struct {
	Level  string `json:"level"`  // "debug", "info", "warn", "error"
	Format string `json:"format"` // "json", "text"
}

// TemplateContext provides data for text/template ({{ }}) expansion in
// config values (e.g. workspace roots, history paths).
type TemplateContext struct {
	Project ProjectTemplateData
	Env     map[string]string
}

// ProjectTemplateData provides project data for templates.
type ProjectTemplateData struct {
	Root string
	Name string
}

// ParseDuration parses a duration string, returning a default if empty.
func ParseDuration(s string, defaultVal time.Duration) time.Duration {
	if s == "" {
		return defaultVal
	}
	d, err := parseDurationWithDays(s)
	if err != nil {
		return defaultVal
	}
	return d
}
