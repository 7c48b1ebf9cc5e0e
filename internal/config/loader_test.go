// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoaderLoadValidConfig(t *testing.T) {
	configContent := `{
		version: "1.0"
		project: {
			name: "test-project"
			description: "A test project"
		}
		server: {
			port: 8080
			host: "127.0.0.1"
		}
		workspace: {
			roots: ["/home/dev/projects"]
		}
		agents: {
			claude: { base_type: "claude" }
			reviewer: { base_type: "cursor", default_args: ["--agent", "reviewer"], hidden: true }
		}
	}`

	cfg := loadFromString(t, configContent)

	assert.Equal(t, "1.0", cfg.Version)
	assert.Equal(t, "test-project", cfg.Project.Name)
	assert.Equal(t, "A test project", cfg.Project.Description)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "127.0.0.1", cfg.Server.Host)
	require.Len(t, cfg.Workspace.Roots, 1)
	require.Contains(t, cfg.Agents, "reviewer")
	assert.Equal(t, "cursor", cfg.Agents["reviewer"].BaseType)
	assert.True(t, cfg.Agents["reviewer"].Hidden)
}

func TestLoaderLoadHJSONFeatures(t *testing.T) {
	configContent := `{
		// This is a comment
		version: "1.0"

		# Hash comment
		project: {
			name: test-project
		}
		server: { port: 9000 }
	}`

	cfg := loadFromString(t, configContent)
	assert.Equal(t, "test-project", cfg.Project.Name)
	assert.Equal(t, 9000, cfg.Server.Port)
}

func TestLoaderLoadRejectsMalformedHJSON(t *testing.T) {
	path := writeTestConfig(t, `{ this is not : valid hjson : : }`)
	loader := NewLoader()
	_, err := loader.Load(context.Background(), path)
	assert.Error(t, err)
}

func TestLoaderLoadWithDefaultsAppliesServerDefaults(t *testing.T) {
	path := writeTestConfig(t, `{
		version: "1.0"
		project: { name: "test" }
		workspace: { roots: ["/tmp"] }
	}`)
	loader := NewLoader()
	cfg, err := loader.LoadWithDefaults(context.Background(), path)
	require.NoError(t, err)

	assert.Equal(t, 1000, cfg.Server.Port)
	assert.Equal(t, "127.0.0.1", cfg.Server.Host)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.Equal(t, "tmux", cfg.Terminal.Backend)
	assert.Equal(t, 50000, cfg.Terminal.Tmux.HistoryLimit)
	assert.Equal(t, ".workstation/history.db", cfg.History.DBPath)
	assert.Equal(t, 1000, cfg.History.RingBufferSize)
	assert.Equal(t, 30, cfg.History.RetentionDays)
	assert.Equal(t, ".workstation/state", cfg.Workspace.StateDir)
	assert.Equal(t, "20s", cfg.Devices.HeartbeatPeriod)
	assert.Equal(t, ".workstation/crashes", cfg.Crashes.ReportsDir)
}

func TestLoaderLoadWithDefaultsPreservesExplicitValues(t *testing.T) {
	path := writeTestConfig(t, `{
		version: "1.0"
		project: { name: "test" }
		workspace: { roots: ["/tmp"] }
		server: { port: 4242 }
		logging: { level: "debug" }
	}`)
	loader := NewLoader()
	cfg, err := loader.LoadWithDefaults(context.Background(), path)
	require.NoError(t, err)

	assert.Equal(t, 4242, cfg.Server.Port)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoaderFindConfigReturnsErrorWhenMissing(t *testing.T) {
	dir := t.TempDir()
	cwd, err := os.Getwd()
	require.NoError(t, err)
	defer os.Chdir(cwd)
	require.NoError(t, os.Chdir(dir))

	loader := NewLoader()
	_, err = loader.FindConfig()
	assert.Error(t, err)
}

func loadFromString(t *testing.T, content string) *Config {
	t.Helper()
	path := writeTestConfig(t, content)
	loader := NewLoader()
	cfg, err := loader.Load(context.Background(), path)
	require.NoError(t, err)
	return cfg
}

func writeTestConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "workstation.hjson")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}
