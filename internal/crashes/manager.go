// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package crashes captures and retains diagnostic records for sessions
// whose backing process exits unexpectedly, so a reconnecting device can
// be told why. Generalized from internal/crashes, which captured crashes
// of managed dev services by replaying their recent parsed logs; here
// there is no multi-service log aggregation to draw from, so a crash
// record is the exit context the registry already has.
package crashes

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	ps "github.com/mitchellh/go-ps"
)

// Config configures crash capture and retention.
type Config struct {
	ReportsDir string
	MaxAge     time.Duration
	MaxCount   int
}

// Manager persists and prunes crash records to ReportsDir.
type Manager struct {
	mu     sync.RWMutex
	config Config
}

// NewManager creates a crash manager, ensuring ReportsDir exists.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.ReportsDir != "" {
		if err := os.MkdirAll(cfg.ReportsDir, 0755); err != nil {
			return nil, fmt.Errorf("crashes: create reports dir: %w", err)
		}
	}
	return &Manager{config: cfg}, nil
}

// Record captures one crash and runs retention cleanup. sessionID/kind
// identify the session (from registry.Session), exitCode/err come from
// the runtime's ExitReporter callback, and trigger names the event that
// caused the capture (e.g. "agent.process_exited").
func (m *Manager) Record(sessionID, kind string, exitCode int, err error, trigger string) (Crash, error) {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	crash := Crash{
		ID:        generateCrashID(),
		SessionID: sessionID,
		Kind:      kind,
		Timestamp: time.Now(),
		ExitCode:  exitCode,
		Error:     msg,
		Trigger:   trigger,
	}
	if saveErr := m.Save(crash); saveErr != nil {
		return crash, saveErr
	}
	go m.cleanup()
	return crash, nil
}

func generateCrashID() string {
	return time.Now().Format("20060102-150405.000")
}

// Save writes a crash report to disk.
func (m *Manager) Save(crash Crash) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	filename := filepath.Join(m.config.ReportsDir, crash.ID+".json")
	data, err := json.MarshalIndent(crash, "", "  ")
	if err != nil {
		return fmt.Errorf("crashes: marshal: %w", err)
	}
	if err := os.WriteFile(filename, data, 0644); err != nil {
		return fmt.Errorf("crashes: write file: %w", err)
	}
	return nil
}

// List returns all crashes, newest first.
func (m *Manager) List() ([]CrashSummary, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	entries, err := os.ReadDir(m.config.ReportsDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("crashes: read dir: %w", err)
	}

	var summaries []CrashSummary
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		crash, err := m.loadCrash(entry.Name())
		if err != nil {
			continue
		}
		summaries = append(summaries, CrashSummary{
			ID:        crash.ID,
			SessionID: crash.SessionID,
			Kind:      crash.Kind,
			Timestamp: crash.Timestamp,
			ExitCode:  crash.ExitCode,
			Error:     crash.Error,
		})
	}

	sort.Slice(summaries, func(i, j int) bool {
		return summaries[i].Timestamp.After(summaries[j].Timestamp)
	})
	return summaries, nil
}

// Get retrieves a specific crash by ID.
func (m *Manager) Get(id string) (*Crash, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.loadCrash(id + ".json")
}

// ForSession returns the most recent crash recorded for sessionID, if any.
func (m *Manager) ForSession(sessionID string) (*Crash, error) {
	summaries, err := m.List()
	if err != nil {
		return nil, err
	}
	for _, s := range summaries {
		if s.SessionID == sessionID {
			return m.Get(s.ID)
		}
	}
	return nil, nil
}

// Delete removes a crash by ID.
func (m *Manager) Delete(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	filename := filepath.Join(m.config.ReportsDir, id+".json")
	if err := os.Remove(filename); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("crash not found: %s", id)
		}
		return fmt.Errorf("crashes: delete: %w", err)
	}
	return nil
}

// Clear removes all crashes.
func (m *Manager) Clear() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	entries, err := os.ReadDir(m.config.ReportsDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("crashes: read dir: %w", err)
	}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		os.Remove(filepath.Join(m.config.ReportsDir, entry.Name()))
	}
	return nil
}

func (m *Manager) loadCrash(filename string) (*Crash, error) {
	data, err := os.ReadFile(filepath.Join(m.config.ReportsDir, filename))
	if err != nil {
		return nil, fmt.Errorf("crashes: read file: %w", err)
	}
	var crash Crash
	if err := json.Unmarshal(data, &crash); err != nil {
		return nil, fmt.Errorf("crashes: unmarshal: %w", err)
	}
	return &crash, nil
}

// cleanup removes old crashes based on age and count limits.
func (m *Manager) cleanup() {
	m.mu.Lock()
	defer m.mu.Unlock()

	entries, err := os.ReadDir(m.config.ReportsDir)
	if err != nil {
		return
	}

	type crashFile struct {
		name      string
		timestamp time.Time
	}

	var files []crashFile
	cutoff := time.Now().Add(-m.config.MaxAge)

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		idPart := strings.TrimSuffix(entry.Name(), ".json")
		ts, err := time.ParseInLocation("20060102-150405.000", idPart, time.Local)
		if err != nil {
			continue
		}
		if ts.Before(cutoff) {
			os.Remove(filepath.Join(m.config.ReportsDir, entry.Name()))
			continue
		}
		files = append(files, crashFile{name: entry.Name(), timestamp: ts})
	}

	sort.Slice(files, func(i, j int) bool {
		return files[i].timestamp.After(files[j].timestamp)
	})

	if len(files) > m.config.MaxCount {
		for _, f := range files[m.config.MaxCount:] {
			os.Remove(filepath.Join(m.config.ReportsDir, f.name))
		}
	}
}

// ProcessAlive reports whether pid still has a running process. Record
// does not call it; it is a standalone liveness probe.
func ProcessAlive(pid int) bool {
	proc, err := ps.FindProcess(pid)
	return err == nil && proc != nil
}
