// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package watcher watches the filesystem for changes a running
// workstation cares about. WorkspaceWatcher generalizes BinaryWatcher
// (ref-counted fsnotify adds, debounced handling, an events.EventBus
// publish on settle) from "restart a service when its binary is
// rewritten" to "recompute the project tree under each workspace root
// when a project directory appears or disappears", since this
// workstation has no analogue of binaries to watch for live restart:
// sessions run agents and shells, not supervised service processes.
package watcher

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/relaycore/workstation/internal/events"
	"github.com/relaycore/workstation/internal/protocol"
)

// WorkspaceWatcher keeps a live snapshot of the project tree under each
// configured workspace root, refreshing it whenever a project directory
// is created or removed and publishing workspace.changed so anything
// long-lived (a dashboard, a log sink) can react without polling.
// sync's bootstrap reads the current Snapshot directly.
type WorkspaceWatcher struct {
	mu        sync.RWMutex
	bus       events.EventBus
	watcher   *fsnotify.Watcher
	debouncer *Debouncer
	roots     []string
	snapshot  []protocol.WorkspaceSummary

	closed  bool
	closeCh chan struct{}
	wg      sync.WaitGroup
}

// NewWorkspaceWatcher starts watching roots for project changes. Roots
// that can't be watched (e.g. don't exist yet) are skipped rather than
// failing construction. Such a root is not added to the watch if it is
// created later; its projects show up only when a change under another
// root triggers a refresh.
func NewWorkspaceWatcher(bus events.EventBus, roots []string, debounce time.Duration) (*WorkspaceWatcher, error) {
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}

	w := &WorkspaceWatcher{
		bus:       bus,
		watcher:   fsWatcher,
		debouncer: NewDebouncer(debounce),
		roots:     append([]string(nil), roots...),
		closeCh:   make(chan struct{}),
	}

	for _, root := range w.roots {
		absRoot, err := filepath.Abs(root)
		if err != nil {
			absRoot = root
		}
		if err := w.watcher.Add(absRoot); err != nil {
			continue
		}
	}

	w.refresh()

	w.wg.Add(1)
	go w.processEvents()

	return w, nil
}

// Snapshot returns the current workspace/project tree.
func (w *WorkspaceWatcher) Snapshot() []protocol.WorkspaceSummary {
	w.mu.RLock()
	defer w.mu.RUnlock()
	out := make([]protocol.WorkspaceSummary, len(w.snapshot))
	copy(out, w.snapshot)
	return out
}

// Close stops the watcher and releases resources.
func (w *WorkspaceWatcher) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	close(w.closeCh)
	w.mu.Unlock()

	w.debouncer.Stop()
	w.watcher.Close()
	w.wg.Wait()

	return nil
}

func (w *WorkspaceWatcher) processEvents() {
	defer w.wg.Done()

	for {
		select {
		case <-w.closeCh:
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			_ = err
		}
	}
}

const refreshDebounceKey = "refresh"

func (w *WorkspaceWatcher) handleEvent(event fsnotify.Event) {
	if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
		return
	}
	w.debouncer.Debounce(refreshDebounceKey, w.refresh)
}

func (w *WorkspaceWatcher) refresh() {
	snapshot := make([]protocol.WorkspaceSummary, 0, len(w.roots))
	for _, root := range w.roots {
		snapshot = append(snapshot, protocol.WorkspaceSummary{
			Name:          filepath.Base(root),
			Projects:      listProjects(root),
			DefaultBranch: defaultBranch(root),
		})
	}

	w.mu.Lock()
	w.snapshot = snapshot
	w.mu.Unlock()

	if w.bus != nil {
		w.bus.Publish(context.Background(), events.Event{
			Type:    "workspace.changed",
			Payload: map[string]interface{}{"workspaces": snapshot},
		})
	}
}

func listProjects(root string) []string {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil
	}

	var projects []string
	for _, e := range entries {
		if !e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		projects = append(projects, e.Name())
	}
	sort.Strings(projects)
	return projects
}

// defaultBranch reads a project root's checked-out branch straight from
// .git/HEAD rather than shelling out to git or pulling in a git
// plumbing library for a single symbolic-ref read.
func defaultBranch(root string) string {
	head, err := os.ReadFile(filepath.Join(root, ".git", "HEAD"))
	if err != nil {
		return ""
	}

	const prefix = "ref: refs/heads/"
	line := strings.TrimSpace(string(head))
	if !strings.HasPrefix(line, prefix) {
		return ""
	}
	return strings.TrimPrefix(line, prefix)
}
