// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package app wires the workstation's components together: config,
// event bus, session registry, agent/terminal runtimes, router, durable
// and ring-buffer history, crash capture, and the API server. The
// component list is specific to this container, but the wiring shape
// (Options -> New -> Initialize -> Start -> Run -> Shutdown/Stop) is the
// same split used by internal/app in the reference orchestrator, which
// wired service/worktree/workflow managers into its own App container.
package app

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/relaycore/workstation/internal/agent"
	"github.com/relaycore/workstation/internal/api"
	"github.com/relaycore/workstation/internal/config"
	"github.com/relaycore/workstation/internal/crashes"
	"github.com/relaycore/workstation/internal/events"
	"github.com/relaycore/workstation/internal/history"
	"github.com/relaycore/workstation/internal/protocol"
	"github.com/relaycore/workstation/internal/registry"
	"github.com/relaycore/workstation/internal/router"
	"github.com/relaycore/workstation/internal/terminal"
	"github.com/relaycore/workstation/internal/watcher"
)

// App is the main application container.
type App struct {
	mu sync.RWMutex

	configPath string
	version    string
	config     *config.Config

	eventBus     events.EventBus
	history      *history.SQLStore
	ring         *history.RingStore
	registry     *registry.Registry
	router       *router.Router
	agentRuntime *agent.Runtime
	terminalMgr  *terminal.RealManager
	terminalRT   *terminal.Runtime
	crashManager *crashes.Manager
	workspaces   *watcher.WorkspaceWatcher
	apiServer    *api.Server

	done     chan struct{}
	stopOnce sync.Once
}

// Options holds configuration options for the app.
type Options struct {
	ConfigPath string
	Host       string
	Port       int
	Debug      bool
	Version    string
}

// New creates a new App instance, loading configuration and constructing
// every component it owns. Construction is eager: nothing here opens
// sockets or starts processes, that happens in Start.
func New(opts Options) (*App, error) {
	app := &App{
		configPath: opts.ConfigPath,
		version:    opts.Version,
		done:       make(chan struct{}),
	}

	loader := config.NewLoader()
	cfg, err := loader.LoadWithDefaults(context.Background(), opts.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if opts.Host != "" {
		cfg.Server.Host = opts.Host
	}
	if opts.Port > 0 {
		cfg.Server.Port = opts.Port
	}
	app.config = cfg

	app.eventBus = events.NewMemoryEventBus(events.MemoryBusConfig{
		HistoryMaxEvents: 1000,
		HistoryMaxAge:    24 * time.Hour,
	})

	ringSize := cfg.History.RingBufferSize
	if ringSize == 0 {
		ringSize = 1000
	}
	app.ring = history.NewRingStore(ringSize)

	if cfg.History.DBPath != "" {
		store, err := history.OpenSQLStore(expandPath(cfg.History.DBPath))
		if err != nil {
			return nil, fmt.Errorf("failed to open history store: %w", err)
		}
		app.history = store
	}

	aliases := make(map[string]registry.AliasEntry, len(cfg.Agents))
	for name, a := range cfg.Agents {
		aliases[name] = registry.AliasEntry{BaseType: a.BaseType, DefaultArgs: a.DefaultArgs, Hidden: a.Hidden}
	}
	aliasTable := registry.NewAliasTable(aliases)

	app.agentRuntime = agent.NewRuntime(aliasTable)
	app.agentRuntime.SupervisorAgentType = "claude"
	if len(cfg.Workspace.Roots) > 0 {
		app.agentRuntime.SupervisorWorkingDir = cfg.Workspace.Roots[0]
	}
	app.agentRuntime.OnExit = func(sessionID string, exitCode int, err error) {
		if app.crashManager != nil {
			kind := ""
			if sess, getErr := app.registry.GetSession(sessionID); getErr == nil {
				kind = string(sess.Kind)
			}
			if _, recErr := app.crashManager.Record(sessionID, kind, exitCode, err, events.EventAgentProcessExited); recErr != nil {
				log.Printf("crash record for session %s failed: %v", sessionID, recErr)
			}
		}
		app.registry.ReportExit(sessionID, exitCode, err)
	}
	app.agentRuntime.OnOutput = func(sessionID, messageID, role string, evt protocol.SequencedOutputEvent) {
		if _, err := app.router.Broadcast(context.Background(), sessionID, messageID, role, evt); err != nil {
			log.Printf("broadcast for session %s failed: %v", sessionID, err)
		}
	}

	tmuxCfg := terminal.TerminalConfig{
		Backend:      cfg.Terminal.Backend,
		HistoryLimit: cfg.Terminal.HistoryLimit,
		DefaultShell: cfg.Terminal.DefaultShell,
		ProjectName:  cfg.Project.Name,
		StateDir:     cfg.Workspace.StateDir,
	}
	app.terminalMgr = terminal.NewManager(terminal.NewRealTmuxExecutor(), tmuxCfg)
	app.terminalRT = terminal.NewRuntime(app.terminalMgr)
	app.terminalRT.OnOutput = func(sessionID, data string) {
		evt := protocol.SequencedOutputEvent{
			ContentType:   "terminal_output",
			ContentBlocks: []protocol.ContentBlock{{Type: "text", Text: data}},
			Timestamp:     time.Now(),
		}
		if _, err := app.router.Broadcast(context.Background(), sessionID, "", "system", evt); err != nil {
			log.Printf("broadcast for session %s failed: %v", sessionID, err)
		}
	}
	app.terminalRT.OnExit = func(sessionID string, exitCode int, err error) {
		app.registry.ReportExit(sessionID, exitCode, err)
	}

	regCfg := registry.Config{
		DefaultCols:       80,
		DefaultRows:       24,
		DefaultWorkingDir: firstOrEmpty(cfg.Workspace.Roots),
	}
	app.registry = registry.New(regCfg, app.eventBus, app.agentRuntime, app.terminalRT, app.agentRuntime, aliasTable)

	app.router = router.New(&registryLookup{reg: app.registry}, func(deviceID string) {
		log.Printf("device %s dropped from router", deviceID)
	})
	app.registry.SetCascade(app.router)

	if cfg.Crashes.ReportsDir != "" {
		crashCfg := crashes.Config{
			ReportsDir: expandPath(cfg.Crashes.ReportsDir),
			MaxAge:     config.ParseDuration(cfg.Crashes.MaxAge, 7*24*time.Hour),
			MaxCount:   cfg.Crashes.MaxCount,
		}
		mgr, err := crashes.NewManager(crashCfg)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize crash manager: %w", err)
		}
		app.crashManager = mgr
	}

	if cfg.Workspace.WatchEnabled && len(cfg.Workspace.Roots) > 0 {
		ww, err := watcher.NewWorkspaceWatcher(app.eventBus, cfg.Workspace.Roots, 200*time.Millisecond)
		if err != nil {
			return nil, fmt.Errorf("failed to start workspace watcher: %w", err)
		}
		app.workspaces = ww
	}

	app.apiServer = api.NewServer(
		api.ServerConfig{
			Host:    cfg.Server.Host,
			Port:    cfg.Server.Port,
			TLSCert: cfg.Server.TLSCert,
			TLSKey:  cfg.Server.TLSKey,
		},
		api.Dependencies{
			Registry:           app.registry,
			Router:             app.router,
			History:            app.history,
			Ring:               app.ring,
			CrashManager:       app.crashManager,
			EventBus:           app.eventBus,
			AgentRuntime:       app.agentRuntime,
			TerminalRT:         app.terminalRT,
			Aliases:            aliasTable,
			Workspaces:         app.workspaces,
			AuthKey:            cfg.Tunnel.AuthKey,
			WorkstationName:    cfg.Project.Name,
			WorkstationVersion: app.version,
			WorkspacesRoot:     firstOrEmpty(cfg.Workspace.Roots),
		},
	)

	return app, nil
}

// registryLookup adapts *registry.Registry to router.SessionLookup without
// the router package importing the registry package directly.
type registryLookup struct {
	reg *registry.Registry
}

func (l *registryLookup) Lookup(sessionID string) (kind, status string, ok bool) {
	sess, err := l.reg.GetSession(sessionID)
	if err != nil {
		return "", "", false
	}
	return string(sess.Kind), string(sess.Status()), true
}

func firstOrEmpty(ss []string) string {
	if len(ss) == 0 {
		return ""
	}
	return ss[0]
}

// expandPath expands a leading ~ to the user's home directory.
func expandPath(path string) string {
	if len(path) > 0 && path[0] == '~' {
		if home, err := os.UserHomeDir(); err == nil {
			return home + path[1:]
		}
	}
	return path
}

// Initialize starts the registry's supervisor session and, when a history
// store is open, registers its durable appender. Config loading and component construction already
// happened in New; this step is the one that may touch the filesystem
// or spawn processes, so it is kept separate and cancellable.
func (app *App) Initialize(ctx context.Context) error {
	sess, err := app.registry.CreateSession(ctx, registry.KindSupervisor, "", app.config.Project.Name, "", "")
	if err != nil {
		return fmt.Errorf("failed to start supervisor session: %w", err)
	}
	if app.history != nil {
		app.router.RegisterSession(sess.ID, &router.SQLAppender{Store: app.history})
	}
	return nil
}

// Start starts the API server in the background. Initialize must run
// first.
func (app *App) Start(ctx context.Context) error {
	go func() {
		log.Printf("Starting API server on %s:%d", app.config.Server.Host, app.config.Server.Port)
		if err := app.apiServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("API server error: %v", err)
		}
	}()
	return nil
}

// Run starts the app and blocks until shutdown.
func (app *App) Run(ctx context.Context) error {
	if err := app.Initialize(ctx); err != nil {
		return err
	}

	if err := app.Start(ctx); err != nil {
		return err
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Printf("Received signal %v, shutting down...", sig)
	case <-ctx.Done():
		log.Printf("Context cancelled, shutting down...")
	case <-app.done:
		log.Printf("Shutdown requested...")
	}

	return app.Shutdown(context.Background())
}

// Shutdown gracefully shuts down all components.
func (app *App) Shutdown(ctx context.Context) error {
	app.mu.Lock()
	defer app.mu.Unlock()

	log.Println("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if app.apiServer != nil {
		if err := app.apiServer.Shutdown(shutdownCtx); err != nil {
			log.Printf("Error shutting down API server: %v", err)
		}
	}

	if app.registry != nil {
		if err := app.registry.TerminateAll(); err != nil {
			log.Printf("Error terminating sessions: %v", err)
		}
	}

	if app.history != nil {
		if err := app.history.Close(); err != nil {
			log.Printf("Error closing history store: %v", err)
		}
	}

	if app.workspaces != nil {
		if err := app.workspaces.Close(); err != nil {
			log.Printf("Error closing workspace watcher: %v", err)
		}
	}

	if app.eventBus != nil {
		if err := app.eventBus.Close(); err != nil {
			log.Printf("Error closing event bus: %v", err)
		}
	}

	log.Println("Shutdown complete")
	return nil
}

// Stop signals the app to shut down. Safe to call multiple times.
func (app *App) Stop() {
	app.stopOnce.Do(func() {
		close(app.done)
	})
}
