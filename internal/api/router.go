// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package api

import (
	"context"
	"fmt"
	"log"
	"net/http"
	_ "net/http/pprof"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/relaycore/workstation/internal/agent"
	"github.com/relaycore/workstation/internal/api/handlers"
	"github.com/relaycore/workstation/internal/api/middleware"
	"github.com/relaycore/workstation/internal/api/version"
	"github.com/relaycore/workstation/internal/crashes"
	"github.com/relaycore/workstation/internal/events"
	"github.com/relaycore/workstation/internal/history"
	"github.com/relaycore/workstation/internal/registry"
	"github.com/relaycore/workstation/internal/router"
	"github.com/relaycore/workstation/internal/terminal"
	"github.com/relaycore/workstation/internal/watcher"
)

// ServerConfig holds configuration for the API server.
type ServerConfig struct {
	Host    string
	Port    int
	TLSCert string // Path to TLS certificate file
	TLSKey  string // Path to TLS private key file
}

// Dependencies holds all dependencies for the workstation's HTTP/WebSocket
// surface.
type Dependencies struct {
	Registry     *registry.Registry
	Router       *router.Router
	History      *history.SQLStore
	Ring         *history.RingStore
	CrashManager *crashes.Manager
	EventBus     events.EventBus
	AgentRuntime *agent.Runtime
	TerminalRT   *terminal.Runtime
	Aliases      *registry.AliasTable
	Workspaces   *watcher.WorkspaceWatcher

	AuthKey            string
	WorkstationName    string
	WorkstationVersion string
	WorkspacesRoot     string
}

// NewRouter builds the mux.Router serving the device WebSocket and its
// supporting REST views.
func NewRouter(deps Dependencies) *mux.Router {
	r := mux.NewRouter()

	r.Use(middleware.Logging)
	r.Use(middleware.Recovery)
	r.Use(middleware.CORS)
	r.Use(version.Middleware)

	deviceHandler := handlers.NewDeviceHandler(handlers.DeviceHandler{
		Registry:           deps.Registry,
		Router:             deps.Router,
		History:            deps.History,
		Ring:               deps.Ring,
		Crashes:            deps.CrashManager,
		Bus:                deps.EventBus,
		AgentRuntime:       deps.AgentRuntime,
		TerminalRT:         deps.TerminalRT,
		Aliases:            deps.Aliases,
		Workspaces:         deps.Workspaces,
		AuthKey:            deps.AuthKey,
		WorkstationName:    deps.WorkstationName,
		WorkstationVersion: deps.WorkstationVersion,
		WorkspacesRoot:     deps.WorkspacesRoot,
	})

	api := r.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/ws", deviceHandler.WebSocket).Methods("GET")

	sessionsHandler := handlers.NewSessionsHandler(deps.Registry, deps.History)
	api.HandleFunc("/sessions", sessionsHandler.List).Methods("GET")
	api.HandleFunc("/sessions/{id}/history", sessionsHandler.History).Methods("GET")

	eventHandler := handlers.NewEventHandler(deps.EventBus)
	api.HandleFunc("/events", eventHandler.History).Methods("GET")

	if deps.CrashManager != nil {
		crashHandler := handlers.NewCrashesHandler(deps.CrashManager)
		api.HandleFunc("/crashes", crashHandler.List).Methods("GET")
		api.HandleFunc("/crashes", crashHandler.Clear).Methods("DELETE")
		api.HandleFunc("/crashes/{id}", crashHandler.Get).Methods("GET")
		api.HandleFunc("/crashes/{id}", crashHandler.Delete).Methods("DELETE")
	}

	r.PathPrefix("/debug/pprof/").Handler(http.DefaultServeMux)

	return r
}

// Server represents the API server.
type Server struct {
	router *mux.Router
	cfg    ServerConfig
	server *http.Server
}

// NewServer creates a new API server.
func NewServer(cfg ServerConfig, deps Dependencies) *Server {
	return &Server{
		router: NewRouter(deps),
		cfg:    cfg,
	}
}

// Router returns the underlying router.
func (s *Server) Router() *mux.Router {
	return s.router
}

// ListenAndServe starts the server.
// If TLS is configured (tls_cert and tls_key), uses HTTPS.
// If a configured cert or key file does not exist, it returns an error;
// no certificate is generated.
func (s *Server) ListenAndServe() error {
	addr := s.cfg.Host + ":" + strconv.Itoa(s.cfg.Port)
	s.server = &http.Server{
		Addr:    addr,
		Handler: s.router,
	}

	tlsEnabled, err := CheckTLSConfig(s.cfg.TLSCert, s.cfg.TLSKey)
	if err != nil {
		return fmt.Errorf("TLS configuration error: %w", err)
	}

	if tlsEnabled {
		certPath := expandPath(s.cfg.TLSCert)
		keyPath := expandPath(s.cfg.TLSKey)
		log.Printf("API server listening on https://%s (TLS enabled)", addr)
		return s.server.ListenAndServeTLS(certPath, keyPath)
	}

	log.Printf("API server listening on http://%s", addr)
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}

	log.Println("Shutting down API server...")

	shutdownCtx := ctx
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		shutdownCtx, cancel = context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
	}

	return s.server.Shutdown(shutdownCtx)
}
