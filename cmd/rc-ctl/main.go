// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// rc-ctl is a command-line tool for driving a running workstation
// directly over its device WebSocket, exercising the same rcclient
// library a mobile/watch/web client would use. Adapted from
// cmd/trellis-ctl, a flag-dispatch CLI wrapping a REST client; here the
// wire is WebSocket/async instead of REST/sync, so the dispatch shape
// (global -json flag, env-var base URL, subcommand switch) is kept but
// each command drives pkg/rcclient instead of a REST client package.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/relaycore/workstation/internal/protocol"
	"github.com/relaycore/workstation/pkg/rcclient/command"
	"github.com/relaycore/workstation/pkg/rcclient/connection"
	rcsync "github.com/relaycore/workstation/pkg/rcclient/sync"
)

var (
	version    = "1.13"
	endpoint   = "ws://localhost:1000/api/v1/ws"
	authKey    = ""
	deviceID   = "rc-ctl"
	jsonOutput = false
)

func main() {
	if env := os.Getenv("RC_ENDPOINT"); env != "" {
		endpoint = env
	}
	if env := os.Getenv("RC_AUTH_KEY"); env != "" {
		authKey = env
	}

	var filteredArgs []string
	for _, arg := range os.Args[1:] {
		if arg == "-json" {
			jsonOutput = true
		} else {
			filteredArgs = append(filteredArgs, arg)
		}
	}

	if len(filteredArgs) < 1 {
		printUsage()
		os.Exit(1)
	}

	cmdName := filteredArgs[0]
	args := filteredArgs[1:]

	var err error
	switch cmdName {
	case "connect":
		err = cmdConnect(args)
	case "sessions":
		err = cmdSessions(args)
	case "send":
		err = cmdSend(args)
	case "history":
		err = cmdHistory(args)
	case "version", "-v", "--version":
		fmt.Printf("rc-ctl %s\n", version)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmdName)
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`rc-ctl - Drive a running workstation over its device WebSocket

Usage:
  rc-ctl [-json] <command> [arguments]

Global Flags:
  -json              Output in JSON format

Environment:
  RC_ENDPOINT        WebSocket endpoint (default: ws://localhost:1000/api/v1/ws)
  RC_AUTH_KEY        Auth key to present during the handshake

Commands:
  connect                       Connect and print connection state transitions until Ctrl+C
  sessions                      Bootstrap a sync and list sessions
  send <session-id> <content>   Send session.execute content to a session
  history <session-id>          Fetch the most recent history page for a session`)
}

func cmdConnect(args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	conn := connection.New(connection.Config{
		Endpoint: endpoint,
		TunnelID: "direct",
		AuthKey:  authKey,
		DeviceID: deviceID,
	})
	conn.Subscribe(func(snap connection.Snapshot) {
		if jsonOutput {
			b, _ := json.Marshal(map[string]interface{}{"state": snap.State, "attempt": snap.Attempt})
			fmt.Println(string(b))
			return
		}
		fmt.Printf("[%s] state=%s attempt=%d\n", time.Now().Format(time.RFC3339), snap.State, snap.Attempt)
	})

	conn.Run(ctx)
	return nil
}

// correlator matches reply envelopes to outstanding requests by id, for
// the request/response shape pkg/rcclient/sync needs on top of
// connection.Manager's fire-and-forget Send.
type correlator struct {
	conn    *connection.Manager
	sender  *command.Sender
	waiters map[string]chan *protocol.Message
}

func newCorrelator() *correlator {
	return &correlator{waiters: make(map[string]chan *protocol.Message)}
}

func (c *correlator) onMessage(msg *protocol.Message) {
	if msg.ID == "" {
		return
	}
	if ch, ok := c.waiters[msg.ID]; ok {
		ch <- msg
		delete(c.waiters, msg.ID)
	}
}

func (c *correlator) request(ctx context.Context, msgType string, payload protocol.Payload) (*protocol.Message, error) {
	id := uuid.NewString()
	ch := make(chan *protocol.Message, 1)
	c.waiters[id] = ch

	if err := c.sender.Send(ctx, command.Config{MsgType: msgType, ID: id, Payload: payload}); err != nil {
		delete(c.waiters, id)
		return nil, err
	}

	select {
	case msg := <-ch:
		return msg, nil
	case <-time.After(10 * time.Second):
		delete(c.waiters, id)
		return nil, fmt.Errorf("timed out waiting for reply to %s", msgType)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func cmdSessions(args []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	corr := newCorrelator()
	conn := connection.New(connection.Config{
		Endpoint: endpoint, TunnelID: "direct", AuthKey: authKey, DeviceID: deviceID,
		OnMessage: corr.onMessage,
	})
	corr.conn = conn
	corr.sender = command.New(conn)

	runCtx, runCancel := context.WithCancel(ctx)
	defer runCancel()
	go conn.Run(runCtx)

	if err := waitAuthenticated(ctx, conn); err != nil {
		return err
	}

	syncClient := rcsync.New(corr.request)
	if err := syncClient.Bootstrap(ctx, false); err != nil {
		return err
	}

	sessions := syncClient.State.Sessions()
	if jsonOutput {
		b, _ := json.MarshalIndent(sessions, "", "  ")
		fmt.Println(string(b))
		return nil
	}
	for _, s := range sessions {
		fmt.Printf("%s  %-10s %-10s %s\n", s.ID, s.Kind, s.Status, s.CreatedAt.Format(time.RFC3339))
	}
	return nil
}

func cmdSend(args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: rc-ctl send <session-id> <content>")
	}
	sessionID := args[0]
	content := strings.Join(args[1:], " ")

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	conn := connection.New(connection.Config{Endpoint: endpoint, TunnelID: "direct", AuthKey: authKey, DeviceID: deviceID})
	runCtx, runCancel := context.WithCancel(ctx)
	defer runCancel()
	go conn.Run(runCtx)

	if err := waitAuthenticated(ctx, conn); err != nil {
		return err
	}

	sender := command.New(conn)
	defer sender.Close()

	err := sender.Send(ctx, command.Config{
		MsgType:   "session.execute",
		SessionID: sessionID,
		ID:        uuid.NewString(),
		Payload:   &protocol.SessionExecute{SessionID: sessionID, Content: content, MessageID: uuid.NewString()},
	})
	if err != nil {
		return err
	}
	fmt.Println("sent")
	return nil
}

func cmdHistory(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: rc-ctl history <session-id>")
	}
	sessionID := args[0]

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	corr := newCorrelator()
	conn := connection.New(connection.Config{
		Endpoint: endpoint, TunnelID: "direct", AuthKey: authKey, DeviceID: deviceID,
		OnMessage: corr.onMessage,
	})
	corr.conn = conn
	corr.sender = command.New(conn)

	runCtx, runCancel := context.WithCancel(ctx)
	defer runCancel()
	go conn.Run(runCtx)

	if err := waitAuthenticated(ctx, conn); err != nil {
		return err
	}

	syncClient := rcsync.New(corr.request)
	resp, err := syncClient.RequestHistory(ctx, sessionID, nil, 50)
	if err != nil {
		return err
	}

	if jsonOutput {
		b, _ := json.MarshalIndent(resp, "", "  ")
		fmt.Println(string(b))
		return nil
	}
	for _, e := range resp.History {
		fmt.Printf("[%d] %-10s %s\n", e.Sequence, e.Role, e.Content)
	}
	return nil
}

func waitAuthenticated(ctx context.Context, conn *connection.Manager) error {
	for {
		snap := conn.Snapshot()
		switch snap.State {
		case connection.StateAuthenticated, connection.StateVerified:
			return nil
		case connection.StateError:
			return snap.Err
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("timed out waiting for authentication: %w", ctx.Err())
		case <-time.After(20 * time.Millisecond):
		}
	}
}

