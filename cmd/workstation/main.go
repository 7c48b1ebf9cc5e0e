// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/relaycore/workstation/internal/app"
	"github.com/relaycore/workstation/internal/config"
)

var version = "1.13"

func main() {
	if len(os.Args) > 1 && os.Args[1] == "init" {
		if err := runInit(); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		os.Exit(0)
	}

	var (
		configPath  string
		host        string
		port        int
		showVersion bool
		debug       bool
	)

	flag.StringVar(&configPath, "config", "", "Path to config file (default: auto-detect)")
	flag.StringVar(&configPath, "c", "", "Path to config file (short)")
	flag.StringVar(&host, "host", "", "API server host (overrides config)")
	flag.IntVar(&port, "port", 0, "API server port (overrides config)")
	flag.BoolVar(&showVersion, "version", false, "Show version")
	flag.BoolVar(&showVersion, "v", false, "Show version (short)")
	flag.BoolVar(&debug, "debug", false, "Enable debug mode")
	flag.Parse()

	if showVersion {
		fmt.Printf("workstation %s\n", version)
		os.Exit(0)
	}

	if configPath == "" {
		loader := config.NewLoader()
		found, err := loader.FindConfig()
		if err != nil {
			log.Fatalf("Error: %v", err)
		}
		configPath = found
	}

	log.Printf("Using config: %s", configPath)

	application, err := app.New(app.Options{
		ConfigPath: configPath,
		Host:       host,
		Port:       port,
		Debug:      debug,
		Version:    version,
	})
	if err != nil {
		log.Fatalf("Failed to create app: %v", err)
	}

	ctx := context.Background()
	if err := application.Run(ctx); err != nil {
		log.Fatalf("App error: %v", err)
	}
}

// runInit handles the "workstation init" command.
func runInit() error {
	initFlags := flag.NewFlagSet("init", flag.ExitOnError)
	showHelp := initFlags.Bool("help", false, "Show help for init command")
	initFlags.BoolVar(showHelp, "h", false, "Show help for init command")
	initFlags.Parse(os.Args[2:])

	if *showHelp {
		fmt.Println(`Usage: workstation init [options]

Create a new workstation.hjson configuration file in the current directory.

This command walks you through setting up a workstation configuration with
interactive prompts. The generated file is fully commented to help you
understand and customize all available options.

Options:
  -h, -help    Show this help message

The command will ask about:
  - Project name (defaults to current directory name)
  - API server port (defaults to 1000)
  - Tunnel relay endpoint and auth key
  - Workspace roots sessions are created under
  - Agent aliases (claude, cursor-agent, opencode, ...)

Examples:
  workstation init              Create config with interactive prompts
  cd myproject && workstation init

After running init:
  1. Review and edit workstation.hjson as needed
  2. Run: ./workstation`)
		return nil
	}

	configFile := "workstation.hjson"

	if _, err := os.Stat(configFile); err == nil {
		return fmt.Errorf("%s already exists; remove it first or use a different directory", configFile)
	}

	reader := bufio.NewReader(os.Stdin)

	fmt.Println("Workstation Configuration Setup")
	fmt.Println("================================")
	fmt.Println()
	fmt.Println("This will create a workstation.hjson configuration file in the current directory.")
	fmt.Println("Press Enter to accept defaults shown in [brackets].")
	fmt.Println()

	cwd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("failed to get current directory: %w", err)
	}
	defaultName := filepath.Base(cwd)

	projectName := prompt(reader, "Project name", defaultName)

	portStr := prompt(reader, "API server port", "1000")
	port, err := strconv.Atoi(portStr)
	if err != nil {
		port = 1000
	}

	fmt.Println()
	fmt.Println("The workstation connects outbound to a tunnel relay so mobile/watch/web")
	fmt.Println("clients can reach it without exposing this machine directly.")
	tunnelEndpoint := prompt(reader, "Tunnel relay endpoint (or empty to skip)", "")
	var tunnelAuthKey string
	if tunnelEndpoint != "" {
		tunnelAuthKey = prompt(reader, "Tunnel auth key", "")
	}

	fmt.Println()
	workspaceRoot := prompt(reader, "Workspace root directory", cwd)

	fmt.Println()
	fmt.Println("Agent aliases map a short name to an underlying CLI (claude, cursor-agent, opencode).")
	var agents []agentConfig
	for {
		addAgent := prompt(reader, "Add an agent alias? (y/n)", "n")
		if strings.ToLower(addAgent) != "y" {
			break
		}
		a := agentConfig{}
		a.Name = prompt(reader, "  Alias name", "claude")
		a.BaseType = prompt(reader, "  Base type (claude, cursor, opencode)", "claude")
		agents = append(agents, a)
		fmt.Println()
	}

	configContent := generateConfig(projectName, port, tunnelEndpoint, tunnelAuthKey, workspaceRoot, agents)

	if err := os.WriteFile(configFile, []byte(configContent), 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	fmt.Println()
	fmt.Printf("Created %s\n", configFile)
	fmt.Println()
	fmt.Println("Next steps:")
	fmt.Println("  1. Review and edit workstation.hjson as needed")
	fmt.Println("  2. Run: ./workstation")
	fmt.Println()

	return nil
}

type agentConfig struct {
	Name     string
	BaseType string
}

func prompt(reader *bufio.Reader, question, defaultVal string) string {
	if defaultVal != "" {
		fmt.Printf("%s [%s]: ", question, defaultVal)
	} else {
		fmt.Printf("%s: ", question)
	}
	input, _ := reader.ReadString('\n')
	input = strings.TrimSpace(input)
	if input == "" {
		return defaultVal
	}
	return input
}

// escapeHJSONValue escapes a string for safe inclusion in an HJSON
// double-quoted value.
func escapeHJSONValue(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `"`, `\"`)
	return s
}

func generateConfig(projectName string, port int, tunnelEndpoint, tunnelAuthKey, workspaceRoot string, agents []agentConfig) string {
	var sb strings.Builder

	sb.WriteString(`{
  // =============================================================================
  // Workstation Configuration
  // =============================================================================
  //
  // This is an HJSON file (JSON with comments and relaxed syntax).

  // ---------------------------------------------------------------------------
  // Project Metadata
  // ---------------------------------------------------------------------------
  project: {
    name: "`)
	sb.WriteString(escapeHJSONValue(projectName))
	sb.WriteString(`"
  }

  // ---------------------------------------------------------------------------
  // API Server
  // ---------------------------------------------------------------------------
  //
  // Devices normally reach this server through the tunnel relay below, not
  // directly; server.host/port matter for direct (LAN/VPN) access.
  server: {
    host: "127.0.0.1"
    port: `)
	sb.WriteString(strconv.Itoa(port))
	sb.WriteString(`

    // For direct HTTPS access, uncomment and set paths to your certificates:
    // tls_cert: "~/.workstation/cert.pem"
    // tls_key: "~/.workstation/key.pem"
  }

  // ---------------------------------------------------------------------------
  // Tunnel Relay
  // ---------------------------------------------------------------------------
  //
  // The workstation dials out to a trusted relay that fronts it for
  // mobile/watch/web clients, so no inbound port needs to be opened here.
  tunnel: {
`)
	if tunnelEndpoint != "" {
		sb.WriteString(`    enabled: true
    endpoint: "`)
		sb.WriteString(escapeHJSONValue(tunnelEndpoint))
		sb.WriteString(`"
    auth_key: "`)
		sb.WriteString(escapeHJSONValue(tunnelAuthKey))
		sb.WriteString(`"
`)
	} else {
		sb.WriteString(`    enabled: false
    // endpoint: "wss://relay.example.com/connect"
    // auth_key: "change-me"
`)
	}
	sb.WriteString(`  }

  // ---------------------------------------------------------------------------
  // Workspace
  // ---------------------------------------------------------------------------
  workspace: {
    roots: ["`)
	sb.WriteString(escapeHJSONValue(workspaceRoot))
	sb.WriteString(`"]
    state_dir: ".workstation/state"
    watch_enabled: true
  }

  // ---------------------------------------------------------------------------
  // Agents
  // ---------------------------------------------------------------------------
  //
  // Aliases map a short name a device supplies in session.create to the
  // underlying CLI to launch and its default arguments.
  agents: {
`)
	if len(agents) == 0 {
		sb.WriteString(`    // claude: { base_type: "claude" }
    // review: { base_type: "claude", default_args: ["--permission-mode", "plan"] }
    // cursor: { base_type: "cursor" }
`)
	} else {
		for i, a := range agents {
			sb.WriteString(`    `)
			sb.WriteString(escapeHJSONValue(a.Name))
			sb.WriteString(`: { base_type: "`)
			sb.WriteString(escapeHJSONValue(a.BaseType))
			sb.WriteString(`" }`)
			if i < len(agents)-1 {
				sb.WriteString("\n")
			}
		}
		sb.WriteString("\n")
	}
	sb.WriteString(`  }

  // ---------------------------------------------------------------------------
  // Terminal
  // ---------------------------------------------------------------------------
  terminal: {
    backend: "tmux"
    tmux: {
      history_limit: 50000
      // shell: "/bin/zsh"
    }
  }

  // ---------------------------------------------------------------------------
  // History
  // ---------------------------------------------------------------------------
  history: {
    db_path: ".workstation/history.db"
    ring_buffer_size: 1000
    retention_days: 30
  }

  // ---------------------------------------------------------------------------
  // Devices
  // ---------------------------------------------------------------------------
  devices: {
    // pairing_secret: "change-me"
    heartbeat_period: "20s"
  }

  // ---------------------------------------------------------------------------
  // Logging
  // ---------------------------------------------------------------------------
  logging: {
    level: "info"
    format: "json"
  }

  // ---------------------------------------------------------------------------
  // Crash Reports
  // ---------------------------------------------------------------------------
  crashes: {
    reports_dir: ".workstation/crashes"
    max_age: "7d"
    max_count: 100
  }
}
`)

	return sb.String()
}
