package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"gopkg.in/yaml.v3"

	"github.com/vibeboard/remote-mcp/internal/audit"
	"github.com/vibeboard/remote-mcp/internal/manifest"
	"github.com/vibeboard/remote-mcp/internal/registry"
	"github.com/vibeboard/remote-mcp/internal/remote"
	"github.com/vibeboard/remote-mcp/internal/server"
	"github.com/vibeboard/remote-mcp/internal/tools"
	"github.com/vibeboard/remote-mcp/pkg/mcp"
)

type Config struct {
	// ShapesFile is the generated TypeScript declarations file the tool
	// manifest is parsed from.
	ShapesFile string `yaml:"shapes_file"`
	// APIBase overrides the remote API base URL.
	APIBase string `yaml:"api_base"`
	// AuditDB enables the SQLite execution log when set.
	AuditDB string `yaml:"audit_db"`
}

func main() {
	configPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	cfg := Config{
		ShapesFile: "shared/remote-types.ts",
	}

	if *configPath != "" {
		data, err := os.ReadFile(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error reading config: %v\n", err)
			os.Exit(1)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			fmt.Fprintf(os.Stderr, "Error parsing config: %v\n", err)
			os.Exit(1)
		}
	}

	// Environment wins over the config file.
	if v := strings.TrimSpace(os.Getenv("VIBE_SHAPES_FILE")); v != "" {
		cfg.ShapesFile = v
	}
	if v := strings.TrimSpace(os.Getenv("VIBE_MCP_AUDIT_DB")); v != "" {
		cfg.AuditDB = v
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	backendURL, err := remote.BackendBaseURL()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error locating local backend: %v\n", err)
		os.Exit(1)
	}
	client := remote.New(cfg.APIBase, backendURL)

	m := manifest.Load(cfg.ShapesFile)
	reg := registry.Merge(tools.Generated(m, client), tools.Manual(m, client))

	var auditLog *audit.Log
	if cfg.AuditDB != "" {
		auditLog, err = audit.Open(cfg.AuditDB)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error opening audit log: %v\n", err)
			os.Exit(1)
		}
		defer auditLog.Close()
	}

	transport := mcp.NewTransport(os.Stdin, os.Stdout)
	srv := server.New(transport, reg, auditLog)
	if err := srv.Run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Server error: %v\n", err)
		os.Exit(1)
	}
}
