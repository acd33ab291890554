// Forged runs one pipeline agent as an MCP server over stdio.
//
// The orchestrator spawns this binary once per role; it is not meant to be
// started by hand except when debugging an endpoint in isolation.
//
// Configuration is loaded from an optional YAML file and FORGED_* environment
// variables. See internal/config for details.
//
// Usage:
//
//	# Serve the architect role on stdio
//	forged architect
//
//	# Configure via environment
//	FORGED_LLM_MODEL=gpt-4o forged coder
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/forged/internal/agent"
	"github.com/fyrsmithlabs/forged/internal/config"
	"github.com/fyrsmithlabs/forged/internal/endpoint"
	"github.com/fyrsmithlabs/forged/internal/logging"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	flag.Parse()
	args := flag.Args()

	if len(args) != 1 {
		fmt.Fprintf(os.Stderr, "Usage: forged [--config file] <role>\nRoles: %v\n", agent.Roles())
		os.Exit(2)
	}

	role := args[0]
	if role == "version" {
		printVersion()
		os.Exit(0)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Stdout belongs to the MCP transport; the logger writes to stderr only.
	logger, err := logging.New(cfg.Log.Logging(), "forged."+role)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	server, err := endpoint.New(role, cfg, logger)
	if err != nil {
		logger.Fatal("failed to build endpoint", zap.String("role", role), zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := server.Run(ctx); err != nil && ctx.Err() == nil {
		logger.Fatal("endpoint exited", zap.Error(err))
	}
	logger.Info("endpoint stopped", zap.String("role", role))
}

func printVersion() {
	fmt.Printf("forged %s\n", version)
	fmt.Printf("  git commit: %s\n", gitCommit)
	fmt.Printf("  built:      %s\n", buildDate)
}
