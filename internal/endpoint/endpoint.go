// Package endpoint exposes one pipeline agent as an MCP server over stdio.
//
// Each role runs in its own process with its own LLM client, usage tracker,
// and (for roles that execute code) its own runner. Nothing is shared between
// endpoints except the usage ledger file, which the tracker serializes with a
// file lock.
package endpoint

import (
	"context"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/forged/internal/agent"
	"github.com/fyrsmithlabs/forged/internal/config"
	"github.com/fyrsmithlabs/forged/internal/llm"
	"github.com/fyrsmithlabs/forged/internal/runner"
	"github.com/fyrsmithlabs/forged/internal/usage"
)

// Version is the endpoint implementation version reported during the MCP
// handshake.
const Version = "0.2.0"

// Server hosts one agent role behind the MCP stdio transport.
type Server struct {
	role   string
	mcp    *mcp.Server
	usage  *usage.Tracker
	logger *zap.Logger
}

// New builds the endpoint for the given role: LLM client, usage tracker, and
// for the tester and debugger a local runner, then registers the role's
// tools.
func New(role string, cfg *config.Config, logger *zap.Logger) (*Server, error) {
	client, err := llm.NewOpenAIClient(cfg.LLM)
	if err != nil {
		return nil, fmt.Errorf("endpoint %s: %w", role, err)
	}
	return newServer(role, cfg, client, logger)
}

// newServer is the injectable constructor used by tests.
func newServer(role string, cfg *config.Config, client llm.Client, logger *zap.Logger) (*Server, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	tracker := usage.NewTracker(cfg.Ledger.Path, logger)

	mcpServer := mcp.NewServer(
		&mcp.Implementation{
			Name:    "forged-" + role,
			Version: Version,
		},
		nil,
	)

	s := &Server{
		role:   role,
		mcp:    mcpServer,
		usage:  tracker,
		logger: logger,
	}

	switch role {
	case agent.RoleArchitect:
		s.registerArchitect(agent.NewArchitect(client, tracker, logger))
	case agent.RoleCoder:
		s.registerCoder(agent.NewCoder(client, tracker, logger))
	case agent.RoleTester:
		run, err := runner.NewLocal(cfg.Runner, role, logger)
		if err != nil {
			return nil, fmt.Errorf("endpoint %s: %w", role, err)
		}
		s.registerTester(agent.NewTester(client, tracker, run, cfg.Timeouts.Exec(), logger))
	case agent.RoleDebugger:
		run, err := runner.NewLocal(cfg.Runner, role, logger)
		if err != nil {
			return nil, fmt.Errorf("endpoint %s: %w", role, err)
		}
		s.registerDebugger(agent.NewDebugger(client, tracker, run, cfg.Debug, cfg.Timeouts.Exec(), logger))
	default:
		return nil, fmt.Errorf("endpoint: unknown role %q", role)
	}

	return s, nil
}

// Run serves the role on stdio until the context is cancelled or the peer
// closes the stream. Any usage not yet flushed by a tool call is flushed on
// the way out.
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info("endpoint serving on stdio", zap.String("role", s.role))
	err := s.mcp.Run(ctx, &mcp.StdioTransport{})
	if ferr := s.usage.Flush(); ferr != nil {
		s.logger.Warn("final usage flush failed", zap.Error(ferr))
	}
	if err != nil {
		return fmt.Errorf("endpoint %s: %w", s.role, err)
	}
	return nil
}

// flushUsage persists token records after a tool call that consumed tokens.
// A flush failure never fails the tool call; the records stay buffered for
// the next flush.
func (s *Server) flushUsage() {
	if err := s.usage.Flush(); err != nil {
		s.logger.Warn("usage flush failed", zap.Error(err))
	}
}
