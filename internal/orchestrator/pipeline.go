package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/forged/internal/agent"
	"github.com/fyrsmithlabs/forged/internal/config"
	"github.com/fyrsmithlabs/forged/pkg/mcp"
)

// DefaultBinary is the endpoint executable spawned for each role, resolved
// via PATH.
const DefaultBinary = "forged"

// conn is the slice of the MCP client the pipeline uses. It exists so tests
// can substitute scripted endpoints for real subprocesses.
type conn interface {
	Initialize(ctx context.Context) (*mcp.InitializeResult, error)
	ListTools(ctx context.Context) ([]mcp.Tool, error)
	CallTool(ctx context.Context, name string, args any) (string, error)
	Close() error
}

// launcher starts the endpoint process for a role and returns its
// connection.
type launcher func(role string) (conn, error)

// Pipeline runs the architect-coder-tester-debugger workflow. Each role is
// one subprocess, spawned at the start of a run and closed when the run
// ends, whatever state it ends in.
type Pipeline struct {
	cfg    *config.Config
	logger *zap.Logger
	launch launcher

	// Binary is the endpoint executable. Empty means DefaultBinary.
	Binary string

	// Verbose lists each endpoint's tools after its handshake.
	Verbose bool
}

// NewPipeline builds a pipeline that spawns real endpoint subprocesses.
func NewPipeline(cfg *config.Config, logger *zap.Logger) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &Pipeline{cfg: cfg, logger: logger}
	p.launch = func(role string) (conn, error) {
		binary := p.Binary
		if binary == "" {
			binary = DefaultBinary
		}
		return mcp.Spawn(role, []string{binary, role}, nil, logger.Named(role))
	}
	return p
}

// newPipelineWithLauncher is the injectable constructor used by tests.
func newPipelineWithLauncher(cfg *config.Config, logger *zap.Logger, launch launcher) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{cfg: cfg, logger: logger, launch: launch}
}

// Run executes the workflow for one requirements document. It returns an
// error when the pipeline could not start (spawn or handshake failure) or
// the context was cancelled; a run that starts but does not produce passing
// code returns a StateFailed result carrying the best-available artifacts.
func (p *Pipeline) Run(ctx context.Context, requirements string) (*Result, error) {
	if strings.TrimSpace(requirements) == "" {
		return nil, fmt.Errorf("orchestrator: requirements text is empty")
	}
	started := time.Now()

	conns, err := p.connect(ctx)
	if err != nil {
		return nil, err
	}
	defer func() {
		for role, c := range conns {
			if cerr := c.Close(); cerr != nil {
				p.logger.Warn("endpoint close failed", zap.String("role", role), zap.Error(cerr))
			}
		}
	}()

	res := &Result{State: StateStart}
	finish := func(state State) (*Result, error) {
		res.State = state
		res.Duration = time.Since(started)
		p.logger.Info("pipeline finished",
			zap.String("state", string(state)),
			zap.Duration("duration", res.Duration))
		return res, nil
	}
	fail := func(stageErr error) (*Result, error) {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		res.Err = stageErr.Error()
		p.logger.Error("pipeline stage failed", zap.String("state", string(res.State)), zap.Error(stageErr))
		return finish(StateFailed)
	}

	// Architect: requirements to plan.
	p.transition(res, StateArchitecting)
	var archOut struct {
		Plan *agent.Plan `json:"plan"`
	}
	if err := p.call(ctx, conns[agent.RoleArchitect], "create_architecture",
		map[string]any{"requirements": requirements}, p.cfg.Timeouts.ToolCall(), &archOut); err != nil {
		return fail(err)
	}
	if archOut.Plan == nil {
		return fail(fmt.Errorf("architect returned no plan"))
	}
	res.Plan = archOut.Plan

	// Coder: plan to code.
	p.transition(res, StateCoding)
	var codeOut struct {
		Package *agent.CodePackage `json:"code_package"`
	}
	if err := p.call(ctx, conns[agent.RoleCoder], "generate_code",
		map[string]any{"plan": res.Plan}, p.cfg.Timeouts.ToolCall(), &codeOut); err != nil {
		return fail(err)
	}
	if codeOut.Package == nil || len(codeOut.Package.Files) == 0 {
		return fail(fmt.Errorf("coder returned no code package"))
	}
	res.Package = codeOut.Package

	// Tester: generate the verification artifact, then run it.
	p.transition(res, StateTesting)
	var genOut struct {
		Package  *agent.CodePackage `json:"code_package"`
		TestFile string             `json:"test_file"`
	}
	if err := p.call(ctx, conns[agent.RoleTester], "generate_tests",
		map[string]any{"code_package": res.Package}, p.cfg.Timeouts.ToolCall(), &genOut); err != nil {
		return fail(err)
	}
	if genOut.Package == nil || genOut.TestFile == "" {
		return fail(fmt.Errorf("tester returned no verification artifact"))
	}
	res.Package = genOut.Package
	res.TestFile = genOut.TestFile

	var runOut struct {
		Outcome *agent.TestOutcome `json:"test_outcome"`
	}
	if err := p.call(ctx, conns[agent.RoleTester], "run_tests",
		map[string]any{"test_file": res.TestFile}, p.cfg.Timeouts.ToolCall(), &runOut); err != nil {
		return fail(err)
	}
	if runOut.Outcome == nil {
		return fail(fmt.Errorf("tester returned no test outcome"))
	}
	res.Outcome = runOut.Outcome

	if res.Outcome.Passed {
		return finish(StateDone)
	}

	// Debugger: exactly one bounded fix call. Its internal refinement loop
	// is the retry budget; the pipeline never calls it twice.
	p.transition(res, StateDebugging)
	var fixOut struct {
		Report *agent.DebugReport `json:"debug_report"`
	}
	if err := p.call(ctx, conns[agent.RoleDebugger], "fix_code", map[string]any{
		"code_package":    res.Package,
		"test_outcome":    res.Outcome,
		"test_file":       res.TestFile,
		"failure_summary": failureSummary(res.Outcome),
	}, p.cfg.Timeouts.DebugCall(), &fixOut); err != nil {
		return fail(err)
	}
	if fixOut.Report == nil {
		return fail(fmt.Errorf("debugger returned no report"))
	}
	res.Report = fixOut.Report
	if fixOut.Report.Package != nil {
		res.Package = fixOut.Report.Package
	}
	if fixOut.Report.Outcome != nil {
		res.Outcome = fixOut.Report.Outcome
	}

	if fixOut.Report.Success {
		return finish(StateDone)
	}
	return fail(fmt.Errorf("refinement exhausted after %d attempts", len(fixOut.Report.Attempts)))
}

// connect spawns every role and completes its handshake. Any failure closes
// whatever already started; a pipeline with a missing agent cannot run.
func (p *Pipeline) connect(ctx context.Context) (map[string]conn, error) {
	conns := make(map[string]conn, len(agent.Roles()))
	closeAll := func() {
		for _, c := range conns {
			_ = c.Close()
		}
	}

	for _, role := range agent.Roles() {
		c, err := p.launch(role)
		if err != nil {
			closeAll()
			return nil, fmt.Errorf("orchestrator: starting %s endpoint: %w", role, err)
		}
		conns[role] = c

		hctx, cancel := context.WithTimeout(ctx, p.cfg.Timeouts.Startup())
		info, err := c.Initialize(hctx)
		cancel()
		if err != nil {
			closeAll()
			return nil, fmt.Errorf("orchestrator: %s handshake: %w", role, err)
		}
		p.logger.Info("endpoint ready",
			zap.String("role", role),
			zap.String("server", info.ServerInfo.Name),
			zap.String("version", info.ServerInfo.Version))

		if p.Verbose {
			lctx, lcancel := context.WithTimeout(ctx, p.cfg.Timeouts.Startup())
			tools, err := c.ListTools(lctx)
			lcancel()
			if err != nil {
				closeAll()
				return nil, fmt.Errorf("orchestrator: listing %s tools: %w", role, err)
			}
			for _, tool := range tools {
				p.logger.Info("endpoint tool",
					zap.String("role", role), zap.String("tool", tool.Name))
			}
		}
	}
	return conns, nil
}

// call invokes one tool with a per-call deadline and decodes its JSON text
// payload into out.
func (p *Pipeline) call(ctx context.Context, c conn, tool string, args any, timeout time.Duration, out any) error {
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	text, err := c.CallTool(cctx, tool, args)
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(text), out); err != nil {
		return fmt.Errorf("decoding %s result: %w", tool, err)
	}
	return nil
}

func (p *Pipeline) transition(res *Result, next State) {
	p.logger.Info("pipeline state",
		zap.String("from", string(res.State)), zap.String("to", string(next)))
	res.State = next
}

// failureSummary condenses a failing outcome into a one-liner for the fix
// request: the last non-empty output line, which for pytest is the summary.
func failureSummary(outcome *agent.TestOutcome) string {
	lines := strings.Split(strings.TrimSpace(outcome.CombinedOutput()), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if line := strings.TrimSpace(lines[i]); line != "" {
			return line
		}
	}
	if outcome.ExitCode != 0 {
		return fmt.Sprintf("tests exited with code %d", outcome.ExitCode)
	}
	return "tests timed out"
}
