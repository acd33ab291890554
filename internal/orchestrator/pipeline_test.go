package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/forged/internal/agent"
	"github.com/fyrsmithlabs/forged/internal/config"
	"github.com/fyrsmithlabs/forged/pkg/mcp"
)

// fakeConn is a scripted endpoint: tool name to handler over the decoded
// arguments.
type fakeConn struct {
	role     string
	initErr  error
	tools    map[string]func(args map[string]any) (any, error)
	mu       sync.Mutex
	calls    []string
	closed   bool
}

func (f *fakeConn) Initialize(context.Context) (*mcp.InitializeResult, error) {
	if f.initErr != nil {
		return nil, f.initErr
	}
	return &mcp.InitializeResult{
		ProtocolVersion: mcp.ProtocolVersion,
		ServerInfo:      mcp.ServerInfo{Name: "forged-" + f.role, Version: "test"},
	}, nil
}

func (f *fakeConn) ListTools(context.Context) ([]mcp.Tool, error) {
	var tools []mcp.Tool
	for name := range f.tools {
		tools = append(tools, mcp.Tool{Name: name})
	}
	return tools, nil
}

func (f *fakeConn) CallTool(_ context.Context, name string, args any) (string, error) {
	f.mu.Lock()
	f.calls = append(f.calls, name)
	f.mu.Unlock()

	handler, ok := f.tools[name]
	if !ok {
		return "", &mcp.ToolError{Tool: name, Message: "unknown tool"}
	}

	blob, err := json.Marshal(args)
	if err != nil {
		return "", err
	}
	var decoded map[string]any
	if err := json.Unmarshal(blob, &decoded); err != nil {
		return "", err
	}

	out, err := handler(decoded)
	if err != nil {
		return "", err
	}
	text, err := json.Marshal(out)
	return string(text), err
}

func (f *fakeConn) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeConn) callCount(tool string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, name := range f.calls {
		if name == tool {
			n++
		}
	}
	return n
}

func testPipelineConfig() *config.Config {
	return &config.Config{
		Timeouts: config.TimeoutConfig{
			StartupSeconds:   5,
			ToolCallSeconds:  5,
			DebugCallSeconds: 10,
			ExecSeconds:      5,
		},
	}
}

func passingOutcome() *agent.TestOutcome {
	return &agent.TestOutcome{ExitCode: 0, Stdout: "3 passed", Passed: true}
}

func failingOutcome() *agent.TestOutcome {
	return &agent.TestOutcome{ExitCode: 1, Stderr: "FAILED test_main.py::test_add"}
}

// newFakeEndpoints builds the standard four scripted roles. The tester's
// run_tests replays outcomes in order; the debugger replays reports.
func newFakeEndpoints(runOutcomes []*agent.TestOutcome, reports []*agent.DebugReport) map[string]*fakeConn {
	pkg := &agent.CodePackage{
		Files:       map[string]string{"main.py": "print(1)"},
		WorkspaceID: "ws-test",
		EntryPoint:  "main.py",
	}
	runs := 0
	fixes := 0

	return map[string]*fakeConn{
		agent.RoleArchitect: {role: agent.RoleArchitect, tools: map[string]func(map[string]any) (any, error){
			"create_architecture": func(args map[string]any) (any, error) {
				if args["requirements"] == "" {
					return nil, fmt.Errorf("empty requirements")
				}
				return map[string]any{"plan": &agent.Plan{
					Components: []string{"core"},
					FilePlan:   map[string]string{"main.py": "everything"},
				}}, nil
			},
		}},
		agent.RoleCoder: {role: agent.RoleCoder, tools: map[string]func(map[string]any) (any, error){
			"generate_code": func(args map[string]any) (any, error) {
				if args["plan"] == nil {
					return nil, fmt.Errorf("no plan")
				}
				return map[string]any{"code_package": pkg}, nil
			},
		}},
		agent.RoleTester: {role: agent.RoleTester, tools: map[string]func(map[string]any) (any, error){
			"generate_tests": func(args map[string]any) (any, error) {
				augmented := pkg.Clone()
				augmented.Files["test_main.py"] = "def test_x():\n    assert True"
				return map[string]any{"code_package": augmented, "test_file": "test_main.py"}, nil
			},
			"run_tests": func(args map[string]any) (any, error) {
				outcome := runOutcomes[runs]
				runs++
				return map[string]any{"test_outcome": outcome}, nil
			},
		}},
		agent.RoleDebugger: {role: agent.RoleDebugger, tools: map[string]func(map[string]any) (any, error){
			"fix_code": func(args map[string]any) (any, error) {
				if args["test_file"] == "" {
					return nil, fmt.Errorf("no test file")
				}
				report := reports[fixes]
				fixes++
				return map[string]any{"debug_report": report}, nil
			},
		}},
	}
}

func pipelineOver(t *testing.T, endpoints map[string]*fakeConn) *Pipeline {
	t.Helper()
	return newPipelineWithLauncher(testPipelineConfig(), zap.NewNop(), func(role string) (conn, error) {
		c, ok := endpoints[role]
		if !ok {
			return nil, fmt.Errorf("no endpoint for role %s", role)
		}
		return c, nil
	})
}

func TestPipelinePassesFirstRun(t *testing.T) {
	endpoints := newFakeEndpoints([]*agent.TestOutcome{passingOutcome()}, nil)
	p := pipelineOver(t, endpoints)

	res, err := p.Run(context.Background(), "build a thing")
	require.NoError(t, err)
	assert.Equal(t, StateDone, res.State)
	assert.True(t, res.Succeeded())
	require.NotNil(t, res.Outcome)
	assert.True(t, res.Outcome.Passed)
	assert.Equal(t, "test_main.py", res.TestFile)
	assert.Contains(t, res.Package.Files, "test_main.py")

	// Never touched the debugger, closed every endpoint.
	assert.Zero(t, endpoints[agent.RoleDebugger].callCount("fix_code"))
	for role, c := range endpoints {
		assert.True(t, c.closed, role)
	}
}

func TestPipelineFailThenFix(t *testing.T) {
	fixed := &agent.CodePackage{
		Files:       map[string]string{"main.py": "print(2)", "test_main.py": "def test_x():\n    assert True"},
		WorkspaceID: "ws-test",
		EntryPoint:  "main.py",
	}
	report := &agent.DebugReport{
		Success:  true,
		Attempts: []agent.Attempt{{Number: 1}, {Number: 2, Outcome: passingOutcome()}},
		Package:  fixed,
		Outcome:  passingOutcome(),
	}
	endpoints := newFakeEndpoints([]*agent.TestOutcome{failingOutcome()}, []*agent.DebugReport{report})
	p := pipelineOver(t, endpoints)

	res, err := p.Run(context.Background(), "build a thing")
	require.NoError(t, err)
	assert.Equal(t, StateDone, res.State)
	require.NotNil(t, res.Report)
	assert.Len(t, res.Report.Attempts, 2)
	assert.Equal(t, "print(2)", res.Package.Files["main.py"])

	// Exactly one debugger invocation, however many internal attempts.
	assert.Equal(t, 1, endpoints[agent.RoleDebugger].callCount("fix_code"))
}

func TestPipelineRefinementExhausted(t *testing.T) {
	best := &agent.CodePackage{
		Files:       map[string]string{"main.py": "print(3)"},
		WorkspaceID: "ws-test",
		EntryPoint:  "main.py",
	}
	report := &agent.DebugReport{
		Success: false,
		Attempts: []agent.Attempt{
			{Number: 1, Outcome: failingOutcome()},
			{Number: 2, Outcome: failingOutcome()},
			{Number: 3, Outcome: failingOutcome()},
			{Number: 4, Outcome: failingOutcome()},
			{Number: 5, Outcome: failingOutcome()},
		},
		Package: best,
		Outcome: failingOutcome(),
	}
	endpoints := newFakeEndpoints([]*agent.TestOutcome{failingOutcome()}, []*agent.DebugReport{report})
	p := pipelineOver(t, endpoints)

	res, err := p.Run(context.Background(), "build a thing")
	require.NoError(t, err)
	assert.Equal(t, StateFailed, res.State)
	assert.False(t, res.Succeeded())
	assert.Contains(t, res.Err, "5 attempts")
	// Best-available package still comes back.
	assert.Equal(t, "print(3)", res.Package.Files["main.py"])
	assert.Equal(t, 1, endpoints[agent.RoleDebugger].callCount("fix_code"))
}

func TestPipelineHandshakeFailureAborts(t *testing.T) {
	endpoints := newFakeEndpoints([]*agent.TestOutcome{passingOutcome()}, nil)
	endpoints[agent.RoleTester].initErr = fmt.Errorf("bad protocol version")
	p := pipelineOver(t, endpoints)

	_, err := p.Run(context.Background(), "build a thing")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "tester handshake")

	// Whatever was started is torn down again.
	assert.True(t, endpoints[agent.RoleArchitect].closed)
	assert.True(t, endpoints[agent.RoleCoder].closed)
}

func TestPipelineStageErrorFailsRun(t *testing.T) {
	endpoints := newFakeEndpoints([]*agent.TestOutcome{passingOutcome()}, nil)
	endpoints[agent.RoleCoder].tools["generate_code"] = func(map[string]any) (any, error) {
		return nil, fmt.Errorf("backend unavailable")
	}
	p := pipelineOver(t, endpoints)

	res, err := p.Run(context.Background(), "build a thing")
	require.NoError(t, err)
	assert.Equal(t, StateFailed, res.State)
	assert.Contains(t, res.Err, "backend unavailable")
	// The plan from the completed stage is preserved.
	assert.NotNil(t, res.Plan)
	assert.Nil(t, res.Package)
	for role, c := range endpoints {
		assert.True(t, c.closed, role)
	}
}

func TestPipelineRejectsEmptyRequirements(t *testing.T) {
	p := pipelineOver(t, newFakeEndpoints(nil, nil))
	_, err := p.Run(context.Background(), "   ")
	require.Error(t, err)
}

func TestStateTerminal(t *testing.T) {
	assert.True(t, StateDone.Terminal())
	assert.True(t, StateFailed.Terminal())
	for _, s := range []State{StateStart, StateArchitecting, StateCoding, StateTesting, StateDebugging} {
		assert.False(t, s.Terminal())
	}
}

func TestFailureSummary(t *testing.T) {
	assert.Equal(t, "FAILED test_main.py::test_add", failureSummary(failingOutcome()))
	assert.Equal(t, "tests exited with code 2",
		failureSummary(&agent.TestOutcome{ExitCode: 2}))
	assert.Equal(t, "tests timed out",
		failureSummary(&agent.TestOutcome{ExitCode: 0}))
}
