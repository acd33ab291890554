package endpoint

import (
	"context"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/forged/internal/agent"
)

// ===== ARCHITECT =====

type createArchitectureInput struct {
	Requirements string `json:"requirements" jsonschema:"required,Plain-text requirements for the program to build"`
}

type createArchitectureOutput struct {
	Plan *agent.Plan `json:"plan" jsonschema:"Architecture plan for the coder to implement"`
}

func (s *Server) registerArchitect(a *agent.Architect) {
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "create_architecture",
		Description: "Design a program architecture from requirements. Returns a plan with components, a file plan, and an implementation order.",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args createArchitectureInput) (*mcp.CallToolResult, createArchitectureOutput, error) {
		if args.Requirements == "" {
			return nil, createArchitectureOutput{}, fmt.Errorf("requirements must not be empty")
		}

		plan, err := a.CreateArchitecture(ctx, args.Requirements)
		if err != nil {
			return nil, createArchitectureOutput{}, err
		}
		s.flushUsage()

		s.logger.Info("create_architecture served",
			zap.Int("components", len(plan.Components)),
			zap.Bool("fallback", plan.Fallback))
		return nil, createArchitectureOutput{Plan: plan}, nil
	})
}

// ===== CODER =====

type generateCodeInput struct {
	Plan *agent.Plan `json:"plan" jsonschema:"required,Architecture plan produced by create_architecture"`
}

type generateCodeOutput struct {
	Package *agent.CodePackage `json:"code_package" jsonschema:"Generated source files with workspace identity"`
}

func (s *Server) registerCoder(c *agent.Coder) {
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "generate_code",
		Description: "Implement an architecture plan. Returns a complete code package whose entry point is main.py.",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args generateCodeInput) (*mcp.CallToolResult, generateCodeOutput, error) {
		if args.Plan == nil {
			return nil, generateCodeOutput{}, fmt.Errorf("plan must not be empty")
		}

		pkg, err := c.GenerateCode(ctx, args.Plan)
		if err != nil {
			return nil, generateCodeOutput{}, err
		}
		s.flushUsage()

		s.logger.Info("generate_code served",
			zap.String("workspace", pkg.WorkspaceID),
			zap.Int("files", len(pkg.Files)))
		return nil, generateCodeOutput{Package: pkg}, nil
	})
}

// ===== TESTER =====

type generateTestsInput struct {
	Package *agent.CodePackage `json:"code_package" jsonschema:"required,Code package to generate tests for"`
}

type generateTestsOutput struct {
	Package  *agent.CodePackage `json:"code_package" jsonschema:"Input package augmented with the test file"`
	TestFile string             `json:"test_file" jsonschema:"Filename of the generated test file"`
}

type runTestsInput struct {
	TestFile string `json:"test_file,omitempty" jsonschema:"Test file to run; defaults to the one generate_tests produced"`
}

type runTestsOutput struct {
	Outcome *agent.TestOutcome `json:"test_outcome" jsonschema:"Result of the test run"`
}

func (s *Server) registerTester(t *agent.Tester) {
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "generate_tests",
		Description: "Generate a pytest test file for a code package and stage the augmented package for execution.",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args generateTestsInput) (*mcp.CallToolResult, generateTestsOutput, error) {
		if args.Package == nil || len(args.Package.Files) == 0 {
			return nil, generateTestsOutput{}, fmt.Errorf("code_package must not be empty")
		}

		artifact, err := t.GenerateTests(ctx, args.Package)
		if err != nil {
			return nil, generateTestsOutput{}, err
		}
		s.flushUsage()

		s.logger.Info("generate_tests served", zap.String("test_file", artifact.TestFile))
		return nil, generateTestsOutput{Package: artifact.Package, TestFile: artifact.TestFile}, nil
	})

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "run_tests",
		Description: "Execute the staged test file and report pass/fail with captured output.",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args runTestsInput) (*mcp.CallToolResult, runTestsOutput, error) {
		outcome, err := t.RunTests(ctx, args.TestFile)
		if err != nil {
			return nil, runTestsOutput{}, err
		}

		s.logger.Info("run_tests served", zap.Bool("passed", outcome.Passed))
		return nil, runTestsOutput{Outcome: outcome}, nil
	})
}

// ===== DEBUGGER =====

type fixCodeInput struct {
	Package        *agent.CodePackage `json:"code_package" jsonschema:"required,Failing code package"`
	Outcome        *agent.TestOutcome `json:"test_outcome" jsonschema:"required,Failing test outcome that triggered the fix"`
	TestFile       string             `json:"test_file" jsonschema:"required,Test file to verify fixes against"`
	FailureSummary string             `json:"failure_summary,omitempty" jsonschema:"Optional one-line failure description"`
}

type fixCodeOutput struct {
	Report *agent.DebugReport `json:"debug_report" jsonschema:"Attempt-by-attempt refinement record with the final package"`
}

func (s *Server) registerDebugger(d *agent.Debugger) {
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "fix_code",
		Description: "Iteratively fix a failing code package, re-running its tests after each proposed fix until they pass or the attempt cap is reached.",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args fixCodeInput) (*mcp.CallToolResult, fixCodeOutput, error) {
		request := &agent.FixRequest{
			Package:        args.Package,
			Outcome:        args.Outcome,
			TestFile:       args.TestFile,
			FailureSummary: args.FailureSummary,
		}

		report, err := d.Fix(ctx, request)
		if err != nil {
			s.flushUsage()
			return nil, fixCodeOutput{}, err
		}
		s.flushUsage()

		s.logger.Info("fix_code served",
			zap.Bool("success", report.Success),
			zap.Int("attempts", len(report.Attempts)))
		return nil, fixCodeOutput{Report: report}, nil
	})
}
