package agent

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/forged/internal/config"
	"github.com/fyrsmithlabs/forged/internal/llm"
	"github.com/fyrsmithlabs/forged/internal/runner"
	"github.com/fyrsmithlabs/forged/internal/usage"
)

// Debugger runs the iterative refinement engine: up to MaxAttempts internal
// fix cycles inside a single tool call, each one prompted with the rendered
// history of every earlier attempt so the backend cannot re-propose an
// approach that already failed. One call is one session; the attempt history
// belongs to the session alone and dies with it.
type Debugger struct {
	llm         llm.Client
	usage       *usage.Tracker
	runner      runner.Runner
	maxAttempts int
	outputTail  int
	execTimeout time.Duration
	logger      *zap.Logger
}

// NewDebugger wires the refinement engine to its collaborators.
func NewDebugger(client llm.Client, tracker *usage.Tracker, run runner.Runner, cfg config.DebugConfig, execTimeout time.Duration, logger *zap.Logger) *Debugger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Debugger{
		llm:         client,
		usage:       tracker,
		runner:      run,
		maxAttempts: cfg.MaxAttempts,
		outputTail:  cfg.OutputTailChars,
		execTimeout: execTimeout,
		logger:      logger,
	}
}

// Fix runs one refinement session. It returns an error only when the
// request itself is unusable or the context is cancelled; a session that
// merely fails to fix the code returns a DebugReport with Success=false,
// the full attempt history, and the best-available (last) package.
func (d *Debugger) Fix(ctx context.Context, req *FixRequest) (*DebugReport, error) {
	if req == nil || req.Package == nil || len(req.Package.Files) == 0 {
		return nil, fmt.Errorf("debugger: request has no code package")
	}
	if req.Outcome == nil {
		return nil, fmt.Errorf("debugger: request has no failing test outcome")
	}
	if req.TestFile == "" {
		return nil, fmt.Errorf("debugger: request names no verification artifact")
	}

	current := req.Package.Clone()
	latest := req.Outcome
	var attempts []sessionAttempt

	for number := 1; number <= d.maxAttempts; number++ {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("debugger: session cancelled at attempt %d: %w", number, err)
		}

		attempt := d.attempt(ctx, number, req, current, latest, attempts)
		attempts = append(attempts, attempt)

		if attempt.Package != nil {
			current = attempt.Package
		}
		if attempt.record.Outcome != nil {
			latest = attempt.record.Outcome
		}

		d.logger.Info("refinement attempt finished",
			zap.Int("attempt", number),
			zap.Bool("passed", attempt.record.Outcome != nil && attempt.record.Outcome.Passed),
			zap.String("error", attempt.record.Error))

		if attempt.record.Outcome != nil && attempt.record.Outcome.Passed {
			return &DebugReport{
				Success:  true,
				Attempts: records(attempts),
				Package:  current,
				Outcome:  latest,
			}, nil
		}
	}

	d.logger.Warn("refinement exhausted", zap.Int("attempts", d.maxAttempts))
	return &DebugReport{
		Success:  false,
		Attempts: records(attempts),
		Package:  current,
		Outcome:  latest,
	}, nil
}

// sessionAttempt pairs the durable attempt record with the candidate
// package it produced, which only the session itself needs.
type sessionAttempt struct {
	record  Attempt
	Package *CodePackage
}

func records(attempts []sessionAttempt) []Attempt {
	out := make([]Attempt, len(attempts))
	for i, a := range attempts {
		out[i] = a.record
	}
	return out
}

// attempt runs one cycle: prompt with history, parse, verify. Failures
// inside the cycle (backend error, unparseable response, runner trouble)
// become a recorded attempt with an Error, not a session abort; the next
// cycle sees them in its history and moves on.
func (d *Debugger) attempt(ctx context.Context, number int, req *FixRequest, current *CodePackage, latest *TestOutcome, prior []sessionAttempt) sessionAttempt {
	prompt := debuggerPrompt(req, current, latest, records(prior), d.outputTail)

	completion, err := d.llm.Complete(ctx, prompt)
	if err != nil {
		return sessionAttempt{record: Attempt{
			Number: number,
			Error:  fmt.Sprintf("backend: %v", err),
		}}
	}
	d.usage.TrackIteration(RoleDebugger, completion.Tokens, number)

	analysis := ParseAnalysis(completion.Text)
	files, err := ParseFiles(completion.Text)
	if err != nil {
		return sessionAttempt{record: Attempt{
			Number:   number,
			Analysis: analysis,
			Error:    fmt.Sprintf("parse: %v", err),
		}}
	}

	next := current.Clone()
	var touched []string
	for name, content := range files {
		if name == req.TestFile {
			// The fix may not rewrite the verification artifact out from
			// under itself.
			continue
		}
		next.Files[name] = content
		touched = append(touched, name)
	}
	sort.Strings(touched)
	if len(touched) == 0 {
		return sessionAttempt{record: Attempt{
			Number:   number,
			Analysis: analysis,
			Error:    "fix changed no files",
		}}
	}

	outcome, err := d.verify(ctx, next, req.TestFile)
	if err != nil {
		return sessionAttempt{record: Attempt{
			Number:       number,
			FilesTouched: touched,
			Analysis:     analysis,
			Error:        fmt.Sprintf("verification: %v", err),
		}}
	}

	return sessionAttempt{
		record: Attempt{
			Number:       number,
			FilesTouched: touched,
			Outcome:      outcome,
			Analysis:     analysis,
		},
		Package: next,
	}
}

// verify stages the candidate package and reruns the verification artifact.
// Staging is a full workspace replacement; no file from the previous attempt
// survives.
func (d *Debugger) verify(ctx context.Context, pkg *CodePackage, testFile string) (*TestOutcome, error) {
	if err := d.runner.Stage(pkg.Files); err != nil {
		return nil, err
	}
	result, err := d.runner.RunVerification(ctx, testFile, d.execTimeout)
	if err != nil {
		return nil, err
	}
	return outcomeFromExec(result), nil
}
