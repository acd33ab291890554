// Package runner is the execution collaborator: it stages generated files
// into a workspace directory and runs them, or their verification artifact,
// under a timeout.
//
// The workspace is fully replaced on every stage, never patched in place, so
// a stale file from a previous stage can't contaminate a verification run.
package runner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/forged/internal/config"
)

// ExecResult is the outcome of one execution.
type ExecResult struct {
	ExitCode int           `json:"exit_code"`
	Stdout   string        `json:"stdout"`
	Stderr   string        `json:"stderr"`
	Duration time.Duration `json:"duration"`
	TimedOut bool          `json:"timed_out,omitempty"`
}

// Runner executes staged files. Implementations beyond the local one (a
// container, a remote sandbox) satisfy the same contract.
type Runner interface {
	// Stage replaces the workspace contents with exactly these files.
	Stage(files map[string]string) error

	// Execute stages the files and runs the entry point.
	Execute(ctx context.Context, files map[string]string, entryPoint string, timeout time.Duration) (*ExecResult, error)

	// RunVerification runs the named verification artifact against the
	// currently staged files.
	RunVerification(ctx context.Context, testFile string, timeout time.Duration) (*ExecResult, error)

	// Reset discards every file belonging to the current logical project.
	Reset() error
}

// Local runs code in a directory on this machine with the configured
// runtime. Not a security sandbox; hardening the execution environment is a
// deployment concern, not this package's.
type Local struct {
	dir         string
	command     string
	verifyFlags []string
	logger      *zap.Logger
}

var _ Runner = (*Local)(nil)

// NewLocal creates a runner whose workspace lives under cfg.WorkspaceRoot in
// a directory named by the project identifier.
func NewLocal(cfg config.RunnerConfig, project string, logger *zap.Logger) (*Local, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if project == "" {
		return nil, fmt.Errorf("runner: project identifier required")
	}
	dir := filepath.Join(cfg.WorkspaceRoot, project)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("runner: creating workspace %s: %w", dir, err)
	}
	return &Local{
		dir:         dir,
		command:     cfg.Command,
		verifyFlags: cfg.VerifyFlags,
		logger:      logger,
	}, nil
}

// Dir returns the workspace directory.
func (l *Local) Dir() string { return l.dir }

// Stage wipes the workspace and writes the given files. Filenames must stay
// inside the workspace; anything with a path escape is rejected.
func (l *Local) Stage(files map[string]string) error {
	if err := l.Reset(); err != nil {
		return err
	}
	for name, content := range files {
		if !filepath.IsLocal(name) {
			return fmt.Errorf("runner: refusing to write file outside workspace: %q", name)
		}
		path := filepath.Join(l.dir, name)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return fmt.Errorf("runner: creating directory for %s: %w", name, err)
		}
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			return fmt.Errorf("runner: writing %s: %w", name, err)
		}
	}
	l.logger.Debug("staged workspace", zap.String("dir", l.dir), zap.Int("files", len(files)))
	return nil
}

// Execute stages the files and runs `<command> <entryPoint>` in the
// workspace. A non-zero exit or a timeout is reported in the result, not as
// an error; errors mean the run could not be attempted at all.
func (l *Local) Execute(ctx context.Context, files map[string]string, entryPoint string, timeout time.Duration) (*ExecResult, error) {
	if err := l.Stage(files); err != nil {
		return nil, err
	}
	if _, ok := files[entryPoint]; !ok {
		return nil, fmt.Errorf("runner: entry point %q not among staged files", entryPoint)
	}
	return l.run(ctx, timeout, l.command, entryPoint)
}

// RunVerification runs the verification artifact with the configured verify
// flags, e.g. `python3 -m pytest -q test_main.py`.
func (l *Local) RunVerification(ctx context.Context, testFile string, timeout time.Duration) (*ExecResult, error) {
	if !filepath.IsLocal(testFile) {
		return nil, fmt.Errorf("runner: invalid verification artifact name: %q", testFile)
	}
	if _, err := os.Stat(filepath.Join(l.dir, testFile)); err != nil {
		return nil, fmt.Errorf("runner: verification artifact %s: %w", testFile, err)
	}
	args := append(append([]string{}, l.verifyFlags...), testFile)
	return l.run(ctx, timeout, l.command, args...)
}

// Reset empties the workspace directory.
func (l *Local) Reset() error {
	if err := os.RemoveAll(l.dir); err != nil {
		return fmt.Errorf("runner: clearing workspace: %w", err)
	}
	if err := os.MkdirAll(l.dir, 0o755); err != nil {
		return fmt.Errorf("runner: recreating workspace: %w", err)
	}
	return nil
}

func (l *Local) run(ctx context.Context, timeout time.Duration, command string, args ...string) (*ExecResult, error) {
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, command, args...)
	cmd.Dir = l.dir

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	result := &ExecResult{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
	}

	switch {
	case err == nil:
		result.ExitCode = 0
	case runCtx.Err() != nil:
		result.ExitCode = -1
		result.TimedOut = true
	default:
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
		} else {
			return nil, fmt.Errorf("runner: running %s: %w", command, err)
		}
	}

	l.logger.Debug("executed",
		zap.String("command", command),
		zap.Strings("args", args),
		zap.Int("exit_code", result.ExitCode),
		zap.Duration("duration", result.Duration),
		zap.Bool("timed_out", result.TimedOut))
	return result, nil
}
