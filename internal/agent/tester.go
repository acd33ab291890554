package agent

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/forged/internal/llm"
	"github.com/fyrsmithlabs/forged/internal/runner"
	"github.com/fyrsmithlabs/forged/internal/usage"
)

// DefaultTestFile is the canonical verification artifact name.
const DefaultTestFile = "test_main.py"

// Tester generates a verification artifact for a code package and executes
// it. The two operations are separate tools (generate_tests stages the
// augmented package into the runner, run_tests executes the artifact), so
// the tester keeps the staged state between the two calls. That state is
// process-local, like everything except the usage ledger.
type Tester struct {
	llm         llm.Client
	usage       *usage.Tracker
	runner      runner.Runner
	execTimeout time.Duration
	logger      *zap.Logger

	mu       sync.Mutex
	testFile string
}

// NewTester wires the tester to its collaborators.
func NewTester(client llm.Client, tracker *usage.Tracker, run runner.Runner, execTimeout time.Duration, logger *zap.Logger) *Tester {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tester{llm: client, usage: tracker, runner: run, execTimeout: execTimeout, logger: logger}
}

// GenerateTests produces the verification artifact, returns the package
// augmented with it (a new value, the input is not mutated), and stages the
// augmented package for the run_tests call that follows.
func (t *Tester) GenerateTests(ctx context.Context, pkg *CodePackage) (*TestArtifact, error) {
	if pkg == nil || len(pkg.Files) == 0 {
		return nil, fmt.Errorf("tester: code package is empty")
	}

	completion, err := t.llm.Complete(ctx, testerPrompt(pkg))
	if err != nil {
		return nil, fmt.Errorf("tester: %w", err)
	}
	t.usage.Track(RoleTester, completion.Tokens)

	files, err := ParseFiles(completion.Text)
	if err != nil {
		return nil, fmt.Errorf("tester: parsing generated tests: %w", err)
	}

	testFile, testCode, err := pickTestFile(files)
	if err != nil {
		return nil, fmt.Errorf("tester: %w", err)
	}

	augmented := pkg.Clone()
	augmented.Files[testFile] = testCode

	if err := t.runner.Stage(augmented.Files); err != nil {
		return nil, fmt.Errorf("tester: %w", err)
	}

	t.mu.Lock()
	t.testFile = testFile
	t.mu.Unlock()

	t.logger.Info("tests generated", zap.String("test_file", testFile),
		zap.Int("bytes", len(testCode)))
	return &TestArtifact{Package: augmented, TestFile: testFile}, nil
}

// RunTests executes the verification artifact against the staged files. An
// empty testFile means "the one generate_tests produced".
func (t *Tester) RunTests(ctx context.Context, testFile string) (*TestOutcome, error) {
	if testFile == "" {
		t.mu.Lock()
		testFile = t.testFile
		t.mu.Unlock()
	}
	if testFile == "" {
		return nil, fmt.Errorf("tester: no verification artifact; call generate_tests first")
	}

	result, err := t.runner.RunVerification(ctx, testFile, t.execTimeout)
	if err != nil {
		return nil, fmt.Errorf("tester: %w", err)
	}
	outcome := outcomeFromExec(result)
	t.logger.Info("tests executed",
		zap.Bool("passed", outcome.Passed), zap.Int("exit_code", outcome.ExitCode))
	return outcome, nil
}

// pickTestFile selects the verification artifact from parsed files: an
// explicit test_* name wins, otherwise a lone file is renamed canonically.
func pickTestFile(files map[string]string) (string, string, error) {
	var names []string
	for name := range files {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if strings.HasPrefix(name, "test_") {
			return name, files[name], nil
		}
	}
	if len(names) == 1 {
		return DefaultTestFile, files[names[0]], nil
	}
	return "", "", fmt.Errorf("no test file among %d parsed files", len(files))
}

// outcomeFromExec converts the runner's result to a TestOutcome. Pass means
// clean exit and no timeout. Report carries the run's summary line, which
// for pytest is the final "N passed"/"N failed" line.
func outcomeFromExec(result *runner.ExecResult) *TestOutcome {
	return &TestOutcome{
		ExitCode: result.ExitCode,
		Stdout:   result.Stdout,
		Stderr:   result.Stderr,
		Passed:   result.ExitCode == 0 && !result.TimedOut,
		Duration: result.Duration,
		Report:   summaryLine(result),
	}
}

// summaryLine returns the last non-empty line of the run's output, stdout
// preferred.
func summaryLine(result *runner.ExecResult) string {
	if result.TimedOut {
		return "run timed out"
	}
	for _, out := range []string{result.Stdout, result.Stderr} {
		lines := strings.Split(strings.TrimSpace(out), "\n")
		for i := len(lines) - 1; i >= 0; i-- {
			if line := strings.TrimSpace(lines[i]); line != "" {
				return line
			}
		}
	}
	return ""
}
