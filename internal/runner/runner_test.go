package runner

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/forged/internal/config"
)

// shRunner builds a Local that executes files with sh, so tests don't
// depend on a Python toolchain.
func shRunner(t *testing.T) *Local {
	t.Helper()
	l, err := NewLocal(config.RunnerConfig{
		WorkspaceRoot: t.TempDir(),
		Command:       "sh",
	}, "proj-test", nil)
	require.NoError(t, err)
	return l
}

func TestExecuteSuccess(t *testing.T) {
	l := shRunner(t)
	files := map[string]string{
		"main.sh": "echo hello from main\n",
		"util.sh": "echo never run\n",
	}

	result, err := l.Execute(context.Background(), files, "main.sh", 10*time.Second)
	require.NoError(t, err)
	assert.Equal(t, 0, result.ExitCode)
	assert.Contains(t, result.Stdout, "hello from main")
	assert.False(t, result.TimedOut)
}

func TestExecuteNonZeroExit(t *testing.T) {
	l := shRunner(t)
	files := map[string]string{"main.sh": "echo boom >&2\nexit 3\n"}

	result, err := l.Execute(context.Background(), files, "main.sh", 10*time.Second)
	require.NoError(t, err)
	assert.Equal(t, 3, result.ExitCode)
	assert.Contains(t, result.Stderr, "boom")
}

func TestExecuteTimeout(t *testing.T) {
	l := shRunner(t)
	files := map[string]string{"main.sh": "sleep 30\n"}

	result, err := l.Execute(context.Background(), files, "main.sh", 200*time.Millisecond)
	require.NoError(t, err)
	assert.True(t, result.TimedOut)
	assert.Equal(t, -1, result.ExitCode)
}

func TestExecuteMissingEntryPoint(t *testing.T) {
	l := shRunner(t)
	_, err := l.Execute(context.Background(), map[string]string{"a.sh": ""}, "main.sh", time.Second)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "entry point")
}

func TestStageReplacesWorkspaceCompletely(t *testing.T) {
	l := shRunner(t)
	require.NoError(t, l.Stage(map[string]string{"old.sh": "old"}))
	require.NoError(t, l.Stage(map[string]string{"new.sh": "new"}))

	_, err := os.Stat(filepath.Join(l.Dir(), "old.sh"))
	assert.True(t, os.IsNotExist(err), "stale file must not survive a re-stage")
	_, err = os.Stat(filepath.Join(l.Dir(), "new.sh"))
	assert.NoError(t, err)
}

func TestStageRejectsEscapingPaths(t *testing.T) {
	l := shRunner(t)
	err := l.Stage(map[string]string{"../escape.sh": "nope"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "outside workspace")
}

func TestRunVerification(t *testing.T) {
	l := shRunner(t)
	require.NoError(t, l.Stage(map[string]string{
		"main.sh":      "echo app\n",
		"test_main.sh": "echo 1 test passed\nexit 0\n",
	}))

	result, err := l.RunVerification(context.Background(), "test_main.sh", 10*time.Second)
	require.NoError(t, err)
	assert.Equal(t, 0, result.ExitCode)
	assert.Contains(t, result.Stdout, "test passed")
}

func TestRunVerificationMissingArtifact(t *testing.T) {
	l := shRunner(t)
	require.NoError(t, l.Stage(map[string]string{"main.sh": ""}))

	_, err := l.RunVerification(context.Background(), "test_main.sh", time.Second)
	require.Error(t, err)
}

func TestReset(t *testing.T) {
	l := shRunner(t)
	require.NoError(t, l.Stage(map[string]string{"main.sh": "x"}))
	require.NoError(t, l.Reset())

	entries, err := os.ReadDir(l.Dir())
	require.NoError(t, err)
	assert.Empty(t, entries)
}
