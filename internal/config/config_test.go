package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "python3", cfg.Runner.Command)
	assert.Equal(t, 5, cfg.Debug.MaxAttempts)
	assert.Equal(t, 30*time.Second, cfg.Timeouts.Startup())
	assert.Equal(t, 1800, cfg.Timeouts.DebugCallSeconds)
	assert.Equal(t, "./api_usage.json", cfg.Ledger.Path)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestLoadYAMLFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
llm:
  model: test-model
  base_url: http://localhost:11434/v1
debug:
  max_attempts: 3
runner:
  command: python3.12
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "test-model", cfg.LLM.Model)
	assert.Equal(t, "http://localhost:11434/v1", cfg.LLM.BaseURL)
	assert.Equal(t, 3, cfg.Debug.MaxAttempts)
	assert.Equal(t, "python3.12", cfg.Runner.Command)
	// Unset values still defaulted.
	assert.Equal(t, 5*time.Minute, cfg.Timeouts.ToolCall())
}

func TestEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("llm:\n  model: from-file\n"), 0o600))

	t.Setenv("FORGED_LLM_MODEL", "from-env")
	t.Setenv("FORGED_DEBUG_MAX_ATTEMPTS", "2")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "from-env", cfg.LLM.Model)
	assert.Equal(t, 2, cfg.Debug.MaxAttempts)
}

func TestValidateRejectsBadAttempts(t *testing.T) {
	cfg := &Config{}
	applyDefaults(cfg)
	cfg.Debug.MaxAttempts = -1
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max_attempts")
}

func TestLoadMissingFileFallsBackToDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, 5, cfg.Debug.MaxAttempts)
}
