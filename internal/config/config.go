// Package config provides configuration loading for forged.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/fyrsmithlabs/forged/internal/logging"
)

// Config is the full configuration shared by the endpoint binary and the
// orchestrator CLI.
type Config struct {
	LLM      LLMConfig     `koanf:"llm"`
	Runner   RunnerConfig  `koanf:"runner"`
	Ledger   LedgerConfig  `koanf:"ledger"`
	Debug    DebugConfig   `koanf:"debug"`
	Timeouts TimeoutConfig `koanf:"timeouts"`
	Log      LogConfig     `koanf:"log"`
}

// LLMConfig configures the language-model backend. Any OpenAI-compatible
// endpoint works; point base_url at a local gateway for offline use.
type LLMConfig struct {
	BaseURL     string  `koanf:"base_url"`
	Model       string  `koanf:"model"`
	APIKey      string  `koanf:"api_key"`
	Temperature float64 `koanf:"temperature"`
}

// RunnerConfig configures the execution collaborator that runs generated
// code and its verification artifact.
type RunnerConfig struct {
	// WorkspaceRoot is where per-project workspaces are created.
	WorkspaceRoot string `koanf:"workspace_root"`

	// Command is the runtime that executes generated files (e.g. "python3").
	Command string `koanf:"command"`

	// VerifyFlags are inserted between Command and the verification artifact
	// when running tests (default: -m pytest -q).
	VerifyFlags []string `koanf:"verify_flags"`
}

// LedgerConfig configures the shared usage ledger file.
type LedgerConfig struct {
	Path string `koanf:"path"`
}

// DebugConfig bounds the debugger's iterative refinement engine.
type DebugConfig struct {
	// MaxAttempts caps internal fix attempts per debugging session.
	MaxAttempts int `koanf:"max_attempts"`

	// OutputTailChars is how much of the verification output feeds each
	// refinement prompt.
	OutputTailChars int `koanf:"output_tail_chars"`
}

// TimeoutConfig holds all call deadlines, in seconds so they round-trip
// through YAML and env without a duration parser.
type TimeoutConfig struct {
	// StartupSeconds bounds the initialize handshake after spawn.
	StartupSeconds int `koanf:"startup_seconds"`

	// ToolCallSeconds bounds ordinary tool calls (architect, coder, tester).
	ToolCallSeconds int `koanf:"tool_call_seconds"`

	// DebugCallSeconds bounds the debugger call, which runs a whole
	// refinement session inside one RPC and needs far more headroom.
	DebugCallSeconds int `koanf:"debug_call_seconds"`

	// ExecSeconds bounds one execution of generated code or its tests.
	ExecSeconds int `koanf:"exec_seconds"`
}

// LogConfig mirrors logging.Config with koanf tags kept in one place.
type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// Startup returns the handshake timeout as a duration.
func (t TimeoutConfig) Startup() time.Duration { return time.Duration(t.StartupSeconds) * time.Second }

// ToolCall returns the ordinary tool-call timeout as a duration.
func (t TimeoutConfig) ToolCall() time.Duration {
	return time.Duration(t.ToolCallSeconds) * time.Second
}

// DebugCall returns the debugger tool-call timeout as a duration.
func (t TimeoutConfig) DebugCall() time.Duration {
	return time.Duration(t.DebugCallSeconds) * time.Second
}

// Exec returns the execution timeout as a duration.
func (t TimeoutConfig) Exec() time.Duration { return time.Duration(t.ExecSeconds) * time.Second }

// Logging converts to the logging package's config type.
func (l LogConfig) Logging() logging.Config { return logging.Config{Level: l.Level, Format: l.Format} }

// applyDefaults fills in zero values after file and env loading.
func applyDefaults(cfg *Config) {
	if cfg.LLM.BaseURL == "" {
		cfg.LLM.BaseURL = "https://api.openai.com/v1"
	}
	if cfg.LLM.Model == "" {
		cfg.LLM.Model = "gpt-4o-mini"
	}
	if cfg.LLM.APIKey == "" {
		cfg.LLM.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	if cfg.LLM.Temperature == 0 {
		cfg.LLM.Temperature = 0.7
	}
	if cfg.Runner.WorkspaceRoot == "" {
		cfg.Runner.WorkspaceRoot = "./workspace"
	}
	if cfg.Runner.Command == "" {
		cfg.Runner.Command = "python3"
	}
	if cfg.Runner.VerifyFlags == nil {
		cfg.Runner.VerifyFlags = []string{"-m", "pytest", "-q"}
	}
	if cfg.Ledger.Path == "" {
		cfg.Ledger.Path = "./api_usage.json"
	}
	if cfg.Debug.MaxAttempts == 0 {
		cfg.Debug.MaxAttempts = 5
	}
	if cfg.Debug.OutputTailChars == 0 {
		cfg.Debug.OutputTailChars = 4000
	}
	if cfg.Timeouts.StartupSeconds == 0 {
		cfg.Timeouts.StartupSeconds = 30
	}
	if cfg.Timeouts.ToolCallSeconds == 0 {
		cfg.Timeouts.ToolCallSeconds = 300
	}
	if cfg.Timeouts.DebugCallSeconds == 0 {
		cfg.Timeouts.DebugCallSeconds = 1800
	}
	if cfg.Timeouts.ExecSeconds == 0 {
		cfg.Timeouts.ExecSeconds = 300
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "json"
	}
}

// Validate rejects configurations the system cannot run with.
func (c *Config) Validate() error {
	if c.Debug.MaxAttempts < 1 {
		return fmt.Errorf("debug.max_attempts must be at least 1, got %d", c.Debug.MaxAttempts)
	}
	if c.Timeouts.StartupSeconds < 1 {
		return fmt.Errorf("timeouts.startup_seconds must be positive")
	}
	if c.Timeouts.ExecSeconds < 1 {
		return fmt.Errorf("timeouts.exec_seconds must be positive")
	}
	if c.Runner.Command == "" {
		return fmt.Errorf("runner.command is required")
	}
	return nil
}
