// Package logging builds the process logger.
//
// Every binary in this system logs through Zap to stderr, never stdout:
// stdout belongs to the MCP protocol, and a single stray log line there
// corrupts the wire stream for the parent process.
package logging

import (
	"fmt"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds logger settings.
type Config struct {
	// Level is the minimum level: debug, info, warn, error.
	Level string `koanf:"level"`

	// Format selects the encoder: "json" or "console".
	Format string `koanf:"format"`
}

// DefaultConfig returns production-ish defaults: info-level JSON.
func DefaultConfig() Config {
	return Config{Level: "info", Format: "json"}
}

// New creates a stderr-only logger from config. The name becomes the logger
// name, which in this system is the agent role or binary name.
func New(cfg Config, name string) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
	}

	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.TimeKey = "ts"
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	var encoder zapcore.Encoder
	if cfg.Format == "console" {
		encoder = zapcore.NewConsoleEncoder(encoderCfg)
	} else {
		encoder = zapcore.NewJSONEncoder(encoderCfg)
	}

	core := zapcore.NewCore(encoder, zapcore.Lock(os.Stderr), level)
	return zap.New(core).Named(name), nil
}
