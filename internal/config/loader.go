package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

// Load reads configuration with the usual precedence, highest first:
//
//  1. FORGED_* environment variables
//  2. YAML config file (if configPath is non-empty and the file exists)
//  3. Hardcoded defaults
//
// Environment variables map section-first with an underscore separator:
//
//	FORGED_LLM_BASE_URL      -> llm.base_url
//	FORGED_DEBUG_MAX_ATTEMPTS -> debug.max_attempts
//	FORGED_LOG_LEVEL         -> log.level
func Load(configPath string) (*Config, error) {
	k := koanf.New(".")

	if configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			content, err := os.ReadFile(configPath)
			if err != nil {
				return nil, fmt.Errorf("reading config file %s: %w", configPath, err)
			}
			if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
				return nil, fmt.Errorf("parsing config file %s: %w", configPath, err)
			}
		}
	}

	if err := k.Load(env.Provider("FORGED_", ".", func(s string) string {
		// FORGED_LLM_BASE_URL -> llm.base_url: first underscore separates
		// section from field, the rest stay underscores.
		lower := strings.ToLower(strings.TrimPrefix(s, "FORGED_"))
		parts := strings.SplitN(lower, "_", 2)
		if len(parts) == 1 {
			return lower
		}
		return parts[0] + "." + parts[1]
	}), nil); err != nil {
		return nil, fmt.Errorf("loading environment variables: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return &cfg, nil
}
