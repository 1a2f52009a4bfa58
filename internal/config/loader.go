package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/adrg/xdg"
)

// Load reads and merges configuration from global and project paths.
// Order of precedence (highest to lowest): project config, global config, defaults.
// Missing files are not errors; malformed JSON returns an error.
func Load(globalPath, projectPath string) (*Config, error) {
	cfg := DefaultConfig()

	if globalPath != "" {
		if err := mergeConfigFile(cfg, globalPath); err != nil {
			return nil, fmt.Errorf("loading global config: %w", err)
		}
	}

	if projectPath != "" {
		if err := mergeConfigFile(cfg, projectPath); err != nil {
			return nil, fmt.Errorf("loading project config: %w", err)
		}
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadDefault loads configuration from conventional paths.
// Global: $XDG_CONFIG_HOME/swarm/config.json
// Project: .swarm/config.json (relative to cwd)
func LoadDefault() (*Config, error) {
	globalPath := filepath.Join(xdg.ConfigHome, "swarm", "config.json")
	projectPath := filepath.Join(".swarm", "config.json")

	return Load(globalPath, projectPath)
}

// mergeConfigFile reads a JSON config file and unmarshals it over the base
// config. Fields absent from the file keep their current values; the gate
// list is replaced wholesale when present. Missing files are silently skipped.
func mergeConfigFile(base *Config, path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}

	if err := json.Unmarshal(data, base); err != nil {
		return fmt.Errorf("parsing %s: %w", path, err)
	}

	return nil
}

// validate rejects configurations the orchestrator cannot run with.
func (c *Config) validate() error {
	if c.Workers.MaxConcurrent < 1 {
		return fmt.Errorf("workers.max_concurrent must be at least 1, got %d", c.Workers.MaxConcurrent)
	}
	if c.Workers.RetryAttempts < 0 {
		return fmt.Errorf("workers.retry_attempts must not be negative, got %d", c.Workers.RetryAttempts)
	}
	switch c.Workers.BackoffStrategy {
	case "exponential", "linear", "fixed":
	default:
		return fmt.Errorf("workers.backoff_strategy must be exponential, linear, or fixed, got %q", c.Workers.BackoffStrategy)
	}
	if c.Workers.BackoffBaseSeconds <= 0 || c.Workers.BackoffMaxSeconds < c.Workers.BackoffBaseSeconds {
		return fmt.Errorf("invalid backoff window [%ds, %ds]", c.Workers.BackoffBaseSeconds, c.Workers.BackoffMaxSeconds)
	}
	if c.Merge.RetryAttempts < 0 {
		return fmt.Errorf("merge.retry_attempts must not be negative, got %d", c.Merge.RetryAttempts)
	}
	if c.Ports.PerWorker < 1 || c.Ports.RangeEnd < c.Ports.RangeStart {
		return fmt.Errorf("invalid port range %d-%d (%d per worker)", c.Ports.RangeStart, c.Ports.RangeEnd, c.Ports.PerWorker)
	}
	switch c.Launcher.Mode {
	case "subprocess", "container", "auto":
	default:
		return fmt.Errorf("launcher.mode must be subprocess, container, or auto, got %q", c.Launcher.Mode)
	}
	for _, gate := range c.Gates {
		if gate.Name == "" {
			return fmt.Errorf("quality gate with empty name")
		}
	}
	return nil
}
