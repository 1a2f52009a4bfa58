package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("writing config file: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("", "")
	if err != nil {
		t.Fatalf("Load with no files: %v", err)
	}

	if cfg.Workers.MaxConcurrent != 5 {
		t.Errorf("MaxConcurrent = %d, want 5", cfg.Workers.MaxConcurrent)
	}
	if cfg.Workers.BackoffStrategy != "exponential" {
		t.Errorf("BackoffStrategy = %q, want exponential", cfg.Workers.BackoffStrategy)
	}
	if cfg.Workers.BackoffBaseSeconds != 30 || cfg.Workers.BackoffMaxSeconds != 300 {
		t.Errorf("backoff window = [%d, %d], want [30, 300]", cfg.Workers.BackoffBaseSeconds, cfg.Workers.BackoffMaxSeconds)
	}
	if cfg.Launcher.Mode != "auto" {
		t.Errorf("Launcher.Mode = %q, want auto", cfg.Launcher.Mode)
	}
}

func TestLoadMissingFilesNotError(t *testing.T) {
	_, err := Load("/nonexistent/global.json", "/nonexistent/project.json")
	if err != nil {
		t.Fatalf("missing config files should not be errors: %v", err)
	}
}

func TestLoadMalformedJSON(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "config.json", "{not json")

	_, err := Load(path, "")
	if err == nil {
		t.Fatal("expected error for malformed JSON")
	}
}

func TestLoadPrecedence(t *testing.T) {
	dir := t.TempDir()
	global := writeConfig(t, dir, "global.json", `{"workers": {"max_concurrent": 8, "timeout_minutes": 20}}`)
	project := writeConfig(t, dir, "project.json", `{"workers": {"max_concurrent": 3}}`)

	cfg, err := Load(global, project)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	// Project wins over global
	if cfg.Workers.MaxConcurrent != 3 {
		t.Errorf("MaxConcurrent = %d, want 3 (project override)", cfg.Workers.MaxConcurrent)
	}
	// Global wins over defaults
	if cfg.Workers.TimeoutMinutes != 20 {
		t.Errorf("TimeoutMinutes = %d, want 20 (global override)", cfg.Workers.TimeoutMinutes)
	}
	// Untouched fields keep defaults
	if cfg.Workers.RetryAttempts != 3 {
		t.Errorf("RetryAttempts = %d, want 3 (default)", cfg.Workers.RetryAttempts)
	}
}

func TestLoadGateListReplaced(t *testing.T) {
	dir := t.TempDir()
	project := writeConfig(t, dir, "project.json",
		`{"gates": [{"name": "lint", "command": "make lint", "required": true, "timeout_seconds": 120},
		            {"name": "coverage", "command": "make cover", "required": false, "timeout_seconds": 300, "coverage_threshold": 80}]}`)

	cfg, err := Load("", project)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if len(cfg.Gates) != 2 {
		t.Fatalf("got %d gates, want 2", len(cfg.Gates))
	}
	if cfg.Gates[0].Name != "lint" || !cfg.Gates[0].Required {
		t.Errorf("first gate = %+v, want required lint", cfg.Gates[0])
	}
	if cfg.Gates[1].CoverageThreshold == nil || *cfg.Gates[1].CoverageThreshold != 80 {
		t.Errorf("coverage threshold not parsed: %+v", cfg.Gates[1])
	}
}

func TestValidateRejectsBadConfig(t *testing.T) {
	tests := []struct {
		name        string
		mutate      func(*Config)
		errContains string
	}{
		{
			name:        "zero workers",
			mutate:      func(c *Config) { c.Workers.MaxConcurrent = 0 },
			errContains: "max_concurrent",
		},
		{
			name:        "unknown backoff strategy",
			mutate:      func(c *Config) { c.Workers.BackoffStrategy = "quadratic" },
			errContains: "backoff_strategy",
		},
		{
			name:        "inverted backoff window",
			mutate:      func(c *Config) { c.Workers.BackoffBaseSeconds = 100; c.Workers.BackoffMaxSeconds = 10 },
			errContains: "backoff window",
		},
		{
			name:        "negative merge retries",
			mutate:      func(c *Config) { c.Merge.RetryAttempts = -1 },
			errContains: "merge.retry_attempts",
		},
		{
			name:        "inverted port range",
			mutate:      func(c *Config) { c.Ports.RangeStart = 5000; c.Ports.RangeEnd = 4000 },
			errContains: "port range",
		},
		{
			name:        "unknown launcher mode",
			mutate:      func(c *Config) { c.Launcher.Mode = "vm" },
			errContains: "launcher.mode",
		},
		{
			name:        "unnamed gate",
			mutate:      func(c *Config) { c.Gates = []GateConfig{{Command: "true"}} },
			errContains: "empty name",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tt.errContains) {
				t.Errorf("error %q does not mention %q", err, tt.errContains)
			}
		})
	}
}

func TestSaveRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "config.json")

	cfg := DefaultConfig()
	cfg.Workers.MaxConcurrent = 7

	if err := Save(cfg, path); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded, err := Load(path, "")
	if err != nil {
		t.Fatalf("Load after Save: %v", err)
	}
	if loaded.Workers.MaxConcurrent != 7 {
		t.Errorf("MaxConcurrent = %d, want 7", loaded.Workers.MaxConcurrent)
	}
}
