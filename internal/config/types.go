package config

// WorkersConfig controls the worker fleet and retry behavior.
type WorkersConfig struct {
	MaxConcurrent      int    `json:"max_concurrent"`       // Maximum workers running at once
	TimeoutMinutes     int    `json:"timeout_minutes"`      // Staleness timeout: no state update within this window means the worker is dead
	RetryAttempts      int    `json:"retry_attempts"`       // Attempt ceiling per task before it is blocked
	BackoffStrategy    string `json:"backoff_strategy"`     // "exponential", "linear", or "fixed"
	BackoffBaseSeconds int    `json:"backoff_base_seconds"` // Base delay for the backoff family
	BackoffMaxSeconds  int    `json:"backoff_max_seconds"`  // Delay ceiling
	StrictLevels       bool   `json:"strict_levels"`        // Fail a level outright when it contains blocked tasks
}

// PortsConfig defines the port range subprocess workers draw from.
// Each worker receives a contiguous block of PerWorker ports.
type PortsConfig struct {
	RangeStart int `json:"range_start"`
	RangeEnd   int `json:"range_end"`
	PerWorker  int `json:"per_worker"`
}

// ResourcesConfig defines per-worker resource limits.
// Enforced for container workers; best-effort monitoring only for subprocesses.
type ResourcesConfig struct {
	CPUs     float64 `json:"cpus"`
	MemoryMB int     `json:"memory_mb"`
	DiskGB   int     `json:"disk_gb"`
}

// LauncherConfig selects and parameterizes the worker launcher.
type LauncherConfig struct {
	Mode           string `json:"mode"`            // "subprocess", "container", or "auto"
	Command        string `json:"command"`         // Worker binary for subprocess mode
	ContainerImage string `json:"container_image"` // Image for container mode
	Network        string `json:"network"`         // Container network name
	GraceSeconds   int    `json:"grace_seconds"`   // Graceful-stop window before forced termination
}

// GateConfig defines one quality gate in the post-merge pipeline.
type GateConfig struct {
	Name              string   `json:"name"`
	Command           string   `json:"command"`
	Required          bool     `json:"required"`
	TimeoutSeconds    int      `json:"timeout_seconds"`
	RetryAttempts     int      `json:"retry_attempts"`               // Extra attempts for flaky commands, fixed 1s spacing
	CoverageThreshold *float64 `json:"coverage_threshold,omitempty"` // Minimum coverage percentage, nil disables the comparison
}

// MergeConfig controls level integration behavior.
type MergeConfig struct {
	RetryAttempts int    `json:"retry_attempts"` // Bounded retries per conflicting branch before the level fails
	TargetBranch  string `json:"target_branch"`  // Integration branch worker branches merge into
}

// LoggingConfig controls structured log output.
type LoggingConfig struct {
	Level string `json:"level"` // DEBUG, INFO, WARN, ERROR
	Dir   string `json:"dir"`   // Log directory; empty logs to stderr
}

// Config is the top-level swarm configuration.
type Config struct {
	Workers             WorkersConfig   `json:"workers"`
	Ports               PortsConfig     `json:"ports"`
	Resources           ResourcesConfig `json:"resources"`
	Launcher            LauncherConfig  `json:"launcher"`
	Merge               MergeConfig     `json:"merge"`
	Gates               []GateConfig    `json:"gates"`
	Logging             LoggingConfig   `json:"logging"`
	PollIntervalSeconds int             `json:"poll_interval_seconds"`
}
