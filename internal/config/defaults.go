package config

// DefaultConfig returns the built-in configuration.
// Every field can be overridden by the global or project config file.
func DefaultConfig() *Config {
	return &Config{
		Workers: WorkersConfig{
			MaxConcurrent:      5,
			TimeoutMinutes:     10,
			RetryAttempts:      3,
			BackoffStrategy:    "exponential",
			BackoffBaseSeconds: 30,
			BackoffMaxSeconds:  300,
			StrictLevels:       false,
		},
		Ports: PortsConfig{
			RangeStart: 42000,
			RangeEnd:   42999,
			PerWorker:  10,
		},
		Resources: ResourcesConfig{
			CPUs:     2,
			MemoryMB: 4096,
			DiskGB:   10,
		},
		Launcher: LauncherConfig{
			Mode:           "auto",
			Command:        "swarm-worker",
			ContainerImage: "swarm-worker",
			Network:        "swarm",
			GraceSeconds:   30,
		},
		Merge: MergeConfig{
			RetryAttempts: 3,
			TargetBranch:  "main",
		},
		Gates: []GateConfig{
			{Name: "tests", Command: "", Required: true, TimeoutSeconds: 300},
		},
		Logging: LoggingConfig{
			Level: "INFO",
		},
		PollIntervalSeconds: 2,
	}
}
