// Package gates runs the post-merge quality pipeline: a configured sequence
// of shell commands whose outcomes decide whether a level's merged result
// stands.
package gates

import (
	"context"
	"errors"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/swarm-dev/swarm/internal/config"
	"github.com/swarm-dev/swarm/internal/logging"
)

// Status classifies one gate's outcome.
type Status string

const (
	StatusPass    Status = "pass"
	StatusFail    Status = "fail"
	StatusSkip    Status = "skip"    // Gate has no command configured
	StatusTimeout Status = "timeout" // Command exceeded its window
	StatusError   Status = "error"   // Command could not be run at all
)

// Result is the outcome of one gate.
type Result struct {
	Gate     string
	Status   Status
	Required bool
	Output   string        // Combined stdout and stderr, kept for the audit trail
	Coverage *float64      // Parsed coverage percentage, when the gate has a threshold
	Duration time.Duration
}

// Blocking reports whether this result should fail the level. Only
// required gates block, and only on fail, timeout, or error. A skip never
// blocks even when the gate is required: an empty command means the gate
// is declared but not wired yet, and the shipped defaults rely on that.
func (r Result) Blocking() bool {
	return r.Required && r.Status != StatusPass && r.Status != StatusSkip
}

// Runner executes quality gates in a working directory.
type Runner struct {
	dir string
	log *logging.Logger
}

// NewRunner creates a gate runner executing commands in dir.
func NewRunner(dir string, log *logging.Logger) *Runner {
	return &Runner{dir: dir, log: log}
}

// Run executes a single gate. Commands run through the shell so pipelines
// and && chains in gate config work as written.
func (r *Runner) Run(ctx context.Context, gate config.GateConfig) Result {
	result := Result{Gate: gate.Name, Required: gate.Required}

	if strings.TrimSpace(gate.Command) == "" {
		result.Status = StatusSkip
		return result
	}

	timeout := time.Duration(gate.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 300 * time.Second
	}
	gateCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	started := time.Now()
	cmd := exec.CommandContext(gateCtx, "sh", "-c", gate.Command)
	cmd.Dir = r.dir
	output, err := cmd.CombinedOutput()
	result.Duration = time.Since(started)
	result.Output = string(output)

	switch {
	case errors.Is(gateCtx.Err(), context.DeadlineExceeded):
		result.Status = StatusTimeout
	case err == nil:
		result.Status = StatusPass
	default:
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.Status = StatusFail
		} else {
			result.Status = StatusError
		}
	}

	if gate.CoverageThreshold != nil && result.Status == StatusPass {
		r.applyCoverageThreshold(gate, &result)
	}

	r.log.Info("gate finished",
		"gate", gate.Name, "status", string(result.Status),
		"required", gate.Required, "duration", result.Duration.String())
	return result
}

// applyCoverageThreshold downgrades a passing gate to a failure when the
// reported coverage is below the configured threshold.
func (r *Runner) applyCoverageThreshold(gate config.GateConfig, result *Result) {
	coverage, ok := parseCoverage(result.Output)
	if !ok {
		// The command passed but printed nothing parseable. Treat as a
		// failure when required; a silent pass would hide a broken gate.
		result.Status = StatusError
		return
	}
	result.Coverage = &coverage
	if coverage < *gate.CoverageThreshold {
		result.Status = StatusFail
	}
}

var coveragePattern = regexp.MustCompile(`(\d+(?:\.\d+)?)%`)

// parseCoverage extracts the last percentage figure from gate output.
// Tools print the total last ("coverage: 82.4% of statements").
func parseCoverage(output string) (float64, bool) {
	matches := coveragePattern.FindAllStringSubmatch(output, -1)
	if len(matches) == 0 {
		return 0, false
	}
	value, err := strconv.ParseFloat(matches[len(matches)-1][1], 64)
	if err != nil {
		return 0, false
	}
	return value, true
}

// RunRetried runs a gate, re-running non-passing results up to the gate's
// configured extra attempts with fixed one second spacing. Timeouts are not
// retried; a command that exceeded its window once will again.
func (r *Runner) RunRetried(ctx context.Context, gate config.GateConfig) Result {
	result := r.Run(ctx, gate)
	for attempt := 0; attempt < gate.RetryAttempts; attempt++ {
		if result.Status == StatusPass || result.Status == StatusSkip || result.Status == StatusTimeout {
			break
		}
		select {
		case <-ctx.Done():
			return result
		case <-time.After(time.Second):
		}
		result = r.Run(ctx, gate)
	}
	return result
}

// RunAll executes every configured gate in order. The pipeline never stops
// early: optional gates after a required failure still run, so one report
// covers the whole suite.
func (r *Runner) RunAll(ctx context.Context, gates []config.GateConfig) []Result {
	results := make([]Result, 0, len(gates))
	for _, gate := range gates {
		if err := ctx.Err(); err != nil {
			results = append(results, Result{Gate: gate.Name, Required: gate.Required, Status: StatusError, Output: err.Error()})
			continue
		}
		results = append(results, r.RunRetried(ctx, gate))
	}
	return results
}

// FirstBlocking returns the first result that fails the level, if any.
func FirstBlocking(results []Result) (Result, bool) {
	for _, result := range results {
		if result.Blocking() {
			return result, true
		}
	}
	return Result{}, false
}
