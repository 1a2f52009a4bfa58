// Package retry decides whether failed tasks run again and how long they
// wait first. Decisions are pure functions of the attempt count and policy,
// so re-evaluating the same failure always yields the same delay; nothing
// here is persisted as a running timer.
package retry

import (
	"fmt"
	"time"
)

// Strategy names the backoff family.
type Strategy string

const (
	Exponential Strategy = "exponential"
	Linear      Strategy = "linear"
	Fixed       Strategy = "fixed"
)

// Policy is the configured retry behavior for tasks.
type Policy struct {
	MaxAttempts int // Attempt ceiling; 0 means never retry
	Strategy    Strategy
	Base        time.Duration
	Max         time.Duration
}

// Decision is the outcome of consulting the controller after a failure.
// When Retry is false the task transitions to blocked.
type Decision struct {
	Retry bool
	Delay time.Duration
}

// Controller applies a Policy to task failures.
type Controller struct {
	policy Policy
}

// NewController creates a Controller for the given policy.
func NewController(policy Policy) (*Controller, error) {
	switch policy.Strategy {
	case Exponential, Linear, Fixed:
	default:
		return nil, fmt.Errorf("unknown backoff strategy %q", policy.Strategy)
	}
	if policy.Base <= 0 {
		return nil, fmt.Errorf("backoff base must be positive, got %v", policy.Base)
	}
	if policy.Max < policy.Base {
		return nil, fmt.Errorf("backoff max %v is below base %v", policy.Max, policy.Base)
	}
	return &Controller{policy: policy}, nil
}

// Decide returns the retry decision for a task that has just failed for the
// `attempts`-th time. The first failure waits Base; the ceiling counts
// retries, so MaxAttempts=3 schedules three before giving up.
func (c *Controller) Decide(attempts int) Decision {
	if attempts < 1 || attempts > c.policy.MaxAttempts {
		return Decision{Retry: false}
	}
	return Decision{
		Retry: true,
		Delay: Delay(c.policy.Strategy, attempts, c.policy.Base, c.policy.Max),
	}
}

// Policy returns the configured policy.
func (c *Controller) Policy() Policy {
	return c.policy
}

// Delay computes the backoff before the given attempt (1-based), clamped to
// [base, max]:
//
//	exponential: min(base * 2^(attempt-1), max)
//	linear:      min(base * attempt, max)
//	fixed:       base
func Delay(strategy Strategy, attempt int, base, max time.Duration) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	var d time.Duration
	switch strategy {
	case Linear:
		d = base * time.Duration(attempt)
	case Fixed:
		d = base
	default: // Exponential
		d = base
		for i := 1; i < attempt; i++ {
			d *= 2
			if d >= max || d < 0 { // overflow guard
				d = max
				break
			}
		}
	}

	if d > max {
		d = max
	}
	if d < base {
		d = base
	}
	return d
}
