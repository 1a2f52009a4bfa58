package retry

import (
	"testing"
	"time"
)

func TestDelayFamilies(t *testing.T) {
	tests := []struct {
		name     string
		strategy Strategy
		attempt  int
		base     time.Duration
		max      time.Duration
		want     time.Duration
	}{
		// Exponential, base=30s max=300s: attempts 1..5 -> 30,60,120,240,300
		{"exp attempt 1", Exponential, 1, 30 * time.Second, 300 * time.Second, 30 * time.Second},
		{"exp attempt 2", Exponential, 2, 30 * time.Second, 300 * time.Second, 60 * time.Second},
		{"exp attempt 3", Exponential, 3, 30 * time.Second, 300 * time.Second, 120 * time.Second},
		{"exp attempt 4", Exponential, 4, 30 * time.Second, 300 * time.Second, 240 * time.Second},
		{"exp attempt 5", Exponential, 5, 30 * time.Second, 300 * time.Second, 300 * time.Second},
		{"exp far past cap", Exponential, 50, 30 * time.Second, 300 * time.Second, 300 * time.Second},

		{"linear attempt 1", Linear, 1, 10 * time.Second, 60 * time.Second, 10 * time.Second},
		{"linear attempt 4", Linear, 4, 10 * time.Second, 60 * time.Second, 40 * time.Second},
		{"linear capped", Linear, 10, 10 * time.Second, 60 * time.Second, 60 * time.Second},

		{"fixed attempt 1", Fixed, 1, 15 * time.Second, 60 * time.Second, 15 * time.Second},
		{"fixed attempt 9", Fixed, 9, 15 * time.Second, 60 * time.Second, 15 * time.Second},

		{"attempt below 1 clamps", Exponential, 0, 30 * time.Second, 300 * time.Second, 30 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Delay(tt.strategy, tt.attempt, tt.base, tt.max)
			if got != tt.want {
				t.Errorf("Delay(%s, %d) = %v, want %v", tt.strategy, tt.attempt, got, tt.want)
			}
		})
	}
}

// TestDelayIdempotent verifies re-evaluation yields identical delays.
func TestDelayIdempotent(t *testing.T) {
	for attempt := 1; attempt <= 10; attempt++ {
		first := Delay(Exponential, attempt, 30*time.Second, 300*time.Second)
		for i := 0; i < 5; i++ {
			if again := Delay(Exponential, attempt, 30*time.Second, 300*time.Second); again != first {
				t.Fatalf("attempt %d: delay changed between evaluations: %v vs %v", attempt, first, again)
			}
		}
	}
}

func TestControllerDecide(t *testing.T) {
	ctrl, err := NewController(Policy{
		MaxAttempts: 3,
		Strategy:    Exponential,
		Base:        30 * time.Second,
		Max:         300 * time.Second,
	})
	if err != nil {
		t.Fatalf("NewController: %v", err)
	}

	// First failure waits the base delay, not the second step.
	d := ctrl.Decide(1)
	if !d.Retry || d.Delay != 30*time.Second {
		t.Errorf("Decide(1) = %+v, want retry in 30s", d)
	}
	d = ctrl.Decide(2)
	if !d.Retry || d.Delay != 60*time.Second {
		t.Errorf("Decide(2) = %+v, want retry in 60s", d)
	}

	// A ceiling of 3 grants three retries; the fourth failure blocks.
	d = ctrl.Decide(3)
	if !d.Retry || d.Delay != 120*time.Second {
		t.Errorf("Decide(3) = %+v, want a third retry in 120s", d)
	}
	d = ctrl.Decide(4)
	if d.Retry {
		t.Errorf("Decide(4) = %+v, want give up past ceiling", d)
	}
	d = ctrl.Decide(7)
	if d.Retry {
		t.Errorf("Decide(7) = %+v, want give up past ceiling", d)
	}
}

func TestControllerZeroAttemptsNeverRetries(t *testing.T) {
	ctrl, err := NewController(Policy{MaxAttempts: 0, Strategy: Fixed, Base: time.Second, Max: time.Second})
	if err != nil {
		t.Fatalf("NewController: %v", err)
	}
	if d := ctrl.Decide(1); d.Retry {
		t.Errorf("Decide(1) = %+v, want give up with MaxAttempts=0", d)
	}
}

func TestNewControllerRejectsBadPolicy(t *testing.T) {
	bad := []Policy{
		{MaxAttempts: 3, Strategy: "quadratic", Base: time.Second, Max: time.Minute},
		{MaxAttempts: 3, Strategy: Fixed, Base: 0, Max: time.Minute},
		{MaxAttempts: 3, Strategy: Fixed, Base: time.Minute, Max: time.Second},
	}
	for i, policy := range bad {
		if _, err := NewController(policy); err == nil {
			t.Errorf("policy %d should be rejected: %+v", i, policy)
		}
	}
}
