package backoff

import (
	"testing"
	"time"
)

func TestCeilingGrowsExponentially(t *testing.T) {
	policy := Policy{Base: 100 * time.Millisecond, Max: 10 * time.Second}

	tests := []struct {
		failures int
		expected time.Duration
	}{
		{0, 100 * time.Millisecond},
		{1, 200 * time.Millisecond},
		{2, 400 * time.Millisecond},
		{3, 800 * time.Millisecond},
		{7, 10 * time.Second},
		{500, 10 * time.Second},
		{-1, 100 * time.Millisecond},
	}
	for _, tt := range tests {
		if got := policy.Ceiling(tt.failures); got != tt.expected {
			t.Errorf("Ceiling(%d) = %v, want %v", tt.failures, got, tt.expected)
		}
	}
}

func TestDelayWithoutJitterEqualsCeiling(t *testing.T) {
	policy := Policy{Base: time.Second, Max: time.Minute}
	for failures := 0; failures < 10; failures++ {
		if policy.Delay(failures) != policy.Ceiling(failures) {
			t.Fatalf("expected no jitter at %d failures", failures)
		}
	}
}

func TestDelayJitterBounds(t *testing.T) {
	policy := Policy{Base: time.Second, Max: time.Hour, Jitter: 0.5}

	if got := policy.delay(2, func() float64 { return 0 }); got != 4*time.Second {
		t.Fatalf("expected lower bound 4s, got %v", got)
	}
	if got := policy.delay(2, func() float64 { return 1 }); got != 6*time.Second {
		t.Fatalf("expected upper bound 6s, got %v", got)
	}
}

func TestDelayIsNonDecreasingAndBounded(t *testing.T) {
	policy := Policy{Base: 250 * time.Millisecond, Max: 20 * time.Second, Jitter: 1}

	previous := time.Duration(0)
	for failures := 0; failures < 20; failures++ {
		// worst case: previous attempt got full jitter, this one none
		high := policy.delay(failures, func() float64 { return 1 })
		low := policy.delay(failures+1, func() float64 { return 0 })
		if low < high {
			t.Fatalf("delay decreased from %v to %v at %d failures", high, low, failures)
		}
		if high > policy.Max || low > policy.Max {
			t.Fatalf("delay exceeded max at %d failures", failures)
		}
		if low < previous {
			t.Fatalf("ceiling decreased at %d failures", failures)
		}
		previous = low
	}
}

func TestNormalize(t *testing.T) {
	policy := Policy{Jitter: 3}.Normalize()
	if policy.Base != DefaultBase || policy.Max != DefaultMax {
		t.Fatalf("expected defaults, got %+v", policy)
	}
	if policy.Jitter != 1 {
		t.Fatalf("expected jitter clamped to 1, got %v", policy.Jitter)
	}
	if policy.MaxConsecutiveFailures != DefaultMaxConsecutiveFailures {
		t.Fatalf("expected default failure threshold, got %d", policy.MaxConsecutiveFailures)
	}

	inverted := Policy{Base: time.Minute, Max: time.Second}.Normalize()
	if inverted.Max != time.Minute {
		t.Fatalf("expected max raised to base, got %v", inverted.Max)
	}
}

func TestExhausted(t *testing.T) {
	policy := Policy{MaxConsecutiveFailures: 3}
	if policy.Exhausted(2) {
		t.Fatalf("did not expect exhaustion at 2 failures")
	}
	if !policy.Exhausted(3) {
		t.Fatalf("expected exhaustion at 3 failures")
	}
}
