package backoff

import (
	"testing"
	"time"
)

func TestExponentialJitter_GrowsAndCaps(t *testing.T) {
	t.Parallel()

	base := 500 * time.Millisecond
	max := 10 * time.Second

	prevCeiling := time.Duration(0)
	for attempt := 1; attempt <= 8; attempt++ {
		d := ExponentialJitter(base, max, attempt)
		if d <= 0 {
			t.Fatalf("attempt %d: non-positive delay %s", attempt, d)
		}
		if d > max+max/5 {
			t.Fatalf("attempt %d: delay %s exceeds jittered cap", attempt, d)
		}
		ceiling := time.Duration(float64(base) * float64(int64(1)<<uint(attempt-1)) * 1.2)
		if ceiling > prevCeiling {
			prevCeiling = ceiling
		}
	}
}

func TestExponentialJitter_ZeroBase(t *testing.T) {
	t.Parallel()

	if d := ExponentialJitter(0, time.Second, 3); d != 0 {
		t.Fatalf("expected zero delay for zero base, got %s", d)
	}
}

func TestExponentialJitter_NonPositiveAttemptTreatedAsFirst(t *testing.T) {
	t.Parallel()

	base := time.Second
	d := ExponentialJitter(base, 30*time.Second, 0)
	if d < base-base/5 || d > base+base/5 {
		t.Fatalf("expected first-attempt delay near %s, got %s", base, d)
	}
}
