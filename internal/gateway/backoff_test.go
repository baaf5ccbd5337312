package gateway

import (
	"testing"
	"time"
)

func fixedRand(v float64) func() float64 {
	return func() float64 { return v }
}

func TestNextDelayGrowth(t *testing.T) {
	b := DefaultBackoff()
	b.Rand = fixedRand(0.5) // jitter factor 1.0

	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 300 * time.Millisecond},
		{1, 600 * time.Millisecond},
		{2, 1200 * time.Millisecond},
		{3, 2400 * time.Millisecond},
		{4, 4800 * time.Millisecond},
		{5, 5 * time.Second},
		{6, 5 * time.Second},
		{100, 5 * time.Second}, // exponent capped, never overflows
	}
	for _, tc := range cases {
		if got := b.NextDelay(tc.attempt); got != tc.want {
			t.Errorf("attempt %d: got %v, want %v", tc.attempt, got, tc.want)
		}
	}
}

func TestNextDelayJitterBounds(t *testing.T) {
	b := DefaultBackoff()

	base := 300 * time.Millisecond
	lo := time.Duration(float64(base) * 0.85)
	hi := time.Duration(float64(base) * 1.15)

	b.Rand = fixedRand(0)
	if got := b.NextDelay(0); got != lo {
		t.Errorf("min jitter: got %v, want %v", got, lo)
	}
	b.Rand = fixedRand(1)
	if got := b.NextDelay(0); got != hi {
		t.Errorf("max jitter: got %v, want %v", got, hi)
	}
}

func TestNextDelayNegativeAttempt(t *testing.T) {
	b := DefaultBackoff()
	b.Rand = fixedRand(0.5)
	if got := b.NextDelay(-3); got != 300*time.Millisecond {
		t.Errorf("got %v, want base delay", got)
	}
}
