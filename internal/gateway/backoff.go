package gateway

import (
	"math/rand"
	"time"
)

// Backoff computes reconnect delays: base * 2^min(cap, attempt), clamped to
// Max and randomized by ±Jitter. It is a pure value; the manager owns the
// attempt counter and its reset rules.
type Backoff struct {
	Base       time.Duration
	Max        time.Duration
	AttemptCap int
	Jitter     float64 // fraction of the delay, e.g. 0.15 for ±15%

	// Rand overrides the jitter source in tests. Must return [0, 1).
	Rand func() float64
}

// DefaultBackoff matches the gateway's reconnect tuning.
func DefaultBackoff() Backoff {
	return Backoff{
		Base:       300 * time.Millisecond,
		Max:        5 * time.Second,
		AttemptCap: 6,
		Jitter:     0.15,
	}
}

// NextDelay returns the delay before reconnect attempt number attempt
// (0-based).
func (b Backoff) NextDelay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	exp := attempt
	if b.AttemptCap > 0 && exp > b.AttemptCap {
		exp = b.AttemptCap
	}
	delay := b.Base << uint(exp)
	if b.Max > 0 && delay > b.Max {
		delay = b.Max
	}
	if b.Jitter > 0 {
		random := b.Rand
		if random == nil {
			random = rand.Float64
		}
		factor := 1 + b.Jitter*(2*random()-1)
		delay = time.Duration(float64(delay) * factor)
	}
	if delay < 0 {
		delay = 0
	}
	return delay
}
