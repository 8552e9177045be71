package session

import (
	"math/rand"
	"time"
)

const (
	// ReconnectBaseDelay is the delay before the first reconnect attempt.
	ReconnectBaseDelay = 1 * time.Second
	// ReconnectMaxDelay caps the exponential backoff between attempts.
	ReconnectMaxDelay = 30 * time.Second
)

// ReconnectDelay returns the backoff delay before reconnect attempt k
// (1-based). The delay doubles per attempt from base up to max, then a
// +-20% jitter is applied so a fleet of clients does not reconnect in
// lockstep.
func ReconnectDelay(k int, base, max time.Duration, rng *rand.Rand) time.Duration {
	if k < 1 {
		k = 1
	}

	d := base
	for i := 1; i < k; i++ {
		d *= 2
		if d >= max {
			d = max
			break
		}
	}
	if d > max {
		d = max
	}

	jitter := 0.8 + 0.4*rng.Float64()
	return time.Duration(float64(d) * jitter)
}
