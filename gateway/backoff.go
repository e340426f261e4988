package gateway

import (
	"math/rand"
	"time"
)

// backoffLadder computes the reconnect delay for the nth consecutive
// reconnect attempt (0-indexed): exponential from 1s, factor 2, capped
// at 60s, ±20% jitter (spec.md §4.5).
func backoffLadder(attempt int) time.Duration {
	const (
		base     = time.Second
		factor   = 2.0
		maxDelay = 60 * time.Second
	)

	d := float64(base)
	for i := 0; i < attempt; i++ {
		d *= factor
		if d >= float64(maxDelay) {
			d = float64(maxDelay)

			break
		}
	}

	jitter := 1 + (rand.Float64()*0.4 - 0.2) //nolint:gosec // reconnect jitter only

	return time.Duration(d * jitter)
}

// invalidSessionWait returns a uniform random wait in [1s, 5s], used
// before re-IDENTIFYing after a non-resumable INVALID_SESSION (spec.md
// §4.5).
func invalidSessionWait() time.Duration {
	return time.Second + time.Duration(rand.Float64()*4*float64(time.Second)) //nolint:gosec
}
