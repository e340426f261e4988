// Package circuitbreaker implements a per-host short-circuit for a
// repeatedly failing REST route, grounded on the resilient-client
// pattern used elsewhere in the retrieved pack (a CLOSED/OPEN/HALF_OPEN
// state machine guarding a pool of outbound connections) and adapted to
// spec.md §4.2's probe-trickle semantics in HALF_OPEN.
package circuitbreaker

import (
	"sync"
	"time"
)

// State is one of the three circuit breaker states (spec.md §3).
type State int

const (
	Closed State = iota
	Open
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// Config configures the thresholds a Breaker transitions on.
type Config struct {
	// FailureThreshold is the number of consecutive failures in CLOSED
	// that trips the breaker to OPEN.
	FailureThreshold int

	// SuccessThreshold is the number of consecutive successes in
	// HALF_OPEN required to close the breaker again.
	SuccessThreshold int

	// OpenTimeout is how long the breaker stays OPEN before admitting a
	// probe in HALF_OPEN.
	OpenTimeout time.Duration

	// HalfOpenMaxProbes bounds the number of requests concurrently
	// admitted while HALF_OPEN (spec.md §3: "a bounded probe set").
	HalfOpenMaxProbes int
}

// Breaker is a CLOSED/OPEN/HALF_OPEN circuit breaker for one host/route.
type Breaker struct {
	mu sync.Mutex

	cfg Config

	state           State
	failureCount    int
	successCount    int
	lastFailureTime time.Time
	halfOpenInFlight int
}

// New creates a Breaker starting CLOSED. Sensible defaults are applied
// for zero-valued fields so a caller can pass a partially-specified
// Config.
func New(cfg Config) *Breaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}

	if cfg.SuccessThreshold <= 0 {
		cfg.SuccessThreshold = 2
	}

	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = 30 * time.Second
	}

	if cfg.HalfOpenMaxProbes <= 0 {
		cfg.HalfOpenMaxProbes = 1
	}

	return &Breaker{cfg: cfg, state: Closed}
}

// CanExecute reports whether a new request may proceed. It returns false
// only in OPEN (before the timeout) or when HALF_OPEN's probe budget is
// exhausted (spec.md §4.2).
//
// A true result in HALF_OPEN reserves one of the bounded probe slots;
// the caller must eventually call Success or Failure to release it.
func (b *Breaker) CanExecute() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case Closed:
		return true

	case Open:
		if time.Since(b.lastFailureTime) < b.cfg.OpenTimeout {
			return false
		}

		b.state = HalfOpen
		b.successCount = 0
		b.halfOpenInFlight = 0

		fallthrough

	case HalfOpen:
		if b.halfOpenInFlight >= b.cfg.HalfOpenMaxProbes {
			return false
		}

		b.halfOpenInFlight++

		return true

	default:
		return false
	}
}

// Success records a successful call. In HALF_OPEN, enough consecutive
// successes close the breaker; in CLOSED it resets the failure streak.
func (b *Breaker) Success() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case HalfOpen:
		b.halfOpenInFlight--
		b.successCount++

		if b.successCount >= b.cfg.SuccessThreshold {
			b.state = Closed
			b.failureCount = 0
			b.successCount = 0
		}

	case Closed:
		b.failureCount = 0

	case Open:
	}
}

// Failure records a failed call. Any failure in HALF_OPEN reopens the
// breaker immediately; enough consecutive failures in CLOSED trips it.
func (b *Breaker) Failure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.lastFailureTime = time.Now()

	switch b.state {
	case HalfOpen:
		b.halfOpenInFlight--
		b.state = Open
		b.failureCount = 0

	case Closed:
		b.failureCount++

		if b.failureCount >= b.cfg.FailureThreshold {
			b.state = Open
		}

	case Open:
	}
}

// State returns the breaker's current state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.state
}
