package circuitbreaker

import (
	"testing"
	"time"
)

// TestBreakerTripsAfterThreshold mirrors spec.md §8: "5 consecutive
// failures -> OPEN; after timeout -> HALF_OPEN; 3 successes -> CLOSED."
func TestBreakerTripsAfterThreshold(t *testing.T) {
	b := New(Config{
		FailureThreshold:  5,
		SuccessThreshold:  3,
		OpenTimeout:       20 * time.Millisecond,
		HalfOpenMaxProbes: 1,
	})

	for i := 0; i < 4; i++ {
		if !b.CanExecute() {
			t.Fatalf("breaker should remain closed before threshold, iteration %d", i)
		}
		b.Failure()
	}

	if b.State() != Closed {
		t.Fatalf("expected closed after 4 failures, got %s", b.State())
	}

	if !b.CanExecute() {
		t.Fatal("expected fifth probe to be admitted while still closed")
	}
	b.Failure()

	if b.State() != Open {
		t.Fatalf("expected open after 5th failure, got %s", b.State())
	}

	if b.CanExecute() {
		t.Fatal("expected breaker to reject calls while open and before timeout")
	}

	time.Sleep(25 * time.Millisecond)

	if !b.CanExecute() {
		t.Fatal("expected breaker to admit a probe in half-open after the timeout")
	}

	if b.State() != HalfOpen {
		t.Fatalf("expected half_open, got %s", b.State())
	}

	b.Success()
	b.CanExecute()
	b.Success()
	b.CanExecute()
	b.Success()

	if b.State() != Closed {
		t.Fatalf("expected closed after 3 half-open successes, got %s", b.State())
	}
}

// TestBreakerHalfOpenFailureReopens checks any failure during HALF_OPEN
// immediately reopens the breaker (spec.md §4.2).
func TestBreakerHalfOpenFailureReopens(t *testing.T) {
	b := New(Config{FailureThreshold: 1, SuccessThreshold: 2, OpenTimeout: time.Millisecond, HalfOpenMaxProbes: 2})

	b.CanExecute()
	b.Failure() // trips to open

	time.Sleep(5 * time.Millisecond)

	if !b.CanExecute() {
		t.Fatal("expected a half-open probe to be admitted")
	}

	b.Failure()

	if b.State() != Open {
		t.Fatalf("expected a half-open failure to reopen the breaker, got %s", b.State())
	}
}

// TestBreakerHalfOpenBoundsConcurrentProbes ensures HALF_OPEN admits at
// most HalfOpenMaxProbes concurrent probes (spec.md §3 invariant).
func TestBreakerHalfOpenBoundsConcurrentProbes(t *testing.T) {
	b := New(Config{FailureThreshold: 1, SuccessThreshold: 5, OpenTimeout: time.Millisecond, HalfOpenMaxProbes: 2})

	b.CanExecute()
	b.Failure()

	time.Sleep(5 * time.Millisecond)

	admitted := 0
	for i := 0; i < 5; i++ {
		if b.CanExecute() {
			admitted++
		}
	}

	if admitted != 2 {
		t.Fatalf("expected exactly 2 probes admitted, got %d", admitted)
	}
}
