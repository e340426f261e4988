package ratelimit

import (
	"context"
	"sync"
	"testing"
	"time"
)

// TestBucketAcquireGrantsWithinLimit ensures remaining never goes negative
// and tokens are granted up to the window's capacity (spec.md §8).
func TestBucketAcquireGrantsWithinLimit(t *testing.T) {
	b := New(Config{BurstCapacity: 0, MaxQueueSize: 10, DropOnLimit: true})
	b.Release(Header{Limit: 3, Remaining: 3, Reset: float64(time.Now().Add(time.Hour).Unix())})

	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := b.Acquire(ctx, PriorityNormal); err != nil {
			t.Fatalf("acquire %d: unexpected error: %v", i, err)
		}
	}

	_, remaining, _, _, _ := b.Snapshot()
	if remaining != 0 {
		t.Fatalf("expected remaining 0, got %d", remaining)
	}
}

// TestBucketBurstReservedForHighPriority verifies only priorities <= High
// may draw on the burst reserve once the window is exhausted.
func TestBucketBurstReservedForHighPriority(t *testing.T) {
	b := New(Config{BurstCapacity: 1, MaxQueueSize: 10, DropOnLimit: true})
	b.Release(Header{Limit: 1, Remaining: 1, Reset: float64(time.Now().Add(time.Hour).Unix())})

	ctx := context.Background()

	if err := b.Acquire(ctx, PriorityNormal); err != nil {
		t.Fatalf("first acquire: %v", err)
	}

	// Remaining is exhausted; PriorityLow must not draw burst.
	lowCtx, cancel := context.WithTimeout(ctx, 10*time.Millisecond)
	defer cancel()

	if err := b.Acquire(lowCtx, PriorityLow); err != ErrCancelled {
		t.Fatalf("expected low-priority request to queue and time out, got %v", err)
	}

	// PriorityHigh must be able to draw the burst reserve.
	if err := b.Acquire(ctx, PriorityHigh); err != nil {
		t.Fatalf("expected burst-eligible acquire to succeed, got %v", err)
	}
}

// TestDrainQueueDoesNotGrantBurstToIneligibleWaiter verifies that a
// Release-triggered drain (not just a direct Acquire) still refuses to
// grant the burst reserve to a waiter whose priority isn't burst-eligible,
// even when it is sitting at the head of the queue.
func TestDrainQueueDoesNotGrantBurstToIneligibleWaiter(t *testing.T) {
	b := New(Config{BurstCapacity: 1, MaxQueueSize: 10, DropOnLimit: true})
	b.Release(Header{Limit: 1, Remaining: 1, Reset: float64(time.Now().Add(time.Hour).Unix())})

	ctx := context.Background()

	if err := b.Acquire(ctx, PriorityCritical); err != nil {
		t.Fatalf("seed acquire: %v", err)
	}

	done := make(chan error, 1)

	go func() {
		done <- b.Acquire(ctx, PriorityLow)
	}()

	for b.QueueLen() == 0 {
		time.Sleep(time.Millisecond)
	}

	// A Release that leaves Remaining at 0 must not drain the queued
	// Low waiter through the burst reserve.
	b.Release(Header{Limit: 1, Remaining: 0, Reset: float64(time.Now().Add(time.Hour).Unix())})

	select {
	case err := <-done:
		t.Fatalf("low-priority waiter must not be granted via burst, got err=%v", err)
	case <-time.After(20 * time.Millisecond):
	}

	_, _, _, burstUsed, _ := b.Snapshot()
	if burstUsed != 0 {
		t.Fatalf("expected burst reserve untouched, got burstUsed=%d", burstUsed)
	}

	// A real token freeing up must still drain it normally.
	b.Release(Header{Limit: 1, Remaining: 1, Reset: float64(time.Now().Add(time.Hour).Unix())})

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("expected low-priority waiter to be granted once a real token freed up, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("low-priority waiter was never granted")
	}
}

// TestBucketPriorityOrdering checks that a lower-numbered priority
// enqueued at the same time as a higher-numbered one is granted first
// (spec.md §8 "Priority").
func TestBucketPriorityOrdering(t *testing.T) {
	b := New(Config{BurstCapacity: 0, MaxQueueSize: 10, DropOnLimit: true})
	b.Release(Header{Limit: 1, Remaining: 1, Reset: float64(time.Now().Add(time.Hour).Unix())})

	ctx := context.Background()
	if err := b.Acquire(ctx, PriorityCritical); err != nil {
		t.Fatalf("seed acquire: %v", err)
	}

	var order []string
	var mu sync.Mutex
	var wg sync.WaitGroup

	wg.Add(2)

	go func() {
		defer wg.Done()
		if err := b.Acquire(ctx, PriorityBackground); err != nil {
			t.Error(err)
		}
		mu.Lock()
		order = append(order, "background")
		mu.Unlock()
	}()

	// ensure the background waiter enqueues first.
	for b.QueueLen() == 0 {
		time.Sleep(time.Millisecond)
	}

	go func() {
		defer wg.Done()
		if err := b.Acquire(ctx, PriorityCritical); err != nil {
			t.Error(err)
		}
		mu.Lock()
		order = append(order, "critical")
		mu.Unlock()
	}()

	for b.QueueLen() < 2 {
		time.Sleep(time.Millisecond)
	}

	// release a fresh one-token window: only the critical waiter fits.
	b.Release(Header{Limit: 1, Remaining: 1, Reset: float64(time.Now().Add(time.Hour).Unix())})

	for {
		mu.Lock()
		n := len(order)
		mu.Unlock()

		if n == 1 {
			break
		}

		time.Sleep(time.Millisecond)
	}

	// the next window admits the background waiter.
	b.Release(Header{Limit: 1, Remaining: 1, Reset: float64(time.Now().Add(time.Hour).Unix())})

	wg.Wait()

	if len(order) != 2 || order[0] != "critical" {
		t.Fatalf("expected critical before background, got %v", order)
	}
}

// TestBucketCancelledAcquireDoesNotConsumeToken verifies spec.md §8:
// "a cancelled request does not decrement remaining".
func TestBucketCancelledAcquireDoesNotConsumeToken(t *testing.T) {
	b := New(Config{BurstCapacity: 0, MaxQueueSize: 10, DropOnLimit: true})
	b.Release(Header{Limit: 1, Remaining: 0, Reset: float64(time.Now().Add(time.Hour).Unix())})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
	defer cancel()

	if err := b.Acquire(ctx, PriorityLow); err != ErrCancelled {
		t.Fatalf("expected ErrCancelled, got %v", err)
	}

	_, remaining, _, _, _ := b.Snapshot()
	if remaining != 0 {
		t.Fatalf("cancelled acquire must not change remaining, got %d", remaining)
	}
}

// TestBucketResetRestoresWindow ensures a bucket whose reset time has
// elapsed rolls to a fresh window on the next Acquire.
func TestBucketResetRestoresWindow(t *testing.T) {
	b := New(Config{BurstCapacity: 0, MaxQueueSize: 10, DropOnLimit: true})
	b.Limit = 2
	b.Remaining = 0
	b.ResetAt = time.Now().Add(-time.Millisecond) // already elapsed

	ctx := context.Background()
	if err := b.Acquire(ctx, PriorityNormal); err != nil {
		t.Fatalf("expected window reset to grant a token, got %v", err)
	}
}
