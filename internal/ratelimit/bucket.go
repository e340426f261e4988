package ratelimit

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"
)

// bucketSeq assigns each Bucket a stable creation-order id, used only to
// pick a deterministic lock ordering when migrating waiters between two
// buckets (see Limiter.migrateQueue).
var bucketSeq uint64

// Sentinel errors returned by Bucket.Acquire / the priority queue.
var (
	// ErrQueueEvicted is returned to a waiter dropped to make room for a
	// higher-priority arrival (spec.md §4.1, "evict the lowest-priority tail").
	ErrQueueEvicted = errors.New("ratelimit: evicted from bucket queue to admit a higher-priority request")

	// ErrQueueFull is returned immediately when drop_on_limit is set and the
	// bucket's queue has reached max_queue_size.
	ErrQueueFull = errors.New("ratelimit: bucket queue is full")

	// ErrCancelled is returned when the caller's context is done before a
	// permit is granted. A cancelled Acquire never consumed a token.
	ErrCancelled = errors.New("ratelimit: acquire cancelled before a permit was granted")
)

// Header carries the Discord rate-limit response headers consumed by
// Bucket.Release, named after spec.md §6.
type Header struct {
	Limit      int
	Remaining  int
	Reset      float64 // unix seconds, float
	ResetAfter float64 // seconds, float
	Bucket     string
	Global     bool
	Scope      string // "user" | "global" | "shared"
}

// Stats accumulates bucket-level counters for observability.
type Stats struct {
	Granted    uint64
	Burst      uint64
	Queued     uint64
	Evicted    uint64
	Rejected   uint64
	Replenishes uint64
}

// Bucket is a single Discord API rate-limit bucket: either a synthetic
// per-route-key bucket (before a hash is known) or a bucket shared by
// every route bound to the same X-RateLimit-Bucket hash.
//
// Invariants (spec.md §3, §8): 0 <= Remaining <= Limit; BurstUsed <=
// BurstCapacity; at most one goroutine drains the queue at a time;
// queue.size <= maxQueueSize.
type Bucket struct {
	mu sync.Mutex

	// id orders buckets for deadlock-free two-bucket locking during a
	// queue migration; it has no relation to the Discord bucket hash.
	id uint64

	// Hash is the server-assigned bucket ID once known, else empty.
	Hash string

	Limit     int
	Remaining int
	ResetAt   time.Time

	BurstCapacity int
	BurstUsed     int

	JitterFactor float64

	queue      *priorityQueue
	processing bool

	Stats Stats
}

// Config configures a new Bucket.
type Config struct {
	BurstCapacity int
	MaxQueueSize  int
	DropOnLimit   bool
	JitterFactor  float64
}

// New creates an unbound Bucket. Discord never tells a client a route's
// limit before the client has made a first request to it, so an
// unreleased bucket starts with exactly one optimistic token rather than
// zero — otherwise the very first request to any route would enqueue
// forever waiting for a Release that can only happen after a request
// completes. Limit/Remaining are populated authoritatively on the first
// Release.
func New(cfg Config) *Bucket {
	jitter := cfg.JitterFactor
	if jitter == 0 {
		jitter = 0.1
	}

	maxQueueSize := cfg.MaxQueueSize
	if maxQueueSize <= 0 {
		maxQueueSize = 1000
	}

	return &Bucket{
		id:            atomic.AddUint64(&bucketSeq, 1),
		Limit:         1,
		Remaining:     1,
		BurstCapacity: cfg.BurstCapacity,
		JitterFactor:  jitter,
		queue:         newPriorityQueue(maxQueueSize, cfg.DropOnLimit),
	}
}

// Acquire blocks until a token is available for the given priority, the
// context is cancelled, or the bucket rejects the request outright.
//
// A cancelled Acquire never decrements Remaining (spec.md §8, "a
// cancelled request does not decrement remaining"): the token is taken
// only at the instant a permit is granted.
func (b *Bucket) Acquire(ctx context.Context, priority Priority) error {
	b.mu.Lock()

	b.resetIfExpired()

	if b.Remaining > 0 {
		b.Remaining--
		b.Stats.Granted++
		b.mu.Unlock()

		return nil
	}

	if priority.burstEligible() && b.BurstUsed < b.BurstCapacity {
		b.BurstUsed++
		b.Stats.Burst++
		b.mu.Unlock()

		return nil
	}

	w := &waiter{priority: priority, enqueuedAt: time.Now(), grant: make(chan error, 1)}
	if !b.queue.push(w) {
		b.Stats.Rejected++
		b.mu.Unlock()

		return ErrQueueFull
	}

	b.Stats.Queued++
	b.mu.Unlock()

	select {
	case err := <-w.grant:
		return err
	case <-ctx.Done():
		if b.cancelWaiter(w) {
			return ErrCancelled
		}

		// Granted (or rejected) concurrently with the cancellation.
		return <-w.grant
	}
}

// cancelWaiter removes w from the queue if it is still sitting there,
// reporting whether it did. If the worker already popped and granted it
// concurrently, it returns false and Acquire honors the grant (the token
// was already spent) rather than silently dropping it.
func (b *Bucket) cancelWaiter(w *waiter) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, lane := range b.queue.lanes {
		for e := lane.Front(); e != nil; e = e.Next() {
			if e.Value.(*waiter) == w { //nolint:forcetypeassert
				lane.Remove(e)
				b.queue.size--

				return true
			}
		}
	}

	return false
}

// ProjectedWait estimates how long a newly queued request at this
// priority will wait, per spec.md §4.1: max(0, reset_at-now) + jitter.
func (b *Bucket) ProjectedWait(now time.Time) time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()

	base := b.ResetAt.Sub(now)
	if base < 0 {
		base = 0
	}

	jitter := (rand.Float64()*2 - 1) * b.JitterFactor * float64(base) //nolint:gosec

	return base + time.Duration(jitter)
}

// resetIfExpired rolls the bucket to a fresh window when its reset time
// has passed, per spec.md §4.1 step 1. Caller must hold mu.
func (b *Bucket) resetIfExpired() {
	now := time.Now()
	if b.ResetAt.IsZero() || now.Before(b.ResetAt) {
		return
	}

	b.Remaining = b.Limit
	b.BurstUsed = 0
	b.drainQueue()
}

// Release folds a Discord response's rate-limit headers back into the
// bucket. It must run before anything else observes bucket state after a
// response arrives, so that concurrent callers see the refreshed values
// (spec.md §4.3 step 8).
func (b *Bucket) Release(h Header) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.Limit = h.Limit
	b.Remaining = h.Remaining

	whole := time.Unix(int64(h.Reset), 0)
	frac := h.Reset - float64(int64(h.Reset))
	b.ResetAt = whole.Add(time.Duration(frac * float64(time.Second)))

	if h.Bucket != "" {
		b.Hash = h.Bucket
	}

	b.Stats.Replenishes++
	b.drainQueue()
}

// Pause forces the bucket empty until until, used for a 429 response
// scoped to this bucket (user or shared scope) per spec.md §4.1.
func (b *Bucket) Pause(until time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.Remaining = 0
	if until.After(b.ResetAt) {
		b.ResetAt = until
	}
}

// drainQueue grants as many queued waiters as current tokens (including
// burst) allow, in strict priority-then-FIFO order. Caller must hold mu.
func (b *Bucket) drainQueue() {
	if b.processing {
		return
	}

	b.processing = true
	defer func() { b.processing = false }()

	for {
		if b.Remaining <= 0 && b.BurstUsed >= b.BurstCapacity {
			return
		}

		w := b.queue.front()
		if w == nil {
			return
		}

		// Burst is reserved for CRITICAL/HIGH priority (spec.md §3). A
		// non-eligible waiter at the head blocks the whole drain: every
		// lane behind it is strictly lower priority, so none of them
		// qualify either.
		if b.Remaining <= 0 && !w.priority.burstEligible() {
			return
		}

		b.queue.pop()

		if b.Remaining > 0 {
			b.Remaining--
			b.Stats.Granted++
		} else {
			b.BurstUsed++
			b.Stats.Burst++
		}

		w.grant <- nil
		close(w.grant)
	}
}

// Snapshot returns a read-only copy of the bucket's accounting fields,
// useful for tests and diagnostics without exposing the mutex.
func (b *Bucket) Snapshot() (limit, remaining int, resetAt time.Time, burstUsed, burstCapacity int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.Limit, b.Remaining, b.ResetAt, b.BurstUsed, b.BurstCapacity
}

// QueueLen returns the total number of waiters currently queued.
func (b *Bucket) QueueLen() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.queue.size
}
