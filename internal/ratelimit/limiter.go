package ratelimit

import (
	"context"
	"sync"
	"time"
)

// GlobalRouteID is reserved for the bot-wide global rate limit bucket,
// keyed apart from any real route so it can never collide with one.
const GlobalRouteID = "\x00global"

// Limiter binds REST route keys to Discord rate-limit Buckets and owns
// the global pause triggered by a 429 with X-RateLimit-Scope: global.
//
// Buckets are sharded by hash (spec.md §5): Limiter only serializes the
// map lookups themselves, never a Bucket's own Acquire/Release.
type Limiter struct {
	mu sync.RWMutex

	// routeToHash maps a synthetic route key to the Discord bucket hash it
	// has been bound to, once a response has revealed one.
	routeToHash map[string]string

	// buckets is keyed by bucket hash once bound, or by the raw route key
	// for routes that have never received a response carrying a hash.
	buckets map[string]*Bucket

	bucketCfg Config

	globalMu    sync.RWMutex
	globalUntil time.Time
}

// New creates a Limiter that mints Buckets with the given per-bucket
// configuration on first use of a route.
func New(bucketCfg Config) *Limiter {
	return &Limiter{
		routeToHash: make(map[string]string),
		buckets:     make(map[string]*Bucket),
		bucketCfg:   bucketCfg,
	}
}

// bucketKey returns the map key currently used to look up routeKey's
// bucket: its bound hash if one is known, else the route key itself.
func (l *Limiter) bucketKey(routeKey string) string {
	if hash, ok := l.routeToHash[routeKey]; ok {
		return hash
	}

	return routeKey
}

// Bucket returns (creating if necessary) the Bucket currently bound to
// routeKey.
func (l *Limiter) Bucket(routeKey string) *Bucket {
	l.mu.Lock()
	defer l.mu.Unlock()

	key := l.bucketKey(routeKey)

	b, ok := l.buckets[key]
	if !ok {
		b = New(l.bucketCfg)
		l.buckets[key] = b
	}

	return b
}

// Rebind implements spec.md §4.3 step 2: when a response's
// X-RateLimit-Bucket differs from the hash routeKey was previously bound
// to, rebind the route and migrate any requests still queued on the old
// bucket onto the new one (or the newly created one for hash).
func (l *Limiter) Rebind(routeKey, hash string) {
	if hash == "" {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	oldKey := l.bucketKey(routeKey)
	if oldKey == hash {
		return
	}

	oldBucket := l.buckets[oldKey]

	newBucket, ok := l.buckets[hash]
	if !ok {
		newBucket = New(l.bucketCfg)
		l.buckets[hash] = newBucket
	}

	l.routeToHash[routeKey] = hash

	if oldBucket != nil && oldBucket != newBucket {
		migrateQueue(oldBucket, newBucket)

		// drop the stale per-route-key bucket once nothing else can reach
		// it through routeToHash.
		if oldKey != routeKey {
			return
		}

		stillReferenced := false

		for rk, h := range l.routeToHash {
			if rk != routeKey && h == oldKey {
				stillReferenced = true

				break
			}
		}

		if !stillReferenced {
			delete(l.buckets, oldKey)
		}
	}
}

// migrateQueue moves every waiter queued on from into to, preserving
// priority-then-FIFO order, and re-triggers draining on the destination.
func migrateQueue(from, to *Bucket) {
	// lock in a stable order (by creation-sequence id) to avoid deadlocking
	// against a concurrent migration running in the opposite direction.
	first, second := from, to
	if from.id > to.id {
		first, second = to, from
	}

	first.mu.Lock()
	second.mu.Lock()
	defer first.mu.Unlock()
	defer second.mu.Unlock()

	for {
		w := from.queue.pop()
		if w == nil {
			break
		}

		if !to.queue.push(w) {
			w.grant <- ErrQueueFull
			close(w.grant)
		}
	}

	to.drainQueue()
}

// Acquire waits out any active global pause, then acquires a token from
// routeKey's bucket. Interaction endpoints bypass the global bucket
// entirely by never calling PauseGlobal/observing it — callers route
// those through AcquireRouteOnly.
func (l *Limiter) Acquire(ctx context.Context, routeKey string, priority Priority) error {
	if err := l.waitGlobal(ctx); err != nil {
		return err
	}

	return l.Bucket(routeKey).Acquire(ctx, priority)
}

// AcquireRouteOnly acquires a token from routeKey's bucket without
// waiting on any active global pause (used for interaction endpoints,
// which are exempt from the bot's global rate limit).
func (l *Limiter) AcquireRouteOnly(ctx context.Context, routeKey string, priority Priority) error {
	return l.Bucket(routeKey).Acquire(ctx, priority)
}

// waitGlobal blocks until any active global pause elapses or ctx is done.
func (l *Limiter) waitGlobal(ctx context.Context) error {
	for {
		l.globalMu.RLock()
		until := l.globalUntil
		l.globalMu.RUnlock()

		wait := time.Until(until)
		if wait <= 0 {
			return nil
		}

		timer := time.NewTimer(wait)

		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()

			return ErrCancelled
		}
	}
}

// PauseGlobal pauses every request (except interaction routes) until
// until, per a 429 with X-RateLimit-Scope: global.
func (l *Limiter) PauseGlobal(until time.Time) {
	l.globalMu.Lock()
	defer l.globalMu.Unlock()

	if until.After(l.globalUntil) {
		l.globalUntil = until
	}
}
