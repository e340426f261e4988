package rest

import (
	"context"
	"time"

	"github.com/Bloby22/luacord/internal/ratelimit"
)

// RetryDecider lets a caller override the default retry classification
// for 5xx/network/timeout failures (spec.md §3: "optional custom
// decider").
type RetryDecider func(attempt int, statusCode int, err error) bool

// RetryPolicy configures retry backoff for a Request.
type RetryPolicy struct {
	MaxAttempts    int
	BaseDelay      time.Duration
	BackoffFactor  float64
	Jitter         bool
	Decider        RetryDecider
}

// DefaultRetryPolicy is three attempts in total (the first send plus up
// to two retries), 500ms base delay, factor 2, jitter on.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, BaseDelay: 500 * time.Millisecond, BackoffFactor: 2, Jitter: true}
}

// Timeouts is the connect/read/total deadline triple from spec.md §3.
type Timeouts struct {
	Connect time.Duration
	Read    time.Duration
	Total   time.Duration
}

// DefaultTimeouts matches common Discord REST latency budgets.
func DefaultTimeouts() Timeouts {
	return Timeouts{Connect: 10 * time.Second, Read: 15 * time.Second, Total: 30 * time.Second}
}

// Middleware observes or mutates a Request before it is sent, ordered
// ascending by Priority (lowest numeric value runs earliest, spec.md
// §4.3 step 6).
type Middleware struct {
	Priority int
	Apply    func(*Request)
}

// Request is the immutable-except-bookkeeping HTTP request model from
// spec.md §3. Apart from Attempt, StartedAt, CompletedAt and Cancelled,
// the engine itself changes only Path, when Engine.Do follows a
// redirect; Middleware may mutate any field before each send.
type Request struct {
	Method string
	Path   string
	Query  map[string]string
	Header map[string]string
	Body   []byte

	Timeouts    Timeouts
	Retry       RetryPolicy
	Priority    ratelimit.Priority
	Tags        map[string]string
	TraceID     string
	SpanID      string
	CacheKey    string
	CacheTTL    time.Duration
	Middleware  []Middleware
	AuditReason string

	// RouteOnly, when set, skips the global rate limit gate: some
	// routes (interaction responses) are bound only by their own
	// bucket, not the global per-bot limit.
	RouteOnly bool

	Attempt     int
	StartedAt   time.Time
	CompletedAt time.Time
	Cancelled   bool

	ctx context.Context
}

// Context returns the request's context, defaulting to Background.
func (r *Request) Context() context.Context {
	if r.ctx == nil {
		return context.Background()
	}

	return r.ctx
}

// WithContext returns a shallow copy of r bound to ctx.
func (r *Request) WithContext(ctx context.Context) *Request {
	cp := *r
	cp.ctx = ctx

	return &cp
}

// RouteKey derives this request's rate-limit route key.
func (r *Request) RouteKey() string { return RouteKey(r.Method, r.Path) }
