package rest

import (
	"bufio"
	"context"
	"crypto/tls"
	"math/rand"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"github.com/rs/xid"
	"github.com/rs/zerolog"
	"github.com/valyala/fasthttp"

	"github.com/Bloby22/luacord/internal/circuitbreaker"
	"github.com/Bloby22/luacord/internal/connpool"
	"github.com/Bloby22/luacord/internal/errs"
	"github.com/Bloby22/luacord/internal/ratelimit"
)

// Config configures an Engine.
type Config struct {
	BaseURL    string // e.g. https://discord.com/api/v10
	Token      string
	AuthScheme string // "Bot" (default) or "Bearer"
	UserAgent  UserAgentConfig

	FollowRedirects bool
	MaxRedirects    int

	Bucket  ratelimit.Config
	Pool    connpool.Config
	Breaker circuitbreaker.Config

	Logger zerolog.Logger
}

// Engine is the REST dispatch engine composing a rate-limit Limiter, a
// circuit Breaker and a connection Pool to implement spec.md §4.3's
// ten-step request flow.
type Engine struct {
	cfg  Config
	host string
	port string
	tls  bool

	limiter *ratelimit.Limiter
	pool    *connpool.Pool
	breaker *circuitbreaker.Breaker

	log zerolog.Logger
}

// New builds an Engine bound to cfg.BaseURL's host.
func New(cfg Config) (*Engine, error) {
	u, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, err
	}

	if cfg.AuthScheme == "" {
		cfg.AuthScheme = "Bot"
	}

	if cfg.UserAgent.Name == "" {
		cfg.UserAgent = DefaultUserAgentConfig()
	}

	host := u.Hostname()
	port := u.Port()
	useTLS := u.Scheme == "https"

	if port == "" {
		if useTLS {
			port = "443"
		} else {
			port = "80"
		}
	}

	poolCfg := cfg.Pool
	if useTLS {
		poolCfg.TLSConfig = &tls.Config{ServerName: host, MinVersion: tls.VersionTLS12}
	}

	return &Engine{
		cfg:     cfg,
		host:    host,
		port:    port,
		tls:     useTLS,
		limiter: ratelimit.New(cfg.Bucket),
		pool:    connpool.New(poolCfg),
		breaker: circuitbreaker.New(cfg.Breaker),
		log:     cfg.Logger,
	}, nil
}

// Close shuts down the Engine's connection pool.
func (e *Engine) Close() error { return e.pool.Close() }

// Get issues a GET request to endpoint.
func (e *Engine) Get(ctx context.Context, endpoint string, opts ...func(*Request)) (*Response, error) {
	return e.Do(e.newRequest(ctx, "GET", endpoint, nil, opts...))
}

// Post issues a POST request to endpoint with body.
func (e *Engine) Post(ctx context.Context, endpoint string, body []byte, opts ...func(*Request)) (*Response, error) {
	return e.Do(e.newRequest(ctx, "POST", endpoint, body, opts...))
}

// Put issues a PUT request to endpoint with body.
func (e *Engine) Put(ctx context.Context, endpoint string, body []byte, opts ...func(*Request)) (*Response, error) {
	return e.Do(e.newRequest(ctx, "PUT", endpoint, body, opts...))
}

// Patch issues a PATCH request to endpoint with body.
func (e *Engine) Patch(ctx context.Context, endpoint string, body []byte, opts ...func(*Request)) (*Response, error) {
	return e.Do(e.newRequest(ctx, "PATCH", endpoint, body, opts...))
}

// Delete issues a DELETE request to endpoint.
func (e *Engine) Delete(ctx context.Context, endpoint string, opts ...func(*Request)) (*Response, error) {
	return e.Do(e.newRequest(ctx, "DELETE", endpoint, nil, opts...))
}

func (e *Engine) newRequest(ctx context.Context, method, endpoint string, body []byte, opts ...func(*Request)) *Request {
	r := &Request{
		Method:   method,
		Path:     endpoint,
		Body:     body,
		Timeouts: DefaultTimeouts(),
		Retry:    DefaultRetryPolicy(),
		Priority: ratelimit.PriorityNormal,
		Header:   make(map[string]string),
	}
	r = r.WithContext(ctx)

	for _, opt := range opts {
		opt(r)
	}

	return r
}

// Do executes req through the full acquire/send/classify/retry pipeline
// (spec.md §4.3).
func (e *Engine) Do(req *Request) (*Response, error) {
	req.StartedAt = time.Now()

	ctx := req.Context()
	if req.Timeouts.Total > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Timeouts.Total)
		defer cancel()
	}

	requestID := xid.New().String()
	routeKey := req.RouteKey()
	redirectsFollowed := 0

	for {
		if ctx.Err() != nil {
			req.Cancelled = true

			return nil, errs.New(errs.KindCancelled, "request cancelled before completion", ctx.Err())
		}

		resp, rateLimited, retryAfter, err := e.attempt(ctx, req, routeKey, requestID)

		if rateLimited {
			select {
			case <-time.After(retryAfter):
				continue // not counted against the retry budget
			case <-ctx.Done():
				return nil, errs.New(errs.KindCancelled, "cancelled while waiting out a rate limit", ctx.Err())
			}
		}

		if err == nil {
			req.CompletedAt = time.Now()

			if resp.Redirect() && e.cfg.FollowRedirects && redirectsFollowed < e.maxRedirects() {
				loc := resp.Header("Location")
				if loc != "" {
					req.Path = loc
					redirectsFollowed++

					continue
				}
			}

			return resp, nil
		}

		typed, ok := err.(*errs.Error) //nolint:errorlint
		if !ok || !typed.Retriable() {
			return nil, err
		}

		req.Attempt++

		if req.Attempt >= req.Retry.MaxAttempts {
			return nil, err
		}

		if req.Retry.Decider != nil && !req.Retry.Decider(req.Attempt, typed.Status, typed.Err) {
			return nil, err
		}

		delay := e.backoff(req)

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, errs.New(errs.KindCancelled, "cancelled during retry backoff", ctx.Err())
		}
	}
}

func (e *Engine) maxRedirects() int {
	if e.cfg.MaxRedirects <= 0 {
		return 5
	}

	return e.cfg.MaxRedirects
}

func (e *Engine) backoff(req *Request) time.Duration {
	base := float64(req.Retry.BaseDelay) * pow(req.Retry.BackoffFactor, req.Attempt)
	if req.Retry.Jitter {
		base *= 0.5 + rand.Float64() //nolint:gosec // jitter only, not security sensitive
	}

	return time.Duration(base)
}

func pow(base float64, exp int) float64 {
	result := 1.0
	for i := 0; i < exp; i++ {
		result *= base
	}

	return result
}

// attempt runs one pass of steps 3-9 of spec.md §4.3. rateLimited is
// true when the call hit a 429 and the caller should sleep retryAfter
// and re-attempt without consuming the retry budget.
func (e *Engine) attempt(ctx context.Context, req *Request, routeKey, requestID string) (resp *Response, rateLimited bool, retryAfter time.Duration, err error) {
	if !e.breaker.CanExecute() {
		return nil, false, 0, errs.New(errs.KindCircuitOpen, "circuit breaker open for "+e.host, nil)
	}

	if req.RouteOnly {
		err = e.limiter.AcquireRouteOnly(ctx, routeKey, req.Priority)
	} else {
		err = e.limiter.Acquire(ctx, routeKey, req.Priority)
	}

	if err != nil {
		if err == ratelimit.ErrCancelled { //nolint:errorlint
			return nil, false, 0, errs.New(errs.KindCancelled, "cancelled waiting for a rate-limit permit", err)
		}

		return nil, false, 0, errs.New(errs.KindRateLimit, "rate-limit queue rejected the request", err)
	}

	conn, err := e.pool.Get(ctx, e.host, e.port, nil, poolPriority(req.Priority))
	if err != nil {
		return nil, false, 0, errs.New(errs.KindPoolExhausted, "connection pool exhausted", err)
	}

	status, headers, respBody, sendErr := e.send(conn, req)

	header := parseRateLimitHeader(func(k string) string { return headers[http.CanonicalHeaderKey(k)] })

	if header.Bucket != "" {
		e.limiter.Rebind(routeKey, header.Bucket)
	}

	e.limiter.Bucket(routeKey).Release(header)

	if sendErr != nil {
		e.breaker.Failure()
		e.pool.Release(conn, false)

		if ctx.Err() != nil {
			return nil, false, 0, errs.New(errs.KindCancelled, "cancelled during send", ctx.Err())
		}

		if isTimeout(sendErr) {
			return nil, false, 0, errs.New(errs.KindTimeout, "request timed out", sendErr)
		}

		return nil, false, 0, errs.New(errs.KindNetwork, "network error sending request", sendErr)
	}

	r := NewResponse(status, headers, respBody)
	r.StartedAt = req.StartedAt
	r.CompletedAt = time.Now()
	r.ContentEncoding = headers["Content-Encoding"]

	switch {
	case status == 429:
		e.pool.Release(conn, true)

		return e.handle429(req, routeKey, headers, respBody)

	case status >= 200 && status < 300:
		e.breaker.Success()
		e.pool.Release(conn, true)

		return r, false, 0, nil

	case status >= 300 && status < 400:
		e.breaker.Success()
		e.pool.Release(conn, true)

		return r, false, 0, nil

	case status == 401:
		e.breaker.Success() // a well-formed "no" per spec.md §4.2
		e.pool.Release(conn, true)

		return nil, false, 0, errs.New(errs.KindAuth, "authorization rejected", nil)

	case status >= 400 && status < 500:
		e.breaker.Success()
		e.pool.Release(conn, true)

		return nil, false, 0, &errs.Error{Kind: errs.KindValidation, Status: status, Message: string(respBody), RouteID: routeKey, RequestID: requestID, Attempt: req.Attempt}

	default: // 5xx
		e.breaker.Failure()
		e.pool.Release(conn, true)

		return nil, false, 0, &errs.Error{Kind: errs.KindNetwork, Status: status, Message: "server error", RouteID: routeKey, RequestID: requestID, Attempt: req.Attempt}
	}
}

// handle429 implements spec.md §4.1's 429 scoping rules.
func (e *Engine) handle429(req *Request, routeKey string, headers map[string]string, body []byte) (*Response, bool, time.Duration, error) {
	var payload struct {
		RetryAfter float64 `json:"retry_after"`
		Global     bool    `json:"global"`
	}

	_ = json.Unmarshal(body, &payload)

	wait := payload.RetryAfter
	if s, ok := retryAfterSeconds(func(k string) string { return headers[http.CanonicalHeaderKey(k)] }); ok {
		wait = s
	}

	scope := strings.ToLower(headers[http.CanonicalHeaderKey("X-RateLimit-Scope")])
	until := time.Now().Add(time.Duration(wait * float64(time.Second)))

	bucket := e.limiter.Bucket(routeKey)
	bucket.Pause(until)

	if scope == "global" || payload.Global {
		e.limiter.PauseGlobal(until)
	}

	if scope != "shared" {
		e.breaker.Failure()
	}

	return nil, true, time.Duration(wait * float64(time.Second)), nil
}

// send assembles and writes req over conn, then reads and decompresses
// the response (spec.md §4.3 steps 6-7). It never returns a nil headers
// map, even on error, so callers can always refresh the bucket. Header
// keys are stored in canonical form (http.CanonicalHeaderKey).
func (e *Engine) send(conn *connpool.Conn, req *Request) (status int, headers map[string]string, body []byte, err error) {
	headers = make(map[string]string)

	applyMiddleware(req)

	deadline := time.Now().Add(req.Timeouts.Read)
	if req.Timeouts.Read <= 0 {
		deadline = time.Now().Add(30 * time.Second)
	}
	_ = conn.SetDeadline(deadline)

	hreq := fasthttp.AcquireRequest()
	hresp := fasthttp.AcquireResponse()

	defer fasthttp.ReleaseRequest(hreq)
	defer fasthttp.ReleaseResponse(hresp)

	hreq.Header.SetMethod(req.Method)
	hreq.Header.SetHost(e.host)
	hreq.SetRequestURI(e.fullPath(req))

	hreq.Header.Set("Authorization", e.cfg.AuthScheme+" "+e.cfg.Token)
	hreq.Header.Set("User-Agent", e.cfg.UserAgent.String())
	hreq.Header.Set("Accept-Encoding", AcceptEncoding)

	if len(req.Body) > 0 {
		hreq.Header.SetContentType("application/json")
		hreq.SetBody(req.Body)
	}

	if req.AuditReason != "" {
		hreq.Header.Set("X-Audit-Log-Reason", auditReasonHeader(req.AuditReason))
	}

	for k, v := range req.Header {
		hreq.Header.Set(k, v)
	}

	bw := bufio.NewWriter(conn)
	if err = hreq.Write(bw); err != nil {
		return 0, headers, nil, err
	}

	if err = bw.Flush(); err != nil {
		return 0, headers, nil, err
	}

	br := bufio.NewReader(conn)
	if err = hresp.Read(br); err != nil {
		return 0, headers, nil, err
	}

	status = hresp.StatusCode()

	hresp.Header.VisitAll(func(k, v []byte) {
		headers[http.CanonicalHeaderKey(string(k))] = string(v)
	})

	raw := hresp.Body()
	decoded, derr := decompressBody(headers["Content-Encoding"], raw)
	if derr != nil {
		return status, headers, nil, derr
	}

	return status, headers, decoded, nil
}

func (e *Engine) fullPath(req *Request) string {
	p := req.Path
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}

	if len(req.Query) == 0 {
		return p
	}

	q := url.Values{}
	for k, v := range req.Query {
		q.Set(k, v)
	}

	return p + "?" + q.Encode()
}

// applyMiddleware runs req's middleware in ascending priority order
// (spec.md §4.3 step 6: "lowest numeric = earliest").
func applyMiddleware(req *Request) {
	mw := append([]Middleware(nil), req.Middleware...)

	for i := 0; i < len(mw); i++ {
		min := i

		for j := i + 1; j < len(mw); j++ {
			if mw[j].Priority < mw[min].Priority {
				min = j
			}
		}

		mw[i], mw[min] = mw[min], mw[i]
	}

	for _, m := range mw {
		m.Apply(req)
	}
}

func isTimeout(err error) bool {
	ne, ok := err.(net.Error) //nolint:errorlint
	return ok && ne.Timeout()
}
