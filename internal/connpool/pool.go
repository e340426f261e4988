// Package connpool implements the reusable, health-tracked TLS
// connection pool described in spec.md §3/§4.4.
//
// The pool owns the decision of *which* underlying connection a request
// may use — reuse, fresh dial, or emergency overflow — and leaves the
// actual request/response framing to the caller (rest.Engine borrows a
// *Conn from Get and writes/reads fasthttp's raw Request/Response wire
// format directly over it). The pool's bookkeeping governs the
// admission decision and the idle-eviction/health-check sweep, which is
// where spec.md's invariants live.
package connpool

import (
	"context"
	"crypto/tls"
	"errors"
	"math/rand"
	"net"
	"sort"
	"sync"
	"time"
)

// Priority mirrors ratelimit.Priority without importing it, so connpool
// has no dependency on the rate-limit package.
type Priority uint8

const (
	PriorityCritical Priority = iota
	PriorityHigh
	PriorityNormal
	PriorityLow
	PriorityBackground
)

func (p Priority) emergencyEligible() bool { return p <= PriorityHigh }

// ErrPoolExhausted is returned when the pool is at max_connections and
// the request's priority doesn't qualify for an emergency connection.
var ErrPoolExhausted = errors.New("connpool: pool exhausted")

// Strategy selects among multiple resolved addresses for one host.
type Strategy int

const (
	RoundRobin Strategy = iota
	LeastConnections
	Random
)

// Config configures a Pool.
type Config struct {
	MaxConnections      int
	MaxIdleTime         time.Duration
	KeepAliveTimeout    time.Duration
	HealthCheckInterval time.Duration
	HealthCheckTimeout  time.Duration
	Strategy            Strategy
	TLSConfig           *tls.Config
	Dialer              net.Dialer
}

// Conn is a pooled, health-tracked connection.
type Conn struct {
	net.Conn

	Host            string
	Port            string
	InUse           bool
	LastUsed        time.Time
	RequestsHandled int
	Emergency       bool
	closed          bool
}

// endpoint tracks every connection (in use or idle) for one host:port.
type endpoint struct {
	conns   []*Conn
	rrIndex int
}

// Pool is a reusable TLS connection pool shared by every in-flight REST
// request, guarded by a single mutex held only long enough to pick or
// place a connection (spec.md §5).
type Pool struct {
	mu        sync.Mutex
	cfg       Config
	endpoints map[string]*endpoint

	stopHealth chan struct{}
	healthOnce sync.Once
}

// New creates a Pool. Sensible defaults are applied for zero-valued
// fields so a caller can pass a partially-specified Config.
func New(cfg Config) *Pool {
	if cfg.MaxConnections <= 0 {
		cfg.MaxConnections = 10
	}

	if cfg.MaxIdleTime <= 0 {
		cfg.MaxIdleTime = 90 * time.Second
	}

	if cfg.KeepAliveTimeout <= 0 {
		cfg.KeepAliveTimeout = 90 * time.Second
	}

	if cfg.HealthCheckInterval <= 0 {
		cfg.HealthCheckInterval = 30 * time.Second
	}

	if cfg.HealthCheckTimeout <= 0 {
		cfg.HealthCheckTimeout = 2 * time.Second
	}

	return &Pool{cfg: cfg, endpoints: make(map[string]*endpoint)}
}

func key(host, port string) string { return host + ":" + port }

// Get returns a connection to host:port, reusing the newest-used healthy
// idle connection if one exists, dialing fresh if under max_connections,
// or — for priority <= High — dialing an emergency connection above the
// cap that is closed on Release instead of returned to the pool
// (spec.md §4.4).
func (p *Pool) Get(ctx context.Context, host, port string, addrs []string, priority Priority) (*Conn, error) {
	p.mu.Lock()

	ep, ok := p.endpoints[key(host, port)]
	if !ok {
		ep = &endpoint{}
		p.endpoints[key(host, port)] = ep
	}

	if c := ep.takeIdle(p.cfg.KeepAliveTimeout); c != nil {
		p.mu.Unlock()

		return c, nil
	}

	active := ep.activeCount()
	if active >= p.cfg.MaxConnections && !priority.emergencyEligible() {
		p.mu.Unlock()

		return nil, ErrPoolExhausted
	}

	emergency := active >= p.cfg.MaxConnections
	p.mu.Unlock()

	addr := p.pickAddress(host, port, addrs, ep)

	raw, err := p.cfg.Dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}

	var netConn net.Conn = raw
	if p.cfg.TLSConfig != nil {
		tlsConn := tls.Client(raw, p.cfg.TLSConfig)
		if err := tlsConn.HandshakeContext(ctx); err != nil {
			raw.Close()

			return nil, err
		}

		netConn = tlsConn
	}

	c := &Conn{
		Conn:      netConn,
		Host:      host,
		Port:      port,
		InUse:     true,
		LastUsed:  time.Now(),
		Emergency: emergency,
	}

	p.mu.Lock()
	ep.conns = append(ep.conns, c)
	p.mu.Unlock()

	return c, nil
}

// pickAddress chooses among addrs (multiple resolved addresses for the
// same host) per the configured load-balancing Strategy. If addrs is
// empty, host:port is dialed directly.
func (p *Pool) pickAddress(host, port string, addrs []string, ep *endpoint) string {
	if len(addrs) == 0 {
		return net.JoinHostPort(host, port)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	switch p.cfg.Strategy {
	case Random:
		return net.JoinHostPort(addrs[rand.Intn(len(addrs))], port) //nolint:gosec

	case LeastConnections:
		counts := make(map[string]int, len(addrs))
		for _, c := range ep.conns {
			counts[connAddrHost(c)]++
		}

		best := addrs[0]
		for _, a := range addrs[1:] {
			if counts[a] < counts[best] {
				best = a
			}
		}

		return net.JoinHostPort(best, port)

	default: // RoundRobin
		addr := addrs[ep.rrIndex%len(addrs)]
		ep.rrIndex++

		return net.JoinHostPort(addr, port)
	}
}

func connAddrHost(c *Conn) string {
	host, _, err := net.SplitHostPort(c.Conn.RemoteAddr().String())
	if err != nil {
		return c.Host
	}

	return host
}

// Release returns c to the pool for reuse, or closes it if it is an
// emergency connection or the caller indicates it is no longer usable.
func (p *Pool) Release(c *Conn, reusable bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	c.InUse = false
	c.LastUsed = time.Now()
	c.RequestsHandled++

	if c.Emergency || !reusable {
		p.removeAndClose(c)
	}
}

// removeAndClose removes c from its endpoint's list and closes the
// underlying connection. Caller must hold p.mu.
func (p *Pool) removeAndClose(c *Conn) {
	ep, ok := p.endpoints[key(c.Host, c.Port)]
	if ok {
		for i, ec := range ep.conns {
			if ec == c {
				ep.conns = append(ep.conns[:i], ep.conns[i+1:]...)

				break
			}
		}
	}

	if !c.closed {
		c.closed = true
		c.Conn.Close()
	}
}

// takeIdle returns the newest-used healthy idle connection, or nil. An
// idle connection that has sat past keepAliveTimeout since its last use
// is closed and dropped instead of being handed back out (spec.md §4.4:
// not idle beyond keepalive_timeout). Caller must hold the Pool's mutex
// (invoked only from Get).
func (e *endpoint) takeIdle(keepAliveTimeout time.Duration) *Conn {
	now := time.Now()
	idle := make([]*Conn, 0, len(e.conns))

	kept := e.conns[:0]

	for _, c := range e.conns {
		if c.InUse || c.closed {
			kept = append(kept, c)

			continue
		}

		if keepAliveTimeout > 0 && now.Sub(c.LastUsed) > keepAliveTimeout {
			c.closed = true
			c.Conn.Close()

			continue
		}

		kept = append(kept, c)
		idle = append(idle, c)
	}

	e.conns = kept

	if len(idle) == 0 {
		return nil
	}

	sort.Slice(idle, func(i, j int) bool { return idle[i].LastUsed.After(idle[j].LastUsed) })

	chosen := idle[0]
	chosen.InUse = true

	return chosen
}

// activeCount returns the number of non-emergency connections currently
// tracked (in use or idle) for the endpoint, per the max_connections
// invariant in spec.md §3.
func (e *endpoint) activeCount() int {
	n := 0

	for _, c := range e.conns {
		if !c.Emergency {
			n++
		}
	}

	return n
}

// StartHealthChecks launches the periodic sweep described in spec.md
// §4.4: evicts connections idle beyond max_idle_time and (if probe is
// non-nil) closes any connection that fails a health probe. It returns
// immediately; call Close to stop the sweep.
func (p *Pool) StartHealthChecks(ctx context.Context, probe func(*Conn) bool) {
	p.healthOnce.Do(func() {
		p.stopHealth = make(chan struct{})

		go func() {
			ticker := time.NewTicker(p.cfg.HealthCheckInterval)
			defer ticker.Stop()

			for {
				select {
				case <-ticker.C:
					p.sweep(probe)
				case <-p.stopHealth:
					return
				case <-ctx.Done():
					return
				}
			}
		}()
	})
}

func (p *Pool) sweep(probe func(*Conn) bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := time.Now()

	for _, ep := range p.endpoints {
		keep := ep.conns[:0]

		for _, c := range ep.conns {
			if c.InUse {
				keep = append(keep, c)

				continue
			}

			if now.Sub(c.LastUsed) > p.cfg.MaxIdleTime {
				c.closed = true
				c.Conn.Close()

				continue
			}

			if probe != nil && !probe(c) {
				c.closed = true
				c.Conn.Close()

				continue
			}

			keep = append(keep, c)
		}

		ep.conns = keep
	}
}

// Close stops the health-check sweep and closes every tracked connection.
func (p *Pool) Close() error {
	if p.stopHealth != nil {
		close(p.stopHealth)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	for _, ep := range p.endpoints {
		for _, c := range ep.conns {
			if !c.closed {
				c.closed = true
				c.Conn.Close()
			}
		}

		ep.conns = nil
	}

	return nil
}
