package gateway

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"nhooyr.io/websocket"
)

// captureBus records every emitted event for assertion and lets a test
// block until a named event arrives.
type captureBus struct {
	mu     sync.Mutex
	events []string
	waitC  chan string
}

func newCaptureBus() *captureBus {
	return &captureBus{waitC: make(chan string, 64)}
}

func (b *captureBus) Emit(event string, _ ...any) {
	b.mu.Lock()
	b.events = append(b.events, event)
	b.mu.Unlock()

	select {
	case b.waitC <- event:
	default:
	}
}

func (b *captureBus) waitFor(t *testing.T, event string, timeout time.Duration) {
	t.Helper()

	deadline := time.After(timeout)

	for {
		select {
		case e := <-b.waitC:
			if e == event {
				return
			}
		case <-deadline:
			t.Fatalf("timed out waiting for event %q", event)
		}
	}
}

type noopCache struct{}

func (noopCache) Apply(string, json.RawMessage) {}

func wsURL(t *testing.T, httpURL string) string {
	t.Helper()

	return "ws" + strings.TrimPrefix(httpURL, "http")
}

func writeHello(t *testing.T, conn *websocket.Conn, ctx context.Context, intervalMS int64) {
	t.Helper()

	if err := writePayload(ctx, conn, OpcodeHello, helloData{HeartbeatInterval: intervalMS}); err != nil {
		t.Fatalf("writing HELLO: %v", err)
	}
}

func readNext(t *testing.T, conn *websocket.Conn, ctx context.Context) *Payload {
	t.Helper()

	p := new(Payload)
	if err := readPayload(ctx, conn, p); err != nil {
		t.Fatalf("reading payload: %v", err)
	}

	return p
}

// TestSessionFreshConnectHappyPath exercises HELLO -> IDENTIFY -> READY
// (spec.md §8 scenario 1).
func TestSessionFreshConnectHappyPath(t *testing.T) {
	var connNum int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.CloseNow() //nolint:errcheck

		atomic.AddInt32(&connNum, 1)
		ctx := r.Context()

		writeHello(t, conn, ctx, 60000)

		p := readNext(t, conn, ctx)
		if p.Op != OpcodeIdentify {
			t.Errorf("expected IDENTIFY, got opcode %d", p.Op)
		}

		raw, _ := json.Marshal(readyData{SessionID: "abc"})
		env := struct {
			Op int             `json:"op"`
			D  json.RawMessage `json:"d"`
			S  int64           `json:"s"`
			T  string          `json:"t"`
		}{Op: int(OpcodeDispatch), D: raw, S: 1, T: "READY"}

		b, _ := json.Marshal(env)
		conn.Write(ctx, websocket.MessageText, b) //nolint:errcheck

		<-ctx.Done()
	}))
	defer srv.Close()

	bus := newCaptureBus()
	s := New(Config{
		GatewayURL: wsURL(t, srv.URL),
		Token:      "test-token",
		Intents:    513,
		Shard:      [2]int{0, 1},
		Bus:        bus,
		Cache:      noopCache{},
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)

	go func() { done <- s.Open(ctx) }()

	bus.waitFor(t, "ready", 5*time.Second)

	if !s.IsReady() {
		t.Fatalf("session not ready after READY event")
	}

	s.mu.Lock()
	gotSessionID := s.sessionID
	s.mu.Unlock()

	if gotSessionID != "abc" {
		t.Fatalf("sessionID = %q, want abc", gotSessionID)
	}

	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Open returned error after cancel: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("Open did not return after context cancel")
	}
}

// TestSessionInvalidSessionReIdentifies exercises a non-resumable
// INVALID_SESSION forcing a fresh IDENTIFY (spec.md §8 scenario 3).
func TestSessionInvalidSessionReIdentifies(t *testing.T) {
	var connNum int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.CloseNow() //nolint:errcheck

		n := atomic.AddInt32(&connNum, 1)
		ctx := r.Context()

		writeHello(t, conn, ctx, 60000)

		p := readNext(t, conn, ctx)
		if p.Op != OpcodeIdentify {
			t.Errorf("connection %d: expected IDENTIFY, got opcode %d", n, p.Op)
		}

		if n == 1 {
			if err := writePayload(ctx, conn, OpcodeInvalidSession, false); err != nil {
				t.Errorf("writing INVALID_SESSION: %v", err)
			}

			<-ctx.Done()

			return
		}

		raw, _ := json.Marshal(readyData{SessionID: "xyz"})
		env := struct {
			Op int             `json:"op"`
			D  json.RawMessage `json:"d"`
			S  int64           `json:"s"`
			T  string          `json:"t"`
		}{Op: int(OpcodeDispatch), D: raw, S: 1, T: "READY"}
		b, _ := json.Marshal(env)
		conn.Write(ctx, websocket.MessageText, b) //nolint:errcheck

		<-ctx.Done()
	}))
	defer srv.Close()

	bus := newCaptureBus()
	s := New(Config{
		GatewayURL: wsURL(t, srv.URL),
		Token:      "test-token",
		Bus:        bus,
		Cache:      noopCache{},
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)

	go func() { done <- s.Open(ctx) }()

	bus.waitFor(t, "ready", 10*time.Second)

	if atomic.LoadInt32(&connNum) != 2 {
		t.Fatalf("expected exactly 2 connections (fresh IDENTIFY retry), got %d", connNum)
	}

	cancel()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatalf("Open did not return after context cancel")
	}
}

// TestSessionHeartbeatZombieTriggersReconnect exercises a missed
// HEARTBEAT_ACK forcing a client-initiated 4000 close and reconnect
// (spec.md §8 scenario 6).
func TestSessionHeartbeatZombieTriggersReconnect(t *testing.T) {
	var connNum int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.CloseNow() //nolint:errcheck

		n := atomic.AddInt32(&connNum, 1)
		ctx := r.Context()

		writeHello(t, conn, ctx, 100) // 100ms heartbeat interval

		p := readNext(t, conn, ctx)
		if p.Op != OpcodeIdentify && p.Op != OpcodeResume {
			t.Errorf("connection %d: expected IDENTIFY/RESUME, got opcode %d", n, p.Op)
		}

		raw, _ := json.Marshal(readyData{SessionID: "zzz"})
		tName := "READY"
		if p.Op == OpcodeResume {
			raw, tName = nil, "RESUMED"
		}

		env := struct {
			Op int             `json:"op"`
			D  json.RawMessage `json:"d"`
			S  int64           `json:"s"`
			T  string          `json:"t"`
		}{Op: int(OpcodeDispatch), D: raw, S: 1, T: tName}
		b, _ := json.Marshal(env)
		conn.Write(ctx, websocket.MessageText, b) //nolint:errcheck

		if n == 1 {
			// Deliberately never ACK the client's HEARTBEAT.
			_ = readNext(t, conn, ctx) // consumes the HEARTBEAT, sends nothing back
		}

		<-ctx.Done()
	}))
	defer srv.Close()

	bus := newCaptureBus()
	s := New(Config{
		GatewayURL: wsURL(t, srv.URL),
		Token:      "test-token",
		Bus:        bus,
		Cache:      noopCache{},
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)

	go func() { done <- s.Open(ctx) }()

	bus.waitFor(t, "reconnect", 5*time.Second)

	cancel()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatalf("Open did not return after context cancel")
	}
}
