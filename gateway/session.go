// Package gateway implements the WebSocket Gateway session engine:
// HELLO/IDENTIFY/RESUME handshakes, heartbeat liveness, sequence
// tracking, the reconnect ladder and opcode dispatch (spec.md §4.5).
//
// A Session is a single-threaded cooperative state machine pinned to
// one goroutine tree (spec.md §5): its state fields are never touched
// directly, only through the accessor methods, which take a short-lived
// lock. The session's own goroutines (read loop, heartbeat loop) are
// supervised with an errgroup.Group, the same pattern the teacher
// library's session_manager.go uses, so every goroutine spawned for a
// connection has exited before that connection cycle (runOnce) returns.
package gateway

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	json "github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
	"nhooyr.io/websocket"

	"github.com/Bloby22/luacord/internal/errs"
)

// Status is a GatewaySession lifecycle state (spec.md §3).
type Status int

const (
	StatusDisconnected Status = iota
	StatusConnecting
	StatusIdentifying
	StatusResuming
	StatusReady
	StatusReconnecting
	StatusDisconnecting
)

func (s Status) String() string {
	switch s {
	case StatusDisconnected:
		return "disconnected"
	case StatusConnecting:
		return "connecting"
	case StatusIdentifying:
		return "identifying"
	case StatusResuming:
		return "resuming"
	case StatusReady:
		return "ready"
	case StatusReconnecting:
		return "reconnecting"
	case StatusDisconnecting:
		return "disconnecting"
	default:
		return "unknown"
	}
}

// CacheUpdater receives every DISPATCH payload so the cache layer can
// mutate its stores before the EventBus notifies user listeners
// (spec.md §5: "cache updates for a given dispatch complete before
// listeners run").
type CacheUpdater interface {
	Apply(eventType string, data json.RawMessage)
}

// Bus is the subset of eventbus.Bus the gateway depends on.
type Bus interface {
	Emit(event string, args ...any)
}

// Config configures a Session.
type Config struct {
	GatewayURL string // base URL, e.g. wss://gateway.discord.gg
	Token      string
	Intents    int
	Shard      [2]int
	Presence   json.RawMessage

	LargeThreshold int
	ZlibStream     bool

	HelloTimeout time.Duration

	Bus   Bus
	Cache CacheUpdater
	Log   zerolog.Logger
}

// Session is one Discord Gateway connection (spec.md §3).
type Session struct {
	cfg Config

	mu                  sync.Mutex
	status              Status
	sessionID           string
	resumeGatewayURL    string
	sequence            int64
	haveSequence        bool
	heartbeatIntervalMS int64
	lastHeartbeatSentAt time.Time
	lastHeartbeatACK    bool
	heartbeatsSent      int

	writeMu    sync.Mutex
	cmdLimiter *rate.Limiter
	activeConn *websocket.Conn

	reconnectAttempt int
}

// New creates a disconnected Session.
func New(cfg Config) *Session {
	if cfg.HelloTimeout <= 0 {
		cfg.HelloTimeout = 10 * time.Second
	}

	// A burst of 60 plus one token per second keeps any 60s window at or
	// under 120 commands.
	return &Session{
		cfg:        cfg,
		status:     StatusDisconnected,
		lastHeartbeatACK: true,
		cmdLimiter: rate.NewLimiter(rate.Every(time.Second), 60),
	}
}

// Status returns the session's current lifecycle state.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.status
}

// IsReady reports whether the session has completed its handshake.
func (s *Session) IsReady() bool { return s.Status() == StatusReady }

func (s *Session) setStatus(v Status) {
	s.mu.Lock()
	s.status = v
	s.mu.Unlock()
}

// Open drives the session's connect/resume/reconnect lifecycle until
// ctx is cancelled or a fatal close code is received, in which case a
// *errs.Error with Kind GATEWAY_FATAL is returned (spec.md §7: the only
// error the gateway surfaces to user code).
func (s *Session) Open(ctx context.Context) error {
	resume := false

	for {
		if ctx.Err() != nil {
			s.setStatus(StatusDisconnected)

			return nil
		}

		err := s.runOnce(ctx, resume)
		if err == nil {
			s.setStatus(StatusDisconnected)

			return nil
		}

		var fatal *errs.Error
		if asFatal(err, &fatal) {
			s.setStatus(StatusDisconnected)

			if s.cfg.Bus != nil {
				s.cfg.Bus.Emit("close", fatal)
			}

			return fatal
		}

		resume = s.sessionIDKnown()

		s.setStatus(StatusReconnecting)

		if s.cfg.Bus != nil {
			s.cfg.Bus.Emit("reconnect", err)
		}

		s.mu.Lock()
		attempt := s.reconnectAttempt
		s.reconnectAttempt++
		s.mu.Unlock()

		delay := backoffLadder(attempt)

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil
		}
	}
}

func asFatal(err error, out **errs.Error) bool {
	e, ok := err.(*errs.Error) //nolint:errorlint
	if !ok || e.Kind != errs.KindGatewayFatal {
		return false
	}

	*out = e

	return true
}

func (s *Session) sessionIDKnown() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.sessionID != ""
}

func (s *Session) resetReconnectAttempt() {
	s.mu.Lock()
	s.reconnectAttempt = 0
	s.mu.Unlock()
}

// runOnce performs exactly one connect-handshake-serve cycle, returning
// nil only if ctx was cancelled mid-serve, a reconnectable error
// otherwise, or a GATEWAY_FATAL *errs.Error for a non-reconnectable
// close code.
func (s *Session) runOnce(ctx context.Context, resume bool) error {
	s.setStatus(StatusConnecting)

	target := s.cfg.GatewayURL
	s.mu.Lock()
	if resume && s.resumeGatewayURL != "" {
		target = s.resumeGatewayURL
	}
	s.mu.Unlock()

	conn, _, err := websocket.Dial(ctx, s.dialURL(target), nil)
	if err != nil {
		return fmt.Errorf("gateway: dial: %w", err)
	}
	defer conn.CloseNow() //nolint:errcheck

	s.mu.Lock()
	s.activeConn = conn
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.activeConn = nil
		s.mu.Unlock()
	}()

	helloCtx, cancel := context.WithTimeout(ctx, s.cfg.HelloTimeout)
	hello, err := s.expectHello(helloCtx, conn)
	cancel()

	if err != nil {
		return fmt.Errorf("gateway: waiting for HELLO: %w", err)
	}

	s.mu.Lock()
	s.heartbeatIntervalMS = hello.HeartbeatInterval
	s.lastHeartbeatACK = true
	s.heartbeatsSent = 0
	s.mu.Unlock()

	if resume {
		if err := s.sendResume(ctx, conn); err != nil {
			return err
		}

		s.setStatus(StatusResuming)
	} else {
		if err := s.sendIdentify(ctx, conn); err != nil {
			return err
		}

		s.setStatus(StatusIdentifying)
	}

	group, gctx := errgroup.WithContext(ctx)

	group.Go(func() error {
		return s.heartbeatLoop(gctx, conn, time.Duration(hello.HeartbeatInterval)*time.Millisecond)
	})

	group.Go(func() error {
		return s.readLoop(gctx, conn)
	})

	err = group.Wait()

	if ctx.Err() != nil {
		conn.Close(websocket.StatusNormalClosure, "closing")

		return nil
	}

	return err
}

func (s *Session) dialURL(base string) string {
	u, err := url.Parse(base)
	if err != nil {
		return base
	}

	q := u.Query()
	q.Set("v", "10")
	q.Set("encoding", "json")

	if s.cfg.ZlibStream {
		q.Set("compress", "zlib-stream")
	}

	u.RawQuery = q.Encode()

	return u.String()
}

func (s *Session) expectHello(ctx context.Context, conn *websocket.Conn) (helloData, error) {
	p := getPayload()
	defer putPayload(p)

	if err := readPayload(ctx, conn, p); err != nil {
		return helloData{}, err
	}

	if p.Op != OpcodeHello {
		return helloData{}, fmt.Errorf("gateway: expected HELLO, got opcode %d", p.Op)
	}

	var h helloData
	if err := json.Unmarshal(p.D, &h); err != nil {
		return helloData{}, fmt.Errorf("gateway: decoding HELLO: %w", err)
	}

	return h, nil
}

func (s *Session) sendIdentify(ctx context.Context, conn *websocket.Conn) error {
	data := identifyData{
		Token:          s.cfg.Token,
		Intents:        s.cfg.Intents,
		Properties:     identifyProps{OS: "linux", Browser: "luacord", Device: "luacord"},
		LargeThreshold: s.cfg.LargeThreshold,
		Shard:          s.cfg.Shard,
	}

	if len(s.cfg.Presence) > 0 {
		raw := json.RawMessage(s.cfg.Presence)
		data.Presence = &raw
	}

	return s.writeCommand(ctx, conn, OpcodeIdentify, data)
}

func (s *Session) sendResume(ctx context.Context, conn *websocket.Conn) error {
	s.mu.Lock()
	data := resumeData{Token: s.cfg.Token, SessionID: s.sessionID, Seq: s.sequence}
	s.mu.Unlock()

	return s.writeCommand(ctx, conn, OpcodeResume, data)
}

// Send issues an ad-hoc gateway command on the current connection. It
// returns an error if the session has no active connection (not yet
// connected, or mid-reconnect).
func (s *Session) Send(ctx context.Context, op Opcode, data any) error {
	s.mu.Lock()
	conn := s.activeConn
	s.mu.Unlock()

	if conn == nil {
		return fmt.Errorf("gateway: Send: no active connection")
	}

	return s.writeCommand(ctx, conn, op, data)
}

// requestGuildMembersData is the REQUEST_GUILD_MEMBERS command's d
// payload (spec.md §6).
type requestGuildMembersData struct {
	GuildID   string   `json:"guild_id"`
	Query     string   `json:"query"`
	Limit     int      `json:"limit"`
	Presences bool     `json:"presences,omitempty"`
	UserIDs   []string `json:"user_ids,omitempty"`
	Nonce     string   `json:"nonce,omitempty"`
}

// RequestGuildMembers sends opcode 8 to chunk-request a guild's member
// list (spec.md §6).
func (s *Session) RequestGuildMembers(ctx context.Context, guildID, query string, limit int, userIDs []string) error {
	return s.Send(ctx, OpcodeRequestGuildMembers, requestGuildMembersData{
		GuildID: guildID,
		Query:   query,
		Limit:   limit,
		UserIDs: userIDs,
	})
}

// UpdatePresence sends opcode 3 with a caller-supplied presence payload
// (spec.md §6). Callers marshal their own presence shape.
func (s *Session) UpdatePresence(ctx context.Context, presence json.RawMessage) error {
	return s.Send(ctx, OpcodePresenceUpdate, presence)
}

// voiceStateUpdateData is the VOICE_STATE_UPDATE command's d payload.
type voiceStateUpdateData struct {
	GuildID   string  `json:"guild_id"`
	ChannelID *string `json:"channel_id"`
	SelfMute  bool    `json:"self_mute"`
	SelfDeaf  bool    `json:"self_deaf"`
}

// UpdateVoiceState sends opcode 4 to join, move, or leave a voice
// channel. A nil channelID leaves voice.
func (s *Session) UpdateVoiceState(ctx context.Context, guildID string, channelID *string, selfMute, selfDeaf bool) error {
	return s.Send(ctx, OpcodeVoiceStateUpdate, voiceStateUpdateData{
		GuildID:   guildID,
		ChannelID: channelID,
		SelfMute:  selfMute,
		SelfDeaf:  selfDeaf,
	})
}

// writeCommand rate-limits outbound gateway commands to <=120/60s
// (spec.md §4.5) and serializes writes against the heartbeat loop.
func (s *Session) writeCommand(ctx context.Context, conn *websocket.Conn, op Opcode, data any) error {
	if err := s.cmdLimiter.Wait(ctx); err != nil {
		return err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	return writePayload(ctx, conn, op, data)
}

// readLoop reads and dispatches inbound payloads until the connection
// closes or ctx is cancelled.
func (s *Session) readLoop(ctx context.Context, conn *websocket.Conn) error {
	for {
		p := getPayload()

		if err := readPayload(ctx, conn, p); err != nil {
			putPayload(p)

			return classifyCloseError(err)
		}

		err := s.handlePayload(ctx, conn, p)
		putPayload(p)

		if err != nil {
			return err
		}
	}
}

func (s *Session) handlePayload(ctx context.Context, conn *websocket.Conn, p *Payload) error {
	switch p.Op {
	case OpcodeDispatch:
		return s.handleDispatch(p)

	case OpcodeHeartbeat:
		return s.sendHeartbeatNow(ctx, conn)

	case OpcodeHeartbeatACK:
		s.mu.Lock()
		s.lastHeartbeatACK = true
		s.mu.Unlock()

		return nil

	case OpcodeReconnect:
		conn.Close(closeCodeZombie, "server requested reconnect")

		return fmt.Errorf("gateway: server sent RECONNECT")

	case OpcodeInvalidSession:
		return s.handleInvalidSession(ctx, p)

	default:
		return nil
	}
}

func (s *Session) handleDispatch(p *Payload) error {
	if p.S != nil {
		s.mu.Lock()
		if s.haveSequence && *p.S < s.sequence {
			s.mu.Unlock()

			return fmt.Errorf("gateway: sequence regressed from %d to %d", s.sequence, *p.S)
		}

		s.sequence = *p.S
		s.haveSequence = true
		s.mu.Unlock()
	}

	switch p.T {
	case "READY":
		var r readyData
		if err := json.Unmarshal(p.D, &r); err != nil {
			return fmt.Errorf("gateway: decoding READY: %w", err)
		}

		s.mu.Lock()
		s.sessionID = r.SessionID
		s.resumeGatewayURL = r.ResumeGatewayURL
		s.mu.Unlock()
		s.resetReconnectAttempt()

		s.setStatus(StatusReady)

		if s.cfg.Cache != nil {
			s.cfg.Cache.Apply(p.T, p.D)
		}

		if s.cfg.Bus != nil {
			s.cfg.Bus.Emit("ready", r)
		}

	case "RESUMED":
		s.resetReconnectAttempt()
		s.setStatus(StatusReady)

		if s.cfg.Bus != nil {
			s.cfg.Bus.Emit("resumed")
		}

	default:
		if s.cfg.Cache != nil {
			s.cfg.Cache.Apply(p.T, p.D)
		}

		if s.cfg.Bus != nil {
			s.cfg.Bus.Emit(p.T, p.D)
		}
	}

	return nil
}

func (s *Session) handleInvalidSession(ctx context.Context, p *Payload) error {
	var resumable bool
	_ = json.Unmarshal(p.D, &resumable)

	if resumable {
		return fmt.Errorf("gateway: INVALID_SESSION (resumable)")
	}

	select {
	case <-time.After(invalidSessionWait()):
	case <-ctx.Done():
		return ctx.Err()
	}

	s.mu.Lock()
	s.sessionID = ""
	s.haveSequence = false
	s.sequence = 0
	s.mu.Unlock()

	return fmt.Errorf("gateway: INVALID_SESSION (not resumable), re-identifying")
}

// classifyCloseError turns a websocket read error into either a
// reconnectable error or a GATEWAY_FATAL *errs.Error, per spec.md
// §4.5's close-code policy.
func classifyCloseError(err error) error {
	status := websocket.CloseStatus(err)
	if status == -1 {
		return err // not a clean close: network error, treat as reconnectable
	}

	if reason, fatal := CloseCode(status).Fatal(); fatal {
		return errs.New(errs.KindGatewayFatal, reason, err)
	}

	return err
}
