// Package luacord is a Discord bot client library: a REST dispatch
// engine (rate-limit buckets, circuit breaker, connection pooling) and
// a Gateway session engine (handshake, heartbeat, reconnect), sharing a
// cache and an EventBus.
package luacord

import (
	"context"
	"fmt"

	"github.com/Bloby22/luacord/cache"
	"github.com/Bloby22/luacord/eventbus"
	"github.com/Bloby22/luacord/gateway"
	"github.com/Bloby22/luacord/rest"
)

// Client is a configured Discord bot: one REST Engine, one Gateway
// Session, one cache Store and one EventBus wired together.
type Client struct {
	cfg Config

	REST  *rest.Engine
	Cache *cache.Store
	Bus   *eventbus.Bus

	session *gateway.Session
}

// New builds a Client from cfg. It does not connect to the gateway;
// call Open for that.
func New(cfg Config, opts ...Option) (*Client, error) {
	for _, opt := range opts {
		opt(&cfg)
	}

	if cfg.Token == "" {
		return nil, NewError(KindValidation, "luacord: Token is required", nil)
	}

	if cfg.BaseURL == "" || cfg.GatewayURL == "" {
		def := DefaultConfig()
		if cfg.BaseURL == "" {
			cfg.BaseURL = def.BaseURL
		}

		if cfg.GatewayURL == "" {
			cfg.GatewayURL = def.GatewayURL
		}
	}

	log := NewLogger(cfg.Logging)

	engine, err := rest.New(rest.Config{
		BaseURL: cfg.BaseURL,
		Token:   cfg.Token,
		Bucket:  cfg.Request.Bucket,
		Pool:    cfg.Request.Pool,
		Breaker: cfg.Request.Breaker,
		Logger:  log.With().Str(LogCtxClient, "rest").Logger(),
	})
	if err != nil {
		return nil, NewError(KindValidation, "luacord: constructing REST engine", err)
	}

	cfg.Cache.Log = log.With().Str(LogCtxClient, "cache").Logger()
	store := cache.New(cfg.Cache)

	bus := eventbus.New(log.With().Str(LogCtxClient, "eventbus").Logger())

	session := gateway.New(gateway.Config{
		GatewayURL:     cfg.GatewayURL,
		Token:          cfg.Token,
		Intents:        cfg.Intents,
		Shard:          cfg.Shard,
		Presence:       cfg.Presence,
		LargeThreshold: cfg.LargeThreshold,
		ZlibStream:     cfg.ZlibStream,
		Bus:            bus,
		Cache:          store,
		Log:            log.With().Str(LogCtxClient, "gateway").Logger(),
	})

	return &Client{cfg: cfg, REST: engine, Cache: store, Bus: bus, session: session}, nil
}

// Open connects to the Gateway and blocks, driving the reconnect
// lifecycle, until ctx is cancelled or a fatal close code is received.
func (c *Client) Open(ctx context.Context) error {
	return c.session.Open(ctx)
}

// Close releases the REST engine's pooled connections. It does not
// close the gateway session; cancel the context passed to Open for
// that.
func (c *Client) Close() error {
	if err := c.REST.Close(); err != nil {
		return fmt.Errorf("luacord: closing REST engine: %w", err)
	}

	return nil
}

// On registers a listener for a gateway event name (e.g. "MESSAGE_CREATE",
// "ready", "resumed", "reconnect", "close", "error").
func (c *Client) On(event string, fn eventbus.Listener) eventbus.Subscription {
	return c.Bus.On(event, fn)
}

// Once registers a listener that fires at most once.
func (c *Client) Once(event string, fn eventbus.Listener) eventbus.Subscription {
	return c.Bus.Once(event, fn)
}

// Session exposes the underlying Gateway session for command sends
// (RequestGuildMembers, UpdatePresence, UpdateVoiceState).
func (c *Client) Session() *gateway.Session { return c.session }
