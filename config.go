package luacord

import (
	"time"

	json "github.com/goccy/go-json"
	"gopkg.in/yaml.v2"

	"github.com/Bloby22/luacord/cache"
	"github.com/Bloby22/luacord/internal/circuitbreaker"
	"github.com/Bloby22/luacord/internal/connpool"
	"github.com/Bloby22/luacord/internal/ratelimit"
)

// Config configures a Client. New defaults only an empty BaseURL or
// GatewayURL; the Request sub-configs are defaulted by their own
// constructors, and every other zero-value field is used as given (a
// zero Cache.Flags caches nothing).
type Config struct {
	Token      string
	BaseURL    string // REST base URL, defaults to https://discord.com/api/v10
	GatewayURL string // Gateway base URL, defaults to wss://gateway.discord.gg

	Intents        int
	Shard          [2]int
	Presence       json.RawMessage
	LargeThreshold int
	ZlibStream     bool

	// Request configures the REST engine's rate-limit bucket, connection
	// pool, and circuit breaker (spec.md §4, "Configuration").
	Request RequestConfig

	Cache   cache.Config
	Logging LoggingConfig
}

// RequestConfig groups the knobs rest.Engine is built from. Each
// sub-config's own constructor defaults any zero-valued field, so
// RequestConfig{} is always safe to pass through as-is.
type RequestConfig struct {
	Bucket  ratelimit.Config
	Pool    connpool.Config
	Breaker circuitbreaker.Config
}

// DefaultRequestConfig returns the rate-limit/pool/breaker defaults a
// Client uses unless overridden with WithRequestConfig.
func DefaultRequestConfig() RequestConfig {
	return RequestConfig{
		Bucket: ratelimit.Config{
			BurstCapacity: 2,
			MaxQueueSize:  1000,
			JitterFactor:  0.1,
		},
		Pool: connpool.Config{
			MaxConnections:      10,
			MaxIdleTime:         90 * time.Second,
			KeepAliveTimeout:    90 * time.Second,
			HealthCheckInterval: 30 * time.Second,
			HealthCheckTimeout:  2 * time.Second,
		},
		Breaker: circuitbreaker.Config{
			FailureThreshold:  5,
			SuccessThreshold:  2,
			OpenTimeout:       30 * time.Second,
			HalfOpenMaxProbes: 1,
		},
	}
}

// Option mutates a Config during construction.
type Option func(*Config)

// WithToken sets the bot token used for both REST Authorization headers
// and gateway IDENTIFY.
func WithToken(token string) Option {
	return func(c *Config) { c.Token = token }
}

// WithIntents sets the gateway intents bitfield (spec.md §6).
func WithIntents(intents int) Option {
	return func(c *Config) { c.Intents = intents }
}

// WithShard sets the [shard_id, num_shards] pair sent in IDENTIFY.
func WithShard(id, count int) Option {
	return func(c *Config) { c.Shard = [2]int{id, count} }
}

// WithCacheFlags selects which resources the cache retains.
func WithCacheFlags(flags cache.Flags) Option {
	return func(c *Config) { c.Cache.Flags = flags }
}

// WithLogging overrides the default logging configuration.
func WithLogging(l LoggingConfig) Option {
	return func(c *Config) { c.Logging = l }
}

// WithRequestConfig overrides the REST engine's rate-limit, pool, and
// circuit-breaker knobs.
func WithRequestConfig(r RequestConfig) Option {
	return func(c *Config) { c.Request = r }
}

// DefaultConfig returns a Config with Discord's production endpoints
// and every cache resource enabled.
func DefaultConfig() Config {
	return Config{
		BaseURL:    "https://discord.com/api/v10",
		GatewayURL: "wss://gateway.discord.gg",
		Request:    DefaultRequestConfig(),
		Cache:      cache.Config{Flags: cache.FlagsAll},
		Logging:    DefaultLoggingConfig(),
	}
}

// configFile mirrors the exported fields of Config that are sensible
// to source from YAML (tokens are typically supplied separately).
type configFile struct {
	Intents        int    `yaml:"intents"`
	Shard          [2]int `yaml:"shard"`
	LargeThreshold int    `yaml:"large_threshold"`
	ZlibStream     bool   `yaml:"zlib_stream"`
	BaseURL        string `yaml:"base_url"`
	GatewayURL     string `yaml:"gateway_url"`
}

// LoadConfigYAML layers YAML-sourced fields onto base, returning the
// merged Config. Use for operational settings (intents, shard count,
// endpoints); pass secrets like Token separately.
func LoadConfigYAML(base Config, data []byte) (Config, error) {
	var f configFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return base, NewError(KindParse, "decoding YAML config", err)
	}

	if f.Intents != 0 {
		base.Intents = f.Intents
	}

	if f.Shard != [2]int{} {
		base.Shard = f.Shard
	}

	if f.LargeThreshold != 0 {
		base.LargeThreshold = f.LargeThreshold
	}

	if f.ZlibStream {
		base.ZlibStream = true
	}

	if f.BaseURL != "" {
		base.BaseURL = f.BaseURL
	}

	if f.GatewayURL != "" {
		base.GatewayURL = f.GatewayURL
	}

	return base, nil
}
