// Package cache holds the read-through, gateway-populated state store:
// guilds, channels, users and members. It is mutated only by gateway
// dispatch (through Store.Apply, which satisfies gateway.CacheUpdater)
// and is otherwise read-only to user code, grounded on the CacheManager/
// InMemoryCacheManager split in marouanesouiri-dwaz's cache.go.
package cache

import (
	"sync"

	json "github.com/goccy/go-json"
	"github.com/rs/zerolog"
)

// Flags selects which resource kinds the Store retains. Disabling a
// flag keeps Apply a no-op for that resource, trading memory for
// incomplete state.
type Flags int

const (
	FlagGuilds Flags = 1 << iota
	FlagChannels
	FlagUsers
	FlagMembers

	FlagsNone Flags = 0
	FlagsAll        = FlagGuilds | FlagChannels | FlagUsers | FlagMembers
)

// Has reports whether f contains bit.
func (f Flags) Has(bit Flags) bool { return f&bit != 0 }

// Entry wraps a cached resource's raw JSON alongside its decoded
// fields, so fields the decoded struct doesn't know about survive a
// round trip to user code (spec.md §9 open question: unknown fields
// are preserved via a side-channel rather than dropped).
type Entry struct {
	Raw json.RawMessage
}

// memberKey identifies a guild member by (guild, user) snowflake pair.
type memberKey struct {
	GuildID string
	UserID  string
}

// Config configures a Store.
type Config struct {
	Flags Flags

	// LegacyDiscriminatorAvatars makes User.DefaultAvatarIndex use the
	// pre-2023 discriminator%5 formula instead of the pomelo-era
	// (id>>22)%6 formula for users with a real discriminator; users with
	// discriminator "0" always use the ID formula (spec.md §9 open
	// question 2).
	LegacyDiscriminatorAvatars bool

	Log zerolog.Logger
}

// Store is an in-memory, concurrency-safe cache of gateway-observed
// Discord resources, keyed by snowflake ID treated as an opaque string
// (spec.md §9 open question 1: no snowflake decode/epoch math is in
// scope).
type Store struct {
	cfg Config

	guildsMu sync.RWMutex
	guilds   map[string]Guild

	channelsMu sync.RWMutex
	channels   map[string]Channel

	usersMu sync.RWMutex
	users   map[string]User

	membersMu sync.RWMutex
	members   map[memberKey]Member
}

// New creates an empty Store.
func New(cfg Config) *Store {
	return &Store{
		cfg:      cfg,
		guilds:   make(map[string]Guild),
		channels: make(map[string]Channel),
		users:    make(map[string]User),
		members:  make(map[memberKey]Member),
	}
}

// Flags returns the Store's active resource flags.
func (s *Store) Flags() Flags { return s.cfg.Flags }
