package cache

import (
	"testing"

	json "github.com/goccy/go-json"
	"github.com/rs/zerolog"
)

func newTestStore() *Store {
	return New(Config{Flags: FlagsAll, Log: zerolog.Nop()})
}

func TestApplyGuildCreateAndDelete(t *testing.T) {
	s := newTestStore()

	s.Apply("GUILD_CREATE", json.RawMessage(`{"id":"1","name":"test","owner_id":"2"}`))

	g, ok := s.GetGuild("1")
	if !ok || g.Name != "test" {
		t.Fatalf("GetGuild(1) = %+v, %v", g, ok)
	}

	s.Apply("GUILD_DELETE", json.RawMessage(`{"id":"1","unavailable":false}`))

	if s.HasGuild("1") {
		t.Fatalf("guild 1 still cached after GUILD_DELETE")
	}
}

func TestApplyGuildDeleteUnavailableKeepsEntry(t *testing.T) {
	s := newTestStore()

	s.Apply("GUILD_CREATE", json.RawMessage(`{"id":"1","name":"test"}`))
	s.Apply("GUILD_DELETE", json.RawMessage(`{"id":"1","unavailable":true}`))

	g, ok := s.GetGuild("1")
	if !ok {
		t.Fatalf("guild 1 evicted on outage, want marked unavailable")
	}

	if !g.Unavailable {
		t.Fatalf("guild 1 not marked unavailable")
	}
}

func TestApplyChannelCreateUpdateDelete(t *testing.T) {
	s := newTestStore()

	s.Apply("CHANNEL_CREATE", json.RawMessage(`{"id":"10","guild_id":"1","name":"general","type":0}`))

	c, ok := s.GetChannel("10")
	if !ok || c.Name != "general" {
		t.Fatalf("GetChannel(10) = %+v, %v", c, ok)
	}

	s.Apply("CHANNEL_UPDATE", json.RawMessage(`{"id":"10","guild_id":"1","name":"renamed","type":0}`))

	c, _ = s.GetChannel("10")
	if c.Name != "renamed" {
		t.Fatalf("channel not updated, got name %q", c.Name)
	}

	s.Apply("CHANNEL_DELETE", json.RawMessage(`{"id":"10"}`))

	if s.HasChannel("10") {
		t.Fatalf("channel 10 still cached after CHANNEL_DELETE")
	}
}

func TestApplyMemberAddAndRemove(t *testing.T) {
	s := newTestStore()

	s.Apply("GUILD_MEMBER_ADD", json.RawMessage(`{"guild_id":"1","user":{"id":"99","username":"bob"},"nick":"bobby"}`))

	m, ok := s.GetMember("1", "99")
	if !ok || m.Nick != "bobby" {
		t.Fatalf("GetMember(1,99) = %+v, %v", m, ok)
	}

	if got := s.CountGuildMembers("1"); got != 1 {
		t.Fatalf("CountGuildMembers(1) = %d, want 1", got)
	}

	s.Apply("GUILD_MEMBER_REMOVE", json.RawMessage(`{"guild_id":"1","user":{"id":"99"}}`))

	if s.HasMember("1", "99") {
		t.Fatalf("member still cached after GUILD_MEMBER_REMOVE")
	}
}

func TestApplyRespectsDisabledFlags(t *testing.T) {
	s := New(Config{Flags: FlagsNone, Log: zerolog.Nop()})

	s.Apply("GUILD_CREATE", json.RawMessage(`{"id":"1","name":"test"}`))

	if s.HasGuild("1") {
		t.Fatalf("guild cached despite FlagGuilds disabled")
	}
}

func TestUserDefaultAvatarIndexLegacyFormula(t *testing.T) {
	u := User{Discriminator: "1234"}

	legacy := Config{LegacyDiscriminatorAvatars: true}
	if got := u.DefaultAvatarIndex(legacy); got != 1234%5 {
		t.Fatalf("DefaultAvatarIndex = %d, want %d", got, 1234%5)
	}

	pomelo := User{Discriminator: "0"}
	if got := pomelo.DefaultAvatarIndex(legacy); got != 0 {
		t.Fatalf("pomelo account DefaultAvatarIndex = %d, want 0 (no parsable ID)", got)
	}
}

func TestApplyUnknownEventIsNoop(t *testing.T) {
	s := newTestStore()

	s.Apply("SOME_FUTURE_EVENT", json.RawMessage(`{}`))

	if s.CountGuilds() != 0 || s.CountChannels() != 0 || s.CountUsers() != 0 {
		t.Fatalf("unknown event mutated cache state")
	}
}
