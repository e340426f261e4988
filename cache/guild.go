package cache

import json "github.com/goccy/go-json"

// Guild is the cached subset of a Discord guild object.
type Guild struct {
	Entry

	ID          string `json:"id"`
	Name        string `json:"name"`
	OwnerID     string `json:"owner_id"`
	Unavailable bool   `json:"unavailable"`
	MemberCount int    `json:"member_count"`
}

// GetGuild returns the cached guild and whether it was present.
func (s *Store) GetGuild(guildID string) (Guild, bool) {
	s.guildsMu.RLock()
	defer s.guildsMu.RUnlock()

	g, ok := s.guilds[guildID]

	return g, ok
}

// HasGuild reports whether guildID is cached.
func (s *Store) HasGuild(guildID string) bool {
	_, ok := s.GetGuild(guildID)

	return ok
}

// CountGuilds returns the number of cached guilds.
func (s *Store) CountGuilds() int {
	s.guildsMu.RLock()
	defer s.guildsMu.RUnlock()

	return len(s.guilds)
}

// PutGuild inserts or overwrites a cached guild.
func (s *Store) PutGuild(g Guild) {
	s.guildsMu.Lock()
	s.guilds[g.ID] = g
	s.guildsMu.Unlock()
}

// DelGuild removes a cached guild, reporting whether it existed.
func (s *Store) DelGuild(guildID string) bool {
	s.guildsMu.Lock()
	defer s.guildsMu.Unlock()

	_, ok := s.guilds[guildID]
	delete(s.guilds, guildID)

	return ok
}

func (s *Store) applyGuild(raw json.RawMessage) {
	var g Guild
	if err := json.Unmarshal(raw, &g); err != nil {
		s.cfg.Log.Warn().Err(err).Msg("cache: decoding guild payload")

		return
	}

	g.Raw = raw
	s.PutGuild(g)
}

func (s *Store) applyGuildDelete(raw json.RawMessage) {
	var d struct {
		ID          string `json:"id"`
		Unavailable bool   `json:"unavailable"`
	}
	if err := json.Unmarshal(raw, &d); err != nil {
		s.cfg.Log.Warn().Err(err).Msg("cache: decoding guild delete payload")

		return
	}

	if d.Unavailable {
		if g, ok := s.GetGuild(d.ID); ok {
			g.Unavailable = true
			s.PutGuild(g)
		}

		return
	}

	s.DelGuild(d.ID)
}
