package cache

import json "github.com/goccy/go-json"

// Member is the cached subset of a Discord guild member object.
type Member struct {
	Entry

	GuildID string   `json:"-"`
	User    User     `json:"user"`
	Nick    string   `json:"nick"`
	Roles   []string `json:"roles"`
}

// GetMember returns the cached member and whether it was present.
func (s *Store) GetMember(guildID, userID string) (Member, bool) {
	s.membersMu.RLock()
	defer s.membersMu.RUnlock()

	m, ok := s.members[memberKey{guildID, userID}]

	return m, ok
}

// HasMember reports whether (guildID, userID) is cached.
func (s *Store) HasMember(guildID, userID string) bool {
	_, ok := s.GetMember(guildID, userID)

	return ok
}

// CountGuildMembers returns the number of cached members for guildID.
func (s *Store) CountGuildMembers(guildID string) int {
	s.membersMu.RLock()
	defer s.membersMu.RUnlock()

	n := 0

	for k := range s.members {
		if k.GuildID == guildID {
			n++
		}
	}

	return n
}

// PutMember inserts or overwrites a cached member.
func (s *Store) PutMember(m Member) {
	s.membersMu.Lock()
	s.members[memberKey{m.GuildID, m.User.ID}] = m
	s.membersMu.Unlock()
}

// DelMember removes a cached member, reporting whether it existed.
func (s *Store) DelMember(guildID, userID string) bool {
	s.membersMu.Lock()
	defer s.membersMu.Unlock()

	k := memberKey{guildID, userID}
	_, ok := s.members[k]
	delete(s.members, k)

	return ok
}

func (s *Store) applyMember(guildID string, raw json.RawMessage) {
	var m Member
	if err := json.Unmarshal(raw, &m); err != nil {
		s.cfg.Log.Warn().Err(err).Msg("cache: decoding member payload")

		return
	}

	m.GuildID = guildID
	m.Raw = raw
	s.PutMember(m)
}

func (s *Store) applyMemberRemove(raw json.RawMessage) {
	var d struct {
		GuildID string `json:"guild_id"`
		User    struct {
			ID string `json:"id"`
		} `json:"user"`
	}
	if err := json.Unmarshal(raw, &d); err != nil {
		s.cfg.Log.Warn().Err(err).Msg("cache: decoding member remove payload")

		return
	}

	s.DelMember(d.GuildID, d.User.ID)
}
