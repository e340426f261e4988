package cache

import json "github.com/goccy/go-json"

// Channel is the cached subset of a Discord channel object.
type Channel struct {
	Entry

	ID      string `json:"id"`
	GuildID string `json:"guild_id"`
	Name    string `json:"name"`
	Type    int    `json:"type"`
}

// GetChannel returns the cached channel and whether it was present.
func (s *Store) GetChannel(channelID string) (Channel, bool) {
	s.channelsMu.RLock()
	defer s.channelsMu.RUnlock()

	c, ok := s.channels[channelID]

	return c, ok
}

// HasChannel reports whether channelID is cached.
func (s *Store) HasChannel(channelID string) bool {
	_, ok := s.GetChannel(channelID)

	return ok
}

// CountChannels returns the number of cached channels.
func (s *Store) CountChannels() int {
	s.channelsMu.RLock()
	defer s.channelsMu.RUnlock()

	return len(s.channels)
}

// PutChannel inserts or overwrites a cached channel.
func (s *Store) PutChannel(c Channel) {
	s.channelsMu.Lock()
	s.channels[c.ID] = c
	s.channelsMu.Unlock()
}

// DelChannel removes a cached channel, reporting whether it existed.
func (s *Store) DelChannel(channelID string) bool {
	s.channelsMu.Lock()
	defer s.channelsMu.Unlock()

	_, ok := s.channels[channelID]
	delete(s.channels, channelID)

	return ok
}

func (s *Store) applyChannel(raw json.RawMessage) {
	var c Channel
	if err := json.Unmarshal(raw, &c); err != nil {
		s.cfg.Log.Warn().Err(err).Msg("cache: decoding channel payload")

		return
	}

	c.Raw = raw
	s.PutChannel(c)
}

func (s *Store) applyChannelDelete(raw json.RawMessage) {
	var d struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(raw, &d); err != nil {
		s.cfg.Log.Warn().Err(err).Msg("cache: decoding channel delete payload")

		return
	}

	s.DelChannel(d.ID)
}
