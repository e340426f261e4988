package cache

import json "github.com/goccy/go-json"

// Apply mutates the store from one gateway DISPATCH payload. It
// satisfies gateway.CacheUpdater structurally, so the root package can
// hand a *Store to gateway.Config.Cache without either package
// importing the other.
//
// Apply runs on the gateway's read loop goroutine, strictly before the
// EventBus notifies user listeners for the same dispatch (spec.md §5).
func (s *Store) Apply(eventType string, data json.RawMessage) {
	switch eventType {
	case "GUILD_CREATE", "GUILD_UPDATE":
		if s.cfg.Flags.Has(FlagGuilds) {
			s.applyGuild(data)
		}

	case "GUILD_DELETE":
		if s.cfg.Flags.Has(FlagGuilds) {
			s.applyGuildDelete(data)
		}

	case "CHANNEL_CREATE", "CHANNEL_UPDATE":
		if s.cfg.Flags.Has(FlagChannels) {
			s.applyChannel(data)
		}

	case "CHANNEL_DELETE":
		if s.cfg.Flags.Has(FlagChannels) {
			s.applyChannelDelete(data)
		}

	case "USER_UPDATE":
		if s.cfg.Flags.Has(FlagUsers) {
			s.applyUser(data)
		}

	case "GUILD_MEMBER_ADD", "GUILD_MEMBER_UPDATE":
		if s.cfg.Flags.Has(FlagMembers) {
			var guildID struct {
				GuildID string `json:"guild_id"`
			}
			if err := json.Unmarshal(data, &guildID); err != nil {
				s.cfg.Log.Warn().Err(err).Msg("cache: decoding member guild_id")

				return
			}

			s.applyMember(guildID.GuildID, data)
		}

	case "GUILD_MEMBER_REMOVE":
		if s.cfg.Flags.Has(FlagMembers) {
			s.applyMemberRemove(data)
		}

	default:
		// Not a cached resource; nothing to do.
	}
}
