package cache

import (
	"strconv"

	json "github.com/goccy/go-json"
)

// User is the cached subset of a Discord user object.
type User struct {
	Entry

	ID            string  `json:"id"`
	Username      string  `json:"username"`
	Discriminator string  `json:"discriminator"`
	Avatar        *string `json:"avatar"`
	Bot           bool    `json:"bot"`
}

// DefaultAvatarIndex returns the index Discord uses to pick this
// user's default avatar when Avatar is nil.
//
// With cfg.LegacyDiscriminatorAvatars set, a user carrying a real
// Discriminator (not "" or "0") gets discriminator%5. Every other user,
// including migrated ("pomelo") accounts with Discriminator "0", gets
// (user_id>>22)%6; an ID that does not parse as a decimal uint64 yields 0.
func (u User) DefaultAvatarIndex(cfg Config) int {
	if cfg.LegacyDiscriminatorAvatars && u.Discriminator != "0" && u.Discriminator != "" {
		n := 0
		for _, r := range u.Discriminator {
			n = n*10 + int(r-'0')
		}

		return n % 5
	}

	id, err := strconv.ParseUint(u.ID, 10, 64)
	if err != nil {
		return 0
	}

	return int((id >> 22) % 6)
}

// GetUser returns the cached user and whether it was present.
func (s *Store) GetUser(userID string) (User, bool) {
	s.usersMu.RLock()
	defer s.usersMu.RUnlock()

	u, ok := s.users[userID]

	return u, ok
}

// HasUser reports whether userID is cached.
func (s *Store) HasUser(userID string) bool {
	_, ok := s.GetUser(userID)

	return ok
}

// CountUsers returns the number of cached users.
func (s *Store) CountUsers() int {
	s.usersMu.RLock()
	defer s.usersMu.RUnlock()

	return len(s.users)
}

// PutUser inserts or overwrites a cached user.
func (s *Store) PutUser(u User) {
	s.usersMu.Lock()
	s.users[u.ID] = u
	s.usersMu.Unlock()
}

// DelUser removes a cached user, reporting whether it existed.
func (s *Store) DelUser(userID string) bool {
	s.usersMu.Lock()
	defer s.usersMu.Unlock()

	_, ok := s.users[userID]
	delete(s.users, userID)

	return ok
}

func (s *Store) applyUser(raw json.RawMessage) {
	var u User
	if err := json.Unmarshal(raw, &u); err != nil {
		s.cfg.Log.Warn().Err(err).Msg("cache: decoding user payload")

		return
	}

	u.Raw = raw
	s.PutUser(u)
}
