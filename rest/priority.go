package rest

import (
	"github.com/Bloby22/luacord/internal/connpool"
	"github.com/Bloby22/luacord/internal/ratelimit"
)

// poolPriority maps a rate-limit priority onto connpool's independent
// Priority type (the two internal packages intentionally don't share
// one, see DESIGN.md).
func poolPriority(p ratelimit.Priority) connpool.Priority {
	return connpool.Priority(p)
}

func isIdempotent(method string) bool {
	switch method {
	case "GET", "PUT", "DELETE", "HEAD":
		return true
	default:
		return false
	}
}
