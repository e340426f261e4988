package rest

import (
	"strconv"
	"strings"

	"github.com/Bloby22/luacord/internal/ratelimit"
)

// parseRateLimitHeader builds a ratelimit.Header from the response's raw
// headers (spec.md §6), tolerating absent fields by falling back to
// the zero value on parse failure.
func parseRateLimitHeader(get func(string) string) ratelimit.Header {
	limit, _ := strconv.Atoi(get("X-RateLimit-Limit"))
	remaining, _ := strconv.Atoi(get("X-RateLimit-Remaining"))
	reset, _ := strconv.ParseFloat(get("X-RateLimit-Reset"), 64)
	resetAfter, _ := strconv.ParseFloat(get("X-RateLimit-Reset-After"), 64)
	global, _ := strconv.ParseBool(get("X-RateLimit-Global"))

	return ratelimit.Header{
		Limit:      limit,
		Remaining:  remaining,
		Reset:      reset,
		ResetAfter: resetAfter,
		Bucket:     get("X-RateLimit-Bucket"),
		Global:     global,
		Scope:      strings.ToLower(get("X-RateLimit-Scope")),
	}
}

// retryAfterSeconds parses the Retry-After header, which Discord sends
// as a plain float number of seconds on 429 responses (not an HTTP-date).
func retryAfterSeconds(get func(string) string) (float64, bool) {
	v := get("Retry-After")
	if v == "" {
		return 0, false
	}

	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, false
	}

	return f, true
}
