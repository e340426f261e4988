// Package rest implements the REST dispatch engine: route-key
// derivation, bucket-gated sending, circuit breaking, connection
// pooling, response classification and retry (spec.md §4.3).
package rest

import (
	"regexp"
	"strings"
)

// majorSegments are the path segments whose following ID is a *major*
// parameter and must be preserved verbatim in the route key (spec.md
// §3/GLOSSARY). Every other snowflake-shaped ID (15-21 digits) is a
// minor parameter, collapsed to a placeholder.
var majorSegments = map[string]bool{
	"channels": true,
	"guilds":   true,
	"webhooks": true,
}

var snowflakeRE = regexp.MustCompile(`^[0-9]{15,21}$`)

// RouteKey derives the client-side synthetic rate-limit identity for a
// request: METHOD + normalized path, preserving major-parameter IDs and
// collapsing every other snowflake-shaped ID (15-21 digits) to "{id}"
// (spec.md §4.3 step 1). Shorter numeric segments are kept verbatim.
//
// This key is used for bucket lookup only until a server-supplied
// X-RateLimit-Bucket hash rebinds the route (Limiter.Rebind).
func RouteKey(method, path string) string {
	segments := strings.Split(strings.Trim(path, "/"), "/")
	out := make([]string, 0, len(segments))

	for i := 0; i < len(segments); i++ {
		seg := segments[i]
		out = append(out, seg)

		if !snowflakeRE.MatchString(seg) {
			continue
		}

		if i > 0 && majorSegments[segments[i-1]] {
			continue // preserve the major ID verbatim
		}

		out[len(out)-1] = "{id}"
	}

	return method + " /" + strings.Join(out, "/")
}
