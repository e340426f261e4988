package rest

import (
	"fmt"
	"net/url"
	"runtime"
)

// UserAgentConfig identifies the library for the mandatory User-Agent
// header (spec.md §6: "<Name>/<Version> (<URL>, <Build>) Lua/<runtime>"
// — the runtime token is adapted to the implementation language, the
// Name/Version (URL, Build) prefix is preserved verbatim).
type UserAgentConfig struct {
	Name    string
	Version string
	URL     string
	Build   string
}

// DefaultUserAgentConfig describes this module.
func DefaultUserAgentConfig() UserAgentConfig {
	return UserAgentConfig{
		Name:    "luacord",
		Version: "0.1.0",
		URL:     "https://github.com/Bloby22/luacord",
		Build:   "source",
	}
}

// String renders the User-Agent header value.
func (c UserAgentConfig) String() string {
	return fmt.Sprintf("%s/%s (%s, %s) Go/%s", c.Name, c.Version, c.URL, c.Build, runtime.Version())
}

// auditReasonHeader URL-encodes reason per spec.md §6, truncating to the
// 512-char limit Discord enforces on X-Audit-Log-Reason.
func auditReasonHeader(reason string) string {
	if reason == "" {
		return ""
	}

	if len(reason) > 512 {
		reason = reason[:512]
	}

	return url.QueryEscape(reason)
}
