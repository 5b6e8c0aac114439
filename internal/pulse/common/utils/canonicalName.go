package utils

import (
	"net/url"
	"strings"
)

// CanonicalHost returns a hostname in canonical form:
// - Lowercased
// - Trimmed of surrounding whitespace
// - No trailing dot, so "example.com." and "example.com" compare equal.
func CanonicalHost(name string) string {
	name = strings.TrimSpace(name)
	name = strings.ToLower(name)
	for strings.HasSuffix(name, ".") {
		name = strings.TrimSuffix(name, ".")
	}
	return name
}

// HostFromInput extracts a canonical hostname from user-provided input that may be
// a bare domain ("Example.com"), a host with port ("example.com:8080"), a host with
// a path ("example.com/page") or a full URL ("https://example.com/page").
// Returns "" when no hostname can be extracted.
func HostFromInput(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	if strings.Contains(s, "://") {
		u, err := url.Parse(s)
		if err != nil {
			return ""
		}
		return CanonicalHost(u.Hostname())
	}
	if i := strings.IndexAny(s, "/?#"); i >= 0 {
		s = s[:i]
	}
	// Reuse url parsing for the host[:port] form, including bracketed IPv6.
	u, err := url.Parse("http://" + s)
	if err != nil {
		return ""
	}
	return CanonicalHost(u.Hostname())
}
