package utils

import "strings"

// MatchesDomain reports whether host equals domain or is a subdomain of it.
// Matching is on label boundaries: "ads.example.com" matches "example.com",
// "badexample.com" does not. Both inputs are expected to be canonical.
func MatchesDomain(host, domain string) bool {
	if host == "" || domain == "" {
		return false
	}
	if host == domain {
		return true
	}
	return len(host) > len(domain) &&
		strings.HasSuffix(host, domain) &&
		host[len(host)-len(domain)-1] == '.'
}

// WalkAncestors calls visit with host and then each parent domain, most-specific
// first ("a.b.example.com", "b.example.com", "example.com", "com").
// Iteration stops early when visit returns false.
func WalkAncestors(host string, visit func(candidate string) bool) {
	for host != "" {
		if !visit(host) {
			return
		}
		i := strings.IndexByte(host, '.')
		if i < 0 {
			return
		}
		host = host[i+1:]
	}
}
