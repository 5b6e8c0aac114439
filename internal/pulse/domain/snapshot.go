package domain

import (
	"sort"

	"github.com/haukened/rr-pulse/internal/pulse/common/utils"
)

// Prefilter is a probabilistic membership test over blocklist domains used to
// skip map lookups for names that are definitely absent.
type Prefilter interface {
	MightContain(key []byte) bool
}

// RuleSnapshot is an immutable, versioned view of every rule the classifier
// reads: blocklist, patterns, telemetry endpoints, rewrite targets and the
// whitelist overlay. A snapshot is never modified after construction, so any
// number of goroutines may read it without synchronization.
type RuleSnapshot struct {
	generation uint64
	rules      RuleSet
	blocked    map[string]BlockEntry
	prefilter  Prefilter
	rewriters  map[string]RewriterSpec
	whitelist  map[string]struct{}
	allowList  []string
}

// NewRuleSnapshot indexes rules and whitelist into a new snapshot.
// Whitelist entries are canonicalized and de-duplicated; empty ones are dropped.
// prefilter may be nil.
func NewRuleSnapshot(rules RuleSet, whitelist []string, generation uint64, prefilter Prefilter) *RuleSnapshot {
	blocked := make(map[string]BlockEntry, len(rules.Blocks))
	for _, e := range rules.Blocks {
		if prev, ok := blocked[e.Domain]; ok {
			prev.IsTracker = prev.IsTracker || e.IsTracker
			blocked[e.Domain] = prev
			continue
		}
		blocked[e.Domain] = e
	}
	rewriters := make(map[string]RewriterSpec, len(rules.Rewriters))
	for _, r := range rules.Rewriters {
		rewriters[r.ID] = r
	}
	s := &RuleSnapshot{
		generation: generation,
		rules:      rules,
		blocked:    blocked,
		prefilter:  prefilter,
		rewriters:  rewriters,
	}
	s.setWhitelist(whitelist)
	return s
}

// WithWhitelist returns a new snapshot sharing this snapshot's rule indices
// with a replaced whitelist and generation.
func (s *RuleSnapshot) WithWhitelist(whitelist []string, generation uint64) *RuleSnapshot {
	next := &RuleSnapshot{
		generation: generation,
		rules:      s.rules,
		blocked:    s.blocked,
		prefilter:  s.prefilter,
		rewriters:  s.rewriters,
	}
	next.setWhitelist(whitelist)
	return next
}

func (s *RuleSnapshot) setWhitelist(whitelist []string) {
	s.whitelist = make(map[string]struct{}, len(whitelist))
	s.allowList = make([]string, 0, len(whitelist))
	for _, d := range whitelist {
		d = utils.CanonicalHost(d)
		if d == "" {
			continue
		}
		if _, ok := s.whitelist[d]; ok {
			continue
		}
		s.whitelist[d] = struct{}{}
		s.allowList = append(s.allowList, d)
	}
	sort.Strings(s.allowList)
}

// Generation identifies this snapshot; it increases with every publish.
func (s *RuleSnapshot) Generation() uint64 { return s.generation }

// Rules returns the rule set the snapshot was built from.
func (s *RuleSnapshot) Rules() RuleSet { return s.rules }

// IsEmpty reports whether the snapshot carries no filtering rules at all.
func (s *RuleSnapshot) IsEmpty() bool { return s.rules.IsEmpty() }

// NoopTarget is the redirect target used for telemetry endpoints.
func (s *RuleSnapshot) NoopTarget() string { return s.rules.NoopTarget }

// Whitelist returns a sorted copy of the whitelisted domains.
func (s *RuleSnapshot) Whitelist() []string {
	out := make([]string, len(s.allowList))
	copy(out, s.allowList)
	return out
}

// IsWhitelisted reports whether host or any ancestor of host is whitelisted,
// returning the whitelist entry that matched.
func (s *RuleSnapshot) IsWhitelisted(host string) (string, bool) {
	if len(s.whitelist) == 0 {
		return "", false
	}
	var matched string
	utils.WalkAncestors(host, func(c string) bool {
		if _, ok := s.whitelist[c]; ok {
			matched = c
			return false
		}
		return true
	})
	return matched, matched != ""
}

// MatchDomain finds the most specific blocklist entry equal to host or to one
// of its ancestors. The returned entry is flagged as a tracker when any
// matching ancestor belongs to the tracker subset.
func (s *RuleSnapshot) MatchDomain(host string) (BlockEntry, bool) {
	if len(s.blocked) == 0 || host == "" {
		return BlockEntry{}, false
	}
	var (
		found   BlockEntry
		ok      bool
		tracker bool
	)
	utils.WalkAncestors(host, func(c string) bool {
		if s.prefilter != nil && !s.prefilter.MightContain([]byte(c)) {
			return true
		}
		e, hit := s.blocked[c]
		if !hit {
			return true
		}
		if !ok {
			found, ok = e, true
		}
		tracker = tracker || e.IsTracker
		return true
	})
	found.IsTracker = ok && tracker
	return found, ok
}

// MatchPattern returns the first enabled pattern rule matching rawURL.
func (s *RuleSnapshot) MatchPattern(rawURL string) (PatternRule, bool) {
	for _, p := range s.rules.Patterns {
		if p.Matches(rawURL) {
			return p, true
		}
	}
	return PatternRule{}, false
}

// MatchTelemetry returns the first telemetry endpoint matching the request.
func (s *RuleSnapshot) MatchTelemetry(host, path, rawURL string) (TelemetryRule, bool) {
	for _, t := range s.rules.Telemetry {
		if t.Matches(host, path, rawURL) {
			return t, true
		}
	}
	return TelemetryRule{}, false
}

// MatchRewrite returns the first rewrite target for the request whose rewriter exists.
func (s *RuleSnapshot) MatchRewrite(rt ResourceType, rawURL string) (RewriteTarget, bool) {
	for _, r := range s.rules.RewriteTargets {
		if _, ok := s.rewriters[r.RewriterID]; !ok {
			continue
		}
		if r.Matches(rt, rawURL) {
			return r, true
		}
	}
	return RewriteTarget{}, false
}

// Rewriter looks up a rewriter definition by id.
func (s *RuleSnapshot) Rewriter(id string) (RewriterSpec, bool) {
	r, ok := s.rewriters[id]
	return r, ok
}

// DomainMatch is the memoizable result of MatchDomain for one host.
type DomainMatch struct {
	Entry BlockEntry
	Found bool
}
