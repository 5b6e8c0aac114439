package domain

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/haukened/rr-pulse/internal/pulse/common/utils"
)

// BlockEntry is one blocklist domain. Domain is canonical: lowercase, no
// scheme, port or path. Duplicates within a rule set are harmless.
type BlockEntry struct {
	Domain    string
	IsTracker bool   // member of the tracker subset; affects stats only
	Source    string // list file or "inline"
}

// NewBlockEntry canonicalizes and validates a blocklist domain.
func NewBlockEntry(domain string, tracker bool, source string) (BlockEntry, error) {
	e := BlockEntry{
		Domain:    utils.CanonicalHost(domain),
		IsTracker: tracker,
		Source:    strings.TrimSpace(source),
	}
	if err := e.Validate(); err != nil {
		return BlockEntry{}, err
	}
	return e, nil
}

// Validate checks that Domain is a bare, canonical hostname.
func (e BlockEntry) Validate() error {
	if e.Domain == "" {
		return fmt.Errorf("block entry domain must not be empty")
	}
	if e.Domain != utils.CanonicalHost(e.Domain) {
		return fmt.Errorf("block entry domain %q is not canonical", e.Domain)
	}
	if strings.ContainsAny(e.Domain, "/:?#@ \t*") {
		return fmt.Errorf("block entry domain %q must be a bare hostname", e.Domain)
	}
	return nil
}

// PatternRule is a regular expression matched against the full request URL.
// Disabled rules stay in the rule set with their description so the reason
// they were switched off remains auditable; they never match.
type PatternRule struct {
	ID          string
	Pattern     *regexp.Regexp
	Description string
	Enabled     bool
}

// NewPatternRule compiles expr into a PatternRule.
func NewPatternRule(id, expr, description string, enabled bool) (PatternRule, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		id = expr
	}
	if strings.TrimSpace(expr) == "" {
		return PatternRule{}, fmt.Errorf("pattern rule %q: empty pattern", id)
	}
	re, err := regexp.Compile(expr)
	if err != nil {
		return PatternRule{}, fmt.Errorf("pattern rule %q: %w", id, err)
	}
	return PatternRule{ID: id, Pattern: re, Description: strings.TrimSpace(description), Enabled: enabled}, nil
}

// Matches reports whether an enabled rule matches rawURL.
func (p PatternRule) Matches(rawURL string) bool {
	return p.Enabled && p.Pattern != nil && p.Pattern.MatchString(rawURL)
}

// TelemetryRule identifies a beacon endpoint that is answered with an empty
// success instead of a cancellation. Matching is a cheap host-suffix plus
// path-prefix / substring check, evaluated before any regex.
type TelemetryRule struct {
	Host       string
	PathPrefix string
	Contains   string
	Tracker    bool
}

// NewTelemetryRule canonicalizes and validates a telemetry endpoint.
func NewTelemetryRule(host, pathPrefix, contains string, tracker bool) (TelemetryRule, error) {
	t := TelemetryRule{
		Host:       utils.CanonicalHost(host),
		PathPrefix: strings.TrimSpace(pathPrefix),
		Contains:   strings.TrimSpace(contains),
		Tracker:    tracker,
	}
	if t.Host == "" {
		return TelemetryRule{}, fmt.Errorf("telemetry rule host must not be empty")
	}
	if t.PathPrefix != "" && !strings.HasPrefix(t.PathPrefix, "/") {
		return TelemetryRule{}, fmt.Errorf("telemetry rule path prefix %q must start with /", t.PathPrefix)
	}
	return t, nil
}

// ID returns a human readable identifier for logs and metrics.
func (t TelemetryRule) ID() string {
	return t.Host + t.PathPrefix
}

// Matches reports whether the parsed request matches this endpoint.
func (t TelemetryRule) Matches(host, path, rawURL string) bool {
	if !utils.MatchesDomain(host, t.Host) {
		return false
	}
	if t.PathPrefix != "" && !strings.HasPrefix(path, t.PathPrefix) {
		return false
	}
	if t.Contains != "" && !strings.Contains(rawURL, t.Contains) {
		return false
	}
	return true
}

// RewriterSpec defines a response rewriter: the top-level JSON keys it strips.
type RewriterSpec struct {
	ID        string
	StripKeys []string
}

// Validate checks required fields.
func (s RewriterSpec) Validate() error {
	if strings.TrimSpace(s.ID) == "" {
		return fmt.Errorf("rewriter id must not be empty")
	}
	if len(s.StripKeys) == 0 {
		return fmt.Errorf("rewriter %q: strip_keys must not be empty", s.ID)
	}
	return nil
}

// RewriteTarget routes responses of matching requests through a rewriter.
// An empty ResourceTypes list matches every type.
type RewriteTarget struct {
	RewriterID    string
	ResourceTypes []ResourceType
	Pattern       *regexp.Regexp
}

// Matches reports whether a request of type rt for rawURL is routed to the rewriter.
func (r RewriteTarget) Matches(rt ResourceType, rawURL string) bool {
	if r.Pattern == nil || !r.Pattern.MatchString(rawURL) {
		return false
	}
	if len(r.ResourceTypes) == 0 {
		return true
	}
	for _, t := range r.ResourceTypes {
		if t == rt {
			return true
		}
	}
	return false
}

// RuleSet is the static rule data loaded from configuration. It never changes
// after load; a reload produces a new RuleSet.
type RuleSet struct {
	Version        uint64
	Blocks         []BlockEntry
	Patterns       []PatternRule
	Telemetry      []TelemetryRule
	NoopTarget     string
	Rewriters      []RewriterSpec
	RewriteTargets []RewriteTarget
}

// ActivePatterns counts enabled pattern rules.
func (rs RuleSet) ActivePatterns() int {
	n := 0
	for _, p := range rs.Patterns {
		if p.Enabled {
			n++
		}
	}
	return n
}

// IsEmpty reports whether the set contains nothing that could ever filter a request.
func (rs RuleSet) IsEmpty() bool {
	return len(rs.Blocks) == 0 && rs.ActivePatterns() == 0 && len(rs.Telemetry) == 0 && len(rs.RewriteTargets) == 0
}
