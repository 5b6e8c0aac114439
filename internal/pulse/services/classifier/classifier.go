package classifier

import (
	"net/url"

	logpkg "github.com/haukened/rr-pulse/internal/pulse/common/log"
	"github.com/haukened/rr-pulse/internal/pulse/common/utils"
	"github.com/haukened/rr-pulse/internal/pulse/domain"
	"github.com/haukened/rr-pulse/internal/pulse/repos/hostcache"
)

// ReferrerPolicy decides how a request without a usable referrer is treated.
type ReferrerPolicy string

const (
	// MissingReferrerThirdParty treats referrer-less requests as third-party,
	// so blocklisted hosts are blocked even when the referrer was stripped.
	MissingReferrerThirdParty ReferrerPolicy = "third-party"
	// MissingReferrerFirstParty exempts referrer-less requests from domain blocking.
	MissingReferrerFirstParty ReferrerPolicy = "first-party"
)

// FirstPartyMode selects how two hosts are judged to belong to the same party.
type FirstPartyMode string

const (
	// FirstPartySubdomain: equal hosts, or one is a label-suffix of the other.
	FirstPartySubdomain FirstPartyMode = "subdomain"
	// FirstPartySite: equal registrable domains (eTLD+1).
	FirstPartySite FirstPartyMode = "site"
)

// MatchCache memoizes blocklist lookups per snapshot generation.
type MatchCache interface {
	Get(key string) (domain.DomainMatch, bool)
	Put(key string, m domain.DomainMatch)
}

// Options configures a Classifier. Zero values select the third-party
// referrer policy, subdomain first-party mode and no cache.
type Options struct {
	MissingReferrer ReferrerPolicy
	FirstPartyMode  FirstPartyMode
	Cache           MatchCache
	Logger          logpkg.Logger
}

// Classifier decides Allow / Block / Redirect / RewriteBody for a request
// against one RuleSnapshot. It holds no mutable state besides the optional
// memo, whose entries are pure functions of (generation, host), so Classify
// is deterministic and safe for concurrent use.
type Classifier struct {
	missingReferrer ReferrerPolicy
	mode            FirstPartyMode
	cache           MatchCache
	logger          logpkg.Logger
}

// New constructs a Classifier.
func New(opts Options) *Classifier {
	c := &Classifier{
		missingReferrer: opts.MissingReferrer,
		mode:            opts.FirstPartyMode,
		cache:           opts.Cache,
		logger:          logpkg.OrGlobal(opts.Logger),
	}
	if c.missingReferrer == "" {
		c.missingReferrer = MissingReferrerThirdParty
	}
	if c.mode == "" {
		c.mode = FirstPartySubdomain
	}
	return c
}

// Classify evaluates req against snap in priority order: empty rules,
// malformed URL, whitelist, telemetry fast path, third-party domain match,
// pattern match, rewrite target. Every failure resolves to Allow.
func (c *Classifier) Classify(req domain.RequestContext, snap *domain.RuleSnapshot) domain.Decision {
	if snap == nil || snap.IsEmpty() {
		return domain.Allow(domain.ReasonNoRules)
	}

	u, err := url.Parse(req.URL)
	if err != nil {
		c.logger.Debug(map[string]any{"url": req.URL, "error": err}, "classify_malformed_url")
		return domain.Allow(domain.ReasonMalformedURL)
	}
	host := utils.CanonicalHost(u.Hostname())
	if host == "" {
		c.logger.Debug(map[string]any{"url": req.URL}, "classify_missing_host")
		return domain.Allow(domain.ReasonMalformedURL)
	}

	if _, ok := snap.IsWhitelisted(host); ok {
		return domain.Allow(domain.ReasonWhitelisted)
	}

	if t, ok := snap.MatchTelemetry(host, u.EscapedPath(), req.URL); ok {
		return domain.Redirect(snap.NoopTarget(), t.ID(), t.Tracker)
	}

	firstParty := false
	if m := c.matchDomain(snap, host); m.Found {
		if c.isThirdParty(host, req) {
			return domain.Block(domain.ReasonDomain, m.Entry.Domain, m.Entry.IsTracker)
		}
		firstParty = true
	}

	if p, ok := snap.MatchPattern(req.URL); ok {
		return domain.Block(domain.ReasonPattern, p.ID, false)
	}

	if rt, ok := snap.MatchRewrite(req.ResourceType, req.URL); ok {
		return domain.RewriteBody(rt.RewriterID)
	}

	if firstParty {
		return domain.Allow(domain.ReasonFirstParty)
	}
	return domain.Allow(domain.ReasonNone)
}

// IsThirdParty reports whether req's host is foreign to its referrer under
// the configured policy and mode.
func (c *Classifier) IsThirdParty(req domain.RequestContext) bool {
	u, err := url.Parse(req.URL)
	if err != nil {
		return c.missingReferrer == MissingReferrerThirdParty
	}
	return c.isThirdParty(utils.CanonicalHost(u.Hostname()), req)
}

func (c *Classifier) isThirdParty(host string, req domain.RequestContext) bool {
	refHost := ""
	if req.HasReferrer() {
		if ru, err := url.Parse(req.ReferrerURL); err == nil {
			refHost = utils.CanonicalHost(ru.Hostname())
		}
	}
	if host == "" || refHost == "" {
		return c.missingReferrer == MissingReferrerThirdParty
	}
	return !SameParty(host, refHost, c.mode)
}

// SameParty reports whether two canonical hosts belong to the same party.
func SameParty(a, b string, mode FirstPartyMode) bool {
	if a == b {
		return true
	}
	if mode == FirstPartySite {
		return utils.RegistrableDomain(a) == utils.RegistrableDomain(b)
	}
	return utils.MatchesDomain(a, b) || utils.MatchesDomain(b, a)
}

func (c *Classifier) matchDomain(snap *domain.RuleSnapshot, host string) domain.DomainMatch {
	if c.cache == nil {
		e, ok := snap.MatchDomain(host)
		return domain.DomainMatch{Entry: e, Found: ok}
	}
	key := hostcache.Key(snap.Generation(), host)
	if m, ok := c.cache.Get(key); ok {
		return m
	}
	e, ok := snap.MatchDomain(host)
	m := domain.DomainMatch{Entry: e, Found: ok}
	c.cache.Put(key, m)
	return m
}
