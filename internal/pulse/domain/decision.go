package domain

import "fmt"

// DecisionKind is the tag of the Decision variant.
type DecisionKind uint8

const (
	// DecisionAllow lets the request proceed unmodified.
	DecisionAllow DecisionKind = iota
	// DecisionBlock cancels the request before it reaches the network.
	DecisionBlock
	// DecisionRedirect answers the request with TargetURL instead of the network.
	DecisionRedirect
	// DecisionRewriteBody lets the request proceed and routes its response body
	// through the rewriter identified by RewriterID.
	DecisionRewriteBody
)

// String returns a stable string representation of the decision kind.
func (k DecisionKind) String() string {
	switch k {
	case DecisionAllow:
		return "allow"
	case DecisionBlock:
		return "block"
	case DecisionRedirect:
		return "redirect"
	case DecisionRewriteBody:
		return "rewrite"
	default:
		return fmt.Sprintf("DecisionKind(%d)", k)
	}
}

// Reason records which step of classification produced a decision.
// It affects logging and metrics only, never the decision itself.
type Reason uint8

const (
	ReasonNone Reason = iota
	ReasonDisabled
	ReasonNoRules
	ReasonMalformedURL
	ReasonWhitelisted
	ReasonTelemetry
	ReasonDomain
	ReasonFirstParty
	ReasonPattern
	ReasonRewrite
)

var reasonNames = [...]string{
	ReasonNone:         "none",
	ReasonDisabled:     "disabled",
	ReasonNoRules:      "no_rules",
	ReasonMalformedURL: "malformed_url",
	ReasonWhitelisted:  "whitelisted",
	ReasonTelemetry:    "telemetry",
	ReasonDomain:       "domain",
	ReasonFirstParty:   "first_party",
	ReasonPattern:      "pattern",
	ReasonRewrite:      "rewrite",
}

func (r Reason) String() string {
	if int(r) < len(reasonNames) {
		return reasonNames[r]
	}
	return fmt.Sprintf("Reason(%d)", r)
}

// Decision is the outcome of classifying one request.
// Pure value type; two decisions are equal when all fields are equal.
type Decision struct {
	Kind        DecisionKind
	TargetURL   string // set for DecisionRedirect
	RewriterID  string // set for DecisionRewriteBody
	Reason      Reason
	MatchedRule string // domain, pattern id or telemetry endpoint that matched
	Tracker     bool   // matched rule belongs to the tracker subset
}

// IsBlocking reports whether the request is resolved without reaching the network.
func (d Decision) IsBlocking() bool {
	return d.Kind == DecisionBlock || d.Kind == DecisionRedirect
}

// Allow returns an allow decision tagged with reason.
func Allow(reason Reason) Decision {
	return Decision{Kind: DecisionAllow, Reason: reason}
}

// Block returns a block decision for the matched rule.
func Block(reason Reason, matched string, tracker bool) Decision {
	return Decision{Kind: DecisionBlock, Reason: reason, MatchedRule: matched, Tracker: tracker}
}

// Redirect returns a redirect decision to target.
func Redirect(target, matched string, tracker bool) Decision {
	return Decision{Kind: DecisionRedirect, TargetURL: target, Reason: ReasonTelemetry, MatchedRule: matched, Tracker: tracker}
}

// RewriteBody returns a decision routing the response through rewriterID.
func RewriteBody(rewriterID string) Decision {
	return Decision{Kind: DecisionRewriteBody, RewriterID: rewriterID, Reason: ReasonRewrite, MatchedRule: rewriterID}
}
