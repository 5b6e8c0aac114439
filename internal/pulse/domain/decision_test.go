package domain

import "testing"

func TestDecisionKind_String(t *testing.T) {
	cases := map[DecisionKind]string{
		DecisionAllow:       "allow",
		DecisionBlock:       "block",
		DecisionRedirect:    "redirect",
		DecisionRewriteBody: "rewrite",
		DecisionKind(42):    "DecisionKind(42)",
	}
	for k, want := range cases {
		if got := k.String(); got != want {
			t.Errorf("%d.String() = %q, want %q", k, got, want)
		}
	}
}

func TestReason_String(t *testing.T) {
	if got := ReasonFirstParty.String(); got != "first_party" {
		t.Fatalf("got %q", got)
	}
	if got := Reason(99).String(); got != "Reason(99)" {
		t.Fatalf("got %q", got)
	}
}

func TestDecision_Constructors(t *testing.T) {
	a := Allow(ReasonWhitelisted)
	if a.Kind != DecisionAllow || a.Reason != ReasonWhitelisted || a.IsBlocking() {
		t.Fatalf("unexpected allow: %+v", a)
	}

	b := Block(ReasonDomain, "doubleclick.net", false)
	if b.Kind != DecisionBlock || !b.IsBlocking() || b.MatchedRule != "doubleclick.net" || b.Tracker {
		t.Fatalf("unexpected block: %+v", b)
	}

	r := Redirect("data:text/plain,", "youtube.com/api/stats/ads", true)
	if r.Kind != DecisionRedirect || !r.IsBlocking() || r.TargetURL != "data:text/plain," || !r.Tracker || r.Reason != ReasonTelemetry {
		t.Fatalf("unexpected redirect: %+v", r)
	}

	w := RewriteBody("player-ads")
	if w.Kind != DecisionRewriteBody || w.IsBlocking() || w.RewriterID != "player-ads" {
		t.Fatalf("unexpected rewrite: %+v", w)
	}
}
