package parsers

import (
	"bytes"
	"testing"

	"github.com/haukened/rr-pulse/internal/pulse/common/log"
)

func TestParseABPList(t *testing.T) {
	input := `[Adblock Plus 2.0]
! Title: EasyPrivacy
||google-analytics.com^
||Metrics.Example.com^$third-party
||pixel.example.net^|
||stats.example.org^$script
||cdn.example.com/track.js
||*.wild.example.com^
@@||allowed.example.com^
example.com##.banner
/beacon.gif?
||google-analytics.com^$3p
`
	got, err := ParseABPList(bytes.NewBufferString(input), "easyprivacy", true, log.NewNoopLogger())
	if err != nil {
		t.Fatalf("ParseABPList returned error: %v", err)
	}
	want := []string{"google-analytics.com", "metrics.example.com", "pixel.example.net"}
	if len(got) != len(want) {
		t.Fatalf("expected %d entries, got %d: %#v", len(want), len(got), got)
	}
	for i, w := range want {
		if got[i].Domain != w || !got[i].IsTracker || got[i].Source != "easyprivacy" {
			t.Fatalf("entry[%d] = %+v, want domain %q", i, got[i], w)
		}
	}
}

func TestAbpAnchorDomain(t *testing.T) {
	cases := []struct {
		in   string
		want string
		ok   bool
	}{
		{"||ads.example.com^", "ads.example.com", true},
		{"||ads.example.com^$third-party,3p", "ads.example.com", true},
		{"||ads.example.com^$image", "", false},
		{"||ads.example.com^/path", "", false},
		{"||^", "", false},
		{"|https://ads.example.com^", "", false},
		{"||ads.example.com", "", false},
	}
	for _, c := range cases {
		got, ok := abpAnchorDomain(c.in)
		if got != c.want || ok != c.ok {
			t.Errorf("abpAnchorDomain(%q) = (%q, %v), want (%q, %v)", c.in, got, ok, c.want, c.ok)
		}
	}
}
