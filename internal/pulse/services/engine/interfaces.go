package engine

import (
	"github.com/haukened/rr-pulse/internal/pulse/domain"
	"github.com/haukened/rr-pulse/internal/pulse/services/rewriter"
)

// SnapshotSource exposes the currently published rules.
type SnapshotSource interface {
	CurrentSnapshot() *domain.RuleSnapshot
}

// Classifier decides the fate of one request against one snapshot.
type Classifier interface {
	Classify(req domain.RequestContext, snap *domain.RuleSnapshot) domain.Decision
}

// StatsRecorder owns the session counters and their subscribers.
type StatsRecorder interface {
	RecordOutcome(d domain.Decision, matchedTracker bool)
	Snapshot() domain.Stats
	Reset()
	Subscribe(buffer int) (<-chan domain.Stats, func())
}

// BodyRewriter rewrites complete response bodies.
type BodyRewriter interface {
	Apply(spec domain.RewriterSpec, encoding string, body []byte) rewriter.Result
}

// Observer receives per-request events for metrics.
type Observer interface {
	ObserveDecision(d domain.Decision)
	ObserveRewrite(rewriterID string, outcome rewriter.Outcome)
}

// NopObserver discards every event.
type NopObserver struct{}

func (NopObserver) ObserveDecision(domain.Decision)         {}
func (NopObserver) ObserveRewrite(string, rewriter.Outcome) {}

var _ Observer = NopObserver{}
