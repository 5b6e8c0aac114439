package engine

import (
	"errors"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"

	logpkg "github.com/haukened/rr-pulse/internal/pulse/common/log"
	"github.com/haukened/rr-pulse/internal/pulse/domain"
)

const (
	// DefaultPendingSize bounds requests awaiting a body rewrite.
	DefaultPendingSize = 1024
	// DefaultPendingTTL forgets a pending rewrite whose response never arrives.
	DefaultPendingTTL = 2 * time.Minute
)

// Options wires an Engine. Rules, Classifier and Stats are required.
type Options struct {
	Rules      SnapshotSource
	Classifier Classifier
	Stats      StatsRecorder
	Rewriter   BodyRewriter
	Observer   Observer
	Headers    HeaderOptions
	Enabled    bool
	// PendingSize and PendingTTL bound the request-id -> rewriter bookkeeping.
	PendingSize int
	PendingTTL  time.Duration
	Logger      logpkg.Logger
}

// RequestResult is the answer to OnBeforeRequest. RequestID echoes the
// caller's id or carries a generated one the host must pass to OnResponseBody.
type RequestResult struct {
	RequestID string
	Decision  domain.Decision
}

// Engine is the hook surface the browsing host calls for every request.
type Engine struct {
	enabled    atomic.Bool
	rules      SnapshotSource
	classifier Classifier
	stats      StatsRecorder
	rewriter   BodyRewriter
	observer   Observer
	headers    HeaderOptions
	pending    *expirable.LRU[string, domain.RewriterSpec]
	logger     logpkg.Logger
}

// New constructs an Engine.
func New(opts Options) (*Engine, error) {
	if opts.Rules == nil || opts.Classifier == nil || opts.Stats == nil {
		return nil, errors.New("engine: rules, classifier and stats are required")
	}
	size := opts.PendingSize
	if size <= 0 {
		size = DefaultPendingSize
	}
	ttl := opts.PendingTTL
	if ttl <= 0 {
		ttl = DefaultPendingTTL
	}
	e := &Engine{
		rules:      opts.Rules,
		classifier: opts.Classifier,
		stats:      opts.Stats,
		rewriter:   opts.Rewriter,
		observer:   opts.Observer,
		headers:    opts.Headers,
		pending:    expirable.NewLRU[string, domain.RewriterSpec](size, nil, ttl),
		logger:     logpkg.OrGlobal(opts.Logger),
	}
	if e.observer == nil {
		e.observer = NopObserver{}
	}
	e.enabled.Store(opts.Enabled)
	return e, nil
}

// OnBeforeRequest classifies a request and records the outcome. When
// filtering is disabled the rules are not consulted.
func (e *Engine) OnBeforeRequest(req domain.RequestContext) RequestResult {
	if req.RequestID == "" {
		req.RequestID = uuid.NewString()
	}

	var d domain.Decision
	if !e.enabled.Load() {
		d = domain.Allow(domain.ReasonDisabled)
	} else {
		d = e.classifier.Classify(req, e.rules.CurrentSnapshot())
	}

	if d.Kind == domain.DecisionRewriteBody {
		if spec, ok := e.lookupRewriter(d.RewriterID); ok && e.rewriter != nil {
			e.pending.Add(req.RequestID, spec)
		} else {
			d = domain.Allow(domain.ReasonNone)
		}
	}

	e.stats.RecordOutcome(d, d.Tracker)
	e.observer.ObserveDecision(d)
	if d.IsBlocking() {
		e.logger.Debug(map[string]any{
			"request_id": req.RequestID,
			"url":        req.URL,
			"kind":       d.Kind.String(),
			"reason":     d.Reason.String(),
			"rule":       d.MatchedRule,
		}, "request_blocked")
	}
	return RequestResult{RequestID: req.RequestID, Decision: d}
}

func (e *Engine) lookupRewriter(id string) (domain.RewriterSpec, bool) {
	snap := e.rules.CurrentSnapshot()
	if snap == nil {
		return domain.RewriterSpec{}, false
	}
	return snap.Rewriter(id)
}

// OnBeforeSendHeaders returns the normalized outgoing headers. It applies
// whether or not filtering is enabled.
func (e *Engine) OnBeforeSendHeaders(h http.Header) http.Header {
	return NormalizeHeaders(h, e.headers)
}

// OnResponseBody rewrites the complete body of a request that was routed to
// a rewriter. Unknown or expired request ids pass the body through.
func (e *Engine) OnResponseBody(requestID, encoding string, body []byte) []byte {
	spec, ok := e.pending.Get(requestID)
	if !ok || e.rewriter == nil {
		return body
	}
	e.pending.Remove(requestID)

	res := e.rewriter.Apply(spec, encoding, body)
	e.observer.ObserveRewrite(spec.ID, res.Outcome)
	return res.Body
}

// PendingRewrites returns how many requests await their response body.
func (e *Engine) PendingRewrites() int { return e.pending.Len() }

// SetEnabled toggles filtering for requests evaluated after the call.
func (e *Engine) SetEnabled(enabled bool) {
	if e.enabled.Swap(enabled) != enabled {
		e.logger.Info(map[string]any{"enabled": enabled}, "filtering_toggled")
	}
}

// Enabled reports the filtering toggle.
func (e *Engine) Enabled() bool { return e.enabled.Load() }

// Stats returns the session counters.
func (e *Engine) Stats() domain.Stats { return e.stats.Snapshot() }

// ResetStats zeroes the counters and starts a new session.
func (e *Engine) ResetStats() { e.stats.Reset() }

// Subscribe registers a stats listener.
func (e *Engine) Subscribe(buffer int) (<-chan domain.Stats, func()) {
	return e.stats.Subscribe(buffer)
}

// Snapshot returns the rules currently in effect.
func (e *Engine) Snapshot() *domain.RuleSnapshot { return e.rules.CurrentSnapshot() }
