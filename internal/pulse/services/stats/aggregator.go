package stats

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/haukened/rr-pulse/internal/pulse/common/clock"
	logpkg "github.com/haukened/rr-pulse/internal/pulse/common/log"
	"github.com/haukened/rr-pulse/internal/pulse/domain"
)

// DefaultKBPerBlock is the heuristic kilobytes saved per blocked request.
// It is an estimate, not a measurement.
const DefaultKBPerBlock = 15

// DefaultSubscriberBuffer is the per-subscriber queue depth used when Subscribe gets <= 0.
const DefaultSubscriberBuffer = 8

// Options configures an Aggregator.
type Options struct {
	// Interval is the minimum spacing between notifications; 0 disables throttling.
	Interval time.Duration
	// KBPerBlock is added to the data-saved estimate per blocking decision.
	KBPerBlock uint64
	// Clock stamps the session start only; throttling runs on wall time.
	Clock  clock.Clock
	Logger logpkg.Logger
}

// Aggregator owns the session counters. Recording is lock-free; subscribers
// receive throttled snapshots through bounded queues that drop the oldest
// entry when full, so a slow reader never stalls request processing.
type Aggregator struct {
	adsBlocked      atomic.Uint64
	trackersBlocked atomic.Uint64
	requestsTotal   atomic.Uint64
	dataSavedKB     atomic.Uint64
	sessionStart    atomic.Int64 // unix nanoseconds

	kbPerBlock uint64
	interval   time.Duration
	clock      clock.Clock
	logger     logpkg.Logger
	limiter    *rate.Limiter

	mu     sync.Mutex
	subs   map[string]chan domain.Stats
	timer  *time.Timer
	closed bool
}

// New constructs an Aggregator whose session starts now.
func New(opts Options) *Aggregator {
	a := &Aggregator{
		kbPerBlock: opts.KBPerBlock,
		interval:   opts.Interval,
		clock:      opts.Clock,
		logger:     logpkg.OrGlobal(opts.Logger),
		subs:       make(map[string]chan domain.Stats),
	}
	if a.clock == nil {
		a.clock = clock.RealClock{}
	}
	if opts.Interval > 0 {
		a.limiter = rate.NewLimiter(rate.Every(opts.Interval), 1)
	} else {
		a.limiter = rate.NewLimiter(rate.Inf, 1)
	}
	a.sessionStart.Store(a.clock.Now().UnixNano())
	return a
}

// RecordOutcome counts one classified request. Every outcome increments the
// request total; blocking outcomes (Block and Redirect) also count as an ad
// blocked, add the data-saved estimate, count a tracker when matchedTracker
// is set, and trigger a notification.
func (a *Aggregator) RecordOutcome(d domain.Decision, matchedTracker bool) {
	a.requestsTotal.Add(1)
	if !d.IsBlocking() {
		return
	}
	a.adsBlocked.Add(1)
	a.dataSavedKB.Add(a.kbPerBlock)
	if matchedTracker {
		a.trackersBlocked.Add(1)
	}
	a.notify()
}

// Snapshot returns the current counters.
func (a *Aggregator) Snapshot() domain.Stats {
	return domain.Stats{
		AdsBlocked:          a.adsBlocked.Load(),
		TrackersBlocked:     a.trackersBlocked.Load(),
		RequestsTotal:       a.requestsTotal.Load(),
		DataSavedKBEstimate: a.dataSavedKB.Load(),
		SessionStart:        time.Unix(0, a.sessionStart.Load()).UTC(),
	}
}

// Reset zeroes the counters, starts a new session and notifies immediately.
func (a *Aggregator) Reset() {
	a.adsBlocked.Store(0)
	a.trackersBlocked.Store(0)
	a.requestsTotal.Store(0)
	a.dataSavedKB.Store(0)
	a.sessionStart.Store(a.clock.Now().UnixNano())
	a.logger.Info(nil, "stats_reset")

	a.mu.Lock()
	defer a.mu.Unlock()
	a.broadcastLocked()
}

// Subscribe registers a listener. The returned cancel func unregisters it and
// closes the channel; it is safe to call more than once.
func (a *Aggregator) Subscribe(buffer int) (<-chan domain.Stats, func()) {
	if buffer <= 0 {
		buffer = DefaultSubscriberBuffer
	}
	ch := make(chan domain.Stats, buffer)
	id := uuid.NewString()

	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	a.subs[id] = ch
	a.mu.Unlock()
	a.logger.Debug(map[string]any{"subscriber": id}, "stats_subscribed")

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			a.mu.Lock()
			defer a.mu.Unlock()
			if c, ok := a.subs[id]; ok {
				delete(a.subs, id)
				close(c)
			}
		})
	}
}

// Subscribers returns the number of registered listeners.
func (a *Aggregator) Subscribers() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.subs)
}

// Close stops pending notifications and closes every subscriber channel.
func (a *Aggregator) Close() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return
	}
	a.closed = true
	if a.timer != nil {
		a.timer.Stop()
		a.timer = nil
	}
	for id, ch := range a.subs {
		delete(a.subs, id)
		close(ch)
	}
}

// notify broadcasts now when the limiter allows it; otherwise it makes sure a
// single trailing flush is scheduled so the latest counters are delivered.
func (a *Aggregator) notify() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed || len(a.subs) == 0 {
		return
	}
	if a.timer == nil && a.limiter.Allow() {
		a.broadcastLocked()
		return
	}
	if a.timer == nil {
		a.timer = time.AfterFunc(a.interval, a.flush)
	}
}

func (a *Aggregator) flush() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.timer = nil
	if a.closed {
		return
	}
	a.limiter.Allow()
	a.broadcastLocked()
}

func (a *Aggregator) broadcastLocked() {
	if len(a.subs) == 0 {
		return
	}
	snap := a.Snapshot()
	for _, ch := range a.subs {
		select {
		case ch <- snap:
			continue
		default:
		}
		// full: drop the oldest queued snapshot and retry once
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- snap:
		default:
		}
	}
}
