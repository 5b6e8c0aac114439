package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/haukened/rr-pulse/internal/pulse/domain"
	"github.com/haukened/rr-pulse/internal/pulse/services/rewriter"
)

const namespace = "pulse"

// Metrics holds the filter's Prometheus collectors.
type Metrics struct {
	Decisions       *prometheus.CounterVec
	Rewrites        *prometheus.CounterVec
	RulesGeneration prometheus.Gauge
	BlockedDomains  prometheus.Gauge
	ActivePatterns  prometheus.Gauge
	WhitelistSize   prometheus.Gauge
	FilterEnabled   prometheus.Gauge

	HTTPRequests *prometheus.CounterVec
	HTTPDuration *prometheus.HistogramVec
	WSClients    prometheus.Gauge

	registry *prometheus.Registry
}

// New registers every collector on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		Decisions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "decisions_total",
				Help:      "Classified requests by decision kind and reason",
			},
			[]string{"kind", "reason"},
		),
		Rewrites: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rewrites_total",
				Help:      "Response bodies passed to a rewriter by outcome",
			},
			[]string{"rewriter", "outcome"},
		),
		RulesGeneration: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "rules_generation",
			Help:      "Generation of the published rule snapshot",
		}),
		BlockedDomains: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "rules_blocked_domains",
			Help:      "Blocklist entries in the published rule snapshot",
		}),
		ActivePatterns: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "rules_active_patterns",
			Help:      "Enabled pattern rules in the published rule snapshot",
		}),
		WhitelistSize: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "whitelist_domains",
			Help:      "Whitelisted domains in the published rule snapshot",
		}),
		FilterEnabled: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "filter_enabled",
			Help:      "1 when filtering is enabled",
		}),
		HTTPRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Host API requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "Host API request duration in seconds",
				Buckets:   []float64{.0001, .0005, .001, .005, .01, .05, .1, .5, 1},
			},
			[]string{"method", "path"},
		),
		WSClients: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "stats_stream_clients",
			Help:      "Connected stats stream clients",
		}),
	}
}

// Registry returns the registry holding the collectors.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ObserveDecision counts one classified request.
func (m *Metrics) ObserveDecision(d domain.Decision) {
	m.Decisions.WithLabelValues(d.Kind.String(), d.Reason.String()).Inc()
}

// ObserveRewrite counts one rewritten (or passed through) response body.
func (m *Metrics) ObserveRewrite(rewriterID string, outcome rewriter.Outcome) {
	m.Rewrites.WithLabelValues(rewriterID, string(outcome)).Inc()
}

// ObserveSnapshot records the shape of a newly published rule snapshot.
func (m *Metrics) ObserveSnapshot(snap *domain.RuleSnapshot) {
	if snap == nil {
		return
	}
	rs := snap.Rules()
	m.RulesGeneration.Set(float64(snap.Generation()))
	m.BlockedDomains.Set(float64(len(rs.Blocks)))
	m.ActivePatterns.Set(float64(rs.ActivePatterns()))
	m.WhitelistSize.Set(float64(len(snap.Whitelist())))
}

// ObserveEnabled records the filtering toggle.
func (m *Metrics) ObserveEnabled(enabled bool) {
	if enabled {
		m.FilterEnabled.Set(1)
		return
	}
	m.FilterEnabled.Set(0)
}

// ObserveHTTP records one host API request.
func (m *Metrics) ObserveHTTP(method, path string, status int, elapsed time.Duration) {
	m.HTTPRequests.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	m.HTTPDuration.WithLabelValues(method, path).Observe(elapsed.Seconds())
}

// StreamConnected and StreamDisconnected track live stats stream clients.
func (m *Metrics) StreamConnected()    { m.WSClients.Inc() }
func (m *Metrics) StreamDisconnected() { m.WSClients.Dec() }
