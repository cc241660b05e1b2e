// Package metrics holds the Prometheus collectors for rate reads, payment
// attempts and approvals.
package metrics

import (
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "fxpay"

// Metrics wraps the collectors. A nil *Metrics records nothing.
type Metrics struct {
	registryReads     *prometheus.CounterVec
	paymentAttempts   *prometheus.CounterVec
	stateTransitions  *prometheus.CounterVec
	approvals         *prometheus.CounterVec
	rateLimitWaits    prometheus.Counter
	paymentLatency    prometheus.Histogram
	lastRateRefreshed prometheus.Gauge
}

// New registers the collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		registryReads: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "registry",
			Name:      "reads_total",
			Help:      "Price registry reads by pair and result.",
		}, []string{"pair", "result"}),
		paymentAttempts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "payment",
			Name:      "attempts_total",
			Help:      "Finished payment attempts by outcome.",
		}, []string{"outcome"}),
		stateTransitions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "payment",
			Name:      "state_transitions_total",
			Help:      "Payment state machine transitions by target state.",
		}, []string{"state"}),
		approvals: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "allowance",
			Name:      "approvals_total",
			Help:      "Token approval transactions by result.",
		}, []string{"result"}),
		rateLimitWaits: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "rpc",
			Name:      "rate_limit_waits_total",
			Help:      "RPC calls delayed by the client-side rate limiter.",
		}),
		paymentLatency: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "payment",
			Name:      "duration_seconds",
			Help:      "Wall time from submission start to terminal state.",
			Buckets:   []float64{1, 2, 5, 10, 20, 30, 60, 120, 300},
		}),
		lastRateRefreshed: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "rates",
			Name:      "last_refresh_timestamp_seconds",
			Help:      "Unix time of the last complete rate table.",
		}),
	}
}

// RecordRegistryRead counts a registry read for pair.
func (m *Metrics) RecordRegistryRead(pair string, ok bool) {
	if m == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "error"
	}
	m.registryReads.WithLabelValues(label(pair), result).Inc()
}

// RecordAttempt counts a finished attempt. outcome is "succeeded" or an error kind.
func (m *Metrics) RecordAttempt(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.paymentAttempts.WithLabelValues(label(outcome)).Inc()
	m.paymentLatency.Observe(d.Seconds())
}

// RecordTransition counts a transition into state.
func (m *Metrics) RecordTransition(state string) {
	if m == nil {
		return
	}
	m.stateTransitions.WithLabelValues(label(state)).Inc()
}

// RecordApproval counts an approval result.
func (m *Metrics) RecordApproval(result string) {
	if m == nil {
		return
	}
	m.approvals.WithLabelValues(label(result)).Inc()
}

// RecordRateLimitWait counts a limiter delay.
func (m *Metrics) RecordRateLimitWait() {
	if m == nil {
		return
	}
	m.rateLimitWaits.Inc()
}

// MarkRatesRefreshed stamps the last complete rate table time.
func (m *Metrics) MarkRatesRefreshed(at time.Time) {
	if m == nil {
		return
	}
	m.lastRateRefreshed.Set(float64(at.Unix()))
}

func label(v string) string {
	if v = strings.TrimSpace(v); v == "" {
		return "unspecified"
	}
	return v
}
