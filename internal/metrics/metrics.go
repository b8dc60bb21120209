// Package metrics exposes the engine's Prometheus collectors. A nil *Metrics
// is valid and records nothing, so components can run without a registry.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "rangebet"

// Metrics holds all collectors on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	cycles          *prometheus.CounterVec
	cycleDuration   *prometheus.HistogramVec
	cyclesSkipped   *prometheus.CounterVec
	trades          prometheus.Counter
	matchedLamports prometheus.Counter
	deferredPairs   prometheus.Counter
	commits         *prometheus.CounterVec
	oracleErrors    prometheus.Counter
	checks          *prometheus.CounterVec
	settled         *prometheus.CounterVec
	payoutLamports  prometheus.Counter
}

// New creates and registers the collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		cycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cycles_total",
			Help:      "Completed scheduler cycles by loop and result.",
		}, []string{"loop", "result"}),
		cycleDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "cycle_duration_seconds",
			Help:      "Wall time of one scheduler cycle.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
		}, []string{"loop"}),
		cyclesSkipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cycles_skipped_total",
			Help:      "Ticks skipped because a cycle was in flight or the lock was held.",
		}, []string{"loop", "reason"}),
		trades: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "trades_total",
			Help:      "Trades recorded by the matching engine.",
		}),
		matchedLamports: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "matched_lamports_total",
			Help:      "Volume matched, in lamports.",
		}),
		deferredPairs: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deferred_pairs_total",
			Help:      "Viable pairs left for the next cycle because a leg failed.",
		}),
		commits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "position_commits_total",
			Help:      "Position commit outcomes per leg.",
		}, []string{"outcome"}),
		oracleErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "oracle_errors_total",
			Help:      "Failed oracle fetches.",
		}),
		checks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "settlement_checks_total",
			Help:      "On-chain settlement checks by result.",
		}, []string{"result"}),
		settled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "positions_settled_total",
			Help:      "Positions moved to SETTLED, split by winner.",
		}, []string{"winner"}),
		payoutLamports: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payout_lamports_total",
			Help:      "Sum of persisted payout amounts, in lamports.",
		}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.cycles, m.cycleDuration, m.cyclesSkipped,
		m.trades, m.matchedLamports, m.deferredPairs, m.commits, m.oracleErrors,
		m.checks, m.settled, m.payoutLamports,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// ObserveCycle records one finished cycle.
func (m *Metrics) ObserveCycle(loop string, d time.Duration, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.cycles.WithLabelValues(loop, result).Inc()
	m.cycleDuration.WithLabelValues(loop).Observe(d.Seconds())
}

// CycleSkipped records a tick that did not run.
func (m *Metrics) CycleSkipped(loop, reason string) {
	if m == nil {
		return
	}
	m.cyclesSkipped.WithLabelValues(loop, reason).Inc()
}

// TradeRecorded counts a match of the given size.
func (m *Metrics) TradeRecorded(lamports int64) {
	if m == nil {
		return
	}
	m.trades.Inc()
	m.matchedLamports.Add(float64(lamports))
}

// PairDeferred counts a viable pair that was not applied.
func (m *Metrics) PairDeferred() {
	if m == nil {
		return
	}
	m.deferredPairs.Inc()
}

// Commit counts one leg outcome.
func (m *Metrics) Commit(outcome string) {
	if m == nil {
		return
	}
	m.commits.WithLabelValues(outcome).Inc()
}

// OracleError counts a failed oracle fetch.
func (m *Metrics) OracleError() {
	if m == nil {
		return
	}
	m.oracleErrors.Inc()
}

// SettlementCheck counts one check by result.
func (m *Metrics) SettlementCheck(result string) {
	if m == nil {
		return
	}
	m.checks.WithLabelValues(result).Inc()
}

// PositionSettled counts a persisted settlement.
func (m *Metrics) PositionSettled(winner bool, payoutLamports int64) {
	if m == nil {
		return
	}
	label := "false"
	if winner {
		label = "true"
	}
	m.settled.WithLabelValues(label).Inc()
	m.payoutLamports.Add(float64(payoutLamports))
}
