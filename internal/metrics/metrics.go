// Package metrics exposes Prometheus instrumentation for every stage of
// the pipeline (ingress -> graph -> scanner -> guard -> executor ->
// breaker), generalized from the teacher's internal/bot/metrics.go,
// which instruments the equivalent per-pair spread-detection/execution
// pipeline with the same promauto-registered histogram/counter/gauge
// shapes.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// IngressLatency measures time from exchange message receipt to the
	// book being applied locally (spec §4.1).
	IngressLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "arbitrage",
		Subsystem: "ingress",
		Name:      "apply_latency_seconds",
		Help:      "Time to apply a book update after receipt.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"pair"})

	SequenceGaps = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "arbitrage",
		Subsystem: "ingress",
		Name:      "sequence_gaps_total",
		Help:      "Sequence gaps detected per pair.",
	}, []string{"pair"})

	BookUpdatesCoalesced = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "arbitrage",
		Subsystem: "ingress",
		Name:      "updates_coalesced_total",
		Help:      "BookUpdate notifications dropped due to a full channel.",
	})

	// GraphRebuildLatency measures edge-pair rebuild time (spec §4.2).
	GraphRebuildLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "arbitrage",
		Subsystem: "graph",
		Name:      "rebuild_latency_seconds",
		Help:      "Time to rebuild both directed edges for one pair.",
		Buckets:   prometheus.DefBuckets,
	})

	// ScanLatency measures incremental re-evaluation time for one
	// currency's affected cycles (spec §4.3).
	ScanLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "arbitrage",
		Subsystem: "scanner",
		Name:      "reevaluate_latency_seconds",
		Help:      "Time to re-evaluate cycles touching one changed currency.",
		Buckets:   prometheus.DefBuckets,
	})

	OpportunitiesDetected = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "arbitrage",
		Subsystem: "scanner",
		Name:      "opportunities_detected_total",
		Help:      "Opportunities that crossed the profitability threshold.",
	})

	CachedOpportunityCount = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "arbitrage",
		Subsystem: "scanner",
		Name:      "cached_opportunities",
		Help:      "Current size of the ranked opportunity cache.",
	})

	// GuardVerdicts counts Evaluate outcomes by verdict and which check
	// failed (spec §4.4).
	GuardVerdicts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "arbitrage",
		Subsystem: "guard",
		Name:      "verdicts_total",
		Help:      "TradeGuard verdicts by outcome and failing check.",
	}, []string{"verdict", "failed_at"})

	// TradesTotal counts executor outcomes by terminal status.
	TradesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "arbitrage",
		Subsystem: "executor",
		Name:      "trades_total",
		Help:      "Completed trade attempts by terminal status.",
	}, []string{"status"})

	// TradePnL is a Gauge, not a Counter: a completed trade's P/L can be
	// negative, and prometheus.Counter.Add panics on a negative delta.
	TradePnL = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "arbitrage",
		Subsystem: "executor",
		Name:      "realized_pnl_usd_total",
		Help:      "Cumulative realized P/L across completed trades, in USD.",
	})

	LegLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "arbitrage",
		Subsystem: "executor",
		Name:      "leg_latency_seconds",
		Help:      "Time from order placement to fill for one leg.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"leg_index"})

	// BreakerTripped counts the number of times the circuit breaker has
	// transitioned into the broken state.
	BreakerTripped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "arbitrage",
		Subsystem: "breaker",
		Name:      "tripped_total",
		Help:      "Number of times the circuit breaker tripped to broken.",
	})

	BreakerIsBroken = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "arbitrage",
		Subsystem: "breaker",
		Name:      "is_broken",
		Help:      "1 if the circuit breaker is currently broken, else 0.",
	})

	ActivePairs = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "arbitrage",
		Subsystem: "engine",
		Name:      "active_pairs",
		Help:      "Number of pairs currently subscribed in the ingress.",
	})
)
