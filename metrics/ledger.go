// Package metrics exposes Prometheus collectors for the ledger service.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/warp/leave-ledger/ledger"
)

const namespace = "leave_ledger"

// Ledger implements ledger.Observer. A nil *Ledger records nothing.
type Ledger struct {
	operations  *prometheus.CounterVec
	txConflicts *prometheus.CounterVec
	cacheLookup *prometheus.CounterVec
	drift       prometheus.Counter
}

var _ ledger.Observer = (*Ledger)(nil)

// NewLedger registers the ledger collectors on the provided registerer.
func NewLedger(reg prometheus.Registerer) *Ledger {
	if reg == nil {
		return &Ledger{}
	}
	operations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "operations_total",
		Help:      "Ledger operations by outcome kind.",
	}, []string{"op", "kind"})
	txConflicts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "tx_conflicts_total",
		Help:      "Optimistic transaction conflicts that triggered a retry.",
	}, []string{"op"})
	cacheLookup := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "cache_lookups_total",
		Help:      "Balance view cache lookups by result.",
	}, []string{"result"})
	drift := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "drifted_categories_total",
		Help:      "Categories whose stored balance disagreed with the ledger.",
	})
	reg.MustRegister(operations, txConflicts, cacheLookup, drift)
	return &Ledger{
		operations:  operations,
		txConflicts: txConflicts,
		cacheLookup: cacheLookup,
		drift:       drift,
	}
}

func (l *Ledger) Outcome(op string, kind ledger.Kind) {
	if l == nil || l.operations == nil {
		return
	}
	l.operations.WithLabelValues(normalizeLabel(op), normalizeLabel(string(kind))).Inc()
}

func (l *Ledger) TxConflict(op string) {
	if l == nil || l.txConflicts == nil {
		return
	}
	l.txConflicts.WithLabelValues(normalizeLabel(op)).Inc()
}

func (l *Ledger) CacheLookup(hit bool) {
	if l == nil || l.cacheLookup == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	l.cacheLookup.WithLabelValues(result).Inc()
}

func (l *Ledger) Drift(categories int) {
	if l == nil || l.drift == nil || categories <= 0 {
		return
	}
	l.drift.Add(float64(categories))
}

// =============================================================================
// HTTP
// =============================================================================

// HTTP records request latency per route pattern.
type HTTP struct {
	duration *prometheus.HistogramVec
}

func NewHTTP(reg prometheus.Registerer) *HTTP {
	if reg == nil {
		return &HTTP{}
	}
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request latency by route and status.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "route", "status"})
	reg.MustRegister(duration)
	return &HTTP{duration: duration}
}

func (h *HTTP) Observe(method, route string, status int, elapsed time.Duration) {
	if h == nil || h.duration == nil {
		return
	}
	h.duration.WithLabelValues(method, normalizeLabel(route), strconv.Itoa(status)).Observe(elapsed.Seconds())
}

func normalizeLabel(v string) string {
	if v == "" {
		return "unknown"
	}
	return v
}
