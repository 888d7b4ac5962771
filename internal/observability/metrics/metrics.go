package metrics

import "github.com/prometheus/client_golang/prometheus"

// SyncMetrics exposes counters/histograms for the status-sync engine.
type SyncMetrics struct {
	transitionsTotal  *prometheus.CounterVec
	ledgerOpsTotal    *prometheus.CounterVec
	conflictsTotal    prometheus.Counter
	transitionLatency *prometheus.HistogramVec
}

func NewSyncMetrics(reg prometheus.Registerer) *SyncMetrics {
	m := &SyncMetrics{
		transitionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rehabflow",
			Subsystem: "sync",
			Name:      "transitions_total",
			Help:      "Total booking/case status transitions",
		}, []string{"entity", "from", "to", "outcome"}),
		ledgerOpsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rehabflow",
			Subsystem: "ledger",
			Name:      "operations_total",
			Help:      "Total session ledger operations",
		}, []string{"action", "outcome"}),
		conflictsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "rehabflow",
			Subsystem: "scheduling",
			Name:      "conflicts_total",
			Help:      "Total slot requests rejected for overlap",
		}),
		transitionLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "rehabflow",
			Subsystem: "sync",
			Name:      "transition_latency_seconds",
			Help:      "Latency of coordinator transactions",
			Buckets:   prometheus.DefBuckets,
		}, []string{"trigger"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.transitionsTotal, m.ledgerOpsTotal, m.conflictsTotal, m.transitionLatency)
	return m
}

func (m *SyncMetrics) ObserveTransition(entity, from, to, outcome string) {
	if m == nil {
		return
	}
	m.transitionsTotal.WithLabelValues(entity, from, to, outcome).Inc()
}

// ObserveLedgerOp records a ledger action. outcome is one of "applied",
// "noop", "insufficient", "rejected" or "error".
func (m *SyncMetrics) ObserveLedgerOp(action, outcome string) {
	if m == nil {
		return
	}
	m.ledgerOpsTotal.WithLabelValues(action, outcome).Inc()
}

func (m *SyncMetrics) ObserveConflict() {
	if m == nil {
		return
	}
	m.conflictsTotal.Inc()
}

func (m *SyncMetrics) ObserveTransitionLatency(trigger string, seconds float64) {
	if m == nil {
		return
	}
	m.transitionLatency.WithLabelValues(trigger).Observe(seconds)
}
