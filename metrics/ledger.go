// Package metrics exposes Prometheus instrumentation for the sale ledger.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// LedgerMetrics records ledger activity. A nil *LedgerMetrics is a no-op.
type LedgerMetrics struct {
	salesRecorded  prometheus.Counter
	itemsRecorded  prometheus.Counter
	recordFailures *prometheus.CounterVec
	recordDuration prometheus.Histogram
	arenaLength    prometheus.Gauge
	taxRate        prometheus.Gauge
}

// NewLedgerMetrics registers the ledger metrics on the provided registerer.
func NewLedgerMetrics(reg prometheus.Registerer) *LedgerMetrics {
	if reg == nil {
		return nil
	}
	m := &LedgerMetrics{
		salesRecorded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ledger_sales_recorded_total",
			Help: "Sales successfully recorded.",
		}),
		itemsRecorded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ledger_items_recorded_total",
			Help: "Line items appended to the item arena.",
		}),
		recordFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ledger_record_failures_total",
			Help: "Rejected or failed sale recordings.",
		}, []string{"reason"}),
		recordDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "ledger_record_duration_seconds",
			Help:    "Duration of sale recordings in seconds.",
			Buckets: prometheus.DefBuckets,
		}),
		arenaLength: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ledger_arena_length",
			Help: "Number of items in the item arena.",
		}),
		taxRate: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ledger_tax_rate_percent",
			Help: "Current tax rate applied to new sales.",
		}),
	}
	reg.MustRegister(m.salesRecorded, m.itemsRecorded, m.recordFailures,
		m.recordDuration, m.arenaLength, m.taxRate)
	return m
}

// ObserveSale records one successful sale with its item count.
func (m *LedgerMetrics) ObserveSale(items int, duration time.Duration) {
	if m == nil {
		return
	}
	m.salesRecorded.Inc()
	m.itemsRecorded.Add(float64(items))
	m.recordDuration.Observe(duration.Seconds())
}

// IncFailure counts a failed recording under reason.
func (m *LedgerMetrics) IncFailure(reason string) {
	if m == nil {
		return
	}
	if reason == "" {
		reason = "unknown"
	}
	m.recordFailures.WithLabelValues(reason).Inc()
}

// SetArenaLength publishes the arena length.
func (m *LedgerMetrics) SetArenaLength(n uint64) {
	if m == nil {
		return
	}
	m.arenaLength.Set(float64(n))
}

// SetTaxRate publishes the current rate. Rates past float64 precision
// are reported approximately.
func (m *LedgerMetrics) SetTaxRate(rate float64) {
	if m == nil {
		return
	}
	m.taxRate.Set(rate)
}
