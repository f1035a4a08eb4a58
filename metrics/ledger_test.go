package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLedgerMetricsExportsCountersAndGauges(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewLedgerMetrics(reg)

	m.ObserveSale(3, 25*time.Millisecond)
	m.ObserveSale(0, 5*time.Millisecond)
	m.IncFailure("overflow")
	m.IncFailure("")
	m.SetArenaLength(3)
	m.SetTaxRate(20)

	assert.Equal(t, float64(2), testutil.ToFloat64(m.salesRecorded))
	assert.Equal(t, float64(3), testutil.ToFloat64(m.itemsRecorded))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.recordFailures.WithLabelValues("overflow")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.recordFailures.WithLabelValues("unknown")))
	assert.Equal(t, float64(3), testutil.ToFloat64(m.arenaLength))
	assert.Equal(t, float64(20), testutil.ToFloat64(m.taxRate))

	mfs, err := reg.Gather()
	require.NoError(t, err)
	hist := findMetricFamily(mfs, "ledger_record_duration_seconds")
	require.NotNil(t, hist)
	assert.Equal(t, uint64(2), hist.GetMetric()[0].GetHistogram().GetSampleCount())
}

func TestNilLedgerMetricsIsNoop(t *testing.T) {
	m := NewLedgerMetrics(nil)
	assert.Nil(t, m)
	m.ObserveSale(1, time.Second)
	m.IncFailure("x")
	m.SetArenaLength(1)
	m.SetTaxRate(1)
}

func findMetricFamily(mfs []*dto.MetricFamily, name string) *dto.MetricFamily {
	for _, mf := range mfs {
		if mf.GetName() == name {
			return mf
		}
	}
	return nil
}
