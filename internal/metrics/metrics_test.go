package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetricsRecord(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.ObservePoints("REPURCHASE")
	m.ObservePoints("REPURCHASE")
	m.ObserveDuplicateOrder()
	m.ObserveRun("MATCHING", "COMPLETED", 2*time.Second, 8500)
	m.ObserveRun("MATCHING", "FAILED", time.Second, 0)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.PointsRecorded.WithLabelValues("REPURCHASE")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.DuplicateOrders))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.BonusRuns.WithLabelValues("MATCHING", "FAILED")))
	assert.Equal(t, 8500.0, testutil.ToFloat64(m.BonusPaid.WithLabelValues("MATCHING")))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObservePoints("FIRST_PURCHASE")
		m.ObservePosting("credit")
		m.ObserveRun("ROYALTY", "COMPLETED", time.Millisecond, 1)
		m.ObserveJob("bonus_run", "ok")
	})
}
