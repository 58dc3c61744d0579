// Package metrics holds the Prometheus instruments for ingestion, wallet postings and bonus runs.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "vedagro"

// Metrics holds Prometheus metrics for the engine. A nil *Metrics is valid and records nothing.
type Metrics struct {
	PointsRecorded  *prometheus.CounterVec
	DuplicateOrders prometheus.Counter
	WalletPostings  *prometheus.CounterVec
	BonusRuns       *prometheus.CounterVec
	BonusRunSeconds *prometheus.HistogramVec
	BonusPaid       *prometheus.CounterVec
	JobsProcessed   *prometheus.CounterVec
}

// New registers the metrics with reg
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		PointsRecorded: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "points_recorded_total",
				Help:      "Point events accepted by the ledger",
			},
			[]string{"flavor"},
		),
		DuplicateOrders: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "duplicate_orders_total",
				Help:      "Point events rejected as duplicate orders",
			},
		),
		WalletPostings: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "wallet_postings_total",
				Help:      "Wallet transactions written",
			},
			[]string{"direction"}, // credit or debit
		),
		BonusRuns: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "bonus_runs_total",
				Help:      "Bonus runs by final status",
			},
			[]string{"bonus_type", "status"},
		),
		BonusRunSeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "bonus_run_duration_seconds",
				Help:      "Bonus run duration in seconds",
				Buckets:   prometheus.ExponentialBuckets(0.05, 2, 14),
			},
			[]string{"bonus_type"},
		),
		BonusPaid: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "bonus_paid_minor_units_total",
				Help:      "Net bonus amounts credited, in paise",
			},
			[]string{"bonus_type"},
		),
		JobsProcessed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "queue",
				Name:      "jobs_processed_total",
				Help:      "Background jobs handled by outcome",
			},
			[]string{"queue", "outcome"},
		),
	}
}

// ObservePoints counts an accepted point event
func (m *Metrics) ObservePoints(flavor string) {
	if m == nil {
		return
	}
	m.PointsRecorded.WithLabelValues(flavor).Inc()
}

// ObserveDuplicateOrder counts a rejected replay
func (m *Metrics) ObserveDuplicateOrder() {
	if m == nil {
		return
	}
	m.DuplicateOrders.Inc()
}

// ObservePosting counts a wallet credit or debit
func (m *Metrics) ObservePosting(direction string) {
	if m == nil {
		return
	}
	m.WalletPostings.WithLabelValues(direction).Inc()
}

// ObserveRun records a finished bonus run
func (m *Metrics) ObserveRun(bonusType, status string, elapsed time.Duration, netPaid int64) {
	if m == nil {
		return
	}
	m.BonusRuns.WithLabelValues(bonusType, status).Inc()
	m.BonusRunSeconds.WithLabelValues(bonusType).Observe(elapsed.Seconds())
	if netPaid > 0 {
		m.BonusPaid.WithLabelValues(bonusType).Add(float64(netPaid))
	}
}

// ObservePaid adds a net bonus amount posted outside a period run
func (m *Metrics) ObservePaid(bonusType string, net int64) {
	if m == nil || net <= 0 {
		return
	}
	m.BonusPaid.WithLabelValues(bonusType).Add(float64(net))
}

// ObserveJob records the outcome of a queued job
func (m *Metrics) ObserveJob(queue, outcome string) {
	if m == nil {
		return
	}
	m.JobsProcessed.WithLabelValues(queue, outcome).Inc()
}
