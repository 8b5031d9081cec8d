package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the exchange module.
type Metrics struct {
	// Check-in submissions by result (accepted, rejected, early, late).
	CheckIns *prometheus.CounterVec

	// Finalized outcomes by outcome and trigger (eager, sweep, dispute).
	Outcomes *prometheus.CounterVec

	// Disputes filed, by timing (pre_finalization, post_finalization).
	Disputes *prometheus.CounterVec

	// QR confirmations recorded.
	QRConfirmations prometheus.Counter

	// Instances auto-closed per sweep pass.
	SweepClaimed prometheus.Histogram

	// Duration of a full sweep pass.
	SweepDuration prometheus.Histogram
}

// New creates a Metrics instance with all exchange module metrics registered.
func New() *Metrics {
	return &Metrics{
		CheckIns: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "handoff_checkins_total",
			Help: "Total check-in submissions by result",
		}, []string{"result"}),

		Outcomes: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "handoff_outcomes_total",
			Help: "Total finalized exchange outcomes by outcome and trigger",
		}, []string{"outcome", "trigger"}),

		Disputes: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "handoff_disputes_total",
			Help: "Total disputes filed by timing relative to finalization",
		}, []string{"timing"}),

		QRConfirmations: promauto.NewCounter(prometheus.CounterOpts{
			Name: "handoff_qr_confirmations_total",
			Help: "Total QR mutual confirmations recorded",
		}),

		SweepClaimed: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "handoff_sweep_claimed_instances",
			Help:    "Instances finalized per auto-close sweep pass",
			Buckets: []float64{0, 1, 5, 10, 25, 50, 100, 250},
		}),

		SweepDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "handoff_sweep_duration_seconds",
			Help:    "Duration of one auto-close sweep pass",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}),
	}
}

// IncrementCheckIn records a check-in submission result.
func (m *Metrics) IncrementCheckIn(result string) {
	if m != nil {
		m.CheckIns.WithLabelValues(result).Inc()
	}
}

// IncrementOutcome records a finalized outcome.
func (m *Metrics) IncrementOutcome(outcome, trigger string) {
	if m != nil {
		m.Outcomes.WithLabelValues(outcome, trigger).Inc()
	}
}

// IncrementDispute records a dispute filing.
func (m *Metrics) IncrementDispute(timing string) {
	if m != nil {
		m.Disputes.WithLabelValues(timing).Inc()
	}
}

// IncrementQRConfirmation records a QR confirmation.
func (m *Metrics) IncrementQRConfirmation() {
	if m != nil {
		m.QRConfirmations.Inc()
	}
}

// ObserveSweep records one sweep pass.
func (m *Metrics) ObserveSweep(claimed int, d time.Duration) {
	if m != nil {
		m.SweepClaimed.Observe(float64(claimed))
		m.SweepDuration.Observe(d.Seconds())
	}
}
