// Prometheus collectors for a governance run.

package sim

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus collectors updated by the Engine and Simulator.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	Decisions        *prometheus.CounterVec
	Feedback         *prometheus.CounterVec
	Skipped          *prometheus.CounterVec
	Eliminations     prometheus.Counter
	ActiveArms       prometheus.Gauge
	PendingFeedback  prometheus.Gauge
	CumulativeRegret prometheus.Gauge
}

// NewMetrics creates and registers all collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Decisions: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "governance_decisions_total",
				Help: "Number of decisions, by chosen arm",
			},
			[]string{"arm"},
		),
		Feedback: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "governance_feedback_total",
				Help: "Number of feedback resolutions, by status (resolved, censored)",
			},
			[]string{"status"},
		),
		Skipped: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "governance_skipped_records_total",
				Help: "Number of malformed records skipped, by reason",
			},
			[]string{"reason"},
		),
		Eliminations: f.NewCounter(prometheus.CounterOpts{
			Name: "governance_eliminations_total",
			Help: "Number of arms eliminated",
		}),
		ActiveArms: f.NewGauge(prometheus.GaugeOpts{
			Name: "governance_active_arms",
			Help: "Number of arms still active",
		}),
		PendingFeedback: f.NewGauge(prometheus.GaugeOpts{
			Name: "governance_pending_feedback",
			Help: "Number of decisions awaiting feedback",
		}),
		CumulativeRegret: f.NewGauge(prometheus.GaugeOpts{
			Name: "governance_cumulative_regret",
			Help: "Cumulative regret of resolved decisions",
		}),
	}
}

func (m *Metrics) decided(arm string, pending int) {
	if m == nil {
		return
	}
	m.Decisions.WithLabelValues(arm).Inc()
	m.PendingFeedback.Set(float64(pending))
}

func (m *Metrics) resolved(status string, pending int, cumulativeRegret float64) {
	if m == nil {
		return
	}
	m.Feedback.WithLabelValues(status).Inc()
	m.PendingFeedback.Set(float64(pending))
	m.CumulativeRegret.Set(cumulativeRegret)
}

func (m *Metrics) eliminated(active int) {
	if m == nil {
		return
	}
	m.Eliminations.Inc()
	m.ActiveArms.Set(float64(active))
}

func (m *Metrics) skipped(reason string) {
	if m == nil {
		return
	}
	m.Skipped.WithLabelValues(reason).Inc()
}

func (m *Metrics) activeArms(n int) {
	if m == nil {
		return
	}
	m.ActiveArms.Set(float64(n))
}
