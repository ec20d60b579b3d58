package sim

import (
	"context"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.decided("A", 1)
		m.resolved("resolved", 0, 0.5)
		m.eliminated(2)
		m.skipped("invalid_prediction")
		m.activeArms(3)
	})
}

func TestMetrics_TrackRun(t *testing.T) {
	// GIVEN an engine wired to a fresh registry
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	e := newTestEngine(t, testConfig(), WithMetrics(m))
	assert.Equal(t, 3.0, promtest.ToFloat64(m.ActiveArms), "active arms set at construction")

	// WHEN three decisions are made, one resolved, one censored and one left pending
	cases := []Case{
		{Context: ctxAt(1, 0), Predictions: preds("A", 0.9, "B", 0.9, "C", 0.9), Outcome: 1, Observed: true, Delay: 0},
		{Context: ctxAt(2, 10), Predictions: preds("A", 0.9, "B", 0.9, "C", 0.9), Observed: false},
		{Context: ctxAt(3, 20), Predictions: preds("A", 0.9, "B", 0.9, "C", 0.9), Outcome: 0, Observed: true, Delay: 5},
	}
	s := NewSimulator(e, cases, "metrics")
	require.NoError(t, s.Run(context.Background()))

	// THEN counters reflect each transition
	assert.Equal(t, 1.0, promtest.ToFloat64(m.Decisions.WithLabelValues("A")))
	assert.Equal(t, 1.0, promtest.ToFloat64(m.Decisions.WithLabelValues("B")))
	assert.Equal(t, 1.0, promtest.ToFloat64(m.Decisions.WithLabelValues("C")))
	assert.Equal(t, 2.0, promtest.ToFloat64(m.Feedback.WithLabelValues("resolved")))
	assert.Equal(t, 1.0, promtest.ToFloat64(m.Feedback.WithLabelValues("censored")))
	assert.Equal(t, 0.0, promtest.ToFloat64(m.PendingFeedback))
	assert.InDelta(t, e.CumulativeRegret(), promtest.ToFloat64(m.CumulativeRegret), 1e-12)
}

func TestMetrics_ExpositionNames(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	m.skipped("duplicate_decision")

	expected := `
# HELP governance_skipped_records_total Number of malformed records skipped, by reason
# TYPE governance_skipped_records_total counter
governance_skipped_records_total{reason="duplicate_decision"} 1
`
	require.NoError(t, promtest.GatherAndCompare(reg, strings.NewReader(expected), "governance_skipped_records_total"))
}

func TestNewMetrics_DoubleRegistrationPanics(t *testing.T) {
	reg := prometheus.NewRegistry()
	NewMetrics(reg)
	assert.Panics(t, func() { NewMetrics(reg) })
}
