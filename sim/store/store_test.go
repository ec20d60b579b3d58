package store

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/julian-borges-md/multiarm-bandit-clinical-ai-governance/sim/trace"
)

// pgDSNEnv names a Postgres DSN to run the Postgres tests against.
const pgDSNEnv = "GOVERNANCE_TEST_PG_DSN"

func openTestSQLite(t *testing.T) *Store {
	t.Helper()
	s, err := OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "trace.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func sampleEntries() *trace.DecisionTrace {
	dt := trace.NewDecisionTrace("run-a")
	_ = dt.RecordDecision(trace.DecisionRecord{
		Seq: 1, Clock: 0, ChosenArm: "A", Prediction: 0.7,
		Predictions: map[string]float64{"A": 0.7, "B": 0.4},
		ActiveArms:  []string{"A", "B"},
		Subgroups:   map[string]string{"sex": "female"},
		Reason:      "lowest-lcb (lcb=-Inf)",
	})
	_ = dt.RecordDecision(trace.DecisionRecord{
		Seq: 2, Clock: 3600, ChosenArm: "B", Prediction: 0.4,
		Predictions: map[string]float64{"A": 0.6, "B": 0.4},
		ActiveArms:  []string{"A", "B"},
		Reason:      "lowest-lcb (lcb=-Inf)",
	})
	_ = dt.Record(trace.Record{Seq: 1, DecidedAt: 0, ResolvedAt: 7200, ChosenArm: "A", Prediction: 0.7, Outcome: 1,
		Loss: 0.09, Cost: 0.1, Utility: -0.19, BestArm: "A", BestUtility: -0.19, MaxGap: 0.3,
		Subgroups: map[string]string{"sex": "female"}})
	_ = dt.Record(trace.Record{Seq: 2, DecidedAt: 3600, ResolvedAt: 90000, ChosenArm: "B", Prediction: 0.4, Censored: true})
	_ = dt.RecordElimination(trace.EliminationRecord{ArmID: "B", Clock: 90000, Seq: 2, ByArm: "A", ByUCB: 0.3, ArmLCB: 0.35})
	return dt
}

func writeEntries(t *testing.T, s *Store, dt *trace.DecisionTrace) {
	t.Helper()
	for _, d := range dt.Decisions {
		require.NoError(t, s.RecordDecision(d))
	}
	for _, r := range dt.Records {
		require.NoError(t, s.Record(r))
	}
	for _, e := range dt.Eliminations {
		require.NoError(t, s.RecordElimination(e))
	}
}

func testRoundTrip(t *testing.T, s *Store) {
	ctx := context.Background()
	want := sampleEntries()

	// GIVEN a run with decisions, records and an elimination
	require.NoError(t, s.BeginRun(ctx, want.RunID, map[string]any{"confidence_delta": 0.05}))
	writeEntries(t, s, want)

	// WHEN the trace is loaded back
	got, err := s.LoadTrace(ctx, want.RunID)
	require.NoError(t, err)

	// THEN entries come back in append order, unchanged
	assert.Equal(t, want, got)
	assert.Equal(t, trace.Summarize(want), trace.Summarize(got))
}

func TestSQLiteStore_RoundTrip(t *testing.T) {
	testRoundTrip(t, openTestSQLite(t))
}

func TestSQLiteStore_RunsAreIsolated(t *testing.T) {
	ctx := context.Background()
	s := openTestSQLite(t)

	require.NoError(t, s.BeginRun(ctx, "first", struct{ Seed int }{1}))
	writeEntries(t, s, sampleEntries())
	require.NoError(t, s.BeginRun(ctx, "second", struct{ Seed int }{2}))
	require.NoError(t, s.RecordDecision(trace.DecisionRecord{Seq: 10, ChosenArm: "C"}))

	runs, err := s.Runs(ctx)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	ids := []string{runs[0].RunID, runs[1].RunID}
	assert.ElementsMatch(t, []string{"first", "second"}, ids)
	for _, r := range runs {
		var cfg struct{ Seed int }
		require.NoError(t, json.Unmarshal(r.Config, &cfg))
		if r.RunID == "second" {
			assert.Equal(t, 2, cfg.Seed)
		}
	}

	second, err := s.LoadTrace(ctx, "second")
	require.NoError(t, err)
	require.Len(t, second.Decisions, 1)
	assert.Equal(t, int64(10), second.Decisions[0].Seq, "idx restarts per run")
	assert.Empty(t, second.Records)

	first, err := s.LoadTrace(ctx, "first")
	require.NoError(t, err)
	assert.Len(t, first.Decisions, 2)
}

func TestSQLiteStore_RunsOrderedWithinOneSecond(t *testing.T) {
	ctx := context.Background()
	s := openTestSQLite(t)

	// GIVEN runs started at sub-second offsets whose shortest decimal forms misorder as text
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	starts := []struct {
		id  string
		off time.Duration
	}{
		{"r-whole", 0},
		{"r-half", 500 * time.Millisecond},
		{"r-510", 510 * time.Millisecond},
	}
	for _, st := range starts {
		at := base.Add(st.off)
		s.now = func() time.Time { return at }
		require.NoError(t, s.BeginRun(ctx, st.id, nil))
	}

	// WHEN listing runs
	runs, err := s.Runs(ctx)
	require.NoError(t, err)

	// THEN they come back in start order
	require.Len(t, runs, 3)
	assert.Equal(t, []string{"r-whole", "r-half", "r-510"}, []string{runs[0].RunID, runs[1].RunID, runs[2].RunID})
	assert.Equal(t, "2026-03-01T12:00:00.000000000Z", runs[0].StartedAt)
}

func TestSQLiteStore_ReopenKeepsData(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "trace.db")
	s, err := OpenSQLite(ctx, path)
	require.NoError(t, err)
	require.NoError(t, s.BeginRun(ctx, "persisted", nil))
	writeEntries(t, s, sampleEntries())
	require.NoError(t, s.Close())

	s, err = OpenSQLite(ctx, path)
	require.NoError(t, err)
	defer s.Close()
	dt, err := s.LoadTrace(ctx, "persisted")
	require.NoError(t, err)
	assert.Len(t, dt.Records, 2)
}

func TestStore_Errors(t *testing.T) {
	ctx := context.Background()
	s := openTestSQLite(t)

	// Writing before BeginRun fails
	assert.Error(t, s.RecordDecision(trace.DecisionRecord{Seq: 1}))
	assert.Error(t, s.Record(trace.Record{Seq: 1}))
	assert.Error(t, s.RecordElimination(trace.EliminationRecord{ArmID: "A"}))

	// Unknown runs cannot be loaded
	_, err := s.LoadTrace(ctx, "missing")
	assert.ErrorContains(t, err, "not found")

	// Run ids are unique
	require.NoError(t, s.BeginRun(ctx, "dup", nil))
	assert.Error(t, s.BeginRun(ctx, "dup", nil))

	// Sequence numbers may repeat across entries; idx keeps them apart
	require.NoError(t, s.RecordDecision(trace.DecisionRecord{Seq: 1}))
	require.NoError(t, s.RecordDecision(trace.DecisionRecord{Seq: 1}))
}

func TestStore_Rebind(t *testing.T) {
	pg := &Store{dollarQs: true}
	lite := &Store{}
	q := `INSERT INTO t (a, b, c) VALUES (?, ?, ?)`

	assert.Equal(t, `INSERT INTO t (a, b, c) VALUES ($1, $2, $3)`, pg.rebind(q))
	assert.Equal(t, q, lite.rebind(q))
}

func TestOpenPostgres_EmptyDSN(t *testing.T) {
	_, err := OpenPostgres(context.Background(), "")
	assert.Error(t, err)
}

func TestPostgresStore_RoundTrip(t *testing.T) {
	dsn := os.Getenv(pgDSNEnv)
	if dsn == "" {
		t.Skipf("%s not set", pgDSNEnv)
	}
	ctx := context.Background()
	s, err := OpenPostgres(ctx, dsn)
	require.NoError(t, err)
	defer s.Close()
	// Start from empty tables.
	for _, table := range []string{"eliminations", "trace_records", "decisions", "runs"} {
		_, err := s.DB().ExecContext(ctx, "DELETE FROM "+table)
		require.NoError(t, err)
	}

	testRoundTrip(t, s)
}
