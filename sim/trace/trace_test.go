package trace

import (
	"errors"
	"testing"
)

func TestDecisionTrace_RecordDecision_AppendsRecord(t *testing.T) {
	// GIVEN an empty trace
	dt := NewDecisionTrace("run-1")

	// WHEN a decision is recorded
	err := dt.RecordDecision(DecisionRecord{Seq: 1, Clock: 10, ChosenArm: "A", Reason: "lowest-lcb (lcb=-Inf)"})

	// THEN it is stored
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(dt.Decisions) != 1 {
		t.Fatalf("expected 1 decision, got %d", len(dt.Decisions))
	}
	if dt.Decisions[0].ChosenArm != "A" {
		t.Errorf("expected chosen arm A, got %q", dt.Decisions[0].ChosenArm)
	}
	if dt.RunID != "run-1" {
		t.Errorf("expected run id run-1, got %q", dt.RunID)
	}
}

func TestDecisionTrace_MultipleRecords_PreservesOrder(t *testing.T) {
	dt := NewDecisionTrace("")
	for i := int64(1); i <= 5; i++ {
		_ = dt.Record(Record{Seq: i, CumulativeRegret: float64(i) * 0.1})
	}
	_ = dt.RecordElimination(EliminationRecord{ArmID: "C", ByArm: "A", Seq: 4})

	for i, r := range dt.Records {
		if r.Seq != int64(i+1) {
			t.Errorf("record %d: expected seq %d, got %d", i, i+1, r.Seq)
		}
	}
	if got := dt.CumulativeRegret(); got != 0.5 {
		t.Errorf("expected cumulative regret 0.5, got %v", got)
	}
	if len(dt.Eliminations) != 1 || dt.Eliminations[0].ArmID != "C" {
		t.Errorf("unexpected eliminations: %+v", dt.Eliminations)
	}
}

func TestDecisionTrace_CumulativeRegret_EmptyIsZero(t *testing.T) {
	if got := NewDecisionTrace("").CumulativeRegret(); got != 0 {
		t.Errorf("expected 0, got %v", got)
	}
}

type failingSink struct {
	calls int
}

func (f *failingSink) RecordDecision(DecisionRecord) error {
	f.calls++
	return errors.New("disk full")
}

func (f *failingSink) Record(Record) error {
	f.calls++
	return errors.New("disk full")
}

func (f *failingSink) RecordElimination(EliminationRecord) error {
	f.calls++
	return errors.New("disk full")
}

func TestTee_CallsEverySinkAndJoinsErrors(t *testing.T) {
	// GIVEN a failing sink ahead of an in-memory trace
	bad := &failingSink{}
	dt := NewDecisionTrace("tee")
	sink := Tee(bad, dt)

	// WHEN entries are recorded
	errDecision := sink.RecordDecision(DecisionRecord{Seq: 1})
	errRecord := sink.Record(Record{Seq: 1})
	errElim := sink.RecordElimination(EliminationRecord{ArmID: "B"})

	// THEN the trace still receives every entry and each error surfaces
	for _, err := range []error{errDecision, errRecord, errElim} {
		if err == nil {
			t.Error("expected joined error from failing sink")
		}
	}
	if bad.calls != 3 {
		t.Errorf("expected 3 calls on failing sink, got %d", bad.calls)
	}
	if len(dt.Decisions) != 1 || len(dt.Records) != 1 || len(dt.Eliminations) != 1 {
		t.Errorf("in-memory trace missed entries: %d/%d/%d", len(dt.Decisions), len(dt.Records), len(dt.Eliminations))
	}
}

func TestTee_NoErrors(t *testing.T) {
	a, b := NewDecisionTrace("a"), NewDecisionTrace("b")
	if err := Tee(a, b).Record(Record{Seq: 9}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(a.Records) != 1 || len(b.Records) != 1 {
		t.Error("expected both sinks to receive the record")
	}
}
