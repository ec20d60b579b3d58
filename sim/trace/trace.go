package trace

import "errors"

// Sink receives trace entries as the engine produces them.
// Implementations must append in call order and never drop entries.
type Sink interface {
	RecordDecision(DecisionRecord) error
	Record(Record) error
	RecordElimination(EliminationRecord) error
}

// DecisionTrace collects trace entries of a governance run in memory.
// It is the input of Summarize.
type DecisionTrace struct {
	RunID        string
	Decisions    []DecisionRecord
	Records      []Record
	Eliminations []EliminationRecord
}

// NewDecisionTrace creates a DecisionTrace ready for recording.
func NewDecisionTrace(runID string) *DecisionTrace {
	return &DecisionTrace{
		RunID:        runID,
		Decisions:    make([]DecisionRecord, 0),
		Records:      make([]Record, 0),
		Eliminations: make([]EliminationRecord, 0),
	}
}

// RecordDecision appends a decision record.
func (dt *DecisionTrace) RecordDecision(record DecisionRecord) error {
	dt.Decisions = append(dt.Decisions, record)
	return nil
}

// Record appends a resolved or censored trace record.
func (dt *DecisionTrace) Record(record Record) error {
	dt.Records = append(dt.Records, record)
	return nil
}

// RecordElimination appends an elimination record.
func (dt *DecisionTrace) RecordElimination(record EliminationRecord) error {
	dt.Eliminations = append(dt.Eliminations, record)
	return nil
}

// CumulativeRegret returns the cumulative regret of the last record, 0 when empty.
func (dt *DecisionTrace) CumulativeRegret() float64 {
	if len(dt.Records) == 0 {
		return 0
	}
	return dt.Records[len(dt.Records)-1].CumulativeRegret
}

type tee []Sink

// Tee fans every entry out to all sinks, in order. All sinks are called even
// when one fails; the errors are joined.
func Tee(sinks ...Sink) Sink {
	return tee(sinks)
}

func (t tee) RecordDecision(r DecisionRecord) error {
	var errs []error
	for _, s := range t {
		errs = append(errs, s.RecordDecision(r))
	}
	return errors.Join(errs...)
}

func (t tee) Record(r Record) error {
	var errs []error
	for _, s := range t {
		errs = append(errs, s.Record(r))
	}
	return errors.Join(errs...)
}

func (t tee) RecordElimination(r EliminationRecord) error {
	var errs []error
	for _, s := range t {
		errs = append(errs, s.RecordElimination(r))
	}
	return errors.Join(errs...)
}
