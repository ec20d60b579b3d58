package sim

import (
	"errors"
	"fmt"
)

// Errors are split into three classes:
//   - configuration errors, returned by Config.Validate before any engine exists
//   - per-record errors (bad prediction, unknown decision, bad outcome): the record
//     is skipped and the run continues
//   - structural errors (all arms eliminated, clock regression, feedback before
//     decision): the run aborts with the triggering sequence number
//
// Censored feedback is not an error.

// DuplicateArmError is returned when an arm id is registered twice.
type DuplicateArmError struct {
	ArmID string
}

func (e *DuplicateArmError) Error() string {
	return fmt.Sprintf("arm %q already registered", e.ArmID)
}

// UnknownArmError is returned when an operation names an arm the registry does not hold.
type UnknownArmError struct {
	ArmID string
}

func (e *UnknownArmError) Error() string {
	return fmt.Sprintf("unknown arm %q", e.ArmID)
}

// InvalidArmError is returned for an arm with an empty id or an unusable cost.
type InvalidArmError struct {
	ArmID  string
	Reason string
}

func (e *InvalidArmError) Error() string {
	return fmt.Sprintf("invalid arm %q: %s", e.ArmID, e.Reason)
}

// InvalidPredictionError is returned by Decide when an active arm has no prediction,
// or its prediction is NaN or outside [0, 1].
type InvalidPredictionError struct {
	Seq     int64
	ArmID   string
	Value   float64
	Missing bool
}

func (e *InvalidPredictionError) Error() string {
	if e.Missing {
		return fmt.Sprintf("seq %d: no prediction for active arm %q", e.Seq, e.ArmID)
	}
	return fmt.Sprintf("seq %d: invalid prediction %v for arm %q (want probability in [0,1])", e.Seq, e.Value, e.ArmID)
}

// DuplicateDecisionError is returned when Decide sees a sequence number that is
// not after the last decided one. Sequence numbers are strictly increasing, so
// this catches both replays and out-of-order contexts.
type DuplicateDecisionError struct {
	Seq  int64
	Last int64
}

func (e *DuplicateDecisionError) Error() string {
	return fmt.Sprintf("seq %d: decision already exists or out of order (last decided %d)", e.Seq, e.Last)
}

// UnknownDecisionError is returned when feedback names a decision the engine never made.
type UnknownDecisionError struct {
	Seq int64
}

func (e *UnknownDecisionError) Error() string {
	return fmt.Sprintf("seq %d: unknown decision", e.Seq)
}

// DuplicateFeedbackError is returned when feedback arrives for an already resolved decision.
type DuplicateFeedbackError struct {
	Seq int64
}

func (e *DuplicateFeedbackError) Error() string {
	return fmt.Sprintf("seq %d: feedback already consumed", e.Seq)
}

// InvalidOutcomeError is returned when an outcome label is not 0 or 1.
type InvalidOutcomeError struct {
	Seq     int64
	Outcome int
}

func (e *InvalidOutcomeError) Error() string {
	return fmt.Sprintf("seq %d: outcome %d is not a binary label", e.Seq, e.Outcome)
}

// AllArmsEliminatedError signals that the active set is (or would become) empty.
type AllArmsEliminatedError struct {
	Seq int64
}

func (e *AllArmsEliminatedError) Error() string {
	return fmt.Sprintf("seq %d: no active arms remain", e.Seq)
}

// ClockRegressionError is returned when simulated time is asked to move backwards.
type ClockRegressionError struct {
	Now  int64
	Last int64
}

func (e *ClockRegressionError) Error() string {
	return fmt.Sprintf("clock went backwards: %d < %d", e.Now, e.Last)
}

// FeedbackBeforeDecisionError is returned when a feedback arrival precedes its decision.
type FeedbackBeforeDecisionError struct {
	Seq       int64
	DecidedAt int64
	ArrivesAt int64
}

func (e *FeedbackBeforeDecisionError) Error() string {
	return fmt.Sprintf("seq %d: feedback arrival %d precedes decision time %d", e.Seq, e.ArrivesAt, e.DecidedAt)
}

// AbortError wraps a structural error with the sequence number that triggered it.
type AbortError struct {
	Seq int64
	Err error
}

func (e *AbortError) Error() string {
	return fmt.Sprintf("run aborted at seq %d: %v", e.Seq, e.Err)
}

func (e *AbortError) Unwrap() error {
	return e.Err
}

// IsStructural reports whether err is an invariant violation that must abort a run.
func IsStructural(err error) bool {
	var allGone *AllArmsEliminatedError
	var regress *ClockRegressionError
	var early *FeedbackBeforeDecisionError
	return errors.As(err, &allGone) || errors.As(err, &regress) || errors.As(err, &early)
}

// IsRecordError reports whether err concerns a single malformed record that can be
// skipped without affecting the rest of the run.
func IsRecordError(err error) bool {
	var (
		badPred     *InvalidPredictionError
		dupDecision *DuplicateDecisionError
		unknown     *UnknownDecisionError
		dupFeedback *DuplicateFeedbackError
		badOutcome  *InvalidOutcomeError
		unknownArm  *UnknownArmError
	)
	return errors.As(err, &badPred) || errors.As(err, &dupDecision) ||
		errors.As(err, &unknown) || errors.As(err, &dupFeedback) ||
		errors.As(err, &badOutcome) || errors.As(err, &unknownArm)
}

// skipReason is the metrics label for a per-record error.
func skipReason(err error) string {
	var (
		badPred     *InvalidPredictionError
		dupDecision *DuplicateDecisionError
		unknown     *UnknownDecisionError
		dupFeedback *DuplicateFeedbackError
		badOutcome  *InvalidOutcomeError
	)
	switch {
	case errors.As(err, &badPred):
		return "invalid_prediction"
	case errors.As(err, &dupDecision):
		return "duplicate_decision"
	case errors.As(err, &unknown):
		return "unknown_decision"
	case errors.As(err, &dupFeedback):
		return "duplicate_feedback"
	case errors.As(err, &badOutcome):
		return "invalid_outcome"
	}
	return "other"
}
