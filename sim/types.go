package sim

import "sort"

// Context is the snapshot of patient and operational features available at
// decision time. Read-only to the engine.
type Context struct {
	Seq       int64              // decision sequence number
	Time      int64              // simulated decision time (ticks)
	Features  map[string]float64 // opaque to the engine
	Subgroups map[string]string  // optional labels for equity auditing, e.g. {"sex": "F"}
}

// PredictionSet maps arm id to the arm's risk score for one context.
type PredictionSet map[string]float64

// ArmIDs returns the ids in the set, sorted.
func (p PredictionSet) ArmIDs() []string {
	ids := make([]string, 0, len(p))
	for id := range p {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Decision is the engine's immutable choice for one context.
type Decision struct {
	Seq         int64
	Context     Context
	Arm         string
	Prediction  float64       // the chosen arm's score
	Predictions PredictionSet // usable scores of all registered arms, for regret in hindsight
	DecidedAt   int64
	Reason      string
}

// FeedbackEvent is an observed outcome for a decision.
// ArrivesAt is never earlier than the decision time.
type FeedbackEvent struct {
	Seq       int64
	Outcome   int // 0 or 1
	ArrivesAt int64
}
