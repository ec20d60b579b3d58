// Package trace provides the append-only decision trace of a governance run and
// the metrics derived from it.
// This package has no dependencies on sim/. It stores pure data types.
package trace

// DecisionRecord captures a single arm selection at decision time.
type DecisionRecord struct {
	Seq         int64              `json:"seq" yaml:"seq"`
	Clock       int64              `json:"clock" yaml:"clock"`
	ChosenArm   string             `json:"chosen_arm" yaml:"chosen_arm"`
	Prediction  float64            `json:"prediction" yaml:"prediction"`
	Predictions map[string]float64 `json:"predictions" yaml:"predictions"`
	ActiveArms  []string           `json:"active_arms" yaml:"active_arms"`
	Subgroups   map[string]string  `json:"subgroups,omitempty" yaml:"subgroups,omitempty"`
	Reason      string             `json:"reason" yaml:"reason"` // e.g. "single-active", "lowest-lcb (lcb=0.12)"
}

// Record joins a decision with its realized feedback (or the censoring of it).
// Loss, Cost and SafetyPenalty are the weighted components of −Utility.
type Record struct {
	Seq        int64   `json:"seq" yaml:"seq"`
	DecidedAt  int64   `json:"decided_at" yaml:"decided_at"`
	ResolvedAt int64   `json:"resolved_at" yaml:"resolved_at"`
	ChosenArm  string  `json:"chosen_arm" yaml:"chosen_arm"`
	Prediction float64 `json:"prediction" yaml:"prediction"`
	Outcome    int     `json:"outcome" yaml:"outcome"`
	Censored   bool    `json:"censored" yaml:"censored"`

	Loss          float64 `json:"loss" yaml:"loss"`
	Cost          float64 `json:"cost" yaml:"cost"`
	SafetyPenalty float64 `json:"safety_penalty" yaml:"safety_penalty"`
	Utility       float64 `json:"utility" yaml:"utility"`

	BestArm          string  `json:"best_arm" yaml:"best_arm"`
	BestUtility      float64 `json:"best_utility" yaml:"best_utility"`
	Regret           float64 `json:"regret" yaml:"regret"`                       // BestUtility - Utility; 0 if censored
	CumulativeRegret float64 `json:"cumulative_regret" yaml:"cumulative_regret"` // running sum over the trace
	MaxGap           float64 `json:"max_gap" yaml:"max_gap"`                     // best - worst utility over all arms at this step

	Subgroups map[string]string `json:"subgroups,omitempty" yaml:"subgroups,omitempty"`
}

// EliminationRecord captures the permanent removal of an arm and the pair of
// statistics that separated it.
type EliminationRecord struct {
	ArmID  string  `json:"arm_id" yaml:"arm_id"`
	Clock  int64   `json:"clock" yaml:"clock"`
	Seq    int64   `json:"seq" yaml:"seq"` // feedback that triggered the check
	ByArm  string  `json:"by_arm" yaml:"by_arm"`
	ByUCB  float64 `json:"by_ucb" yaml:"by_ucb"`
	ArmLCB float64 `json:"arm_lcb" yaml:"arm_lcb"`
}
