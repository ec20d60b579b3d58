package sim

import "math"

// RewardParams shapes the predictive loss and the safety penalty.
// It is the RewardConfig without YAML concerns.
type RewardParams struct {
	Loss                 string  // LossLog or LossBrier
	Epsilon              float64 // predictions are clipped to [Epsilon, 1-Epsilon]
	DecisionThreshold    float64
	FalseNegativePenalty float64
	FalsePositivePenalty float64
}

// ParamsFromConfig extracts RewardParams from a RewardConfig.
func ParamsFromConfig(c RewardConfig) RewardParams {
	return RewardParams{
		Loss:                 c.Loss,
		Epsilon:              c.Epsilon,
		DecisionThreshold:    c.DecisionThreshold,
		FalseNegativePenalty: c.FalseNegativePenalty,
		FalsePositivePenalty: c.FalsePositivePenalty,
	}
}

// Clip bounds a prediction to [eps, 1-eps] so the log loss stays finite.
func Clip(prediction, eps float64) float64 {
	return math.Min(math.Max(prediction, eps), 1-eps)
}

// PredictiveLoss returns the loss of a probability against a binary outcome.
func PredictiveLoss(outcome int, prediction float64, p RewardParams) float64 {
	q := Clip(prediction, p.Epsilon)
	y := float64(outcome)
	if p.Loss == LossBrier {
		return (q - y) * (q - y)
	}
	return -(y*math.Log(q) + (1-y)*math.Log(1-q))
}

// SafetyPenalty is non-zero only for clinically asymmetric errors: a positive
// (high-severity) outcome scored below the decision threshold, or, when configured,
// a negative outcome flagged at or above it.
func SafetyPenalty(outcome int, prediction float64, p RewardParams) float64 {
	flagged := prediction >= p.DecisionThreshold
	switch {
	case outcome == 1 && !flagged:
		return p.FalseNegativePenalty
	case outcome == 0 && flagged:
		return p.FalsePositivePenalty
	}
	return 0
}

// Utility = −loss − λ_cost·cost − λ_safety·penalty.
// Deterministic and side-effect free.
func Utility(outcome int, prediction, armCost, lambdaCost, lambdaSafety float64, p RewardParams) float64 {
	return -PredictiveLoss(outcome, prediction, p) -
		lambdaCost*armCost -
		lambdaSafety*SafetyPenalty(outcome, prediction, p)
}

// RewardFunc binds the reward weights of a Config.
type RewardFunc struct {
	LambdaCost   float64
	LambdaSafety float64
	Params       RewardParams
}

// NewRewardFunc creates a RewardFunc from an already validated Config.
func NewRewardFunc(cfg Config) RewardFunc {
	return RewardFunc{
		LambdaCost:   cfg.LambdaCost,
		LambdaSafety: cfg.LambdaSafety,
		Params:       ParamsFromConfig(cfg.Reward),
	}
}

// Utility evaluates the bound reward for one outcome.
func (rf RewardFunc) Utility(outcome int, prediction, armCost float64) float64 {
	return Utility(outcome, prediction, armCost, rf.LambdaCost, rf.LambdaSafety, rf.Params)
}

// Breakdown returns the three components of the utility separately, for the trace.
func (rf RewardFunc) Breakdown(outcome int, prediction, armCost float64) (loss, cost, penalty float64) {
	return PredictiveLoss(outcome, prediction, rf.Params),
		rf.LambdaCost * armCost,
		rf.LambdaSafety * SafetyPenalty(outcome, prediction, rf.Params)
}

// LossRange is the width of the interval a single step's loss (−utility) can take
// for a fixed arm. Cost is constant per arm and does not widen it.
func (rf RewardFunc) LossRange() float64 {
	var maxLoss float64
	if rf.Params.Loss == LossBrier {
		e := 1 - rf.Params.Epsilon
		maxLoss = e * e
	} else {
		maxLoss = -math.Log(rf.Params.Epsilon)
	}
	penalty := math.Max(rf.Params.FalseNegativePenalty, rf.Params.FalsePositivePenalty)
	return maxLoss + rf.LambdaSafety*penalty
}
