package sim

import "math"

// ArmStatistic tracks the realized loss of one arm.
// Count only grows; HalfWidth never grows as Count increases.
type ArmStatistic struct {
	ArmID     string
	Count     int64
	MeanLoss  float64
	HalfWidth float64 // +Inf until the first observation
}

// LCB is the lower confidence bound on the arm's loss.
func (s ArmStatistic) LCB() float64 {
	if s.Count == 0 {
		return math.Inf(-1)
	}
	return s.MeanLoss - s.HalfWidth
}

// UCB is the upper confidence bound on the arm's loss.
func (s ArmStatistic) UCB() float64 {
	if s.Count == 0 {
		return math.Inf(1)
	}
	return s.MeanLoss + s.HalfWidth
}

// ConfidenceBound computes the Hoeffding half-width for losses bounded in an
// interval of width lossRange, made uniform over numArms arms and all sample
// counts with a union bound:
//
//	halfWidth(n) = lossRange · sqrt( ln(4·K·n²/δ) / (2n) )
//
// Decreasing in n whenever 4K/δ ≥ e², which δ ≤ 0.5 guarantees.
type ConfidenceBound struct {
	Delta     float64
	NumArms   int
	LossRange float64
}

// HalfWidth returns the half-width after n observations; +Inf for n == 0.
func (b ConfidenceBound) HalfWidth(n int64) float64 {
	if n <= 0 {
		return math.Inf(1)
	}
	nf := float64(n)
	k := float64(max(b.NumArms, 1))
	return b.LossRange * math.Sqrt(math.Log(4*k*nf*nf/b.Delta)/(2*nf))
}

// observe folds one loss into the running mean and recomputes the half-width.
func (s *ArmStatistic) observe(loss float64, bound ConfidenceBound) {
	s.Count++
	s.MeanLoss += (loss - s.MeanLoss) / float64(s.Count)
	s.HalfWidth = bound.HalfWidth(s.Count)
}
