package sim

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/julian-borges-md/multiarm-bandit-clinical-ai-governance/sim/internal/testutil"
)

func TestConfidenceBound_HalfWidthFormula(t *testing.T) {
	b := ConfidenceBound{Delta: 0.05, NumArms: 3, LossRange: 2}

	want := 2 * math.Sqrt(math.Log(4*3*100*100/0.05)/(2*100))
	testutil.AssertFloat64Equal(t, "halfWidth(100)", want, b.HalfWidth(100), 1e-12)
	assert.True(t, math.IsInf(b.HalfWidth(0), 1))
}

func TestConfidenceBound_NonIncreasingInCount(t *testing.T) {
	for _, delta := range []float64{0.5, 0.1, 0.01} {
		for _, k := range []int{1, 2, 10} {
			b := ConfidenceBound{Delta: delta, NumArms: k, LossRange: 1}
			prev := b.HalfWidth(1)
			for n := int64(2); n <= 5000; n++ {
				w := b.HalfWidth(n)
				require.LessOrEqual(t, w, prev, "delta=%v K=%d n=%d", delta, k, n)
				prev = w
			}
		}
	}
}

func TestArmStatistic_Observe(t *testing.T) {
	// GIVEN a fresh statistic
	b := ConfidenceBound{Delta: 0.05, NumArms: 2, LossRange: 1}
	s := ArmStatistic{ArmID: "A", HalfWidth: math.Inf(1)}
	assert.True(t, math.IsInf(s.LCB(), -1), "unsampled arm is maximally optimistic")
	assert.True(t, math.IsInf(s.UCB(), 1))

	// WHEN three losses are observed
	for _, l := range []float64{0.2, 0.4, 0.6} {
		s.observe(l, b)
	}

	// THEN mean and bounds follow
	assert.Equal(t, int64(3), s.Count)
	testutil.AssertFloat64Equal(t, "mean", 0.4, s.MeanLoss, 1e-12)
	assert.Equal(t, b.HalfWidth(3), s.HalfWidth)
	assert.InDelta(t, 0.4-s.HalfWidth, s.LCB(), 1e-12)
	assert.InDelta(t, 0.4+s.HalfWidth, s.UCB(), 1e-12)
}
