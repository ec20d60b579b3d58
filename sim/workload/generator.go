package workload

import (
	"fmt"
	"maps"
	"math"
	"math/rand"
	"slices"

	"github.com/julian-borges-md/multiarm-bandit-clinical-ai-governance/sim"
)

// Generate creates the case stream of a scenario.
// Deterministic given the same scenario, feedback window and seed.
//
// Explicit cases are replayed as listed, in file order. Otherwise num_decisions
// synthetic cases are drawn; outcome delays are uniform over the feedback window.
func Generate(sc *Scenario, fb sim.FeedbackConfig, seed int64) ([]sim.Case, error) {
	if err := sc.Validate(); err != nil {
		return nil, err
	}
	if len(sc.Cases) > 0 {
		return replay(sc.Cases), nil
	}

	rng := sim.NewPartitionedRNG(sim.NewSimulationKey(seed))
	workloadRNG := rng.ForSubsystem(sim.SubsystemWorkload)
	delayRNG := rng.ForSubsystem(sim.SubsystemDelay)
	followUpRNG := rng.ForSubsystem(sim.SubsystemFollowUp)

	arrival := NewArrivalSampler(sc.Arrival, sim.HoursToTicks(sc.Arrival.IntervalHours))
	minDelay, maxDelay := fb.DelayWindowTicks()
	if maxDelay < minDelay {
		return nil, fmt.Errorf("feedback window [%d, %d] is empty", minDelay, maxDelay)
	}

	cases := make([]sim.Case, 0, sc.NumDecisions)
	now := int64(0)
	for i := 0; i < sc.NumDecisions; i++ {
		if i > 0 {
			now += arrival.SampleInterval(workloadRNG)
		}
		subgroups := drawSubgroups(sc.Subgroups, rng)
		outcome := 0
		if workloadRNG.Float64() < sc.Prevalence {
			outcome = 1
		}
		c := sim.Case{
			Context: sim.Context{
				Seq:       sc.StartSeq + int64(i),
				Time:      now,
				Features:  drawFeatures(sc.Features, workloadRNG),
				Subgroups: subgroups,
			},
			Predictions: make(sim.PredictionSet, len(sc.Arms)),
			Outcome:     outcome,
			Observed:    followUpRNG.Float64() >= sc.UnresolvedFraction,
			Delay:       minDelay + delayRNG.Int63n(maxDelay-minDelay+1),
		}
		for _, arm := range sc.Arms {
			c.Predictions[arm.ID] = predict(arm, outcome, subgroups, workloadRNG)
		}
		cases = append(cases, c)
	}
	return cases, nil
}

// predict draws an arm's risk score. The absolute error is centred on
// sqrt(TrueLoss), so the expected squared error is about TrueLoss + Noise².
func predict(arm ArmBehavior, outcome int, subgroups map[string]string, rng *rand.Rand) float64 {
	e := math.Sqrt(arm.TrueLoss) + arm.Noise*rng.NormFloat64()
	for _, k := range slices.Sorted(maps.Keys(subgroups)) {
		e += arm.Shift[k+"="+subgroups[k]]
	}
	e = math.Min(math.Max(e, 0), 1)
	if outcome == 1 {
		return 1 - e
	}
	return e
}

func drawSubgroups(specs []SubgroupSpec, rng *sim.PartitionedRNG) map[string]string {
	if len(specs) == 0 {
		return nil
	}
	out := make(map[string]string, len(specs))
	for _, s := range specs {
		values := slices.Sorted(maps.Keys(s.Values))
		total := 0.0
		for _, v := range values {
			total += s.Values[v]
		}
		u := rng.ForSubsystem(sim.SubsystemSubgroup(s.Key)).Float64() * total
		picked := values[len(values)-1]
		for _, v := range values {
			u -= s.Values[v]
			if u < 0 {
				picked = v
				break
			}
		}
		out[s.Key] = picked
	}
	return out
}

func drawFeatures(specs []FeatureSpec, rng *rand.Rand) map[string]float64 {
	if len(specs) == 0 {
		return nil
	}
	out := make(map[string]float64, len(specs))
	for _, f := range specs {
		out[f.Name] = f.Mean + f.StdDev*rng.NormFloat64()
	}
	return out
}

// replay converts explicit cases. A case without delay_hours is never observed.
func replay(specs []CaseSpec) []sim.Case {
	cases := make([]sim.Case, 0, len(specs))
	for _, cs := range specs {
		c := sim.Case{
			Context: sim.Context{
				Seq:       cs.Seq,
				Time:      sim.HoursToTicks(cs.TimeHours),
				Features:  maps.Clone(cs.Features),
				Subgroups: maps.Clone(cs.Subgroups),
			},
			Predictions: sim.PredictionSet(maps.Clone(cs.Predictions)),
			Outcome:     cs.Outcome,
		}
		if cs.DelayHours != nil {
			c.Observed = true
			c.Delay = sim.HoursToTicks(*cs.DelayHours)
		}
		cases = append(cases, c)
	}
	return cases
}
