package workload

import (
	"math"
	"math/rand"

	"github.com/sirupsen/logrus"
)

// ArrivalSampler generates the time between consecutive contexts.
type ArrivalSampler interface {
	// SampleInterval returns the next interval in ticks. Never negative.
	SampleInterval(rng *rand.Rand) int64
}

// ConstantSampler spaces contexts evenly.
type ConstantSampler struct {
	interval int64
}

func (s *ConstantSampler) SampleInterval(_ *rand.Rand) int64 {
	return s.interval
}

// PoissonSampler generates exponentially-distributed intervals (CV=1).
type PoissonSampler struct {
	mean float64 // ticks
}

func (s *PoissonSampler) SampleInterval(rng *rand.Rand) int64 {
	return int64(math.Round(rng.ExpFloat64() * s.mean))
}

// GammaSampler generates Gamma-distributed intervals. CV > 1 gives bursty
// admissions, CV < 1 more regular ones than Poisson.
type GammaSampler struct {
	shape float64 // 1/CV²
	scale float64 // mean·CV², in ticks
}

func (s *GammaSampler) SampleInterval(rng *rand.Rand) int64 {
	return int64(math.Round(gammaRand(rng, s.shape, s.scale)))
}

// gammaRand samples from Gamma(shape, scale) using Marsaglia-Tsang's method.
// For shape < 1: Gamma(shape) = Gamma(shape+1) * U^(1/shape).
func gammaRand(rng *rand.Rand, shape, scale float64) float64 {
	if shape < 1.0 {
		u := rng.Float64()
		return gammaRand(rng, shape+1.0, scale) * math.Pow(u, 1.0/shape)
	}

	d := shape - 1.0/3.0
	c := 1.0 / math.Sqrt(9.0*d)
	for {
		var x, v float64
		for {
			x = rng.NormFloat64()
			v = 1.0 + c*x
			if v > 0 {
				break
			}
		}
		v = v * v * v
		u := rng.Float64()
		if u < 1.0-0.0331*(x*x)*(x*x) {
			return d * v * scale
		}
		if math.Log(u) < 0.5*x*x+d*(1.0-v+math.Log(v)) {
			return d * v * scale
		}
	}
}

// NewArrivalSampler creates an ArrivalSampler with the given mean interval in ticks.
func NewArrivalSampler(spec ArrivalSpec, meanTicks int64) ArrivalSampler {
	switch spec.Process {
	case "poisson":
		return &PoissonSampler{mean: float64(meanTicks)}
	case "gamma":
		cv := 1.0
		if spec.CV != nil && *spec.CV > 0 {
			cv = *spec.CV
		}
		shape := 1.0 / (cv * cv)
		if shape < 0.01 {
			logrus.Warnf("gamma shape %.4f (CV=%.1f) is very small; falling back to Poisson", shape, cv)
			return &PoissonSampler{mean: float64(meanTicks)}
		}
		return &GammaSampler{shape: shape, scale: float64(meanTicks) * cv * cv}
	default:
		return &ConstantSampler{interval: meanTicks}
	}
}
