package sim

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPartitionedRNG_SameSeedSameDelays(t *testing.T) {
	// GIVEN two partitioned RNGs from the same seed
	a := NewPartitionedRNG(NewSimulationKey(42))
	b := NewPartitionedRNG(NewSimulationKey(42))

	// WHEN both draw delays
	// THEN the sequences are identical
	for i := 0; i < 5; i++ {
		assert.Equal(t, a.ForSubsystem(SubsystemDelay).Int63(), b.ForSubsystem(SubsystemDelay).Int63(), "draw %d", i)
	}
}

func TestPartitionedRNG_SubsystemsAreIsolated(t *testing.T) {
	// GIVEN one RNG that has drawn heavily from the workload stream
	busy := NewPartitionedRNG(NewSimulationKey(7))
	for i := 0; i < 100; i++ {
		busy.ForSubsystem(SubsystemWorkload).Float64()
	}
	fresh := NewPartitionedRNG(NewSimulationKey(7))

	// WHEN both draw their first delay
	// THEN the delay stream is unaffected by workload draws
	assert.Equal(t, fresh.ForSubsystem(SubsystemDelay).Float64(), busy.ForSubsystem(SubsystemDelay).Float64())
}

func TestPartitionedRNG_WorkloadUsesMasterSeed(t *testing.T) {
	for _, seed := range []int64{0, 42, -1, math.MinInt64} {
		rng := NewPartitionedRNG(NewSimulationKey(seed))
		direct := rand.New(rand.NewSource(seed))
		assert.Equal(t, direct.Float64(), rng.ForSubsystem(SubsystemWorkload).Float64(), "seed %d", seed)
	}
}

func TestPartitionedRNG_CachesInstance(t *testing.T) {
	rng := NewPartitionedRNG(NewSimulationKey(42))
	require.Empty(t, rng.subsystems)

	first := rng.ForSubsystem(SubsystemFollowUp)
	second := rng.ForSubsystem(SubsystemFollowUp)

	assert.Same(t, first, second)
	assert.Len(t, rng.subsystems, 1)
	assert.Equal(t, SimulationKey(42), rng.Key())
}

func TestFnv1a64_DistinctSubsystems(t *testing.T) {
	names := []string{
		SubsystemWorkload,
		SubsystemDelay,
		SubsystemFollowUp,
		SubsystemSubgroup("sex"),
		SubsystemSubgroup("age_band"),
		"",
	}
	seen := make(map[int64]string)
	for _, name := range names {
		h := fnv1a64(name)
		if prev, ok := seen[h]; ok {
			t.Errorf("hash collision: %q and %q", name, prev)
		}
		seen[h] = name
	}
	assert.Equal(t, fnv1a64("delay"), fnv1a64(SubsystemDelay))
}

func TestSubsystemSubgroup(t *testing.T) {
	assert.Equal(t, "subgroup_sex", SubsystemSubgroup("sex"))
	assert.Equal(t, "subgroup_", SubsystemSubgroup(""))
}

func BenchmarkPartitionedRNG_ForSubsystem_CacheHit(b *testing.B) {
	rng := NewPartitionedRNG(NewSimulationKey(42))
	rng.ForSubsystem(SubsystemDelay)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		rng.ForSubsystem(SubsystemDelay)
	}
}
