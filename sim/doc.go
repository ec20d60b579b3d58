// Package sim provides the governance engine for a portfolio of clinical
// prediction models, and the discrete-event loop that drives it.
//
// # Reading Guide
//
// Start with these three files to understand the engine:
//   - engine.go: arm selection, feedback ingestion, regret and elimination
//   - feedback_queue.go: delayed outcomes released in time order, with censoring
//   - simulator.go: the loop merging the decision stream with the feedback stream
//
// # Architecture
//
// The sim package defines the engine and its value types; supporting code lives
// in sub-packages:
//   - sim/trace/: the append-only decision trace, trace sinks and Summarize
//   - sim/store/: SQLite and Postgres trace sinks, for auditing stored runs
//   - sim/workload/: YAML scenarios and the synthetic case generator
//
// # Key Types
//
//   - Config: δ, cost and safety weights, feedback window, arms (config.go)
//   - ArmRegistry: registered arms and their permanent active/eliminated status (arm.go)
//   - RewardFunc: utility = −(predictive loss + λc·cost + λs·safety penalty) (reward.go)
//   - ConfidenceBound, ArmStatistic: Hoeffding bounds on mean loss (stats.go)
//   - Engine: Decide, IngestFeedback, Censor (engine.go)
//
// # Time
//
// Simulated time is an int64 tick count, one tick per second (TicksPerHour).
// Clocks never move backwards; an attempt to do so aborts the run.
//
// # Determinism
//
// A run is a pure function of its config, its case stream and the seed.
// Randomness comes only from PartitionedRNG (rng.go) and is used only while
// generating cases, never inside the engine.
package sim
