package sim

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/julian-borges-md/multiarm-bandit-clinical-ai-governance/sim/internal/testutil"
)

func writeTempYAML(t *testing.T, content string) string {
	t.Helper()
	return testutil.WriteFile(t, "config.yaml", content)
}

// testConfig returns a valid config with arms A, B, C costing 0.10, 0.15, 0.20,
// Brier loss and no safety weight, so the loss range is about 1.
func testConfig() Config {
	cfg := DefaultConfig()
	cfg.LambdaSafety = 0
	cfg.Reward.Loss = LossBrier
	cfg.Feedback = FeedbackConfig{MinDelayHours: 0, MaxDelayHours: 0, MaxWaitHours: 24}
	cfg.Arms = []ArmConfig{
		{ID: "A", Model: "logreg-v3", Cost: 0.10},
		{ID: "B", Model: "gbm-v1", Cost: 0.15},
		{ID: "C", Model: "transformer-v0", Cost: 0.20},
	}
	return cfg
}

func newTestEngine(t *testing.T, cfg Config, opts ...EngineOption) *Engine {
	t.Helper()
	e, err := NewEngine(cfg, opts...)
	require.NoError(t, err)
	return e
}

func ctxAt(seq, time int64) Context {
	return Context{Seq: seq, Time: time}
}

// preds builds a PredictionSet from alternating id, value pairs.
func preds(kv ...any) PredictionSet {
	p := make(PredictionSet, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		p[kv[i].(string)] = kv[i+1].(float64)
	}
	return p
}
