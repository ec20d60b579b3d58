package sim

import (
	"fmt"
	"math"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/sirupsen/logrus"

	"github.com/julian-borges-md/multiarm-bandit-clinical-ai-governance/sim/trace"
)

// Engine is the governance policy: it picks an arm per context and, as outcomes
// mature, updates per-arm loss statistics and eliminates arms whose upper
// confidence bound is beaten by another arm's lower confidence bound.
//
// Exploration comes only from the width of the confidence intervals; there is no
// external randomization, so the same inputs always produce the same decisions.
//
// All methods serialize on a single mutex. Elimination reads a snapshot of every
// ArmStatistic taken under that lock.
type Engine struct {
	mu sync.Mutex

	cfg      Config
	registry *Registry
	reward   RewardFunc
	bound    ConfidenceBound

	stats    map[string]*ArmStatistic
	pending  map[int64]*Decision
	resolved *lru.Cache[int64, struct{}] // recently resolved seqs, for duplicate detection

	sink    trace.Sink
	metrics *Metrics

	clock            int64
	lastSeq          int64
	hasDecided       bool
	cumulativeRegret float64
}

// EngineOption configures optional Engine collaborators.
type EngineOption func(*Engine)

// WithSink sends decisions, trace records and eliminations to s.
func WithSink(s trace.Sink) EngineOption {
	return func(e *Engine) { e.sink = s }
}

// WithMetrics updates m as the engine runs.
func WithMetrics(m *Metrics) EngineOption {
	return func(e *Engine) { e.metrics = m }
}

// FeedbackResult is what IngestFeedback produced: the trace record and any arms
// eliminated by the statistics update.
type FeedbackResult struct {
	Record     trace.Record
	Eliminated []trace.EliminationRecord
}

// NewEngine validates cfg, registers its arms and returns a ready engine.
// Without WithSink, entries go to an in-memory DecisionTrace (see Trace).
func NewEngine(cfg Config, opts ...EngineOption) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	registry, err := NewRegistryFromConfig(cfg.Arms)
	if err != nil {
		return nil, err
	}
	resolved, err := lru.New[int64, struct{}](cfg.ResolvedCacheSize)
	if err != nil {
		return nil, fmt.Errorf("resolved-decision cache: %w", err)
	}
	reward := NewRewardFunc(cfg)
	e := &Engine{
		cfg:      cfg,
		registry: registry,
		reward:   reward,
		bound: ConfidenceBound{
			Delta:     cfg.ConfidenceDelta,
			NumArms:   registry.Len(),
			LossRange: reward.LossRange(),
		},
		stats:    make(map[string]*ArmStatistic, registry.Len()),
		pending:  make(map[int64]*Decision),
		resolved: resolved,
	}
	for _, id := range registry.ActiveArms() {
		e.stats[id] = &ArmStatistic{ArmID: id, HalfWidth: math.Inf(1)}
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.sink == nil {
		e.sink = trace.NewDecisionTrace("")
	}
	e.metrics.activeArms(registry.Len())
	return e, nil
}

// Decide selects an arm for ctx. Predictions must hold a probability in [0,1]
// for every active arm; otherwise InvalidPredictionError is returned and the
// engine is left untouched.
func (e *Engine) Decide(ctx Context, predictions PredictionSet) (Decision, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.hasDecided && ctx.Seq <= e.lastSeq {
		return Decision{}, &DuplicateDecisionError{Seq: ctx.Seq, Last: e.lastSeq}
	}
	if ctx.Time < e.clock {
		return Decision{}, &ClockRegressionError{Now: ctx.Time, Last: e.clock}
	}

	active := e.registry.ActiveArms()
	if len(active) == 0 {
		return Decision{}, &AllArmsEliminatedError{Seq: ctx.Seq}
	}
	for _, id := range active {
		p, ok := predictions[id]
		if !ok {
			return Decision{}, &InvalidPredictionError{Seq: ctx.Seq, ArmID: id, Missing: true}
		}
		if !validScore(p) {
			return Decision{}, &InvalidPredictionError{Seq: ctx.Seq, ArmID: id, Value: p}
		}
	}

	var chosen, reason string
	if len(active) == 1 {
		chosen, reason = active[0], "single-active"
	} else {
		chosen, reason = e.selectArm(active)
	}

	d := &Decision{
		Seq:         ctx.Seq,
		Context:     ctx,
		Arm:         chosen,
		Prediction:  predictions[chosen],
		Predictions: e.usableScores(predictions),
		DecidedAt:   ctx.Time,
		Reason:      reason,
	}
	e.pending[d.Seq] = d
	e.lastSeq, e.hasDecided = d.Seq, true
	e.clock = ctx.Time
	e.metrics.decided(chosen, len(e.pending))

	logrus.Debugf("[seq %d] decide %s (%s)", d.Seq, chosen, reason)
	err := e.sink.RecordDecision(trace.DecisionRecord{
		Seq:         d.Seq,
		Clock:       d.DecidedAt,
		ChosenArm:   d.Arm,
		Prediction:  d.Prediction,
		Predictions: map[string]float64(d.Predictions),
		ActiveArms:  active,
		Subgroups:   ctx.Subgroups,
		Reason:      reason,
	})
	if err != nil {
		return *d, fmt.Errorf("recording decision %d: %w", d.Seq, err)
	}
	return *d, nil
}

// selectArm picks the active arm with the lowest lower confidence bound, ties
// broken by lowest id. Under the lucb rule, once every arm has been sampled, the
// choice is between the empirical leader and its strongest challenger (lowest
// LCB among the others): whichever has the wider interval is sampled, so both
// sides of the contested pair keep shrinking until one eliminates the other.
func (e *Engine) selectArm(active []string) (string, string) {
	candidate, candLCB := e.lowestLCB(active, "")
	reason := fmt.Sprintf("lowest-lcb (lcb=%.4f)", candLCB)
	if e.cfg.Selection != SelectionLUCB {
		return candidate, reason
	}
	leader, ok := e.leader(active)
	if !ok {
		return candidate, reason
	}
	challenger, _ := e.lowestLCB(active, leader)
	lw, cw := e.stats[leader].HalfWidth, e.stats[challenger].HalfWidth
	if lw > cw {
		return leader, fmt.Sprintf("leader (challenger=%s, width=%.4f)", challenger, lw)
	}
	return challenger, fmt.Sprintf("challenger (leader=%s, width=%.4f)", leader, cw)
}

// lowestLCB returns the active arm other than skip with the lowest LCB, ties by lowest id.
func (e *Engine) lowestLCB(active []string, skip string) (string, float64) {
	best, bestLCB := "", math.Inf(1)
	for _, id := range active {
		if id == skip {
			continue
		}
		lcb := e.stats[id].LCB()
		if best == "" || lcb < bestLCB || (lcb == bestLCB && id < best) {
			best, bestLCB = id, lcb
		}
	}
	return best, bestLCB
}

// leader returns the active arm with the lowest mean loss, ties by lowest id.
// Not defined until every active arm has at least one observation.
func (e *Engine) leader(active []string) (string, bool) {
	best := ""
	for _, id := range active {
		s := e.stats[id]
		if s.Count == 0 {
			return "", false
		}
		if best == "" || s.MeanLoss < e.stats[best].MeanLoss ||
			(s.MeanLoss == e.stats[best].MeanLoss && id < best) {
			best = id
		}
	}
	return best, true
}

// IngestFeedback applies a matured outcome for decision seq at time at.
func (e *Engine) IngestFeedback(seq int64, outcome int, at int64) (FeedbackResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	d, err := e.lookupPending(seq, at)
	if err != nil {
		return FeedbackResult{}, err
	}
	if outcome != 0 && outcome != 1 {
		return FeedbackResult{}, &InvalidOutcomeError{Seq: seq, Outcome: outcome}
	}
	e.clock = at

	arm, _ := e.registry.Arm(d.Arm)
	loss, cost, penalty := e.reward.Breakdown(outcome, d.Prediction, arm.Cost)
	utility := -(loss + cost + penalty)
	e.stats[d.Arm].observe(-utility, e.bound)

	bestArm, best, worst := e.hindsight(outcome, d.Predictions)
	regret := math.Max(0, best-utility)
	e.cumulativeRegret += regret

	eliminated, err := e.checkElimination(seq, at)
	if err != nil {
		return FeedbackResult{}, err
	}

	delete(e.pending, seq)
	e.resolved.Add(seq, struct{}{})
	e.metrics.resolved("resolved", len(e.pending), e.cumulativeRegret)

	rec := trace.Record{
		Seq:              seq,
		DecidedAt:        d.DecidedAt,
		ResolvedAt:       at,
		ChosenArm:        d.Arm,
		Prediction:       d.Prediction,
		Outcome:          outcome,
		Loss:             loss,
		Cost:             cost,
		SafetyPenalty:    penalty,
		Utility:          utility,
		BestArm:          bestArm,
		BestUtility:      best,
		Regret:           regret,
		CumulativeRegret: e.cumulativeRegret,
		MaxGap:           best - worst,
		Subgroups:        d.Context.Subgroups,
	}
	if err := e.sink.Record(rec); err != nil {
		return FeedbackResult{Record: rec, Eliminated: eliminated}, fmt.Errorf("recording feedback %d: %w", seq, err)
	}
	return FeedbackResult{Record: rec, Eliminated: eliminated}, nil
}

// Censor closes decision seq without an outcome. The trace keeps a censored
// record; arm statistics are not touched.
func (e *Engine) Censor(seq int64, at int64) (trace.Record, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	d, err := e.lookupPending(seq, at)
	if err != nil {
		return trace.Record{}, err
	}
	e.clock = at
	delete(e.pending, seq)
	e.resolved.Add(seq, struct{}{})
	e.metrics.resolved("censored", len(e.pending), e.cumulativeRegret)

	rec := trace.Record{
		Seq:              seq,
		DecidedAt:        d.DecidedAt,
		ResolvedAt:       at,
		ChosenArm:        d.Arm,
		Prediction:       d.Prediction,
		Censored:         true,
		CumulativeRegret: e.cumulativeRegret,
		Subgroups:        d.Context.Subgroups,
	}
	if err := e.sink.Record(rec); err != nil {
		return rec, fmt.Errorf("recording censored %d: %w", seq, err)
	}
	return rec, nil
}

func (e *Engine) lookupPending(seq, at int64) (*Decision, error) {
	if at < e.clock {
		return nil, &ClockRegressionError{Now: at, Last: e.clock}
	}
	d, ok := e.pending[seq]
	if !ok {
		if e.resolved.Contains(seq) {
			return nil, &DuplicateFeedbackError{Seq: seq}
		}
		return nil, &UnknownDecisionError{Seq: seq}
	}
	if at < d.DecidedAt {
		return nil, &FeedbackBeforeDecisionError{Seq: seq, DecidedAt: d.DecidedAt, ArrivesAt: at}
	}
	return d, nil
}

// hindsight evaluates every registered arm that scored the decision and returns
// the best arm, the best utility and the worst utility.
func (e *Engine) hindsight(outcome int, predictions PredictionSet) (string, float64, float64) {
	bestArm := ""
	best, worst := math.Inf(-1), math.Inf(1)
	for _, id := range predictions.ArmIDs() {
		p := predictions[id]
		arm, ok := e.registry.Arm(id)
		if !ok || !validScore(p) {
			continue
		}
		u := e.reward.Utility(outcome, p, arm.Cost)
		if u > best {
			best, bestArm = u, id
		}
		worst = math.Min(worst, u)
	}
	return bestArm, best, worst
}

// usableScores keeps the scores regret can be computed from: registered arms
// holding a probability in [0,1]. Anything else is dropped before it reaches
// the sink.
func (e *Engine) usableScores(predictions PredictionSet) PredictionSet {
	out := make(PredictionSet, len(predictions))
	for id, p := range predictions {
		if _, ok := e.registry.Arm(id); ok && validScore(p) {
			out[id] = p
		}
	}
	return out
}

func validScore(p float64) bool {
	return !math.IsNaN(p) && p >= 0 && p <= 1
}

// checkElimination removes every active arm j for which some active arm i has
// UCB_i < LCB_j. Bounds are read from one snapshot before any arm is removed.
// The arm with the lowest UCB is always the separating arm and is never removed.
func (e *Engine) checkElimination(seq, at int64) ([]trace.EliminationRecord, error) {
	active := e.registry.ActiveArms()
	if len(active) < 2 {
		return nil, nil
	}
	type bounds struct {
		id       string
		lcb, ucb float64
	}
	snapshot := make([]bounds, len(active))
	winner := 0
	for i, id := range active {
		s := e.stats[id]
		snapshot[i] = bounds{id: id, lcb: s.LCB(), ucb: s.UCB()}
		if snapshot[i].ucb < snapshot[winner].ucb {
			winner = i
		}
	}
	w := snapshot[winner]

	var out []trace.EliminationRecord
	for i, b := range snapshot {
		if i == winner || !(w.ucb < b.lcb) {
			continue
		}
		out = append(out, trace.EliminationRecord{
			ArmID:  b.id,
			Clock:  at,
			Seq:    seq,
			ByArm:  w.id,
			ByUCB:  w.ucb,
			ArmLCB: b.lcb,
		})
	}
	if len(out) >= len(active) {
		return nil, &AllArmsEliminatedError{Seq: seq}
	}

	for _, rec := range out {
		if err := e.registry.Eliminate(rec.ArmID, at); err != nil {
			return nil, err
		}
		e.metrics.eliminated(len(active) - len(out))
		logrus.Infof("[seq %d] eliminated arm %s at %d: %s UCB %.4f < LCB %.4f",
			seq, rec.ArmID, at, rec.ByArm, rec.ByUCB, rec.ArmLCB)
		if err := e.sink.RecordElimination(rec); err != nil {
			return out, fmt.Errorf("recording elimination of %s: %w", rec.ArmID, err)
		}
	}
	return out, nil
}

// Statistics returns a copy of every arm's statistic, in registry order.
func (e *Engine) Statistics() []ArmStatistic {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]ArmStatistic, 0, len(e.stats))
	for _, a := range e.registry.Arms() {
		out = append(out, *e.stats[a.ID])
	}
	return out
}

// Statistic returns a copy of one arm's statistic.
func (e *Engine) Statistic(id string) (ArmStatistic, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, ok := e.stats[id]
	if !ok {
		return ArmStatistic{}, false
	}
	return *s, true
}

// ActiveArms returns the ids of non-eliminated arms in registration order.
func (e *Engine) ActiveArms() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.registry.ActiveArms()
}

// Arms returns every registered arm, including eliminated ones.
func (e *Engine) Arms() []Arm {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.registry.Arms()
}

// Pending returns the number of decisions awaiting feedback.
func (e *Engine) Pending() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.pending)
}

// Clock returns the engine's simulated time.
func (e *Engine) Clock() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.clock
}

// CumulativeRegret returns the running regret sum over resolved decisions.
func (e *Engine) CumulativeRegret() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cumulativeRegret
}

// Bound returns the confidence bound in use.
func (e *Engine) Bound() ConfidenceBound {
	return e.bound
}

// Trace returns the engine's sink as a DecisionTrace when no external sink was set.
func (e *Engine) Trace() (*trace.DecisionTrace, bool) {
	dt, ok := e.sink.(*trace.DecisionTrace)
	return dt, ok
}
