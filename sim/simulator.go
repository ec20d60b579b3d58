package sim

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("github.com/julian-borges-md/multiarm-bandit-clinical-ai-governance/sim")

// Case is one element of the merged input streams: a context, the predictions
// every arm made for it, and the outcome the collaborators will eventually report.
type Case struct {
	Context     Context
	Predictions PredictionSet
	Outcome     int
	// Observed is false when the outcome never arrives (lost to follow-up).
	Observed bool
	// Delay is the ticks between the decision and the outcome's arrival.
	Delay int64
}

// RunStats counts what happened during Run.
type RunStats struct {
	Cases        int
	Decisions    int
	Skipped      int
	Resolved     int
	Censored     int
	Eliminations int
}

// Simulator merges the decision stream with the feedback stream on one logical
// timeline. Before each decision at time t, all feedback released at or before t
// is applied to the engine, oldest first.
//
// Thread-safety: NOT thread-safe. Must be called from single goroutine.
type Simulator struct {
	RunID string

	engine *Engine
	queue  *FeedbackQueue
	cases  []Case

	// outcomes of decided cases, by seq, until their feedback is released
	outcomes map[int64]FeedbackEvent
	stats    RunStats
}

// NewSimulator creates a simulator for cases over engine. An empty runID gets a
// random one.
func NewSimulator(engine *Engine, cases []Case, runID string) *Simulator {
	if engine == nil {
		panic("NewSimulator: engine must not be nil")
	}
	if runID == "" {
		runID = uuid.NewString()
	}
	return &Simulator{
		RunID:    runID,
		engine:   engine,
		queue:    NewFeedbackQueue(engine.cfg.Feedback.MaxWaitTicks()),
		cases:    cases,
		outcomes: make(map[int64]FeedbackEvent, len(cases)),
	}
}

// Engine returns the simulator's policy engine.
func (s *Simulator) Engine() *Engine {
	return s.engine
}

// Stats returns the run counters.
func (s *Simulator) Stats() RunStats {
	return s.stats
}

// Run processes every case, then drains the feedback queue so every decision
// ends with a resolved or censored record.
//
// Malformed records are logged with their sequence number and skipped.
// Structural violations and sink failures abort the run with an *AbortError.
// Cancelling ctx stops the run between cases and returns ctx.Err().
func (s *Simulator) Run(ctx context.Context) (err error) {
	ctx, span := tracer.Start(ctx, "governance.run", trace.WithAttributes(
		attribute.String("run.id", s.RunID),
		attribute.Int("run.cases", len(s.cases)),
		attribute.Int("run.arms", s.engine.registry.Len()),
	))
	defer func() {
		span.SetAttributes(
			attribute.Int("run.decisions", s.stats.Decisions),
			attribute.Int("run.skipped", s.stats.Skipped),
			attribute.Int("run.censored", s.stats.Censored),
		)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	logrus.Infof("run %s: %d cases, %d arms", s.RunID, len(s.cases), s.engine.registry.Len())
	for _, c := range s.cases {
		if err := ctx.Err(); err != nil {
			return err
		}
		s.stats.Cases++
		releases, err := s.queue.AdvanceTo(c.Context.Time)
		if err != nil {
			return &AbortError{Seq: c.Context.Seq, Err: err}
		}
		if err := s.apply(ctx, releases); err != nil {
			return err
		}
		if err := s.decide(c); err != nil {
			return err
		}
	}

	releases, err := s.queue.Drain()
	if err != nil {
		return &AbortError{Seq: -1, Err: err}
	}
	if err := s.apply(ctx, releases); err != nil {
		return err
	}
	logrus.Infof("run %s: %d decisions, %d resolved, %d censored, %d skipped, %d eliminations",
		s.RunID, s.stats.Decisions, s.stats.Resolved, s.stats.Censored, s.stats.Skipped, s.stats.Eliminations)
	return nil
}

func (s *Simulator) decide(c Case) error {
	seq := c.Context.Seq
	d, err := s.engine.Decide(c.Context, c.Predictions)
	if err != nil {
		if IsRecordError(err) {
			s.skip(seq, err)
			return nil
		}
		return &AbortError{Seq: seq, Err: err}
	}
	s.stats.Decisions++
	if !c.Observed {
		if err := s.queue.EnqueueUnresolved(seq, d.DecidedAt); err != nil {
			return &AbortError{Seq: seq, Err: err}
		}
		return nil
	}
	ev := FeedbackEvent{Seq: seq, Outcome: c.Outcome, ArrivesAt: d.DecidedAt + c.Delay}
	if err := s.queue.Enqueue(ev.Seq, d.DecidedAt, ev.ArrivesAt); err != nil {
		return &AbortError{Seq: seq, Err: err}
	}
	s.outcomes[seq] = ev
	return nil
}

func (s *Simulator) apply(ctx context.Context, releases []Release) error {
	span := trace.SpanFromContext(ctx)
	for _, r := range releases {
		ev, observed := s.outcomes[r.Seq]
		delete(s.outcomes, r.Seq)

		if r.Censored || !observed {
			if err := s.censor(r); err != nil {
				return err
			}
			continue
		}

		res, err := s.engine.IngestFeedback(ev.Seq, ev.Outcome, ev.ArrivesAt)
		if err != nil {
			if !IsRecordError(err) {
				return &AbortError{Seq: r.Seq, Err: err}
			}
			s.skip(r.Seq, err)
			// An unusable outcome still closes the decision.
			var bad *InvalidOutcomeError
			if errors.As(err, &bad) {
				if err := s.censor(r); err != nil {
					return err
				}
			}
			continue
		}
		s.stats.Resolved++
		for _, e := range res.Eliminated {
			s.stats.Eliminations++
			span.AddEvent("arm.eliminated", trace.WithAttributes(
				attribute.String("arm.id", e.ArmID),
				attribute.String("by.arm", e.ByArm),
				attribute.Int64("seq", e.Seq),
				attribute.Int64("clock", e.Clock),
			))
		}
	}
	return nil
}

func (s *Simulator) censor(r Release) error {
	if _, err := s.engine.Censor(r.Seq, r.Time); err != nil {
		if IsRecordError(err) {
			s.skip(r.Seq, err)
			return nil
		}
		return &AbortError{Seq: r.Seq, Err: err}
	}
	s.stats.Censored++
	logrus.Debugf("[seq %d] censored at %d (decided %d)", r.Seq, r.Time, r.DecidedAt)
	return nil
}

func (s *Simulator) skip(seq int64, err error) {
	s.stats.Skipped++
	s.engine.metrics.skipped(skipReason(err))
	logrus.WithFields(logrus.Fields{"seq": seq, "reason": skipReason(err)}).
		Warnf("skipping record: %v", err)
}
