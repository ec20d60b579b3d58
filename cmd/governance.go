package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"gopkg.in/yaml.v3"

	"github.com/julian-borges-md/multiarm-bandit-clinical-ai-governance/sim"
	"github.com/julian-borges-md/multiarm-bandit-clinical-ai-governance/sim/store"
	"github.com/julian-borges-md/multiarm-bandit-clinical-ai-governance/sim/trace"
	"github.com/julian-borges-md/multiarm-bandit-clinical-ai-governance/sim/workload"
)

// runOptions collects everything a governance run needs besides the CLI.
type runOptions struct {
	Config       sim.Config
	ScenarioPath string
	RunID        string // generated when empty
	TraceDB      string
	TraceDSN     string
	MetricsOut   string
	SummaryOut   string
	OtelStdout   bool
}

// runGovernance loads the scenario, runs it through a fresh engine and writes
// the requested outputs. The summary is returned even when the run aborted, so
// the partial trace can still be reported.
func runGovernance(ctx context.Context, opts runOptions) (*trace.Summary, error) {
	cases, err := loadCases(opts.ScenarioPath, opts.Config)
	if err != nil {
		return nil, err
	}

	id := opts.RunID
	if id == "" {
		id = uuid.NewString()
	}
	memory := trace.NewDecisionTrace(id)
	sinks := []trace.Sink{memory}

	st, err := openStore(ctx, opts.TraceDB, opts.TraceDSN)
	if err != nil {
		return nil, err
	}
	if st != nil {
		defer func() { _ = st.Close() }()
		if err := st.BeginRun(ctx, id, opts.Config); err != nil {
			return nil, err
		}
		sinks = append(sinks, st)
	}

	if opts.OtelStdout {
		shutdown, err := setupTracing()
		if err != nil {
			return nil, err
		}
		defer func() {
			if err := shutdown(context.Background()); err != nil {
				logrus.Warnf("tracer shutdown: %v", err)
			}
		}()
	}

	reg := prometheus.NewRegistry()
	engine, err := sim.NewEngine(opts.Config,
		sim.WithSink(trace.Tee(sinks...)),
		sim.WithMetrics(sim.NewMetrics(reg)),
	)
	if err != nil {
		return nil, err
	}

	logrus.Infof("Starting governance run %s: %d cases, %d arms, delta=%g, lambda_cost=%g, lambda_safety=%g",
		id, len(cases), len(opts.Config.Arms), opts.Config.ConfidenceDelta, opts.Config.LambdaCost, opts.Config.LambdaSafety)
	runErr := sim.NewSimulator(engine, cases, id).Run(ctx)

	summary := trace.Summarize(memory)
	if opts.MetricsOut != "" {
		if err := prometheus.WriteToTextfile(opts.MetricsOut, reg); err != nil {
			return summary, fmt.Errorf("writing metrics: %w", err)
		}
	}
	if opts.SummaryOut != "" {
		if err := writeSummaryYAML(opts.SummaryOut, summary); err != nil {
			return summary, err
		}
	}
	return summary, runErr
}

// loadCases reads the scenario at path and expands it into the case stream,
// using cfg's feedback window and seed.
func loadCases(path string, cfg sim.Config) ([]sim.Case, error) {
	sc, err := workload.LoadScenario(path)
	if err != nil {
		return nil, err
	}
	return workload.Generate(sc, cfg.Feedback, cfg.Seed)
}

// openStore opens the configured trace store; nil when neither is set.
func openStore(ctx context.Context, dbPath, dsn string) (*store.Store, error) {
	switch {
	case dbPath != "" && dsn != "":
		return nil, fmt.Errorf("--trace-db and --trace-dsn are mutually exclusive")
	case dbPath != "":
		return store.OpenSQLite(ctx, dbPath)
	case dsn != "":
		return store.OpenPostgres(ctx, dsn)
	}
	return nil, nil
}

// summarizeStored recomputes the summary of a stored run; the latest run when runID is empty.
func summarizeStored(ctx context.Context, dbPath, dsn, runID, out string) (*trace.Summary, error) {
	st, err := openStore(ctx, dbPath, dsn)
	if err != nil {
		return nil, err
	}
	if st == nil {
		return nil, fmt.Errorf("one of --trace-db or --trace-dsn is required")
	}
	defer func() { _ = st.Close() }()

	if runID == "" {
		runs, err := st.Runs(ctx)
		if err != nil {
			return nil, err
		}
		if len(runs) == 0 {
			return nil, fmt.Errorf("no runs stored")
		}
		runID = runs[len(runs)-1].RunID
	}
	dt, err := st.LoadTrace(ctx, runID)
	if err != nil {
		return nil, err
	}
	summary := trace.Summarize(dt)
	if out != "" {
		if err := writeSummaryYAML(out, summary); err != nil {
			return summary, err
		}
	}
	return summary, nil
}

func writeSummaryYAML(path string, s *trace.Summary) error {
	data, err := yaml.Marshal(s)
	if err != nil {
		return fmt.Errorf("marshal summary: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing summary: %w", err)
	}
	return nil
}

// setupTracing installs a tracer provider exporting spans to stdout.
func setupTracing() (func(context.Context) error, error) {
	exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, fmt.Errorf("create exporter: %w", err)
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)
	otel.SetTracerProvider(tp)
	return tp.Shutdown, nil
}
