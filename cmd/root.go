package cmd

import (
	"context"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/julian-borges-md/multiarm-bandit-clinical-ai-governance/sim"
)

var (
	// CLI flags shared by subcommands
	configPath   string // Governance config YAML
	scenarioPath string // Scenario YAML (synthetic cohort or explicit cases)
	seed         int64  // Overrides the config seed when set
	logLevel     string // Log verbosity level
	traceDB      string // SQLite trace database path
	traceDSN     string // Postgres DSN for the trace store
	runID        string // Run identifier; for summarize, the run to load (default: latest)
	metricsOut   string // Prometheus text-format metrics file
	summaryOut   string // Summary YAML file
	otelStdout   bool   // Export spans to stdout
)

// rootCmd is the base command for the CLI
var rootCmd = &cobra.Command{
	Use:   "governance-sim",
	Short: "Cost-aware bandit governance of clinical prediction models under delayed feedback",
}

// runCmd runs a governance simulation over a scenario
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the governance simulation",
	Run: func(cmd *cobra.Command, args []string) {
		setLogLevel()

		cfg := loadConfigOrDie()
		if cmd.Flags().Changed("seed") {
			cfg.Seed = seed
		}
		if scenarioPath == "" {
			logrus.Fatalf("--scenario is required")
		}

		summary, err := runGovernance(context.Background(), runOptions{
			Config:       cfg,
			ScenarioPath: scenarioPath,
			RunID:        runID,
			TraceDB:      traceDB,
			TraceDSN:     traceDSN,
			MetricsOut:   metricsOut,
			SummaryOut:   summaryOut,
			OtelStdout:   otelStdout,
		})
		if summary != nil {
			summary.Print(os.Stdout)
		}
		if err != nil {
			logrus.Fatalf("governance run failed: %v", err)
		}
		logrus.Info("Simulation complete.")
	},
}

// summarizeCmd recomputes summary metrics from a stored trace
var summarizeCmd = &cobra.Command{
	Use:   "summarize",
	Short: "Summarize a stored governance run",
	Run: func(cmd *cobra.Command, args []string) {
		setLogLevel()
		summary, err := summarizeStored(context.Background(), traceDB, traceDSN, runID, summaryOut)
		if err != nil {
			logrus.Fatalf("summarize failed: %v", err)
		}
		summary.Print(os.Stdout)
	},
}

// validateCmd checks a config (and optionally a scenario) without running
var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate a governance config and scenario",
	Run: func(cmd *cobra.Command, args []string) {
		setLogLevel()
		cfg := loadConfigOrDie()
		if scenarioPath != "" {
			if _, err := loadCases(scenarioPath, cfg); err != nil {
				logrus.Fatalf("%v", err)
			}
		}
		logrus.Infof("config %s is valid: %d arms, delta=%g, selection=%s", configPath, len(cfg.Arms), cfg.ConfidenceDelta, cfg.Selection)
	},
}

func setLogLevel() {
	level, err := logrus.ParseLevel(logLevel)
	if err != nil {
		logrus.Fatalf("Invalid log level: %s", logLevel)
	}
	logrus.SetLevel(level)
}

func loadConfigOrDie() sim.Config {
	if configPath == "" {
		logrus.Fatalf("--config is required")
	}
	cfg, err := sim.LoadConfig(configPath)
	if err != nil {
		logrus.Fatalf("%v", err)
	}
	if err := cfg.Validate(); err != nil {
		logrus.Fatalf("%v", err)
	}
	return *cfg
}

// Execute runs the CLI root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// init sets up CLI flags and subcommands
func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log", "warn", "Log level (trace, debug, info, warn, error, fatal, panic)")

	runCmd.Flags().StringVar(&configPath, "config", "", "Governance config YAML")
	runCmd.Flags().StringVar(&scenarioPath, "scenario", "", "Scenario YAML")
	runCmd.Flags().Int64Var(&seed, "seed", 42, "Seed for delay sampling and synthetic cases (overrides config)")
	runCmd.Flags().StringVar(&runID, "run-id", "", "Run identifier (default: random UUID)")
	runCmd.Flags().StringVar(&traceDB, "trace-db", "", "SQLite file to persist the trace in")
	runCmd.Flags().StringVar(&traceDSN, "trace-dsn", "", "Postgres DSN to persist the trace in")
	runCmd.Flags().StringVar(&metricsOut, "metrics-out", "", "Write Prometheus metrics to this file")
	runCmd.Flags().StringVar(&summaryOut, "summary-out", "", "Write the summary as YAML to this file")
	runCmd.Flags().BoolVar(&otelStdout, "otel-stdout", false, "Export tracing spans to stdout")

	summarizeCmd.Flags().StringVar(&traceDB, "trace-db", "", "SQLite trace database")
	summarizeCmd.Flags().StringVar(&traceDSN, "trace-dsn", "", "Postgres trace database DSN")
	summarizeCmd.Flags().StringVar(&runID, "run-id", "", "Run to summarize (default: latest)")
	summarizeCmd.Flags().StringVar(&summaryOut, "summary-out", "", "Write the summary as YAML to this file")

	validateCmd.Flags().StringVar(&configPath, "config", "", "Governance config YAML")
	validateCmd.Flags().StringVar(&scenarioPath, "scenario", "", "Scenario YAML")

	rootCmd.AddCommand(runCmd, summarizeCmd, validateCmd)
}
