// Package store persists decision traces in SQL databases (SQLite or Postgres)
// so a run can be summarized again, or audited, without re-running it.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/julian-borges-md/multiarm-bandit-clinical-ai-governance/sim/trace"
)

// Compile-time contract assertion.
var _ trace.Sink = (*Store)(nil)

// schema is portable between SQLite and Postgres. Entries keep their append
// order in idx; the full entry is kept as JSON in payload.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS runs (
		run_id      TEXT PRIMARY KEY,
		started_at  TEXT NOT NULL,
		config_json TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS decisions (
		run_id     TEXT NOT NULL REFERENCES runs(run_id),
		idx        BIGINT NOT NULL,
		seq        BIGINT NOT NULL,
		clock      BIGINT NOT NULL,
		chosen_arm TEXT NOT NULL,
		payload    TEXT NOT NULL,
		PRIMARY KEY (run_id, idx)
	)`,
	`CREATE TABLE IF NOT EXISTS trace_records (
		run_id     TEXT NOT NULL REFERENCES runs(run_id),
		idx        BIGINT NOT NULL,
		seq        BIGINT NOT NULL,
		chosen_arm TEXT NOT NULL,
		censored   BOOLEAN NOT NULL,
		regret     DOUBLE PRECISION NOT NULL,
		payload    TEXT NOT NULL,
		PRIMARY KEY (run_id, idx)
	)`,
	`CREATE TABLE IF NOT EXISTS eliminations (
		run_id  TEXT NOT NULL REFERENCES runs(run_id),
		idx     BIGINT NOT NULL,
		arm_id  TEXT NOT NULL,
		clock   BIGINT NOT NULL,
		seq     BIGINT NOT NULL,
		payload TEXT NOT NULL,
		PRIMARY KEY (run_id, idx)
	)`,
}

// startedAtLayout is fixed width so that started_at sorts chronologically as text.
const startedAtLayout = "2006-01-02T15:04:05.000000000Z07:00"

// RunInfo describes a stored run.
type RunInfo struct {
	RunID     string
	StartedAt string
	Config    json.RawMessage
}

// Store writes the trace of one run at a time and reads back any stored run.
// It implements trace.Sink once BeginRun has been called.
type Store struct {
	db       *sql.DB
	dollarQs bool // Postgres placeholders
	now      func() time.Time

	mu           sync.Mutex
	runID        string
	decisions    int64
	records      int64
	eliminations int64
}

func newStore(ctx context.Context, db *sql.DB, dollarQs bool) (*Store, error) {
	s := &Store{db: db, dollarQs: dollarQs, now: time.Now}
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return nil, fmt.Errorf("migrate: %w", err)
		}
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB returns the underlying *sql.DB.
func (s *Store) DB() *sql.DB {
	return s.db
}

// rebind rewrites ? placeholders as $1, $2, ... for Postgres.
func (s *Store) rebind(query string) string {
	if !s.dollarQs {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *Store) exec(ctx context.Context, query string, args ...any) error {
	_, err := s.db.ExecContext(ctx, s.rebind(query), args...)
	return err
}

// BeginRun registers runID with its configuration and directs subsequent
// entries to it.
func (s *Store) BeginRun(ctx context.Context, runID string, config any) error {
	cfgJSON, err := json.Marshal(config)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.exec(ctx, `INSERT INTO runs (run_id, started_at, config_json) VALUES (?, ?, ?)`,
		runID, s.now().UTC().Format(startedAtLayout), string(cfgJSON)); err != nil {
		return fmt.Errorf("insert run %s: %w", runID, err)
	}
	s.runID = runID
	s.decisions, s.records, s.eliminations = 0, 0, 0
	return nil
}

func (s *Store) currentRun() (string, error) {
	if s.runID == "" {
		return "", fmt.Errorf("store: no run started")
	}
	return s.runID, nil
}

// RecordDecision implements trace.Sink.
func (s *Store) RecordDecision(r trace.DecisionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	runID, err := s.currentRun()
	if err != nil {
		return err
	}
	payload, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("marshal decision %d: %w", r.Seq, err)
	}
	if err := s.exec(context.Background(),
		`INSERT INTO decisions (run_id, idx, seq, clock, chosen_arm, payload) VALUES (?, ?, ?, ?, ?, ?)`,
		runID, s.decisions, r.Seq, r.Clock, r.ChosenArm, string(payload)); err != nil {
		return fmt.Errorf("insert decision %d: %w", r.Seq, err)
	}
	s.decisions++
	return nil
}

// Record implements trace.Sink.
func (s *Store) Record(r trace.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	runID, err := s.currentRun()
	if err != nil {
		return err
	}
	payload, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("marshal record %d: %w", r.Seq, err)
	}
	if err := s.exec(context.Background(),
		`INSERT INTO trace_records (run_id, idx, seq, chosen_arm, censored, regret, payload) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		runID, s.records, r.Seq, r.ChosenArm, r.Censored, r.Regret, string(payload)); err != nil {
		return fmt.Errorf("insert record %d: %w", r.Seq, err)
	}
	s.records++
	return nil
}

// RecordElimination implements trace.Sink.
func (s *Store) RecordElimination(r trace.EliminationRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	runID, err := s.currentRun()
	if err != nil {
		return err
	}
	payload, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("marshal elimination of %s: %w", r.ArmID, err)
	}
	if err := s.exec(context.Background(),
		`INSERT INTO eliminations (run_id, idx, arm_id, clock, seq, payload) VALUES (?, ?, ?, ?, ?, ?)`,
		runID, s.eliminations, r.ArmID, r.Clock, r.Seq, string(payload)); err != nil {
		return fmt.Errorf("insert elimination of %s: %w", r.ArmID, err)
	}
	s.eliminations++
	return nil
}

// Runs lists stored runs, oldest first.
func (s *Store) Runs(ctx context.Context) ([]RunInfo, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT run_id, started_at, config_json FROM runs ORDER BY started_at, run_id`)
	if err != nil {
		return nil, fmt.Errorf("select runs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []RunInfo
	for rows.Next() {
		var info RunInfo
		var cfg string
		if err := rows.Scan(&info.RunID, &info.StartedAt, &cfg); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		info.Config = json.RawMessage(cfg)
		out = append(out, info)
	}
	return out, rows.Err()
}

// LoadTrace rebuilds the DecisionTrace of runID in append order.
func (s *Store) LoadTrace(ctx context.Context, runID string) (*trace.DecisionTrace, error) {
	var exists int
	err := s.db.QueryRowContext(ctx, s.rebind(`SELECT COUNT(*) FROM runs WHERE run_id = ?`), runID).Scan(&exists)
	if err != nil {
		return nil, fmt.Errorf("select run %s: %w", runID, err)
	}
	if exists == 0 {
		return nil, fmt.Errorf("run %s not found", runID)
	}

	dt := trace.NewDecisionTrace(runID)
	if err := loadPayloads(ctx, s, "decisions", runID, &dt.Decisions); err != nil {
		return nil, err
	}
	if err := loadPayloads(ctx, s, "trace_records", runID, &dt.Records); err != nil {
		return nil, err
	}
	if err := loadPayloads(ctx, s, "eliminations", runID, &dt.Eliminations); err != nil {
		return nil, err
	}
	return dt, nil
}

func loadPayloads[T any](ctx context.Context, s *Store, table, runID string, out *[]T) error {
	rows, err := s.db.QueryContext(ctx,
		s.rebind(`SELECT payload FROM `+table+` WHERE run_id = ? ORDER BY idx`), runID)
	if err != nil {
		return fmt.Errorf("select %s: %w", table, err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return fmt.Errorf("scan %s: %w", table, err)
		}
		var v T
		if err := json.Unmarshal([]byte(payload), &v); err != nil {
			return fmt.Errorf("decode %s payload: %w", table, err)
		}
		*out = append(*out, v)
	}
	return rows.Err()
}
