package trace

import (
	"fmt"
	"io"
	"math"
	"sort"
	"strings"

	"gonum.org/v1/gonum/stat"
)

// ArmSummary aggregates the trace for one arm.
// MeanLoss is the predictive loss only; MeanUtility includes cost and safety terms.
type ArmSummary struct {
	Selections         int     `yaml:"selections"`
	SelectionFrequency float64 `yaml:"selection_frequency"`
	Resolved           int     `yaml:"resolved"`
	Censored           int     `yaml:"censored"`
	MeanLoss           float64 `yaml:"mean_loss"`
	LossStdDev         float64 `yaml:"loss_stddev"`
	MeanUtility        float64 `yaml:"mean_utility"`
	MeanCost           float64 `yaml:"mean_cost"`
	MeanSafetyPenalty  float64 `yaml:"mean_safety_penalty"`
	TotalRegret        float64 `yaml:"total_regret"`
	Eliminated         bool    `yaml:"eliminated"`
	EliminatedAt       int64   `yaml:"eliminated_at,omitempty"`
}

// GroupSummary aggregates the trace for one subgroup value, for equity auditing.
type GroupSummary struct {
	Decisions        int            `yaml:"decisions"`
	Resolved         int            `yaml:"resolved"`
	Censored         int            `yaml:"censored"`
	MeanLoss         float64        `yaml:"mean_loss"`
	MeanUtility      float64        `yaml:"mean_utility"`
	MeanCost         float64        `yaml:"mean_cost"`
	CumulativeRegret float64        `yaml:"cumulative_regret"`
	AverageRegret    float64        `yaml:"average_regret"`
	ArmSelections    map[string]int `yaml:"arm_selections"`
}

// Summary aggregates statistics from a DecisionTrace.
type Summary struct {
	RunID          string `yaml:"run_id"`
	TotalDecisions int    `yaml:"total_decisions"`
	Resolved       int    `yaml:"resolved"`
	Censored       int    `yaml:"censored"`
	Outstanding    int    `yaml:"outstanding"` // decisions with no record yet

	MeanLoss         float64 `yaml:"mean_loss"`
	MeanUtility      float64 `yaml:"mean_utility"`
	MeanCost         float64 `yaml:"mean_cost"`
	CumulativeRegret float64 `yaml:"cumulative_regret"`
	AverageRegret    float64 `yaml:"average_regret"`
	MaxRegret        float64 `yaml:"max_regret"`

	// RegretCurve[i] is the cumulative regret after the i-th resolved record;
	// AverageRegretCurve[i] is RegretCurve[i] / (i+1).
	RegretCurve        []float64 `yaml:"regret_curve,flow"`
	AverageRegretCurve []float64 `yaml:"average_regret_curve,flow"`

	ArmOrder []string               `yaml:"arm_order"`
	Arms     map[string]*ArmSummary `yaml:"arms"`

	// Subgroups[key][value] summarizes decisions whose context carried that label.
	Subgroups map[string]map[string]*GroupSummary `yaml:"subgroups,omitempty"`
	// SubgroupLossGap[key] is the spread (max - min) of MeanLoss across the values of key.
	SubgroupLossGap map[string]float64 `yaml:"subgroup_loss_gap,omitempty"`

	Eliminations []EliminationRecord `yaml:"eliminations"`
}

// Summarize computes aggregate statistics from a DecisionTrace.
// Pure and idempotent: the same trace always yields the same summary.
// Safe for nil or empty traces (returns zero-value fields).
func Summarize(dt *DecisionTrace) *Summary {
	s := &Summary{
		Arms:            make(map[string]*ArmSummary),
		Subgroups:       make(map[string]map[string]*GroupSummary),
		SubgroupLossGap: make(map[string]float64),
	}
	if dt == nil {
		return s
	}
	s.RunID = dt.RunID
	s.TotalDecisions = len(dt.Decisions)

	arm := func(id string) *ArmSummary {
		a, ok := s.Arms[id]
		if !ok {
			a = &ArmSummary{}
			s.Arms[id] = a
			s.ArmOrder = append(s.ArmOrder, id)
		}
		return a
	}
	group := func(key, value string) *GroupSummary {
		byValue, ok := s.Subgroups[key]
		if !ok {
			byValue = make(map[string]*GroupSummary)
			s.Subgroups[key] = byValue
		}
		g, ok := byValue[value]
		if !ok {
			g = &GroupSummary{ArmSelections: make(map[string]int)}
			byValue[value] = g
		}
		return g
	}

	for _, d := range dt.Decisions {
		arm(d.ChosenArm).Selections++
		for k, v := range d.Subgroups {
			g := group(k, v)
			g.Decisions++
			g.ArmSelections[d.ChosenArm]++
		}
	}
	for _, a := range s.Arms {
		if s.TotalDecisions > 0 {
			a.SelectionFrequency = float64(a.Selections) / float64(s.TotalDecisions)
		}
	}

	armLosses := make(map[string][]float64)
	groupTotals := make(map[*GroupSummary]*[3]float64) // loss, utility, cost sums
	var lossSum, utilSum, costSum float64
	cumulative := 0.0
	for _, r := range dt.Records {
		a := arm(r.ChosenArm)
		if r.Censored {
			s.Censored++
			a.Censored++
			for k, v := range r.Subgroups {
				group(k, v).Censored++
			}
			continue
		}
		s.Resolved++
		a.Resolved++
		armLosses[r.ChosenArm] = append(armLosses[r.ChosenArm], r.Loss)
		a.MeanUtility += r.Utility
		a.MeanCost += r.Cost
		a.MeanSafetyPenalty += r.SafetyPenalty
		a.TotalRegret += r.Regret

		lossSum += r.Loss
		utilSum += r.Utility
		costSum += r.Cost
		cumulative += r.Regret
		s.RegretCurve = append(s.RegretCurve, cumulative)
		s.AverageRegretCurve = append(s.AverageRegretCurve, cumulative/float64(len(s.RegretCurve)))
		s.MaxRegret = math.Max(s.MaxRegret, r.Regret)

		for k, v := range r.Subgroups {
			g := group(k, v)
			g.Resolved++
			g.CumulativeRegret += r.Regret
			sums, ok := groupTotals[g]
			if !ok {
				sums = &[3]float64{}
				groupTotals[g] = sums
			}
			sums[0] += r.Loss
			sums[1] += r.Utility
			sums[2] += r.Cost
		}
	}

	s.Outstanding = s.TotalDecisions - s.Resolved - s.Censored
	s.CumulativeRegret = cumulative
	if s.Resolved > 0 {
		n := float64(s.Resolved)
		s.MeanLoss = lossSum / n
		s.MeanUtility = utilSum / n
		s.MeanCost = costSum / n
		s.AverageRegret = cumulative / n
	}

	for id, a := range s.Arms {
		if a.Resolved == 0 {
			continue
		}
		n := float64(a.Resolved)
		losses := armLosses[id]
		if len(losses) > 1 {
			a.MeanLoss, a.LossStdDev = stat.MeanStdDev(losses, nil)
		} else {
			a.MeanLoss = stat.Mean(losses, nil)
		}
		a.MeanUtility /= n
		a.MeanCost /= n
		a.MeanSafetyPenalty /= n
	}

	for key, byValue := range s.Subgroups {
		lo, hi := math.Inf(1), math.Inf(-1)
		for _, g := range byValue {
			sums, ok := groupTotals[g]
			if !ok || g.Resolved == 0 {
				continue
			}
			n := float64(g.Resolved)
			g.MeanLoss = sums[0] / n
			g.MeanUtility = sums[1] / n
			g.MeanCost = sums[2] / n
			g.AverageRegret = g.CumulativeRegret / n
			lo = math.Min(lo, g.MeanLoss)
			hi = math.Max(hi, g.MeanLoss)
		}
		if hi >= lo {
			s.SubgroupLossGap[key] = hi - lo
		}
	}

	s.Eliminations = append(s.Eliminations, dt.Eliminations...)
	for _, e := range dt.Eliminations {
		a := arm(e.ArmID)
		if !a.Eliminated {
			a.Eliminated = true
			a.EliminatedAt = e.Clock
		}
	}

	return s
}

// Print writes a human-readable report.
func (s *Summary) Print(w io.Writer) {
	fmt.Fprintln(w, "=== Governance Summary ===")
	if s.RunID != "" {
		fmt.Fprintf(w, "Run ID               : %s\n", s.RunID)
	}
	fmt.Fprintf(w, "Decisions            : %d\n", s.TotalDecisions)
	fmt.Fprintf(w, "Resolved / Censored  : %d / %d (outstanding %d)\n", s.Resolved, s.Censored, s.Outstanding)
	fmt.Fprintf(w, "Mean Loss            : %.4f\n", s.MeanLoss)
	fmt.Fprintf(w, "Mean Utility         : %.4f\n", s.MeanUtility)
	fmt.Fprintf(w, "Cumulative Regret    : %.4f (avg %.4f, max %.4f)\n", s.CumulativeRegret, s.AverageRegret, s.MaxRegret)

	fmt.Fprintln(w, "--- Arms ---")
	for _, id := range s.ArmOrder {
		a := s.Arms[id]
		status := "active"
		if a.Eliminated {
			status = fmt.Sprintf("eliminated@%d", a.EliminatedAt)
		}
		fmt.Fprintf(w, "%-12s sel=%5d (%.3f) loss=%.4f±%.4f util=%.4f cost=%.4f censored=%d %s\n",
			id, a.Selections, a.SelectionFrequency, a.MeanLoss, a.LossStdDev, a.MeanUtility, a.MeanCost, a.Censored, status)
	}

	if len(s.Subgroups) == 0 {
		return
	}
	fmt.Fprintln(w, "--- Subgroups ---")
	keys := make([]string, 0, len(s.Subgroups))
	for k := range s.Subgroups {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		values := make([]string, 0, len(s.Subgroups[k]))
		for v := range s.Subgroups[k] {
			values = append(values, v)
		}
		sort.Strings(values)
		fmt.Fprintf(w, "%s (loss gap %.4f)\n", k, s.SubgroupLossGap[k])
		for _, v := range values {
			g := s.Subgroups[k][v]
			fmt.Fprintf(w, "  %-10s n=%5d loss=%.4f util=%.4f regret=%.4f arms=%s\n",
				v, g.Decisions, g.MeanLoss, g.MeanUtility, g.CumulativeRegret, formatCounts(g.ArmSelections))
		}
	}
}

func formatCounts(m map[string]int) string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s:%d", k, m[k]))
	}
	return strings.Join(parts, ",")
}
