package workload

import (
	"bytes"
	"errors"
	"fmt"
	"math"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Scenario is a synthetic cohort: how contexts arrive, how often the outcome is
// positive, how well each arm predicts it, and which subgroup labels patients carry.
// Loaded from YAML via LoadScenario(path).
//
// Alternatively Cases lists the stream explicitly, and the generator only replays it.
type Scenario struct {
	NumDecisions int         `yaml:"num_decisions" validate:"gte=0"`
	StartSeq     int64       `yaml:"start_seq"`
	Arrival      ArrivalSpec `yaml:"arrival"`

	// Prevalence is the probability a case has outcome 1.
	Prevalence float64 `yaml:"prevalence" validate:"finite,gte=0,lte=1"`
	// UnresolvedFraction of cases never report an outcome (lost to follow-up).
	UnresolvedFraction float64 `yaml:"unresolved_fraction" validate:"finite,gte=0,lte=1"`

	Subgroups []SubgroupSpec `yaml:"subgroups,omitempty" validate:"dive"`
	Features  []FeatureSpec  `yaml:"features,omitempty" validate:"dive"`
	Arms      []ArmBehavior  `yaml:"arms" validate:"dive"`

	Cases []CaseSpec `yaml:"cases,omitempty" validate:"dive"`
}

// ArrivalSpec configures the time between consecutive contexts.
type ArrivalSpec struct {
	// Process is constant, poisson or gamma.
	Process       string  `yaml:"process" validate:"oneof=constant poisson gamma"`
	IntervalHours float64 `yaml:"interval_hours" validate:"finite,gte=0"`
	// CV is the coefficient of variation of gamma intervals; 1 when unset.
	CV *float64 `yaml:"cv,omitempty"`
}

// SubgroupSpec draws one label per case for key from weighted values.
type SubgroupSpec struct {
	Key    string             `yaml:"key" validate:"required"`
	Values map[string]float64 `yaml:"values" validate:"min=1,dive,finite,gt=0"`
}

// FeatureSpec draws a Gaussian feature value per case.
type FeatureSpec struct {
	Name   string  `yaml:"name" validate:"required"`
	Mean   float64 `yaml:"mean" validate:"finite"`
	StdDev float64 `yaml:"stddev" validate:"finite,gte=0"`
}

// ArmBehavior describes how well an arm's predictions track the outcome.
// TrueLoss is the arm's expected squared error; Noise perturbs it per case.
// Shift adds to the error for cases labelled key=value, for equity scenarios.
type ArmBehavior struct {
	ID       string             `yaml:"id" validate:"required"`
	TrueLoss float64            `yaml:"true_loss" validate:"finite,gte=0,lte=1"`
	Noise    float64            `yaml:"noise" validate:"finite,gte=0"`
	Shift    map[string]float64 `yaml:"shift,omitempty" validate:"dive,finite"`
}

// CaseSpec is one explicitly listed case. Times are in hours from the start.
// A nil DelayHours means the outcome is never observed.
type CaseSpec struct {
	Seq         int64              `yaml:"seq"`
	TimeHours   float64            `yaml:"time_hours" validate:"finite,gte=0"`
	Predictions map[string]float64 `yaml:"predictions"`
	Outcome     int                `yaml:"outcome"`
	DelayHours  *float64           `yaml:"delay_hours,omitempty"`
	Subgroups   map[string]string  `yaml:"subgroups,omitempty"`
	Features    map[string]float64 `yaml:"features,omitempty"`
}

var scenarioValidate *validator.Validate

func init() {
	scenarioValidate = validator.New()
	_ = scenarioValidate.RegisterValidation("finite", func(fl validator.FieldLevel) bool {
		v := fl.Field().Float()
		return !math.IsNaN(v) && !math.IsInf(v, 0)
	})
}

// LoadScenario reads and parses a YAML scenario file.
// Uses strict parsing: unrecognized keys (typos) are rejected.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading scenario: %w", err)
	}
	sc := Scenario{Arrival: ArrivalSpec{Process: "constant", IntervalHours: 1}, StartSeq: 1}
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&sc); err != nil {
		return nil, fmt.Errorf("parsing scenario: %w", err)
	}
	return &sc, nil
}

// Validate checks ranges and that arm ids are unique. Prediction values of
// explicit cases are not checked here: malformed predictions are the engine's
// to reject, per record.
func (s *Scenario) Validate() error {
	if err := scenarioValidate.Struct(s); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s: failed %q", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("invalid scenario: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("invalid scenario: %w", err)
	}
	if len(s.Cases) == 0 && len(s.Arms) == 0 {
		return fmt.Errorf("invalid scenario: arms or cases required")
	}
	seen := make(map[string]bool, len(s.Arms))
	for i, a := range s.Arms {
		if seen[a.ID] {
			return fmt.Errorf("invalid scenario: arms[%d]: duplicate id %q", i, a.ID)
		}
		seen[a.ID] = true
	}
	if s.Arrival.Process == "gamma" && s.Arrival.CV != nil {
		if cv := *s.Arrival.CV; math.IsNaN(cv) || cv <= 0 || cv > 10 {
			return fmt.Errorf("invalid scenario: arrival.cv must be in (0, 10], got %v", cv)
		}
	}
	return nil
}
