package sim

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

// TicksPerHour converts configured hours to simulated time (seconds).
const TicksPerHour int64 = 3600

// HoursToTicks converts a duration in hours to simulated ticks, rounding to the nearest tick.
func HoursToTicks(hours float64) int64 {
	return int64(math.Round(hours * float64(TicksPerHour)))
}

// Selection rule names.
const (
	SelectionLCB  = "lcb"
	SelectionLUCB = "lucb"
)

// Loss names for the predictive part of the reward.
const (
	LossLog   = "log"
	LossBrier = "brier"
)

// Config is the immutable governance configuration injected into the Engine and
// RewardFunc at construction. Loadable from a YAML file.
type Config struct {
	// ConfidenceDelta is the target error probability δ of the elimination test.
	// Restricted to (0, 0.5] so the half-width is non-increasing from n = 1.
	ConfidenceDelta float64 `yaml:"confidence_delta" validate:"finite,gt=0,lte=0.5"`
	LambdaCost      float64 `yaml:"lambda_cost" validate:"finite,gte=0"`
	LambdaSafety    float64 `yaml:"lambda_safety" validate:"finite,gte=0"`

	// Seed governs simulated delay sampling and synthetic workload generation.
	Seed int64 `yaml:"seed"`

	// Selection is "lcb" (lowest lower confidence bound) or "lucb" (sample the
	// wider of the empirical leader and its lowest-LCB challenger).
	Selection string `yaml:"selection" validate:"oneof=lcb lucb"`

	// ResolvedCacheSize bounds how many resolved sequence numbers are remembered
	// to tell duplicate feedback apart from unknown decisions.
	ResolvedCacheSize int `yaml:"resolved_cache_size" validate:"gt=0"`

	Feedback FeedbackConfig `yaml:"feedback"`
	Reward   RewardConfig   `yaml:"reward"`
	Arms     []ArmConfig    `yaml:"arms" validate:"dive"`
}

// FeedbackConfig bounds the outcome delay window and the censoring timeout.
type FeedbackConfig struct {
	MinDelayHours float64 `yaml:"min_delay_hours" validate:"finite,gte=0"`
	MaxDelayHours float64 `yaml:"max_delay_hours" validate:"finite,gtefield=MinDelayHours"`
	// MaxWaitHours is how long a decision may wait for its outcome before it is censored.
	MaxWaitHours float64 `yaml:"max_wait_hours" validate:"finite,gt=0"`
}

// RewardConfig holds the reward shape. The safety penalties are the audit-derived
// encoding of clinically asymmetric errors.
type RewardConfig struct {
	Loss    string  `yaml:"loss" validate:"oneof=log brier"`
	Epsilon float64 `yaml:"epsilon" validate:"finite,gt=0,lt=0.5"`
	// DecisionThreshold turns a risk score into a flag; a positive outcome scored
	// below it is a missed high-severity event.
	DecisionThreshold    float64 `yaml:"decision_threshold" validate:"finite,gt=0,lt=1"`
	FalseNegativePenalty float64 `yaml:"false_negative_penalty" validate:"finite,gte=0"`
	FalsePositivePenalty float64 `yaml:"false_positive_penalty" validate:"finite,gte=0"`
}

// ArmConfig declares one candidate model.
type ArmConfig struct {
	ID    string  `yaml:"id" validate:"required"`
	Model string  `yaml:"model"`
	Cost  float64 `yaml:"cost" validate:"finite,gte=0"`
}

// DefaultConfig returns the defaults applied before a YAML file is decoded on top.
func DefaultConfig() Config {
	return Config{
		ConfidenceDelta:   0.05,
		LambdaCost:        1.0,
		LambdaSafety:      0.5,
		Seed:              42,
		Selection:         SelectionLUCB,
		ResolvedCacheSize: 4096,
		Feedback: FeedbackConfig{
			MinDelayHours: 0,
			MaxDelayHours: 72,
			MaxWaitHours:  168,
		},
		Reward: RewardConfig{
			Loss:                 LossLog,
			Epsilon:              1e-3,
			DecisionThreshold:    0.5,
			FalseNegativePenalty: 1.0,
			FalsePositivePenalty: 0,
		},
	}
}

var configValidate *validator.Validate

func init() {
	configValidate = validator.New()
	_ = configValidate.RegisterValidation("finite", validateFinite)
}

// validateFinite rejects NaN and ±Inf; the built-in comparisons let +Inf through gte.
func validateFinite(fl validator.FieldLevel) bool {
	v := fl.Field().Float()
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// LoadConfig reads a YAML configuration file over DefaultConfig.
// Uses strict parsing: unrecognized keys (typos) are rejected.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading governance config: %w", err)
	}
	cfg := DefaultConfig()
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("parsing governance config: %w", err)
	}
	return &cfg, nil
}

// Validate checks ranges and cross-field constraints. Any failure is a fatal
// configuration error.
func (c *Config) Validate() error {
	if err := configValidate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s: failed %q (value %v)", fe.Namespace(), fe.Tag(), fe.Value()))
			}
			return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("invalid config: %w", err)
	}
	if len(c.Arms) == 0 {
		return fmt.Errorf("invalid config: at least one arm is required")
	}
	seen := make(map[string]bool, len(c.Arms))
	for i, a := range c.Arms {
		if seen[a.ID] {
			return fmt.Errorf("invalid config: arms[%d]: duplicate id %q", i, a.ID)
		}
		seen[a.ID] = true
	}
	return nil
}

// MaxWaitTicks returns the censoring timeout in ticks.
func (f FeedbackConfig) MaxWaitTicks() int64 {
	return HoursToTicks(f.MaxWaitHours)
}

// DelayWindowTicks returns the configured [min, max] outcome delay in ticks.
func (f FeedbackConfig) DelayWindowTicks() (int64, int64) {
	return HoursToTicks(f.MinDelayHours), HoursToTicks(f.MaxDelayHours)
}
