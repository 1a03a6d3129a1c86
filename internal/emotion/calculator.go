// Package emotion maintains the per-user mood index and its bias term.
//
// Mood model:
//   - Decay: between updates the mood relaxes toward Baseline with
//     exp(-DecayPerHour * elapsedHours). Each update additionally pulls the
//     mood toward baseline by Relaxation, so repeated neutral messages
//     converge even with no elapsed time.
//   - Stimulus: the detected stage contributes StageWeights[stage] scaled by
//     (0.5 + 0.5*confidence). Acceptance carries a negative weight.
//   - Bias: an exponential moving average of normalized stimuli in [-1,1].
//     Distress stimuli are amplified by (1 + BiasGain*b) and calming stimuli
//     by (1 - BiasGain*b), so a long run of distress mutes isolated calm
//     messages and vice versa.
//   - The mood is clamped into [MinMood, MaxMood] after every update and
//     alert levels are always computed from the clamped value.
package emotion

import (
	"errors"
	"math"
	"strings"
	"time"

	"github.com/lazypower/solace/internal/stage"
)

// Alert is the threshold level of a mood value.
type Alert string

const (
	AlertNone    Alert = ""
	AlertWarning Alert = "warning"
	AlertCrisis  Alert = "crisis"
)

// StageWeights is the stimulus each stage applies at full confidence.
type StageWeights struct {
	Denial     float64 `mapstructure:"denial" yaml:"denial"`
	Anger      float64 `mapstructure:"anger" yaml:"anger"`
	Bargaining float64 `mapstructure:"bargaining" yaml:"bargaining"`
	Depression float64 `mapstructure:"depression" yaml:"depression"`
	Acceptance float64 `mapstructure:"acceptance" yaml:"acceptance"`
}

// For returns the weight for s, 0 for an unknown stage.
func (w StageWeights) For(s stage.Stage) float64 {
	switch s {
	case stage.Denial:
		return w.Denial
	case stage.Anger:
		return w.Anger
	case stage.Bargaining:
		return w.Bargaining
	case stage.Depression:
		return w.Depression
	case stage.Acceptance:
		return w.Acceptance
	}
	return 0
}

func (w StageWeights) maxAbs() float64 {
	m := 0.0
	for _, v := range []float64{w.Denial, w.Anger, w.Bargaining, w.Depression, w.Acceptance} {
		m = math.Max(m, math.Abs(v))
	}
	return m
}

// Config holds the mood model constants.
type Config struct {
	MinMood          float64      `mapstructure:"min_mood" yaml:"min_mood"`
	MaxMood          float64      `mapstructure:"max_mood" yaml:"max_mood"`
	Baseline         float64      `mapstructure:"baseline" yaml:"baseline"`
	WarningThreshold float64      `mapstructure:"warning_threshold" yaml:"warning_threshold"`
	CrisisThreshold  float64      `mapstructure:"crisis_threshold" yaml:"crisis_threshold"`
	DecayPerHour     float64      `mapstructure:"decay_per_hour" yaml:"decay_per_hour"`
	Relaxation       float64      `mapstructure:"relaxation" yaml:"relaxation"`
	BiasRate         float64      `mapstructure:"bias_rate" yaml:"bias_rate"`
	BiasGain         float64      `mapstructure:"bias_gain" yaml:"bias_gain"`
	Weights          StageWeights `mapstructure:"weights" yaml:"weights"`
}

// DefaultConfig returns the documented default constants.
func DefaultConfig() Config {
	return Config{
		MinMood:          0,
		MaxMood:          100,
		Baseline:         30,
		WarningThreshold: 60,
		CrisisThreshold:  80,
		DecayPerHour:     0.1,
		Relaxation:       0.05,
		BiasRate:         0.1,
		BiasGain:         0.5,
		Weights: StageWeights{
			Denial:     6,
			Anger:      8,
			Bargaining: 5,
			Depression: 10,
			Acceptance: -8,
		},
	}
}

// Validate checks ordering and range invariants.
func (c Config) Validate() error {
	switch {
	case c.MaxMood <= c.MinMood:
		return errors.New("emotion: max_mood must be greater than min_mood")
	case c.Baseline < c.MinMood || c.Baseline > c.MaxMood:
		return errors.New("emotion: baseline must lie within [min_mood, max_mood]")
	case c.CrisisThreshold <= c.WarningThreshold:
		return errors.New("emotion: crisis_threshold must be greater than warning_threshold")
	case c.DecayPerHour < 0:
		return errors.New("emotion: decay_per_hour must not be negative")
	case c.Relaxation < 0 || c.Relaxation >= 1:
		return errors.New("emotion: relaxation must be in [0,1)")
	case c.BiasRate < 0 || c.BiasRate > 1:
		return errors.New("emotion: bias_rate must be in [0,1]")
	case c.BiasGain < 0 || c.BiasGain >= 1:
		return errors.New("emotion: bias_gain must be in [0,1)")
	}
	return nil
}

// Level classifies a mood value against the thresholds.
func (c Config) Level(mood float64) Alert {
	switch {
	case mood > c.CrisisThreshold:
		return AlertCrisis
	case mood > c.WarningThreshold:
		return AlertWarning
	default:
		return AlertNone
	}
}

// State is a snapshot of the numeric mood state.
type State struct {
	Mood       float64   `json:"mood"`
	Bias       float64   `json:"bias"`
	LastUpdate time.Time `json:"last_update"`
}

// Option customizes a Calculator.
type Option func(*Calculator)

// WithClock sets the clock used to measure elapsed time.
func WithClock(now func() time.Time) Option {
	return func(c *Calculator) { c.now = now }
}

// Calculator holds one user's mood index M_t and bias b_t. It is owned by a
// single session and is not safe for concurrent use.
type Calculator struct {
	cfg  Config
	mood float64
	bias float64
	last time.Time
	now  func() time.Time
}

// NewCalculator creates a Calculator at the neutral baseline.
func NewCalculator(cfg Config, opts ...Option) (*Calculator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	c := &Calculator{cfg: cfg, now: time.Now}
	for _, opt := range opts {
		opt(c)
	}
	c.mood = cfg.Baseline
	c.last = c.now()
	return c, nil
}

// Config returns the calculator's constants.
func (c *Calculator) Config() Config { return c.cfg }

// Mood returns the current mood index.
func (c *Calculator) Mood() float64 { return c.mood }

// Bias returns the current bias term.
func (c *Calculator) Bias() float64 { return c.bias }

// State returns a snapshot of the numeric state.
func (c *Calculator) State() State {
	return State{Mood: c.mood, Bias: c.bias, LastUpdate: c.last}
}

// Alert returns the threshold level of the current mood.
func (c *Calculator) Alert() Alert {
	return c.cfg.Level(c.mood)
}

// Update advances the mood by the elapsed time and the stimulus of the
// detected stage, and returns the new clamped mood. It never fails: clock
// skew counts as zero elapsed time and an empty message carries no stimulus.
func (c *Calculator) Update(message string, st stage.Stage, confidence float64) float64 {
	now := c.now()
	hours := now.Sub(c.last).Hours()
	if hours < 0 || math.IsNaN(hours) {
		hours = 0
	}
	if now.After(c.last) {
		c.last = now
	}

	base := c.cfg.Baseline
	decay := math.Exp(-c.cfg.DecayPerHour*hours) * (1 - c.cfg.Relaxation)
	mood := base + (c.mood-base)*decay

	stimulus := 0.0
	if strings.TrimSpace(message) != "" {
		stimulus = c.cfg.Weights.For(st) * (0.5 + 0.5*unit(confidence))
	}
	switch {
	case stimulus > 0:
		mood += stimulus * (1 + c.cfg.BiasGain*c.bias)
	case stimulus < 0:
		mood += stimulus * (1 - c.cfg.BiasGain*c.bias)
	}
	c.mood = c.clamp(mood)

	norm := 0.0
	if m := c.cfg.Weights.maxAbs(); m > 0 {
		norm = stimulus / m
	}
	c.bias = clampRange((1-c.cfg.BiasRate)*c.bias+c.cfg.BiasRate*norm, -1, 1)

	return c.mood
}

// Reset returns M_t and b_t to their neutral values for a new conversation.
// Persisted history is not affected.
func (c *Calculator) Reset() {
	c.mood = c.cfg.Baseline
	c.bias = 0
	c.last = c.now()
}

// Restore loads a previously persisted state, clamping it into range.
func (c *Calculator) Restore(s State) {
	c.mood = c.clamp(s.Mood)
	c.bias = clampRange(s.Bias, -1, 1)
	if math.IsNaN(s.Bias) {
		c.bias = 0
	}
	if !s.LastUpdate.IsZero() {
		c.last = s.LastUpdate
	}
}

func (c *Calculator) clamp(v float64) float64 {
	if math.IsNaN(v) {
		return c.cfg.Baseline
	}
	return clampRange(v, c.cfg.MinMood, c.cfg.MaxMood)
}

func unit(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return clampRange(v, 0, 1)
}

func clampRange(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
