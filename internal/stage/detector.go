package stage

import (
	"errors"
	"math"
	"time"
)

// Config tunes the stage classifier.
type Config struct {
	// WindowSize bounds the in-memory history of recent samples.
	WindowSize int `mapstructure:"window_size" yaml:"window_size"`
	// KeywordWeight scales keyword density in the combined score.
	KeywordWeight float64 `mapstructure:"keyword_weight" yaml:"keyword_weight"`
	// MoodWeight scales the mood-index prior in the combined score.
	MoodWeight float64 `mapstructure:"mood_weight" yaml:"mood_weight"`
	// MinMood and MaxMood normalize the mood index into [0,1] for the prior.
	MinMood float64 `mapstructure:"min_mood" yaml:"min_mood"`
	MaxMood float64 `mapstructure:"max_mood" yaml:"max_mood"`
}

// DefaultConfig returns the classifier defaults.
func DefaultConfig() Config {
	return Config{
		WindowSize:    10,
		KeywordWeight: 1.0,
		MoodWeight:    0.2,
		MinMood:       0,
		MaxMood:       100,
	}
}

// Validate checks the configuration for usable values.
func (c Config) Validate() error {
	if c.WindowSize <= 0 {
		return errors.New("stage: window_size must be positive")
	}
	if c.KeywordWeight < 0 || c.MoodWeight < 0 {
		return errors.New("stage: weights must not be negative")
	}
	if c.MaxMood <= c.MinMood {
		return errors.New("stage: max_mood must be greater than min_mood")
	}
	return nil
}

// moodPrior is how strongly each stage is favoured at the top of the mood
// range. Acceptance is inverted: it is favoured at the bottom.
var moodPrior = [Count]float64{0.6, 0.8, 0.5, 1.0, 1.0}

// Sample is one classification result.
type Sample struct {
	Timestamp  time.Time `json:"timestamp"`
	Stage      Stage     `json:"stage"`
	Confidence float64   `json:"confidence"`
}

// Result is a classification with the scores that produced it.
type Result struct {
	Stage      Stage
	Confidence float64
	Scores     [Count]float64
	Densities  Densities
}

// Option customizes a Detector.
type Option func(*Detector)

// WithClock sets the clock used to timestamp samples.
func WithClock(now func() time.Time) Option {
	return func(d *Detector) { d.now = now }
}

// Detector classifies messages and keeps a bounded window of recent samples.
// A Detector is owned by one user session and is not safe for concurrent use.
type Detector struct {
	cfg      Config
	keywords [Count]keywordSet
	window   []Sample
	now      func() time.Time
}

// NewDetector creates a Detector with the built-in keyword sets.
func NewDetector(cfg Config, opts ...Option) (*Detector, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	d := &Detector{
		cfg:      cfg,
		keywords: compileKeywords(defaultKeywords),
		window:   make([]Sample, 0, cfg.WindowSize),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// KeywordDensities returns the density of every stage's keyword set in the
// message. All five stages are present; a message without tokens yields zeros.
func (d *Detector) KeywordDensities(message string) Densities {
	var out Densities
	tokens := Tokenize(message)
	if len(tokens) == 0 {
		return out
	}
	for i := range All {
		out[i] = float64(d.keywords[i].matched(tokens)) / float64(len(tokens))
	}
	return out
}

// Classify scores the message without touching the history window.
func (d *Detector) Classify(message string, mood float64) Result {
	dens := d.KeywordDensities(message)
	m := d.normalizeMood(mood)

	var res Result
	res.Densities = dens
	for i := range All {
		prior := moodPrior[i] * m
		if All[i] == Acceptance {
			prior = moodPrior[i] * (1 - m)
		}
		res.Scores[i] = d.cfg.KeywordWeight*dens[i] + d.cfg.MoodWeight*prior
	}

	top := math.Inf(-1)
	for _, s := range res.Scores {
		if s > top {
			top = s
		}
	}

	const eps = 1e-9
	var tied []int
	for i, s := range res.Scores {
		if top-s <= eps {
			tied = append(tied, i)
		}
	}
	res.Stage = All[d.breakTie(tied)]
	winner := res.Stage.Index()

	runnerUp := math.Inf(-1)
	for i, s := range res.Scores {
		if i != winner && s > runnerUp {
			runnerUp = s
		}
	}
	if top > eps {
		res.Confidence = clamp01((top - runnerUp) / top)
	}
	return res
}

// breakTie picks the tied stage seen most recently in the window, falling
// back to canonical order.
func (d *Detector) breakTie(tied []int) int {
	if len(tied) == 1 {
		return tied[0]
	}
	for k := len(d.window) - 1; k >= 0; k-- {
		for _, i := range tied {
			if All[i] == d.window[k].Stage {
				return i
			}
		}
	}
	return tied[0]
}

// Analyze classifies the message, appends the result to the window and
// returns the full scoring.
func (d *Detector) Analyze(message string, mood float64) Result {
	res := d.Classify(message, mood)
	d.push(Sample{Timestamp: d.now(), Stage: res.Stage, Confidence: res.Confidence})
	return res
}

// Detect classifies the message and appends the result to the window.
func (d *Detector) Detect(message string, mood float64) (Stage, float64) {
	res := d.Analyze(message, mood)
	return res.Stage, res.Confidence
}

// Seed replaces the window with previously persisted samples, keeping only
// the most recent WindowSize entries.
func (d *Detector) Seed(samples []Sample) {
	d.window = d.window[:0]
	for _, s := range samples {
		d.push(s)
	}
}

// ClearWindow drops the in-memory history.
func (d *Detector) ClearWindow() {
	d.window = d.window[:0]
}

// History returns a copy of the window, oldest first.
func (d *Detector) History() []Sample {
	out := make([]Sample, len(d.window))
	copy(out, d.window)
	return out
}

// Last returns the most recent stage in the window.
func (d *Detector) Last() (Stage, bool) {
	if len(d.window) == 0 {
		return "", false
	}
	return d.window[len(d.window)-1].Stage, true
}

// Dominant returns the most frequent stage in the window. Ties go to the
// stage seen most recently.
func (d *Detector) Dominant() (Stage, bool) {
	if len(d.window) == 0 {
		return "", false
	}
	var counts [Count]int
	lastSeen := [Count]int{-1, -1, -1, -1, -1}
	for pos, s := range d.window {
		if i := s.Stage.Index(); i >= 0 {
			counts[i]++
			lastSeen[i] = pos
		}
	}
	best := -1
	for i := range All {
		if counts[i] == 0 {
			continue
		}
		if best < 0 || counts[i] > counts[best] || (counts[i] == counts[best] && lastSeen[i] > lastSeen[best]) {
			best = i
		}
	}
	if best < 0 {
		return "", false
	}
	return All[best], true
}

func (d *Detector) push(s Sample) {
	if len(d.window) == d.cfg.WindowSize {
		copy(d.window, d.window[1:])
		d.window = d.window[:len(d.window)-1]
	}
	d.window = append(d.window, s)
}

func (d *Detector) normalizeMood(mood float64) float64 {
	if math.IsNaN(mood) {
		return 0
	}
	return clamp01((mood - d.cfg.MinMood) / (d.cfg.MaxMood - d.cfg.MinMood))
}

func clamp01(v float64) float64 {
	switch {
	case math.IsNaN(v) || v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
