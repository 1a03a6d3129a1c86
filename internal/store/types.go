package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/lazypower/solace/internal/emotion"
	"github.com/lazypower/solace/internal/stage"
)

// RecentWindow is the number of most recent stage samples that per-stage
// counts and the acceptance ratio are computed over.
const RecentWindow = 30

// Emotion sample sources.
const (
	SourceMessage = "message"
	SourceReset   = "reset"
)

// Interaction is one processed message and the reply it received.
type Interaction struct {
	BatchID     string      `json:"batch_id,omitempty"`
	Timestamp   time.Time   `json:"timestamp"`
	UserMessage string      `json:"user_message"`
	BotResponse string      `json:"bot_response"`
	Stage       stage.Stage `json:"stage"`
	Mood        float64     `json:"mood_index"`
}

// EmotionSample records the mood state after an update.
type EmotionSample struct {
	BatchID   string    `json:"batch_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Mood      float64   `json:"mood_index"`
	Bias      float64   `json:"bias"`
	Source    string    `json:"source"`
}

// StageSample records one stage classification.
type StageSample struct {
	BatchID    string      `json:"batch_id,omitempty"`
	Timestamp  time.Time   `json:"timestamp"`
	Stage      stage.Stage `json:"stage"`
	Confidence float64     `json:"confidence"`
}

// DensitySample records the keyword density of every stage for one message.
type DensitySample struct {
	BatchID   string          `json:"batch_id,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
	Densities stage.Densities `json:"densities"`
}

// Alert records a mood threshold crossing.
type Alert struct {
	BatchID   string        `json:"batch_id,omitempty"`
	Timestamp time.Time     `json:"timestamp"`
	Kind      emotion.Alert `json:"kind"`
	Mood      float64       `json:"mood_index"`
}

// Batch is the set of records produced by one observed event. A store
// applies a batch atomically: readers see all of it or none of it.
type Batch struct {
	ID          string
	Interaction *Interaction
	Emotion     *EmotionSample
	Stage       *StageSample
	Density     *DensitySample
	Alert       *Alert
}

// Empty reports whether the batch carries no records.
func (b Batch) Empty() bool {
	return b.Interaction == nil && b.Emotion == nil && b.Stage == nil && b.Density == nil && b.Alert == nil
}

// StageCounts holds one counter per stage, indexed canonically.
type StageCounts [stage.Count]int

// Get returns the count for s.
func (c StageCounts) Get(s stage.Stage) int {
	if i := s.Index(); i >= 0 {
		return c[i]
	}
	return 0
}

// Total returns the sum of all counts.
func (c StageCounts) Total() int {
	n := 0
	for _, v := range c {
		n += v
	}
	return n
}

func (c StageCounts) MarshalJSON() ([]byte, error) {
	m := make(map[stage.Stage]int, stage.Count)
	for i, s := range stage.All {
		m[s] = c[i]
	}
	return json.Marshal(m)
}

func (c *StageCounts) UnmarshalJSON(data []byte) error {
	var m map[stage.Stage]int
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	*c = StageCounts{}
	for s, v := range m {
		if i := s.Index(); i >= 0 {
			c[i] = v
		}
	}
	return nil
}

// CountStages tallies the stages of the given samples.
func CountStages(samples []StageSample) StageCounts {
	var c StageCounts
	for _, s := range samples {
		if i := s.Stage.Index(); i >= 0 {
			c[i]++
		}
	}
	return c
}

// TransitionMatrix counts stage changes: [from][to].
type TransitionMatrix [stage.Count][stage.Count]int

// Get returns how often the stage changed from one value to another.
func (m TransitionMatrix) Get(from, to stage.Stage) int {
	i, j := from.Index(), to.Index()
	if i < 0 || j < 0 {
		return 0
	}
	return m[i][j]
}

// Total returns the number of recorded transitions.
func (m TransitionMatrix) Total() int {
	n := 0
	for i := range m {
		for j := range m[i] {
			n += m[i][j]
		}
	}
	return n
}

// MarshalJSON encodes the non-zero cells as {"from": {"to": n}}.
func (m TransitionMatrix) MarshalJSON() ([]byte, error) {
	out := make(map[stage.Stage]map[stage.Stage]int)
	for i, from := range stage.All {
		for j, to := range stage.All {
			if m[i][j] == 0 {
				continue
			}
			if out[from] == nil {
				out[from] = make(map[stage.Stage]int)
			}
			out[from][to] = m[i][j]
		}
	}
	return json.Marshal(out)
}

func (m *TransitionMatrix) UnmarshalJSON(data []byte) error {
	var in map[stage.Stage]map[stage.Stage]int
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	*m = TransitionMatrix{}
	for from, row := range in {
		for to, n := range row {
			i, j := from.Index(), to.Index()
			if i >= 0 && j >= 0 {
				m[i][j] = n
			}
		}
	}
	return nil
}

// Statistics is the derived per-user summary.
type Statistics struct {
	CurrentStage      stage.Stage      `json:"current_stage"`
	RecentStageCounts StageCounts      `json:"recent_stage_counts"`
	Transitions       TransitionMatrix `json:"stage_transition_counts"`
	TotalInteractions int              `json:"total_interactions"`
	TotalStages       int              `json:"total_stage_detections"`
	TotalEmotions     int              `json:"total_emotion_updates"`
	WarningAlerts     int              `json:"warning_alerts"`
	CrisisAlerts      int              `json:"crisis_alerts"`
	LastMood          float64          `json:"last_mood_index"`
	FirstSeen         time.Time        `json:"first_seen"`
	LastSeen          time.Time        `json:"last_seen"`
}

// Apply folds a batch into the running counters. A transition is counted
// whenever a stage sample differs from the immediately preceding one.
// RecentStageCounts is derived from the stage log at read time and is not
// touched here.
func (s *Statistics) Apply(b Batch) {
	touch := func(t time.Time) {
		if t.IsZero() {
			return
		}
		if s.FirstSeen.IsZero() || t.Before(s.FirstSeen) {
			s.FirstSeen = t
		}
		if t.After(s.LastSeen) {
			s.LastSeen = t
		}
	}

	if b.Interaction != nil {
		s.TotalInteractions++
		touch(b.Interaction.Timestamp)
	}
	if b.Emotion != nil {
		s.TotalEmotions++
		s.LastMood = b.Emotion.Mood
		touch(b.Emotion.Timestamp)
	}
	if b.Stage != nil {
		prev, next := s.CurrentStage.Index(), b.Stage.Stage.Index()
		if prev >= 0 && next >= 0 && prev != next {
			s.Transitions[prev][next]++
		}
		if next >= 0 {
			s.CurrentStage = b.Stage.Stage
		}
		s.TotalStages++
		touch(b.Stage.Timestamp)
	}
	if b.Density != nil {
		touch(b.Density.Timestamp)
	}
	if b.Alert != nil {
		switch b.Alert.Kind {
		case emotion.AlertWarning:
			s.WarningAlerts++
		case emotion.AlertCrisis:
			s.CrisisAlerts++
		}
		touch(b.Alert.Timestamp)
	}
}

// UserState is the full longitudinal record of one user.
type UserState struct {
	UserID       string          `json:"user_id"`
	Interactions []Interaction   `json:"interactions"`
	Emotions     []EmotionSample `json:"emotion_history"`
	Stages       []StageSample   `json:"stage_history"`
	Densities    []DensitySample `json:"keyword_density_history"`
	Alerts       []Alert         `json:"alerts"`
	Statistics   Statistics      `json:"statistics"`
}

// NewUserState returns an empty but valid state for userID.
func NewUserState(userID string) *UserState {
	return &UserState{
		UserID:       userID,
		Interactions: []Interaction{},
		Emotions:     []EmotionSample{},
		Stages:       []StageSample{},
		Densities:    []DensitySample{},
		Alerts:       []Alert{},
	}
}

// RecentStages returns the last RecentWindow stage samples.
func (u *UserState) RecentStages() []StageSample {
	if len(u.Stages) <= RecentWindow {
		return u.Stages
	}
	return u.Stages[len(u.Stages)-RecentWindow:]
}

// StageWindow pairs the statistics with the recent stage samples they
// were read alongside, oldest first.
type StageWindow struct {
	Statistics Statistics
	Recent     []StageSample
}

// Store persists per-user logs. Implementations must apply a Batch
// atomically and return query results in chronological order.
type Store interface {
	// Apply appends every record in the batch and updates the user's
	// statistics in one atomic step.
	Apply(ctx context.Context, userID string, b Batch) error
	// LoadUserState returns the user's full state; an unknown user yields an
	// empty state, not an error.
	LoadUserState(ctx context.Context, userID string) (*UserState, error)
	Statistics(ctx context.Context, userID string) (*Statistics, error)
	// StageWindow returns the statistics and the last RecentWindow stage
	// samples from one consistent read.
	StageWindow(ctx context.Context, userID string) (*StageWindow, error)
	EmotionHistory(ctx context.Context, userID string, since time.Time) ([]EmotionSample, error)
	StageTrajectory(ctx context.Context, userID string, limit int) ([]StageSample, error)
	RecentInteractions(ctx context.Context, userID string, limit int) ([]Interaction, error)
	// LatestEmotion returns the newest emotion sample, or nil if none exist.
	LatestEmotion(ctx context.Context, userID string) (*EmotionSample, error)
	CountUsers(ctx context.Context) (int, error)
	Ping(ctx context.Context) error
	Kind() string
	Close() error
}
