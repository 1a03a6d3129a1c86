package userstate

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/lazypower/solace/internal/apierr"
	"github.com/lazypower/solace/internal/stage"
	"github.com/lazypower/solace/internal/store"
)

// Defaults applied by callers when a query parameter is omitted.
const (
	DefaultHistoryDays      = 7
	DefaultTrajectoryLimit  = 50
	DefaultInteractionLimit = 20

	unknownStage          = "unknown"
	acceptanceRatioFormat = "%.2f%%"
)

// LoadUserState returns the user's full state. An unknown user yields an
// empty but valid state.
func (m *Manager) LoadUserState(ctx context.Context, userID string) (*store.UserState, error) {
	if err := checkUser(userID); err != nil {
		return nil, err
	}
	st, err := m.store.LoadUserState(ctx, userID)
	if err != nil {
		return nil, m.readFailed("load_user_state", userID, err)
	}
	return st, nil
}

// Statistics returns the derived summary, served from cache when no write
// for the user happened since it was computed.
func (m *Manager) Statistics(ctx context.Context, userID string) (*store.Statistics, error) {
	if err := checkUser(userID); err != nil {
		return nil, err
	}
	if m.cache != nil {
		if s, ok := m.cache.Get(userID); ok {
			return &s, nil
		}
	}

	epoch := m.epoch.Load()
	s, err := m.store.Statistics(ctx, userID)
	if err != nil {
		return nil, m.readFailed("statistics", userID, err)
	}
	if m.cache != nil && m.epoch.Load() == epoch {
		m.cache.Add(userID, *s)
	}
	return s, nil
}

// EmotionHistory returns the emotion samples of the trailing days*24h,
// oldest first.
func (m *Manager) EmotionHistory(ctx context.Context, userID string, days int) ([]store.EmotionSample, error) {
	if err := checkUser(userID); err != nil {
		return nil, err
	}
	if days <= 0 {
		return nil, apierr.Invalid("days must be a positive integer, got %d", days)
	}
	since := m.now().Add(-time.Duration(days) * 24 * time.Hour)
	out, err := m.store.EmotionHistory(ctx, userID, since)
	if err != nil {
		return nil, m.readFailed("emotion_history", userID, err)
	}
	return out, nil
}

// StageTrajectory returns at most the last limit stage samples, oldest
// first.
func (m *Manager) StageTrajectory(ctx context.Context, userID string, limit int) ([]store.StageSample, error) {
	if err := checkUser(userID); err != nil {
		return nil, err
	}
	if limit <= 0 {
		return nil, apierr.Invalid("limit must be a positive integer, got %d", limit)
	}
	out, err := m.store.StageTrajectory(ctx, userID, limit)
	if err != nil {
		return nil, m.readFailed("stage_trajectory", userID, err)
	}
	return out, nil
}

// InteractionSummary returns at most the last limit interactions, oldest
// first.
func (m *Manager) InteractionSummary(ctx context.Context, userID string, limit int) ([]store.Interaction, error) {
	if err := checkUser(userID); err != nil {
		return nil, err
	}
	if limit <= 0 {
		return nil, apierr.Invalid("limit must be a positive integer, got %d", limit)
	}
	out, err := m.store.RecentInteractions(ctx, userID, limit)
	if err != nil {
		return nil, m.readFailed("interaction_summary", userID, err)
	}
	return out, nil
}

// LatestEmotion returns the newest mood sample or nil.
func (m *Manager) LatestEmotion(ctx context.Context, userID string) (*store.EmotionSample, error) {
	e, err := m.store.LatestEmotion(ctx, userID)
	if err != nil {
		return nil, m.readFailed("latest_emotion", userID, err)
	}
	return e, nil
}

// CountUsers returns the number of users with persisted records.
func (m *Manager) CountUsers(ctx context.Context) (int, error) {
	n, err := m.store.CountUsers(ctx)
	if err != nil {
		return 0, m.readFailed("count_users", "", err)
	}
	return n, nil
}

// Ping checks the store connection.
func (m *Manager) Ping(ctx context.Context) error {
	return m.store.Ping(ctx)
}

// StageAnalysis summarizes the last store.RecentWindow stage samples.
type StageAnalysis struct {
	UserID               string                 `json:"userId"`
	StageDistribution    store.StageCounts      `json:"stageDistribution"`
	AcceptanceRatio      string                 `json:"acceptanceRatio"`
	RecentStages         []stage.Stage          `json:"recentStages"`
	CurrentStage         string                 `json:"currentStage"`
	StageTransitionCount store.TransitionMatrix `json:"stageTransitionCount"`
}

// AcceptanceRatio formats the share of acceptance samples as a percentage
// with two decimals; 0.00% when there are no samples.
func AcceptanceRatio(c store.StageCounts) string {
	total := c.Total()
	if total == 0 {
		return fmt.Sprintf(acceptanceRatioFormat, 0.0)
	}
	return fmt.Sprintf(acceptanceRatioFormat, 100*float64(c.Get(stage.Acceptance))/float64(total))
}

// StageAnalysis computes the recent stage distribution. Concurrent calls
// for the same user share one store read.
func (m *Manager) StageAnalysis(ctx context.Context, userID string) (*StageAnalysis, error) {
	if err := checkUser(userID); err != nil {
		return nil, err
	}
	v, err, _ := m.group.Do("analysis:"+userID, func() (interface{}, error) {
		return m.stageAnalysis(ctx, userID)
	})
	if err != nil {
		return nil, err
	}
	a := *v.(*StageAnalysis)
	a.RecentStages = append([]stage.Stage(nil), a.RecentStages...)
	return &a, nil
}

// stageAnalysis builds every field from one store snapshot so a batch
// committing mid-read is either wholly visible or not at all.
func (m *Manager) stageAnalysis(ctx context.Context, userID string) (*StageAnalysis, error) {
	epoch := m.epoch.Load()
	w, err := m.store.StageWindow(ctx, userID)
	if err != nil {
		return nil, m.readFailed("stage_analysis", userID, err)
	}
	if m.cache != nil && m.epoch.Load() == epoch {
		m.cache.Add(userID, w.Statistics)
	}

	counts := store.CountStages(w.Recent)
	seq := make([]stage.Stage, 0, len(w.Recent))
	for _, s := range w.Recent {
		seq = append(seq, s.Stage)
	}
	current := unknownStage
	if w.Statistics.CurrentStage.Valid() {
		current = string(w.Statistics.CurrentStage)
	}
	return &StageAnalysis{
		UserID:               userID,
		StageDistribution:    counts,
		AcceptanceRatio:      AcceptanceRatio(counts),
		RecentStages:         seq,
		CurrentStage:         current,
		StageTransitionCount: w.Statistics.Transitions,
	}, nil
}

// Overview bundles every analytics view of one user.
type Overview struct {
	UserID       string                `json:"userId"`
	Statistics   *store.Statistics     `json:"statistics"`
	Emotions     []store.EmotionSample `json:"emotionHistory"`
	Trajectory   []store.StageSample   `json:"stageTrajectory"`
	Interactions []store.Interaction   `json:"interactionSummary"`
	Analysis     *StageAnalysis        `json:"stageAnalysis"`
}

// Overview runs the analytics queries concurrently with their default
// parameters. The first failure cancels the rest. Each view is consistent
// on its own, but the views are separate reads: a turn recorded while
// Overview runs may appear in some of them and not others.
func (m *Manager) Overview(ctx context.Context, userID string) (*Overview, error) {
	if err := checkUser(userID); err != nil {
		return nil, err
	}
	out := &Overview{UserID: userID}
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() (err error) {
		out.Statistics, err = m.Statistics(gctx, userID)
		return err
	})
	g.Go(func() (err error) {
		out.Emotions, err = m.EmotionHistory(gctx, userID, DefaultHistoryDays)
		return err
	})
	g.Go(func() (err error) {
		out.Trajectory, err = m.StageTrajectory(gctx, userID, DefaultTrajectoryLimit)
		return err
	})
	g.Go(func() (err error) {
		out.Interactions, err = m.InteractionSummary(gctx, userID, DefaultInteractionLimit)
		return err
	})
	g.Go(func() (err error) {
		out.Analysis, err = m.StageAnalysis(gctx, userID)
		return err
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}
