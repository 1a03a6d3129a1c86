package store

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lazypower/solace/internal/emotion"
	"github.com/lazypower/solace/internal/stage"
)

var epoch = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func at(minutes int) time.Time { return epoch.Add(time.Duration(minutes) * time.Minute) }

func backends(t *testing.T) map[string]func(t *testing.T) Store {
	return map[string]func(t *testing.T) Store{
		"sqlite": func(t *testing.T) Store {
			db, err := OpenMemory()
			require.NoError(t, err)
			t.Cleanup(func() { db.Close() })
			return db
		},
		"redis": func(t *testing.T) Store {
			mr := miniredis.RunT(t)
			client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
			t.Cleanup(func() { client.Close() })
			return NewRedis(client, "test")
		},
	}
}

func forEachBackend(t *testing.T, fn func(t *testing.T, s Store)) {
	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			fn(t, open(t))
		})
	}
}

func turn(id string, ts time.Time, st stage.Stage, mood float64) Batch {
	var d stage.Densities
	d[st.Index()] = 0.5
	return Batch{
		ID:          id,
		Interaction: &Interaction{Timestamp: ts, UserMessage: "msg " + id, BotResponse: "reply " + id, Stage: st, Mood: mood},
		Emotion:     &EmotionSample{Timestamp: ts, Mood: mood, Bias: 0.1},
		Stage:       &StageSample{Timestamp: ts, Stage: st, Confidence: 0.5},
		Density:     &DensitySample{Timestamp: ts, Densities: d},
	}
}

func TestUnknownUserIsEmpty(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()

		st, err := s.LoadUserState(ctx, "nobody")
		require.NoError(t, err)
		assert.Equal(t, "nobody", st.UserID)
		assert.NotNil(t, st.Interactions)
		assert.Empty(t, st.Interactions)
		assert.Empty(t, st.Emotions)
		assert.Empty(t, st.Stages)
		assert.Empty(t, st.Alerts)

		stats, err := s.Statistics(ctx, "nobody")
		require.NoError(t, err)
		assert.Zero(t, stats.TotalInteractions)
		assert.Equal(t, stage.Stage(""), stats.CurrentStage)

		e, err := s.LatestEmotion(ctx, "nobody")
		require.NoError(t, err)
		assert.Nil(t, e)

		n, err := s.CountUsers(ctx)
		require.NoError(t, err)
		assert.Zero(t, n)
	})
}

func TestApplyFullBatch(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		b := turn("b1", at(0), stage.Depression, 82)
		b.Alert = &Alert{Timestamp: at(0), Kind: emotion.AlertCrisis, Mood: 82}
		require.NoError(t, s.Apply(ctx, "alice", b))

		st, err := s.LoadUserState(ctx, "alice")
		require.NoError(t, err)
		require.Len(t, st.Interactions, 1)
		require.Len(t, st.Emotions, 1)
		require.Len(t, st.Stages, 1)
		require.Len(t, st.Densities, 1)
		require.Len(t, st.Alerts, 1)

		assert.Equal(t, "b1", st.Interactions[0].BatchID)
		assert.Equal(t, "msg b1", st.Interactions[0].UserMessage)
		assert.True(t, st.Interactions[0].Timestamp.Equal(at(0)))
		assert.Equal(t, stage.Depression, st.Stages[0].Stage)
		assert.Equal(t, 0.5, st.Densities[0].Densities.Get(stage.Depression))
		assert.Equal(t, emotion.AlertCrisis, st.Alerts[0].Kind)

		stats := st.Statistics
		assert.Equal(t, stage.Depression, stats.CurrentStage)
		assert.Equal(t, 1, stats.TotalInteractions)
		assert.Equal(t, 1, stats.TotalStages)
		assert.Equal(t, 1, stats.TotalEmotions)
		assert.Equal(t, 1, stats.CrisisAlerts)
		assert.Zero(t, stats.WarningAlerts)
		assert.Equal(t, 82.0, stats.LastMood)
		assert.Equal(t, 1, stats.RecentStageCounts.Get(stage.Depression))
		assert.True(t, stats.FirstSeen.Equal(at(0)))
	})
}

func TestEmptyBatchIsNoop(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		require.NoError(t, s.Apply(ctx, "ghost", Batch{ID: "x"}))

		n, err := s.CountUsers(ctx)
		require.NoError(t, err)
		assert.Zero(t, n)
	})
}

func TestTransitionsCounted(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		seq := []stage.Stage{stage.Denial, stage.Denial, stage.Anger, stage.Denial, stage.Acceptance}
		for i, st := range seq {
			require.NoError(t, s.Apply(ctx, "u", turn(fmt.Sprint(i), at(i), st, 40)))
		}

		stats, err := s.Statistics(ctx, "u")
		require.NoError(t, err)
		assert.Equal(t, stage.Acceptance, stats.CurrentStage)
		assert.Equal(t, 1, stats.Transitions.Get(stage.Denial, stage.Anger))
		assert.Equal(t, 1, stats.Transitions.Get(stage.Anger, stage.Denial))
		assert.Equal(t, 1, stats.Transitions.Get(stage.Denial, stage.Acceptance))
		assert.Zero(t, stats.Transitions.Get(stage.Denial, stage.Denial))
		assert.Equal(t, 3, stats.Transitions.Total())
		assert.Equal(t, 3, stats.RecentStageCounts.Get(stage.Denial))
	})
}

func TestRecentCountsUseWindow(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		for i := 0; i < RecentWindow+5; i++ {
			st := stage.Depression
			if i < 5 {
				st = stage.Denial
			}
			require.NoError(t, s.Apply(ctx, "u", Batch{
				ID:    fmt.Sprint(i),
				Stage: &StageSample{Timestamp: at(i), Stage: st, Confidence: 0.3},
			}))
		}

		stats, err := s.Statistics(ctx, "u")
		require.NoError(t, err)
		assert.Equal(t, RecentWindow, stats.RecentStageCounts.Total())
		assert.Zero(t, stats.RecentStageCounts.Get(stage.Denial))
		assert.Equal(t, RecentWindow+5, stats.TotalStages)

		st, err := s.LoadUserState(ctx, "u")
		require.NoError(t, err)
		assert.Len(t, st.Stages, RecentWindow+5)
		assert.Equal(t, stats.RecentStageCounts, st.Statistics.RecentStageCounts)
	})
}

func TestStageWindow(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()

		w, err := s.StageWindow(ctx, "nobody")
		require.NoError(t, err)
		assert.Empty(t, w.Recent)
		assert.Zero(t, w.Statistics.TotalStages)

		for i := 0; i < RecentWindow+2; i++ {
			st := stage.Anger
			if i%2 == 1 {
				st = stage.Acceptance
			}
			require.NoError(t, s.Apply(ctx, "u", turn(fmt.Sprint(i), at(i), st, 40)))
		}

		w, err = s.StageWindow(ctx, "u")
		require.NoError(t, err)
		require.Len(t, w.Recent, RecentWindow)
		assert.Equal(t, "2", w.Recent[0].BatchID, "oldest sample inside the window")
		assert.Equal(t, w.Statistics.CurrentStage, w.Recent[len(w.Recent)-1].Stage)
		assert.Equal(t, CountStages(w.Recent), w.Statistics.RecentStageCounts)
		assert.Equal(t, RecentWindow+2, w.Statistics.TotalStages)

		stats, err := s.Statistics(ctx, "u")
		require.NoError(t, err)
		assert.Equal(t, w.Statistics, *stats)
	})
}

func TestTrajectoryAndInteractionsLimit(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		for i := 0; i < 10; i++ {
			require.NoError(t, s.Apply(ctx, "u", turn(fmt.Sprint(i), at(i), stage.All[i%stage.Count], 40)))
		}

		traj, err := s.StageTrajectory(ctx, "u", 3)
		require.NoError(t, err)
		require.Len(t, traj, 3)
		assert.Equal(t, []string{"7", "8", "9"}, []string{traj[0].BatchID, traj[1].BatchID, traj[2].BatchID})
		assert.True(t, traj[0].Timestamp.Before(traj[2].Timestamp))

		all, err := s.StageTrajectory(ctx, "u", 100)
		require.NoError(t, err)
		assert.Len(t, all, 10)

		inter, err := s.RecentInteractions(ctx, "u", 2)
		require.NoError(t, err)
		require.Len(t, inter, 2)
		assert.Equal(t, "msg 8", inter[0].UserMessage)
		assert.Equal(t, "msg 9", inter[1].UserMessage)
	})
}

func TestEmotionHistorySince(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		for i := 0; i < 5; i++ {
			require.NoError(t, s.Apply(ctx, "u", Batch{
				ID:      fmt.Sprint(i),
				Emotion: &EmotionSample{Timestamp: at(i * 60), Mood: float64(30 + i)},
			}))
		}

		hist, err := s.EmotionHistory(ctx, "u", at(120))
		require.NoError(t, err)
		require.Len(t, hist, 3)
		assert.Equal(t, 32.0, hist[0].Mood)
		assert.Equal(t, 34.0, hist[2].Mood)

		latest, err := s.LatestEmotion(ctx, "u")
		require.NoError(t, err)
		require.NotNil(t, latest)
		assert.Equal(t, 34.0, latest.Mood)
	})
}

func TestResetSampleSource(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		require.NoError(t, s.Apply(ctx, "u", turn("1", at(0), stage.Anger, 70)))
		require.NoError(t, s.Apply(ctx, "u", Batch{
			ID:      "2",
			Emotion: &EmotionSample{Timestamp: at(1), Mood: 30, Source: SourceReset},
		}))

		latest, err := s.LatestEmotion(ctx, "u")
		require.NoError(t, err)
		require.NotNil(t, latest)
		assert.Equal(t, SourceReset, latest.Source)
		assert.Equal(t, 30.0, latest.Mood)

		st, err := s.LoadUserState(ctx, "u")
		require.NoError(t, err)
		assert.Len(t, st.Interactions, 1)
		assert.Len(t, st.Emotions, 2)
	})
}

func TestUsersAreIsolated(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		require.NoError(t, s.Apply(ctx, "a", turn("1", at(0), stage.Anger, 50)))
		require.NoError(t, s.Apply(ctx, "b", turn("2", at(0), stage.Acceptance, 20)))

		a, err := s.LoadUserState(ctx, "a")
		require.NoError(t, err)
		require.Len(t, a.Stages, 1)
		assert.Equal(t, stage.Anger, a.Stages[0].Stage)

		n, err := s.CountUsers(ctx)
		require.NoError(t, err)
		assert.Equal(t, 2, n)
	})
}

func TestConcurrentUsers(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		var wg sync.WaitGroup
		errs := make(chan error, 10)
		for i := 0; i < 10; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				uid := fmt.Sprintf("user-%d", i)
				for j := 0; j < 3; j++ {
					if err := s.Apply(ctx, uid, turn(fmt.Sprint(j), at(j), stage.Bargaining, 40)); err != nil {
						errs <- err
						return
					}
				}
			}(i)
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			t.Fatalf("Apply: %v", err)
		}

		n, err := s.CountUsers(ctx)
		require.NoError(t, err)
		assert.Equal(t, 10, n)

		stats, err := s.Statistics(ctx, "user-4")
		require.NoError(t, err)
		assert.Equal(t, 3, stats.TotalInteractions)
	})
}

func TestPingAndKind(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		require.NoError(t, s.Ping(context.Background()))
		assert.Contains(t, []string{"sqlite", "redis"}, s.Kind())
	})
}
