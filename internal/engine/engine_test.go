package engine

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lazypower/solace/internal/apierr"
	"github.com/lazypower/solace/internal/emotion"
	"github.com/lazypower/solace/internal/llm"
	"github.com/lazypower/solace/internal/stage"
	"github.com/lazypower/solace/internal/store"
	"github.com/lazypower/solace/internal/userstate"
)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

// brokenWrites fails every Apply while broken is set.
type brokenWrites struct {
	store.Store
	broken atomic.Bool
}

func (b *brokenWrites) Apply(ctx context.Context, userID string, batch store.Batch) error {
	if b.broken.Load() {
		return errors.New("disk full")
	}
	return b.Store.Apply(ctx, userID, batch)
}

func testConfig() Config {
	return Config{
		Emotion:         emotion.DefaultConfig(),
		Stage:           stage.DefaultConfig(),
		Shards:          8,
		GenerateTimeout: time.Second,
	}
}

type fixture struct {
	eng   *Engine
	mgr   *userstate.Manager
	store *brokenWrites
	clock *clock
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	db, err := store.OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	clk := &clock{t: time.Date(2026, 4, 1, 20, 0, 0, 0, time.UTC)}
	bw := &brokenWrites{Store: db}

	cfg := userstate.DefaultConfig()
	cfg.WriteAttempts = 1
	cfg.RetryDelay = 0
	mgr, err := userstate.New(bw, cfg, userstate.WithClock(clk.Now))
	require.NoError(t, err)

	opts = append([]Option{WithClock(clk.Now), WithVersion("test")}, opts...)
	eng, err := New(mgr, testConfig(), opts...)
	require.NoError(t, err)
	return &fixture{eng: eng, mgr: mgr, store: bw, clock: clk}
}

func (f *fixture) chat(t *testing.T, userID, msg string) *ChatResponse {
	t.Helper()
	resp, err := f.eng.Chat(context.Background(), ChatRequest{Message: msg, UserID: userID})
	require.NoError(t, err)
	return resp
}

func mood(t *testing.T, r *ChatResponse) float64 {
	t.Helper()
	v, err := strconv.ParseFloat(r.MoodIndex, 64)
	require.NoError(t, err)
	return v
}

const distress = "I feel so empty and hopeless, crying alone"

func TestChatAliceFirstMessage(t *testing.T) {
	f := newFixture(t)
	resp := f.chat(t, "alice", "I can't believe they're gone")

	assert.Equal(t, stage.Denial.Label(), resp.StageInfo)
	assert.Greater(t, mood(t, resp), 30.0)
	assert.Equal(t, "", resp.AlertFlag)
	assert.Equal(t, "partner", resp.UserType)
	assert.NotEqual(t, "0.00", resp.Confidence)
	assert.Contains(t, resp.EmotionAnalysis, "当前心情指数: "+resp.MoodIndex)
	assert.NotEmpty(t, resp.BatchID)

	st, err := f.mgr.LoadUserState(context.Background(), "alice")
	require.NoError(t, err)
	require.Len(t, st.Interactions, 1)
	require.Len(t, st.Emotions, 1)
	require.Len(t, st.Stages, 1)
	require.Len(t, st.Densities, 1)
	assert.Empty(t, st.Alerts)

	for _, rec := range []string{st.Interactions[0].BatchID, st.Emotions[0].BatchID, st.Stages[0].BatchID, st.Densities[0].BatchID} {
		assert.Equal(t, resp.BatchID, rec)
	}
	assert.Equal(t, stage.Denial, st.Stages[0].Stage)
	assert.InDelta(t, 0.4, st.Densities[0].Densities.Get(stage.Denial), 1e-9)
}

func TestChatBobAlertsFromCrisisCrossing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var responses []*ChatResponse
	for i := 0; i < 10; i++ {
		responses = append(responses, f.chat(t, "bob", distress))
	}

	cross := -1
	for i, r := range responses {
		if r.AlertFlag == string(emotion.AlertCrisis) {
			cross = i
			break
		}
		assert.LessOrEqual(t, mood(t, r), 80.0, "message %d", i)
	}
	require.GreaterOrEqual(t, cross, 1, "mood never crossed the crisis threshold")
	for _, r := range responses[cross:] {
		assert.Equal(t, "crisis", r.AlertFlag)
		assert.Contains(t, r.Response, llm.CrisisLine)
	}

	st, err := f.mgr.LoadUserState(ctx, "bob")
	require.NoError(t, err)
	for _, e := range st.Emotions {
		if e.BatchID == responses[cross].BatchID {
			assert.Greater(t, e.Mood, 80.0, "crisis requires a mood strictly above the threshold")
		}
	}

	// Exactly one alert belongs to the crossing batch, and every later
	// update above the threshold records its own.
	inCrossing := 0
	crisis := 0
	for _, a := range st.Alerts {
		if a.Kind == emotion.AlertCrisis {
			crisis++
		}
		if a.BatchID == responses[cross].BatchID {
			inCrossing++
			assert.Equal(t, emotion.AlertCrisis, a.Kind)
		}
	}
	assert.Equal(t, 1, inCrossing)
	assert.Equal(t, len(responses)-cross, crisis)
	assert.Equal(t, crisis, st.Statistics.CrisisAlerts)
	assert.Equal(t, stage.Depression, st.Statistics.CurrentStage)
}

func TestResetKeepsHistory(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for i := 0; i < 10; i++ {
		f.chat(t, "bob", distress)
	}

	require.NoError(t, f.eng.Reset(ctx, "bob"))

	latest, err := f.mgr.LatestEmotion(ctx, "bob")
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, store.SourceReset, latest.Source)
	assert.Equal(t, 30.0, latest.Mood)

	summary, err := f.eng.InteractionSummary(ctx, "bob", userstate.DefaultInteractionLimit)
	require.NoError(t, err)
	assert.Len(t, summary, 10)

	stats, err := f.eng.Statistics(ctx, "bob")
	require.NoError(t, err)
	assert.Positive(t, stats.CrisisAlerts)

	resp := f.chat(t, "bob", "I miss them")
	assert.Less(t, mood(t, resp), 45.0)
	assert.Equal(t, "", resp.AlertFlag)
}

func TestResetValidatesUser(t *testing.T) {
	f := newFixture(t)
	err := f.eng.Reset(context.Background(), "bad id!")
	assert.ErrorIs(t, err, apierr.ErrInvalidInput)
	assert.Equal(t, 0, f.eng.ActiveSessions())
}

func TestChatInvalidInputTouchesNothing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for _, req := range []ChatRequest{
		{Message: "   ", UserID: "dave"},
		{Message: "hello", UserID: "dave", UserType: "friend"},
		{Message: "hello", UserID: "dave/../x"},
	} {
		_, err := f.eng.Chat(ctx, req)
		assert.ErrorIs(t, err, apierr.ErrInvalidInput, "%+v", req)
		assert.Equal(t, 400, apierr.StatusOf(err))
	}
	assert.Equal(t, 0, f.eng.ActiveSessions())
	n, err := f.mgr.CountUsers(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestChatDefaults(t *testing.T) {
	f := newFixture(t)
	resp, err := f.eng.Chat(context.Background(), ChatRequest{Message: "hello", UserType: "PET"})
	require.NoError(t, err)
	assert.Equal(t, "pet", resp.UserType)

	stats, err := f.eng.Statistics(context.Background(), DefaultUserID)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.TotalInteractions)
}

func TestChatConcurrentSameUser(t *testing.T) {
	f := newFixture(t)
	const n = 20

	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := f.eng.Chat(context.Background(), ChatRequest{Message: fmt.Sprintf("why me %d", i), UserID: "carol"})
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	assert.Equal(t, 1, f.eng.ActiveSessions())
	stats, err := f.eng.Statistics(context.Background(), "carol")
	require.NoError(t, err)
	assert.Equal(t, n, stats.TotalInteractions)
	assert.Equal(t, n, stats.TotalStages)
	assert.Equal(t, n, stats.TotalEmotions)
}

// gatedGenerator blocks replies for one user until released.
type gatedGenerator struct {
	user    string
	entered chan struct{}
	release chan struct{}
}

func (g *gatedGenerator) Generate(_ context.Context, r llm.Request) (string, error) {
	if r.UserID == g.user {
		close(g.entered)
		<-g.release
	}
	return "I'm here with you.", nil
}

func TestSlowReplyBlocksOnlyItsUser(t *testing.T) {
	gen := &gatedGenerator{user: "slow", entered: make(chan struct{}), release: make(chan struct{})}
	f := newFixture(t, WithGenerator(gen))

	slowDone := make(chan error, 1)
	go func() {
		_, err := f.eng.Chat(context.Background(), ChatRequest{Message: "I miss her", UserID: "slow"})
		slowDone <- err
	}()
	<-gen.entered

	resp := f.chat(t, "quick", "I miss him")
	assert.Equal(t, "I'm here with you.", resp.Response)
	select {
	case <-slowDone:
		t.Fatal("slow reply finished before it was released")
	default:
	}

	close(gen.release)
	require.NoError(t, <-slowDone)
}

func TestChatConcurrentDistinctUsers(t *testing.T) {
	f := newFixture(t)
	const n = 16

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := f.eng.Chat(context.Background(), ChatRequest{Message: "so sad", UserID: fmt.Sprintf("user-%d", i)})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, n, f.eng.ActiveSessions())
	assert.Equal(t, n, f.eng.Status(context.Background()).ActiveUsers)
}

func TestSessionHydratesAfterRestart(t *testing.T) {
	f := newFixture(t)
	var last *ChatResponse
	for i := 0; i < 10; i++ {
		last = f.chat(t, "bob", distress)
	}
	require.Equal(t, "crisis", last.AlertFlag)

	restarted, err := New(f.mgr, testConfig(), WithClock(f.clock.Now))
	require.NoError(t, err)
	resp, err := restarted.Chat(context.Background(), ChatRequest{Message: distress, UserID: "bob"})
	require.NoError(t, err)
	assert.Equal(t, "crisis", resp.AlertFlag)
	assert.GreaterOrEqual(t, mood(t, resp), mood(t, last)-1)

	s, ok := restarted.sessions.Get("bob")
	require.True(t, ok)
	got, ok := s.detector.Last()
	require.True(t, ok)
	assert.Equal(t, stage.Depression, got)
	assert.Len(t, s.detector.History(), 10)
}

func TestHydrationDecaysOverElapsedTime(t *testing.T) {
	f := newFixture(t)
	var last *ChatResponse
	for i := 0; i < 10; i++ {
		last = f.chat(t, "bob", distress)
	}

	f.clock.Advance(72 * time.Hour)
	restarted, err := New(f.mgr, testConfig(), WithClock(f.clock.Now))
	require.NoError(t, err)
	resp, err := restarted.Chat(context.Background(), ChatRequest{Message: "hello", UserID: "bob"})
	require.NoError(t, err)
	assert.Less(t, mood(t, resp), mood(t, last)-20)
}

func TestGeneratorFallback(t *testing.T) {
	f := newFixture(t, WithGenerator(llm.ClientGenerator{Client: &llm.MockClient{Err: errors.New("connection refused")}}))
	resp := f.chat(t, "erin", "I can't believe it")
	assert.Contains(t, resp.Response, "你的伴侣")
}

func TestGeneratorReply(t *testing.T) {
	mock := &llm.MockClient{Response: &llm.Response{Content: "I'm here with you."}}
	f := newFixture(t, WithGenerator(llm.ClientGenerator{Client: mock}))

	resp, err := f.eng.Chat(context.Background(), ChatRequest{Message: "I miss my dog", UserID: "finn", UserType: Pet})
	require.NoError(t, err)
	assert.Equal(t, "I'm here with you.", resp.Response)

	calls := mock.Calls()
	require.Len(t, calls, 1)
	assert.Contains(t, calls[0], "their pet")
	assert.Contains(t, calls[0], "I miss my dog")

	summary, err := f.eng.InteractionSummary(context.Background(), "finn", 5)
	require.NoError(t, err)
	require.Len(t, summary, 1)
	assert.Equal(t, "I'm here with you.", summary[0].BotResponse)
}

func TestPersistenceFailureKeepsMood(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.store.broken.Store(true)
	_, err := f.eng.Chat(ctx, ChatRequest{Message: distress, UserID: "gus"})
	require.Error(t, err)
	assert.ErrorIs(t, err, apierr.ErrPersistence)
	assert.Equal(t, 500, apierr.StatusOf(err))

	f.store.broken.Store(false)
	resp := f.chat(t, "gus", distress)
	assert.Greater(t, mood(t, resp), 45.0)

	stats, err := f.eng.Statistics(ctx, "gus")
	require.NoError(t, err)
	assert.Equal(t, 1, stats.TotalInteractions)
}

func TestAnalyticsPassThrough(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.chat(t, "hana", "I can't believe it")
	f.chat(t, "hana", "this is so unfair, I hate it")
	f.chat(t, "hana", "I accept it now, I feel peace")

	hist, err := f.eng.EmotionHistory(ctx, "hana", userstate.DefaultHistoryDays)
	require.NoError(t, err)
	assert.Len(t, hist, 3)

	traj, err := f.eng.StageTrajectory(ctx, "hana", 2)
	require.NoError(t, err)
	require.Len(t, traj, 2)
	assert.Equal(t, stage.Acceptance, traj[1].Stage)

	a, err := f.eng.StageAnalysis(ctx, "hana")
	require.NoError(t, err)
	assert.Equal(t, "33.33%", a.AcceptanceRatio)
	assert.Equal(t, "acceptance", a.CurrentStage)

	o, err := f.eng.Overview(ctx, "hana")
	require.NoError(t, err)
	assert.Equal(t, 3, o.Statistics.TotalInteractions)

	_, err = f.eng.EmotionHistory(ctx, "hana", 0)
	assert.ErrorIs(t, err, apierr.ErrInvalidInput)
}

func TestStatus(t *testing.T) {
	f := newFixture(t)
	f.chat(t, "ivy", "hello")
	st := f.eng.Status(context.Background())
	assert.Equal(t, StatusRunning, st.Status)
	assert.True(t, st.BackendAvailable)
	assert.Equal(t, 1, st.ActiveUsers)
	assert.Equal(t, "test", st.Version)
	assert.Equal(t, "sqlite", st.Store)
	assert.Equal(t, "closed", st.Breaker)
	assert.True(t, f.eng.Available())
}

func TestNewValidates(t *testing.T) {
	f := newFixture(t)
	cfg := testConfig()
	cfg.Emotion.CrisisThreshold = cfg.Emotion.WarningThreshold
	_, err := New(f.mgr, cfg)
	assert.Error(t, err)

	_, err = New(nil, testConfig())
	assert.Error(t, err)
}
