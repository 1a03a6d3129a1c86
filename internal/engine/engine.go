// Package engine runs the per-user conversation loop: classify the grief
// stage, advance the mood index, generate a reply and persist the turn.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/lazypower/solace/internal/emotion"
	"github.com/lazypower/solace/internal/llm"
	"github.com/lazypower/solace/internal/logger"
	"github.com/lazypower/solace/internal/metrics"
	"github.com/lazypower/solace/internal/stage"
	"github.com/lazypower/solace/internal/store"
	"github.com/lazypower/solace/internal/userstate"
)

// Config holds the model constants and engine limits.
type Config struct {
	Emotion emotion.Config
	Stage   stage.Config
	// Shards partitions the session registry.
	Shards int
	// GenerateTimeout bounds one reply generation; 0 means no bound beyond
	// the request context.
	GenerateTimeout time.Duration
}

// Option customizes an Engine.
type Option func(*Engine)

// WithGenerator sets the reply generator; the default uses templates.
func WithGenerator(g llm.Generator) Option {
	return func(e *Engine) { e.gen = g }
}

// WithLogger sets the logger; the default discards.
func WithLogger(l *logger.Logger) Option {
	return func(e *Engine) { e.log = l }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithClock sets the clock shared by every session's calculator and
// detector.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithVersion sets the version reported by Status.
func WithVersion(v string) Option {
	return func(e *Engine) { e.version = v }
}

// session is one user's numeric state. mu serializes the whole
// update-generate-record cycle of that user so persisted turns keep the
// order in which the mood was updated.
type session struct {
	mu       sync.Mutex
	calc     *emotion.Calculator
	detector *stage.Detector
	loaded   bool
}

// Engine implements Service over a userstate.Manager. It is safe for
// concurrent use.
type Engine struct {
	state    *userstate.Manager
	cfg      Config
	gen      llm.Generator
	sessions *Registry[*session]
	log      *logger.Logger
	metrics  *metrics.Metrics
	now      func() time.Time
	version  string
}

// New creates an Engine. The manager and its store are owned by the caller.
func New(state *userstate.Manager, cfg Config, opts ...Option) (*Engine, error) {
	if state == nil {
		return nil, errors.New("engine: nil state manager")
	}
	if err := cfg.Emotion.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.Stage.Validate(); err != nil {
		return nil, err
	}
	e := &Engine{
		state:    state,
		cfg:      cfg,
		gen:      llm.TemplateGenerator{},
		sessions: NewRegistry[*session](cfg.Shards),
		log:      logger.Nop(),
		now:      time.Now,
		version:  "dev",
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// State returns the underlying manager.
func (e *Engine) State() *userstate.Manager { return e.state }

func (e *Engine) Available() bool { return true }

// ActiveSessions returns the number of users with an in-memory session.
func (e *Engine) ActiveSessions() int { return e.sessions.Len() }

func (e *Engine) session(userID string) (*session, error) {
	s, created, err := e.sessions.GetOrCreate(userID, func() (*session, error) {
		calc, err := emotion.NewCalculator(e.cfg.Emotion, emotion.WithClock(e.now))
		if err != nil {
			return nil, err
		}
		det, err := stage.NewDetector(e.cfg.Stage, stage.WithClock(e.now))
		if err != nil {
			return nil, err
		}
		return &session{calc: calc, detector: det}, nil
	})
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	if created {
		e.metrics.SetActiveSessions(e.sessions.Len())
	}
	return s, nil
}

// hydrate restores the numeric state and stage window from the store the
// first time a session is used. Must be called with s.mu held.
func (e *Engine) hydrate(ctx context.Context, userID string, s *session) error {
	if s.loaded {
		return nil
	}
	latest, err := e.state.LatestEmotion(ctx, userID)
	if err != nil {
		return err
	}
	if latest != nil {
		s.calc.Restore(emotion.State{Mood: latest.Mood, Bias: latest.Bias, LastUpdate: latest.Timestamp})
	}

	recent, err := e.state.StageTrajectory(ctx, userID, e.cfg.Stage.WindowSize)
	if err != nil {
		return err
	}
	samples := make([]stage.Sample, 0, len(recent))
	for _, r := range recent {
		samples = append(samples, stage.Sample{Timestamp: r.Timestamp, Stage: r.Stage, Confidence: r.Confidence})
	}
	s.detector.Seed(samples)

	s.loaded = true
	if latest != nil || len(samples) > 0 {
		e.log.Debug("session hydrated", "user_id", userID, "mood", s.calc.Mood(), "window", len(samples))
	}
	return nil
}

// Chat processes one message. An invalid request fails before any state is
// touched. If persisting the turn fails the in-memory mood is kept and the
// persistence error is returned.
func (e *Engine) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	if err := req.normalize(); err != nil {
		return nil, err
	}
	start := time.Now()

	s, err := e.session(req.UserID)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := e.hydrate(ctx, req.UserID, s); err != nil {
		return nil, err
	}

	res := s.detector.Analyze(req.Message, s.calc.Mood())
	mood := s.calc.Update(req.Message, res.Stage, res.Confidence)
	alert := s.calc.Alert()

	reply := e.generate(ctx, llm.Request{
		UserID:     req.UserID,
		Message:    req.Message,
		UserType:   string(req.UserType),
		Stage:      res.Stage,
		Confidence: res.Confidence,
		Mood:       mood,
		Alert:      alert,
	})

	batchID, err := e.state.RecordTurn(ctx, req.UserID, userstate.Turn{
		Timestamp:  e.now(),
		Message:    req.Message,
		Response:   reply,
		Stage:      res.Stage,
		Confidence: res.Confidence,
		Densities:  res.Densities,
		Mood:       mood,
		Bias:       s.calc.Bias(),
		Alert:      alert,
	})
	if err != nil {
		return nil, err
	}

	e.metrics.ObserveMessage(string(res.Stage), mood, time.Since(start))
	if alert != emotion.AlertNone {
		e.metrics.IncAlert(string(alert))
		e.log.Warn("mood alert", "user_id", req.UserID, "kind", string(alert), "mood", mood, "batch_id", batchID)
	}

	label := res.Stage.Label()
	return &ChatResponse{
		Response:        reply,
		StageInfo:       label,
		MoodIndex:       fmt.Sprintf("%.1f", mood),
		Confidence:      fmt.Sprintf("%.2f", res.Confidence),
		EmotionAnalysis: fmt.Sprintf("当前心情指数: %.1f, 阶段: %s", mood, label),
		AlertFlag:       string(alert),
		UserType:        string(req.UserType),
		BatchID:         batchID,
	}, nil
}

// generate asks the configured generator for a reply and falls back to the
// stage template on any failure.
func (e *Engine) generate(ctx context.Context, r llm.Request) string {
	if e.cfg.GenerateTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.cfg.GenerateTimeout)
		defer cancel()
	}
	text, err := e.gen.Generate(ctx, r)
	if err == nil {
		return text
	}
	e.metrics.IncGeneratorFallback()
	e.log.Warn("reply generation failed, using template", "user_id", r.UserID, "stage", string(r.Stage), "error", err)
	return llm.Template(r)
}

// Reset starts a new conversation for the user: the mood and bias return to
// neutral and the stage window is cleared. Persisted history is kept and a
// reset marker is recorded so a later hydration resumes from neutral.
func (e *Engine) Reset(ctx context.Context, userID string) error {
	id, err := normalizeUserID(userID)
	if err != nil {
		return err
	}
	s, err := e.session(id)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.calc.Reset()
	s.detector.ClearWindow()
	s.loaded = true
	if err := e.state.RecordReset(ctx, id, s.calc.Mood()); err != nil {
		return err
	}
	e.log.Info("conversation reset", "user_id", id)
	return nil
}

func (e *Engine) Statistics(ctx context.Context, userID string) (*store.Statistics, error) {
	return e.state.Statistics(ctx, userID)
}

func (e *Engine) EmotionHistory(ctx context.Context, userID string, days int) ([]store.EmotionSample, error) {
	return e.state.EmotionHistory(ctx, userID, days)
}

func (e *Engine) StageTrajectory(ctx context.Context, userID string, limit int) ([]store.StageSample, error) {
	return e.state.StageTrajectory(ctx, userID, limit)
}

func (e *Engine) InteractionSummary(ctx context.Context, userID string, limit int) ([]store.Interaction, error) {
	return e.state.InteractionSummary(ctx, userID, limit)
}

func (e *Engine) StageAnalysis(ctx context.Context, userID string) (*userstate.StageAnalysis, error) {
	return e.state.StageAnalysis(ctx, userID)
}

func (e *Engine) Overview(ctx context.Context, userID string) (*userstate.Overview, error) {
	return e.state.Overview(ctx, userID)
}

// Status reports running while the store answers a ping, limited
// otherwise.
func (e *Engine) Status(ctx context.Context) Status {
	st := Status{
		Status:           StatusRunning,
		Version:          e.version,
		Timestamp:        e.now(),
		ActiveUsers:      e.sessions.Len(),
		BackendAvailable: true,
		Message:          runningMessage,
		Store:            e.state.Store().Kind(),
		Breaker:          e.state.BreakerState(),
	}
	if err := e.state.Ping(ctx); err != nil {
		e.log.Warn("store ping failed", "error", err)
		st.Status = StatusLimited
		st.BackendAvailable = false
		st.Message = limitedMessage
	}
	return st
}

var (
	_ Service = (*Engine)(nil)
	_ Service = (*Offline)(nil)
)
