// Package userstate records per-user conversation logs and answers the
// analytics queries over them. It sits on top of a store.Store and adds
// input validation, bounded write retries behind a circuit breaker, a
// statistics cache and request coalescing.
package userstate

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/sony/gobreaker"
	"golang.org/x/sync/singleflight"

	"github.com/lazypower/solace/internal/apierr"
	"github.com/lazypower/solace/internal/emotion"
	"github.com/lazypower/solace/internal/logger"
	"github.com/lazypower/solace/internal/metrics"
	"github.com/lazypower/solace/internal/stage"
	"github.com/lazypower/solace/internal/store"
)

// Config tunes write retries, the breaker and the statistics cache.
type Config struct {
	// WriteAttempts is the total number of tries for one batch, >= 1.
	WriteAttempts int `mapstructure:"write_attempts" yaml:"write_attempts"`
	// RetryDelay is the pause between attempts.
	RetryDelay time.Duration `mapstructure:"retry_delay" yaml:"retry_delay"`
	// BreakerFailures is the number of consecutive failed writes that opens
	// the breaker.
	BreakerFailures uint32 `mapstructure:"breaker_failures" yaml:"breaker_failures"`
	// BreakerCooldown is how long the breaker stays open.
	BreakerCooldown time.Duration `mapstructure:"breaker_cooldown" yaml:"breaker_cooldown"`
	// CacheSize bounds the number of cached statistics records; 0 disables
	// the cache.
	CacheSize int `mapstructure:"cache_size" yaml:"cache_size"`
}

func DefaultConfig() Config {
	return Config{
		WriteAttempts:   3,
		RetryDelay:      50 * time.Millisecond,
		BreakerFailures: 5,
		BreakerCooldown: 30 * time.Second,
		CacheSize:       1024,
	}
}

func (c Config) Validate() error {
	switch {
	case c.WriteAttempts < 1:
		return errors.New("state: write_attempts must be at least 1")
	case c.RetryDelay < 0:
		return errors.New("state: retry_delay must not be negative")
	case c.BreakerFailures < 1:
		return errors.New("state: breaker_failures must be at least 1")
	case c.CacheSize < 0:
		return errors.New("state: cache_size must not be negative")
	}
	return nil
}

// Option customizes a Manager.
type Option func(*Manager)

// WithClock sets the clock used for record timestamps and history windows.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithLogger sets the logger; the default discards.
func WithLogger(l *logger.Logger) Option {
	return func(m *Manager) { m.log = l }
}

// WithMetrics sets the metrics sink; the default records nothing.
func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Manager) { m.metrics = mt }
}

// Manager is safe for concurrent use.
type Manager struct {
	store   store.Store
	cfg     Config
	log     *logger.Logger
	metrics *metrics.Metrics
	now     func() time.Time

	breaker *gobreaker.CircuitBreaker
	cache   *lru.Cache[string, store.Statistics]
	// epoch advances on every successful write. A statistics read only
	// populates the cache if no write finished while it was in flight.
	epoch atomic.Uint64
	group singleflight.Group
}

// New wraps s. The store is owned by the caller.
func New(s store.Store, cfg Config, opts ...Option) (*Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	m := &Manager{
		store: s,
		cfg:   cfg,
		log:   logger.Nop(),
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}

	m.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "store-writes",
		MaxRequests: 1,
		Timeout:     cfg.BreakerCooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.BreakerFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			m.log.Warn("breaker state changed", "breaker", name, "from", from.String(), "to", to.String())
		},
	})

	if cfg.CacheSize > 0 {
		cache, err := lru.New[string, store.Statistics](cfg.CacheSize)
		if err != nil {
			return nil, fmt.Errorf("statistics cache: %w", err)
		}
		m.cache = cache
	}
	return m, nil
}

// Store returns the underlying store.
func (m *Manager) Store() store.Store { return m.store }

// BreakerState reports the write breaker state: closed, open or half-open.
func (m *Manager) BreakerState() string { return m.breaker.State().String() }

// Turn is everything one processed message produces.
type Turn struct {
	Timestamp  time.Time
	Message    string
	Response   string
	Stage      stage.Stage
	Confidence float64
	Densities  stage.Densities
	Mood       float64
	Bias       float64
	Alert      emotion.Alert
}

// RecordTurn persists the interaction, emotion sample, stage sample,
// keyword densities and any alert of one message as a single atomic batch
// and returns the batch id linking them.
func (m *Manager) RecordTurn(ctx context.Context, userID string, t Turn) (string, error) {
	if err := checkUser(userID); err != nil {
		return "", err
	}
	ts := m.stamp(t.Timestamp)
	b := store.Batch{
		ID: uuid.NewString(),
		Interaction: &store.Interaction{
			Timestamp:   ts,
			UserMessage: t.Message,
			BotResponse: t.Response,
			Stage:       t.Stage,
			Mood:        t.Mood,
		},
		Emotion: &store.EmotionSample{Timestamp: ts, Mood: t.Mood, Bias: t.Bias, Source: store.SourceMessage},
		Stage:   &store.StageSample{Timestamp: ts, Stage: t.Stage, Confidence: t.Confidence},
		Density: &store.DensitySample{Timestamp: ts, Densities: t.Densities},
	}
	if t.Alert != emotion.AlertNone {
		b.Alert = &store.Alert{Timestamp: ts, Kind: t.Alert, Mood: t.Mood}
	}
	if err := m.apply(ctx, "record_turn", userID, b); err != nil {
		return "", err
	}
	return b.ID, nil
}

// RecordInteraction appends one interaction.
func (m *Manager) RecordInteraction(ctx context.Context, userID, message, response string, st stage.Stage, mood float64) error {
	if err := checkUser(userID); err != nil {
		return err
	}
	if !st.Valid() {
		return apierr.Invalid("unknown stage %q", st)
	}
	return m.apply(ctx, "record_interaction", userID, store.Batch{
		Interaction: &store.Interaction{
			Timestamp:   m.now(),
			UserMessage: message,
			BotResponse: response,
			Stage:       st,
			Mood:        mood,
		},
	})
}

// RecordEmotionUpdate appends one mood sample.
func (m *Manager) RecordEmotionUpdate(ctx context.Context, userID string, mood, bias float64) error {
	if err := checkUser(userID); err != nil {
		return err
	}
	return m.apply(ctx, "record_emotion", userID, store.Batch{
		Emotion: &store.EmotionSample{Timestamp: m.now(), Mood: mood, Bias: bias, Source: store.SourceMessage},
	})
}

// RecordReset appends the neutral mood sample written when a conversation
// restarts, so a later hydration resumes from neutral.
func (m *Manager) RecordReset(ctx context.Context, userID string, mood float64) error {
	if err := checkUser(userID); err != nil {
		return err
	}
	return m.apply(ctx, "record_reset", userID, store.Batch{
		Emotion: &store.EmotionSample{Timestamp: m.now(), Mood: mood, Source: store.SourceReset},
	})
}

// RecordStageDetection appends one stage sample.
func (m *Manager) RecordStageDetection(ctx context.Context, userID string, st stage.Stage, confidence float64) error {
	if err := checkUser(userID); err != nil {
		return err
	}
	if !st.Valid() {
		return apierr.Invalid("unknown stage %q", st)
	}
	if confidence < 0 || confidence > 1 {
		return apierr.Invalid("confidence %v outside [0,1]", confidence)
	}
	return m.apply(ctx, "record_stage", userID, store.Batch{
		Stage: &store.StageSample{Timestamp: m.now(), Stage: st, Confidence: confidence},
	})
}

// RecordKeywordDensity appends one density sample.
func (m *Manager) RecordKeywordDensity(ctx context.Context, userID string, d stage.Densities) error {
	if err := checkUser(userID); err != nil {
		return err
	}
	return m.apply(ctx, "record_density", userID, store.Batch{
		Density: &store.DensitySample{Timestamp: m.now(), Densities: d},
	})
}

// RecordAlert appends one alert.
func (m *Manager) RecordAlert(ctx context.Context, userID string, kind emotion.Alert, mood float64) error {
	if err := checkUser(userID); err != nil {
		return err
	}
	if kind != emotion.AlertWarning && kind != emotion.AlertCrisis {
		return apierr.Invalid("unknown alert kind %q", kind)
	}
	return m.apply(ctx, "record_alert", userID, store.Batch{
		Alert: &store.Alert{Timestamp: m.now(), Kind: kind, Mood: mood},
	})
}

func (m *Manager) stamp(t time.Time) time.Time {
	if t.IsZero() {
		return m.now()
	}
	return t
}

// apply writes b with bounded retries through the breaker. A failure that
// survives every attempt is counted, logged and returned as a persistence
// error; it is never dropped silently.
func (m *Manager) apply(ctx context.Context, op, userID string, b store.Batch) error {
	if b.ID == "" {
		b.ID = uuid.NewString()
	}

	var (
		err      error
		attempts int
	)
retry:
	for attempts < m.cfg.WriteAttempts {
		if attempts > 0 {
			select {
			case <-ctx.Done():
				err = errors.Join(err, ctx.Err())
				break retry
			case <-time.After(m.cfg.RetryDelay):
			}
		}
		attempts++
		_, err = m.breaker.Execute(func() (interface{}, error) {
			return nil, m.store.Apply(ctx, userID, b)
		})
		if err == nil {
			m.invalidate(userID)
			return nil
		}
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			break
		}
	}

	m.metrics.IncPersistenceFailure(op)
	m.log.Error("persistence failed",
		"op", op,
		"user_id", userID,
		"batch_id", b.ID,
		"attempts", attempts,
		"breaker", m.breaker.State().String(),
		"error", err,
	)
	return apierr.Persistence(op, err)
}

func (m *Manager) invalidate(userID string) {
	m.epoch.Add(1)
	if m.cache != nil {
		m.cache.Remove(userID)
	}
}

func (m *Manager) readFailed(op, userID string, err error) error {
	m.metrics.IncPersistenceFailure(op)
	m.log.Error("store read failed", "op", op, "user_id", userID, "error", err)
	return apierr.Persistence(op, err)
}

func checkUser(userID string) error {
	if userID == "" {
		return apierr.Invalid("user id is required")
	}
	return nil
}
