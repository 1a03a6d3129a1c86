package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/lazypower/solace/internal/config"
	"github.com/lazypower/solace/internal/engine"
	"github.com/lazypower/solace/internal/llm"
	"github.com/lazypower/solace/internal/logger"
	"github.com/lazypower/solace/internal/metrics"
	"github.com/lazypower/solace/internal/store"
	"github.com/lazypower/solace/internal/userstate"
)

// stack is a locally assembled engine and the store it owns.
type stack struct {
	store  store.Store
	where  string
	state  *userstate.Manager
	engine *engine.Engine
}

type stackOptions struct {
	log     *logger.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

func loadConfig() (config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return config.Config{}, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func newLogger(cfg config.Config) (*logger.Logger, error) {
	log, err := logger.New(cfg.Log)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	return log, nil
}

// openStore opens the configured backend and describes where it lives.
func openStore(ctx context.Context, cfg config.Config) (store.Store, string, error) {
	if cfg.Database.Driver == config.DriverRedis {
		r, err := store.OpenRedis(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, cfg.Redis.Prefix)
		if err != nil {
			return nil, "", fmt.Errorf("open redis: %w", err)
		}
		return r, "redis://" + cfg.Redis.Addr, nil
	}

	dbPath := cfg.Database.Path
	if dbPath == "" {
		var err error
		dbPath, err = store.DefaultDBPath()
		if err != nil {
			return nil, "", fmt.Errorf("resolve db path: %w", err)
		}
	}
	db, err := store.Open(dbPath)
	if err != nil {
		return nil, "", fmt.Errorf("open database: %w", err)
	}
	return db, dbPath, nil
}

func engineConfig(cfg config.Config) engine.Config {
	return engine.Config{
		Emotion:         cfg.Emotion,
		Stage:           cfg.Stage,
		Shards:          cfg.Engine.Shards,
		GenerateTimeout: cfg.Engine.GenerateTimeout,
	}
}

// newGenerator falls back to the templates when the provider cannot be
// configured, so a missing API key never keeps the service down.
func newGenerator(cfg config.Config, log *logger.Logger) llm.Generator {
	gen, err := llm.NewGenerator(cfg.LLM)
	if err != nil {
		log.Warn("llm not configured, replying from templates", "provider", cfg.LLM.Provider, "error", err)
		return llm.TemplateGenerator{}
	}
	return gen
}

// buildStack opens the store and assembles the manager and engine over it.
// The caller closes the stack.
func buildStack(ctx context.Context, cfg config.Config, o stackOptions) (*stack, error) {
	if o.log == nil {
		o.log = logger.Nop()
	}
	st, where, err := openStore(ctx, cfg)
	if err != nil {
		return nil, err
	}

	stateOpts := []userstate.Option{userstate.WithLogger(o.log)}
	engOpts := []engine.Option{
		engine.WithLogger(o.log),
		engine.WithVersion(VersionString()),
		engine.WithGenerator(newGenerator(cfg, o.log)),
	}
	if o.metrics != nil {
		stateOpts = append(stateOpts, userstate.WithMetrics(o.metrics))
		engOpts = append(engOpts, engine.WithMetrics(o.metrics))
	}
	if o.now != nil {
		stateOpts = append(stateOpts, userstate.WithClock(o.now))
		engOpts = append(engOpts, engine.WithClock(o.now))
	}

	mgr, err := userstate.New(st, cfg.State, stateOpts...)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("state manager: %w", err)
	}
	eng, err := engine.New(mgr, engineConfig(cfg), engOpts...)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("engine: %w", err)
	}
	return &stack{store: st, where: where, state: mgr, engine: eng}, nil
}

func (s *stack) Close() error {
	return s.store.Close()
}
