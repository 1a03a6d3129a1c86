package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/lazypower/solace/internal/emotion"
	"github.com/lazypower/solace/internal/logger"
	"github.com/lazypower/solace/internal/stage"
	"github.com/lazypower/solace/internal/userstate"
)

// EnvPrefix prefixes every environment override, e.g. SOLACE_SERVER_PORT.
const EnvPrefix = "SOLACE"

// LLM providers.
const (
	ProviderTemplate  = "template"
	ProviderOllama    = "ollama"
	ProviderAnthropic = "anthropic"
	ProviderCommand   = "command"
)

// Storage drivers.
const (
	DriverSQLite = "sqlite"
	DriverRedis  = "redis"
)

// Config holds all solace configuration.
type Config struct {
	Server    ServerConfig     `mapstructure:"server" yaml:"server"`
	Database  DatabaseConfig   `mapstructure:"database" yaml:"database"`
	Redis     RedisConfig      `mapstructure:"redis" yaml:"redis"`
	LLM       LLMConfig        `mapstructure:"llm" yaml:"llm"`
	Engine    EngineConfig     `mapstructure:"engine" yaml:"engine"`
	Emotion   emotion.Config   `mapstructure:"emotion" yaml:"emotion"`
	Stage     stage.Config     `mapstructure:"stage" yaml:"stage"`
	State     userstate.Config `mapstructure:"state" yaml:"state"`
	RateLimit RateLimitConfig  `mapstructure:"rate_limit" yaml:"rate_limit"`
	Log       logger.Config    `mapstructure:"log" yaml:"log"`
}

type ServerConfig struct {
	Bind         string        `mapstructure:"bind" yaml:"bind"`
	Port         int           `mapstructure:"port" yaml:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
}

type DatabaseConfig struct {
	Driver string `mapstructure:"driver" yaml:"driver"` // "sqlite" or "redis"
	Path   string `mapstructure:"path" yaml:"path"`     // sqlite file; empty means ~/.solace/solace.db
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr" yaml:"addr"`
	Password string `mapstructure:"password" yaml:"password"`
	DB       int    `mapstructure:"db" yaml:"db"`
	Prefix   string `mapstructure:"prefix" yaml:"prefix"`
}

type LLMConfig struct {
	Provider     string        `mapstructure:"provider" yaml:"provider"` // "template", "ollama", "anthropic", "command"
	Model        string        `mapstructure:"model" yaml:"model"`
	OllamaURL    string        `mapstructure:"ollama_url" yaml:"ollama_url"`
	OllamaModel  string        `mapstructure:"ollama_model" yaml:"ollama_model"`
	AnthropicKey string        `mapstructure:"anthropic_key" yaml:"anthropic_key"`
	AnthropicURL string        `mapstructure:"anthropic_url" yaml:"anthropic_url"`
	Command      []string      `mapstructure:"command" yaml:"command"` // argv for the command provider
	Timeout      time.Duration `mapstructure:"timeout" yaml:"timeout"`
	Temperature  float64       `mapstructure:"temperature" yaml:"temperature"`
	MaxTokens    int           `mapstructure:"max_tokens" yaml:"max_tokens"`
}

type EngineConfig struct {
	// Shards is the number of independently locked partitions of the
	// session registry.
	Shards int `mapstructure:"shards" yaml:"shards"`
	// GenerateTimeout bounds one reply generation before the template
	// fallback is used.
	GenerateTimeout time.Duration `mapstructure:"generate_timeout" yaml:"generate_timeout"`
}

type RateLimitConfig struct {
	Enabled   bool    `mapstructure:"enabled" yaml:"enabled"`
	PerSecond float64 `mapstructure:"per_second" yaml:"per_second"` // per client IP
	Burst     int     `mapstructure:"burst" yaml:"burst"`
}

// Default returns a Config with sensible defaults.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Bind:         "127.0.0.1",
			Port:         37778,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 60 * time.Second,
		},
		Database: DatabaseConfig{
			Driver: DriverSQLite,
			Path:   "", // resolved at runtime via store.DefaultDBPath()
		},
		Redis: RedisConfig{
			Addr:   "127.0.0.1:6379",
			Prefix: "solace",
		},
		LLM: LLMConfig{
			Provider:    ProviderTemplate,
			OllamaURL:   "http://localhost:11434",
			OllamaModel: "llama3.2",
			Timeout:     30 * time.Second,
			Temperature: 0.7,
			MaxTokens:   512,
		},
		Engine: EngineConfig{
			Shards:          32,
			GenerateTimeout: 45 * time.Second,
		},
		Emotion: emotion.DefaultConfig(),
		Stage:   stage.DefaultConfig(),
		State:   userstate.DefaultConfig(),
		RateLimit: RateLimitConfig{
			Enabled:   true,
			PerSecond: 2,
			Burst:     5,
		},
		Log: logger.DefaultConfig(),
	}
}

// DefaultPath returns ~/.solace/config.yaml.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("get home dir: %w", err)
	}
	return filepath.Join(home, ".solace", "config.yaml"), nil
}

// Load layers defaults, the YAML file at path and SOLACE_* environment
// variables, in that order. An empty path reads DefaultPath if it exists.
// ANTHROPIC_API_KEY fills llm.anthropic_key when no other value is set.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	defaults, err := yaml.Marshal(Default())
	if err != nil {
		return Config{}, fmt.Errorf("encode defaults: %w", err)
	}
	if err := v.ReadConfig(bytes.NewReader(defaults)); err != nil {
		return Config{}, fmt.Errorf("read defaults: %w", err)
	}

	explicit := path != ""
	if !explicit {
		if p, err := DefaultPath(); err == nil {
			path = p
		}
	}
	if path != "" {
		if _, err := os.Stat(path); err == nil {
			v.SetConfigFile(path)
			if err := v.MergeInConfig(); err != nil {
				return Config{}, fmt.Errorf("read config %s: %w", path, err)
			}
		} else if explicit {
			return Config{}, fmt.Errorf("config file %s: %w", path, err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if cfg.LLM.AnthropicKey == "" {
		cfg.LLM.AnthropicKey = os.Getenv("ANTHROPIC_API_KEY")
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks cross-section invariants and each section's own rules.
func (c *Config) Validate() error {
	var errs []error
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server: port %d out of range", c.Server.Port))
	}
	switch c.Database.Driver {
	case DriverSQLite:
	case DriverRedis:
		if c.Redis.Addr == "" {
			errs = append(errs, errors.New("redis: addr is required for the redis driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("database: unknown driver %q", c.Database.Driver))
	}
	switch c.LLM.Provider {
	case ProviderTemplate, ProviderOllama, ProviderAnthropic, ProviderCommand:
	default:
		errs = append(errs, fmt.Errorf("llm: unknown provider %q", c.LLM.Provider))
	}
	if c.Engine.Shards <= 0 {
		errs = append(errs, errors.New("engine: shards must be positive"))
	}
	if c.RateLimit.Enabled && (c.RateLimit.PerSecond <= 0 || c.RateLimit.Burst <= 0) {
		errs = append(errs, errors.New("rate_limit: per_second and burst must be positive when enabled"))
	}
	if err := c.Emotion.Validate(); err != nil {
		errs = append(errs, err)
	}
	if err := c.Stage.Validate(); err != nil {
		errs = append(errs, err)
	}
	if c.Stage.MinMood != c.Emotion.MinMood || c.Stage.MaxMood != c.Emotion.MaxMood {
		errs = append(errs, errors.New("stage: mood range must match emotion.min_mood/max_mood"))
	}
	if err := c.State.Validate(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// ListenAddr returns the bind:port address string.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.Bind, c.Server.Port)
}

// WriteFile writes cfg as YAML to path, creating parent directories. The
// file may hold an API key, so it is created owner-only.
func WriteFile(path string, cfg Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}
