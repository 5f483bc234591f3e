package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/danielpatrickdp/adaptive-rehab/go-controller/internal/policy"
	"github.com/danielpatrickdp/adaptive-rehab/go-controller/internal/safety"
)

// #region types
// Config is the controller's file-backed configuration.
type Config struct {
	Service    ServiceConfig             `yaml:"service"`
	Engine     EngineConfig              `yaml:"engine"`
	Safety     SafetyConfig              `yaml:"safety"`
	Policies   map[string]map[string]any `yaml:"policies"`
	Checkpoint CheckpointConfig          `yaml:"checkpoint"`
	Telemetry  TelemetryConfig           `yaml:"telemetry"`
}

type ServiceConfig struct {
	Addr     string `yaml:"addr"`
	LogMode  string `yaml:"log_mode"`
	LogLevel string `yaml:"log_level"`
}

type EngineConfig struct {
	HistoryLimit int `yaml:"history_limit"`
}

type SafetyConfig struct {
	DifficultyMin float64 `yaml:"difficulty_min"`
	DifficultyMax float64 `yaml:"difficulty_max"`
	MaxStep       float64 `yaml:"max_step"`
	MinConfidence float64 `yaml:"min_confidence"`
}

// CheckpointConfig selects the byte store behind save/load.
// Backend is one of sqlite, file, redis, memory.
type CheckpointConfig struct {
	Backend     string `yaml:"backend"`
	Path        string `yaml:"path"` // sqlite database file
	Dir         string `yaml:"dir"`  // file backend root
	RedisAddr   string `yaml:"redis_addr"`
	RedisPrefix string `yaml:"redis_prefix"`
}

type TelemetryConfig struct {
	Buffer       int    `yaml:"buffer"`
	Log          bool   `yaml:"log"`
	SQLitePath   string `yaml:"sqlite_path"`
	RedisAddr    string `yaml:"redis_addr"`
	RedisChannel string `yaml:"redis_channel"`
}

// #endregion types

// #region defaults
// Default returns a configuration that serves on localhost with SQLite checkpoints.
func Default() Config {
	b := safety.DefaultBounds()
	return Config{
		Service: ServiceConfig{
			Addr:     "localhost:50061",
			LogMode:  "development",
			LogLevel: "info",
		},
		Engine: EngineConfig{HistoryLimit: 50},
		Safety: SafetyConfig{
			DifficultyMin: b.DifficultyMin,
			DifficultyMax: b.DifficultyMax,
			MaxStep:       b.MaxStep,
			MinConfidence: b.MinConfidence,
		},
		Policies: map[string]map[string]any{},
		Checkpoint: CheckpointConfig{
			Backend:     "sqlite",
			Path:        "adaptrehab.db",
			Dir:         "checkpoints",
			RedisPrefix: "adaptrehab:ckpt:",
		},
		Telemetry: TelemetryConfig{
			Buffer: 1024,
			Log:    true,
		},
	}
}

// #endregion defaults

// #region load
// Load reads path over the defaults, applies environment overrides and validates.
// An empty path yields the defaults plus environment.
func Load(path string) (Config, error) {
	if path == "" {
		c := Default()
		c.ApplyEnv(os.Getenv)
		return c, c.Validate()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	c, err := Parse(data)
	if err != nil {
		return Config{}, err
	}
	c.ApplyEnv(os.Getenv)
	return c, c.Validate()
}

// Parse decodes YAML over the defaults without consulting the environment.
func Parse(data []byte) (Config, error) {
	c := Default()
	if err := yaml.Unmarshal(data, &c); err != nil {
		return Config{}, fmt.Errorf("parse config yaml: %w", err)
	}
	return c, nil
}

// ApplyEnv overrides selected fields from the environment.
func (c *Config) ApplyEnv(getenv func(string) string) {
	envOr := func(key, fallback string) string {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			return v
		}
		return fallback
	}
	c.Service.Addr = envOr("ADAPT_ADDR", c.Service.Addr)
	c.Service.LogMode = envOr("ADAPT_LOG_MODE", c.Service.LogMode)
	c.Service.LogLevel = envOr("ADAPT_LOG_LEVEL", c.Service.LogLevel)
	c.Checkpoint.Path = envOr("ADAPT_CHECKPOINT_PATH", c.Checkpoint.Path)
	c.Checkpoint.Backend = envOr("ADAPT_CHECKPOINT_BACKEND", c.Checkpoint.Backend)
	if addr := envOr("REDIS_ADDR", ""); addr != "" {
		if c.Checkpoint.RedisAddr == "" {
			c.Checkpoint.RedisAddr = addr
		}
		if c.Telemetry.RedisAddr == "" {
			c.Telemetry.RedisAddr = addr
		}
	}
}

// #endregion load

// #region validate
// Validate checks cross-field constraints.
func (c Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Service.Addr) == "" {
		errs = append(errs, errors.New("service.addr is required"))
	}
	if c.Engine.HistoryLimit < 1 {
		errs = append(errs, fmt.Errorf("engine.history_limit must be positive, got %d", c.Engine.HistoryLimit))
	}
	if err := c.Bounds().Validate(); err != nil {
		errs = append(errs, fmt.Errorf("safety: %w", err))
	}
	switch c.Checkpoint.Backend {
	case "sqlite":
		if c.Checkpoint.Path == "" {
			errs = append(errs, errors.New("checkpoint.path is required for the sqlite backend"))
		}
	case "file":
		if c.Checkpoint.Dir == "" {
			errs = append(errs, errors.New("checkpoint.dir is required for the file backend"))
		}
	case "redis":
		if c.Checkpoint.RedisAddr == "" {
			errs = append(errs, errors.New("checkpoint.redis_addr is required for the redis backend"))
		}
	case "memory":
	default:
		errs = append(errs, fmt.Errorf("unknown checkpoint backend %q", c.Checkpoint.Backend))
	}
	if c.Telemetry.Buffer < 1 {
		errs = append(errs, fmt.Errorf("telemetry.buffer must be positive, got %d", c.Telemetry.Buffer))
	}
	reg := policy.DefaultRegistry()
	for name := range c.Policies {
		if _, ok := reg.Canonical(name); !ok {
			errs = append(errs, fmt.Errorf("policies: unknown policy %q", name))
		}
	}
	return errors.Join(errs...)
}

// #endregion validate

// #region accessors
// Bounds converts the safety section.
func (c Config) Bounds() safety.Bounds {
	return safety.Bounds{
		DifficultyMin: c.Safety.DifficultyMin,
		DifficultyMax: c.Safety.DifficultyMax,
		MaxStep:       c.Safety.MaxStep,
		MinConfidence: c.Safety.MinConfidence,
	}
}

// PolicyDefaults returns per-policy default option maps keyed by canonical name.
func (c Config) PolicyDefaults() map[string]policy.Config {
	reg := policy.DefaultRegistry()
	out := make(map[string]policy.Config, len(c.Policies))
	for name, opts := range c.Policies {
		canon, ok := reg.Canonical(name)
		if !ok {
			continue
		}
		out[canon] = policy.Merge(out[canon], policy.Config(opts))
	}
	return out
}

// #endregion accessors
