package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Hermes   HermesConfig   `yaml:"hermes"`
	Registry RegistryConfig `yaml:"registry"`
	Sweeper  SweeperConfig  `yaml:"sweeper"`
	Logging  LoggingConfig  `yaml:"logging"`
}

type ServerConfig struct {
	Port            int    `yaml:"port"`
	MetricsPort     int    `yaml:"metrics_port"`
	AdminToken      string `yaml:"admin_token"`
	RateLimitPerMin int    `yaml:"rate_limit_per_min"`
}

type DatabaseConfig struct {
	URL string `yaml:"url"`
}

type HermesConfig struct {
	URL string `yaml:"url"`
}

// RegistryConfig points at the service that owns simple SLO definitions.
type RegistryConfig struct {
	URL   string `yaml:"url"`
	Token string `yaml:"token"`
}

type SweeperConfig struct {
	Enabled    bool `yaml:"enabled"`
	IntervalMs int  `yaml:"interval_ms"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

func (c *Config) SweepInterval() time.Duration {
	return time.Duration(c.Sweeper.IntervalMs) * time.Millisecond
}

// LogLevel maps the configured level name onto slog, defaulting to info.
func (c *Config) LogLevel() slog.Level {
	switch strings.ToLower(c.Logging.Level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func Load(path string) (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port:            8700,
			MetricsPort:     8701,
			RateLimitPerMin: 300,
		},
		Hermes: HermesConfig{
			URL: "nats://localhost:4222",
		},
		Registry: RegistryConfig{
			URL: "http://localhost:8710",
		},
		Sweeper: SweeperConfig{
			Enabled:    true,
			IntervalMs: 60000,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnv(cfg)
	if cfg.Sweeper.Enabled && cfg.Sweeper.IntervalMs <= 0 {
		return nil, fmt.Errorf("sweeper interval must be positive, got %dms", cfg.Sweeper.IntervalMs)
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("WEIGHTAGE_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = n
		}
	}
	if v := os.Getenv("WEIGHTAGE_METRICS_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Server.MetricsPort = n
		}
	}
	if v := os.Getenv("WEIGHTAGE_ADMIN_TOKEN"); v != "" {
		cfg.Server.AdminToken = v
	}
	if v := os.Getenv("WEIGHTAGE_RATE_LIMIT_PER_MIN"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Server.RateLimitPerMin = n
		}
	}
	if v := os.Getenv("WEIGHTAGE_DATABASE_URL"); v != "" {
		cfg.Database.URL = v
	}
	if v := os.Getenv("WEIGHTAGE_HERMES_URL"); v != "" {
		cfg.Hermes.URL = v
	}
	if v := os.Getenv("WEIGHTAGE_REGISTRY_URL"); v != "" {
		cfg.Registry.URL = v
	}
	if v := os.Getenv("WEIGHTAGE_REGISTRY_TOKEN"); v != "" {
		cfg.Registry.Token = v
	}
	if v := os.Getenv("WEIGHTAGE_SWEEPER_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Sweeper.Enabled = b
		}
	}
	if v := os.Getenv("WEIGHTAGE_SWEEP_INTERVAL_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Sweeper.IntervalMs = n
		}
	}
	if v := os.Getenv("WEIGHTAGE_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("WEIGHTAGE_LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
}
