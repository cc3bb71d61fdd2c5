// Package config loads the engine configuration from YAML with environment
// overrides. The file path comes from CONFIG_PATH, defaulting to
// ./config/engine.yaml.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"

	"github.com/contentive/orchestrator/internal/budget"
	"github.com/contentive/orchestrator/internal/circuitbreaker"
	"github.com/contentive/orchestrator/internal/engine"
	"github.com/contentive/orchestrator/internal/llm"
	"github.com/contentive/orchestrator/internal/models"
	"github.com/contentive/orchestrator/internal/safety"
	"github.com/contentive/orchestrator/internal/tracing"
)

// Config is the full engine configuration.
type Config struct {
	Server struct {
		Addr        string `mapstructure:"addr"`
		MetricsAddr string `mapstructure:"metrics_addr"`
		AuthToken   string `mapstructure:"auth_token"`
	} `mapstructure:"server"`

	Logging struct {
		Level  string `mapstructure:"level"`
		Format string `mapstructure:"format"`
	} `mapstructure:"logging"`

	Templates struct {
		Dir string `mapstructure:"dir"`
	} `mapstructure:"templates"`

	Pricing struct {
		Path string `mapstructure:"path"`
	} `mapstructure:"pricing"`

	Tiers map[string]llm.TierConfig `mapstructure:"tiers"`

	Engine engine.Config `mapstructure:"engine"`

	Budget budget.Config `mapstructure:"budget"`

	Breaker circuitbreaker.Config `mapstructure:"circuit_breaker"`

	Safety safety.Config `mapstructure:"safety"`

	Session struct {
		RedisAddr string        `mapstructure:"redis_addr"`
		TTL       time.Duration `mapstructure:"ttl"`
	} `mapstructure:"session"`

	Database struct {
		DSN string `mapstructure:"dsn"`
	} `mapstructure:"database"`

	Tracing tracing.Config `mapstructure:"tracing"`
}

// Load reads the configuration file and applies defaults.
func Load() (*Config, error) {
	path := os.Getenv("CONFIG_PATH")
	if path == "" {
		path = "./config/engine.yaml"
	}
	return LoadFile(path)
}

// LoadFile reads one specific configuration file.
func LoadFile(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config %s: %w", path, err)
	}

	applyEnvOverrides(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.metrics_addr", ":2112")
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("templates.dir", "./config/templates")
	v.SetDefault("pricing.path", "./config/models.yaml")
	v.SetDefault("engine.max_attempts", 3)
	v.SetDefault("engine.initial_backoff", "500ms")
	v.SetDefault("budget.default_limit", 500000)
	v.SetDefault("budget.period", "720h")
	v.SetDefault("session.ttl", "10m")
}

func applyEnvOverrides(cfg *Config) {
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		cfg.Session.RedisAddr = addr
	}
	if dsn := os.Getenv("DATABASE_URL"); dsn != "" {
		cfg.Database.DSN = dsn
	}
	if token := os.Getenv("API_AUTH_TOKEN"); token != "" {
		cfg.Server.AuthToken = token
	}
}

// Validate rejects configurations the engine cannot start with.
func (c *Config) Validate() error {
	if c.Templates.Dir == "" {
		return fmt.Errorf("templates.dir is required")
	}
	if len(c.Tiers) == 0 {
		return fmt.Errorf("at least one model tier must be configured")
	}
	for _, tier := range []string{models.TierLight, models.TierHeavy} {
		tc, ok := c.Tiers[tier]
		if !ok {
			return fmt.Errorf("tier %q is not configured", tier)
		}
		if tc.Provider == "" || tc.Model == "" {
			return fmt.Errorf("tier %q must name a provider and model", tier)
		}
	}
	if c.Engine.MaxAttempts < 1 || c.Engine.MaxAttempts > 5 {
		return fmt.Errorf("engine.max_attempts must be between 1 and 5, got %d", c.Engine.MaxAttempts)
	}
	if c.Budget.DefaultLimit <= 0 {
		return fmt.Errorf("budget.default_limit must be positive")
	}
	if c.Budget.DefaultCostLimit < 0 {
		return fmt.Errorf("budget.default_cost_limit must not be negative")
	}
	return nil
}
