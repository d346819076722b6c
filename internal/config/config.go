// Package config loads gateway configuration from YAML and the environment.
//
// DESIGN: YAML is the source of truth; secrets stay out of it via
// ${VAR} / ${VAR:-default} references resolved at load time. Defaults are
// applied after parsing so a minimal file (or none at all) still yields a
// runnable configuration.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the full gateway configuration.
type Config struct {
	Server    ServerConfig              `yaml:"server"`
	Database  DatabaseConfig            `yaml:"database"`
	Redis     RedisConfig               `yaml:"redis"`
	RateLimit RateLimitConfig           `yaml:"rate_limit"`
	Plans     map[string]PlanConfig     `yaml:"plans"`
	Providers map[string]ProviderConfig `yaml:"providers"`
	Agents    AgentsConfig              `yaml:"agents"`
	Routing   RoutingConfig             `yaml:"routing"`
	Sweeper   SweeperConfig             `yaml:"sweeper"`
	Logging   LoggingConfig             `yaml:"logging"`
}

// ServerConfig contains HTTP server configuration.
type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// Address returns the server address string.
func (s *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// DatabaseConfig contains SQLite configuration.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// RedisConfig contains the connection settings for the redis rate limiter
// backend. Ignored unless rate_limit.backend is "redis".
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// RateLimitConfig selects the counter backend.
type RateLimitConfig struct {
	Backend string `yaml:"backend"`
}

// PlanConfig holds the per-plan ceilings. Zero or negative values mean
// unlimited for rate and cost ceilings; a zero token budget means the
// organization cannot execute at all, so budgets should always be set
// explicitly.
type PlanConfig struct {
	OrgPerMinute   int     `yaml:"org_per_minute"`
	UserPerMinute  int     `yaml:"user_per_minute"`
	MonthlyTokens  int64   `yaml:"monthly_tokens"`
	MonthlyCostUSD float64 `yaml:"monthly_cost_usd"`
}

// ProviderConfig holds the connection settings for one provider adapter.
type ProviderConfig struct {
	APIKey  string  `yaml:"api_key"`
	BaseURL string  `yaml:"base_url"`
	Region  string  `yaml:"region"`
	MaxRPS  float64 `yaml:"max_rps"`
}

// AgentsConfig points at the agent catalog.
type AgentsConfig struct {
	File string `yaml:"file"`
}

// RoutingConfig tunes route selection. EconomyModels maps a provider name
// to the model substituted for basic-tier callers.
type RoutingConfig struct {
	EconomyModels map[string]string `yaml:"economy_models"`
}

// DefaultEconomyModels returns the compiled-in basic-tier substitutions.
func DefaultEconomyModels() map[string]string {
	return map[string]string{
		"anthropic": "claude-haiku-4-5",
		"openai":    "gpt-4o-mini",
		"bedrock":   "anthropic.claude-haiku-4-5-v1:0",
	}
}

// SweeperConfig tunes the background maintenance loop.
type SweeperConfig struct {
	Interval       time.Duration `yaml:"interval"`
	ReservationTTL time.Duration `yaml:"reservation_ttl"`
}

// LoggingConfig contains logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads configuration from a YAML file. A missing file is not an
// error; defaults apply.
func Load(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if os.IsNotExist(err) {
		data = nil
	} else if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return LoadFromBytes(data)
}

// LoadFromBytes parses configuration from raw YAML.
func LoadFromBytes(data []byte) (*Config, error) {
	var cfg Config
	if len(data) > 0 {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	cfg.applyDefaults()
	cfg.resolveEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// DefaultPlans returns the built-in plan ceilings, used when the config
// file doesn't define its own.
func DefaultPlans() map[string]PlanConfig {
	return map[string]PlanConfig{
		PlanBasic:      {OrgPerMinute: 60, UserPerMinute: 20, MonthlyTokens: 1_000_000, MonthlyCostUSD: 10},
		PlanPro:        {OrgPerMinute: 300, UserPerMinute: 60, MonthlyTokens: 10_000_000, MonthlyCostUSD: 100},
		PlanEnterprise: {OrgPerMinute: 1200, UserPerMinute: 240, MonthlyTokens: 100_000_000, MonthlyCostUSD: 1000},
	}
}

func (c *Config) applyDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = DefaultServerHost
	}
	if c.Server.Port == 0 {
		c.Server.Port = DefaultServerPort
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = DefaultReadTimeout
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = DefaultWriteTimeout
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = DefaultShutdownTimeout
	}
	if c.Database.Path == "" {
		c.Database.Path = DefaultDatabasePath
	}
	if c.RateLimit.Backend == "" {
		c.RateLimit.Backend = DefaultRateLimitBackend
	}
	if len(c.Plans) == 0 {
		c.Plans = DefaultPlans()
	}
	if c.Agents.File == "" {
		c.Agents.File = DefaultAgentsFile
	}
	if len(c.Routing.EconomyModels) == 0 {
		c.Routing.EconomyModels = DefaultEconomyModels()
	}
	if c.Sweeper.Interval == 0 {
		c.Sweeper.Interval = DefaultSweepInterval
	}
	if c.Sweeper.ReservationTTL == 0 {
		c.Sweeper.ReservationTTL = DefaultReservationTTL
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "auto"
	}
}

// resolveEnv expands ${VAR:-default} references in the string fields that
// commonly carry secrets or deployment-specific values.
func (c *Config) resolveEnv() {
	c.Database.Path = resolveEnvVar(c.Database.Path)
	c.Redis.Addr = resolveEnvVar(c.Redis.Addr)
	c.Redis.Password = resolveEnvVar(c.Redis.Password)
	c.Agents.File = resolveEnvVar(c.Agents.File)
	for name, p := range c.Providers {
		p.APIKey = resolveEnvVar(p.APIKey)
		p.BaseURL = resolveEnvVar(p.BaseURL)
		p.Region = resolveEnvVar(p.Region)
		c.Providers[name] = p
	}
}

// Validate rejects configurations that cannot run.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("config: invalid server port %d", c.Server.Port)
	}
	switch c.RateLimit.Backend {
	case BackendMemory, BackendSQLite, BackendRedis:
	default:
		return fmt.Errorf("config: unknown rate limit backend %q (want %s, %s or %s)",
			c.RateLimit.Backend, BackendMemory, BackendSQLite, BackendRedis)
	}
	if c.RateLimit.Backend == BackendRedis && c.Redis.Addr == "" {
		return fmt.Errorf("config: rate limit backend %q requires redis.addr", BackendRedis)
	}
	for name, plan := range c.Plans {
		if plan.MonthlyTokens < 0 {
			return fmt.Errorf("config: plan %q has negative monthly_tokens", name)
		}
	}
	return nil
}

// resolveEnvVar expands ${VAR:-default} syntax in config values.
func resolveEnvVar(value string) string {
	if !strings.HasPrefix(value, "${") || !strings.HasSuffix(value, "}") {
		return value
	}

	// Parse ${VAR:-default} or ${VAR}
	content := strings.TrimPrefix(value, "${")
	content = strings.TrimSuffix(content, "}")

	var varName, defaultVal string
	if idx := strings.Index(content, ":-"); idx != -1 {
		varName = content[:idx]
		defaultVal = content[idx+2:]
	} else {
		varName = content
	}

	if envVal := os.Getenv(varName); envVal != "" {
		return envVal
	}
	return defaultVal
}
