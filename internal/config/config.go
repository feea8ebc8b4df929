package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/shre-db/linked-squad/go/assistant/internal/agents"
	"github.com/shre-db/linked-squad/go/assistant/internal/db"
	"github.com/shre-db/linked-squad/go/assistant/internal/llm"
	"github.com/shre-db/linked-squad/go/assistant/internal/session"
	"github.com/shre-db/linked-squad/go/assistant/internal/tracing"
)

const (
	envPrefix        = "ASSISTANT"
	configName       = "assistant"
	defaultConfigDir = "./config"
)

// Config is the full service configuration.
type Config struct {
	Environment string `mapstructure:"environment"`
	LogLevel    string `mapstructure:"log_level"`

	Server    ServerConfig    `mapstructure:"server"`
	LLM       llm.Options     `mapstructure:"llm"`
	Agents    agents.Config   `mapstructure:"agents"`
	Session   session.Config  `mapstructure:"session"`
	Database  db.Config       `mapstructure:"database"`
	Profiles  ProfilesConfig  `mapstructure:"profiles"`
	RateLimit RateLimitConfig `mapstructure:"ratelimit"`
	Tracing   tracing.Config  `mapstructure:"tracing"`
}

type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	AdminPort       int           `mapstructure:"admin_port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	AllowedOrigins  []string      `mapstructure:"allowed_origins"`
}

type ProfilesConfig struct {
	Dir   string `mapstructure:"dir"`
	Watch bool   `mapstructure:"watch"`
}

// RateLimitConfig bounds requests per client IP in a fixed window.
type RateLimitConfig struct {
	Enabled   bool          `mapstructure:"enabled"`
	RedisAddr string        `mapstructure:"redis_addr"`
	Requests  int           `mapstructure:"requests"`
	Window    time.Duration `mapstructure:"window"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", "development")
	v.SetDefault("log_level", "info")

	v.SetDefault("server.port", 8080)
	v.SetDefault("server.admin_port", 2112)
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 120*time.Second)
	v.SetDefault("server.shutdown_timeout", 15*time.Second)
	v.SetDefault("server.allowed_origins", []string{})

	v.SetDefault("llm.provider", "http")
	v.SetDefault("llm.base_url", "http://localhost:8000")
	v.SetDefault("llm.api_key", "")
	v.SetDefault("llm.model", "")
	v.SetDefault("llm.agent_id", "linkedin-assistant")
	v.SetDefault("llm.max_tokens", 2048)
	v.SetDefault("llm.timeout", 60*time.Second)
	v.SetDefault("llm.rate_limit", 0)
	v.SetDefault("llm.burst", 1)

	ad := agents.DefaultConfig()
	v.SetDefault("agents.temperature", ad.Temperature)
	v.SetDefault("agents.router_temperature", ad.RouterTemperature)
	v.SetDefault("agents.analyzer_retries", ad.AnalyzerRetries)

	v.SetDefault("session.backend", "memory")
	v.SetDefault("session.redis_addr", "localhost:6379")
	v.SetDefault("session.redis_password", "")
	v.SetDefault("session.redis_db", 0)
	v.SetDefault("session.sqlite_path", "")
	v.SetDefault("session.ttl", 24*time.Hour)
	v.SetDefault("session.cache_size", 1000)

	v.SetDefault("database.enabled", false)
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "assistant")
	v.SetDefault("database.password", "")
	v.SetDefault("database.database", "assistant")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.max_connections", 25)
	v.SetDefault("database.idle_connections", 5)
	v.SetDefault("database.max_lifetime", 5*time.Minute)
	v.SetDefault("database.workers", 4)
	v.SetDefault("database.queue_size", 1000)

	v.SetDefault("profiles.dir", "./profiles")
	v.SetDefault("profiles.watch", true)

	v.SetDefault("ratelimit.enabled", false)
	v.SetDefault("ratelimit.redis_addr", "localhost:6379")
	v.SetDefault("ratelimit.requests", 60)
	v.SetDefault("ratelimit.window", time.Minute)

	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.service_name", "linkedin-assistant")
	v.SetDefault("tracing.otlp_endpoint", "localhost:4317")
	v.SetDefault("tracing.insecure", true)
	v.SetDefault("tracing.sample_ratio", 1.0)
}

// Load reads assistant.yaml from CONFIG_PATH (a directory or a file, default
// ./config) and applies ASSISTANT_* environment overrides. A missing file is
// not an error.
func Load() (*Config, error) {
	cfgPath := os.Getenv("CONFIG_PATH")
	if cfgPath == "" {
		cfgPath = defaultConfigDir
	}
	return LoadFromPath(cfgPath)
}

// LoadFromPath loads configuration from a directory holding assistant.yaml or
// from an explicit file.
func LoadFromPath(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if info, err := os.Stat(path); err == nil && !info.IsDir() {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName(configName)
		v.SetConfigType("yaml")
		v.AddConfigPath(path)
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config %s: %w", filepath.Clean(path), err)
		}
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	_ = v.BindEnv("llm.api_key", "ASSISTANT_LLM_API_KEY", "ANTHROPIC_API_KEY")
	_ = v.BindEnv("log_level", "ASSISTANT_LOG_LEVEL", "LOG_LEVEL")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.LLM.APIKey = os.ExpandEnv(cfg.LLM.APIKey)
	cfg.Database.Password = os.ExpandEnv(cfg.Database.Password)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

var validLogLevels = map[string]bool{"debug": true, "info": true, "warn": true, "error": true}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	var problems []string

	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		problems = append(problems, fmt.Sprintf("log_level %q is not one of debug, info, warn, error", c.LogLevel))
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		problems = append(problems, fmt.Sprintf("server.port %d out of range", c.Server.Port))
	}
	if c.Server.AdminPort < 0 || c.Server.AdminPort > 65535 || (c.Server.AdminPort != 0 && c.Server.AdminPort == c.Server.Port) {
		problems = append(problems, fmt.Sprintf("server.admin_port %d is invalid", c.Server.AdminPort))
	}
	switch strings.ToLower(c.Session.Backend) {
	case "", "memory", "redis", "sqlite":
	default:
		problems = append(problems, fmt.Sprintf("session.backend %q is not one of memory, redis, sqlite", c.Session.Backend))
	}
	if strings.EqualFold(c.Session.Backend, "sqlite") && c.Session.SQLitePath == "" {
		problems = append(problems, "session.sqlite_path is required for the sqlite backend")
	}
	if c.Agents.AnalyzerRetries < 0 {
		problems = append(problems, "agents.analyzer_retries must not be negative")
	}
	if c.Database.Enabled && c.Database.Host == "" {
		problems = append(problems, "database.host is required when the turn log is enabled")
	}
	if c.RateLimit.Enabled && (c.RateLimit.Requests <= 0 || c.RateLimit.Window <= 0) {
		problems = append(problems, "ratelimit.requests and ratelimit.window must be positive")
	}
	if c.Tracing.SampleRatio < 0 || c.Tracing.SampleRatio > 1 {
		problems = append(problems, fmt.Sprintf("tracing.sample_ratio %v must be between 0 and 1", c.Tracing.SampleRatio))
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
	}
	return nil
}
