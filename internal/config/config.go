package config

import (
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store    StoreConfig    `yaml:"store" mapstructure:"store"`
	Redis    RedisConfig    `yaml:"redis" mapstructure:"redis"`
	Server   ServerConfig   `yaml:"server" mapstructure:"server"`
	Log      LogConfig      `yaml:"log" mapstructure:"log"`
	Match    MatchConfig    `yaml:"match" mapstructure:"match"`
	Scoring  ScoringConfig  `yaml:"scoring" mapstructure:"scoring"`
	Merge    MergeConfig    `yaml:"merge" mapstructure:"merge"`
	Dispatch DispatchConfig `yaml:"dispatch" mapstructure:"dispatch"`
	Retry    RetryConfig    `yaml:"retry" mapstructure:"retry"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// RedisConfig configures the optional Redis used for merge locks.
// An empty URL falls back to database locks.
type RedisConfig struct {
	URL string `yaml:"url" mapstructure:"url"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Port        int      `yaml:"port" mapstructure:"port"`
	CORSOrigins []string `yaml:"cors_origins" mapstructure:"cors_origins"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// MatchConfig tunes the matching cascade.
type MatchConfig struct {
	TextThreshold  float64 `yaml:"text_threshold" mapstructure:"text_threshold"`
	CandidateLimit int     `yaml:"candidate_limit" mapstructure:"candidate_limit"`
}

// ScoringConfig holds the additive weights of the temperature score.
type ScoringConfig struct {
	MQLWeight              int `yaml:"mql_weight" mapstructure:"mql_weight"`
	RaisedHandWeight       int `yaml:"raised_hand_weight" mapstructure:"raised_hand_weight"`
	MeetingWeight          int `yaml:"meeting_weight" mapstructure:"meeting_weight"`
	MeetingHeldWeight      int `yaml:"meeting_held_weight" mapstructure:"meeting_held_weight"`
	SaleWeight             int `yaml:"sale_weight" mapstructure:"sale_weight"`
	InvestorWeight         int `yaml:"investor_weight" mapstructure:"investor_weight"`
	RecentInvestmentWeight int `yaml:"recent_investment_weight" mapstructure:"recent_investment_weight"`
	RecentInvestmentDays   int `yaml:"recent_investment_days" mapstructure:"recent_investment_days"`
	AbandonedCartWeight    int `yaml:"abandoned_cart_weight" mapstructure:"abandoned_cart_weight"`
	EngagementDivisor      int `yaml:"engagement_divisor" mapstructure:"engagement_divisor"`
	EngagementCap          int `yaml:"engagement_cap" mapstructure:"engagement_cap"`
	PageHitsDivisor        int `yaml:"page_hits_divisor" mapstructure:"page_hits_divisor"`
	PageHitsCap            int `yaml:"page_hits_cap" mapstructure:"page_hits_cap"`
	StaleGraceDays         int `yaml:"stale_grace_days" mapstructure:"stale_grace_days"`
	StaleStepDays          int `yaml:"stale_step_days" mapstructure:"stale_step_days"`
	StaleMaxPenalty        int `yaml:"stale_max_penalty" mapstructure:"stale_max_penalty"`
}

// MergeConfig configures consolidation.
type MergeConfig struct {
	LockTTLSecs   int      `yaml:"lock_ttl_secs" mapstructure:"lock_ttl_secs"`
	ElevatedRoles []string `yaml:"elevated_roles" mapstructure:"elevated_roles"`
}

// DispatchConfig configures outbound webhook delivery.
type DispatchConfig struct {
	TimeoutSecs    int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	MaxConcurrency int     `yaml:"max_concurrency" mapstructure:"max_concurrency"`
	RatePerSec     float64 `yaml:"rate_per_sec" mapstructure:"rate_per_sec"`
	Burst          int     `yaml:"burst" mapstructure:"burst"`
	BodyLimit      int     `yaml:"body_limit" mapstructure:"body_limit"`
	Source         string  `yaml:"source" mapstructure:"source"`
}

// RetryConfig configures retries of the initial database connection.
type RetryConfig struct {
	MaxAttempts      int     `yaml:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoffMs int     `yaml:"initial_backoff_ms" mapstructure:"initial_backoff_ms"`
	MaxBackoffMs     int     `yaml:"max_backoff_ms" mapstructure:"max_backoff_ms"`
	Multiplier       float64 `yaml:"multiplier" mapstructure:"multiplier"`
	JitterFraction   float64 `yaml:"jitter_fraction" mapstructure:"jitter_fraction"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("LEADS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "postgres")
	v.SetDefault("store.database_url", "")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 2)
	v.SetDefault("redis.url", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("match.text_threshold", 0.2)
	v.SetDefault("match.candidate_limit", 200)
	v.SetDefault("scoring.mql_weight", 15)
	v.SetDefault("scoring.raised_hand_weight", 15)
	v.SetDefault("scoring.meeting_weight", 15)
	v.SetDefault("scoring.meeting_held_weight", 10)
	v.SetDefault("scoring.sale_weight", 10)
	v.SetDefault("scoring.investor_weight", 10)
	v.SetDefault("scoring.recent_investment_weight", 5)
	v.SetDefault("scoring.recent_investment_days", 30)
	v.SetDefault("scoring.abandoned_cart_weight", 10)
	v.SetDefault("scoring.engagement_divisor", 10)
	v.SetDefault("scoring.engagement_cap", 10)
	v.SetDefault("scoring.page_hits_divisor", 5)
	v.SetDefault("scoring.page_hits_cap", 5)
	v.SetDefault("scoring.stale_grace_days", 7)
	v.SetDefault("scoring.stale_step_days", 3)
	v.SetDefault("scoring.stale_max_penalty", 15)
	v.SetDefault("merge.lock_ttl_secs", 30)
	v.SetDefault("merge.elevated_roles", []string{"admin", "gestor", "system"})
	v.SetDefault("dispatch.timeout_secs", 10)
	v.SetDefault("dispatch.max_concurrency", 8)
	v.SetDefault("dispatch.rate_per_sec", 20.0)
	v.SetDefault("dispatch.burst", 5)
	v.SetDefault("dispatch.body_limit", 1000)
	v.SetDefault("dispatch.source", "lead-engine")
	v.SetDefault("retry.max_attempts", 5)
	v.SetDefault("retry.initial_backoff_ms", 500)
	v.SetDefault("retry.max_backoff_ms", 10000)
	v.SetDefault("retry.multiplier", 2.0)
	v.SetDefault("retry.jitter_fraction", 0.25)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks that the settings a command needs are present and sane.
// Mode is one of "serve", "migrate" or "cli".
func (c *Config) Validate(mode string) error {
	var errs []string

	switch c.Store.Driver {
	case "postgres":
		if c.Store.DatabaseURL == "" {
			errs = append(errs, "store.database_url is required for postgres")
		}
	case "sqlite":
	default:
		errs = append(errs, fmt.Sprintf("store.driver %q must be postgres or sqlite", c.Store.Driver))
	}

	if c.Match.TextThreshold < 0 || c.Match.TextThreshold >= 1 {
		errs = append(errs, "match.text_threshold must be in [0, 1)")
	}
	if c.Dispatch.MaxConcurrency < 1 || c.Dispatch.MaxConcurrency > 64 {
		errs = append(errs, "dispatch.max_concurrency must be between 1 and 64")
	}
	if c.Dispatch.TimeoutSecs <= 0 {
		errs = append(errs, "dispatch.timeout_secs must be > 0")
	}

	switch mode {
	case "serve":
		if c.Server.Port <= 0 {
			errs = append(errs, "server.port must be > 0")
		}
	case "migrate", "cli":
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(errs) > 0 {
		return eris.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
