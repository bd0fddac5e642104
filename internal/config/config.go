package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Port           string  `mapstructure:"PORT"`
	Env            string  `mapstructure:"ENV"`
	DatabaseURL    string  `mapstructure:"DATABASE_URL"`
	DBMaxConns     int32   `mapstructure:"DB_MAX_CONNS"`
	DBMinConns     int32   `mapstructure:"DB_MIN_CONNS"`
	SourceEndpoint string  `mapstructure:"SOURCE_ENDPOINT"`
	SourceSystem   string  `mapstructure:"SOURCE_SYSTEM"`
	SourceToken    string  `mapstructure:"SOURCE_TOKEN"`
	PageSize       int     `mapstructure:"PAGE_SIZE"`
	FetchInterval  int     `mapstructure:"FETCH_INTERVAL_SECONDS"`
	FetchTimeout   int     `mapstructure:"FETCH_TIMEOUT_SECONDS"`
	FetchRetries   int     `mapstructure:"FETCH_RETRIES"`
	ScoreWorkers   int     `mapstructure:"SCORE_WORKERS"`
	RateLimitRPS   float64 `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst int     `mapstructure:"RATE_LIMIT_BURST"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8080")
	v.SetDefault("ENV", "development")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 5)
	v.SetDefault("PAGE_SIZE", 50)
	v.SetDefault("FETCH_INTERVAL_SECONDS", 3)
	v.SetDefault("FETCH_TIMEOUT_SECONDS", 30)
	v.SetDefault("FETCH_RETRIES", 3)
	v.SetDefault("SCORE_WORKERS", 4)
	v.SetDefault("RATE_LIMIT_RPS", 100)
	v.SetDefault("RATE_LIMIT_BURST", 200)

	// Bind env vars explicitly so Unmarshal picks them up
	v.BindEnv("PORT")
	v.BindEnv("ENV")
	v.BindEnv("DATABASE_URL")
	v.BindEnv("DB_MAX_CONNS")
	v.BindEnv("DB_MIN_CONNS")
	v.BindEnv("SOURCE_ENDPOINT")
	v.BindEnv("SOURCE_SYSTEM")
	v.BindEnv("SOURCE_TOKEN")
	v.BindEnv("PAGE_SIZE")
	v.BindEnv("FETCH_INTERVAL_SECONDS")
	v.BindEnv("FETCH_TIMEOUT_SECONDS")
	v.BindEnv("FETCH_RETRIES")
	v.BindEnv("SCORE_WORKERS")
	v.BindEnv("RATE_LIMIT_RPS")
	v.BindEnv("RATE_LIMIT_BURST")

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// FetchIntervalDuration returns the minimum spacing between requests to the
// source API.
func (c *Config) FetchIntervalDuration() time.Duration {
	return time.Duration(c.FetchInterval) * time.Second
}

// FetchTimeoutDuration returns the per-request timeout for source fetches.
func (c *Config) FetchTimeoutDuration() time.Duration {
	return time.Duration(c.FetchTimeout) * time.Second
}

// Validate checks that the configuration is safe to run with.
func (c *Config) Validate() error {
	if c.PageSize < 1 || c.PageSize > 1000 {
		return fmt.Errorf("PAGE_SIZE must be between 1 and 1000, got %d", c.PageSize)
	}
	if c.FetchRetries < 0 {
		return fmt.Errorf("FETCH_RETRIES must be non-negative, got %d", c.FetchRetries)
	}
	if c.FetchInterval < 0 {
		return fmt.Errorf("FETCH_INTERVAL_SECONDS must be non-negative, got %d", c.FetchInterval)
	}
	if c.FetchTimeout <= 0 {
		return fmt.Errorf("FETCH_TIMEOUT_SECONDS must be positive, got %d", c.FetchTimeout)
	}
	if c.ScoreWorkers < 1 {
		return fmt.Errorf("SCORE_WORKERS must be at least 1, got %d", c.ScoreWorkers)
	}
	return nil
}
