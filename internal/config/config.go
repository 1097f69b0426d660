// Package config loads GuideVault settings from the environment, .env files
// and an optional YAML file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"
)

// ErrMissingDatabaseURL is returned when no database URL is configured.
var ErrMissingDatabaseURL = errors.New("config: DATABASE_URL is required")

// Config holds application configuration.
type Config struct {
	DatabaseURL string `yaml:"database_url" env:"DATABASE_URL"`
	// RedisURL enables cross-process target locks, the job queue and the read cache.
	RedisURL   string `yaml:"redis_url" env:"REDIS_URL"`
	ServerPort string `yaml:"server_port" env:"SERVER_PORT"`

	UserAgent string        `yaml:"user_agent" env:"FETCHER_USER_AGENT"`
	Timeout   time.Duration `yaml:"timeout" env:"FETCHER_TIMEOUT"`

	// JobStuckAfter is the age past which a non-terminal job may be reaped.
	JobStuckAfter       time.Duration `yaml:"job_stuck_after" env:"JOB_STUCK_AFTER"`
	ProviderRateLimit   float64       `yaml:"provider_rate_limit" env:"PROVIDER_RATE_LIMIT"`
	ProviderConcurrency int           `yaml:"provider_concurrency" env:"PROVIDER_CONCURRENCY"`
	// JobWorkers > 0 with RedisURL set routes jobs through the Redis queue,
	// consumed by that many workers in each process.
	JobWorkers int `yaml:"job_workers" env:"JOB_WORKERS"`

	MigrationsPath string `yaml:"migrations_path" env:"MIGRATIONS_PATH"`
	LogLevel       string `yaml:"log_level" env:"LOG_LEVEL"`
	LogFormat      string `yaml:"log_format" env:"LOG_FORMAT"`
}

// Defaults returns a Config with every optional field set.
func Defaults() Config {
	return Config{
		ServerPort:          "8080",
		UserAgent:           "GuideVault/1.0",
		Timeout:             30 * time.Second,
		JobStuckAfter:       30 * time.Minute,
		ProviderRateLimit:   5,
		ProviderConcurrency: 4,
		MigrationsPath:      "migrations",
		LogLevel:            "info",
		LogFormat:           "json",
	}
}

// Load builds config from environment variables over Defaults.
// If DATABASE_URL is not set, Load tries .env.local and .env first.
func Load() (*Config, error) {
	if os.Getenv("DATABASE_URL") == "" {
		loadEnvFiles()
	}
	c := Defaults()
	if err := c.applyEnv(); err != nil {
		return nil, err
	}
	if c.DatabaseURL == "" {
		return nil, ErrMissingDatabaseURL
	}
	return &c, nil
}

func (c *Config) applyEnv() error {
	str := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	str("DATABASE_URL", &c.DatabaseURL)
	str("REDIS_URL", &c.RedisURL)
	str("SERVER_PORT", &c.ServerPort)
	str("FETCHER_USER_AGENT", &c.UserAgent)
	str("MIGRATIONS_PATH", &c.MigrationsPath)
	str("LOG_LEVEL", &c.LogLevel)
	str("LOG_FORMAT", &c.LogFormat)

	var err error
	if c.Timeout, err = envDuration("FETCHER_TIMEOUT", c.Timeout); err != nil {
		return err
	}
	if c.JobStuckAfter, err = envDuration("JOB_STUCK_AFTER", c.JobStuckAfter); err != nil {
		return err
	}
	if s := os.Getenv("PROVIDER_RATE_LIMIT"); s != "" {
		if c.ProviderRateLimit, err = strconv.ParseFloat(s, 64); err != nil {
			return fmt.Errorf("config: PROVIDER_RATE_LIMIT: %w", err)
		}
	}
	if s := os.Getenv("PROVIDER_CONCURRENCY"); s != "" {
		if c.ProviderConcurrency, err = strconv.Atoi(s); err != nil {
			return fmt.Errorf("config: PROVIDER_CONCURRENCY: %w", err)
		}
	}
	if s := os.Getenv("JOB_WORKERS"); s != "" {
		if c.JobWorkers, err = strconv.Atoi(s); err != nil {
			return fmt.Errorf("config: JOB_WORKERS: %w", err)
		}
	}
	return nil
}

func envDuration(key string, def time.Duration) (time.Duration, error) {
	s := os.Getenv(key)
	if s == "" {
		return def, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("config: %s: %w", key, err)
	}
	return d, nil
}
