package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// fileConfig mirrors Config with durations as strings ("30s", "45m").
type fileConfig struct {
	DatabaseURL         string  `yaml:"database_url"`
	RedisURL            string  `yaml:"redis_url"`
	ServerPort          string  `yaml:"server_port"`
	UserAgent           string  `yaml:"user_agent"`
	Timeout             string  `yaml:"timeout"`
	JobStuckAfter       string  `yaml:"job_stuck_after"`
	ProviderRateLimit   float64 `yaml:"provider_rate_limit"`
	ProviderConcurrency int     `yaml:"provider_concurrency"`
	JobWorkers          int     `yaml:"job_workers"`
	MigrationsPath      string  `yaml:"migrations_path"`
	LogLevel            string  `yaml:"log_level"`
	LogFormat           string  `yaml:"log_format"`
}

// LoadFromFile loads config from a YAML file over Defaults. database_url is required.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var f fileConfig
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}
	if f.DatabaseURL == "" {
		return nil, ErrMissingDatabaseURL
	}
	c := Defaults()
	c.DatabaseURL = f.DatabaseURL
	c.RedisURL = f.RedisURL
	set := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	set(&c.ServerPort, f.ServerPort)
	set(&c.UserAgent, f.UserAgent)
	set(&c.MigrationsPath, f.MigrationsPath)
	set(&c.LogLevel, f.LogLevel)
	set(&c.LogFormat, f.LogFormat)
	if f.ProviderRateLimit > 0 {
		c.ProviderRateLimit = f.ProviderRateLimit
	}
	if f.ProviderConcurrency > 0 {
		c.ProviderConcurrency = f.ProviderConcurrency
	}
	c.JobWorkers = f.JobWorkers
	if c.Timeout, err = fileDuration("timeout", f.Timeout, c.Timeout); err != nil {
		return nil, err
	}
	if c.JobStuckAfter, err = fileDuration("job_stuck_after", f.JobStuckAfter, c.JobStuckAfter); err != nil {
		return nil, err
	}
	return &c, nil
}

func fileDuration(key, s string, def time.Duration) (time.Duration, error) {
	if s == "" {
		return def, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("config: %s: %w", key, err)
	}
	return d, nil
}
