// Package config provides configuration management for RadMesh. Settings
// come from an optional YAML file with environment variables taking
// precedence, so containers can override a baked-in config.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Environment represents the deployment environment.
type Environment string

const (
	// EnvDevelopment is the default local development environment.
	EnvDevelopment Environment = "development"
	// EnvStaging is the staging/pre-production environment.
	EnvStaging Environment = "staging"
	// EnvProduction is the production environment.
	EnvProduction Environment = "production"
)

// Config holds the server configuration.
type Config struct {
	Environment Environment `yaml:"environment"`
	ListenAddr  string      `yaml:"listen_addr"`
	// BaseURL is the public URL routers reach the server on; it is baked
	// into the generated RouterOS scripts.
	BaseURL     string `yaml:"base_url"`
	DatabaseURL string `yaml:"database_url"`

	CloudAPIURL   string `yaml:"cloud_api_url"`
	CloudAPIToken string `yaml:"cloud_api_token"`

	// AdminToken guards the operator API; empty disables the guard.
	AdminToken string `yaml:"admin_token"`

	WorkerCount        int    `yaml:"worker_count"`
	SyncTimeoutSeconds int    `yaml:"sync_timeout_seconds"`
	RateLimitPerMinute int    `yaml:"rate_limit_per_minute"`
	RedisURL           string `yaml:"redis_url"`

	// Cron schedules for the background sweeps.
	RetrySweepSchedule  string `yaml:"retry_sweep_schedule"`
	ExpirySweepSchedule string `yaml:"expiry_sweep_schedule"`
}

// Load reads configuration from the YAML file at path (skipped when path
// is empty or missing) and applies environment variable overrides.
func Load(path string) (Config, error) {
	cfg := Config{
		Environment:         EnvDevelopment,
		ListenAddr:          ":8080",
		BaseURL:             "http://localhost:8080",
		CloudAPIURL:         "https://api.linode.com/v4",
		WorkerCount:         3,
		SyncTimeoutSeconds:  30,
		RateLimitPerMinute:  120,
		RetrySweepSchedule:  "0 * * * *",
		ExpirySweepSchedule: "*/15 * * * *",
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return cfg, fmt.Errorf("read config file: %w", err)
			}
		} else if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config file: %w", err)
		}
	}

	cfg.applyEnv()

	switch cfg.Environment {
	case EnvDevelopment, EnvStaging, EnvProduction:
	default:
		cfg.Environment = EnvDevelopment
	}
	if cfg.WorkerCount < 1 {
		cfg.WorkerCount = 3
	}
	if cfg.SyncTimeoutSeconds < 1 {
		cfg.SyncTimeoutSeconds = 30
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.Environment = Environment(getEnvStr("ENV", string(c.Environment)))
	c.ListenAddr = getEnvStr("LISTEN_ADDR", c.ListenAddr)
	c.BaseURL = getEnvStr("BASE_URL", c.BaseURL)
	c.DatabaseURL = getEnvStr("DATABASE_URL", c.DatabaseURL)
	c.CloudAPIURL = getEnvStr("CLOUD_API_URL", c.CloudAPIURL)
	c.CloudAPIToken = getEnvStr("CLOUD_API_TOKEN", c.CloudAPIToken)
	c.AdminToken = getEnvStr("ADMIN_TOKEN", c.AdminToken)
	c.WorkerCount = getEnvInt("WORKER_COUNT", c.WorkerCount)
	c.SyncTimeoutSeconds = getEnvInt("SYNC_TIMEOUT_SECONDS", c.SyncTimeoutSeconds)
	c.RateLimitPerMinute = getEnvInt("RATE_LIMIT_PER_MINUTE", c.RateLimitPerMinute)
	c.RedisURL = getEnvStr("REDIS_URL", c.RedisURL)
	c.RetrySweepSchedule = getEnvStr("RETRY_SWEEP_SCHEDULE", c.RetrySweepSchedule)
	c.ExpirySweepSchedule = getEnvStr("EXPIRY_SWEEP_SCHEDULE", c.ExpirySweepSchedule)
}

// IsProduction reports whether the server runs in production.
func (c Config) IsProduction() bool {
	return c.Environment == EnvProduction
}

// getEnvStr reads a string from an environment variable, returning the default if unset.
func getEnvStr(key, defaultVal string) string {
	val := strings.TrimSpace(os.Getenv(key))
	if val == "" {
		return defaultVal
	}
	return val
}

// getEnvInt reads an integer from an environment variable, returning the default if unset or invalid.
func getEnvInt(key string, defaultVal int) int {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return defaultVal
	}
	return n
}
