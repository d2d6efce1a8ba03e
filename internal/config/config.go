package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for the jobrunner server.
type Config struct {
	Server       ServerConfig
	Database     DatabaseConfig
	Redis        RedisConfig
	Orchestrator OrchestratorConfig
	Callback     CallbackConfig
	Jobs         JobsConfig
}

type ServerConfig struct {
	Port int
	Env  string
}

type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

type RedisConfig struct {
	URL string
}

type OrchestratorConfig struct {
	// Mode selects the orchestrator backend: "docker" talks to the local
	// container daemon, "mock" runs entirely in memory for development.
	Mode string
}

type CallbackConfig struct {
	// BaseURL is the address workloads use to reach this server, e.g.
	// http://jobrunner.internal:8080. Empty disables callback URL injection.
	BaseURL       string
	SigningSecret string
}

type JobsConfig struct {
	// ProfilesPath points at an optional JSON file overriding the built-in
	// per-type workload profiles.
	ProfilesPath string
	// CleanupRetention is how long terminal job records are kept before the
	// cleanup endpoint removes them.
	CleanupRetention time.Duration
}

var validOrchestratorModes = map[string]bool{
	"docker": true,
	"mock":   true,
}

// Load reads configuration from environment variables and returns a validated Config.
// Returns an error with a descriptive message if any required value is missing or invalid.
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port: envInt("JOBRUNNER_PORT", 8080),
			Env:  envString("JOBRUNNER_ENV", "development"),
		},
		Database: DatabaseConfig{
			URL:             os.Getenv("DATABASE_URL"),
			MaxOpenConns:    envInt("DATABASE_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    envInt("DATABASE_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: envDuration("DATABASE_CONN_MAX_LIFETIME", 5*time.Minute),
		},
		Redis: RedisConfig{
			URL: os.Getenv("REDIS_URL"),
		},
		Orchestrator: OrchestratorConfig{
			Mode: envString("ORCHESTRATOR_MODE", "docker"),
		},
		Callback: CallbackConfig{
			BaseURL:       os.Getenv("CALLBACK_BASE_URL"),
			SigningSecret: os.Getenv("CALLBACK_SIGNING_SECRET"),
		},
		Jobs: JobsConfig{
			ProfilesPath:     os.Getenv("JOB_PROFILES_PATH"),
			CleanupRetention: time.Duration(envInt("CLEANUP_RETENTION_DAYS", 7)) * 24 * time.Hour,
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	if c.Redis.URL == "" {
		return fmt.Errorf("REDIS_URL is required")
	}

	if !validOrchestratorModes[c.Orchestrator.Mode] {
		return fmt.Errorf("ORCHESTRATOR_MODE must be one of docker, mock; got %q", c.Orchestrator.Mode)
	}

	if c.Callback.BaseURL != "" {
		if !strings.HasPrefix(c.Callback.BaseURL, "http://") && !strings.HasPrefix(c.Callback.BaseURL, "https://") {
			return fmt.Errorf("CALLBACK_BASE_URL must start with http:// or https://, got %q", c.Callback.BaseURL)
		}
		if c.Callback.SigningSecret == "" {
			return fmt.Errorf("CALLBACK_SIGNING_SECRET is required when CALLBACK_BASE_URL is set")
		}
	}

	if c.Jobs.CleanupRetention < 24*time.Hour {
		return fmt.Errorf("CLEANUP_RETENTION_DAYS must be at least 1")
	}

	return nil
}

func envString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}
