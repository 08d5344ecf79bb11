package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config contains all runtime settings for the task service.
type Config struct {
	BindAddr         string
	ShutdownTimeout  time.Duration
	MetricsNamespace string

	AllowAnyOrigin bool

	DatabaseURL string

	// TaskLockTTL is how long an acquired task lock lives before the sweep
	// releases it; re-acquiring refreshes it.
	TaskLockTTL       time.Duration
	LockSweepInterval time.Duration

	// RandomCandidateMax bounds the candidate pool pulled per random
	// selection; ProximityPoolSize is the nearest-neighbor pool a
	// proximity-biased pick draws from.
	RandomCandidateMax int
	ProximityPoolSize  int

	LogLevel  string
	LogFormat string
}

// StoreMode names the backing store the configuration selects.
func (c Config) StoreMode() string {
	if strings.TrimSpace(c.DatabaseURL) != "" {
		return "postgres"
	}
	return "in-memory"
}

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:           envOrDefault("APP_BIND_ADDR", ":8080"),
		MetricsNamespace:   envOrDefault("APP_METRICS_NAMESPACE", "maproulette"),
		AllowAnyOrigin:     false,
		DatabaseURL:        trimmedEnv("DATABASE_URL"),
		ShutdownTimeout:    15 * time.Second,
		TaskLockTTL:        time.Hour,
		LockSweepInterval:  time.Minute,
		RandomCandidateMax: 50,
		ProximityPoolSize:  5,
		LogLevel:           envOrDefault("APP_LOG_LEVEL", "info"),
		LogFormat:          envOrDefault("APP_LOG_FORMAT", "json"),
	}
	var err error
	cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.TaskLockTTL, err = durationFromEnv("APP_TASK_LOCK_TTL", cfg.TaskLockTTL)
	if err != nil {
		return Config{}, err
	}
	cfg.LockSweepInterval, err = durationFromEnv("APP_LOCK_SWEEP_INTERVAL", cfg.LockSweepInterval)
	if err != nil {
		return Config{}, err
	}
	cfg.RandomCandidateMax, err = intFromEnv("APP_RANDOM_CANDIDATE_MAX", cfg.RandomCandidateMax)
	if err != nil {
		return Config{}, err
	}
	cfg.ProximityPoolSize, err = intFromEnv("APP_PROXIMITY_POOL_SIZE", cfg.ProximityPoolSize)
	if err != nil {
		return Config{}, err
	}
	cfg.AllowAnyOrigin, err = boolFromEnv("APP_ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin)
	if err != nil {
		return Config{}, err
	}

	if cfg.TaskLockTTL < 10*time.Second {
		return Config{}, fmt.Errorf("APP_TASK_LOCK_TTL must be at least 10s")
	}
	if cfg.LockSweepInterval < time.Second {
		return Config{}, fmt.Errorf("APP_LOCK_SWEEP_INTERVAL must be at least 1s")
	}
	if cfg.RandomCandidateMax <= 0 {
		return Config{}, fmt.Errorf("APP_RANDOM_CANDIDATE_MAX must be positive")
	}
	if cfg.ProximityPoolSize <= 0 {
		return Config{}, fmt.Errorf("APP_PROXIMITY_POOL_SIZE must be positive")
	}

	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func trimmedEnv(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := trimmedEnv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := trimmedEnv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(trimmedEnv(key))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}
