package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	setCoreEnvEmpty(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.BindAddr != ":8080" {
		t.Fatalf("BindAddr = %q, want %q", cfg.BindAddr, ":8080")
	}
	if cfg.TaskLockTTL != time.Hour {
		t.Fatalf("TaskLockTTL = %v, want 1h", cfg.TaskLockTTL)
	}
	if cfg.RandomCandidateMax != 50 {
		t.Fatalf("RandomCandidateMax = %d, want 50", cfg.RandomCandidateMax)
	}
	if cfg.MetricsNamespace != "maproulette" {
		t.Fatalf("MetricsNamespace = %q, want %q", cfg.MetricsNamespace, "maproulette")
	}
}

func TestLoadExplicitLockSettings(t *testing.T) {
	setCoreEnvEmpty(t)
	t.Setenv("APP_TASK_LOCK_TTL", "30m")
	t.Setenv("APP_LOCK_SWEEP_INTERVAL", "10s")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.TaskLockTTL != 30*time.Minute {
		t.Fatalf("TaskLockTTL = %v, want 30m", cfg.TaskLockTTL)
	}
	if cfg.LockSweepInterval != 10*time.Second {
		t.Fatalf("LockSweepInterval = %v, want 10s", cfg.LockSweepInterval)
	}
}

func TestLoadRejectsBadValues(t *testing.T) {
	cases := []struct {
		name  string
		key   string
		value string
	}{
		{"short lock ttl", "APP_TASK_LOCK_TTL", "1s"},
		{"malformed duration", "APP_SHUTDOWN_TIMEOUT", "soon"},
		{"non-positive pool", "APP_PROXIMITY_POOL_SIZE", "0"},
		{"malformed int", "APP_RANDOM_CANDIDATE_MAX", "many"},
		{"malformed bool", "APP_ALLOW_ANY_ORIGIN", "maybe"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			setCoreEnvEmpty(t)
			t.Setenv(tc.key, tc.value)
			if _, err := Load(); err == nil {
				t.Fatalf("Load() = nil error, want failure for %s=%s", tc.key, tc.value)
			}
		})
	}
}

func TestStoreMode(t *testing.T) {
	if got := (Config{}).StoreMode(); got != "in-memory" {
		t.Fatalf("StoreMode() = %q, want %q", got, "in-memory")
	}
	cfg := Config{DatabaseURL: "postgres://localhost/tasks"}
	if got := cfg.StoreMode(); got != "postgres" {
		t.Fatalf("StoreMode() = %q, want %q", got, "postgres")
	}
}

func setCoreEnvEmpty(t *testing.T) {
	t.Helper()
	keys := []string{
		"APP_BIND_ADDR",
		"APP_SHUTDOWN_TIMEOUT",
		"APP_METRICS_NAMESPACE",
		"APP_ALLOW_ANY_ORIGIN",
		"APP_TASK_LOCK_TTL",
		"APP_LOCK_SWEEP_INTERVAL",
		"APP_RANDOM_CANDIDATE_MAX",
		"APP_PROXIMITY_POOL_SIZE",
		"APP_LOG_LEVEL",
		"APP_LOG_FORMAT",
		"DATABASE_URL",
	}
	for _, key := range keys {
		t.Setenv(key, "")
	}
}
