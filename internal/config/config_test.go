package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/shaiso/automata-engine/internal/domain"
)

// clearEnv изолирует тест от окружения разработчика.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{"DB_URL", "RABBITMQ_URL", "WORKER_PORT", "ENGINE_STORE", "ENGINE_DB_URL", "ENGINE_TENANTS", "ENGINE_LOCK_BACKEND"} {
		t.Setenv(key, "")
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Store != BackendMemory {
		t.Errorf("expected memory store, got %q", cfg.Store)
	}
	if cfg.Lock.Backend != BackendMemory {
		t.Errorf("expected memory locks, got %q", cfg.Lock.Backend)
	}
	if cfg.Lock.DefaultTimeout != 30*time.Second {
		t.Errorf("expected 30s lock timeout, got %s", cfg.Lock.DefaultTimeout)
	}
	if cfg.Retry != domain.DefaultRetryPolicy() {
		t.Errorf("expected default retry policy, got %+v", cfg.Retry)
	}
	if cfg.HTTP.Port != 8083 {
		t.Errorf("expected port 8083, got %d", cfg.HTTP.Port)
	}
	if len(cfg.Tenants) != 1 || cfg.Tenants[0] != 1 {
		t.Errorf("expected tenants [1], got %v", cfg.Tenants)
	}
}

func TestLoad_File(t *testing.T) {
	clearEnv(t)

	path := filepath.Join(t.TempDir(), "engine.yaml")
	content := `
store: postgres
db:
  url: postgresql://localhost/engine
lock:
  backend: postgres
  default_timeout: 5s
retry:
  max_attempts: 3
  initial_delay: 50ms
  backoff_factor: 1.5
  max_delay: 2s
scheduler:
  workers: 8
tenants: [1, 2, 3]
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Store != BackendPostgres || cfg.Lock.Backend != BackendPostgres {
		t.Errorf("expected postgres backends, got store=%q lock=%q", cfg.Store, cfg.Lock.Backend)
	}
	if cfg.DB.URL != "postgresql://localhost/engine" {
		t.Errorf("unexpected db url %q", cfg.DB.URL)
	}
	if cfg.Lock.DefaultTimeout != 5*time.Second {
		t.Errorf("expected 5s, got %s", cfg.Lock.DefaultTimeout)
	}
	want := domain.RetryPolicy{MaxAttempts: 3, InitialDelay: 50 * time.Millisecond, BackoffFactor: 1.5, MaxDelay: 2 * time.Second}
	if cfg.Retry != want {
		t.Errorf("expected %+v, got %+v", want, cfg.Retry)
	}
	if cfg.Scheduler.Workers != 8 {
		t.Errorf("expected 8 workers, got %d", cfg.Scheduler.Workers)
	}
	if len(cfg.Tenants) != 3 {
		t.Errorf("expected 3 tenants, got %v", cfg.Tenants)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("ENGINE_TENANTS", "4,5")
	t.Setenv("ENGINE_SCHEDULER_WORKERS", "2")
	t.Setenv("WORKER_PORT", "9100")
	t.Setenv("DB_URL", "postgresql://fallback/engine")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(cfg.Tenants) != 2 || cfg.Tenants[0] != 4 || cfg.Tenants[1] != 5 {
		t.Errorf("expected tenants [4 5], got %v", cfg.Tenants)
	}
	if cfg.Scheduler.Workers != 2 {
		t.Errorf("expected 2 workers, got %d", cfg.Scheduler.Workers)
	}
	if cfg.HTTP.Port != 9100 {
		t.Errorf("expected WORKER_PORT fallback 9100, got %d", cfg.HTTP.Port)
	}
	if cfg.DB.URL != "postgresql://fallback/engine" || cfg.Store != BackendPostgres {
		t.Errorf("expected DB_URL fallback to select postgres, got store=%q url=%q", cfg.Store, cfg.DB.URL)
	}
}

func TestValidate(t *testing.T) {
	valid := func() Config {
		return Config{
			Store:     BackendMemory,
			Lock:      LockConfig{Backend: BackendMemory, DefaultTimeout: time.Second},
			Retry:     domain.DefaultRetryPolicy(),
			Scheduler: SchedulerConfig{Workers: 1, QueueSize: 1},
			Tenants:   []int64{1},
		}
	}

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"valid", func(*Config) {}, ""},
		{"unknown store", func(c *Config) { c.Store = "redis" }, "store must be"},
		{"pg locks on memory store", func(c *Config) { c.Lock.Backend = BackendPostgres }, "requires store postgres"},
		{"zero lock timeout", func(c *Config) { c.Lock.DefaultTimeout = 0 }, "lock.default_timeout"},
		{"bad retry", func(c *Config) { c.Retry.BackoffFactor = 0.5 }, "backoff_factor"},
		{"no workers", func(c *Config) { c.Scheduler.Workers = 0 }, "scheduler.workers"},
		{"no tenants", func(c *Config) { c.Tenants = nil }, "at least one tenant"},
		{"duplicate tenant", func(c *Config) { c.Tenants = []int64{1, 1} }, "duplicate tenant"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)

			err := cfg.Validate()
			if tt.want == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}

func TestParseJobs(t *testing.T) {
	data := []byte(`
tenants:
  1:
    - name: retry-sweep
      cron: "*/5 * * * *"
      item_type: connector.retry
      flow_node_instance_id: 42
      payload:
        target: SKIPPED
  2:
    - name: hourly
      interval_sec: 3600
      item_type: connector.retry
`)

	jobs, err := ParseJobs(data)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(jobs[1]) != 1 || len(jobs[2]) != 1 {
		t.Fatalf("unexpected jobs: %+v", jobs)
	}
	j := jobs[1][0]
	if j.CronExpr != "*/5 * * * *" || j.FlowNodeInstanceID != 42 || j.ItemType != domain.WorkTypeConnectorRetry {
		t.Errorf("unexpected job: %+v", j)
	}
	if j.Payload["target"] != "SKIPPED" {
		t.Errorf("expected payload target, got %v", j.Payload)
	}
	if !jobs[2][0].IsInterval() {
		t.Error("expected interval job")
	}
}

func TestParseJobs_Invalid(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"no name", "tenants:\n  1:\n    - item_type: x\n      interval_sec: 5\n"},
		{"no schedule", "tenants:\n  1:\n    - name: a\n      item_type: x\n"},
		{"no item type", "tenants:\n  1:\n    - name: a\n      interval_sec: 5\n"},
		{"duplicate", "tenants:\n  1:\n    - name: a\n      item_type: x\n      interval_sec: 5\n    - name: a\n      item_type: x\n      interval_sec: 5\n"},
		{"broken yaml", "tenants: [\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseJobs([]byte(tt.data)); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestLoadJobs_MissingFile(t *testing.T) {
	if _, err := LoadJobs(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}
