// Package config загружает конфигурацию движка.
//
// Источники (по убыванию приоритета):
//  1. переменные окружения ENGINE_* (ENGINE_DB_URL, ENGINE_LOCK_BACKEND, ...)
//  2. переменные окружения без префикса: DB_URL, RABBITMQ_URL, WORKER_PORT
//  3. YAML-файл (--config)
//  4. значения по умолчанию
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/shaiso/automata-engine/internal/domain"
)

// Типы хранилища и блокировок.
const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
)

const envPrefix = "ENGINE"

// Config - конфигурация движка.
type Config struct {
	Log       LogConfig          `mapstructure:"log"`
	DB        DBConfig           `mapstructure:"db"`
	RabbitMQ  MQConfig           `mapstructure:"rabbitmq"`
	HTTP      HTTPConfig         `mapstructure:"http"`
	Lock      LockConfig         `mapstructure:"lock"`
	Retry     domain.RetryPolicy `mapstructure:"retry"`
	Scheduler SchedulerConfig    `mapstructure:"scheduler"`
	Recovery  RecoveryConfig     `mapstructure:"recovery"`

	// Store - хранилище connector instances: memory или postgres.
	Store string `mapstructure:"store"`

	// Tenants - tenant'ы, обслуживаемые процессом.
	Tenants []int64 `mapstructure:"tenants"`

	// JobsFile - YAML с периодическими jobs (опционально).
	JobsFile string `mapstructure:"jobs_file"`
}

// LogConfig - параметры логирования.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// DBConfig - параметры PostgreSQL.
type DBConfig struct {
	URL      string `mapstructure:"url"`
	MaxConns int32  `mapstructure:"max_conns"`

	// IsoLevel - уровень изоляции транзакций (default: repeatable read).
	IsoLevel string `mapstructure:"iso_level"`
}

// MQConfig - параметры RabbitMQ. Пустой URL отключает consumer'ы.
type MQConfig struct {
	URL      string `mapstructure:"url"`
	Prefetch int    `mapstructure:"prefetch"`
}

// HTTPConfig - порт /metrics и /healthz.
type HTTPConfig struct {
	Port int `mapstructure:"port"`
}

// LockConfig - параметры сервиса блокировок.
type LockConfig struct {
	Backend        string        `mapstructure:"backend"`
	DefaultTimeout time.Duration `mapstructure:"default_timeout"`
	ResetTimeout   time.Duration `mapstructure:"reset_timeout"`
	PollInterval   time.Duration `mapstructure:"poll_interval"`
}

// SchedulerConfig - параметры планировщиков tenant'ов.
type SchedulerConfig struct {
	Workers      int           `mapstructure:"workers"`
	QueueSize    int           `mapstructure:"queue_size"`
	TickInterval time.Duration `mapstructure:"tick_interval"`
	StopTimeout  time.Duration `mapstructure:"stop_timeout"`
}

// RecoveryConfig - параметры восстановления после рестарта.
type RecoveryConfig struct {
	Concurrency int `mapstructure:"concurrency"`
	PageSize    int `mapstructure:"page_size"`
}

// Load читает конфигурацию. path - явный файл конфигурации (может быть пустым).
func Load(path string) (*Config, error) {
	return LoadWithViper(viper.New(), path)
}

// LoadWithViper читает конфигурацию через v (для привязки флагов cobra).
func LoadWithViper(v *viper.Viper, path string) (*Config, error) {
	setDefaults(v)
	applyFallbackEnv(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// setDefaults задаёт значения по умолчанию.
// Каждый ключ должен иметь default, иначе AutomaticEnv его не увидит.
func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("store", BackendMemory)
	v.SetDefault("db.url", "")
	v.SetDefault("db.max_conns", 10)
	v.SetDefault("db.iso_level", "repeatable read")

	v.SetDefault("rabbitmq.url", "")
	v.SetDefault("rabbitmq.prefetch", 5)

	v.SetDefault("http.port", 8083)

	v.SetDefault("lock.backend", BackendMemory)
	v.SetDefault("lock.default_timeout", 30*time.Second)
	v.SetDefault("lock.reset_timeout", 0)
	v.SetDefault("lock.poll_interval", 10*time.Millisecond)

	policy := domain.DefaultRetryPolicy()
	v.SetDefault("retry.max_attempts", policy.MaxAttempts)
	v.SetDefault("retry.initial_delay", policy.InitialDelay)
	v.SetDefault("retry.backoff_factor", policy.BackoffFactor)
	v.SetDefault("retry.max_delay", policy.MaxDelay)

	v.SetDefault("scheduler.workers", 4)
	v.SetDefault("scheduler.queue_size", 256)
	v.SetDefault("scheduler.tick_interval", time.Second)
	v.SetDefault("scheduler.stop_timeout", 30*time.Second)

	v.SetDefault("recovery.concurrency", 4)
	v.SetDefault("recovery.page_size", 100)

	v.SetDefault("tenants", []int64{1})
	v.SetDefault("jobs_file", "")
}

// applyFallbackEnv учитывает переменные окружения без префикса,
// которые используют остальные сервисы Automata.
func applyFallbackEnv(v *viper.Viper) {
	if url := os.Getenv("DB_URL"); url != "" {
		v.SetDefault("db.url", url)
		v.SetDefault("store", BackendPostgres)
	}
	if url := os.Getenv("RABBITMQ_URL"); url != "" {
		v.SetDefault("rabbitmq.url", url)
	}
	if port := os.Getenv("WORKER_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			v.SetDefault("http.port", p)
		}
	}
}

// Validate проверяет согласованность параметров.
func (c *Config) Validate() error {
	var errs []error

	switch c.Store {
	case BackendMemory, BackendPostgres:
	default:
		errs = append(errs, fmt.Errorf("store must be %q or %q, got %q", BackendMemory, BackendPostgres, c.Store))
	}

	switch c.Lock.Backend {
	case BackendMemory:
	case BackendPostgres:
		if c.Store != BackendPostgres {
			errs = append(errs, errors.New("lock.backend postgres requires store postgres"))
		}
	default:
		errs = append(errs, fmt.Errorf("lock.backend must be %q or %q, got %q", BackendMemory, BackendPostgres, c.Lock.Backend))
	}

	if c.Lock.DefaultTimeout <= 0 {
		errs = append(errs, fmt.Errorf("lock.default_timeout must be > 0, got %s", c.Lock.DefaultTimeout))
	}

	if err := c.Retry.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("retry: %w", err))
	}

	if c.Scheduler.Workers <= 0 {
		errs = append(errs, fmt.Errorf("scheduler.workers must be > 0, got %d", c.Scheduler.Workers))
	}
	if c.Scheduler.QueueSize <= 0 {
		errs = append(errs, fmt.Errorf("scheduler.queue_size must be > 0, got %d", c.Scheduler.QueueSize))
	}

	if len(c.Tenants) == 0 {
		errs = append(errs, errors.New("at least one tenant is required"))
	}
	seen := make(map[int64]bool, len(c.Tenants))
	for _, id := range c.Tenants {
		if id <= 0 {
			errs = append(errs, fmt.Errorf("tenant id must be > 0, got %d", id))
		}
		if seen[id] {
			errs = append(errs, fmt.Errorf("duplicate tenant %d", id))
		}
		seen[id] = true
	}

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}
