// Package config provides application configuration loading.
// This is part of the platform layer and contains no business logic.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// =============================================================================
// Module-Specific Config Interfaces (Principle of Least Privilege)
// =============================================================================

// DatabaseConfig provides database connection settings.
type DatabaseConfig interface {
	GetDatabaseURL() string
}

// SchedulerConfig provides settings for the asynq client and worker.
type SchedulerConfig interface {
	GetRedisURL() string
	GetRedisTLSInsecure() bool
	GetAsynqQueueName() string
	GetAsynqConcurrency() int
}

// CadenceConfig provides settings for the cadence reconciliation engine.
type CadenceConfig interface {
	GetStageCacheTTL() time.Duration
	GetStageCacheMaxCost() int64
	GetStageLockTTL() time.Duration
	GetStageLockWait() time.Duration
	GetTaskDueRemindersEnabled() bool
}

// Config holds all application configuration.
type Config struct {
	Env               string
	DatabaseURL       string
	MigrationsEnabled bool

	RedisURL         string
	RedisTLSInsecure bool
	AsynqQueueName   string
	AsynqConcurrency int

	StageCacheTTL           time.Duration
	StageCacheMaxCost       int64
	StageLockTTL            time.Duration
	StageLockWait           time.Duration
	TaskDueRemindersEnabled bool
}

// =============================================================================
// Interface Implementations
// =============================================================================

// DatabaseConfig implementation
func (c *Config) GetDatabaseURL() string { return c.DatabaseURL }

// SchedulerConfig implementation
func (c *Config) GetRedisURL() string       { return c.RedisURL }
func (c *Config) GetRedisTLSInsecure() bool { return c.RedisTLSInsecure }
func (c *Config) GetAsynqQueueName() string { return c.AsynqQueueName }
func (c *Config) GetAsynqConcurrency() int  { return c.AsynqConcurrency }
func (c *Config) IsSchedulerEnabled() bool  { return c.RedisURL != "" }

func (c *Config) IsMigrationsEnabled() bool { return c.MigrationsEnabled }

// CadenceConfig implementation
func (c *Config) GetStageCacheTTL() time.Duration  { return c.StageCacheTTL }
func (c *Config) GetStageLockTTL() time.Duration   { return c.StageLockTTL }
func (c *Config) GetStageCacheMaxCost() int64      { return c.StageCacheMaxCost }
func (c *Config) GetStageLockWait() time.Duration  { return c.StageLockWait }
func (c *Config) GetTaskDueRemindersEnabled() bool { return c.TaskDueRemindersEnabled }

// Load reads configuration from the environment, falling back to a .env file.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Env:                     getEnv("APP_ENV", "development"),
		DatabaseURL:             getEnv("DATABASE_URL", ""),
		MigrationsEnabled:       strings.EqualFold(getEnv("MIGRATIONS_ENABLED", "true"), "true"),
		RedisURL:                getEnv("REDIS_URL", ""),
		RedisTLSInsecure:        strings.EqualFold(getEnv("REDIS_TLS_INSECURE", "false"), "true"),
		AsynqQueueName:          getEnv("ASYNQ_QUEUE", "default"),
		AsynqConcurrency:        mustInt(getEnv("ASYNQ_CONCURRENCY", "10")),
		StageCacheTTL:           mustDuration(getEnv("CADENCE_STAGE_CACHE_TTL", "5m")),
		StageCacheMaxCost:       mustInt64(getEnv("CADENCE_STAGE_CACHE_MAX_COST", "1048576")),
		StageLockTTL:            mustDuration(getEnv("CADENCE_STAGE_LOCK_TTL", "30s")),
		StageLockWait:           mustDuration(getEnv("CADENCE_STAGE_LOCK_WAIT", "5s")),
		TaskDueRemindersEnabled: strings.EqualFold(getEnv("CADENCE_TASK_DUE_REMINDERS", "true"), "true"),
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	if cfg.StageLockTTL <= 0 {
		return nil, fmt.Errorf("CADENCE_STAGE_LOCK_TTL must be a positive duration")
	}
	if cfg.StageCacheTTL > 0 && cfg.StageCacheMaxCost <= 0 {
		return nil, fmt.Errorf("CADENCE_STAGE_CACHE_MAX_COST must be positive when the stage cache is enabled")
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok {
		return val
	}
	return fallback
}

func mustDuration(value string) time.Duration {
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0
	}
	return d
}

func mustInt64(value string) int64 {
	result, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return 0
	}
	return result
}

func mustInt(value string) int {
	result, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return 0
	}
	return result
}
