package config

import (
	"time"

	"github.com/vietddude/sentinel/internal/audit"
	"github.com/vietddude/sentinel/internal/dispatch"
	redisclient "github.com/vietddude/sentinel/internal/infra/redis"
	"github.com/vietddude/sentinel/internal/infra/storage/postgres"
)

// AppConfig represents the top-level configuration.
type AppConfig struct {
	Server    ServerConfig         `yaml:"server"`
	Storage   StorageConfig        `yaml:"storage"`
	Database  postgres.Config      `yaml:"database"`
	Redis     redisclient.Config   `yaml:"redis"`
	Vault     VaultConfig          `yaml:"vault"`
	Billing   BillingConfig        `yaml:"billing"`
	Hunter    audit.HunterConfig   `yaml:"hunter"`
	Pulse     dispatch.PulseConfig `yaml:"pulse"`
	Scheduler SchedulerConfig      `yaml:"scheduler"`
	Logging   LoggingConfig        `yaml:"logging"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port int `yaml:"port"`
}

// StorageConfig selects the persistence backend.
type StorageConfig struct {
	Mode string `yaml:"mode"` // postgres, memory
}

// VaultConfig holds encryption settings. The key itself only ever
// arrives through the environment.
type VaultConfig struct {
	KeyHex string `yaml:"key_hex"` // 64 hex chars, usually ${SENTINEL_VAULT_KEY}
}

// BillingConfig holds billing source settings.
type BillingConfig struct {
	Endpoint string        `yaml:"endpoint"`
	PageSize int           `yaml:"page_size"`
	Timeout  time.Duration `yaml:"timeout"`
}

// SchedulerConfig holds job cadence and lock settings.
type SchedulerConfig struct {
	HarvestInterval time.Duration `yaml:"harvest_interval"`
	PulseInterval   time.Duration `yaml:"pulse_interval"`
	LockTTL         time.Duration `yaml:"lock_ttl"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}
