package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/vietddude/sentinel/internal/audit"
	"github.com/vietddude/sentinel/internal/dispatch"
	"github.com/vietddude/sentinel/internal/lock"
)

// Load reads configuration from a YAML file.
func Load(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg AppConfig
	// Expand environment variables in the YAML content
	expandedData := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	applyDefaults(&cfg)
	return &cfg, nil
}

func applyDefaults(cfg *AppConfig) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Storage.Mode == "" {
		cfg.Storage.Mode = "postgres"
	}
	if cfg.Billing.PageSize == 0 {
		cfg.Billing.PageSize = 100
	}
	if cfg.Billing.Timeout == 0 {
		cfg.Billing.Timeout = 30 * time.Second
	}
	if cfg.Hunter.BatchSize == 0 {
		cfg.Hunter = audit.DefaultHunterConfig()
	}
	if cfg.Pulse.MaxAttempts == 0 {
		cfg.Pulse = dispatch.DefaultPulseConfig()
	}
	if cfg.Scheduler.HarvestInterval == 0 {
		cfg.Scheduler.HarvestInterval = 24 * time.Hour
	}
	if cfg.Scheduler.PulseInterval == 0 {
		cfg.Scheduler.PulseInterval = time.Hour
	}
	if cfg.Scheduler.LockTTL == 0 {
		cfg.Scheduler.LockTTL = lock.DefaultTTL
	}
}
