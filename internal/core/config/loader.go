package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"
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
	if cfg.Server.GRPCPort == 0 {
		cfg.Server.GRPCPort = 9090
	}

	if cfg.Pipeline.MaxQueueSize == 0 {
		cfg.Pipeline.MaxQueueSize = 1000
	}
	if cfg.Pipeline.MaxConcurrentProcessing == 0 {
		cfg.Pipeline.MaxConcurrentProcessing = 10
	}
	if cfg.Pipeline.PollInterval == 0 {
		cfg.Pipeline.PollInterval = Duration(5 * time.Second)
	}
	if cfg.Pipeline.BreakerFailureThreshold == 0 {
		cfg.Pipeline.BreakerFailureThreshold = 5
	}
	if cfg.Pipeline.BreakerMonitoringWindow == 0 {
		cfg.Pipeline.BreakerMonitoringWindow = Duration(5 * time.Minute)
	}
	if cfg.Pipeline.BreakerCooldown == 0 {
		cfg.Pipeline.BreakerCooldown = Duration(60 * time.Second)
	}
	if cfg.Pipeline.BreakerHalfOpenMaxAttempts == 0 {
		cfg.Pipeline.BreakerHalfOpenMaxAttempts = 3
	}

	if cfg.Completion.CallTimeout == 0 {
		cfg.Completion.CallTimeout = Duration(30 * time.Second)
	}
	if cfg.Budget.DailyQuota == 0 {
		cfg.Budget.DailyQuota = 1000
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
}
