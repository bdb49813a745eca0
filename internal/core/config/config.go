package config

import (
	"fmt"
	"time"

	"github.com/tcynic/resonant-pipeline/internal/infra/budget"
	redisclient "github.com/tcynic/resonant-pipeline/internal/infra/redis"
	"github.com/tcynic/resonant-pipeline/internal/infra/storage/postgres"
	"github.com/tcynic/resonant-pipeline/internal/pipeline/health"
)

// Duration parses YAML duration strings ("90s", "5m") and integer nanoseconds.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err == nil {
		parsed, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", s, err)
		}
		*d = Duration(parsed)
		return nil
	}

	var n int64
	if err := unmarshal(&n); err != nil {
		return err
	}
	*d = Duration(n)
	return nil
}

// Std returns the standard library representation.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// AppConfig represents the top-level configuration.
type AppConfig struct {
	Server     ServerConfig       `yaml:"server"`
	Database   postgres.Config    `yaml:"database"`
	Redis      redisclient.Config `yaml:"redis"`
	Completion CompletionConfig   `yaml:"completion"`
	Pipeline   PipelineConfig     `yaml:"pipeline"`
	Budget     budget.Config      `yaml:"budget"`
	Health     health.Thresholds  `yaml:"health"`
	Logging    LoggingConfig      `yaml:"logging"`
}

// ServerConfig holds HTTP and gRPC server settings.
type ServerConfig struct {
	Port     int    `yaml:"port"`
	GRPCPort int    `yaml:"grpc_port"`
	APIKey   string `yaml:"api_key"` // empty disables auth
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// CompletionConfig holds the external analysis service settings.
type CompletionConfig struct {
	APIKey      string   `yaml:"api_key"`
	BaseURL     string   `yaml:"base_url"`
	Model       string   `yaml:"model"`
	CallTimeout Duration `yaml:"call_timeout"`
	Temperature float32  `yaml:"temperature"`
}

// PipelineConfig holds the resilience pipeline tuning.
type PipelineConfig struct {
	MaxQueueSize            int      `yaml:"max_queue_size"`
	MaxConcurrentProcessing int      `yaml:"max_concurrent_processing"`
	PollInterval            Duration `yaml:"poll_interval"`
	FallbackEnabled         bool     `yaml:"fallback_enabled"`

	BreakerFailureThreshold    int      `yaml:"breaker_failure_threshold"`
	BreakerMonitoringWindow    Duration `yaml:"breaker_monitoring_window"`
	BreakerCooldown            Duration `yaml:"breaker_cooldown"`
	BreakerHalfOpenMaxAttempts int      `yaml:"breaker_half_open_max_attempts"`
}
