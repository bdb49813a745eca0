package e2e

import (
	"context"
	"testing"
	"time"

	"github.com/tcynic/resonant-pipeline/internal/control"
	"github.com/tcynic/resonant-pipeline/internal/core/config"
)

func TestGracefulShutdown(t *testing.T) {
	// Memory storage, no external services: enough to start every component.
	cfg := &config.AppConfig{
		Server: config.ServerConfig{Port: 18097, GRPCPort: 19097},
		Pipeline: config.PipelineConfig{
			MaxQueueSize:               100,
			MaxConcurrentProcessing:    4,
			PollInterval:               config.Duration(200 * time.Millisecond),
			FallbackEnabled:            true,
			BreakerFailureThreshold:    5,
			BreakerMonitoringWindow:    config.Duration(5 * time.Minute),
			BreakerCooldown:            config.Duration(time.Minute),
			BreakerHalfOpenMaxAttempts: 3,
		},
	}

	svc, err := control.NewService(cfg)
	if err != nil {
		t.Fatalf("Failed to create service: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := svc.Start(ctx); err != nil {
		t.Fatalf("Failed to start service: %v", err)
	}

	// Let it run for a bit
	time.Sleep(500 * time.Millisecond)

	// Trigger shutdown
	cancel()

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer stopCancel()

	if err := svc.Stop(stopCtx); err != nil {
		t.Errorf("Stop failed: %v", err)
	}
}
