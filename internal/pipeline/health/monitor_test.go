package health

import (
	"context"
	"testing"
	"time"

	"github.com/tcynic/resonant-pipeline/internal/pipeline/admission"
	"github.com/tcynic/resonant-pipeline/internal/pipeline/breaker"
)

// =============================================================================
// Mocks
// =============================================================================

type stubLoad struct {
	queued     int
	processing int
}

func (s *stubLoad) QueuedCount(ctx context.Context) (int, error)     { return s.queued, nil }
func (s *stubLoad) ProcessingCount(ctx context.Context) (int, error) { return s.processing, nil }
func (s *stubLoad) AverageWait(ctx context.Context) (time.Duration, error) {
	return 5 * time.Second, nil
}

type stubDLQ struct {
	count int
}

func (s *stubDLQ) Count(ctx context.Context) (int, error) { return s.count, nil }

func newMonitor(load *stubLoad, breakers *breaker.Registry, dlq *stubDLQ) *Monitor {
	capacity := admission.NewController(admission.Config{MaxQueueSize: 100, MaxProcessing: 10}, load)
	return NewMonitor(capacity, breakers, dlq, DefaultThresholds())
}

// =============================================================================
// Tests
// =============================================================================

func TestMonitor_Healthy(t *testing.T) {
	monitor := newMonitor(&stubLoad{queued: 10}, breaker.NewRegistry(breaker.DefaultConfig()), &stubDLQ{})

	report := monitor.CheckHealth(context.Background())
	if report.SystemStatus != StatusHealthy {
		t.Errorf("expected healthy, got %s", report.SystemStatus)
	}
}

func TestMonitor_DegradedOnBackpressure(t *testing.T) {
	monitor := newMonitor(&stubLoad{queued: 88}, breaker.NewRegistry(breaker.DefaultConfig()), &stubDLQ{})

	report := monitor.CheckHealth(context.Background())
	if report.SystemStatus != StatusDegraded {
		t.Errorf("expected degraded at heavy backpressure, got %s", report.SystemStatus)
	}
}

func TestMonitor_CriticalOnOpenBreaker(t *testing.T) {
	breakers := breaker.NewRegistry(breaker.Config{
		FailureThreshold:    1,
		MonitoringWindow:    time.Minute,
		Cooldown:            time.Minute,
		HalfOpenMaxAttempts: 1,
	})
	breakers.Get("completion").RecordFailure()

	monitor := newMonitor(&stubLoad{queued: 1}, breakers, &stubDLQ{})
	report := monitor.CheckHealth(context.Background())
	if report.SystemStatus != StatusCritical {
		t.Errorf("expected critical with open breaker, got %s", report.SystemStatus)
	}
	if report.Components["breakers"].Detail == "" {
		t.Error("breaker component must name the open service")
	}
}

func TestMonitor_CriticalOnDeadLetterBacklog(t *testing.T) {
	monitor := newMonitor(&stubLoad{queued: 1}, breaker.NewRegistry(breaker.DefaultConfig()), &stubDLQ{count: 150})

	report := monitor.CheckHealth(context.Background())
	if report.SystemStatus != StatusCritical {
		t.Errorf("expected critical with dead letter backlog, got %s", report.SystemStatus)
	}
}

func TestMonitor_CachesReports(t *testing.T) {
	dlq := &stubDLQ{count: 0}
	monitor := newMonitor(&stubLoad{queued: 1}, breaker.NewRegistry(breaker.DefaultConfig()), dlq)

	first := monitor.CheckHealth(context.Background())
	dlq.count = 500
	second := monitor.CheckHealth(context.Background())

	if first.SystemStatus != second.SystemStatus {
		t.Error("reports within the cache window must be identical")
	}
}
