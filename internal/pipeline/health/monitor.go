package health

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/tcynic/resonant-pipeline/internal/core/domain"
	"github.com/tcynic/resonant-pipeline/internal/pipeline/admission"
	"github.com/tcynic/resonant-pipeline/internal/pipeline/breaker"
)

// DeadLetterCounter reports the current dead letter queue size.
type DeadLetterCounter interface {
	Count(ctx context.Context) (int, error)
}

// Thresholds tune status evaluation.
type Thresholds struct {
	DeadLetterDegraded int `yaml:"dead_letter_degraded"`
	DeadLetterCritical int `yaml:"dead_letter_critical"`
}

// DefaultThresholds returns the production defaults.
func DefaultThresholds() Thresholds {
	return Thresholds{
		DeadLetterDegraded: 1,
		DeadLetterCritical: 100,
	}
}

// Monitor aggregates health status from the pipeline components.
type Monitor struct {
	capacity   *admission.Controller
	breakers   *breaker.Registry
	deadLetter DeadLetterCounter
	thresholds Thresholds

	mu         sync.RWMutex
	lastCheck  time.Time
	lastReport *Report
}

// NewMonitor creates a health monitor.
func NewMonitor(
	capacity *admission.Controller,
	breakers *breaker.Registry,
	deadLetter DeadLetterCounter,
	thresholds Thresholds,
) *Monitor {
	if thresholds.DeadLetterCritical <= 0 {
		thresholds = DefaultThresholds()
	}
	return &Monitor{
		capacity:   capacity,
		breakers:   breakers,
		deadLetter: deadLetter,
		thresholds: thresholds,
	}
}

// CheckHealth evaluates all components. Results are cached for 10s so probe
// storms never hammer the stores.
func (m *Monitor) CheckHealth(ctx context.Context) *Report {
	m.mu.Lock()
	defer m.mu.Unlock()

	if time.Since(m.lastCheck) < 10*time.Second && m.lastReport != nil {
		return m.lastReport
	}

	report := &Report{
		SystemStatus: StatusHealthy,
		Components:   make(map[string]ComponentHealth),
	}

	report.Components["capacity"] = m.checkCapacity(ctx)
	report.Components["breakers"] = m.checkBreakers()
	report.Components["dead_letter"] = m.checkDeadLetter(ctx)

	for _, c := range report.Components {
		report.SystemStatus = worse(report.SystemStatus, c.Status)
	}

	m.lastCheck = time.Now()
	m.lastReport = report
	return report
}

func (m *Monitor) checkCapacity(ctx context.Context) ComponentHealth {
	h := ComponentHealth{Component: "capacity", Status: StatusHealthy}

	snap, err := m.capacity.Snapshot(ctx)
	if err != nil {
		h.Status = StatusDegraded
		h.Detail = fmt.Sprintf("capacity snapshot failed: %v", err)
		return h
	}

	h.Detail = fmt.Sprintf("queued=%d processing=%d utilization=%.1f%% level=%s",
		snap.TotalQueued, snap.ActiveProcessing, snap.CapacityUtilization, snap.BackpressureLevel)

	switch snap.BackpressureLevel {
	case domain.BackpressureCritical:
		h.Status = StatusCritical
	case domain.BackpressureHeavy, domain.BackpressureModerate:
		h.Status = StatusDegraded
	}
	return h
}

func (m *Monitor) checkBreakers() ComponentHealth {
	h := ComponentHealth{Component: "breakers", Status: StatusHealthy}

	for service, state := range m.breakers.States() {
		switch state {
		case breaker.StateOpen:
			h.Status = worse(h.Status, StatusCritical)
			h.Detail = fmt.Sprintf("breaker open for %s", service)
		case breaker.StateHalfOpen:
			h.Status = worse(h.Status, StatusDegraded)
			if h.Detail == "" {
				h.Detail = fmt.Sprintf("breaker half-open for %s", service)
			}
		}
	}
	return h
}

func (m *Monitor) checkDeadLetter(ctx context.Context) ComponentHealth {
	h := ComponentHealth{Component: "dead_letter", Status: StatusHealthy}

	count, err := m.deadLetter.Count(ctx)
	if err != nil {
		h.Status = StatusDegraded
		h.Detail = fmt.Sprintf("dead letter count failed: %v", err)
		return h
	}

	h.Detail = fmt.Sprintf("count=%d", count)
	if count >= m.thresholds.DeadLetterCritical {
		h.Status = StatusCritical
	} else if count >= m.thresholds.DeadLetterDegraded {
		h.Status = StatusDegraded
	}
	return h
}
