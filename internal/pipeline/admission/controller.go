// Package admission decides whether new analysis work may enter the system
// given current queue and worker load.
package admission

import (
	"context"
	"time"

	"github.com/tcynic/resonant-pipeline/internal/core/domain"
	"github.com/tcynic/resonant-pipeline/internal/pipeline/metrics"
)

// OverflowStrategy is the suggested action when a task cannot be admitted now.
type OverflowStrategy string

const (
	OverflowReject          OverflowStrategy = "reject"
	OverflowDelay           OverflowStrategy = "delay"
	OverflowUpgradePriority OverflowStrategy = "upgrade_priority"
)

// Decision is the outcome of a capacity check.
type Decision struct {
	Allowed           bool
	Reason            string
	BackpressureLevel domain.BackpressureLevel
	EstimatedWait     time.Duration
	RetryAfter        time.Duration
	OverflowStrategy  OverflowStrategy
}

// LoadReporter supplies the live counts the controller derives pressure from.
type LoadReporter interface {
	QueuedCount(ctx context.Context) (int, error)
	ProcessingCount(ctx context.Context) (int, error)
	AverageWait(ctx context.Context) (time.Duration, error)
}

// Config holds admission tuning.
type Config struct {
	MaxQueueSize  int
	MaxProcessing int
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		MaxQueueSize:  1000,
		MaxProcessing: 10,
	}
}

// Controller computes backpressure and admits, delays or rejects new tasks.
type Controller struct {
	cfg  Config
	load LoadReporter
}

// NewController creates an admission controller over the given load source.
func NewController(cfg Config, load LoadReporter) *Controller {
	if cfg.MaxQueueSize <= 0 {
		cfg.MaxQueueSize = DefaultConfig().MaxQueueSize
	}
	if cfg.MaxProcessing <= 0 {
		cfg.MaxProcessing = DefaultConfig().MaxProcessing
	}
	return &Controller{cfg: cfg, load: load}
}

// Base admission threshold per priority, in percent utilization.
func baseThreshold(p domain.Priority) float64 {
	switch p {
	case domain.PriorityUrgent:
		return 95
	case domain.PriorityHigh:
		return 85
	default:
		return 75
	}
}

// Threshold adjustment per backpressure level. Higher pressure lowers the
// admission bar for everything.
func levelAdjustment(l domain.BackpressureLevel) float64 {
	switch l {
	case domain.BackpressureLight:
		return -5
	case domain.BackpressureModerate:
		return -10
	case domain.BackpressureHeavy:
		return -15
	case domain.BackpressureCritical:
		return -20
	default:
		return 0
	}
}

// Retry-after multiplier per backpressure level (base 30s).
func levelMultiplier(l domain.BackpressureLevel) int {
	switch l {
	case domain.BackpressureLight:
		return 1
	case domain.BackpressureModerate:
		return 2
	case domain.BackpressureHeavy:
		return 4
	case domain.BackpressureCritical:
		return 8
	default:
		return 0
	}
}

// Priority-specific base delay for the delay overflow strategy.
func priorityBaseDelay(p domain.Priority) time.Duration {
	switch p {
	case domain.PriorityUrgent:
		return 5 * time.Second
	case domain.PriorityHigh:
		return 15 * time.Second
	default:
		return 30 * time.Second
	}
}

const (
	retryAfterBase = 30 * time.Second
	retryAfterCap  = 5 * time.Minute
	urgentCeiling  = 98.0 // urgent escape valve closes at this processing utilization
	thresholdFloor = 50.0
)

// levelRank maps a backpressure level to its gauge value (0 none .. 4 critical).
func levelRank(l domain.BackpressureLevel) int {
	switch l {
	case domain.BackpressureLight:
		return 1
	case domain.BackpressureModerate:
		return 2
	case domain.BackpressureHeavy:
		return 3
	case domain.BackpressureCritical:
		return 4
	default:
		return 0
	}
}

// LevelFor maps peak utilization percent to a backpressure level.
func LevelFor(utilization float64) domain.BackpressureLevel {
	switch {
	case utilization >= 95:
		return domain.BackpressureCritical
	case utilization >= 85:
		return domain.BackpressureHeavy
	case utilization >= 70:
		return domain.BackpressureModerate
	case utilization >= 50:
		return domain.BackpressureLight
	default:
		return domain.BackpressureNone
	}
}

// Snapshot recomputes the capacity aggregate from live counts.
func (c *Controller) Snapshot(ctx context.Context) (domain.CapacitySnapshot, error) {
	queued, err := c.load.QueuedCount(ctx)
	if err != nil {
		return domain.CapacitySnapshot{}, err
	}
	processing, err := c.load.ProcessingCount(ctx)
	if err != nil {
		return domain.CapacitySnapshot{}, err
	}
	avgWait, err := c.load.AverageWait(ctx)
	if err != nil {
		return domain.CapacitySnapshot{}, err
	}

	capUtil := float64(queued) / float64(c.cfg.MaxQueueSize) * 100
	procUtil := float64(processing) / float64(c.cfg.MaxProcessing) * 100

	level := LevelFor(max(capUtil, procUtil))
	metrics.BackpressureLevel.Set(float64(levelRank(level)))

	return domain.CapacitySnapshot{
		TotalQueued:           queued,
		ActiveProcessing:      processing,
		CapacityUtilization:   capUtil,
		ProcessingUtilization: procUtil,
		BackpressureLevel:     level,
		AverageWaitTime:       avgWait,
	}, nil
}

// CheckCapacity decides whether a task at the given priority may be admitted.
func (c *Controller) CheckCapacity(ctx context.Context, priority domain.Priority) (Decision, error) {
	snap, err := c.Snapshot(ctx)
	if err != nil {
		return Decision{}, err
	}
	return c.decide(snap, priority), nil
}

func (c *Controller) decide(snap domain.CapacitySnapshot, priority domain.Priority) Decision {
	peak := max(snap.CapacityUtilization, snap.ProcessingUtilization)
	level := snap.BackpressureLevel

	// Urgent escape valve, keyed on processing utilization alone: a full queue
	// with idle workers still admits urgent work. The valve closes only once
	// the workers themselves are saturated past the hard ceiling.
	if priority == domain.PriorityUrgent && snap.ProcessingUtilization < urgentCeiling {
		return Decision{
			Allowed:           true,
			Reason:            "urgent priority admitted",
			BackpressureLevel: level,
			EstimatedWait:     snap.AverageWaitTime,
		}
	}

	// Absolute ceiling on queue depth for everything else.
	if snap.TotalQueued >= c.cfg.MaxQueueSize {
		return c.rejected(snap, priority, "queue at maximum size")
	}

	threshold := baseThreshold(priority) + levelAdjustment(level)
	if threshold < thresholdFloor {
		threshold = thresholdFloor
	}

	if peak >= threshold {
		return c.rejected(snap, priority, "utilization above admission threshold")
	}

	return Decision{
		Allowed:           true,
		Reason:            "capacity available",
		BackpressureLevel: level,
		EstimatedWait:     snap.AverageWaitTime,
	}
}

// rejected picks the overflow strategy and retry-after for a denied task.
func (c *Controller) rejected(snap domain.CapacitySnapshot, priority domain.Priority, reason string) Decision {
	level := snap.BackpressureLevel
	strategy := overflowStrategy(level, priority)

	retryAfter := retryAfterBase * time.Duration(levelMultiplier(level))
	if strategy == OverflowDelay {
		retryAfter += priorityBaseDelay(priority)
	}
	if retryAfter > retryAfterCap {
		retryAfter = retryAfterCap
	}

	return Decision{
		Allowed:           false,
		Reason:            reason,
		BackpressureLevel: level,
		EstimatedWait:     snap.AverageWaitTime,
		RetryAfter:        retryAfter,
		OverflowStrategy:  strategy,
	}
}

func overflowStrategy(level domain.BackpressureLevel, priority domain.Priority) OverflowStrategy {
	switch level {
	case domain.BackpressureCritical:
		if priority == domain.PriorityUrgent {
			return OverflowUpgradePriority
		}
		return OverflowReject
	case domain.BackpressureHeavy:
		if priority == domain.PriorityNormal {
			return OverflowDelay
		}
		return OverflowUpgradePriority
	case domain.BackpressureModerate:
		return OverflowDelay
	default:
		if priority == domain.PriorityUrgent {
			return OverflowUpgradePriority
		}
		return OverflowDelay
	}
}

func max(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}
