// Package breaker implements a per-dependency circuit breaker gating calls to
// the completion service.
package breaker

import (
	"sync"
	"time"

	"github.com/tcynic/resonant-pipeline/internal/core/domain"
	"github.com/tcynic/resonant-pipeline/internal/pipeline/metrics"
)

// State is the breaker state machine position.
type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half-open"
)

// Config holds breaker tuning.
type Config struct {
	FailureThreshold    int           // failures within window before opening
	MonitoringWindow    time.Duration // sliding window for recent failures
	Cooldown            time.Duration // open -> half-open delay
	HalfOpenMaxAttempts int           // consecutive successes to close
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		FailureThreshold:    5,
		MonitoringWindow:    5 * time.Minute,
		Cooldown:            60 * time.Second,
		HalfOpenMaxAttempts: 3,
	}
}

// Breaker is a single-dependency circuit breaker. All transitions happen under
// the mutex; there is no background timer — open -> half-open is evaluated
// lazily on the next CanExecute call.
type Breaker struct {
	mu sync.Mutex

	service string
	cfg     Config

	state           State
	failureCount    int
	successCount    int // meaningful only in half-open
	lastFailureTime time.Time
	nextAttemptTime time.Time
	recentFailures  []time.Time
	now             func() time.Time
}

// New creates a closed breaker for the named service.
func New(service string, cfg Config) *Breaker {
	if cfg.FailureThreshold <= 0 {
		cfg = DefaultConfig()
	}
	return &Breaker{
		service: service,
		cfg:     cfg,
		state:   StateClosed,
		now:     time.Now,
	}
}

// CanExecute is the single gate consulted before attempting a call.
// closed: always true. open: true once the cooldown elapsed, transitioning to
// half-open. half-open: true while test attempts remain.
func (b *Breaker) CanExecute() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.pruneLocked()

	switch b.state {
	case StateClosed:
		return true
	case StateOpen:
		if !b.now().Before(b.nextAttemptTime) {
			b.setStateLocked(StateHalfOpen)
			b.successCount = 0
			return true
		}
		return false
	case StateHalfOpen:
		return b.successCount < b.cfg.HalfOpenMaxAttempts
	}
	return false
}

// RecordSuccess registers a successful call. In closed state an isolated
// failure decays (count decrements, floor 0) rather than vanishing instantly.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		if b.failureCount > 0 {
			b.failureCount--
		}
		if len(b.recentFailures) > 0 {
			b.recentFailures = b.recentFailures[1:]
		}
	case StateHalfOpen:
		b.successCount++
		if b.successCount >= b.cfg.HalfOpenMaxAttempts {
			b.resetLocked()
		}
	}
}

// RecordFailure registers a failed call. Half-open reopens immediately on any
// failure; closed opens once the windowed failure count hits the threshold.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	b.lastFailureTime = now

	switch b.state {
	case StateHalfOpen:
		b.openLocked(now)
	case StateClosed:
		b.recentFailures = append(b.recentFailures, now)
		b.pruneLocked()
		b.failureCount = len(b.recentFailures)
		if b.failureCount >= b.cfg.FailureThreshold {
			b.openLocked(now)
		}
	case StateOpen:
		b.recentFailures = append(b.recentFailures, now)
		b.failureCount = len(b.recentFailures)
	}
}

// State returns the current state without transitioning it.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Snapshot captures breaker state for the task audit trail.
func (b *Breaker) Snapshot() domain.BreakerSnapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	return domain.BreakerSnapshot{
		Service:      b.service,
		State:        string(b.state),
		FailureCount: b.failureCount,
	}
}

// NextAttemptAt returns when an open breaker will allow a test call.
func (b *Breaker) NextAttemptAt() time.Time {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.nextAttemptTime
}

// Reset forces the breaker closed. Operator action.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.resetLocked()
}

func (b *Breaker) openLocked(now time.Time) {
	b.setStateLocked(StateOpen)
	b.successCount = 0
	b.nextAttemptTime = now.Add(b.cfg.Cooldown)
}

func (b *Breaker) resetLocked() {
	b.setStateLocked(StateClosed)
	b.failureCount = 0
	b.successCount = 0
	b.recentFailures = nil
	b.nextAttemptTime = time.Time{}
}

func (b *Breaker) setStateLocked(s State) {
	b.state = s
	metrics.BreakerState.WithLabelValues(b.service).Set(stateGaugeValue(s))
}

func stateGaugeValue(s State) float64 {
	switch s {
	case StateHalfOpen:
		return 1
	case StateOpen:
		return 2
	default:
		return 0
	}
}

// pruneLocked drops failure timestamps outside the monitoring window.
func (b *Breaker) pruneLocked() {
	if len(b.recentFailures) == 0 {
		return
	}
	cutoff := b.now().Add(-b.cfg.MonitoringWindow)
	kept := b.recentFailures[:0]
	for _, t := range b.recentFailures {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	b.recentFailures = kept
	if b.state == StateClosed {
		b.failureCount = len(b.recentFailures)
	}
}
