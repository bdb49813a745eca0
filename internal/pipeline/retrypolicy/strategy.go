// Package retrypolicy computes whether and when a failed task runs again.
// The decision folds together the error classification, the attempt count and
// live circuit-breaker health; the actual re-dispatch is the orchestrator's
// scheduler, never a blocking wait here.
package retrypolicy

import (
	"math"
	"math/rand"
	"time"

	"github.com/tcynic/resonant-pipeline/internal/core/domain"
	"github.com/tcynic/resonant-pipeline/internal/pipeline/classify"
)

// Decision is the outcome of evaluating one failure.
type Decision struct {
	ShouldRetry bool
	Delay       time.Duration
	NewPriority domain.Priority // may equal the current priority
	MaxRetries  int
	Escalated   bool
}

// Config holds retry engine tuning.
type Config struct {
	// JitterFraction is the ± variance applied to computed delays (0.2 = ±20%).
	JitterFraction float64
	// EscalateAfter maps a category to the number of consecutive same-category
	// failures after which priority is bumped one tier.
	EscalateAfter map[classify.Category]int
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		JitterFraction: 0.2,
		EscalateAfter: map[classify.Category]int{
			classify.CategoryTimeout:   2,
			classify.CategoryNetwork:   3,
			classify.CategoryRateLimit: 3,
		},
	}
}

// Engine evaluates retry decisions.
type Engine struct {
	cfg  Config
	rand *rand.Rand
}

// NewEngine creates a retry engine.
func NewEngine(cfg Config) *Engine {
	if cfg.JitterFraction < 0 || cfg.JitterFraction >= 1 {
		cfg.JitterFraction = DefaultConfig().JitterFraction
	}
	return &Engine{
		cfg:  cfg,
		rand: rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Decide computes the retry decision for a task that just failed.
// attempt is the number of attempts already made (>= 1 on first failure).
// sameCategoryFailures counts consecutive failures of this category including
// the current one. breakerOpen short-circuits retry entirely: hammering an
// already-failing dependency only feeds a retry storm.
func (e *Engine) Decide(
	cls classify.Classification,
	attempt int,
	priority domain.Priority,
	sameCategoryFailures int,
	breakerOpen bool,
) Decision {
	d := Decision{
		NewPriority: priority,
		MaxRetries:  cls.MaxRetries,
	}

	if breakerOpen {
		return d
	}
	if !cls.Retryable || attempt >= cls.MaxRetries {
		return d
	}

	d.ShouldRetry = true
	d.Delay = e.backoff(cls, attempt)

	if threshold, ok := e.cfg.EscalateAfter[cls.Category]; ok && sameCategoryFailures >= threshold {
		if next := escalate(priority); next != priority {
			d.NewPriority = next
			d.Escalated = true
		}
	}

	return d
}

// backoff computes min(base * multiplier^attempt, cap) with ± jitter.
// The expectation is non-decreasing in attempt and hard-capped regardless.
func (e *Engine) backoff(cls classify.Classification, attempt int) time.Duration {
	raw := float64(cls.BaseDelay) * math.Pow(cls.BackoffMultiple, float64(attempt))
	if raw > float64(cls.MaxDelay) {
		raw = float64(cls.MaxDelay)
	}

	if e.cfg.JitterFraction > 0 {
		// jitter in [-fraction, +fraction]
		jitter := (e.rand.Float64()*2 - 1) * e.cfg.JitterFraction
		raw *= 1 + jitter
	}
	if raw > float64(cls.MaxDelay) {
		raw = float64(cls.MaxDelay)
	}
	if raw < 0 {
		raw = 0
	}
	return time.Duration(raw)
}

func escalate(p domain.Priority) domain.Priority {
	switch p {
	case domain.PriorityNormal:
		return domain.PriorityHigh
	case domain.PriorityHigh:
		return domain.PriorityUrgent
	default:
		return p
	}
}
