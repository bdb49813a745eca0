package retrypolicy

import (
	"testing"
	"time"

	"github.com/tcynic/resonant-pipeline/internal/core/domain"
	"github.com/tcynic/resonant-pipeline/internal/pipeline/classify"
)

func noJitterEngine() *Engine {
	cfg := DefaultConfig()
	cfg.JitterFraction = 0
	return NewEngine(cfg)
}

func TestDecide_RetryableWithinBudget(t *testing.T) {
	e := noJitterEngine()
	cls := classify.Profile(classify.CategoryNetwork)

	d := e.Decide(cls, 1, domain.PriorityNormal, 1, false)
	if !d.ShouldRetry {
		t.Fatal("network failure on attempt 1 should retry")
	}
	// base 1s * 2^1
	if d.Delay != 2*time.Second {
		t.Errorf("delay = %v, want 2s", d.Delay)
	}
}

func TestDecide_NonRetryableCategories(t *testing.T) {
	e := noJitterEngine()

	for _, cat := range []classify.Category{classify.CategoryValidation, classify.CategoryClientError} {
		d := e.Decide(classify.Profile(cat), 1, domain.PriorityHigh, 1, false)
		if d.ShouldRetry {
			t.Errorf("%s must never retry", cat)
		}
		if d.MaxRetries != 0 {
			t.Errorf("%s MaxRetries = %d, want 0", cat, d.MaxRetries)
		}
	}
}

func TestDecide_ExhaustedBudget(t *testing.T) {
	e := noJitterEngine()
	cls := classify.Profile(classify.CategoryTimeout)

	d := e.Decide(cls, cls.MaxRetries, domain.PriorityNormal, 1, false)
	if d.ShouldRetry {
		t.Errorf("attempt %d of max %d must not retry", cls.MaxRetries, cls.MaxRetries)
	}
}

func TestDecide_BreakerOpenForcesNoRetry(t *testing.T) {
	e := noJitterEngine()
	cls := classify.Profile(classify.CategoryNetwork)

	d := e.Decide(cls, 1, domain.PriorityUrgent, 1, true)
	if d.ShouldRetry {
		t.Fatal("open breaker must force ShouldRetry=false regardless of category")
	}
}

func TestDecide_DelayMonotonicAndCapped(t *testing.T) {
	e := noJitterEngine()
	cls := classify.Profile(classify.CategoryRateLimit)

	// Capped regardless of how large the attempt count grows.
	for attempt := 0; attempt < 20; attempt++ {
		if delay := e.backoff(cls, attempt); delay > cls.MaxDelay {
			t.Fatalf("attempt %d delay %v exceeds cap %v", attempt, delay, cls.MaxDelay)
		}
	}

	// Strictly non-decreasing with jitter disabled.
	var prev time.Duration
	for attempt := 0; attempt < cls.MaxRetries; attempt++ {
		delay := e.backoff(cls, attempt)
		if delay < prev {
			t.Fatalf("delay decreased: attempt %d gave %v after %v", attempt, delay, prev)
		}
		prev = delay
	}
}

func TestDecide_JitterStaysWithinBounds(t *testing.T) {
	e := NewEngine(DefaultConfig()) // 20% jitter
	cls := classify.Profile(classify.CategoryNetwork)

	base := 2 * time.Second // attempt 1: 1s * 2^1
	for i := 0; i < 200; i++ {
		d := e.Decide(cls, 1, domain.PriorityNormal, 1, false)
		lo := time.Duration(float64(base) * 0.8)
		hi := time.Duration(float64(base) * 1.2)
		if d.Delay < lo || d.Delay > hi {
			t.Fatalf("jittered delay %v outside [%v, %v]", d.Delay, lo, hi)
		}
	}
}

func TestDecide_PriorityEscalationAfterRepeatedTimeouts(t *testing.T) {
	e := noJitterEngine()
	cls := classify.Profile(classify.CategoryTimeout)

	// First timeout: no escalation yet.
	d := e.Decide(cls, 1, domain.PriorityNormal, 1, false)
	if d.Escalated {
		t.Fatal("one timeout should not escalate")
	}

	// Second consecutive timeout bumps normal -> high.
	d = e.Decide(cls, 2, domain.PriorityNormal, 2, false)
	if !d.Escalated || d.NewPriority != domain.PriorityHigh {
		t.Fatalf("expected escalation to high, got %s (escalated=%v)", d.NewPriority, d.Escalated)
	}

	// Urgent has nowhere to go.
	d = e.Decide(cls, 2, domain.PriorityUrgent, 5, false)
	if d.Escalated || d.NewPriority != domain.PriorityUrgent {
		t.Error("urgent priority must not escalate further")
	}
}
