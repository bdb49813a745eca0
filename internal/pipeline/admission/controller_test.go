package admission

import (
	"context"
	"testing"
	"time"

	"github.com/tcynic/resonant-pipeline/internal/core/domain"
)

type stubLoad struct {
	queued     int
	processing int
	avgWait    time.Duration
}

func (s *stubLoad) QueuedCount(ctx context.Context) (int, error)     { return s.queued, nil }
func (s *stubLoad) ProcessingCount(ctx context.Context) (int, error) { return s.processing, nil }

func (s *stubLoad) AverageWait(ctx context.Context) (time.Duration, error) {
	return s.avgWait, nil
}

func newController(queued, processing int) (*Controller, *stubLoad) {
	load := &stubLoad{queued: queued, processing: processing}
	c := NewController(Config{MaxQueueSize: 100, MaxProcessing: 10}, load)
	return c, load
}

func TestLevelFor(t *testing.T) {
	cases := []struct {
		util     float64
		expected domain.BackpressureLevel
	}{
		{0, domain.BackpressureNone},
		{49.9, domain.BackpressureNone},
		{50, domain.BackpressureLight},
		{70, domain.BackpressureModerate},
		{85, domain.BackpressureHeavy},
		{95, domain.BackpressureCritical},
		{120, domain.BackpressureCritical},
	}
	for _, tc := range cases {
		if got := LevelFor(tc.util); got != tc.expected {
			t.Errorf("LevelFor(%v) = %s, want %s", tc.util, got, tc.expected)
		}
	}
}

func TestCheckCapacity_AdmitsWhenIdle(t *testing.T) {
	c, _ := newController(5, 1)

	for _, p := range []domain.Priority{domain.PriorityNormal, domain.PriorityHigh, domain.PriorityUrgent} {
		d, err := c.CheckCapacity(context.Background(), p)
		if err != nil {
			t.Fatalf("CheckCapacity(%s): %v", p, err)
		}
		if !d.Allowed {
			t.Errorf("idle queue should admit %s priority: %s", p, d.Reason)
		}
	}
}

func TestCheckCapacity_FullQueueRejectsExceptUrgent(t *testing.T) {
	// Queue full, workers at 90%: the valve keys on processing utilization,
	// so urgent is still admitted while everything else hits the ceiling.
	c, _ := newController(100, 9)
	ctx := context.Background()

	for _, p := range []domain.Priority{domain.PriorityNormal, domain.PriorityHigh} {
		d, _ := c.CheckCapacity(ctx, p)
		if d.Allowed {
			t.Errorf("full queue must reject %s priority", p)
		}
	}

	d, _ := c.CheckCapacity(ctx, domain.PriorityUrgent)
	if !d.Allowed {
		t.Errorf("urgent with idle workers must pass the escape valve: %s", d.Reason)
	}
}

func TestCheckCapacity_UrgentRefusedAtProcessingCeiling(t *testing.T) {
	// All workers busy: processing utilization 100 >= 98 closes the valve.
	c, _ := newController(100, 10)

	d, _ := c.CheckCapacity(context.Background(), domain.PriorityUrgent)
	if d.Allowed {
		t.Error("urgent must be refused once workers are saturated past the ceiling")
	}
}

func TestCheckCapacity_UrgentEscapeValve(t *testing.T) {
	// 97% queue utilization: heavy rejection territory for everyone else.
	c, _ := newController(97, 9)
	ctx := context.Background()

	d, _ := c.CheckCapacity(ctx, domain.PriorityUrgent)
	if !d.Allowed {
		t.Errorf("urgent below 98%% utilization must be admitted: %s", d.Reason)
	}

	d, _ = c.CheckCapacity(ctx, domain.PriorityNormal)
	if d.Allowed {
		t.Error("normal priority must be rejected at 97%% utilization")
	}
}

func TestCheckCapacity_HeavyBackpressureDelaysNormal(t *testing.T) {
	// 90% capacity utilization => heavy backpressure.
	c, _ := newController(90, 5)

	d, _ := c.CheckCapacity(context.Background(), domain.PriorityNormal)
	if d.Allowed {
		t.Fatal("normal priority should be rejected under heavy backpressure")
	}
	if d.BackpressureLevel != domain.BackpressureHeavy {
		t.Fatalf("expected heavy backpressure, got %s", d.BackpressureLevel)
	}
	if d.OverflowStrategy != OverflowDelay {
		t.Fatalf("normal priority under heavy pressure should delay, got %s", d.OverflowStrategy)
	}
	// 30s * 4 (heavy) + 30s normal base delay.
	if want := 150 * time.Second; d.RetryAfter != want {
		t.Errorf("retry-after = %v, want %v", d.RetryAfter, want)
	}
}

func TestCheckCapacity_HeavyBackpressureUpgradesHigh(t *testing.T) {
	c, _ := newController(90, 5)

	d, _ := c.CheckCapacity(context.Background(), domain.PriorityHigh)
	if d.Allowed {
		t.Fatal("high priority should be rejected at 90%% utilization")
	}
	if d.OverflowStrategy != OverflowUpgradePriority {
		t.Errorf("high priority under heavy pressure should upgrade, got %s", d.OverflowStrategy)
	}
	// Upgrade strategy: level multiplier only, no priority base delay.
	if want := 120 * time.Second; d.RetryAfter != want {
		t.Errorf("retry-after = %v, want %v", d.RetryAfter, want)
	}
}

func TestCheckCapacity_ThresholdAdjustment(t *testing.T) {
	// 72% utilization => moderate backpressure (-10). Normal threshold drops
	// from 75 to 65, so a normal task at 72% is refused with a delay.
	c, _ := newController(72, 0)

	d, _ := c.CheckCapacity(context.Background(), domain.PriorityNormal)
	if d.Allowed {
		t.Fatal("normal priority should be refused once the adjusted threshold is crossed")
	}
	if d.OverflowStrategy != OverflowDelay {
		t.Errorf("moderate pressure should delay, got %s", d.OverflowStrategy)
	}

	// High threshold 85-10=75 > 72, still admitted.
	d, _ = c.CheckCapacity(context.Background(), domain.PriorityHigh)
	if !d.Allowed {
		t.Errorf("high priority should still be admitted at 72%%: %s", d.Reason)
	}
}

func TestCheckCapacity_RetryAfterCapped(t *testing.T) {
	c, _ := newController(100, 10)

	d, _ := c.CheckCapacity(context.Background(), domain.PriorityNormal)
	if d.Allowed {
		t.Fatal("expected rejection")
	}
	if d.RetryAfter > 5*time.Minute {
		t.Errorf("retry-after must be capped at 5m, got %v", d.RetryAfter)
	}
}

func TestSnapshot_Levels(t *testing.T) {
	c, load := newController(0, 0)
	ctx := context.Background()

	load.queued = 55 // 55% of 100
	snap, err := c.Snapshot(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if snap.BackpressureLevel != domain.BackpressureLight {
		t.Errorf("expected light, got %s", snap.BackpressureLevel)
	}

	// Processing utilization dominates when it is the higher of the two.
	load.queued = 10
	load.processing = 9 // 90% of 10 workers
	snap, _ = c.Snapshot(ctx)
	if snap.BackpressureLevel != domain.BackpressureHeavy {
		t.Errorf("expected heavy from processing utilization, got %s", snap.BackpressureLevel)
	}
}
