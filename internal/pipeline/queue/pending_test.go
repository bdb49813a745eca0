package queue

import (
	"fmt"
	"testing"
	"time"

	"github.com/tcynic/resonant-pipeline/internal/core/domain"
)

func TestPendingIndex_PriorityOrdering(t *testing.T) {
	q := NewPendingIndex()
	base := time.Unix(1700000000, 0)

	q.Add("normal-1", domain.PriorityNormal, base)
	q.Add("urgent-1", domain.PriorityUrgent, base.Add(2*time.Second))
	q.Add("high-1", domain.PriorityHigh, base.Add(1*time.Second))

	// Urgent overtakes everything even though it arrived last.
	if got := q.Next(); got != "urgent-1" {
		t.Fatalf("Next() = %s, want urgent-1", got)
	}
	if got := q.Position("urgent-1"); got != 1 {
		t.Errorf("urgent position = %d, want 1", got)
	}
	if got := q.Position("high-1"); got != 2 {
		t.Errorf("high position = %d, want 2", got)
	}
	if got := q.Position("normal-1"); got != 3 {
		t.Errorf("normal position = %d, want 3", got)
	}
}

func TestPendingIndex_FIFOWithinTier(t *testing.T) {
	q := NewPendingIndex()
	base := time.Unix(1700000000, 0)

	for i := 0; i < 5; i++ {
		q.Add(fmt.Sprintf("n-%d", i), domain.PriorityNormal, base.Add(time.Duration(i)*time.Second))
	}

	for i := 0; i < 5; i++ {
		id := fmt.Sprintf("n-%d", i)
		if got := q.Position(id); got != i+1 {
			t.Errorf("position(%s) = %d, want %d", id, got, i+1)
		}
	}
}

func TestPendingIndex_RemoveRecomputes(t *testing.T) {
	q := NewPendingIndex()
	base := time.Unix(1700000000, 0)

	q.Add("a", domain.PriorityNormal, base)
	q.Add("b", domain.PriorityNormal, base.Add(time.Second))
	q.Add("c", domain.PriorityNormal, base.Add(2*time.Second))

	q.Remove("a")
	if got := q.Next(); got != "b" {
		t.Fatalf("Next() = %s, want b", got)
	}
	if got := q.Position("c"); got != 2 {
		t.Errorf("position(c) = %d, want 2 after removal", got)
	}
	if got := q.Position("a"); got != 0 {
		t.Errorf("removed task should have position 0, got %d", got)
	}
}

func TestPendingIndex_EscalationReorders(t *testing.T) {
	q := NewPendingIndex()
	base := time.Unix(1700000000, 0)

	q.Add("old-normal", domain.PriorityNormal, base)
	q.Add("escalated", domain.PriorityNormal, base.Add(time.Second))

	// Re-add with a higher priority, as the retry path does on escalation.
	q.Add("escalated", domain.PriorityHigh, base.Add(time.Second))

	if got := q.Next(); got != "escalated" {
		t.Fatalf("escalated task should rank first, got %s", got)
	}
	if got := q.Len(); got != 2 {
		t.Errorf("re-adding must not duplicate, len = %d", got)
	}
}

func TestPendingIndex_LargeSetPositionsConsistent(t *testing.T) {
	q := NewPendingIndex()
	base := time.Unix(1700000000, 0)

	// Cross the recompute batch boundary.
	n := recomputeBatch*2 + 7
	for i := 0; i < n; i++ {
		q.Add(fmt.Sprintf("t-%d", i), domain.PriorityNormal, base.Add(time.Duration(i)*time.Millisecond))
	}

	seen := make(map[int]bool)
	for i := 0; i < n; i++ {
		pos := q.Position(fmt.Sprintf("t-%d", i))
		if pos < 1 || pos > n {
			t.Fatalf("position out of range: %d", pos)
		}
		if seen[pos] {
			t.Fatalf("duplicate position %d", pos)
		}
		seen[pos] = true
	}
}
