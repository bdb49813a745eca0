// Package queue maintains the in-memory index of pending tasks and their
// queue positions: priority tier descending, FIFO within a tier.
package queue

import (
	"sort"
	"sync"
	"time"

	"github.com/tcynic/resonant-pipeline/internal/core/domain"
)

// Batch size for position recomputation. Positions are reassigned in groups
// so one enqueue does not trigger an O(n^2) walk in steady state.
const recomputeBatch = 50

// entry is one pending task in the index.
type entry struct {
	id       string
	priority domain.Priority
	queuedAt time.Time
	position int
}

// PendingIndex tracks queued (not yet processing) tasks and their positions.
type PendingIndex struct {
	mu      sync.Mutex
	entries map[string]*entry
	order   []*entry // sorted; positions assigned from this slice
	dirty   bool
}

// NewPendingIndex creates an empty index.
func NewPendingIndex() *PendingIndex {
	return &PendingIndex{
		entries: make(map[string]*entry),
	}
}

// Add registers a queued task. Re-adding an existing id updates its priority
// and marks positions stale (used on retry re-enqueue with escalation).
func (q *PendingIndex) Add(id string, priority domain.Priority, queuedAt time.Time) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if e, ok := q.entries[id]; ok {
		e.priority = priority
		q.dirty = true
		return
	}

	e := &entry{id: id, priority: priority, queuedAt: queuedAt}
	q.entries[id] = e
	q.order = append(q.order, e)
	q.dirty = true
}

// Remove drops a task from the pending set (dequeued for processing, or
// terminalized while queued).
func (q *PendingIndex) Remove(id string) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, ok := q.entries[id]; !ok {
		return
	}
	delete(q.entries, id)
	for i, e := range q.order {
		if e.id == id {
			q.order = append(q.order[:i], q.order[i+1:]...)
			break
		}
	}
	q.dirty = true
}

// Next returns the id of the highest-ranked pending task, or "" when empty.
func (q *PendingIndex) Next() string {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.recomputeLocked()
	if len(q.order) == 0 {
		return ""
	}
	return q.order[0].id
}

// Position returns the 1-based queue position for a task, or 0 if unknown.
func (q *PendingIndex) Position(id string) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.recomputeLocked()
	e, ok := q.entries[id]
	if !ok {
		return 0
	}
	return e.position
}

// Len returns the pending set size.
func (q *PendingIndex) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.order)
}

// recomputeLocked re-sorts and reassigns positions for the whole pending set.
// Runs only when membership or priorities changed since the last call.
func (q *PendingIndex) recomputeLocked() {
	if !q.dirty {
		return
	}

	sort.SliceStable(q.order, func(i, j int) bool {
		a, b := q.order[i], q.order[j]
		if wa, wb := a.priority.Weight(), b.priority.Weight(); wa != wb {
			return wa > wb
		}
		return a.queuedAt.Before(b.queuedAt)
	})

	// Assign positions in batches to keep the hot loop cache-friendly.
	for start := 0; start < len(q.order); start += recomputeBatch {
		end := start + recomputeBatch
		if end > len(q.order) {
			end = len(q.order)
		}
		for i := start; i < end; i++ {
			q.order[i].position = i + 1
		}
	}
	q.dirty = false
}
