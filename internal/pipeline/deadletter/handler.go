// Package deadletter is the terminal sink for tasks that exhaust retries or
// hit non-recoverable conditions, and the recovery path back out of it.
package deadletter

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/tcynic/resonant-pipeline/internal/core/domain"
	"github.com/tcynic/resonant-pipeline/internal/infra/storage"
	"github.com/tcynic/resonant-pipeline/internal/pipeline/classify"
	"github.com/tcynic/resonant-pipeline/internal/pipeline/metrics"
)

// RecordStore persists dead-letter records for operator listing and recovery.
// Satisfied by the Redis repository.
type RecordStore interface {
	Add(ctx context.Context, rec *domain.DeadLetterRecord) error
	Get(ctx context.Context, taskID string) (*domain.DeadLetterRecord, error)
	Remove(ctx context.Context, taskID string) error
	GetAll(ctx context.Context) ([]*domain.DeadLetterRecord, error)
	Count(ctx context.Context) (int, error)
}

// Requeue re-enqueues a recovered task into the pending set.
type Requeue func(ctx context.Context, task *domain.AnalysisTask) error

// Handler moves tasks into and out of the dead letter queue.
type Handler struct {
	tasks   storage.TaskRepository
	records RecordStore
	requeue Requeue
	log     *slog.Logger
}

// NewHandler creates a dead letter handler.
func NewHandler(tasks storage.TaskRepository, records RecordStore, requeue Requeue) *Handler {
	return &Handler{
		tasks:   tasks,
		records: records,
		requeue: requeue,
		log:     slog.Default().With("component", "deadletter"),
	}
}

// Escalate terminalizes a task into the dead letter queue. The escalation
// category is derived in priority order: retry budget exhausted, then
// non-recoverable classification, then breaker trip, then permanent failure.
func (h *Handler) Escalate(
	ctx context.Context,
	task *domain.AnalysisTask,
	reason string,
	cls classify.Classification,
	breakerTripped bool,
) (*domain.DeadLetterRecord, error) {
	category := escalationCategory(task.Attempt, cls, breakerTripped)
	now := time.Now().UTC()

	failed := domain.TaskStatusFailed
	dead := true
	patch := storage.TaskPatch{
		Status:             &failed,
		DeadLetter:         &dead,
		DeadLetterCategory: &category,
		DeadLetterReason:   &reason,
		BreakerSnapshot:    task.BreakerSnapshot,
		FinalAttemptAt:     &now,
		ClearNextRetry:     true,
	}
	if err := h.tasks.Patch(ctx, task.ID, patch); err != nil {
		return nil, fmt.Errorf("failed to terminalize task: %w", err)
	}

	firstAttempt := task.QueuedAt
	if task.FirstAttemptAt != nil {
		firstAttempt = *task.FirstAttemptAt
	}

	rec := &domain.DeadLetterRecord{
		TaskID:         task.ID,
		EntryID:        task.EntryID,
		OwnerID:        task.OwnerID,
		Priority:       task.Priority,
		Reason:         reason,
		Category:       category,
		Attempts:       task.Attempt,
		FirstAttemptAt: firstAttempt,
		FinalAttemptAt: now,
		TotalWait:      now.Sub(task.QueuedAt),
		Breaker:        task.BreakerSnapshot,
		CreatedAt:      now,
	}
	if err := h.records.Add(ctx, rec); err != nil {
		// Task row already carries the dead-letter state; the record store is
		// an index, so a write failure here is logged, not fatal.
		h.log.Error("failed to store dead letter record", "task_id", task.ID, "error", err)
	}

	metrics.DeadLettered.WithLabelValues(string(category)).Inc()
	h.log.Warn("task dead-lettered",
		"task_id", task.ID, "category", category, "attempts", task.Attempt, "reason", reason)

	return rec, nil
}

func escalationCategory(attempt int, cls classify.Classification, breakerTripped bool) domain.EscalationCategory {
	switch {
	case cls.Retryable && attempt >= cls.MaxRetries:
		return domain.EscalationMaxRetries
	case !cls.Retryable:
		return domain.EscalationNonRecoverable
	case breakerTripped:
		return domain.EscalationCircuitBreaker
	default:
		return domain.EscalationPermanent
	}
}

// RecoveryResult reports one item of a bulk recovery.
type RecoveryResult struct {
	TaskID  string `json:"task_id"`
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// Reason pattern sets for recovery validation. Unknown reasons default to
// recoverable: a wasted retry is cheaper than silent data loss.
var (
	nonRecoverablePatterns = []string{
		"validation", "malformed", "auth", "unauthorized", "forbidden",
		"permanently exceeded", "user cancelled", "user canceled",
	}
	recoverablePatterns = []string{
		"timeout", "network", "temporary", "rate limit", "capacity",
		"overload", "unavailable", "connection",
	}
)

// Recoverable reports whether a dead-letter reason may be recovered without
// an explicit override.
func Recoverable(reason string) bool {
	lower := strings.ToLower(reason)
	for _, p := range nonRecoverablePatterns {
		if strings.Contains(lower, p) {
			return false
		}
	}
	for _, p := range recoverablePatterns {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return true
}

// Recover re-enqueues dead-lettered tasks. Each id is handled independently;
// one bad id never aborts the batch. Already-recovered ids report failure
// with a clear reason (idempotent no-op on the task itself).
func (h *Handler) Recover(ctx context.Context, ids []string, newPriority domain.Priority) []RecoveryResult {
	results := make([]RecoveryResult, 0, len(ids))
	for _, id := range ids {
		if err := h.recoverOne(ctx, id, newPriority); err != nil {
			metrics.DeadLetterRecovered.WithLabelValues("failure").Inc()
			results = append(results, RecoveryResult{TaskID: id, Success: false, Error: err.Error()})
			continue
		}
		metrics.DeadLetterRecovered.WithLabelValues("success").Inc()
		results = append(results, RecoveryResult{TaskID: id, Success: true})
	}
	return results
}

func (h *Handler) recoverOne(ctx context.Context, id string, newPriority domain.Priority) error {
	task, err := h.tasks.Get(ctx, id)
	if err != nil {
		return fmt.Errorf("task not found: %w", err)
	}
	if !task.DeadLetter {
		return fmt.Errorf("task %s is not dead-lettered (already recovered?)", id)
	}
	if !Recoverable(task.DeadLetterReason) {
		return fmt.Errorf("reason %q is non-recoverable without override", task.DeadLetterReason)
	}

	priority := newPriority
	if !priority.Valid() {
		priority = task.Priority
	}

	queued := domain.TaskStatusQueued
	zero := 0
	now := time.Now().UTC()
	patch := storage.TaskPatch{
		Status:          &queued,
		Priority:        &priority,
		Attempt:         &zero,
		QueuedAt:        &now,
		ClearDeadLetter: true,
		ClearNextRetry:  true,
	}
	if err := h.tasks.Patch(ctx, id, patch); err != nil {
		return fmt.Errorf("failed to reset task: %w", err)
	}

	task.Status = queued
	task.Priority = priority
	task.Attempt = 0
	task.DeadLetter = false
	task.DeadLetterCategory = ""
	task.DeadLetterReason = ""
	task.BreakerSnapshot = nil
	task.QueuedAt = now

	if err := h.requeue(ctx, task); err != nil {
		return fmt.Errorf("failed to re-enqueue task: %w", err)
	}

	if err := h.records.Remove(ctx, id); err != nil {
		h.log.Error("failed to remove dead letter record", "task_id", id, "error", err)
	}

	h.log.Info("task recovered from dead letter queue", "task_id", id, "priority", priority)
	return nil
}

// List returns dead-lettered tasks matching the filter.
func (h *Handler) List(ctx context.Context, filter storage.DeadLetterFilter) ([]*domain.AnalysisTask, error) {
	return h.tasks.ListDeadLetter(ctx, filter)
}
