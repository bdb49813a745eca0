// Package orchestrator drives a task through analysis: breaker gating, the
// completion call, retry scheduling, fallback, and dead-letter escalation.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/tcynic/resonant-pipeline/internal/core/domain"
	"github.com/tcynic/resonant-pipeline/internal/infra/budget"
	"github.com/tcynic/resonant-pipeline/internal/infra/completion"
	"github.com/tcynic/resonant-pipeline/internal/infra/storage"
	"github.com/tcynic/resonant-pipeline/internal/pipeline/breaker"
	"github.com/tcynic/resonant-pipeline/internal/pipeline/classify"
	"github.com/tcynic/resonant-pipeline/internal/pipeline/deadletter"
	"github.com/tcynic/resonant-pipeline/internal/pipeline/fallback"
	"github.com/tcynic/resonant-pipeline/internal/pipeline/metrics"
	"github.com/tcynic/resonant-pipeline/internal/pipeline/retrypolicy"
)

// CompletionService is the name breakers and snapshots use for the external
// analysis dependency.
const CompletionService = "completion"

// Scheduler re-enqueues tasks, now or after a delay. Satisfied by the
// Dispatcher.
type Scheduler interface {
	Enqueue(id string, priority domain.Priority, queuedAt time.Time)
	ScheduleRetry(id string, priority domain.Priority, queuedAt time.Time, delay time.Duration)
}

// Config holds orchestrator tuning.
type Config struct {
	// FallbackEnabled routes exhausted or breaker-blocked tasks through the
	// rule-based analyzer instead of the dead letter queue.
	FallbackEnabled bool
}

type streak struct {
	category classify.Category
	count    int
}

// Orchestrator runs one task at a time through the resilience state machine.
type Orchestrator struct {
	cfg      Config
	tasks    storage.TaskRepository
	entries  storage.EntryStore
	svc      completion.Service
	breakers *breaker.Registry
	retry    *retrypolicy.Engine
	fallback *fallback.Analyzer
	dlq      *deadletter.Handler
	budget   budget.Tracker
	sched    Scheduler
	log      *slog.Logger

	mu      sync.Mutex
	streaks map[string]streak
}

// New creates an orchestrator.
func New(
	cfg Config,
	tasks storage.TaskRepository,
	entries storage.EntryStore,
	svc completion.Service,
	breakers *breaker.Registry,
	retry *retrypolicy.Engine,
	fb *fallback.Analyzer,
	dlq *deadletter.Handler,
	tracker budget.Tracker,
	sched Scheduler,
) *Orchestrator {
	return &Orchestrator{
		cfg:      cfg,
		tasks:    tasks,
		entries:  entries,
		svc:      svc,
		breakers: breakers,
		retry:    retry,
		fallback: fb,
		dlq:      dlq,
		budget:   tracker,
		sched:    sched,
		log:      slog.Default().With("component", "orchestrator"),
		streaks:  make(map[string]streak),
	}
}

// Process runs one attempt of one task. Re-delivery of a terminal task is a
// no-op.
func (o *Orchestrator) Process(ctx context.Context, taskID string) error {
	task, err := o.tasks.Get(ctx, taskID)
	if err != nil {
		return fmt.Errorf("failed to load task: %w", err)
	}
	if task.Status.Terminal() {
		o.log.Debug("skipping terminal task", "task_id", taskID, "status", task.Status)
		return nil
	}

	if err := o.markProcessing(ctx, task); err != nil {
		return err
	}

	entry, err := o.entries.GetEntryForAnalysis(ctx, task.EntryID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			err = fmt.Errorf("validation failed: entry %s not found", task.EntryID)
		}
		return o.handleFailure(ctx, task, err)
	}
	if !entry.AnalysisAllowed {
		return o.handleFailure(ctx, task,
			fmt.Errorf("validation failed: analysis not allowed for entry %s", entry.ID))
	}

	if !o.budget.CanAnalyze(task.OwnerID) {
		return o.handleFailure(ctx, task,
			fmt.Errorf("rate limit: analysis quota exceeded for owner %s", task.OwnerID))
	}

	br := o.breakers.Get(CompletionService)
	if !br.CanExecute() {
		if o.cfg.FallbackEnabled {
			return o.completeWithFallback(ctx, task, entry, "circuit breaker open")
		}
		cls := classify.Profile(classify.CategoryServiceError)
		return o.escalate(ctx, task, "circuit breaker open for completion service", cls, true)
	}

	o.budget.RecordCall(task.OwnerID)
	result, err := o.svc.Analyze(ctx, entry.Content)
	if err != nil {
		if cls := classify.Classify(err); cls.TripsBreaker {
			br.RecordFailure()
		}
		return o.handleFailure(ctx, task, err)
	}

	br.RecordSuccess()
	result.EntryID = entry.ID
	return o.complete(ctx, task, result)
}

func (o *Orchestrator) markProcessing(ctx context.Context, task *domain.AnalysisTask) error {
	now := time.Now().UTC()
	processing := domain.TaskStatusProcessing
	attempt := task.Attempt + 1

	patch := storage.TaskPatch{
		Status:              &processing,
		Attempt:             &attempt,
		ProcessingStartedAt: &now,
		ClearNextRetry:      true,
	}
	if task.FirstAttemptAt == nil {
		patch.FirstAttemptAt = &now
	}
	if err := o.tasks.Patch(ctx, task.ID, patch); err != nil {
		return fmt.Errorf("failed to mark task processing: %w", err)
	}

	task.Status = processing
	task.Attempt = attempt
	task.ProcessingStartedAt = &now
	if task.FirstAttemptAt == nil {
		task.FirstAttemptAt = &now
	}
	return nil
}

func (o *Orchestrator) complete(ctx context.Context, task *domain.AnalysisTask, result *domain.AnalysisResult) error {
	if err := o.entries.MarkAnalysisResult(ctx, task.EntryID, result); err != nil {
		return o.handleFailure(ctx, task, fmt.Errorf("failed to persist analysis result: %w", err))
	}

	now := time.Now().UTC()
	completed := domain.TaskStatusCompleted
	empty := ""
	patch := storage.TaskPatch{
		Status:           &completed,
		FinalAttemptAt:   &now,
		LastErrorMessage: &empty,
		ClearNextRetry:   true,
	}
	if err := o.tasks.Patch(ctx, task.ID, patch); err != nil {
		return fmt.Errorf("failed to mark task completed: %w", err)
	}

	o.clearStreak(task.ID)
	metrics.TasksCompleted.WithLabelValues(string(completed), string(result.Source)).Inc()
	o.log.Info("task completed",
		"task_id", task.ID, "entry_id", task.EntryID,
		"attempt", task.Attempt, "source", result.Source)
	return nil
}

// handleFailure classifies an attempt failure and routes it: delayed retry,
// fallback, or dead letter.
func (o *Orchestrator) handleFailure(ctx context.Context, task *domain.AnalysisTask, cause error) error {
	cls := classify.Classify(cause)
	streakCount := o.bumpStreak(task.ID, cls.Category)

	br := o.breakers.Get(CompletionService)
	breakerOpen := br.State() == breaker.StateOpen

	msg := cause.Error()
	if err := o.tasks.Patch(ctx, task.ID, storage.TaskPatch{LastErrorMessage: &msg}); err != nil {
		o.log.Error("failed to record attempt error", "task_id", task.ID, "error", err)
	}
	task.LastErrorMessage = msg

	decision := o.retry.Decide(cls, task.Attempt, task.Priority, streakCount, breakerOpen)
	if decision.ShouldRetry {
		return o.scheduleRetry(ctx, task, cls, decision)
	}

	if o.cfg.FallbackEnabled && cls.FallbackEligible {
		entry, err := o.entries.GetEntryForAnalysis(ctx, task.EntryID)
		if err == nil {
			return o.completeWithFallback(ctx, task, entry, msg)
		}
		o.log.Error("fallback entry load failed, escalating", "task_id", task.ID, "error", err)
	}

	return o.escalate(ctx, task, msg, cls, breakerOpen)
}

func (o *Orchestrator) scheduleRetry(
	ctx context.Context,
	task *domain.AnalysisTask,
	cls classify.Classification,
	decision retrypolicy.Decision,
) error {
	now := time.Now().UTC()
	retryAt := now.Add(decision.Delay)
	queued := domain.TaskStatusQueued

	patch := storage.TaskPatch{
		Status:      &queued,
		NextRetryAt: &retryAt,
	}
	if decision.Escalated {
		patch.Priority = &decision.NewPriority
	}
	if err := o.tasks.Patch(ctx, task.ID, patch); err != nil {
		return fmt.Errorf("failed to requeue task: %w", err)
	}

	metrics.TaskRetries.WithLabelValues(string(cls.Category)).Inc()
	o.log.Warn("task scheduled for retry",
		"task_id", task.ID, "attempt", task.Attempt, "max_retries", decision.MaxRetries,
		"category", cls.Category, "delay", decision.Delay,
		"priority", decision.NewPriority, "escalated", decision.Escalated)

	o.sched.ScheduleRetry(task.ID, decision.NewPriority, task.QueuedAt, decision.Delay)
	return nil
}

func (o *Orchestrator) completeWithFallback(
	ctx context.Context,
	task *domain.AnalysisTask,
	entry *domain.Entry,
	reason string,
) error {
	result := o.fallback.Analyze(entry.ID, entry.Content, reason)
	metrics.FallbackInvocations.WithLabelValues(fallbackReasonLabel(reason)).Inc()
	o.log.Warn("degraded analysis via fallback",
		"task_id", task.ID, "entry_id", entry.ID, "reason", reason)
	return o.complete(ctx, task, result)
}

// fallbackReasonLabel collapses free-form reasons to a bounded label set.
func fallbackReasonLabel(reason string) string {
	if reason == "circuit breaker open" {
		return "breaker_open"
	}
	return string(classify.ClassifyMessage(reason).Category)
}

func (o *Orchestrator) escalate(
	ctx context.Context,
	task *domain.AnalysisTask,
	reason string,
	cls classify.Classification,
	breakerTripped bool,
) error {
	snap := o.breakers.Get(CompletionService).Snapshot()
	task.BreakerSnapshot = &snap

	o.clearStreak(task.ID)
	_, err := o.dlq.Escalate(ctx, task, reason, cls, breakerTripped)
	return err
}

func (o *Orchestrator) bumpStreak(taskID string, category classify.Category) int {
	o.mu.Lock()
	defer o.mu.Unlock()

	s := o.streaks[taskID]
	if s.category != category {
		s = streak{category: category}
	}
	s.count++
	o.streaks[taskID] = s
	return s.count
}

func (o *Orchestrator) clearStreak(taskID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.streaks, taskID)
}
