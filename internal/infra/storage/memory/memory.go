// Package memory provides in-memory repository implementations for
// development mode and tests.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/tcynic/resonant-pipeline/internal/core/domain"
	"github.com/tcynic/resonant-pipeline/internal/infra/storage"
)

// TaskRepo is a mutex-guarded in-memory task repository.
type TaskRepo struct {
	mu    sync.RWMutex
	tasks map[string]*domain.AnalysisTask
}

// NewTaskRepo creates an empty in-memory task repository.
func NewTaskRepo() *TaskRepo {
	return &TaskRepo{tasks: make(map[string]*domain.AnalysisTask)}
}

func (r *TaskRepo) Create(ctx context.Context, task *domain.AnalysisTask) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	clone := *task
	r.tasks[task.ID] = &clone
	return nil
}

func (r *TaskRepo) Get(ctx context.Context, id string) (*domain.AnalysisTask, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, ok := r.tasks[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	clone := *t
	return &clone, nil
}

func (r *TaskRepo) Patch(ctx context.Context, id string, patch storage.TaskPatch) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.tasks[id]
	if !ok {
		return storage.ErrNotFound
	}
	applyPatch(t, patch)
	return nil
}

func applyPatch(t *domain.AnalysisTask, p storage.TaskPatch) {
	if p.Status != nil {
		t.Status = *p.Status
	}
	if p.Priority != nil {
		t.Priority = *p.Priority
	}
	if p.Attempt != nil {
		t.Attempt = *p.Attempt
	}
	if p.QueuedAt != nil {
		t.QueuedAt = *p.QueuedAt
	}
	if p.ProcessingStartedAt != nil {
		t.ProcessingStartedAt = p.ProcessingStartedAt
	}
	if p.FirstAttemptAt != nil {
		t.FirstAttemptAt = p.FirstAttemptAt
	}
	if p.FinalAttemptAt != nil {
		t.FinalAttemptAt = p.FinalAttemptAt
	}
	if p.LastErrorMessage != nil {
		t.LastErrorMessage = *p.LastErrorMessage
	}
	if p.DeadLetter != nil {
		t.DeadLetter = *p.DeadLetter
	}
	if p.DeadLetterCategory != nil {
		t.DeadLetterCategory = *p.DeadLetterCategory
	}
	if p.DeadLetterReason != nil {
		t.DeadLetterReason = *p.DeadLetterReason
	}
	if p.BreakerSnapshot != nil {
		snap := *p.BreakerSnapshot
		t.BreakerSnapshot = &snap
	}
	if p.NextRetryAt != nil {
		t.NextRetryAt = p.NextRetryAt
	}
	if p.ClearNextRetry {
		t.NextRetryAt = nil
	}
	if p.ClearDeadLetter {
		t.DeadLetter = false
		t.DeadLetterCategory = ""
		t.DeadLetterReason = ""
		t.BreakerSnapshot = nil
	}
}

func (r *TaskRepo) CountByStatus(ctx context.Context, status domain.TaskStatus) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	count := 0
	for _, t := range r.tasks {
		if t.Status == status {
			count++
		}
	}
	return count, nil
}

func (r *TaskRepo) ListByStatus(ctx context.Context, status domain.TaskStatus, limit int) ([]*domain.AnalysisTask, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*domain.AnalysisTask, 0)
	for _, t := range r.tasks {
		if t.Status != status {
			continue
		}
		clone := *t
		out = append(out, &clone)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (r *TaskRepo) ListDeadLetter(ctx context.Context, filter storage.DeadLetterFilter) ([]*domain.AnalysisTask, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*domain.AnalysisTask, 0)
	for _, t := range r.tasks {
		if !t.DeadLetter {
			continue
		}
		if filter.OwnerID != "" && t.OwnerID != filter.OwnerID {
			continue
		}
		if filter.Category != "" && t.DeadLetterCategory != filter.Category {
			continue
		}
		clone := *t
		out = append(out, &clone)
		if filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
	}
	return out, nil
}

func (r *TaskRepo) AverageQueueWait(ctx context.Context) (time.Duration, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var total time.Duration
	count := 0
	now := time.Now()
	for _, t := range r.tasks {
		if t.Status != domain.TaskStatusQueued {
			continue
		}
		total += now.Sub(t.QueuedAt)
		count++
	}
	if count == 0 {
		return 0, nil
	}
	return total / time.Duration(count), nil
}

// EntryStore is an in-memory entry collaborator for development and tests.
type EntryStore struct {
	mu      sync.RWMutex
	entries map[string]*domain.Entry
	results map[string]*domain.AnalysisResult
}

// NewEntryStore creates an empty entry store.
func NewEntryStore() *EntryStore {
	return &EntryStore{
		entries: make(map[string]*domain.Entry),
		results: make(map[string]*domain.AnalysisResult),
	}
}

// Put seeds an entry.
func (s *EntryStore) Put(e *domain.Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	clone := *e
	s.entries[e.ID] = &clone
}

func (s *EntryStore) GetEntryForAnalysis(ctx context.Context, id string) (*domain.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.entries[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	clone := *e
	return &clone, nil
}

func (s *EntryStore) MarkAnalysisResult(ctx context.Context, entryID string, result *domain.AnalysisResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.entries[entryID]; !ok {
		return storage.ErrNotFound
	}
	clone := *result
	s.results[entryID] = &clone
	return nil
}

// Result returns the stored result for an entry, if any.
func (s *EntryStore) Result(entryID string) *domain.AnalysisResult {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.results[entryID]
}
