// Package storage defines the repository boundaries for tasks and entries.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/tcynic/resonant-pipeline/internal/core/domain"
)

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("record not found")

// TaskPatch is an atomic partial update to a task record. Nil fields are
// left untouched.
type TaskPatch struct {
	Status              *domain.TaskStatus
	Priority            *domain.Priority
	Attempt             *int
	QueuedAt            *time.Time
	ProcessingStartedAt *time.Time
	FirstAttemptAt      *time.Time
	FinalAttemptAt      *time.Time
	LastErrorMessage    *string
	DeadLetter          *bool
	DeadLetterCategory  *domain.EscalationCategory
	DeadLetterReason    *string
	BreakerSnapshot     *domain.BreakerSnapshot
	NextRetryAt         *time.Time
	ClearNextRetry      bool
	ClearDeadLetter     bool
}

// DeadLetterFilter narrows dead-letter listings.
type DeadLetterFilter struct {
	OwnerID  string
	Category domain.EscalationCategory
	Limit    int
}

// TaskRepository persists analysis tasks. Implementations must apply patches
// atomically per task.
type TaskRepository interface {
	Create(ctx context.Context, task *domain.AnalysisTask) error
	Get(ctx context.Context, id string) (*domain.AnalysisTask, error)
	Patch(ctx context.Context, id string, patch TaskPatch) error

	CountByStatus(ctx context.Context, status domain.TaskStatus) (int, error)
	ListByStatus(ctx context.Context, status domain.TaskStatus, limit int) ([]*domain.AnalysisTask, error)
	ListDeadLetter(ctx context.Context, filter DeadLetterFilter) ([]*domain.AnalysisTask, error)

	// AverageQueueWait is the mean age of currently queued tasks.
	AverageQueueWait(ctx context.Context) (time.Duration, error)
}

// EntryStore is the boundary to the journal entry collaborator.
type EntryStore interface {
	GetEntryForAnalysis(ctx context.Context, id string) (*domain.Entry, error)
	MarkAnalysisResult(ctx context.Context, entryID string, result *domain.AnalysisResult) error
}
