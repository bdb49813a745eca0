package domain

import "time"

// Priority determines queue ordering and admission thresholds.
type Priority string

const (
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// Weight returns the ordering weight (higher = dequeued first).
func (p Priority) Weight() int {
	switch p {
	case PriorityUrgent:
		return 3
	case PriorityHigh:
		return 2
	default:
		return 1
	}
}

// Valid reports whether p is a known priority.
func (p Priority) Valid() bool {
	switch p {
	case PriorityNormal, PriorityHigh, PriorityUrgent:
		return true
	}
	return false
}

type TaskStatus string

const (
	TaskStatusQueued     TaskStatus = "queued"
	TaskStatusProcessing TaskStatus = "processing"
	TaskStatusCompleted  TaskStatus = "completed"
	TaskStatusFailed     TaskStatus = "failed"
)

// Terminal reports whether the status is final. Terminal tasks are never
// re-processed except via explicit dead-letter recovery.
func (s TaskStatus) Terminal() bool {
	return s == TaskStatusCompleted || s == TaskStatusFailed
}

// EscalationCategory records why a task was dead-lettered.
type EscalationCategory string

const (
	EscalationMaxRetries     EscalationCategory = "max_retries_exceeded"
	EscalationNonRecoverable EscalationCategory = "non_recoverable_error"
	EscalationCircuitBreaker EscalationCategory = "circuit_breaker_triggered"
	EscalationPermanent      EscalationCategory = "permanent_failure"
)

// BreakerSnapshot captures circuit breaker state at the time of a task outcome.
type BreakerSnapshot struct {
	Service      string `json:"service"`
	State        string `json:"state"`
	FailureCount int    `json:"failure_count"`
}

// AnalysisTask is the unit of work flowing through the pipeline.
// Tasks are never deleted, only terminalized, so the record doubles as an
// audit trail and the dead-letter recovery source.
type AnalysisTask struct {
	ID                  string              `json:"id" db:"id"`
	EntryID             string              `json:"entry_id" db:"entry_id"`
	OwnerID             string              `json:"owner_id" db:"owner_id"`
	Priority            Priority            `json:"priority" db:"priority"`
	Status              TaskStatus          `json:"status" db:"status"`
	Attempt             int                 `json:"attempt" db:"attempt"`
	QueuedAt            time.Time           `json:"queued_at" db:"queued_at"`
	ProcessingStartedAt *time.Time          `json:"processing_started_at,omitempty" db:"processing_started_at"`
	FirstAttemptAt      *time.Time          `json:"first_attempt_at,omitempty" db:"first_attempt_at"`
	FinalAttemptAt      *time.Time          `json:"final_attempt_at,omitempty" db:"final_attempt_at"`
	LastErrorMessage    string              `json:"last_error_message,omitempty" db:"last_error_message"`
	DeadLetter          bool                `json:"dead_letter" db:"dead_letter"`
	DeadLetterCategory  EscalationCategory  `json:"dead_letter_category,omitempty" db:"dead_letter_category"`
	DeadLetterReason    string              `json:"dead_letter_reason,omitempty" db:"dead_letter_reason"`
	BreakerSnapshot     *BreakerSnapshot    `json:"circuit_breaker_snapshot,omitempty" db:"-"`
	NextRetryAt         *time.Time          `json:"next_retry_at,omitempty" db:"next_retry_at"`
}

// DeadLetterRecord is the terminal view of a dead-lettered task plus its
// processing history summary.
type DeadLetterRecord struct {
	TaskID         string             `json:"task_id"`
	EntryID        string             `json:"entry_id"`
	OwnerID        string             `json:"owner_id"`
	Priority       Priority           `json:"priority"`
	Reason         string             `json:"reason"`
	Category       EscalationCategory `json:"escalation_category"`
	Attempts       int                `json:"attempts"`
	FirstAttemptAt time.Time          `json:"first_attempt_at"`
	FinalAttemptAt time.Time          `json:"final_attempt_at"`
	TotalWait      time.Duration      `json:"total_wait"`
	Breaker        *BreakerSnapshot   `json:"circuit_breaker_snapshot,omitempty"`
	CreatedAt      time.Time          `json:"created_at"`
}
