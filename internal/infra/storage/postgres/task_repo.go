package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/tcynic/resonant-pipeline/internal/core/domain"
	"github.com/tcynic/resonant-pipeline/internal/infra/storage"
)

// TaskRepo implements storage.TaskRepository on PostgreSQL.
type TaskRepo struct {
	db *DB
}

// NewTaskRepo creates a PostgreSQL task repository.
func NewTaskRepo(db *DB) *TaskRepo {
	return &TaskRepo{db: db}
}

type taskRow struct {
	ID                  string         `db:"id"`
	EntryID             string         `db:"entry_id"`
	OwnerID             string         `db:"owner_id"`
	Priority            string         `db:"priority"`
	Status              string         `db:"status"`
	Attempt             int            `db:"attempt"`
	QueuedAt            time.Time      `db:"queued_at"`
	ProcessingStartedAt sql.NullTime   `db:"processing_started_at"`
	FirstAttemptAt      sql.NullTime   `db:"first_attempt_at"`
	FinalAttemptAt      sql.NullTime   `db:"final_attempt_at"`
	LastErrorMessage    sql.NullString `db:"last_error_message"`
	DeadLetter          bool           `db:"dead_letter"`
	DeadLetterCategory  sql.NullString `db:"dead_letter_category"`
	DeadLetterReason    sql.NullString `db:"dead_letter_reason"`
	BreakerSnapshot     []byte         `db:"breaker_snapshot"`
	NextRetryAt         sql.NullTime   `db:"next_retry_at"`
}

const taskColumns = `id, entry_id, owner_id, priority, status, attempt, queued_at,
	processing_started_at, first_attempt_at, final_attempt_at, last_error_message,
	dead_letter, dead_letter_category, dead_letter_reason, breaker_snapshot, next_retry_at`

func (r taskRow) toDomain() *domain.AnalysisTask {
	t := &domain.AnalysisTask{
		ID:       r.ID,
		EntryID:  r.EntryID,
		OwnerID:  r.OwnerID,
		Priority: domain.Priority(r.Priority),
		Status:   domain.TaskStatus(r.Status),
		Attempt:  r.Attempt,
		QueuedAt: r.QueuedAt,
	}
	if r.ProcessingStartedAt.Valid {
		v := r.ProcessingStartedAt.Time
		t.ProcessingStartedAt = &v
	}
	if r.FirstAttemptAt.Valid {
		v := r.FirstAttemptAt.Time
		t.FirstAttemptAt = &v
	}
	if r.FinalAttemptAt.Valid {
		v := r.FinalAttemptAt.Time
		t.FinalAttemptAt = &v
	}
	if r.LastErrorMessage.Valid {
		t.LastErrorMessage = r.LastErrorMessage.String
	}
	t.DeadLetter = r.DeadLetter
	if r.DeadLetterCategory.Valid {
		t.DeadLetterCategory = domain.EscalationCategory(r.DeadLetterCategory.String)
	}
	if r.DeadLetterReason.Valid {
		t.DeadLetterReason = r.DeadLetterReason.String
	}
	if len(r.BreakerSnapshot) > 0 {
		var snap domain.BreakerSnapshot
		if err := json.Unmarshal(r.BreakerSnapshot, &snap); err == nil {
			t.BreakerSnapshot = &snap
		}
	}
	if r.NextRetryAt.Valid {
		v := r.NextRetryAt.Time
		t.NextRetryAt = &v
	}
	return t
}

// Create inserts a new task.
func (r *TaskRepo) Create(ctx context.Context, task *domain.AnalysisTask) error {
	query := `
		INSERT INTO analysis_tasks (id, entry_id, owner_id, priority, status, attempt, queued_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := r.db.ExecContext(ctx, query,
		task.ID, task.EntryID, task.OwnerID,
		string(task.Priority), string(task.Status), task.Attempt, task.QueuedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert task: %w", err)
	}
	return nil
}

// Get fetches one task by id.
func (r *TaskRepo) Get(ctx context.Context, id string) (*domain.AnalysisTask, error) {
	var row taskRow
	query := fmt.Sprintf(`SELECT %s FROM analysis_tasks WHERE id = $1`, taskColumns)

	err := r.db.GetContext(ctx, &row, query, id)
	if err == sql.ErrNoRows {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get task: %w", err)
	}
	return row.toDomain(), nil
}

// Patch applies a partial update as a single atomic UPDATE.
func (r *TaskRepo) Patch(ctx context.Context, id string, patch storage.TaskPatch) error {
	sets := make([]string, 0, 8)
	args := make([]any, 0, 8)
	idx := 1

	add := func(column string, value any) {
		sets = append(sets, fmt.Sprintf("%s = $%d", column, idx))
		args = append(args, value)
		idx++
	}

	if patch.Status != nil {
		add("status", string(*patch.Status))
	}
	if patch.Priority != nil {
		add("priority", string(*patch.Priority))
	}
	if patch.Attempt != nil {
		add("attempt", *patch.Attempt)
	}
	if patch.QueuedAt != nil {
		add("queued_at", *patch.QueuedAt)
	}
	if patch.ProcessingStartedAt != nil {
		add("processing_started_at", *patch.ProcessingStartedAt)
	}
	if patch.FirstAttemptAt != nil {
		add("first_attempt_at", *patch.FirstAttemptAt)
	}
	if patch.FinalAttemptAt != nil {
		add("final_attempt_at", *patch.FinalAttemptAt)
	}
	if patch.LastErrorMessage != nil {
		add("last_error_message", *patch.LastErrorMessage)
	}
	if patch.DeadLetter != nil {
		add("dead_letter", *patch.DeadLetter)
	}
	if patch.DeadLetterCategory != nil {
		add("dead_letter_category", string(*patch.DeadLetterCategory))
	}
	if patch.DeadLetterReason != nil {
		add("dead_letter_reason", *patch.DeadLetterReason)
	}
	if patch.BreakerSnapshot != nil {
		data, err := json.Marshal(patch.BreakerSnapshot)
		if err != nil {
			return fmt.Errorf("failed to marshal breaker snapshot: %w", err)
		}
		add("breaker_snapshot", data)
	}
	if patch.NextRetryAt != nil {
		add("next_retry_at", *patch.NextRetryAt)
	}
	if patch.ClearNextRetry {
		sets = append(sets, "next_retry_at = NULL")
	}
	if patch.ClearDeadLetter {
		sets = append(sets,
			"dead_letter = FALSE", "dead_letter_category = NULL",
			"dead_letter_reason = NULL", "breaker_snapshot = NULL")
	}

	if len(sets) == 0 {
		return nil
	}

	query := fmt.Sprintf(
		`UPDATE analysis_tasks SET %s WHERE id = $%d`,
		strings.Join(sets, ", "), idx,
	)
	args = append(args, id)

	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to patch task: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// CountByStatus counts tasks in a status (index-by-status lookup).
func (r *TaskRepo) CountByStatus(ctx context.Context, status domain.TaskStatus) (int, error) {
	var count int
	err := r.db.GetContext(ctx, &count,
		`SELECT COUNT(*) FROM analysis_tasks WHERE status = $1`, string(status))
	if err != nil {
		return 0, fmt.Errorf("failed to count tasks: %w", err)
	}
	return count, nil
}

// ListByStatus returns tasks in a status ordered by priority tier then FIFO.
func (r *TaskRepo) ListByStatus(ctx context.Context, status domain.TaskStatus, limit int) ([]*domain.AnalysisTask, error) {
	if limit <= 0 {
		limit = 100
	}
	query := fmt.Sprintf(`
		SELECT %s FROM analysis_tasks
		WHERE status = $1
		ORDER BY CASE priority WHEN 'urgent' THEN 3 WHEN 'high' THEN 2 ELSE 1 END DESC,
			queued_at ASC
		LIMIT $2
	`, taskColumns)

	var rows []taskRow
	if err := r.db.SelectContext(ctx, &rows, query, string(status), limit); err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}

	out := make([]*domain.AnalysisTask, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toDomain())
	}
	return out, nil
}

// ListDeadLetter returns dead-lettered tasks matching the filter.
func (r *TaskRepo) ListDeadLetter(ctx context.Context, filter storage.DeadLetterFilter) ([]*domain.AnalysisTask, error) {
	where := []string{"dead_letter = TRUE"}
	args := make([]any, 0, 3)
	idx := 1

	if filter.OwnerID != "" {
		where = append(where, fmt.Sprintf("owner_id = $%d", idx))
		args = append(args, filter.OwnerID)
		idx++
	}
	if filter.Category != "" {
		where = append(where, fmt.Sprintf("dead_letter_category = $%d", idx))
		args = append(args, string(filter.Category))
		idx++
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	args = append(args, limit)

	query := fmt.Sprintf(`
		SELECT %s FROM analysis_tasks
		WHERE %s
		ORDER BY final_attempt_at DESC NULLS LAST
		LIMIT $%d
	`, taskColumns, strings.Join(where, " AND "), idx)

	var rows []taskRow
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list dead letter tasks: %w", err)
	}

	out := make([]*domain.AnalysisTask, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toDomain())
	}
	return out, nil
}

// AverageQueueWait returns the mean age of currently queued tasks.
func (r *TaskRepo) AverageQueueWait(ctx context.Context) (time.Duration, error) {
	var seconds sql.NullFloat64
	err := r.db.GetContext(ctx, &seconds, `
		SELECT EXTRACT(EPOCH FROM AVG(NOW() - queued_at))
		FROM analysis_tasks WHERE status = 'queued'
	`)
	if err != nil {
		return 0, fmt.Errorf("failed to compute average wait: %w", err)
	}
	if !seconds.Valid {
		return 0, nil
	}
	return time.Duration(seconds.Float64 * float64(time.Second)), nil
}
