package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/tcynic/resonant-pipeline/internal/core/domain"
)

// Record retention. Task rows in the task store are the durable audit trail;
// the Redis records exist for fast operator listing and recovery.
const recordTTL = 7 * 24 * time.Hour

// DeadLetterRepo stores dead-letter records in Redis: a ZSet index scored by
// escalation time plus one JSON record per task.
type DeadLetterRepo struct {
	rdb *redis.Client
}

// NewDeadLetterRepo creates a Redis-backed dead letter repository.
func NewDeadLetterRepo(client *Client) *DeadLetterRepo {
	return &DeadLetterRepo{rdb: client.rdb}
}

// Key helpers
func (r *DeadLetterRepo) queueKey() string {
	return "dead_letter:index"
}

func (r *DeadLetterRepo) recordKey(taskID string) string {
	return fmt.Sprintf("dead_letter:record:%s", taskID)
}

// Add stores a dead-letter record and indexes it by escalation time.
func (r *DeadLetterRepo) Add(ctx context.Context, rec *domain.DeadLetterRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal dead letter record: %w", err)
	}

	if err := r.rdb.Set(ctx, r.recordKey(rec.TaskID), data, recordTTL).Err(); err != nil {
		return fmt.Errorf("failed to set dead letter record: %w", err)
	}

	if err := r.rdb.ZAdd(ctx, r.queueKey(), redis.Z{
		Score:  float64(rec.CreatedAt.Unix()),
		Member: rec.TaskID,
	}).Err(); err != nil {
		return fmt.Errorf("failed to index dead letter record: %w", err)
	}

	return nil
}

// Get retrieves a record by task id. Returns nil when absent.
func (r *DeadLetterRepo) Get(ctx context.Context, taskID string) (*domain.DeadLetterRecord, error) {
	data, err := r.rdb.Get(ctx, r.recordKey(taskID)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get dead letter record: %w", err)
	}

	var rec domain.DeadLetterRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to unmarshal dead letter record: %w", err)
	}
	return &rec, nil
}

// Remove deletes a record (after successful recovery).
func (r *DeadLetterRepo) Remove(ctx context.Context, taskID string) error {
	if err := r.rdb.ZRem(ctx, r.queueKey(), taskID).Err(); err != nil {
		return fmt.Errorf("failed to remove from index: %w", err)
	}
	if err := r.rdb.Del(ctx, r.recordKey(taskID)).Err(); err != nil {
		return fmt.Errorf("failed to delete dead letter record: %w", err)
	}
	return nil
}

// GetAll retrieves all records, oldest first. Expired records still present
// in the index are cleaned up as they are encountered.
func (r *DeadLetterRepo) GetAll(ctx context.Context) ([]*domain.DeadLetterRecord, error) {
	ids, err := r.rdb.ZRange(ctx, r.queueKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("zrange failed: %w", err)
	}

	records := make([]*domain.DeadLetterRecord, 0, len(ids))
	for _, id := range ids {
		data, err := r.rdb.Get(ctx, r.recordKey(id)).Bytes()
		if err == redis.Nil {
			r.rdb.ZRem(ctx, r.queueKey(), id)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to get dead letter record: %w", err)
		}

		var rec domain.DeadLetterRecord
		if err := json.Unmarshal(data, &rec); err != nil {
			continue
		}
		records = append(records, &rec)
	}

	return records, nil
}

// Count returns the number of indexed dead-letter records.
func (r *DeadLetterRepo) Count(ctx context.Context) (int, error) {
	count, err := r.rdb.ZCard(ctx, r.queueKey()).Result()
	if err != nil {
		return 0, fmt.Errorf("zcard failed: %w", err)
	}
	return int(count), nil
}
