package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/tcynic/resonant-pipeline/internal/core/domain"
)

// DeadLetterStore is an in-memory dead letter record store for development
// mode and tests.
type DeadLetterStore struct {
	mu      sync.RWMutex
	records map[string]*domain.DeadLetterRecord
}

// NewDeadLetterStore creates an empty record store.
func NewDeadLetterStore() *DeadLetterStore {
	return &DeadLetterStore{records: make(map[string]*domain.DeadLetterRecord)}
}

func (s *DeadLetterStore) Add(ctx context.Context, rec *domain.DeadLetterRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	clone := *rec
	s.records[rec.TaskID] = &clone
	return nil
}

func (s *DeadLetterStore) Get(ctx context.Context, taskID string) (*domain.DeadLetterRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[taskID]
	if !ok {
		return nil, nil
	}
	clone := *rec
	return &clone, nil
}

func (s *DeadLetterStore) Remove(ctx context.Context, taskID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, taskID)
	return nil
}

func (s *DeadLetterStore) GetAll(ctx context.Context) ([]*domain.DeadLetterRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*domain.DeadLetterRecord, 0, len(s.records))
	for _, rec := range s.records {
		clone := *rec
		out = append(out, &clone)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *DeadLetterStore) Count(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records), nil
}
