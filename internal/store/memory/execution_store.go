package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/meridianlabs/fundbot/internal/domain"
)

// ExecutionStore implements domain.ExecutionStore with a mutex-guarded map.
type ExecutionStore struct {
	mu    sync.RWMutex
	execs map[string]domain.ExecutionContext
}

// NewExecutionStore creates an empty in-memory ExecutionStore.
func NewExecutionStore() *ExecutionStore {
	return &ExecutionStore{execs: make(map[string]domain.ExecutionContext)}
}

// Create stores a new execution context.
func (s *ExecutionStore) Create(_ context.Context, ec domain.ExecutionContext) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.execs[ec.ExecutionID]; ok {
		return fmt.Errorf("memory: execution %s: %w", ec.ExecutionID, domain.ErrAlreadyExists)
	}
	s.execs[ec.ExecutionID] = ec
	return nil
}

// Update replaces a stored execution context.
func (s *ExecutionStore) Update(_ context.Context, ec domain.ExecutionContext) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.execs[ec.ExecutionID]; !ok {
		return fmt.Errorf("memory: execution %s: %w", ec.ExecutionID, domain.ErrNotFound)
	}
	s.execs[ec.ExecutionID] = ec
	return nil
}

// GetByID returns a stored execution context.
func (s *ExecutionStore) GetByID(_ context.Context, id string) (domain.ExecutionContext, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ec, ok := s.execs[id]
	if !ok {
		return domain.ExecutionContext{}, fmt.Errorf("memory: execution %s: %w", id, domain.ErrNotFound)
	}
	return ec, nil
}

// ListRecent returns up to limit contexts, most recently started first.
func (s *ExecutionStore) ListRecent(_ context.Context, limit int) ([]domain.ExecutionContext, error) {
	s.mu.RLock()
	out := make([]domain.ExecutionContext, 0, len(s.execs))
	for _, ec := range s.execs {
		out = append(out, ec)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].StartedAt.After(out[j].StartedAt)
	})
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

var _ domain.ExecutionStore = (*ExecutionStore)(nil)
