// Package memory implements the domain store interfaces with in-process
// maps. It is the default backing for single-instance deployments and for
// tests; the postgres package provides the durable equivalents.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/meridianlabs/fundbot/internal/domain"
)

// PlanStore implements domain.PlanStore with a mutex-guarded map.
type PlanStore struct {
	mu    sync.RWMutex
	plans map[string]domain.RebalancePlan
}

// NewPlanStore creates an empty in-memory PlanStore.
func NewPlanStore() *PlanStore {
	return &PlanStore{plans: make(map[string]domain.RebalancePlan)}
}

// Create stores a new plan. It fails if the id is already present.
func (s *PlanStore) Create(_ context.Context, plan domain.RebalancePlan) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.plans[plan.PlanID]; ok {
		return fmt.Errorf("memory: plan %s: %w", plan.PlanID, domain.ErrAlreadyExists)
	}
	s.plans[plan.PlanID] = plan
	return nil
}

// Update replaces a stored plan.
func (s *PlanStore) Update(_ context.Context, plan domain.RebalancePlan) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.plans[plan.PlanID]; !ok {
		return fmt.Errorf("memory: plan %s: %w", plan.PlanID, domain.ErrNotFound)
	}
	s.plans[plan.PlanID] = plan
	return nil
}

// GetByID returns a stored plan.
func (s *PlanStore) GetByID(_ context.Context, id string) (domain.RebalancePlan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	plan, ok := s.plans[id]
	if !ok {
		return domain.RebalancePlan{}, fmt.Errorf("memory: plan %s: %w", id, domain.ErrNotFound)
	}
	return plan, nil
}

// ListByStatus returns plans with the given status, newest first.
func (s *PlanStore) ListByStatus(ctx context.Context, status domain.PlanStatus, opts domain.ListOpts) ([]domain.RebalancePlan, error) {
	all, err := s.List(ctx, domain.ListOpts{})
	if err != nil {
		return nil, err
	}
	out := make([]domain.RebalancePlan, 0)
	for _, p := range all {
		if p.Status == status {
			out = append(out, p)
		}
	}
	return paginatePlans(out, opts), nil
}

// List returns all plans, newest first.
func (s *PlanStore) List(_ context.Context, opts domain.ListOpts) ([]domain.RebalancePlan, error) {
	s.mu.RLock()
	out := make([]domain.RebalancePlan, 0, len(s.plans))
	for _, p := range s.plans {
		out = append(out, p)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return paginatePlans(out, opts), nil
}

func paginatePlans(plans []domain.RebalancePlan, opts domain.ListOpts) []domain.RebalancePlan {
	if opts.Offset > 0 {
		if opts.Offset >= len(plans) {
			return []domain.RebalancePlan{}
		}
		plans = plans[opts.Offset:]
	}
	if opts.Limit > 0 && opts.Limit < len(plans) {
		plans = plans[:opts.Limit]
	}
	return plans
}

var _ domain.PlanStore = (*PlanStore)(nil)
