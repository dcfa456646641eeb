package persistence

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/felixgeelhaar/cadence/internal/catalog/domain"
)

// MemoryPlanRepository keeps plans in process memory.
type MemoryPlanRepository struct {
	mu    sync.RWMutex
	plans map[string][]*domain.Plan
}

// NewMemoryPlanRepository creates an empty repository.
func NewMemoryPlanRepository() *MemoryPlanRepository {
	return &MemoryPlanRepository{plans: make(map[string][]*domain.Plan)}
}

func (r *MemoryPlanRepository) Insert(ctx context.Context, plan *domain.Plan) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.plans[plan.ID()] {
		if existing.Version() == plan.Version() {
			return fmt.Errorf("%w: %s", domain.ErrPlanVersionExists, plan.Ref())
		}
	}
	versions := append(r.plans[plan.ID()], plan)
	sort.Slice(versions, func(i, j int) bool { return versions[i].Version() < versions[j].Version() })
	r.plans[plan.ID()] = versions
	return nil
}

func (r *MemoryPlanRepository) Find(ctx context.Context, ref domain.PlanRef) (*domain.Plan, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, plan := range r.plans[ref.ID] {
		if plan.Version() == ref.Version {
			return plan, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", domain.ErrPlanNotFound, ref)
}

func (r *MemoryPlanRepository) Versions(ctx context.Context, id string) ([]*domain.Plan, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return append([]*domain.Plan(nil), r.plans[id]...), nil
}

func (r *MemoryPlanRepository) ListLatest(ctx context.Context) ([]*domain.Plan, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*domain.Plan, 0, len(r.plans))
	for _, versions := range r.plans {
		if len(versions) > 0 {
			out = append(out, versions[len(versions)-1])
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out, nil
}
