package persistence

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/felixgeelhaar/cadence/internal/reconciliation/domain"
	"github.com/google/uuid"
)

// MemoryFailureRepository keeps failures in process memory.
type MemoryFailureRepository struct {
	mu       sync.RWMutex
	failures map[uuid.UUID]domain.Failure
}

// NewMemoryFailureRepository creates an empty repository.
func NewMemoryFailureRepository() *MemoryFailureRepository {
	return &MemoryFailureRepository{failures: make(map[uuid.UUID]domain.Failure)}
}

func (r *MemoryFailureRepository) Record(ctx context.Context, f *domain.Failure) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for id, existing := range r.failures {
		if existing.Provider == f.Provider && existing.EventID == f.EventID && !existing.IsResolved() {
			f.ID = id
			f.RecordedAt = existing.RecordedAt
			f.Attempts = existing.Attempts + 1
			if f.SubscriptionID == nil {
				f.SubscriptionID = existing.SubscriptionID
			}
			break
		}
	}
	r.failures[f.ID] = *f
	return nil
}

func (r *MemoryFailureRepository) Find(ctx context.Context, id uuid.UUID) (*domain.Failure, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	f, ok := r.failures[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrFailureNotFound, id)
	}
	return &f, nil
}

func (r *MemoryFailureRepository) List(ctx context.Context, filter domain.FailureFilter) ([]*domain.Failure, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*domain.Failure
	for _, f := range r.failures {
		if f.IsResolved() && !filter.IncludeResolved {
			continue
		}
		if filter.Provider != "" && f.Provider != filter.Provider {
			continue
		}
		c := f
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RecordedAt.After(out[j].RecordedAt) })
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (r *MemoryFailureRepository) Save(ctx context.Context, f *domain.Failure) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.failures[f.ID]; !ok {
		return fmt.Errorf("%w: %s", domain.ErrFailureNotFound, f.ID)
	}
	r.failures[f.ID] = *f
	return nil
}
