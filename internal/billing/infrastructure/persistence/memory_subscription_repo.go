package persistence

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/felixgeelhaar/cadence/internal/billing/domain"
	"github.com/google/uuid"
)

// MemorySubscriptionRepository keeps subscription snapshots in process
// memory. Loads return fresh aggregates so concurrent callers never share one.
type MemorySubscriptionRepository struct {
	mu   sync.RWMutex
	subs map[uuid.UUID]domain.State
}

// NewMemorySubscriptionRepository creates an empty repository.
func NewMemorySubscriptionRepository() *MemorySubscriptionRepository {
	return &MemorySubscriptionRepository{subs: make(map[uuid.UUID]domain.State)}
}

func (r *MemorySubscriptionRepository) Create(ctx context.Context, s *domain.Subscription) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	st := s.State()
	if _, ok := r.subs[st.ID]; ok {
		return fmt.Errorf("%w: %s already exists", domain.ErrInvalidSubscription, st.ID)
	}
	if err := r.checkPairing(st); err != nil {
		return err
	}
	r.subs[st.ID] = st
	return nil
}

func (r *MemorySubscriptionRepository) Load(ctx context.Context, id uuid.UUID) (*domain.Subscription, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	st, ok := r.subs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrSubscriptionNotFound, id)
	}
	return domain.RehydrateSubscription(st), nil
}

func (r *MemorySubscriptionRepository) Commit(ctx context.Context, s *domain.Subscription, expectedRevision int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	st := s.State()
	stored, ok := r.subs[st.ID]
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrSubscriptionNotFound, st.ID)
	}
	if stored.Revision != expectedRevision {
		return fmt.Errorf("%w: %s expected revision %d, stored %d", domain.ErrStaleWrite, st.ID, expectedRevision, stored.Revision)
	}
	if err := r.checkPairing(st); err != nil {
		return err
	}
	r.subs[st.ID] = st
	return nil
}

func (r *MemorySubscriptionRepository) FindByExternalID(ctx context.Context, provider, subscriptionRef string) (*domain.Subscription, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, st := range r.subs {
		if st.Gateway != nil && st.Gateway.Provider == provider && st.Gateway.SubscriptionRef == subscriptionRef {
			return domain.RehydrateSubscription(st), nil
		}
	}
	return nil, fmt.Errorf("%w: %s:%s", domain.ErrSubscriptionNotFound, provider, subscriptionRef)
}

func (r *MemorySubscriptionRepository) FindByCustomerRef(ctx context.Context, provider, customerRef string) (*domain.Subscription, error) {
	matches := r.filter(func(st domain.State) bool {
		return st.Gateway != nil && st.Gateway.Provider == provider &&
			st.Gateway.CustomerRef == customerRef && !st.Status.IsTerminal()
	}, func(a, b domain.State) bool { return a.UpdatedAt.After(b.UpdatedAt) }, 1)
	if len(matches) == 0 {
		return nil, fmt.Errorf("%w: customer %s:%s", domain.ErrSubscriptionNotFound, provider, customerRef)
	}
	return matches[0], nil
}

func (r *MemorySubscriptionRepository) ListByAccount(ctx context.Context, accountID uuid.UUID) ([]*domain.Subscription, error) {
	return r.filter(func(st domain.State) bool { return st.AccountID == accountID },
		func(a, b domain.State) bool { return a.CreatedAt.After(b.CreatedAt) }, 0), nil
}

func (r *MemorySubscriptionRepository) FindDueForRenewal(ctx context.Context, now time.Time, limit int) ([]*domain.Subscription, error) {
	return r.filter(func(st domain.State) bool {
		return st.Status == domain.StatusActive && st.Gateway == nil &&
			st.NextBillingDate != nil && !st.NextBillingDate.After(now) &&
			!cancelDue(st, now)
	}, func(a, b domain.State) bool { return a.NextBillingDate.Before(*b.NextBillingDate) }, limit), nil
}

func (r *MemorySubscriptionRepository) FindDunningDue(ctx context.Context, now time.Time, limit int) ([]*domain.Subscription, error) {
	return r.filter(func(st domain.State) bool {
		return st.Status == domain.StatusPastDue && st.Gateway == nil &&
			st.NextPaymentAttempt != nil && !st.NextPaymentAttempt.After(now) &&
			!st.Period.End.After(now) && !cancelDue(st, now)
	}, func(a, b domain.State) bool { return a.NextPaymentAttempt.Before(*b.NextPaymentAttempt) }, limit), nil
}

func cancelDue(st domain.State, now time.Time) bool {
	return st.CancelAt != nil && !st.CancelAt.After(now)
}

func (r *MemorySubscriptionRepository) FindCancelDue(ctx context.Context, now time.Time, limit int) ([]*domain.Subscription, error) {
	return r.filter(func(st domain.State) bool {
		return cancelDue(st, now) && !st.Status.IsTerminal()
	}, func(a, b domain.State) bool { return a.CancelAt.Before(*b.CancelAt) }, limit), nil
}

func (r *MemorySubscriptionRepository) FindExpiredTrials(ctx context.Context, now time.Time, limit int) ([]*domain.Subscription, error) {
	return r.filter(func(st domain.State) bool {
		return st.Status == domain.StatusTrial && st.TrialEnd != nil && !st.TrialEnd.After(now)
	}, func(a, b domain.State) bool { return a.TrialEnd.Before(*b.TrialEnd) }, limit), nil
}

func (r *MemorySubscriptionRepository) filter(match func(domain.State) bool, less func(a, b domain.State) bool, limit int) []*domain.Subscription {
	r.mu.RLock()
	var states []domain.State
	for _, st := range r.subs {
		if match(st) {
			states = append(states, st)
		}
	}
	r.mu.RUnlock()

	sort.Slice(states, func(i, j int) bool { return less(states[i], states[j]) })
	if limit > 0 && len(states) > limit {
		states = states[:limit]
	}
	out := make([]*domain.Subscription, 0, len(states))
	for _, st := range states {
		out = append(out, domain.RehydrateSubscription(st))
	}
	return out
}

// checkPairing enforces one subscription per provider subscription reference.
func (r *MemorySubscriptionRepository) checkPairing(st domain.State) error {
	if st.Gateway == nil || st.Gateway.SubscriptionRef == "" {
		return nil
	}
	for id, other := range r.subs {
		if id == st.ID || other.Gateway == nil {
			continue
		}
		if other.Gateway.Provider == st.Gateway.Provider && other.Gateway.SubscriptionRef == st.Gateway.SubscriptionRef {
			return fmt.Errorf("%w: %s:%s", domain.ErrPairingConflict, st.Gateway.Provider, st.Gateway.SubscriptionRef)
		}
	}
	return nil
}
