// Package commands holds the write side of the billing context. Every
// handler funnels its mutation through Mutator so that subscription state
// and outbox events commit together under the revision check.
package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/felixgeelhaar/cadence/internal/billing/domain"
	catalog "github.com/felixgeelhaar/cadence/internal/catalog/domain"
	sharedApplication "github.com/felixgeelhaar/cadence/internal/shared/application"
	sharedDomain "github.com/felixgeelhaar/cadence/internal/shared/domain"
	"github.com/felixgeelhaar/cadence/internal/shared/infrastructure/outbox"
	"github.com/felixgeelhaar/cadence/pkg/observability"
	"github.com/google/uuid"
)

// DefaultStaleWriteRetries bounds how often a mutation is replayed after
// losing a revision race.
const DefaultStaleWriteRetries = 5

// Plans looks up pinned and current plan versions.
type Plans interface {
	GetPlan(ctx context.Context, ref catalog.PlanRef) (*catalog.Plan, error)
	Resolve(ctx context.Context, id string, cycle catalog.BillingCycle) (*catalog.Plan, error)
}

// MutateFunc changes a freshly loaded subscription. It runs once per attempt.
type MutateFunc func(ctx context.Context, s *domain.Subscription, now time.Time) error

// Mutator runs load, mutate and commit as one unit of work and replays the
// whole step when the commit loses a revision race.
type Mutator struct {
	subs       domain.Repository
	outboxRepo outbox.Repository
	uow        sharedApplication.UnitOfWork
	clock      sharedDomain.Clock
	maxRetries int
	logger     *slog.Logger
	metrics    observability.Metrics
}

// MutatorOption configures a Mutator.
type MutatorOption func(*Mutator)

// WithClock overrides the system clock.
func WithClock(clock sharedDomain.Clock) MutatorOption {
	return func(m *Mutator) { m.clock = clock }
}

// WithStaleWriteRetries overrides DefaultStaleWriteRetries.
func WithStaleWriteRetries(n int) MutatorOption {
	return func(m *Mutator) {
		if n > 0 {
			m.maxRetries = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) MutatorOption {
	return func(m *Mutator) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(metrics observability.Metrics) MutatorOption {
	return func(m *Mutator) {
		if metrics != nil {
			m.metrics = metrics
		}
	}
}

// NewMutator creates a Mutator.
func NewMutator(subs domain.Repository, outboxRepo outbox.Repository, uow sharedApplication.UnitOfWork, opts ...MutatorOption) *Mutator {
	m := &Mutator{
		subs:       subs,
		outboxRepo: outboxRepo,
		uow:        uow,
		clock:      sharedDomain.SystemClock{},
		maxRetries: DefaultStaleWriteRetries,
		logger:     slog.Default(),
		metrics:    observability.NoopMetrics{},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Clock returns the clock mutations are stamped with.
func (m *Mutator) Clock() sharedDomain.Clock { return m.clock }

// Mutate applies fn to subscription id. fn errors abort without retry;
// ErrStaleWrite is retried up to the configured bound and then returned.
func (m *Mutator) Mutate(ctx context.Context, id uuid.UUID, actorID uuid.UUID, fn MutateFunc) (*domain.Subscription, error) {
	ctx = observability.WithSubscriptionID(ctx, id.String())
	var lastErr error
	for attempt := 1; attempt <= m.maxRetries; attempt++ {
		sub, err := m.attempt(ctx, id, actorID, fn)
		if err == nil {
			return sub, nil
		}
		if !errors.Is(err, domain.ErrStaleWrite) {
			return nil, err
		}
		lastErr = err
		m.metrics.Counter(observability.MetricStaleWrites, 1)
		m.logger.DebugContext(ctx, "stale write, retrying",
			"subscription_id", id,
			"attempt", attempt,
		)
		if err := ctx.Err(); err != nil {
			return nil, err
		}
	}
	return nil, fmt.Errorf("gave up after %d attempts: %w", m.maxRetries, lastErr)
}

func (m *Mutator) attempt(ctx context.Context, id uuid.UUID, actorID uuid.UUID, fn MutateFunc) (*domain.Subscription, error) {
	var sub *domain.Subscription
	err := sharedApplication.WithUnitOfWork(ctx, m.uow, func(txCtx context.Context) error {
		s, err := m.subs.Load(txCtx, id)
		if err != nil {
			return err
		}
		expected := s.Revision()

		if err := fn(txCtx, s, m.clock.Now()); err != nil {
			return err
		}
		if s.Revision() == expected {
			sub = s
			return nil
		}

		if err := m.subs.Commit(txCtx, s, expected); err != nil {
			return err
		}
		if err := m.saveEvents(txCtx, s, actorID); err != nil {
			return err
		}
		sub = s
		return nil
	})
	return sub, err
}

// Create stores a new subscription and its creation event.
func (m *Mutator) Create(ctx context.Context, s *domain.Subscription, actorID uuid.UUID) error {
	return sharedApplication.WithUnitOfWork(ctx, m.uow, func(txCtx context.Context) error {
		if err := m.subs.Create(txCtx, s); err != nil {
			return err
		}
		return m.saveEvents(txCtx, s, actorID)
	})
}

func (m *Mutator) saveEvents(ctx context.Context, s *domain.Subscription, actorID uuid.UUID) error {
	events := s.DomainEvents()
	if len(events) == 0 {
		return nil
	}
	sharedApplication.ApplyEventMetadata(events, eventMetadata(ctx, actorID))

	msgs, err := outbox.NewMessages(events)
	if err != nil {
		return err
	}
	if err := m.outboxRepo.SaveBatch(ctx, msgs); err != nil {
		return err
	}
	s.ClearDomainEvents()
	return nil
}

func eventMetadata(ctx context.Context, actorID uuid.UUID) sharedDomain.EventMetadata {
	correlationID, _ := uuid.Parse(observability.CorrelationIDFromContext(ctx))
	if actorID == uuid.Nil {
		actorID, _ = uuid.Parse(observability.ActorIDFromContext(ctx))
	}
	return sharedApplication.NewEventMetadata(correlationID, actorID)
}
