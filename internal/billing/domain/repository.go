package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Repository persists subscriptions with optimistic concurrency.
type Repository interface {
	// Create stores a new subscription at its current revision.
	Create(ctx context.Context, s *Subscription) error

	// Load returns the subscription or ErrSubscriptionNotFound.
	Load(ctx context.Context, id uuid.UUID) (*Subscription, error)

	// Commit writes s only if the stored revision still equals
	// expectedRevision, otherwise it returns ErrStaleWrite.
	Commit(ctx context.Context, s *Subscription, expectedRevision int64) error

	// FindByExternalID resolves a subscription by its gateway subscription reference.
	FindByExternalID(ctx context.Context, provider, subscriptionRef string) (*Subscription, error)

	// FindByCustomerRef resolves a subscription by its gateway customer reference.
	// It returns the most recently updated live match.
	FindByCustomerRef(ctx context.Context, provider, customerRef string) (*Subscription, error)

	// ListByAccount returns every subscription of an account, newest first.
	ListByAccount(ctx context.Context, accountID uuid.UUID) ([]*Subscription, error)

	// FindDueForRenewal returns active subscriptions without a gateway
	// pairing whose next billing date is at or before now. Subscriptions
	// whose cancel-at has passed are excluded.
	FindDueForRenewal(ctx context.Context, now time.Time, limit int) ([]*Subscription, error)

	// FindDunningDue returns past_due subscriptions without a gateway pairing
	// whose period has ended and whose next payment attempt is at or before
	// now. Subscriptions whose
	// cancel-at has passed are excluded.
	FindDunningDue(ctx context.Context, now time.Time, limit int) ([]*Subscription, error)

	// FindCancelDue returns live subscriptions whose cancel-at has passed.
	FindCancelDue(ctx context.Context, now time.Time, limit int) ([]*Subscription, error)

	// FindExpiredTrials returns trials whose trial end has passed.
	FindExpiredTrials(ctx context.Context, now time.Time, limit int) ([]*Subscription, error)
}
