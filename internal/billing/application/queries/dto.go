// Package queries holds the read side of the billing context.
package queries

import (
	"context"
	"time"

	"github.com/felixgeelhaar/cadence/internal/billing/domain"
	catalog "github.com/felixgeelhaar/cadence/internal/catalog/domain"
	"github.com/google/uuid"
)

// Plans looks up pinned and current plan versions.
type Plans interface {
	GetPlan(ctx context.Context, ref catalog.PlanRef) (*catalog.Plan, error)
	Resolve(ctx context.Context, id string, cycle catalog.BillingCycle) (*catalog.Plan, error)
}

// PairingDTO is the gateway pairing view.
type PairingDTO struct {
	Provider        string    `json:"provider"`
	CustomerRef     string    `json:"customer_ref,omitempty"`
	SubscriptionRef string    `json:"subscription_ref,omitempty"`
	PairedAt        time.Time `json:"paired_at"`
}

// SubscriptionDTO is the read model of a subscription.
type SubscriptionDTO struct {
	ID                  uuid.UUID          `json:"id"`
	AccountID           uuid.UUID          `json:"account_id"`
	PlanID              string             `json:"plan_id"`
	PlanVersion         int                `json:"plan_version"`
	Cycle               string             `json:"cycle"`
	Status              string             `json:"status"`
	PreviousStatus      string             `json:"previous_status,omitempty"`
	PeriodStart         time.Time          `json:"period_start"`
	PeriodEnd           time.Time          `json:"period_end"`
	NextBillingDate     *time.Time         `json:"next_billing_date,omitempty"`
	TrialEnd            *time.Time         `json:"trial_end,omitempty"`
	CancelAt            *time.Time         `json:"cancel_at,omitempty"`
	EndedAt             *time.Time         `json:"ended_at,omitempty"`
	Gateway             *PairingDTO        `json:"gateway,omitempty"`
	Usage               []domain.UsageLine `json:"usage,omitempty"`
	ConsecutiveFailures int                `json:"consecutive_failures"`
	NextPaymentAttempt  *time.Time         `json:"next_payment_attempt,omitempty"`
	LastReconciledAt    *time.Time         `json:"last_reconciled_at,omitempty"`
	Revision            int64              `json:"revision"`
	CreatedAt           time.Time          `json:"created_at"`
	UpdatedAt           time.Time          `json:"updated_at"`
}

// ToSubscriptionDTO converts s. usage may be nil.
func ToSubscriptionDTO(s *domain.Subscription, usage []domain.UsageLine) SubscriptionDTO {
	dto := SubscriptionDTO{
		ID:                  s.ID(),
		AccountID:           s.AccountID(),
		PlanID:              s.Plan().ID,
		PlanVersion:         s.Plan().Version,
		Cycle:               string(s.Cycle()),
		Status:              string(s.Status()),
		PreviousStatus:      string(s.PreviousStatus()),
		PeriodStart:         s.Period().Start,
		PeriodEnd:           s.Period().End,
		NextBillingDate:     s.NextBillingDate(),
		TrialEnd:            s.TrialEnd(),
		CancelAt:            s.CancelAt(),
		EndedAt:             s.EndedAt(),
		Usage:               usage,
		ConsecutiveFailures: s.ConsecutiveFailures(),
		NextPaymentAttempt:  s.NextPaymentAttempt(),
		LastReconciledAt:    s.LastReconciledAt(),
		Revision:            s.Revision(),
		CreatedAt:           s.CreatedAt(),
		UpdatedAt:           s.UpdatedAt(),
	}
	if p := s.Gateway(); p != nil {
		dto.Gateway = &PairingDTO{
			Provider:        p.Provider,
			CustomerRef:     p.CustomerRef,
			SubscriptionRef: p.SubscriptionRef,
			PairedAt:        p.PairedAt,
		}
	}
	return dto
}
