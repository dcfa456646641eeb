package domain

import (
	"time"

	sharedDomain "github.com/felixgeelhaar/cadence/internal/shared/domain"
)

const (
	AggregateType = "Subscription"

	RoutingKeySubscriptionCreated = "billing.subscription.created"
	RoutingKeyTransitioned        = "billing.subscription.transitioned"
	RoutingKeyUsageRecorded       = "billing.usage.recorded"
	RoutingKeyGatewayPaired       = "billing.subscription.gateway_paired"
)

// SubscriptionCreated is emitted when a subscription is opened.
type SubscriptionCreated struct {
	sharedDomain.BaseEvent
	AccountID   string    `json:"account_id"`
	PlanID      string    `json:"plan_id"`
	PlanVersion int       `json:"plan_version"`
	Status      Status    `json:"status"`
	PeriodStart time.Time `json:"period_start"`
	PeriodEnd   time.Time `json:"period_end"`
}

func newSubscriptionCreated(s *Subscription, now time.Time) *SubscriptionCreated {
	return &SubscriptionCreated{
		BaseEvent:   sharedDomain.NewBaseEvent(s.ID(), AggregateType, RoutingKeySubscriptionCreated, now),
		AccountID:   s.accountID.String(),
		PlanID:      s.plan.ID,
		PlanVersion: s.plan.Version,
		Status:      s.status,
		PeriodStart: s.period.Start,
		PeriodEnd:   s.period.End,
	}
}

// SubscriptionTransitioned is emitted for every accepted trigger.
type SubscriptionTransitioned struct {
	sharedDomain.BaseEvent
	Trigger     Trigger    `json:"trigger"`
	From        Status     `json:"from"`
	To          Status     `json:"to"`
	Revision    int64      `json:"revision"`
	PlanID      string     `json:"plan_id"`
	PlanVersion int        `json:"plan_version"`
	PeriodStart time.Time  `json:"period_start"`
	PeriodEnd   time.Time  `json:"period_end"`
	CancelAt    *time.Time `json:"cancel_at,omitempty"`
	Reason      string     `json:"reason,omitempty"`
}

func newSubscriptionTransitioned(s *Subscription, trigger Trigger, from Status, reason string, now time.Time) *SubscriptionTransitioned {
	return &SubscriptionTransitioned{
		BaseEvent:   sharedDomain.NewBaseEvent(s.ID(), AggregateType, RoutingKeyTransitioned, now),
		Trigger:     trigger,
		From:        from,
		To:          s.status,
		Revision:    s.Revision(),
		PlanID:      s.plan.ID,
		PlanVersion: s.plan.Version,
		PeriodStart: s.period.Start,
		PeriodEnd:   s.period.End,
		CancelAt:    s.cancelAt,
		Reason:      reason,
	}
}

// UsageRecorded is emitted for every accepted usage increment.
type UsageRecorded struct {
	sharedDomain.BaseEvent
	Metric   string `json:"metric"`
	Amount   int64  `json:"amount"`
	Used     int64  `json:"used"`
	Lifetime int64  `json:"lifetime"`
	Revision int64  `json:"revision"`
}

// GatewayPaired is emitted when a gateway pairing is attached or replaced.
type GatewayPaired struct {
	sharedDomain.BaseEvent
	Provider        string `json:"provider"`
	CustomerRef     string `json:"customer_ref"`
	SubscriptionRef string `json:"subscription_ref"`
	Superseded      string `json:"superseded,omitempty"`
	Revision        int64  `json:"revision"`
}
