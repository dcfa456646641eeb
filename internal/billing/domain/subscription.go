package domain

import (
	"fmt"
	"strings"
	"time"

	catalog "github.com/felixgeelhaar/cadence/internal/catalog/domain"
	sharedDomain "github.com/felixgeelhaar/cadence/internal/shared/domain"
	"github.com/google/uuid"
)

// Period is a half-open billing interval [Start, End).
type Period struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Validate checks Start < End.
func (p Period) Validate() error {
	if !p.Start.Before(p.End) {
		return fmt.Errorf("%w: start %s is not before end %s", ErrInvalidPeriod, p.Start.Format(time.RFC3339), p.End.Format(time.RFC3339))
	}
	return nil
}

// FreshPeriod is the first period of cycle when it starts at now.
func FreshPeriod(cycle catalog.BillingCycle, now time.Time) Period {
	now = now.UTC()
	return Period{Start: now, End: cycle.Advance(now, now.Day())}
}

// Pairing links a subscription to its record at a payment provider.
type Pairing struct {
	Provider        string    `json:"provider"`
	CustomerRef     string    `json:"customer_ref"`
	SubscriptionRef string    `json:"subscription_ref"`
	PairedAt        time.Time `json:"paired_at"`
}

// Subscription is the aggregate that owns lifecycle status, period bounds
// and current-period usage. Status only changes through Apply.
type Subscription struct {
	sharedDomain.BaseAggregateRoot
	accountID           uuid.UUID
	plan                catalog.PlanRef
	cycle               catalog.BillingCycle
	status              Status
	previousStatus      Status
	period              Period
	anchorDay           int
	nextBillingDate     *time.Time
	trialEnd            *time.Time
	cancelAt            *time.Time
	endedAt             *time.Time
	gateway             *Pairing
	usage               map[string]Counter
	consecutiveFailures int
	nextPaymentAttempt  *time.Time
	lastReconciledAt    *time.Time
}

// NewSubscriptionInput describes a signup.
type NewSubscriptionInput struct {
	ID        uuid.UUID
	AccountID uuid.UUID
	Plan      *catalog.Plan
	// SkipTrial opens the subscription in incomplete even when the plan has trial days.
	SkipTrial bool
}

// NewSubscription opens a subscription in trial when the plan offers one,
// otherwise in incomplete awaiting the first payment.
func NewSubscription(in NewSubscriptionInput, now time.Time) (*Subscription, error) {
	if in.AccountID == uuid.Nil {
		return nil, fmt.Errorf("%w: account id is required", ErrInvalidSubscription)
	}
	if in.Plan == nil {
		return nil, ErrMissingTargetPlan
	}
	now = now.UTC()

	s := &Subscription{
		BaseAggregateRoot: sharedDomain.NewBaseAggregateRoot(in.ID, now),
		accountID:         in.AccountID,
		plan:              in.Plan.Ref(),
		cycle:             in.Plan.Cycle(),
		anchorDay:         now.Day(),
		usage:             make(map[string]Counter),
	}
	s.ensureCounters(in.Plan)

	if in.Plan.TrialDays() > 0 && !in.SkipTrial {
		end := now.AddDate(0, 0, in.Plan.TrialDays())
		s.status = StatusTrial
		s.period = Period{Start: now, End: end}
		s.trialEnd = &end
	} else {
		s.status = StatusIncomplete
		s.period = Period{Start: now, End: s.cycle.Advance(now, s.anchorDay)}
	}
	s.syncNextBillingDate()

	s.AddDomainEvent(newSubscriptionCreated(s, now))
	return s, nil
}

// State is the full persisted form of a subscription.
type State struct {
	ID                  uuid.UUID
	AccountID           uuid.UUID
	Plan                catalog.PlanRef
	Cycle               catalog.BillingCycle
	Status              Status
	PreviousStatus      Status
	Period              Period
	AnchorDay           int
	NextBillingDate     *time.Time
	TrialEnd            *time.Time
	CancelAt            *time.Time
	EndedAt             *time.Time
	Gateway             *Pairing
	Usage               map[string]Counter
	ConsecutiveFailures int
	NextPaymentAttempt  *time.Time
	LastReconciledAt    *time.Time
	Revision            int64
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// RehydrateSubscription recreates a subscription from persisted state.
func RehydrateSubscription(st State) *Subscription {
	usage := make(map[string]Counter, len(st.Usage))
	for k, v := range st.Usage {
		usage[k] = v
	}
	var gateway *Pairing
	if st.Gateway != nil {
		g := *st.Gateway
		gateway = &g
	}
	return &Subscription{
		BaseAggregateRoot: sharedDomain.RehydrateBaseAggregateRoot(
			sharedDomain.RehydrateBaseEntity(st.ID, st.CreatedAt, st.UpdatedAt),
			st.Revision,
		),
		accountID:           st.AccountID,
		plan:                st.Plan,
		cycle:               st.Cycle,
		status:              st.Status,
		previousStatus:      st.PreviousStatus,
		period:              st.Period,
		anchorDay:           st.AnchorDay,
		nextBillingDate:     copyTime(st.NextBillingDate),
		trialEnd:            copyTime(st.TrialEnd),
		cancelAt:            copyTime(st.CancelAt),
		endedAt:             copyTime(st.EndedAt),
		gateway:             gateway,
		usage:               usage,
		consecutiveFailures: st.ConsecutiveFailures,
		nextPaymentAttempt:  copyTime(st.NextPaymentAttempt),
		lastReconciledAt:    copyTime(st.LastReconciledAt),
	}
}

// State returns a detached snapshot of the subscription.
func (s *Subscription) State() State {
	usage := make(map[string]Counter, len(s.usage))
	for k, v := range s.usage {
		usage[k] = v
	}
	var gateway *Pairing
	if s.gateway != nil {
		g := *s.gateway
		gateway = &g
	}
	return State{
		ID:                  s.ID(),
		AccountID:           s.accountID,
		Plan:                s.plan,
		Cycle:               s.cycle,
		Status:              s.status,
		PreviousStatus:      s.previousStatus,
		Period:              s.period,
		AnchorDay:           s.anchorDay,
		NextBillingDate:     copyTime(s.nextBillingDate),
		TrialEnd:            copyTime(s.trialEnd),
		CancelAt:            copyTime(s.cancelAt),
		EndedAt:             copyTime(s.endedAt),
		Gateway:             gateway,
		Usage:               usage,
		ConsecutiveFailures: s.consecutiveFailures,
		NextPaymentAttempt:  copyTime(s.nextPaymentAttempt),
		LastReconciledAt:    copyTime(s.lastReconciledAt),
		Revision:            s.Revision(),
		CreatedAt:           s.CreatedAt(),
		UpdatedAt:           s.UpdatedAt(),
	}
}

// Getters
func (s *Subscription) AccountID() uuid.UUID           { return s.accountID }
func (s *Subscription) Plan() catalog.PlanRef          { return s.plan }
func (s *Subscription) Cycle() catalog.BillingCycle    { return s.cycle }
func (s *Subscription) Status() Status                 { return s.status }
func (s *Subscription) PreviousStatus() Status         { return s.previousStatus }
func (s *Subscription) Period() Period                 { return s.period }
func (s *Subscription) AnchorDay() int                 { return s.anchorDay }
func (s *Subscription) NextBillingDate() *time.Time    { return copyTime(s.nextBillingDate) }
func (s *Subscription) TrialEnd() *time.Time           { return copyTime(s.trialEnd) }
func (s *Subscription) CancelAt() *time.Time           { return copyTime(s.cancelAt) }
func (s *Subscription) EndedAt() *time.Time            { return copyTime(s.endedAt) }
func (s *Subscription) ConsecutiveFailures() int       { return s.consecutiveFailures }
func (s *Subscription) LastReconciledAt() *time.Time   { return copyTime(s.lastReconciledAt) }
func (s *Subscription) NextPaymentAttempt() *time.Time { return copyTime(s.nextPaymentAttempt) }
func (s *Subscription) Usage(metric string) Counter    { return s.usage[metric] }
func (s *Subscription) IsTerminal() bool               { return s.status.IsTerminal() }

// Gateway returns the active pairing, or nil.
func (s *Subscription) Gateway() *Pairing {
	if s.gateway == nil {
		return nil
	}
	g := *s.gateway
	return &g
}

// IsStaleEvent reports whether a gateway event timestamped at is strictly
// older than the newest event already applied.
func (s *Subscription) IsStaleEvent(at time.Time) bool {
	return s.lastReconciledAt != nil && at.Before(*s.lastReconciledAt)
}

// Apply fires trigger. A rejected trigger returns ErrInvalidTransition and
// leaves the subscription untouched; an accepted one bumps the revision by one.
func (s *Subscription) Apply(trigger Trigger, params TriggerParams, policy Policy, now time.Time) error {
	if !CanApply(s.status, trigger) {
		return fmt.Errorf("%w: %s from %s", ErrInvalidTransition, trigger, s.status)
	}
	now = now.UTC()
	from := s.status

	var err error
	switch trigger {
	case TriggerActivate:
		err = s.activate(params, now)
	case TriggerPaymentFailed:
		s.consecutiveFailures++
		if s.consecutiveFailures >= policy.dunningThreshold() {
			s.moveTo(StatusUnpaid)
		} else {
			s.moveTo(StatusPastDue)
			retry := now.Add(policy.dunningRetryInterval())
			s.nextPaymentAttempt = &retry
		}
	case TriggerPaymentRecovered:
		s.consecutiveFailures = 0
		s.moveTo(StatusActive)
	case TriggerCancelImmediate:
		s.moveTo(StatusCanceled)
		s.endedAt = &now
		s.syncNextBillingDate()
	case TriggerCancelAtPeriodEnd:
		end := s.period.End
		s.cancelAt = &end
	case TriggerPause:
		s.moveTo(StatusPaused)
	case TriggerResume:
		s.moveTo(s.restoreTarget(StatusActive, StatusPastDue, StatusUnpaid, StatusTrial))
	case TriggerPeriodRollover:
		err = s.rollover()
	case TriggerTrialExpiredWithoutPayment:
		s.moveTo(StatusIncompleteExpired)
		s.endedAt = &now
		s.syncNextBillingDate()
	case TriggerChangePlan:
		err = s.changePlan(params.Plan, now)
	case TriggerSuspend:
		s.moveTo(StatusSuspended)
	case TriggerReinstate:
		s.moveTo(s.restoreTarget(StatusActive, StatusPastDue, StatusUnpaid))
	default:
		return fmt.Errorf("%w: %s", ErrInvalidTransition, trigger)
	}
	if err != nil {
		return err
	}
	s.syncPaymentAttempt(now)

	if params.EventTime != nil && (s.lastReconciledAt == nil || params.EventTime.After(*s.lastReconciledAt)) {
		at := params.EventTime.UTC()
		s.lastReconciledAt = &at
	}

	s.IncrementRevision()
	s.Touch(now)
	s.AddDomainEvent(newSubscriptionTransitioned(s, trigger, from, params.Reason, now))
	return nil
}

// activate validates the new period before touching any field so a
// rejected period leaves the subscription unchanged.
func (s *Subscription) activate(params TriggerParams, now time.Time) error {
	start := now
	if params.PeriodStart != nil {
		start = params.PeriodStart.UTC()
	}
	anchor := start.Day()
	end := s.cycle.Advance(start, anchor)
	if params.PeriodEnd != nil {
		end = params.PeriodEnd.UTC()
	}
	period := Period{Start: start, End: end}
	if err := period.Validate(); err != nil {
		return err
	}

	s.moveTo(StatusActive)
	s.period = period
	s.anchorDay = anchor
	s.trialEnd = nil
	s.consecutiveFailures = 0
	s.syncNextBillingDate()
	return nil
}

// rollover advances the period by one cycle unit and zeroes current usage.
func (s *Subscription) rollover() error {
	start := s.period.End
	period := Period{Start: start, End: s.cycle.Advance(start, s.anchorDay)}
	if err := period.Validate(); err != nil {
		return err
	}

	s.period = period
	for metric, c := range s.usage {
		c.Used = 0
		s.usage[metric] = c
	}
	s.syncNextBillingDate()
	return nil
}

// changePlan repoints the subscription. An active subscription on the same
// cycle keeps its current period. Leaving a trial or switching cycle starts
// a fresh paid period at now.
func (s *Subscription) changePlan(plan *catalog.Plan, now time.Time) error {
	if plan == nil {
		return ErrMissingTargetPlan
	}
	if plan.Ref() == s.plan {
		return ErrPlanUnchanged
	}

	if s.status == StatusTrial || plan.Cycle() != s.cycle {
		period := FreshPeriod(plan.Cycle(), now)
		if err := period.Validate(); err != nil {
			return err
		}
		s.period = period
		s.anchorDay = now.Day()
		s.cycle = plan.Cycle()
	}

	s.plan = plan.Ref()
	s.moveTo(StatusActive)
	s.trialEnd = nil
	s.consecutiveFailures = 0
	s.ensureCounters(plan)
	s.syncNextBillingDate()
	return nil
}

// RecordUsage atomically checks and increments metric against plan.
// Nothing is applied when the increment would exceed a finite limit.
func (s *Subscription) RecordUsage(plan *catalog.Plan, metric string, amount int64, now time.Time) error {
	if amount <= 0 {
		return ErrInvalidUsage
	}
	if !s.status.AllowsUsage() {
		return fmt.Errorf("%w: %s", ErrUsageNotAllowed, s.status)
	}
	if plan == nil || plan.Ref() != s.plan {
		return ErrPlanMismatch
	}
	limit, ok := plan.Limit(metric)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownMetric, metric)
	}

	c := s.usage[metric]
	if limit != catalog.Unlimited && c.Used > limit-amount {
		return fmt.Errorf("%w: %s used %d + %d exceeds limit %d", ErrQuotaExceeded, metric, c.Used, amount, limit)
	}
	c.Used += amount
	c.Lifetime += amount
	s.usage[metric] = c

	now = now.UTC()
	s.IncrementRevision()
	s.Touch(now)
	s.AddDomainEvent(&UsageRecorded{
		BaseEvent: sharedDomain.NewBaseEvent(s.ID(), AggregateType, RoutingKeyUsageRecorded, now),
		Metric:    metric,
		Amount:    amount,
		Used:      c.Used,
		Lifetime:  c.Lifetime,
		Revision:  s.Revision(),
	})
	return nil
}

// AttachGateway pairs the subscription with a provider record, replacing
// any previous pairing.
func (s *Subscription) AttachGateway(p Pairing, now time.Time) error {
	if s.status.IsTerminal() {
		return fmt.Errorf("%w: cannot pair a %s subscription", ErrInvalidTransition, s.status)
	}
	p.Provider = strings.TrimSpace(p.Provider)
	p.SubscriptionRef = strings.TrimSpace(p.SubscriptionRef)
	p.CustomerRef = strings.TrimSpace(p.CustomerRef)
	if p.Provider == "" || (p.SubscriptionRef == "" && p.CustomerRef == "") {
		return fmt.Errorf("%w: provider and a subscription or customer reference are required", ErrInvalidPairing)
	}

	now = now.UTC()
	p.PairedAt = now

	var superseded string
	if s.gateway != nil {
		superseded = s.gateway.Provider + ":" + s.gateway.SubscriptionRef
	}
	s.gateway = &p

	s.IncrementRevision()
	s.Touch(now)
	s.AddDomainEvent(&GatewayPaired{
		BaseEvent:       sharedDomain.NewBaseEvent(s.ID(), AggregateType, RoutingKeyGatewayPaired, now),
		Provider:        p.Provider,
		CustomerRef:     p.CustomerRef,
		SubscriptionRef: p.SubscriptionRef,
		Superseded:      superseded,
		Revision:        s.Revision(),
	})
	return nil
}

func (s *Subscription) moveTo(status Status) {
	if status != s.status {
		s.previousStatus = s.status
	}
	s.status = status
}

// restoreTarget returns the remembered status when it is one of allowed,
// else the first allowed status.
func (s *Subscription) restoreTarget(allowed ...Status) Status {
	for _, st := range allowed {
		if s.previousStatus == st {
			return st
		}
	}
	return allowed[0]
}

func (s *Subscription) ensureCounters(plan *catalog.Plan) {
	for metric := range plan.Limits() {
		if _, ok := s.usage[metric]; !ok {
			s.usage[metric] = Counter{}
		}
	}
}

// syncPaymentAttempt keeps a collection attempt scheduled exactly while the
// subscription is past_due. Returning to past_due, e.g. on reinstate, makes
// the next attempt due at once.
func (s *Subscription) syncPaymentAttempt(now time.Time) {
	switch {
	case s.status != StatusPastDue:
		s.nextPaymentAttempt = nil
	case s.nextPaymentAttempt == nil:
		at := now
		s.nextPaymentAttempt = &at
	}
}

// syncNextBillingDate keeps nextBillingDate equal to the period end for
// recurring, live subscriptions and nil otherwise.
func (s *Subscription) syncNextBillingDate() {
	if !s.cycle.IsRecurring() || s.status.IsTerminal() {
		s.nextBillingDate = nil
		return
	}
	end := s.period.End
	s.nextBillingDate = &end
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}
