package persistence

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/felixgeelhaar/cadence/internal/billing/domain"
	catalog "github.com/felixgeelhaar/cadence/internal/catalog/domain"
	"github.com/felixgeelhaar/cadence/internal/shared/infrastructure/database"
	"github.com/google/uuid"
)

// SQLSubscriptionRepository implements domain.Repository on PostgreSQL or SQLite.
// Commit is a compare-and-swap on the revision column.
type SQLSubscriptionRepository struct {
	conn database.Connection
}

// NewSQLSubscriptionRepository creates a subscription repository.
func NewSQLSubscriptionRepository(conn database.Connection) *SQLSubscriptionRepository {
	return &SQLSubscriptionRepository{conn: conn}
}

const subscriptionColumns = `id, account_id, plan_id, plan_version, billing_cycle, status, previous_status,
	period_start, period_end, anchor_day, next_billing_date, trial_end, cancel_at, ended_at,
	gateway_provider, gateway_customer_ref, gateway_subscription_ref, gateway_paired_at,
	usage, consecutive_failures, next_payment_attempt, last_reconciled_at, revision, created_at, updated_at`

// Create stores a new subscription.
func (r *SQLSubscriptionRepository) Create(ctx context.Context, s *domain.Subscription) error {
	args, err := r.args(s.State())
	if err != nil {
		return err
	}
	query := database.Rebind(r.conn.Driver(), `INSERT INTO subscriptions (`+subscriptionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)

	_, err = database.ExecutorFromContext(ctx, r.conn).Exec(ctx, query, args...)
	if database.IsUniqueViolation(err) {
		return fmt.Errorf("%w: %s", domain.ErrPairingConflict, s.ID())
	}
	return err
}

// Load returns a subscription by id.
func (r *SQLSubscriptionRepository) Load(ctx context.Context, id uuid.UUID) (*domain.Subscription, error) {
	s, err := r.one(ctx, `SELECT `+subscriptionColumns+` FROM subscriptions WHERE id = ?`, id.String())
	if database.IsNoRows(err) {
		return nil, fmt.Errorf("%w: %s", domain.ErrSubscriptionNotFound, id)
	}
	return s, err
}

// Commit writes every mutable column when the stored revision equals expectedRevision.
func (r *SQLSubscriptionRepository) Commit(ctx context.Context, s *domain.Subscription, expectedRevision int64) error {
	st := s.State()
	d := r.conn.Driver()
	usage, err := json.Marshal(st.Usage)
	if err != nil {
		return fmt.Errorf("encode usage: %w", err)
	}
	provider, customerRef, subscriptionRef, pairedAt := pairingArgs(d, st.Gateway)

	query := database.Rebind(d, `
		UPDATE subscriptions SET
			plan_id = ?, plan_version = ?, billing_cycle = ?, status = ?, previous_status = ?,
			period_start = ?, period_end = ?, anchor_day = ?, next_billing_date = ?, trial_end = ?,
			cancel_at = ?, ended_at = ?, gateway_provider = ?, gateway_customer_ref = ?,
			gateway_subscription_ref = ?, gateway_paired_at = ?, usage = ?, consecutive_failures = ?,
			next_payment_attempt = ?, last_reconciled_at = ?, revision = ?, updated_at = ?
		WHERE id = ? AND revision = ?`)

	exec := database.ExecutorFromContext(ctx, r.conn)
	result, err := exec.Exec(ctx, query,
		st.Plan.ID, st.Plan.Version, string(st.Cycle), string(st.Status), nullString(string(st.PreviousStatus)),
		database.TimeArg(d, st.Period.Start), database.TimeArg(d, st.Period.End), st.AnchorDay,
		database.NullTimeArg(d, st.NextBillingDate), database.NullTimeArg(d, st.TrialEnd),
		database.NullTimeArg(d, st.CancelAt), database.NullTimeArg(d, st.EndedAt),
		provider, customerRef, subscriptionRef, pairedAt,
		string(usage), st.ConsecutiveFailures, database.NullTimeArg(d, st.NextPaymentAttempt),
		database.NullTimeArg(d, st.LastReconciledAt), st.Revision, database.TimeArg(d, st.UpdatedAt),
		st.ID.String(), expectedRevision,
	)
	if database.IsUniqueViolation(err) {
		return fmt.Errorf("%w: %s:%s", domain.ErrPairingConflict, st.Gateway.Provider, st.Gateway.SubscriptionRef)
	}
	if err != nil {
		return err
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 1 {
		return nil
	}

	// Zero rows: either the row is gone or another writer moved the revision.
	var current int64
	row := exec.QueryRow(ctx, database.Rebind(d, `SELECT revision FROM subscriptions WHERE id = ?`), st.ID.String())
	if err := row.Scan(&current); err != nil {
		if database.IsNoRows(err) {
			return fmt.Errorf("%w: %s", domain.ErrSubscriptionNotFound, st.ID)
		}
		return err
	}
	return fmt.Errorf("%w: %s expected revision %d, stored %d", domain.ErrStaleWrite, st.ID, expectedRevision, current)
}

// FindByExternalID resolves a subscription by provider subscription reference.
func (r *SQLSubscriptionRepository) FindByExternalID(ctx context.Context, provider, subscriptionRef string) (*domain.Subscription, error) {
	s, err := r.one(ctx, `SELECT `+subscriptionColumns+` FROM subscriptions
		WHERE gateway_provider = ? AND gateway_subscription_ref = ?`, provider, subscriptionRef)
	if database.IsNoRows(err) {
		return nil, fmt.Errorf("%w: %s:%s", domain.ErrSubscriptionNotFound, provider, subscriptionRef)
	}
	return s, err
}

// FindByCustomerRef resolves the most recently updated live subscription of a provider customer.
func (r *SQLSubscriptionRepository) FindByCustomerRef(ctx context.Context, provider, customerRef string) (*domain.Subscription, error) {
	s, err := r.one(ctx, `SELECT `+subscriptionColumns+` FROM subscriptions
		WHERE gateway_provider = ? AND gateway_customer_ref = ? AND status NOT IN (?, ?)
		ORDER BY updated_at DESC LIMIT 1`,
		provider, customerRef, string(domain.StatusCanceled), string(domain.StatusIncompleteExpired))
	if database.IsNoRows(err) {
		return nil, fmt.Errorf("%w: customer %s:%s", domain.ErrSubscriptionNotFound, provider, customerRef)
	}
	return s, err
}

// ListByAccount returns an account's subscriptions, newest first.
func (r *SQLSubscriptionRepository) ListByAccount(ctx context.Context, accountID uuid.UUID) ([]*domain.Subscription, error) {
	return r.many(ctx, `SELECT `+subscriptionColumns+` FROM subscriptions
		WHERE account_id = ? ORDER BY created_at DESC`, accountID.String())
}

// FindDueForRenewal returns unpaired active subscriptions whose next billing
// date has passed and that are not due to cancel.
func (r *SQLSubscriptionRepository) FindDueForRenewal(ctx context.Context, now time.Time, limit int) ([]*domain.Subscription, error) {
	at := database.TimeArg(r.conn.Driver(), now)
	return r.many(ctx, `SELECT `+subscriptionColumns+` FROM subscriptions
		WHERE status = ? AND gateway_provider IS NULL
		  AND next_billing_date IS NOT NULL AND next_billing_date <= ?
		  AND (cancel_at IS NULL OR cancel_at > ?)
		ORDER BY next_billing_date LIMIT ?`,
		string(domain.StatusActive), at, at, limit)
}

// FindDunningDue returns unpaired past_due subscriptions whose period has
// ended, whose next payment attempt has passed and that are not due to cancel.
func (r *SQLSubscriptionRepository) FindDunningDue(ctx context.Context, now time.Time, limit int) ([]*domain.Subscription, error) {
	at := database.TimeArg(r.conn.Driver(), now)
	return r.many(ctx, `SELECT `+subscriptionColumns+` FROM subscriptions
		WHERE status = ? AND gateway_provider IS NULL
		  AND next_payment_attempt IS NOT NULL AND next_payment_attempt <= ?
		  AND period_end <= ?
		  AND (cancel_at IS NULL OR cancel_at > ?)
		ORDER BY next_payment_attempt LIMIT ?`,
		string(domain.StatusPastDue), at, at, at, limit)
}

// FindCancelDue returns live subscriptions whose cancel-at has passed.
func (r *SQLSubscriptionRepository) FindCancelDue(ctx context.Context, now time.Time, limit int) ([]*domain.Subscription, error) {
	return r.many(ctx, `SELECT `+subscriptionColumns+` FROM subscriptions
		WHERE cancel_at IS NOT NULL AND cancel_at <= ? AND status NOT IN (?, ?)
		ORDER BY cancel_at LIMIT ?`,
		database.TimeArg(r.conn.Driver(), now),
		string(domain.StatusCanceled), string(domain.StatusIncompleteExpired), limit)
}

// FindExpiredTrials returns trials whose trial end has passed.
func (r *SQLSubscriptionRepository) FindExpiredTrials(ctx context.Context, now time.Time, limit int) ([]*domain.Subscription, error) {
	return r.many(ctx, `SELECT `+subscriptionColumns+` FROM subscriptions
		WHERE status = ? AND trial_end IS NOT NULL AND trial_end <= ?
		ORDER BY trial_end LIMIT ?`,
		string(domain.StatusTrial), database.TimeArg(r.conn.Driver(), now), limit)
}

func (r *SQLSubscriptionRepository) args(st domain.State) ([]any, error) {
	d := r.conn.Driver()
	usage, err := json.Marshal(st.Usage)
	if err != nil {
		return nil, fmt.Errorf("encode usage: %w", err)
	}
	provider, customerRef, subscriptionRef, pairedAt := pairingArgs(d, st.Gateway)
	return []any{
		st.ID.String(), st.AccountID.String(), st.Plan.ID, st.Plan.Version, string(st.Cycle),
		string(st.Status), nullString(string(st.PreviousStatus)),
		database.TimeArg(d, st.Period.Start), database.TimeArg(d, st.Period.End), st.AnchorDay,
		database.NullTimeArg(d, st.NextBillingDate), database.NullTimeArg(d, st.TrialEnd),
		database.NullTimeArg(d, st.CancelAt), database.NullTimeArg(d, st.EndedAt),
		provider, customerRef, subscriptionRef, pairedAt,
		string(usage), st.ConsecutiveFailures, database.NullTimeArg(d, st.NextPaymentAttempt),
		database.NullTimeArg(d, st.LastReconciledAt),
		st.Revision, database.TimeArg(d, st.CreatedAt), database.TimeArg(d, st.UpdatedAt),
	}, nil
}

func (r *SQLSubscriptionRepository) one(ctx context.Context, query string, args ...any) (*domain.Subscription, error) {
	row := database.ExecutorFromContext(ctx, r.conn).QueryRow(ctx, database.Rebind(r.conn.Driver(), query), args...)
	return scanSubscription(row)
}

func (r *SQLSubscriptionRepository) many(ctx context.Context, query string, args ...any) ([]*domain.Subscription, error) {
	rows, err := database.ExecutorFromContext(ctx, r.conn).Query(ctx, database.Rebind(r.conn.Driver(), query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var subs []*domain.Subscription
	for rows.Next() {
		s, err := scanSubscription(rows)
		if err != nil {
			return nil, err
		}
		subs = append(subs, s)
	}
	return subs, rows.Err()
}

func scanSubscription(row database.Row) (*domain.Subscription, error) {
	var (
		id, accountID, planID, cycle, status, usageJSON    string
		previousStatus                                     *string
		provider, customerRef, subscriptionRef             *string
		planVersion, anchorDay, failures                   int
		revision                                           int64
		periodStart, periodEnd, createdAt, updatedAt       database.Timestamp
		nextBilling, trialEnd, cancelAt, endedAt, pairedAt database.Timestamp
		lastReconciled, nextAttempt                        database.Timestamp
	)
	err := row.Scan(
		&id, &accountID, &planID, &planVersion, &cycle, &status, &previousStatus,
		&periodStart, &periodEnd, &anchorDay, &nextBilling, &trialEnd, &cancelAt, &endedAt,
		&provider, &customerRef, &subscriptionRef, &pairedAt,
		&usageJSON, &failures, &nextAttempt, &lastReconciled, &revision, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	subID, err := uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("parse subscription id: %w", err)
	}
	account, err := uuid.Parse(accountID)
	if err != nil {
		return nil, fmt.Errorf("parse account id for %s: %w", id, err)
	}
	usage := map[string]domain.Counter{}
	if strings.TrimSpace(usageJSON) != "" {
		if err := json.Unmarshal([]byte(usageJSON), &usage); err != nil {
			return nil, fmt.Errorf("decode usage for %s: %w", id, err)
		}
	}

	var gateway *domain.Pairing
	if provider != nil {
		gateway = &domain.Pairing{
			Provider:        *provider,
			CustomerRef:     deref(customerRef),
			SubscriptionRef: deref(subscriptionRef),
			PairedAt:        pairedAt.Time,
		}
	}

	return domain.RehydrateSubscription(domain.State{
		ID:                  subID,
		AccountID:           account,
		Plan:                catalog.PlanRef{ID: planID, Version: planVersion},
		Cycle:               catalog.BillingCycle(cycle),
		Status:              domain.Status(status),
		PreviousStatus:      domain.Status(deref(previousStatus)),
		Period:              domain.Period{Start: periodStart.Time, End: periodEnd.Time},
		AnchorDay:           anchorDay,
		NextBillingDate:     nextBilling.Ptr(),
		TrialEnd:            trialEnd.Ptr(),
		CancelAt:            cancelAt.Ptr(),
		EndedAt:             endedAt.Ptr(),
		Gateway:             gateway,
		Usage:               usage,
		ConsecutiveFailures: failures,
		NextPaymentAttempt:  nextAttempt.Ptr(),
		LastReconciledAt:    lastReconciled.Ptr(),
		Revision:            revision,
		CreatedAt:           createdAt.Time,
		UpdatedAt:           updatedAt.Time,
	}), nil
}

func pairingArgs(d database.Driver, p *domain.Pairing) (provider, customerRef, subscriptionRef, pairedAt any) {
	if p == nil {
		return nil, nil, nil, nil
	}
	return p.Provider, nullString(p.CustomerRef), nullString(p.SubscriptionRef), database.TimeArg(d, p.PairedAt)
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
