// Package workers runs the time-driven side of the subscription lifecycle.
package workers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/felixgeelhaar/cadence/internal/billing/application/commands"
	"github.com/felixgeelhaar/cadence/internal/billing/domain"
	payments "github.com/felixgeelhaar/cadence/internal/payments/domain"
	sharedDomain "github.com/felixgeelhaar/cadence/internal/shared/domain"
	"github.com/felixgeelhaar/cadence/pkg/observability"
	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"
)

// errSkipped marks a subscription that moved on between query and apply.
var errSkipped = errors.New("subscription no longer due")

// Sweep steps, also used as metric tags.
const (
	StepCancelDue     = "cancel_due"
	StepExpiredTrials = "expired_trials"
	StepRenewals      = "renewals"
	StepDunning       = "dunning"
)

// LifecycleSweeperConfig configures the sweeper.
type LifecycleSweeperConfig struct {
	// Schedule is a cron spec; descriptors such as "@every 1m" work.
	Schedule    string
	BatchSize   int
	Concurrency int
}

// DefaultLifecycleSweeperConfig returns the default configuration.
func DefaultLifecycleSweeperConfig() LifecycleSweeperConfig {
	return LifecycleSweeperConfig{
		Schedule:    "@every 1m",
		BatchSize:   100,
		Concurrency: 4,
	}
}

// SweepReport counts what one pass did.
type SweepReport struct {
	Canceled      int `json:"canceled"`
	TrialsExpired int `json:"trials_expired"`
	Renewed       int `json:"renewed"`
	RenewalFailed int `json:"renewal_failed"`
	Recovered     int `json:"recovered"`
	RetryFailed   int `json:"retry_failed"`
	Skipped       int `json:"skipped"`
	Errors        int `json:"errors"`
}

// LifecycleSweeper fires the transitions no external event drives:
// scheduled cancellations, expired trials, and renewals and dunning retries
// of subscriptions that are not paired with a gateway subscription.
type LifecycleSweeper struct {
	subs    domain.Repository
	apply   *commands.ApplyCommandHandler
	plans   commands.Plans
	gateway payments.Gateway
	clock   sharedDomain.Clock
	config  LifecycleSweeperConfig
	logger  *slog.Logger
	metrics observability.Metrics
	running atomic.Bool
}

// NewLifecycleSweeper creates a sweeper.
func NewLifecycleSweeper(
	subs domain.Repository,
	apply *commands.ApplyCommandHandler,
	plans commands.Plans,
	gateway payments.Gateway,
	clock sharedDomain.Clock,
	config LifecycleSweeperConfig,
	logger *slog.Logger,
	metrics observability.Metrics,
) *LifecycleSweeper {
	def := DefaultLifecycleSweeperConfig()
	if config.Schedule == "" {
		config.Schedule = def.Schedule
	}
	if config.BatchSize <= 0 {
		config.BatchSize = def.BatchSize
	}
	if config.Concurrency <= 0 {
		config.Concurrency = def.Concurrency
	}
	if clock == nil {
		clock = sharedDomain.SystemClock{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	if metrics == nil {
		metrics = observability.NoopMetrics{}
	}
	return &LifecycleSweeper{
		subs:    subs,
		apply:   apply,
		plans:   plans,
		gateway: gateway,
		clock:   clock,
		config:  config,
		logger:  logger,
		metrics: metrics,
	}
}

// Run schedules sweeps and blocks until ctx is cancelled. A sweep still
// running when the next tick fires makes that tick a no-op.
func (w *LifecycleSweeper) Run(ctx context.Context) error {
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cronLogger{w.logger})))
	if _, err := c.AddFunc(w.config.Schedule, func() {
		if _, err := w.RunOnce(ctx); err != nil && ctx.Err() == nil {
			w.logger.Error("lifecycle sweep failed", "error", err)
		}
	}); err != nil {
		return fmt.Errorf("invalid sweep schedule %q: %w", w.config.Schedule, err)
	}

	w.running.Store(true)
	c.Start()
	w.logger.Info("lifecycle sweeper started",
		"schedule", w.config.Schedule,
		"batch_size", w.config.BatchSize,
		"concurrency", w.config.Concurrency,
	)

	<-ctx.Done()
	<-c.Stop().Done()
	w.running.Store(false)
	w.logger.Info("lifecycle sweeper stopped")
	return ctx.Err()
}

// IsRunning reports whether Run is active.
func (w *LifecycleSweeper) IsRunning() bool {
	return w.running.Load()
}

// RunOnce performs one pass. Cancellations run before renewals so a
// subscription scheduled to end at its period end is never charged again;
// every charge also rechecks cancel-at on a fresh load.
func (w *LifecycleSweeper) RunOnce(ctx context.Context) (*SweepReport, error) {
	timer := observability.StartTimer("billing.sweep").WithLogger(w.logger).WithMetrics(w.metrics)
	report, err := w.sweep(ctx)
	timer.StopWithError(err)
	return report, err
}

func (w *LifecycleSweeper) sweep(ctx context.Context) (*SweepReport, error) {
	now := w.clock.Now()
	report := &SweepReport{}
	var mu sync.Mutex
	count := func(field *int) {
		mu.Lock()
		*field++
		mu.Unlock()
	}

	w.metrics.Counter(observability.MetricSweepRuns, 1)

	cancelDue, err := w.subs.FindCancelDue(ctx, now, w.config.BatchSize)
	if err != nil {
		return report, fmt.Errorf("find cancel-due subscriptions: %w", err)
	}
	w.fanOut(ctx, StepCancelDue, cancelDue, func(ctx context.Context, s *domain.Subscription) error {
		err := w.fire(ctx, s.ID(), domain.TriggerCancelImmediate, "scheduled cancellation", func(cur *domain.Subscription) error {
			if at := cur.CancelAt(); at == nil || at.After(now) || cur.IsTerminal() {
				return errSkipped
			}
			return nil
		})
		if err == nil {
			count(&report.Canceled)
		}
		return err
	}, report, count)

	trials, err := w.subs.FindExpiredTrials(ctx, now, w.config.BatchSize)
	if err != nil {
		return report, fmt.Errorf("find expired trials: %w", err)
	}
	w.fanOut(ctx, StepExpiredTrials, trials, func(ctx context.Context, s *domain.Subscription) error {
		err := w.fire(ctx, s.ID(), domain.TriggerTrialExpiredWithoutPayment, "trial ended without payment", func(cur *domain.Subscription) error {
			if cur.Status() != domain.StatusTrial {
				return errSkipped
			}
			return nil
		})
		if err == nil {
			count(&report.TrialsExpired)
		}
		return err
	}, report, count)

	due, err := w.subs.FindDueForRenewal(ctx, now, w.config.BatchSize)
	if err != nil {
		return report, fmt.Errorf("find renewals: %w", err)
	}
	w.fanOut(ctx, StepRenewals, due, func(ctx context.Context, s *domain.Subscription) error {
		return w.renew(ctx, s, now, report, count)
	}, report, count)

	retries, err := w.subs.FindDunningDue(ctx, now, w.config.BatchSize)
	if err != nil {
		return report, fmt.Errorf("find dunning retries: %w", err)
	}
	w.fanOut(ctx, StepDunning, retries, func(ctx context.Context, s *domain.Subscription) error {
		return w.retry(ctx, s, now, report, count)
	}, report, count)

	if report.Canceled+report.TrialsExpired+report.Renewed+report.RenewalFailed+report.Recovered+report.RetryFailed+report.Errors > 0 {
		w.logger.Info("lifecycle sweep completed",
			"canceled", report.Canceled,
			"trials_expired", report.TrialsExpired,
			"renewed", report.Renewed,
			"renewal_failed", report.RenewalFailed,
			"recovered", report.Recovered,
			"retry_failed", report.RetryFailed,
			"skipped", report.Skipped,
			"errors", report.Errors,
		)
	}
	return report, nil
}

func (w *LifecycleSweeper) fanOut(
	ctx context.Context,
	step string,
	subs []*domain.Subscription,
	fn func(ctx context.Context, s *domain.Subscription) error,
	report *SweepReport,
	count func(*int),
) {
	if len(subs) == 0 {
		return
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(w.config.Concurrency)
	for _, s := range subs {
		g.Go(func() error {
			err := fn(gctx, s)
			outcome := "ok"
			switch {
			case err == nil:
			case errors.Is(err, errSkipped), errors.Is(err, domain.ErrInvalidTransition):
				outcome = "skipped"
				count(&report.Skipped)
			default:
				outcome = "error"
				count(&report.Errors)
				w.logger.Warn("lifecycle step failed",
					"step", step,
					"subscription_id", s.ID(),
					"error", err,
				)
			}
			w.metrics.Counter(observability.MetricSweepProcessed, 1,
				observability.T("step", step),
				observability.T("outcome", outcome))
			// Per-subscription failures never abort the batch.
			return nil
		})
	}
	_ = g.Wait()
}

func (w *LifecycleSweeper) fire(ctx context.Context, id uuid.UUID, trigger domain.Trigger, reason string, precondition func(*domain.Subscription) error) error {
	_, err := w.apply.Handle(ctx, commands.ApplyCommand{
		SubscriptionID: id,
		Trigger:        trigger,
		Params:         domain.TriggerParams{Reason: reason},
		Precondition:   precondition,
	})
	return err
}

// renew charges the plan price for the period that just ended, then rolls
// the period over. A declined charge counts as a failed payment instead.
// Transient gateway errors leave the subscription due, and the next pass
// retries with the same idempotency key.
func (w *LifecycleSweeper) renew(ctx context.Context, s *domain.Subscription, now time.Time, report *SweepReport, count func(*int)) error {
	periodEnd := s.Period().End
	stillDue := func(cur *domain.Subscription) error {
		if cur.Status() != domain.StatusActive || !cur.Period().End.Equal(periodEnd) || cur.Gateway() != nil {
			return errSkipped
		}
		return nil
	}

	cur, err := w.chargeable(ctx, s.ID(), now, stillDue)
	if err != nil {
		return err
	}
	err = w.collect(ctx, cur, fmt.Sprintf("renewal:%s:%d", cur.ID(), periodEnd.Unix()))

	switch {
	case err == nil:
		if err := w.fire(ctx, cur.ID(), domain.TriggerPeriodRollover, "renewal charged", stillDue); err != nil {
			return err
		}
		count(&report.Renewed)
		return nil
	case errors.Is(err, payments.ErrCardDeclined):
		if err := w.fire(ctx, cur.ID(), domain.TriggerPaymentFailed, "renewal declined", stillDue); err != nil {
			return err
		}
		count(&report.RenewalFailed)
		return nil
	default:
		return fmt.Errorf("renewal charge: %w", err)
	}
}

// retry is one dunning attempt on a past_due subscription whose period has
// ended. Each attempt has its own idempotency key so a declined attempt is
// not replayed by the gateway. Success recovers and rolls the period over in
// one commit; another decline counts towards the dunning threshold.
func (w *LifecycleSweeper) retry(ctx context.Context, s *domain.Subscription, now time.Time, report *SweepReport, count func(*int)) error {
	periodEnd := s.Period().End
	attempt := s.ConsecutiveFailures()
	stillDue := func(cur *domain.Subscription) error {
		if cur.Status() != domain.StatusPastDue || cur.Gateway() != nil ||
			!cur.Period().End.Equal(periodEnd) || cur.ConsecutiveFailures() != attempt {
			return errSkipped
		}
		return nil
	}

	cur, err := w.chargeable(ctx, s.ID(), now, stillDue)
	if err != nil {
		return err
	}
	if at := cur.NextPaymentAttempt(); at == nil || at.After(now) || periodEnd.After(now) {
		return errSkipped
	}
	err = w.collect(ctx, cur, fmt.Sprintf("renewal:%s:%d:retry-%d", cur.ID(), periodEnd.Unix(), attempt))

	switch {
	case err == nil:
		if _, err := w.apply.HandleSequence(ctx, cur.ID(), uuid.Nil, stillDue, "dunning retry charged",
			domain.TriggerPaymentRecovered, domain.TriggerPeriodRollover); err != nil {
			return err
		}
		count(&report.Recovered)
		return nil
	case errors.Is(err, payments.ErrCardDeclined):
		if err := w.fire(ctx, cur.ID(), domain.TriggerPaymentFailed, "dunning retry declined", stillDue); err != nil {
			return err
		}
		count(&report.RetryFailed)
		return nil
	default:
		return fmt.Errorf("dunning charge: %w", err)
	}
}

// chargeable reloads the subscription right before money moves. A
// cancellation that is already due always wins over a charge.
func (w *LifecycleSweeper) chargeable(ctx context.Context, id uuid.UUID, now time.Time, due func(*domain.Subscription) error) (*domain.Subscription, error) {
	cur, err := w.subs.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	if at := cur.CancelAt(); at != nil && !at.After(now) {
		return nil, errSkipped
	}
	if err := due(cur); err != nil {
		return nil, err
	}
	return cur, nil
}

// collect charges one period of the subscription's plan. Free plans
// collect nothing.
func (w *LifecycleSweeper) collect(ctx context.Context, s *domain.Subscription, idempotencyKey string) error {
	plan, err := w.plans.GetPlan(ctx, s.Plan())
	if err != nil {
		return err
	}
	if plan.Price().Amount <= 0 {
		return nil
	}
	_, err = w.gateway.Charge(ctx, payments.ChargeRequest{
		CustomerRef:    s.AccountID().String(),
		Amount:         plan.Price().Amount,
		Currency:       plan.Price().Currency,
		IdempotencyKey: idempotencyKey,
		Description:    fmt.Sprintf("Renewal of %s", plan.Ref()),
		Metadata: map[string]string{
			"subscription_id": s.ID().String(),
			"period_end":      s.Period().End.Format(time.RFC3339),
		},
	})
	return err
}

// cronLogger routes cron's logging through slog.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
