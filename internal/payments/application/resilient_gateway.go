// Package application wraps gateway clients with the call policy every
// outbound charge follows: bounded timeout, bounded retries with one
// idempotency key, and a circuit breaker.
package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/felixgeelhaar/cadence/internal/payments/domain"
	"github.com/felixgeelhaar/cadence/pkg/observability"
	"github.com/sony/gobreaker/v2"
)

// Config tunes the call policy.
type Config struct {
	// Timeout bounds a single attempt.
	Timeout time.Duration
	// MaxAttempts bounds attempts per charge, including the first.
	MaxAttempts int
	// Backoff is the wait before the second attempt; it doubles after each retry.
	Backoff time.Duration
	// BreakerFailures is the consecutive failure count that opens the breaker.
	BreakerFailures uint32
	// BreakerTimeout is how long the breaker stays open.
	BreakerTimeout time.Duration
}

// DefaultConfig returns the default call policy.
func DefaultConfig() Config {
	return Config{
		Timeout:         10 * time.Second,
		MaxAttempts:     3,
		Backoff:         200 * time.Millisecond,
		BreakerFailures: 5,
		BreakerTimeout:  30 * time.Second,
	}
}

// ResilientGateway decorates a domain.Gateway.
type ResilientGateway struct {
	inner   domain.Gateway
	breaker *gobreaker.CircuitBreaker[*domain.ChargeResult]
	config  Config
	logger  *slog.Logger
	metrics observability.Metrics
	sleep   func(ctx context.Context, d time.Duration) error
}

// NewResilientGateway wraps inner. Zero config fields take defaults.
func NewResilientGateway(inner domain.Gateway, config Config, logger *slog.Logger, metrics observability.Metrics) *ResilientGateway {
	def := DefaultConfig()
	if config.Timeout <= 0 {
		config.Timeout = def.Timeout
	}
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = def.MaxAttempts
	}
	if config.Backoff <= 0 {
		config.Backoff = def.Backoff
	}
	if config.BreakerFailures == 0 {
		config.BreakerFailures = def.BreakerFailures
	}
	if config.BreakerTimeout <= 0 {
		config.BreakerTimeout = def.BreakerTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	if metrics == nil {
		metrics = observability.NoopMetrics{}
	}

	g := &ResilientGateway{
		inner:   inner,
		config:  config,
		logger:  logger,
		metrics: metrics,
		sleep:   sleepContext,
	}
	g.breaker = gobreaker.NewCircuitBreaker[*domain.ChargeResult](gobreaker.Settings{
		Name:        "gateway",
		MaxRequests: 1,
		Timeout:     config.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= config.BreakerFailures
		},
		// Declines, pending payments and bad requests say nothing about gateway health.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, domain.ErrCardDeclined) ||
				errors.Is(err, domain.ErrChargePending) || errors.Is(err, domain.ErrInvalidCharge)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("gateway circuit breaker state changed",
				"breaker", name,
				"from", from.String(),
				"to", to.String(),
			)
			metrics.Gauge(observability.MetricGatewayBreakerState, float64(to))
		},
	})
	return g
}

// Charge runs req through the breaker, retrying transient failures with
// the same idempotency key.
func (g *ResilientGateway) Charge(ctx context.Context, req domain.ChargeRequest) (*domain.ChargeResult, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	start := time.Now()
	backoff := g.config.Backoff
	var lastErr error

	for attempt := 1; attempt <= g.config.MaxAttempts; attempt++ {
		result, err := g.attempt(ctx, req)
		if err == nil {
			g.record("succeeded", start)
			return result, nil
		}
		lastErr = err

		if !domain.IsRetryable(err) || attempt == g.config.MaxAttempts {
			break
		}
		g.logger.Warn("gateway charge attempt failed, retrying",
			"attempt", attempt,
			"idempotency_key", req.IdempotencyKey,
			"error", err,
		)
		if err := g.sleep(ctx, backoff); err != nil {
			lastErr = fmt.Errorf("%w: %v", domain.ErrGatewayTimeout, err)
			break
		}
		backoff *= 2
	}

	g.record(outcomeOf(lastErr), start)
	return nil, lastErr
}

func (g *ResilientGateway) attempt(ctx context.Context, req domain.ChargeRequest) (*domain.ChargeResult, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, g.config.Timeout)
	defer cancel()

	result, err := g.breaker.Execute(func() (*domain.ChargeResult, error) {
		res, err := g.inner.Charge(attemptCtx, req)
		if err != nil && errors.Is(attemptCtx.Err(), context.DeadlineExceeded) && !errors.Is(err, domain.ErrGatewayTimeout) {
			err = fmt.Errorf("%w: %v", domain.ErrGatewayTimeout, err)
		}
		return res, err
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, domain.ErrCircuitOpen
	}
	return result, err
}

// VerifySignature delegates to the wrapped client.
func (g *ResilientGateway) VerifySignature(payload []byte, header, secret string) bool {
	return g.inner.VerifySignature(payload, header, secret)
}

// BreakerState reports the breaker state for health checks.
func (g *ResilientGateway) BreakerState() gobreaker.State {
	return g.breaker.State()
}

func (g *ResilientGateway) record(outcome string, start time.Time) {
	g.metrics.Counter(observability.MetricGatewayCharges, 1, observability.T("outcome", outcome))
	g.metrics.Timing(observability.MetricGatewayChargeDuration, time.Since(start), observability.T("outcome", outcome))
}

func outcomeOf(err error) string {
	switch {
	case errors.Is(err, domain.ErrCardDeclined):
		return "declined"
	case errors.Is(err, domain.ErrCircuitOpen):
		return "circuit_open"
	case errors.Is(err, domain.ErrChargePending):
		return "pending"
	case errors.Is(err, domain.ErrGatewayTimeout):
		return "timeout"
	case errors.Is(err, domain.ErrInvalidCharge):
		return "invalid"
	default:
		return "failed"
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
