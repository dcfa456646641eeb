package outbox

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/felixgeelhaar/cadence/internal/shared/domain"
	"github.com/felixgeelhaar/cadence/internal/shared/infrastructure/eventbus"
	"github.com/felixgeelhaar/cadence/pkg/observability"
)

// ProcessorConfig tunes the relay from the outbox table to the broker.
type ProcessorConfig struct {
	PollInterval time.Duration
	BatchSize    int
	// MaxRetries is the number of failed publishes after which a message is
	// dead-lettered. Zero dead-letters on the first failure.
	MaxRetries       int
	RetryBackoffBase time.Duration
	RetryBackoffMax  time.Duration
	// Retention is how long published messages are kept before Cleanup.
	Retention time.Duration
}

// DefaultProcessorConfig returns the defaults used by the worker.
func DefaultProcessorConfig() ProcessorConfig {
	return ProcessorConfig{
		PollInterval:     100 * time.Millisecond,
		BatchSize:        100,
		MaxRetries:       5,
		RetryBackoffBase: time.Second,
		RetryBackoffMax:  time.Minute,
		Retention:        14 * 24 * time.Hour,
	}
}

// Processor relays subscription events written by command handlers inside
// their unit of work to the event bus. Delivery is at least once; consumers
// dedupe on the event id.
type Processor struct {
	repo      Repository
	publisher eventbus.Publisher
	config    ProcessorConfig
	logger    *slog.Logger
	clock     domain.Clock
	metrics   observability.Metrics

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	running atomic.Bool

	published atomic.Uint64
	failed    atomic.Uint64
	dead      atomic.Uint64

	statsMu   sync.Mutex
	lastError string
	lastErrAt *time.Time
	lastRunAt *time.Time
	oldestAt  *time.Time
	lag       float64
}

// ProcessorOption customises a Processor.
type ProcessorOption func(*Processor)

// WithClock sets the clock used for retry scheduling and retention.
func WithClock(clock domain.Clock) ProcessorOption {
	return func(p *Processor) { p.clock = clock }
}

// WithMetrics records publish outcomes.
func WithMetrics(metrics observability.Metrics) ProcessorOption {
	return func(p *Processor) { p.metrics = metrics }
}

// NewProcessor creates a processor. Zero config fields fall back to
// DefaultProcessorConfig where a zero value would stall the loop.
func NewProcessor(repo Repository, publisher eventbus.Publisher, config ProcessorConfig, logger *slog.Logger, opts ...ProcessorOption) *Processor {
	defaults := DefaultProcessorConfig()
	if config.PollInterval <= 0 {
		config.PollInterval = defaults.PollInterval
	}
	if config.BatchSize <= 0 {
		config.BatchSize = defaults.BatchSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	p := &Processor{
		repo:      repo,
		publisher: publisher,
		config:    config,
		logger:    logger.With("component", "outbox"),
		clock:     domain.SystemClock{},
		metrics:   observability.NoopMetrics{},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Start launches the polling loop. Calling Start on a running processor is a no-op.
func (p *Processor) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running.Load() {
		return nil
	}

	loopCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.done = make(chan struct{})
	p.running.Store(true)
	go p.loop(loopCtx, p.done)

	p.logger.Info("outbox processor started",
		"poll_interval", p.config.PollInterval,
		"batch_size", p.config.BatchSize,
		"max_retries", p.config.MaxRetries,
	)
	return nil
}

// Stop cancels the loop and waits for the batch in flight to finish.
func (p *Processor) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.running.Load() {
		return
	}
	p.cancel()
	<-p.done
	p.running.Store(false)
	p.logger.Info("outbox processor stopped")
}

// IsRunning reports whether the loop is active.
func (p *Processor) IsRunning() bool {
	return p.running.Load()
}

func (p *Processor) loop(ctx context.Context, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(p.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := p.ProcessOnce(ctx); err != nil && ctx.Err() == nil {
				p.logger.Error("outbox batch failed", "error", err)
			}
		}
	}
}

// ProcessOnce publishes one batch of due messages.
func (p *Processor) ProcessOnce(ctx context.Context) error {
	now := p.clock.Now()
	messages, err := p.repo.GetUnpublished(ctx, now, p.config.BatchSize)
	if err != nil {
		p.noteError(err)
		return err
	}
	p.noteBatch(now, messages)

	for _, msg := range messages {
		p.deliver(ctx, msg)
	}
	return nil
}

func (p *Processor) deliver(ctx context.Context, msg *Message) {
	key := observability.T("routing_key", msg.RoutingKey)
	ctx = messageContext(ctx, msg)

	err := p.publisher.Publish(ctx, msg.RoutingKey, msg.Payload)
	if err == nil {
		if err := p.repo.MarkPublished(ctx, msg.ID, p.clock.Now()); err != nil {
			p.logger.ErrorContext(ctx, "failed to mark message published", "id", msg.ID, "event_id", msg.EventID, "error", err)
			return
		}
		p.published.Add(1)
		p.metrics.Counter(observability.MetricOutboxPublished, 1, key)
		return
	}

	p.noteError(err)
	attempt := msg.RetryCount + 1
	p.logger.WarnContext(ctx, "publish failed",
		"id", msg.ID,
		"event_id", msg.EventID,
		"routing_key", msg.RoutingKey,
		"attempt", attempt,
		"error", err,
	)

	if attempt >= p.config.MaxRetries {
		p.dead.Add(1)
		p.metrics.Counter(observability.MetricOutboxDeadLettered, 1, key)
		if err := p.repo.MarkDead(ctx, msg.ID, err.Error(), p.clock.Now()); err != nil {
			p.logger.ErrorContext(ctx, "failed to dead-letter message", "id", msg.ID, "error", err)
		}
		return
	}

	p.failed.Add(1)
	next := p.clock.Now().Add(p.backoff(attempt))
	if err := p.repo.MarkFailed(ctx, msg.ID, err.Error(), next); err != nil {
		p.logger.ErrorContext(ctx, "failed to schedule retry", "id", msg.ID, "error", err)
	}
}

// backoff doubles from RetryBackoffBase for each attempt, capped at RetryBackoffMax.
func (p *Processor) backoff(attempt int) time.Duration {
	base, ceiling := p.config.RetryBackoffBase, p.config.RetryBackoffMax
	if base <= 0 {
		base = time.Second
	}
	if ceiling <= 0 {
		ceiling = time.Minute
	}
	if attempt > 30 {
		return ceiling
	}
	d := base << max(attempt-1, 0)
	if d <= 0 || d > ceiling {
		return ceiling
	}
	return d
}

// messageContext carries the originating request's correlation and actor
// ids so the publisher can stamp them on the broker message.
func messageContext(ctx context.Context, msg *Message) context.Context {
	if len(msg.Metadata) == 0 {
		return ctx
	}
	var meta domain.EventMetadata
	if err := json.Unmarshal(msg.Metadata, &meta); err != nil {
		return ctx
	}
	ctx = observability.WithCorrelationID(ctx, meta.CorrelationID.String())
	return observability.WithActorID(ctx, meta.ActorID.String())
}

// Cleanup deletes published messages older than the retention window.
func (p *Processor) Cleanup(ctx context.Context) (int64, error) {
	retention := p.config.Retention
	if retention <= 0 {
		retention = DefaultProcessorConfig().Retention
	}
	return p.repo.DeleteOld(ctx, p.clock.Now().Add(-retention))
}

// Stats is a snapshot for health endpoints and periodic logging.
type Stats struct {
	IsRunning       bool
	PublishedCount  uint64
	FailedCount     uint64
	DeadCount       uint64
	LagSeconds      float64
	LastError       string
	LastErrorAt     *time.Time
	LastProcessedAt *time.Time
	OldestMessageAt *time.Time
}

// GetStats returns a snapshot of the processor counters.
func (p *Processor) GetStats() Stats {
	p.statsMu.Lock()
	defer p.statsMu.Unlock()
	return Stats{
		IsRunning:       p.IsRunning(),
		PublishedCount:  p.published.Load(),
		FailedCount:     p.failed.Load(),
		DeadCount:       p.dead.Load(),
		LagSeconds:      p.lag,
		LastError:       p.lastError,
		LastErrorAt:     p.lastErrAt,
		LastProcessedAt: p.lastRunAt,
		OldestMessageAt: p.oldestAt,
	}
}

func (p *Processor) noteError(err error) {
	now := p.clock.Now()
	p.statsMu.Lock()
	p.lastError, p.lastErrAt = err.Error(), &now
	p.statsMu.Unlock()
}

func (p *Processor) noteBatch(now time.Time, messages []*Message) {
	p.statsMu.Lock()
	defer p.statsMu.Unlock()
	p.lastRunAt = &now
	p.oldestAt, p.lag = nil, 0
	for _, msg := range messages {
		if p.oldestAt == nil || msg.CreatedAt.Before(*p.oldestAt) {
			created := msg.CreatedAt
			p.oldestAt = &created
		}
	}
	if p.oldestAt != nil {
		p.lag = now.Sub(*p.oldestAt).Seconds()
	}
}
