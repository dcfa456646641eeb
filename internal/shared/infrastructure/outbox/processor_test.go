package outbox_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/felixgeelhaar/cadence/internal/shared/domain"
	"github.com/felixgeelhaar/cadence/internal/shared/infrastructure/outbox"
	"github.com/felixgeelhaar/cadence/pkg/observability"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRepository struct {
	mu            sync.Mutex
	messages      []*outbox.Message
	published     []int64
	failed        []int64
	dead          []int64
	deletedBefore time.Time
}

func (r *fakeRepository) SaveBatch(ctx context.Context, msgs []*outbox.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, msg := range msgs {
		msg.ID = int64(len(r.messages) + 1)
		r.messages = append(r.messages, msg)
	}
	return nil
}

func (r *fakeRepository) GetUnpublished(ctx context.Context, now time.Time, limit int) ([]*outbox.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*outbox.Message
	for _, msg := range r.messages {
		if msg.PublishedAt != nil || msg.DeadLetteredAt != nil {
			continue
		}
		if msg.NextRetryAt != nil && msg.NextRetryAt.After(now) {
			continue
		}
		out = append(out, msg)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (r *fakeRepository) MarkPublished(ctx context.Context, id int64, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.published = append(r.published, id)
	r.messages[id-1].PublishedAt = &at
	return nil
}

func (r *fakeRepository) MarkFailed(ctx context.Context, id int64, errMsg string, next time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failed = append(r.failed, id)
	msg := r.messages[id-1]
	msg.RetryCount++
	msg.LastError = &errMsg
	msg.NextRetryAt = &next
	return nil
}

func (r *fakeRepository) MarkDead(ctx context.Context, id int64, reason string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.dead = append(r.dead, id)
	r.messages[id-1].DeadLetteredAt = &at
	return nil
}

func (r *fakeRepository) DeleteOld(ctx context.Context, before time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deletedBefore = before
	return 0, nil
}

type fakePublisher struct {
	mu   sync.Mutex
	keys []string
	err  error
}

func (p *fakePublisher) Publish(ctx context.Context, routingKey string, payload []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.keys = append(p.keys, routingKey)
	return nil
}

func (p *fakePublisher) Close() error { return nil }

type sampleEvent struct {
	domain.BaseEvent
	Status string `json:"status"`
}

var now = time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)

func seed(t *testing.T, repo *fakeRepository, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		msg, err := outbox.NewMessage(&sampleEvent{
			BaseEvent: domain.NewBaseEvent(uuid.New(), "Subscription", "billing.subscription.transitioned", now),
			Status:    "active",
		})
		require.NoError(t, err)
		require.NoError(t, repo.SaveBatch(context.Background(), []*outbox.Message{msg}))
	}
}

func TestNewMessage_SerialisesEvent(t *testing.T) {
	event := &sampleEvent{
		BaseEvent: domain.NewBaseEvent(uuid.New(), "Subscription", "billing.subscription.transitioned", now),
		Status:    "past_due",
	}

	msg, err := outbox.NewMessage(event)

	require.NoError(t, err)
	assert.Equal(t, event.EventID(), msg.EventID)
	assert.Equal(t, "billing.subscription.transitioned", msg.RoutingKey)
	assert.JSONEq(t, `{"status":"past_due"}`, string(msg.Payload))
	assert.Equal(t, now, msg.CreatedAt)
	assert.False(t, msg.IsPublished())
}

func TestProcessor_ProcessOnce(t *testing.T) {
	repo := &fakeRepository{}
	seed(t, repo, 3)
	publisher := &fakePublisher{}
	metrics := observability.NewInMemoryMetrics()
	processor := outbox.NewProcessor(repo, publisher, outbox.DefaultProcessorConfig(), nil,
		outbox.WithClock(domain.NewFixedClock(now)),
		outbox.WithMetrics(metrics),
	)

	require.NoError(t, processor.ProcessOnce(context.Background()))

	assert.Len(t, publisher.keys, 3)
	assert.Equal(t, []int64{1, 2, 3}, repo.published)
	assert.Equal(t, uint64(3), processor.GetStats().PublishedCount)
	assert.Equal(t, int64(3), metrics.GetCounter(observability.MetricOutboxPublished,
		observability.T("routing_key", "billing.subscription.transitioned")))
}

func TestProcessor_RetriesWithBackoffThenDeadLetters(t *testing.T) {
	repo := &fakeRepository{}
	seed(t, repo, 1)
	publisher := &fakePublisher{err: errors.New("broker down")}
	clock := domain.NewFixedClock(now)
	cfg := outbox.DefaultProcessorConfig()
	cfg.MaxRetries = 2
	processor := outbox.NewProcessor(repo, publisher, cfg, nil, outbox.WithClock(clock))
	ctx := context.Background()

	require.NoError(t, processor.ProcessOnce(ctx))
	require.Equal(t, []int64{1}, repo.failed)
	require.NotNil(t, repo.messages[0].NextRetryAt)
	assert.Equal(t, now.Add(time.Second), *repo.messages[0].NextRetryAt)

	// Not yet due.
	require.NoError(t, processor.ProcessOnce(ctx))
	assert.Empty(t, repo.dead)

	clock.Advance(2 * time.Second)
	require.NoError(t, processor.ProcessOnce(ctx))
	assert.Equal(t, []int64{1}, repo.dead)
	assert.Equal(t, uint64(1), processor.GetStats().DeadCount)
}

func TestProcessor_StartStop(t *testing.T) {
	processor := outbox.NewProcessor(&fakeRepository{}, &fakePublisher{}, outbox.ProcessorConfig{
		PollInterval: 5 * time.Millisecond,
		BatchSize:    10,
	}, nil)

	require.NoError(t, processor.Start(context.Background()))
	require.NoError(t, processor.Start(context.Background()))
	assert.True(t, processor.IsRunning())

	processor.Stop()
	processor.Stop()
	assert.False(t, processor.IsRunning())
}

func TestProcessor_Cleanup(t *testing.T) {
	repo := &fakeRepository{}
	cfg := outbox.DefaultProcessorConfig()
	cfg.Retention = 48 * time.Hour
	processor := outbox.NewProcessor(repo, &fakePublisher{}, cfg, nil, outbox.WithClock(domain.NewFixedClock(now)))

	_, err := processor.Cleanup(context.Background())

	require.NoError(t, err)
	assert.Equal(t, now.Add(-48*time.Hour), repo.deletedBefore)
}
