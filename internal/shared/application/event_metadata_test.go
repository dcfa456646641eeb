package application

import (
	"testing"
	"time"

	"github.com/felixgeelhaar/cadence/internal/shared/domain"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testEvent struct {
	domain.BaseEvent
}

func TestNewEventMetadata(t *testing.T) {
	t.Run("keeps the supplied correlation id", func(t *testing.T) {
		correlationID := uuid.New()
		actorID := uuid.New()

		metadata := NewEventMetadata(correlationID, actorID)

		assert.Equal(t, correlationID, metadata.CorrelationID)
		assert.Equal(t, actorID, metadata.ActorID)
		assert.NotEqual(t, uuid.Nil, metadata.CausationID)
	})

	t.Run("generates a correlation id when missing", func(t *testing.T) {
		first := NewEventMetadata(uuid.Nil, uuid.Nil)
		second := NewEventMetadata(uuid.Nil, uuid.Nil)

		assert.NotEqual(t, uuid.Nil, first.CorrelationID)
		assert.NotEqual(t, first.CorrelationID, second.CorrelationID)
	})
}

func TestApplyEventMetadata(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	event1 := &testEvent{BaseEvent: domain.NewBaseEvent(uuid.New(), "test", "test.one", now)}
	event2 := &testEvent{BaseEvent: domain.NewBaseEvent(uuid.New(), "test", "test.two", now)}
	metadata := NewEventMetadata(uuid.New(), uuid.New())

	ApplyEventMetadata([]domain.DomainEvent{event1, event2}, metadata)

	assert.Equal(t, metadata, event1.Metadata())
	assert.Equal(t, metadata, event2.Metadata())

	require.NotPanics(t, func() {
		ApplyEventMetadata(nil, metadata)
	})
}
