package domain_test

import (
	"testing"
	"time"

	"github.com/felixgeelhaar/cadence/internal/shared/domain"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

var epoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type testAggregate struct {
	domain.BaseAggregateRoot
}

type testAggregateEvent struct {
	domain.BaseEvent
}

func TestNewBaseAggregateRoot(t *testing.T) {
	agg := domain.NewBaseAggregateRoot(uuid.Nil, epoch)

	assert.NotEqual(t, uuid.Nil, agg.ID())
	assert.Equal(t, int64(0), agg.Revision())
	assert.Empty(t, agg.DomainEvents())
	assert.Equal(t, epoch, agg.CreatedAt())
}

func TestBaseAggregateRoot_Events(t *testing.T) {
	agg := &testAggregate{BaseAggregateRoot: domain.NewBaseAggregateRoot(uuid.New(), epoch)}

	for i := 0; i < 3; i++ {
		agg.AddDomainEvent(testAggregateEvent{
			BaseEvent: domain.NewBaseEvent(agg.ID(), "Test", "test.happened", epoch),
		})
	}
	assert.Len(t, agg.DomainEvents(), 3)
	for _, event := range agg.DomainEvents() {
		assert.Equal(t, agg.ID(), event.AggregateID())
	}

	agg.ClearDomainEvents()
	assert.Empty(t, agg.DomainEvents())
}

func TestBaseAggregateRoot_Revision(t *testing.T) {
	agg := domain.RehydrateBaseAggregateRoot(domain.RehydrateBaseEntity(uuid.New(), epoch, epoch), 7)

	agg.IncrementRevision()

	assert.Equal(t, int64(8), agg.Revision())
}
