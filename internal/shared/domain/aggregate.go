package domain

import (
	"time"

	"github.com/google/uuid"
)

// AggregateRoot is a domain entity that is the root of an aggregate.
type AggregateRoot interface {
	Entity
	DomainEvents() []DomainEvent
	ClearDomainEvents()
	AddDomainEvent(event DomainEvent)
	Revision() int64
}

// BaseAggregateRoot provides common aggregate functionality.
//
// The revision is the optimistic concurrency token: storage only accepts a
// write whose expected revision matches the stored one.
type BaseAggregateRoot struct {
	BaseEntity
	domainEvents []DomainEvent
	revision     int64
}

// NewBaseAggregateRoot creates a new aggregate root stamped with the given time.
func NewBaseAggregateRoot(id uuid.UUID, now time.Time) BaseAggregateRoot {
	return BaseAggregateRoot{
		BaseEntity:   NewBaseEntity(id, now),
		domainEvents: make([]DomainEvent, 0),
	}
}

// DomainEvents returns all uncommitted domain events.
func (a *BaseAggregateRoot) DomainEvents() []DomainEvent {
	return a.domainEvents
}

// ClearDomainEvents removes all uncommitted domain events.
func (a *BaseAggregateRoot) ClearDomainEvents() {
	a.domainEvents = make([]DomainEvent, 0)
}

// AddDomainEvent adds a domain event to the aggregate.
func (a *BaseAggregateRoot) AddDomainEvent(event DomainEvent) {
	a.domainEvents = append(a.domainEvents, event)
}

// Revision returns the aggregate revision.
func (a *BaseAggregateRoot) Revision() int64 {
	return a.revision
}

// IncrementRevision bumps the revision by exactly one.
func (a *BaseAggregateRoot) IncrementRevision() {
	a.revision++
}

// RehydrateBaseAggregateRoot recreates an aggregate from persisted state.
func RehydrateBaseAggregateRoot(entity BaseEntity, revision int64) BaseAggregateRoot {
	return BaseAggregateRoot{
		BaseEntity:   entity,
		domainEvents: make([]DomainEvent, 0),
		revision:     revision,
	}
}
