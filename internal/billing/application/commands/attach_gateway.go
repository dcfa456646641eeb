package commands

import (
	"context"
	"errors"
	"time"

	"github.com/felixgeelhaar/cadence/internal/billing/domain"
	"github.com/google/uuid"
)

// AttachGatewayCommand pairs a subscription with its provider record.
type AttachGatewayCommand struct {
	SubscriptionID  uuid.UUID
	Provider        string
	CustomerRef     string
	SubscriptionRef string
	ActorID         uuid.UUID
}

// AttachGatewayHandler handles AttachGatewayCommand.
type AttachGatewayHandler struct {
	mutator *Mutator
}

// NewAttachGatewayHandler creates the handler.
func NewAttachGatewayHandler(mutator *Mutator) *AttachGatewayHandler {
	return &AttachGatewayHandler{mutator: mutator}
}

// Handle attaches the pairing. A provider reference already paired with a
// different subscription returns ErrPairingConflict.
func (h *AttachGatewayHandler) Handle(ctx context.Context, cmd AttachGatewayCommand) (*domain.Subscription, error) {
	if cmd.SubscriptionRef != "" {
		other, err := h.mutator.subs.FindByExternalID(ctx, cmd.Provider, cmd.SubscriptionRef)
		switch {
		case err == nil && other.ID() != cmd.SubscriptionID:
			return nil, domain.ErrPairingConflict
		case err != nil && !errors.Is(err, domain.ErrSubscriptionNotFound):
			return nil, err
		}
	}

	sub, err := h.mutator.Mutate(ctx, cmd.SubscriptionID, cmd.ActorID, func(ctx context.Context, s *domain.Subscription, now time.Time) error {
		return s.AttachGateway(domain.Pairing{
			Provider:        cmd.Provider,
			CustomerRef:     cmd.CustomerRef,
			SubscriptionRef: cmd.SubscriptionRef,
		}, now)
	})
	if err != nil {
		return nil, err
	}

	h.mutator.logger.InfoContext(ctx, "gateway paired",
		"subscription_id", sub.ID(),
		"provider", cmd.Provider,
		"subscription_ref", cmd.SubscriptionRef,
	)
	return sub, nil
}
