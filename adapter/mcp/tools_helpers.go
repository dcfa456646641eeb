package mcp

import (
	"errors"
	"fmt"
	"time"

	catalog "github.com/felixgeelhaar/cadence/internal/catalog/domain"
	"github.com/google/uuid"
)

func parseUUID(value string) (uuid.UUID, error) {
	if value == "" {
		return uuid.UUID{}, errors.New("id is required")
	}
	id, err := uuid.Parse(value)
	if err != nil {
		return uuid.UUID{}, fmt.Errorf("invalid id: %w", err)
	}
	return id, nil
}

func parseCycle(value string) (catalog.BillingCycle, error) {
	if value == "" {
		return "", nil
	}
	return catalog.ParseBillingCycle(value)
}

func parseOptionalTime(value string) (*time.Time, error) {
	if value == "" {
		return nil, nil
	}
	parsed, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return nil, fmt.Errorf("invalid time format, use RFC3339: %w", err)
	}
	return &parsed, nil
}
