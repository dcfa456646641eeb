package domain

import "fmt"

// Status is the lifecycle state of a subscription.
type Status string

const (
	StatusTrial             Status = "trial"
	StatusActive            Status = "active"
	StatusPastDue           Status = "past_due"
	StatusCanceled          Status = "canceled"
	StatusUnpaid            Status = "unpaid"
	StatusIncomplete        Status = "incomplete"
	StatusIncompleteExpired Status = "incomplete_expired"
	StatusPaused            Status = "paused"
	StatusSuspended         Status = "suspended"
)

// AllStatuses lists every status in declaration order.
func AllStatuses() []Status {
	return []Status{
		StatusTrial, StatusActive, StatusPastDue, StatusCanceled, StatusUnpaid,
		StatusIncomplete, StatusIncompleteExpired, StatusPaused, StatusSuspended,
	}
}

// ParseStatus parses a stored status.
func ParseStatus(s string) (Status, error) {
	for _, status := range AllStatuses() {
		if string(status) == s {
			return status, nil
		}
	}
	return "", fmt.Errorf("%w: unknown status %q", ErrInvalidSubscription, s)
}

// IsTerminal reports whether no trigger can leave the status.
func (s Status) IsTerminal() bool {
	return s == StatusCanceled || s == StatusIncompleteExpired
}

// AllowsUsage reports whether metered usage may be recorded.
func (s Status) AllowsUsage() bool {
	return s == StatusTrial || s == StatusActive || s == StatusPastDue
}
