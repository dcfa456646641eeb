// Package subscription implements the subscription lifecycle commands.
package subscription

import (
	"fmt"
	"io"
	"time"

	"github.com/felixgeelhaar/cadence/internal/billing/application/queries"
	"github.com/felixgeelhaar/cadence/internal/billing/domain"
	catalog "github.com/felixgeelhaar/cadence/internal/catalog/domain"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

// Cmd is the subscription command group.
var Cmd = &cobra.Command{
	Use:     "subscription",
	Aliases: []string{"sub"},
	Short:   "Manage subscriptions",
	Long: `Create subscriptions, drive lifecycle transitions, meter usage and
change plans with proration.`,
}

func init() {
	Cmd.AddCommand(createCmd)
	Cmd.AddCommand(showCmd)
	Cmd.AddCommand(listCmd)
	Cmd.AddCommand(applyCmd)
	Cmd.AddCommand(usageCmd)
	Cmd.AddCommand(recordCmd)
	Cmd.AddCommand(estimateCmd)
	Cmd.AddCommand(changePlanCmd)
	Cmd.AddCommand(pairCmd)
}

func parseID(s string) (uuid.UUID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid subscription id: %w", err)
	}
	return id, nil
}

func parseCycle(s string) (catalog.BillingCycle, error) {
	if s == "" {
		return "", nil
	}
	return catalog.ParseBillingCycle(s)
}

func parseOptionalTime(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return nil, fmt.Errorf("invalid time, use RFC3339: %w", err)
	}
	return &t, nil
}

const dateFormat = "2006-01-02 15:04 MST"

func printSubscription(w io.Writer, s queries.SubscriptionDTO) {
	fmt.Fprintf(w, "Subscription %s\n", s.ID)
	fmt.Fprintf(w, "  account:   %s\n", s.AccountID)
	fmt.Fprintf(w, "  plan:      %s v%d (%s)\n", s.PlanID, s.PlanVersion, s.Cycle)
	status := s.Status
	if s.PreviousStatus != "" {
		status = fmt.Sprintf("%s (was %s)", s.Status, s.PreviousStatus)
	}
	fmt.Fprintf(w, "  status:    %s\n", status)
	fmt.Fprintf(w, "  period:    %s - %s\n", s.PeriodStart.Format(dateFormat), s.PeriodEnd.Format(dateFormat))
	if s.TrialEnd != nil {
		fmt.Fprintf(w, "  trial end: %s\n", s.TrialEnd.Format(dateFormat))
	}
	if s.NextBillingDate != nil {
		fmt.Fprintf(w, "  renews:    %s\n", s.NextBillingDate.Format(dateFormat))
	}
	if s.CancelAt != nil {
		fmt.Fprintf(w, "  cancels:   %s\n", s.CancelAt.Format(dateFormat))
	}
	if s.EndedAt != nil {
		fmt.Fprintf(w, "  ended:     %s\n", s.EndedAt.Format(dateFormat))
	}
	if s.ConsecutiveFailures > 0 {
		fmt.Fprintf(w, "  failures:  %d consecutive\n", s.ConsecutiveFailures)
	}
	if g := s.Gateway; g != nil {
		fmt.Fprintf(w, "  gateway:   %s customer=%s subscription=%s\n", g.Provider, g.CustomerRef, g.SubscriptionRef)
	}
	fmt.Fprintf(w, "  revision:  %d\n", s.Revision)
	if len(s.Usage) > 0 {
		fmt.Fprintln(w, "  usage:")
		printUsage(w, s.Usage)
	}
}

func printUsage(w io.Writer, lines []domain.UsageLine) {
	for _, l := range lines {
		if l.Limit == catalog.Unlimited {
			fmt.Fprintf(w, "    %-14s %d used (unlimited)\n", l.Metric, l.Used)
			continue
		}
		fmt.Fprintf(w, "    %-14s %d/%d used, %d remaining\n", l.Metric, l.Used, l.Limit, l.Remaining)
	}
}
