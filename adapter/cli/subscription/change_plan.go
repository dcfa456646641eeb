package subscription

import (
	"errors"
	"fmt"
	"io"

	"github.com/felixgeelhaar/cadence/adapter/cli"
	"github.com/felixgeelhaar/cadence/internal/billing/application/commands"
	"github.com/felixgeelhaar/cadence/internal/billing/application/queries"
	"github.com/felixgeelhaar/cadence/internal/billing/domain"
	"github.com/spf13/cobra"
)

var (
	targetPlan    string
	targetVersion int
	targetCycle   string
	commandID     string
)

var estimateCmd = &cobra.Command{
	Use:   "estimate <subscription-id>",
	Short: "Price a plan change without applying it",
	Long: `Show the prorated credit and immediate charge for moving to another plan.

Examples:
  cadence subscription estimate 2b1e... --plan pro`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := cli.RequireApp()
		if err != nil {
			return err
		}
		q, err := estimateQuery(args[0])
		if err != nil {
			return err
		}

		estimate, err := app.EstimatePlanChangeHandler.Handle(cmd.Context(), q)
		if err != nil {
			return err
		}
		printEstimate(cmd.OutOrStdout(), *estimate)
		return nil
	},
}

var changePlanCmd = &cobra.Command{
	Use:   "change-plan <subscription-id>",
	Short: "Change plan, charging the prorated difference",
	Long: `Move a subscription to another plan. Upgrades charge the prorated
difference first; the change is only applied once the charge succeeds.
Pass --command-id to make retries safe.

Examples:
  cadence subscription change-plan 2b1e... --plan pro --command-id upgrade-42`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := cli.RequireApp()
		if err != nil {
			return err
		}
		q, err := estimateQuery(args[0])
		if err != nil {
			return err
		}
		actor, err := cli.ActorID()
		if err != nil {
			return err
		}

		res, err := app.ChangePlanHandler.Handle(cmd.Context(), commands.ChangePlanCommand{
			SubscriptionID: q.SubscriptionID,
			PlanID:         q.PlanID,
			PlanVersion:    q.PlanVersion,
			Cycle:          q.Cycle,
			CommandID:      commandID,
			ActorID:        actor,
		})
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		printEstimate(out, res.Estimate)
		if res.Charge != nil {
			fmt.Fprintf(out, "Charged %d %s (%s)\n", res.Charge.Amount, res.Charge.Currency, res.Charge.ChargeID)
		}
		fmt.Fprintf(out, "Now on %s v%d\n", res.Subscription.Plan().ID, res.Subscription.Plan().Version)
		return nil
	},
}

func estimateQuery(rawID string) (queries.EstimatePlanChangeQuery, error) {
	id, err := parseID(rawID)
	if err != nil {
		return queries.EstimatePlanChangeQuery{}, err
	}
	if targetPlan == "" {
		return queries.EstimatePlanChangeQuery{}, errors.New("plan is required")
	}
	cycle, err := parseCycle(targetCycle)
	if err != nil {
		return queries.EstimatePlanChangeQuery{}, err
	}
	return queries.EstimatePlanChangeQuery{
		SubscriptionID: id,
		PlanID:         targetPlan,
		PlanVersion:    targetVersion,
		Cycle:          cycle,
	}, nil
}

func printEstimate(w io.Writer, e domain.PlanChangeEstimate) {
	fmt.Fprintf(w, "%s -> %s\n", e.CurrentPlan, e.NewPlan)
	fmt.Fprintf(w, "  remaining:        %d of %d days\n", e.DaysRemaining, e.TotalDays)
	fmt.Fprintf(w, "  credit:           %d %s\n", e.Credit, e.Currency)
	fmt.Fprintf(w, "  immediate charge: %d %s\n", e.ImmediateCharge, e.Currency)
	fmt.Fprintf(w, "  next bill:        %d %s\n", e.NextBillingAmount, e.Currency)
}

func init() {
	for _, c := range []*cobra.Command{estimateCmd, changePlanCmd} {
		c.Flags().StringVar(&targetPlan, "plan", "", "target plan id")
		c.Flags().IntVar(&targetVersion, "version", 0, "pin a target plan version")
		c.Flags().StringVar(&targetCycle, "cycle", "", "target billing cycle")
	}
	changePlanCmd.Flags().StringVar(&commandID, "command-id", "", "idempotency key for the proration charge")
}
