package subscription

import (
	"errors"
	"fmt"

	"github.com/felixgeelhaar/cadence/adapter/cli"
	"github.com/felixgeelhaar/cadence/internal/billing/application/commands"
	"github.com/felixgeelhaar/cadence/internal/billing/application/queries"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var (
	createAccount   string
	createPlan      string
	createVersion   int
	createCycle     string
	createSkipTrial bool
)

var createCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a subscription",
	Long: `Create a subscription on the newest plan version (or --version).
Plans with a trial start in trial; paid plans without one start incomplete
until the first payment activates them.

Examples:
  cadence subscription create --account 6f1c... --plan pro
  cadence subscription create --account 6f1c... --plan pro --cycle yearly --skip-trial`,
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := cli.RequireApp()
		if err != nil {
			return err
		}
		if createAccount == "" {
			return errors.New("account is required")
		}
		accountID, err := uuid.Parse(createAccount)
		if err != nil {
			return fmt.Errorf("invalid account id: %w", err)
		}
		cycle, err := parseCycle(createCycle)
		if err != nil {
			return err
		}
		actor, err := cli.ActorID()
		if err != nil {
			return err
		}

		sub, err := app.CreateSubscriptionHandler.Handle(cmd.Context(), commands.CreateSubscriptionCommand{
			AccountID:   accountID,
			PlanID:      createPlan,
			PlanVersion: createVersion,
			Cycle:       cycle,
			SkipTrial:   createSkipTrial,
			ActorID:     actor,
		})
		if err != nil {
			return err
		}

		printSubscription(cmd.OutOrStdout(), queries.ToSubscriptionDTO(sub, nil))
		return nil
	},
}

func init() {
	createCmd.Flags().StringVar(&createAccount, "account", "", "account id (uuid)")
	createCmd.Flags().StringVar(&createPlan, "plan", "", "plan id")
	createCmd.Flags().IntVar(&createVersion, "version", 0, "pin a plan version")
	createCmd.Flags().StringVar(&createCycle, "cycle", "", "billing cycle (monthly, yearly, lifetime)")
	createCmd.Flags().BoolVar(&createSkipTrial, "skip-trial", false, "start without the plan's trial")
	_ = createCmd.MarkFlagRequired("plan")
}
