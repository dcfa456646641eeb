package plan

import (
	"fmt"

	"github.com/felixgeelhaar/cadence/adapter/cli"
	catalog "github.com/felixgeelhaar/cadence/internal/catalog/domain"
	"github.com/spf13/cobra"
)

var (
	showVersion int
	showCycle   string
)

var showCmd = &cobra.Command{
	Use:   "show <plan-id>",
	Short: "Show a plan version",
	Long: `Show the newest version of a plan, or a pinned one with --version.

Examples:
  cadence plan show pro
  cadence plan show pro --version 2`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := cli.RequireApp()
		if err != nil {
			return err
		}

		var plan *catalog.Plan
		if showVersion > 0 {
			plan, err = app.Catalog.GetPlan(cmd.Context(), catalog.PlanRef{ID: args[0], Version: showVersion})
		} else {
			var cycle catalog.BillingCycle
			if showCycle != "" {
				if cycle, err = catalog.ParseBillingCycle(showCycle); err != nil {
					return err
				}
			}
			plan, err = app.Catalog.Resolve(cmd.Context(), args[0], cycle)
		}
		if err != nil {
			return err
		}
		printPlan(cmd.OutOrStdout(), plan)
		return nil
	},
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List the newest version of every plan",
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := cli.RequireApp()
		if err != nil {
			return err
		}
		plans, err := app.Catalog.ListPlans(cmd.Context())
		if err != nil {
			return err
		}
		if len(plans) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No plans published.")
			return nil
		}
		for _, p := range plans {
			fmt.Fprintln(cmd.OutOrStdout(), planLine(p))
		}
		return nil
	},
}

func init() {
	showCmd.Flags().IntVar(&showVersion, "version", 0, "pin a plan version")
	showCmd.Flags().StringVar(&showCycle, "cycle", "", "newest version with this billing cycle")
}
