package subscription

import (
	"errors"
	"fmt"

	"github.com/felixgeelhaar/cadence/adapter/cli"
	"github.com/felixgeelhaar/cadence/internal/billing/application/queries"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var (
	showJSON    bool
	listAccount string
)

var showCmd = &cobra.Command{
	Use:   "show <subscription-id>",
	Short: "Show a subscription with its usage",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := cli.RequireApp()
		if err != nil {
			return err
		}
		id, err := parseID(args[0])
		if err != nil {
			return err
		}

		dto, err := app.GetSubscriptionHandler.Handle(cmd.Context(), queries.GetSubscriptionQuery{SubscriptionID: id})
		if err != nil {
			return err
		}
		if showJSON {
			return cli.PrintJSON(cmd.OutOrStdout(), dto)
		}
		printSubscription(cmd.OutOrStdout(), *dto)
		return nil
	},
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List an account's subscriptions",
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := cli.RequireApp()
		if err != nil {
			return err
		}
		if listAccount == "" {
			return errors.New("account is required")
		}
		accountID, err := uuid.Parse(listAccount)
		if err != nil {
			return fmt.Errorf("invalid account id: %w", err)
		}

		subs, err := app.ListSubscriptionsHandler.Handle(cmd.Context(), queries.ListSubscriptionsQuery{AccountID: accountID})
		if err != nil {
			return err
		}
		if len(subs) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No subscriptions found.")
			return nil
		}
		for _, s := range subs {
			fmt.Fprintf(cmd.OutOrStdout(), "%s  %-18s %s v%d\n", s.ID, s.Status, s.PlanID, s.PlanVersion)
		}
		return nil
	},
}

func init() {
	showCmd.Flags().BoolVar(&showJSON, "json", false, "print as JSON")
	listCmd.Flags().StringVar(&listAccount, "account", "", "account id (uuid)")
}
