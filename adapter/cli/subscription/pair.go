package subscription

import (
	"fmt"

	"github.com/felixgeelhaar/cadence/adapter/cli"
	"github.com/felixgeelhaar/cadence/internal/billing/application/commands"
	"github.com/spf13/cobra"
)

var (
	pairProvider        string
	pairCustomerRef     string
	pairSubscriptionRef string
)

var pairCmd = &cobra.Command{
	Use:   "pair <subscription-id>",
	Short: "Attach gateway references",
	Long: `Pair a subscription with its customer and subscription at the payment
gateway so webhook events can be matched to it.

Examples:
  cadence subscription pair 2b1e... --provider stripe --customer cus_123 --gateway-subscription sub_456`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := cli.RequireApp()
		if err != nil {
			return err
		}
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		actor, err := cli.ActorID()
		if err != nil {
			return err
		}

		sub, err := app.AttachGatewayHandler.Handle(cmd.Context(), commands.AttachGatewayCommand{
			SubscriptionID:  id,
			Provider:        pairProvider,
			CustomerRef:     pairCustomerRef,
			SubscriptionRef: pairSubscriptionRef,
			ActorID:         actor,
		})
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Paired %s with %s (revision %d)\n", sub.ID(), pairProvider, sub.Revision())
		return nil
	},
}

func init() {
	pairCmd.Flags().StringVar(&pairProvider, "provider", "", "gateway provider name")
	pairCmd.Flags().StringVar(&pairCustomerRef, "customer", "", "gateway customer reference")
	pairCmd.Flags().StringVar(&pairSubscriptionRef, "gateway-subscription", "", "gateway subscription reference")
	_ = pairCmd.MarkFlagRequired("provider")
}
