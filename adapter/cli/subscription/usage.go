package subscription

import (
	"errors"
	"fmt"

	"github.com/felixgeelhaar/cadence/adapter/cli"
	"github.com/felixgeelhaar/cadence/internal/billing/application/commands"
	"github.com/felixgeelhaar/cadence/internal/billing/application/queries"
	"github.com/felixgeelhaar/cadence/internal/billing/domain"
	"github.com/spf13/cobra"
)

var (
	usageMetric  string
	recordMetric string
	recordAmount int64
)

var usageCmd = &cobra.Command{
	Use:   "usage <subscription-id>",
	Short: "Show usage against plan limits",
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

		dto, err := app.GetUsageHandler.Handle(cmd.Context(), queries.GetUsageQuery{
			SubscriptionID: id,
			Metric:         usageMetric,
		})
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Usage for %s (%s)\n", dto.SubscriptionID, dto.Status)
		if len(dto.Lines) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "  no metered usage")
			return nil
		}
		printUsage(cmd.OutOrStdout(), dto.Lines)
		return nil
	},
}

var recordCmd = &cobra.Command{
	Use:   "record <subscription-id>",
	Short: "Record metered usage",
	Long: `Record usage against the subscription's quota. Increments that would
exceed the plan limit are rejected whole.

Examples:
  cadence subscription record 2b1e... --metric api_calls --amount 25`,
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
		if recordMetric == "" {
			return errors.New("metric is required")
		}
		actor, err := cli.ActorID()
		if err != nil {
			return err
		}

		res, err := app.RecordUsageHandler.Handle(cmd.Context(), commands.RecordUsageCommand{
			SubscriptionID: id,
			Metric:         recordMetric,
			Amount:         recordAmount,
			ActorID:        actor,
		})
		if err != nil {
			return err
		}
		printUsage(cmd.OutOrStdout(), []domain.UsageLine{res.Line})
		return nil
	},
}

func init() {
	usageCmd.Flags().StringVar(&usageMetric, "metric", "", "only this metric")
	recordCmd.Flags().StringVar(&recordMetric, "metric", "", "metric name")
	recordCmd.Flags().Int64Var(&recordAmount, "amount", 1, "amount to add")
}
