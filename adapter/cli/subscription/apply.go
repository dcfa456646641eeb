package subscription

import (
	"errors"
	"fmt"
	"strings"

	"github.com/felixgeelhaar/cadence/adapter/cli"
	"github.com/felixgeelhaar/cadence/internal/billing/application/commands"
	"github.com/felixgeelhaar/cadence/internal/billing/domain"
	"github.com/spf13/cobra"
)

var (
	applyTrigger     string
	applyReason      string
	applyPeriodStart string
	applyPeriodEnd   string
)

var applyCmd = &cobra.Command{
	Use:   "apply <subscription-id>",
	Short: "Apply a lifecycle trigger",
	Long: `Apply a lifecycle trigger to a subscription. Triggers that are not
allowed from the current status are rejected and nothing changes.

Triggers: ` + triggerList() + `

Examples:
  cadence subscription apply 2b1e... --trigger activate
  cadence subscription apply 2b1e... --trigger pause --reason "customer request"
  cadence subscription apply 2b1e... --trigger activate --period-start 2026-04-01T00:00:00Z`,
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
		if applyTrigger == "" {
			return errors.New("trigger is required")
		}
		trigger, err := domain.ParseTrigger(applyTrigger)
		if err != nil {
			return err
		}
		if trigger == domain.TriggerChangePlan {
			return errors.New("use 'subscription change-plan' to change plans")
		}
		start, err := parseOptionalTime(applyPeriodStart)
		if err != nil {
			return err
		}
		end, err := parseOptionalTime(applyPeriodEnd)
		if err != nil {
			return err
		}
		actor, err := cli.ActorID()
		if err != nil {
			return err
		}

		res, err := app.ApplyCommandHandler.Handle(cmd.Context(), commands.ApplyCommand{
			SubscriptionID: id,
			Trigger:        trigger,
			Params: domain.TriggerParams{
				PeriodStart: start,
				PeriodEnd:   end,
				Reason:      applyReason,
			},
			ActorID: actor,
		})
		if err != nil {
			return err
		}

		fmt.Fprintf(cmd.OutOrStdout(), "%s: %s -> %s (revision %d)\n", res.Trigger, res.From, res.To, res.Revision)
		return nil
	},
}

func triggerList() string {
	names := make([]string, 0, len(domain.AllTriggers()))
	for _, t := range domain.AllTriggers() {
		names = append(names, string(t))
	}
	return strings.Join(names, ", ")
}

func init() {
	applyCmd.Flags().StringVarP(&applyTrigger, "trigger", "t", "", "trigger to apply")
	applyCmd.Flags().StringVar(&applyReason, "reason", "", "reason recorded on the transition")
	applyCmd.Flags().StringVar(&applyPeriodStart, "period-start", "", "period start for activate (RFC3339)")
	applyCmd.Flags().StringVar(&applyPeriodEnd, "period-end", "", "period end for activate (RFC3339)")
}
