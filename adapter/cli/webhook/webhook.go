// Package webhook replays gateway webhook payloads through the reconciler.
package webhook

import (
	"errors"
	"fmt"

	"github.com/felixgeelhaar/cadence/adapter/cli"
	"github.com/felixgeelhaar/cadence/internal/payments/infrastructure/generic"
	"github.com/felixgeelhaar/cadence/internal/shared/infrastructure/security"
	"github.com/spf13/cobra"
)

const maxEventFileBytes = 1 << 20

var (
	replayProvider  string
	replayFile      string
	replaySignature string
	replaySign      bool
)

// Cmd is the webhook command group.
var Cmd = &cobra.Command{
	Use:   "webhook",
	Short: "Work with gateway webhook payloads",
}

var replayCmd = &cobra.Command{
	Use:   "replay",
	Short: "Feed a saved webhook payload through the reconciler",
	Long: `Replay a webhook payload exactly as if the gateway had delivered it.
The signature is verified, so pass the original --signature header value,
or --sign to sign a generic-provider payload with GENERIC_WEBHOOK_SECRET.
Events already processed inside the dedup window report "duplicate".

Examples:
  cadence webhook replay --provider stripe --file ./evt.json --signature "t=...,v1=..."
  cadence webhook replay --provider generic --file ./evt.json --sign`,
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := cli.RequireApp()
		if err != nil {
			return err
		}
		if replayFile == "" {
			return errors.New("event file is required")
		}

		payload, err := security.ReadLimitedFile(replayFile, maxEventFileBytes)
		if err != nil {
			return err
		}

		signature := replaySignature
		if replaySign {
			if replayProvider != generic.ProviderName {
				return fmt.Errorf("--sign only supports the %s provider", generic.ProviderName)
			}
			if app.Config == nil || app.Config.GenericWebhookSecret == "" {
				return errors.New("GENERIC_WEBHOOK_SECRET is not set")
			}
			signature = generic.Sign(payload, app.Config.GenericWebhookSecret)
		}

		res := app.Reconciler.HandleGatewayEvent(cmd.Context(), replayProvider, payload, signature)
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Outcome: %s\n", res.Outcome)
		if res.EventID != "" {
			fmt.Fprintf(out, "Event: %s\n", res.EventID)
		}
		if res.Trigger != "" {
			fmt.Fprintf(out, "Trigger: %s\n", res.Trigger)
		}
		if res.Err != nil {
			fmt.Fprintf(out, "Reason: %v\n", res.Err)
		}
		if res.Retryable {
			return fmt.Errorf("event %s failed and may be retried", res.EventID)
		}
		return nil
	},
}

func init() {
	replayCmd.Flags().StringVar(&replayProvider, "provider", generic.ProviderName, "gateway provider")
	replayCmd.Flags().StringVarP(&replayFile, "file", "f", "", "path to the raw payload")
	replayCmd.Flags().StringVar(&replaySignature, "signature", "", "signature header value")
	replayCmd.Flags().BoolVar(&replaySign, "sign", false, "sign with the generic webhook secret")
	Cmd.AddCommand(replayCmd)
}
