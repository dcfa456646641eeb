// Package sweep runs the lifecycle sweeper from the command line.
package sweep

import (
	"context"
	"errors"
	"fmt"

	"github.com/felixgeelhaar/cadence/adapter/cli"
	"github.com/spf13/cobra"
)

var sweepWatch bool

// Cmd is the sweep command group.
var Cmd = &cobra.Command{
	Use:   "sweep",
	Short: "Fire time-driven lifecycle transitions",
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the lifecycle sweep",
	Long: `Cancel subscriptions whose scheduled cancellation has passed, expire
trials and renew unpaired subscriptions whose period has ended.

Without --watch a single pass runs and its report is printed. With --watch
the sweep runs on SWEEP_SCHEDULE until interrupted.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := cli.RequireApp()
		if err != nil {
			return err
		}
		if app.Sweeper == nil {
			return errors.New("lifecycle sweeper is not configured")
		}

		if sweepWatch {
			err := app.Sweeper.Run(cmd.Context())
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}

		report, err := app.Sweeper.RunOnce(cmd.Context())
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "canceled:       %d\n", report.Canceled)
		fmt.Fprintf(out, "trials expired: %d\n", report.TrialsExpired)
		fmt.Fprintf(out, "renewed:        %d\n", report.Renewed)
		fmt.Fprintf(out, "renewal failed: %d\n", report.RenewalFailed)
		fmt.Fprintf(out, "recovered:      %d\n", report.Recovered)
		fmt.Fprintf(out, "retry failed:   %d\n", report.RetryFailed)
		fmt.Fprintf(out, "skipped:        %d\n", report.Skipped)
		if report.Errors > 0 {
			return fmt.Errorf("sweep finished with %d errors", report.Errors)
		}
		return nil
	},
}

func init() {
	runCmd.Flags().BoolVar(&sweepWatch, "watch", false, "keep sweeping on the configured schedule")
	Cmd.AddCommand(runCmd)
}
