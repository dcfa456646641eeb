// Package failures lets operators review reconciliation failures.
package failures

import (
	"errors"
	"fmt"
	"time"

	"github.com/felixgeelhaar/cadence/adapter/cli"
	"github.com/felixgeelhaar/cadence/internal/reconciliation/domain"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var (
	listAll      bool
	listProvider string
	listLimit    int
	resolveNote  string
)

// Cmd is the failures command group.
var Cmd = &cobra.Command{
	Use:   "failures",
	Short: "Review gateway events that could not be reconciled",
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List open reconciliation failures",
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := cli.RequireApp()
		if err != nil {
			return err
		}

		failures, err := app.Reconciler.ListFailures(cmd.Context(), domain.FailureFilter{
			IncludeResolved: listAll,
			Provider:        listProvider,
			Limit:           listLimit,
		})
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if len(failures) == 0 {
			fmt.Fprintln(out, "No reconciliation failures.")
			return nil
		}
		for _, f := range failures {
			state := "open"
			if f.ResolvedAt != nil {
				state = "resolved"
			}
			fmt.Fprintf(out, "%s  %-8s %-8s %s %s (x%d)\n", f.ID, state, f.Provider, f.EventID, f.EventType, f.Attempts)
			fmt.Fprintf(out, "    %s  %s\n", f.RecordedAt.Format(time.RFC3339), f.Reason)
		}
		return nil
	},
}

var resolveCmd = &cobra.Command{
	Use:   "resolve <failure-id>",
	Short: "Mark a failure as handled",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := cli.RequireApp()
		if err != nil {
			return err
		}
		id, err := uuid.Parse(args[0])
		if err != nil {
			return fmt.Errorf("invalid failure id: %w", err)
		}
		if resolveNote == "" {
			return errors.New("note is required")
		}

		f, err := app.Reconciler.ResolveFailure(cmd.Context(), id, resolveNote)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Resolved %s (%s %s)\n", f.ID, f.Provider, f.EventID)
		return nil
	},
}

var reprocessCmd = &cobra.Command{
	Use:   "reprocess <failure-id>",
	Short: "Run a failed event through the reconciler again",
	Long: `Replay the stored payload of a failure. The failure is resolved when the
event is now acknowledged; otherwise its attempt count goes up.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := cli.RequireApp()
		if err != nil {
			return err
		}
		id, err := uuid.Parse(args[0])
		if err != nil {
			return fmt.Errorf("invalid failure id: %w", err)
		}

		res, err := app.Reconciler.Reprocess(cmd.Context(), id)
		if res.Outcome != "" {
			fmt.Fprintf(cmd.OutOrStdout(), "Outcome: %s\n", res.Outcome)
		}
		return err
	},
}

func init() {
	listCmd.Flags().BoolVar(&listAll, "all", false, "include resolved failures")
	listCmd.Flags().StringVar(&listProvider, "provider", "", "only this provider")
	listCmd.Flags().IntVar(&listLimit, "limit", 50, "maximum failures to show")
	resolveCmd.Flags().StringVar(&resolveNote, "note", "", "what was done about it")

	Cmd.AddCommand(listCmd)
	Cmd.AddCommand(resolveCmd)
	Cmd.AddCommand(reprocessCmd)
}
