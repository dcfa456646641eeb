// Package plan implements the plan catalog commands.
package plan

import (
	"fmt"
	"io"
	"sort"
	"strings"

	catalog "github.com/felixgeelhaar/cadence/internal/catalog/domain"
	"github.com/spf13/cobra"
)

// Cmd is the plan command group.
var Cmd = &cobra.Command{
	Use:   "plan",
	Short: "Manage the plan catalog",
	Long:  `Publish immutable plan versions and inspect the catalog.`,
}

func init() {
	Cmd.AddCommand(publishCmd)
	Cmd.AddCommand(showCmd)
	Cmd.AddCommand(listCmd)
}

func printPlan(w io.Writer, p *catalog.Plan) {
	fmt.Fprintf(w, "%s v%d", p.ID(), p.Version())
	if p.Name() != "" {
		fmt.Fprintf(w, " (%s)", p.Name())
	}
	fmt.Fprintln(w)
	fmt.Fprintf(w, "  cycle:  %s\n", p.Cycle())
	fmt.Fprintf(w, "  price:  %d %s\n", p.Price().Amount, p.Price().Currency)
	if p.TrialDays() > 0 {
		fmt.Fprintf(w, "  trial:  %d days\n", p.TrialDays())
	}

	limits := p.Limits()
	metrics := make([]string, 0, len(limits))
	for m := range limits {
		metrics = append(metrics, m)
	}
	sort.Strings(metrics)
	for _, m := range metrics {
		limit := fmt.Sprintf("%d", limits[m])
		if limits[m] == catalog.Unlimited {
			limit = "unlimited"
		}
		fmt.Fprintf(w, "  %-7s %s\n", m+":", limit)
	}
}

func planLine(p *catalog.Plan) string {
	return strings.Join([]string{
		fmt.Sprintf("%-16s", p.ID()),
		fmt.Sprintf("v%-3d", p.Version()),
		fmt.Sprintf("%-9s", p.Cycle()),
		fmt.Sprintf("%d %s", p.Price().Amount, p.Price().Currency),
	}, " ")
}
