package plan

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/felixgeelhaar/cadence/adapter/cli"
	catalog "github.com/felixgeelhaar/cadence/internal/catalog/domain"
	"github.com/felixgeelhaar/cadence/internal/shared/infrastructure/security"
	"github.com/spf13/cobra"
)

const maxPlanFileBytes = 64 << 10

var publishFile string

// planFile is the on-disk description of a plan version.
type planFile struct {
	ID        string           `json:"id"`
	Name      string           `json:"name"`
	Cycle     string           `json:"cycle"`
	Price     catalog.Money    `json:"price"`
	Limits    map[string]int64 `json:"limits"`
	TrialDays int              `json:"trial_days"`
}

func (f planFile) spec() (catalog.PlanSpec, error) {
	cycle, err := catalog.ParseBillingCycle(f.Cycle)
	if err != nil {
		return catalog.PlanSpec{}, err
	}
	return catalog.PlanSpec{
		ID:        f.ID,
		Name:      f.Name,
		Cycle:     cycle,
		Price:     f.Price,
		Limits:    f.Limits,
		TrialDays: f.TrialDays,
	}, nil
}

var publishCmd = &cobra.Command{
	Use:   "publish",
	Short: "Publish a new plan version from a JSON file",
	Long: `Publish a plan version. Existing versions are never modified;
subscriptions keep the version they were created on.

Example file:
  {"id": "pro", "cycle": "monthly", "price": {"amount": 2000, "currency": "USD"},
   "limits": {"api_calls": 10000, "seats": -1}, "trial_days": 14}

Examples:
  cadence plan publish --file ./plans/pro.json`,
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := cli.RequireApp()
		if err != nil {
			return err
		}
		if publishFile == "" {
			return errors.New("file is required")
		}

		data, err := security.ReadLimitedFile(publishFile, maxPlanFileBytes)
		if err != nil {
			return err
		}

		var file planFile
		if err := json.Unmarshal(data, &file); err != nil {
			return fmt.Errorf("invalid plan file: %w", err)
		}
		spec, err := file.spec()
		if err != nil {
			return err
		}

		plan, err := app.Catalog.PublishPlan(cmd.Context(), spec)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Published %s\n", plan.Ref())
		return nil
	},
}

func init() {
	publishCmd.Flags().StringVarP(&publishFile, "file", "f", "", "path to plan JSON")
}
