package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/felixgeelhaar/cadence/adapter/cli"
	reconciliation "github.com/felixgeelhaar/cadence/internal/reconciliation/domain"
	"github.com/felixgeelhaar/mcp-go"
)

// planSummary is the resource view of a plan version.
type planSummary struct {
	ID        string           `json:"id"`
	Version   int              `json:"version"`
	Name      string           `json:"name,omitempty"`
	Cycle     string           `json:"cycle"`
	Amount    int64            `json:"amount"`
	Currency  string           `json:"currency"`
	Limits    map[string]int64 `json:"limits,omitempty"`
	TrialDays int              `json:"trial_days,omitempty"`
}

// RegisterResources registers MCP resources that expose the catalog and
// the reconciliation backlog.
func RegisterResources(srv *mcp.Server, deps ToolDependencies) error {
	if srv == nil {
		return fmt.Errorf("server is required")
	}
	app := deps.App

	srv.Resource("cadence://plans").
		Name("Plans").
		Description("Newest version of every published plan").
		MimeType("application/json").
		Handler(func(ctx context.Context, uri string, params map[string]string) (*mcp.ResourceContent, error) {
			plans, err := planSummaries(ctx, app)
			if err != nil {
				return nil, err
			}
			return jsonResource(uri, plans)
		})

	srv.Resource("cadence://failures/open").
		Name("Open Reconciliation Failures").
		Description("Gateway events waiting for operator review").
		MimeType("application/json").
		Handler(func(ctx context.Context, uri string, params map[string]string) (*mcp.ResourceContent, error) {
			if app == nil || app.Reconciler == nil {
				return nil, cli.ErrNotInitialized
			}
			failures, err := app.Reconciler.ListFailures(ctx, reconciliation.FailureFilter{Limit: 100})
			if err != nil {
				return nil, err
			}
			return jsonResource(uri, failures)
		})

	return nil
}

func planSummaries(ctx context.Context, app *cli.App) ([]planSummary, error) {
	if app == nil || app.Catalog == nil {
		return nil, cli.ErrNotInitialized
	}
	plans, err := app.Catalog.ListPlans(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]planSummary, 0, len(plans))
	for _, p := range plans {
		out = append(out, planSummary{
			ID:        p.ID(),
			Version:   p.Version(),
			Name:      p.Name(),
			Cycle:     string(p.Cycle()),
			Amount:    p.Price().Amount,
			Currency:  p.Price().Currency,
			Limits:    p.Limits(),
			TrialDays: p.TrialDays(),
		})
	}
	return out, nil
}

func jsonResource(uri string, v any) (*mcp.ResourceContent, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, err
	}
	return &mcp.ResourceContent{
		URI:      uri,
		MimeType: "application/json",
		Text:     string(data),
	}, nil
}
