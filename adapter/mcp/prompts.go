package mcp

import (
	"context"
	"fmt"

	"github.com/felixgeelhaar/mcp-go"
)

// RegisterPrompts registers MCP prompts for billing operations.
func RegisterPrompts(srv *mcp.Server, deps ToolDependencies) error {
	if srv == nil {
		return fmt.Errorf("server is required")
	}

	srv.Prompt("failure_triage").
		Description("Work through the open reconciliation failures and decide what to do with each.").
		Handler(func(ctx context.Context, args map[string]string) (*mcp.PromptResult, error) {
			return &mcp.PromptResult{
				Description: "Reconciliation Failure Triage",
				Messages: []mcp.PromptMessage{
					{
						Role: string(mcp.RoleUser),
						Content: mcp.TextContent{
							Type: "text",
							Text: `Help me triage the gateway events that could not be reconciled.

1. Read the backlog with the cadence://failures/open resource (or billing.failures).
2. Group the failures by reason.
3. For failures naming a subscription, fetch it with billing.subscription and
   compare its status to what the event implies.

For each failure recommend one of:
- resolve it with a note (billing.resolve_failure) when the subscription is already correct
- apply the missing transition (billing.apply) and then resolve it
- leave it open when a human needs to check the gateway dashboard

Do not apply any transition before I confirm it.`,
						},
					},
				},
			}, nil
		})

	srv.Prompt("plan_change_review").
		Description("Explain what a customer will pay when moving to another plan.").
		Argument("subscription_id", "Subscription to change", true).
		Argument("plan_id", "Target plan", true).
		Handler(func(ctx context.Context, args map[string]string) (*mcp.PromptResult, error) {
			return &mcp.PromptResult{
				Description: "Plan Change Review",
				Messages: []mcp.PromptMessage{
					{
						Role: string(mcp.RoleUser),
						Content: mcp.TextContent{
							Type: "text",
							Text: fmt.Sprintf(`Subscription %s wants to move to plan %q.

1. Fetch the subscription with billing.subscription and note its current plan, period and usage.
2. Price the change with billing.estimate.
3. Check the target plan's limits in cadence://plans against current usage.

Summarise the credit for unused time, the immediate charge, the next bill and any
metric where current usage would already exceed the new limits.`, args["subscription_id"], args["plan_id"]),
						},
					},
				},
			}, nil
		})

	return nil
}
