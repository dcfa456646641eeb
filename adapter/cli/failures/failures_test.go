package failures

import (
	"context"
	"strings"
	"testing"

	"github.com/felixgeelhaar/cadence/adapter/cli"
	"github.com/felixgeelhaar/cadence/internal/app"
	"github.com/felixgeelhaar/cadence/internal/payments/infrastructure/generic"
	"github.com/felixgeelhaar/cadence/internal/reconciliation/domain"
	"github.com/felixgeelhaar/cadence/pkg/config"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupApp(t *testing.T) *cli.App {
	t.Helper()
	listAll, listProvider, listLimit, resolveNote = false, "", 50, ""
	c, err := app.NewContainer(context.Background(), &config.Config{AppEnv: "test", GenericWebhookSecret: "whsec_test"}, nil,
		app.WithRepositories(app.MemoryRepositories()),
	)
	require.NoError(t, err)
	a := cli.NewApp(c)
	cli.SetApp(a)
	t.Cleanup(func() {
		cli.SetApp(nil)
		c.Close()
	})
	return a
}

func run(t *testing.T, cmd *cobra.Command, args ...string) (string, error) {
	t.Helper()
	var output strings.Builder
	cmd.SetContext(context.Background())
	cmd.SetOut(&output)
	err := cmd.RunE(cmd, args)
	return output.String(), err
}

func TestListAndResolve(t *testing.T) {
	a := setupApp(t)

	out, err := run(t, listCmd)
	require.NoError(t, err)
	assert.Contains(t, out, "No reconciliation failures.")

	payload := []byte(`not json`)
	a.Reconciler.HandleGatewayEvent(context.Background(), generic.ProviderName, payload, generic.Sign(payload, "whsec_test"))

	out, err = run(t, listCmd)
	require.NoError(t, err)
	assert.Contains(t, out, "open")
	assert.Contains(t, out, generic.ProviderName)

	failures, err := a.Reconciler.ListFailures(context.Background(), listFilter())
	require.NoError(t, err)
	require.Len(t, failures, 1)
	id := failures[0].ID.String()

	_, err = run(t, resolveCmd, id)
	assert.ErrorContains(t, err, "note is required")

	resolveNote = "garbage from load test"
	out, err = run(t, resolveCmd, id)
	require.NoError(t, err)
	assert.Contains(t, out, "Resolved "+id)

	out, err = run(t, listCmd)
	require.NoError(t, err)
	assert.Contains(t, out, "No reconciliation failures.")

	listAll = true
	out, err = run(t, listCmd)
	require.NoError(t, err)
	assert.Contains(t, out, "resolved")
}

func TestReprocess_Unknown(t *testing.T) {
	setupApp(t)
	_, err := run(t, reprocessCmd, uuid.NewString())
	assert.Error(t, err)

	_, err = run(t, reprocessCmd, "nope")
	assert.ErrorContains(t, err, "invalid failure id")
}

func listFilter() domain.FailureFilter {
	return domain.FailureFilter{Limit: 10}
}
