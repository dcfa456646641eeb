package plan

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/felixgeelhaar/cadence/adapter/cli"
	"github.com/felixgeelhaar/cadence/internal/app"
	"github.com/felixgeelhaar/cadence/pkg/config"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func resetFlags() {
	publishFile = ""
	showVersion = 0
	showCycle = ""
}

func setupApp(t *testing.T) {
	t.Helper()
	resetFlags()
	c, err := app.NewContainer(context.Background(), &config.Config{AppEnv: "test"}, nil,
		app.WithRepositories(app.MemoryRepositories()),
	)
	require.NoError(t, err)
	cli.SetApp(cli.NewApp(c))
	t.Cleanup(func() {
		cli.SetApp(nil)
		c.Close()
	})
}

func run(t *testing.T, cmd *cobra.Command, args ...string) (string, error) {
	t.Helper()
	var output strings.Builder
	cmd.SetContext(context.Background())
	cmd.SetOut(&output)
	err := cmd.RunE(cmd, args)
	return output.String(), err
}

func writePlan(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "plan.json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestPublishAndShow(t *testing.T) {
	setupApp(t)

	publishFile = writePlan(t, `{"id":"pro","name":"Pro","cycle":"monthly","price":{"amount":2000,"currency":"USD"},"limits":{"api_calls":1000,"seats":-1},"trial_days":14}`)
	out, err := run(t, publishCmd)
	require.NoError(t, err)
	assert.Contains(t, out, "Published pro")

	_, err = run(t, publishCmd)
	require.NoError(t, err, "publishing again cuts a new version")

	out, err = run(t, showCmd, "pro")
	require.NoError(t, err)
	assert.Contains(t, out, "pro v2 (Pro)")
	assert.Contains(t, out, "price:  2000 USD")
	assert.Contains(t, out, "trial:  14 days")
	assert.Contains(t, out, "unlimited")

	showVersion = 1
	out, err = run(t, showCmd, "pro")
	require.NoError(t, err)
	assert.Contains(t, out, "pro v1")

	out, err = run(t, listCmd)
	require.NoError(t, err)
	assert.Contains(t, out, "pro")
	assert.Contains(t, out, "v2")
}

func TestPublish_Invalid(t *testing.T) {
	setupApp(t)

	_, err := run(t, publishCmd)
	assert.ErrorContains(t, err, "file is required")

	publishFile = writePlan(t, `{"id":"pro",`)
	_, err = run(t, publishCmd)
	assert.ErrorContains(t, err, "invalid plan file")

	publishFile = writePlan(t, `{"id":"pro","cycle":"weekly","price":{"amount":1,"currency":"USD"}}`)
	_, err = run(t, publishCmd)
	assert.Error(t, err)

	publishFile = "plans;rm -rf.json"
	_, err = run(t, publishCmd)
	assert.Error(t, err)
}

func TestShow_NotFound(t *testing.T) {
	setupApp(t)
	_, err := run(t, showCmd, "missing")
	assert.Error(t, err)

	out, err := run(t, listCmd)
	require.NoError(t, err)
	assert.Contains(t, out, "No plans published.")
}
