package mcp

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/felixgeelhaar/cadence/adapter/cli"
	"github.com/felixgeelhaar/cadence/pkg/config"
	"github.com/felixgeelhaar/mcp-go/middleware"
	"github.com/stretchr/testify/assert"
)

func TestServe_RequiresConfigAndApp(t *testing.T) {
	ctx := context.Background()
	assert.ErrorContains(t, Serve(ctx, nil, &cli.App{}, nil), "config is required")
	assert.ErrorContains(t, Serve(ctx, &config.Config{}, nil, nil), "CLI app is required")
}

func TestServe_ProductionRequiresToken(t *testing.T) {
	cfg := &config.Config{AppEnv: "production", MCPAddr: "127.0.0.1:0"}
	err := Serve(context.Background(), cfg, &cli.App{}, nil)
	assert.ErrorContains(t, err, "MCP_AUTH_TOKEN")
}

func TestFieldsToArgs(t *testing.T) {
	args := fieldsToArgs([]middleware.Field{{Key: "tool", Value: "billing.usage"}, {Key: "ms", Value: 3}})
	assert.Equal(t, []any{"tool", "billing.usage", "ms", 3}, args)
}

func TestNewServer_RegistersBillingSurface(t *testing.T) {
	srv, err := NewServer(&cli.App{})
	assert.NoError(t, err)
	assert.NotNil(t, srv)
}

func TestMiddlewareStack(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	open, err := middlewareStack(&config.Config{AppEnv: "development"}, logger)
	assert.NoError(t, err)

	authed, err := middlewareStack(&config.Config{AppEnv: "production", MCPAuthToken: "secret"}, logger)
	assert.NoError(t, err)
	assert.Len(t, authed, len(open)+1)

	_, err = middlewareStack(&config.Config{AppEnv: "production"}, logger)
	assert.Error(t, err)
}
