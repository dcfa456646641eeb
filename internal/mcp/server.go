// Package mcp serves the billing admin tools over MCP streamable HTTP.
package mcp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/felixgeelhaar/cadence/adapter/cli"
	billingtools "github.com/felixgeelhaar/cadence/adapter/mcp"
	"github.com/felixgeelhaar/cadence/pkg/config"
	mcpgo "github.com/felixgeelhaar/mcp-go"
	"github.com/felixgeelhaar/mcp-go/middleware"
)

const serverName = "cadence-mcp"

// Serve runs the MCP server on cfg.MCPAddr until ctx is canceled.
func Serve(ctx context.Context, cfg *config.Config, cliApp *cli.App, logger *slog.Logger) error {
	if cfg == nil {
		return errors.New("config is required")
	}
	if cliApp == nil {
		return errors.New("CLI app is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "mcp")

	stack, err := middlewareStack(cfg, logger)
	if err != nil {
		return err
	}
	srv, err := NewServer(cliApp)
	if err != nil {
		return err
	}

	logger.Info("mcp server listening", "addr", cfg.MCPAddr, "auth", cfg.MCPAuthToken != "")
	return mcpgo.ServeHTTPWithMiddleware(ctx, srv, cfg.MCPAddr, nil, mcpgo.WithMiddleware(stack...))
}

// NewServer registers the billing tools, resources and prompts.
func NewServer(cliApp *cli.App) (*mcpgo.Server, error) {
	srv := mcpgo.NewServer(mcpgo.ServerInfo{
		Name:    serverName,
		Version: "1.0.0",
		Capabilities: mcpgo.Capabilities{
			Tools:     true,
			Resources: true,
			Prompts:   true,
		},
	})

	deps := billingtools.ToolDependencies{App: cliApp}
	for name, register := range map[string]func(*mcpgo.Server, billingtools.ToolDependencies) error{
		"tools":     billingtools.RegisterCLITools,
		"resources": billingtools.RegisterResources,
		"prompts":   billingtools.RegisterPrompts,
	} {
		if err := register(srv, deps); err != nil {
			return nil, fmt.Errorf("register mcp %s: %w", name, err)
		}
	}
	return srv, nil
}

// middlewareStack puts bearer auth in front of the default stack. The token
// may only be omitted outside production.
func middlewareStack(cfg *config.Config, logger *slog.Logger) ([]middleware.Middleware, error) {
	log := slogAdapter{logger}
	stack := middleware.DefaultStack(log)

	if cfg.MCPAuthToken == "" {
		if cfg.IsProduction() {
			return nil, errors.New("MCP_AUTH_TOKEN is required in production")
		}
		logger.Warn("MCP_AUTH_TOKEN not set, admin tools are unauthenticated")
		return stack, nil
	}

	tokens := middleware.StaticTokens(map[string]*middleware.Identity{
		cfg.MCPAuthToken: {ID: "operator", Name: "billing operator"},
	})
	auth := middleware.Auth(middleware.BearerTokenAuthenticator(tokens), middleware.WithAuthLogger(log))
	return append([]middleware.Middleware{auth}, stack...), nil
}

// slogAdapter satisfies the mcp-go middleware logger.
type slogAdapter struct {
	logger *slog.Logger
}

func (a slogAdapter) Debug(msg string, fields ...middleware.Field) {
	a.logger.Debug(msg, fieldsToArgs(fields)...)
}

func (a slogAdapter) Info(msg string, fields ...middleware.Field) {
	a.logger.Info(msg, fieldsToArgs(fields)...)
}

func (a slogAdapter) Warn(msg string, fields ...middleware.Field) {
	a.logger.Warn(msg, fieldsToArgs(fields)...)
}

func (a slogAdapter) Error(msg string, fields ...middleware.Field) {
	a.logger.Error(msg, fieldsToArgs(fields)...)
}

func fieldsToArgs(fields []middleware.Field) []any {
	args := make([]any, 0, len(fields)*2)
	for _, f := range fields {
		args = append(args, f.Key, f.Value)
	}
	return args
}
