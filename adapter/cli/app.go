package cli

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	cadence "github.com/felixgeelhaar/cadence/internal/app"
	billingCommands "github.com/felixgeelhaar/cadence/internal/billing/application/commands"
	billingQueries "github.com/felixgeelhaar/cadence/internal/billing/application/queries"
	billingWorkers "github.com/felixgeelhaar/cadence/internal/billing/application/workers"
	catalogApp "github.com/felixgeelhaar/cadence/internal/catalog/application"
	reconciliationApp "github.com/felixgeelhaar/cadence/internal/reconciliation/application"
	"github.com/felixgeelhaar/cadence/pkg/config"
	"github.com/felixgeelhaar/cadence/pkg/observability"
)

// ErrNotInitialized is returned by commands that need a wired application.
var ErrNotInitialized = errors.New("billing commands require a database connection")

// App holds the CLI application dependencies.
type App struct {
	Config *config.Config
	Logger *slog.Logger

	Catalog *catalogApp.Service

	// Subscription Command Handlers
	CreateSubscriptionHandler *billingCommands.CreateSubscriptionHandler
	ApplyCommandHandler       *billingCommands.ApplyCommandHandler
	RecordUsageHandler        *billingCommands.RecordUsageHandler
	ChangePlanHandler         *billingCommands.ChangePlanHandler
	AttachGatewayHandler      *billingCommands.AttachGatewayHandler

	// Subscription Query Handlers
	GetSubscriptionHandler    *billingQueries.GetSubscriptionHandler
	ListSubscriptionsHandler  *billingQueries.ListSubscriptionsHandler
	GetUsageHandler           *billingQueries.GetUsageHandler
	EstimatePlanChangeHandler *billingQueries.EstimatePlanChangeHandler

	Reconciler *reconciliationApp.Reconciler
	Sweeper    *billingWorkers.LifecycleSweeper

	Health  *observability.HealthRegistry
	Metrics http.Handler
}

// NewApp creates a CLI application backed by the container.
func NewApp(c *cadence.Container) *App {
	a := &App{
		Config:                    c.Config,
		Logger:                    c.Logger,
		Catalog:                   c.Catalog,
		CreateSubscriptionHandler: c.CreateSubscriptionHandler,
		ApplyCommandHandler:       c.ApplyCommandHandler,
		RecordUsageHandler:        c.RecordUsageHandler,
		ChangePlanHandler:         c.ChangePlanHandler,
		AttachGatewayHandler:      c.AttachGatewayHandler,
		GetSubscriptionHandler:    c.GetSubscriptionHandler,
		ListSubscriptionsHandler:  c.ListSubscriptionsHandler,
		GetUsageHandler:           c.GetUsageHandler,
		EstimatePlanChangeHandler: c.EstimatePlanChangeHandler,
		Reconciler:                c.Reconciler,
		Sweeper:                   c.Sweeper,
		Health:                    c.Health,
	}
	if c.Metrics != nil {
		a.Metrics = c.Metrics.Handler()
	}
	return a
}

// app is the global CLI application instance
var app *App

// SetApp sets the global CLI application instance.
func SetApp(a *App) {
	app = a
}

// GetApp returns the global CLI application instance.
func GetApp() *App {
	return app
}

// RequireApp returns the application or ErrNotInitialized.
func RequireApp() (*App, error) {
	if app == nil {
		return nil, ErrNotInitialized
	}
	return app, nil
}

// PrintJSON writes v as indented JSON.
func PrintJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
