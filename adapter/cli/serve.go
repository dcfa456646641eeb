package cli

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/felixgeelhaar/cadence/adapter/api"
	"github.com/spf13/cobra"
)

var (
	serveAddr  string
	serveSweep bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API server",
	Long: `Serve the subscription API, gateway webhooks, /health and /metrics.

Examples:
  cadence serve
  cadence serve --addr :9090 --sweep`,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := RequireApp()
		if err != nil {
			return err
		}
		ctx := cmd.Context()

		cfg := api.DefaultServerConfig()
		if a.Config != nil && a.Config.APIAddr != "" {
			cfg.Addr = a.Config.APIAddr
		}
		if serveAddr != "" {
			cfg.Addr = serveAddr
		}

		billing := api.NewBillingHandler(api.BillingHandlerConfig{
			CreateSubscription: a.CreateSubscriptionHandler,
			Apply:              a.ApplyCommandHandler,
			RecordUsage:        a.RecordUsageHandler,
			ChangePlan:         a.ChangePlanHandler,
			AttachGateway:      a.AttachGatewayHandler,
			GetSubscription:    a.GetSubscriptionHandler,
			GetUsage:           a.GetUsageHandler,
			EstimatePlanChange: a.EstimatePlanChangeHandler,
			Logger:             a.Logger,
		})
		webhooks := api.NewWebhookHandler(a.Reconciler, a.Logger)
		server := api.NewServer(cfg, billing, webhooks, a.Health, a.Metrics, a.Logger)

		if serveSweep && a.Sweeper != nil {
			go func() {
				if err := a.Sweeper.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
					a.Logger.Error("lifecycle sweeper stopped", "error", err)
				}
			}()
		}

		errCh := make(chan error, 1)
		go func() {
			errCh <- server.Start()
		}()

		select {
		case err := <-errCh:
			if errors.Is(err, http.ErrServerClosed) {
				return nil
			}
			return err
		case <-ctx.Done():
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return server.Shutdown(shutdownCtx)
		}
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (defaults to API_ADDR)")
	serveCmd.Flags().BoolVar(&serveSweep, "sweep", false, "also run the lifecycle sweeper in this process")
	rootCmd.AddCommand(serveCmd)
}
