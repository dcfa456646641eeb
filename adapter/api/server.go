// Package api exposes the billing core over HTTP.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/felixgeelhaar/cadence/pkg/observability"
	"github.com/google/uuid"
)

// Server is the HTTP API server.
type Server struct {
	mux     *http.ServeMux
	server  *http.Server
	logger  *slog.Logger
	billing *BillingHandler
	webhook *WebhookHandler
	health  *observability.HealthRegistry
	metrics http.Handler
}

// ServerConfig holds configuration for the API server.
type ServerConfig struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// DefaultServerConfig returns the default server configuration.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Addr:         "0.0.0.0:8080",
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}

// NewServer creates a new API server. health and metrics may be nil.
func NewServer(cfg ServerConfig, billing *BillingHandler, webhook *WebhookHandler, health *observability.HealthRegistry, metrics http.Handler, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if health == nil {
		health = observability.NewHealthRegistry()
	}

	s := &Server{
		mux:     http.NewServeMux(),
		logger:  logger,
		billing: billing,
		webhook: webhook,
		health:  health,
		metrics: metrics,
	}

	s.registerRoutes()

	s.server = &http.Server{
		Addr:         cfg.Addr,
		Handler:      s.Handler(),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	return s
}

// registerRoutes sets up the API routes.
func (s *Server) registerRoutes() {
	s.mux.Handle("GET /health", s.health.Handler(5*time.Second))
	if s.metrics != nil {
		s.mux.Handle("GET /metrics", s.metrics)
	}

	// Subscriptions
	s.mux.HandleFunc("POST /api/v1/subscriptions", s.billing.CreateSubscription)
	s.mux.HandleFunc("GET /api/v1/subscriptions/{id}", s.billing.GetSubscription)
	s.mux.HandleFunc("POST /api/v1/subscriptions/{id}/commands", s.billing.ApplyCommand)
	s.mux.HandleFunc("POST /api/v1/subscriptions/{id}/usage", s.billing.RecordUsage)
	s.mux.HandleFunc("GET /api/v1/subscriptions/{id}/usage", s.billing.GetUsage)
	s.mux.HandleFunc("GET /api/v1/subscriptions/{id}/plan-change-estimate", s.billing.EstimatePlanChange)
	s.mux.HandleFunc("POST /api/v1/subscriptions/{id}/plan-change", s.billing.ChangePlan)
	s.mux.HandleFunc("PUT /api/v1/subscriptions/{id}/gateway", s.billing.AttachGateway)

	// Gateway webhooks and operator review
	s.mux.HandleFunc("POST /api/v1/webhooks/{provider}", s.webhook.Receive)
	s.mux.HandleFunc("GET /api/v1/reconciliation/failures", s.webhook.ListFailures)
	s.mux.HandleFunc("POST /api/v1/reconciliation/failures/{id}/resolve", s.webhook.ResolveFailure)
	s.mux.HandleFunc("POST /api/v1/reconciliation/failures/{id}/reprocess", s.webhook.Reprocess)
}

// Handler returns the routed handler wrapped with request context.
func (s *Server) Handler() http.Handler {
	return s.withRequestContext(s.mux)
}

// withRequestContext tags each request with request and correlation ids.
func (s *Server) withRequestContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := observability.NewRequestContext(r.Context(), r.Header.Get("X-Correlation-ID"))
		if actor := r.Header.Get("X-Actor-ID"); actor != "" {
			if _, err := uuid.Parse(actor); err == nil {
				ctx = observability.WithActorID(ctx, actor)
			}
		}
		w.Header().Set("X-Correlation-ID", observability.CorrelationIDFromContext(ctx))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// Start starts the API server.
func (s *Server) Start() error {
	s.logger.Info("starting API server",
		"addr", s.server.Addr,
	)
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down API server")
	return s.server.Shutdown(ctx)
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			// Log error but can't do much at this point
			slog.Error("failed to encode JSON response", "error", err)
		}
	}
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, apiErr *APIError) {
	writeJSON(w, apiErr.Status, apiErr)
}

// APIError represents an API error.
type APIError struct {
	Status  int    `json:"-"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func badRequest(message string) *APIError {
	return &APIError{Status: http.StatusBadRequest, Code: "bad_request", Message: message}
}
