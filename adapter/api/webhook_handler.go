package api

import (
	"io"
	"log/slog"
	"net/http"

	reconciliationApp "github.com/felixgeelhaar/cadence/internal/reconciliation/application"
	"github.com/felixgeelhaar/cadence/internal/reconciliation/domain"
	"github.com/google/uuid"
)

// WebhookHandler receives gateway notifications and serves the failure
// review queue.
type WebhookHandler struct {
	reconciler *reconciliationApp.Reconciler
	logger     *slog.Logger
}

// NewWebhookHandler creates a webhook handler.
func NewWebhookHandler(reconciler *reconciliationApp.Reconciler, logger *slog.Logger) *WebhookHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &WebhookHandler{reconciler: reconciler, logger: logger}
}

type webhookResponse struct {
	Outcome        string     `json:"outcome"`
	EventID        string     `json:"event_id,omitempty"`
	SubscriptionID *uuid.UUID `json:"subscription_id,omitempty"`
	Trigger        string     `json:"trigger,omitempty"`
}

func toWebhookResponse(res domain.Result) webhookResponse {
	out := webhookResponse{
		Outcome: string(res.Outcome),
		EventID: res.EventID,
		Trigger: res.Trigger,
	}
	if res.SubscriptionID != uuid.Nil {
		id := res.SubscriptionID
		out.SubscriptionID = &id
	}
	return out
}

// Receive handles POST /api/v1/webhooks/{provider}. Every acknowledged
// outcome answers 200, including signature failures, so the provider stops
// redelivering; retryable failures answer 503.
func (h *WebhookHandler) Receive(w http.ResponseWriter, r *http.Request) {
	provider, err := h.reconciler.Provider(r.PathValue("provider"))
	if err != nil {
		writeError(w, toAPIError(err))
		return
	}

	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, &APIError{Status: http.StatusRequestEntityTooLarge, Code: "payload_too_large", Message: err.Error()})
		return
	}

	res := h.reconciler.HandleGatewayEvent(r.Context(), provider.Name(), payload, r.Header.Get(provider.SignatureHeader()))
	status := http.StatusOK
	if !res.Acknowledged() {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, toWebhookResponse(res))
}

// ListFailures handles GET /api/v1/reconciliation/failures
func (h *WebhookHandler) ListFailures(w http.ResponseWriter, r *http.Request) {
	failures, err := h.reconciler.ListFailures(r.Context(), domain.FailureFilter{
		IncludeResolved: parseBoolParam(r, "all", false),
		Provider:        r.URL.Query().Get("provider"),
		Limit:           parseIntParam(r, "limit", 50),
	})
	if err != nil {
		h.logger.ErrorContext(r.Context(), "failed to list reconciliation failures", "error", err)
		writeError(w, toAPIError(err))
		return
	}
	if failures == nil {
		failures = []*domain.Failure{}
	}
	writeJSON(w, http.StatusOK, failures)
}

type resolveFailureRequest struct {
	Note string `json:"note"`
}

// ResolveFailure handles POST /api/v1/reconciliation/failures/{id}/resolve
func (h *WebhookHandler) ResolveFailure(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req resolveFailureRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Note == "" {
		writeError(w, badRequest("A resolution note is required"))
		return
	}

	f, err := h.reconciler.ResolveFailure(r.Context(), id, req.Note)
	if err != nil {
		writeError(w, toAPIError(err))
		return
	}
	writeJSON(w, http.StatusOK, f)
}

// Reprocess handles POST /api/v1/reconciliation/failures/{id}/reprocess
func (h *WebhookHandler) Reprocess(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	res, err := h.reconciler.Reprocess(r.Context(), id)
	if err != nil && res.Outcome == "" {
		writeError(w, toAPIError(err))
		return
	}
	status := http.StatusOK
	if err != nil {
		status = http.StatusConflict
	}
	writeJSON(w, status, toWebhookResponse(res))
}

// parseBoolParam parses a boolean query parameter with a default value.
func parseBoolParam(r *http.Request, name string, defaultVal bool) bool {
	if val := r.URL.Query().Get(name); val != "" {
		return val == "true" || val == "1"
	}
	return defaultVal
}
