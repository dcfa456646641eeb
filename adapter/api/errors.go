package api

import (
	"errors"
	"net/http"

	billing "github.com/felixgeelhaar/cadence/internal/billing/domain"
	catalog "github.com/felixgeelhaar/cadence/internal/catalog/domain"
	payments "github.com/felixgeelhaar/cadence/internal/payments/domain"
	reconciliation "github.com/felixgeelhaar/cadence/internal/reconciliation/domain"
)

var errorMappings = []struct {
	err    error
	status int
	code   string
}{
	{billing.ErrSubscriptionNotFound, http.StatusNotFound, "subscription_not_found"},
	{catalog.ErrPlanNotFound, http.StatusNotFound, "plan_not_found"},
	{reconciliation.ErrFailureNotFound, http.StatusNotFound, "failure_not_found"},
	{payments.ErrUnknownProvider, http.StatusNotFound, "unknown_provider"},

	{billing.ErrInvalidTransition, http.StatusConflict, "invalid_transition"},
	{billing.ErrStaleWrite, http.StatusConflict, "stale_write"},
	{billing.ErrPairingConflict, http.StatusConflict, "pairing_conflict"},
	{billing.ErrPlanUnchanged, http.StatusConflict, "plan_unchanged"},
	{reconciliation.ErrFailureResolved, http.StatusConflict, "failure_resolved"},

	{billing.ErrQuotaExceeded, http.StatusTooManyRequests, "quota_exceeded"},

	{billing.ErrInvalidPeriod, http.StatusUnprocessableEntity, "invalid_period"},
	{billing.ErrUsageNotAllowed, http.StatusUnprocessableEntity, "usage_not_allowed"},
	{billing.ErrCurrencyMismatch, http.StatusUnprocessableEntity, "currency_mismatch"},

	{billing.ErrUnknownMetric, http.StatusBadRequest, "unknown_metric"},
	{billing.ErrInvalidUsage, http.StatusBadRequest, "invalid_usage"},
	{billing.ErrInvalidSubscription, http.StatusBadRequest, "invalid_subscription"},
	{billing.ErrInvalidPairing, http.StatusBadRequest, "invalid_pairing"},
	{billing.ErrPlanMismatch, http.StatusBadRequest, "plan_mismatch"},
	{billing.ErrMissingTargetPlan, http.StatusBadRequest, "missing_target_plan"},
	{catalog.ErrUnknownBillingCycle, http.StatusBadRequest, "unknown_billing_cycle"},
	{catalog.ErrInvalidPlan, http.StatusBadRequest, "invalid_plan"},

	{payments.ErrGatewayTimeout, http.StatusGatewayTimeout, "gateway_timeout"},
	{payments.ErrCardDeclined, http.StatusBadGateway, "card_declined"},
	{payments.ErrCircuitOpen, http.StatusBadGateway, "gateway_unavailable"},
	{payments.ErrChargePending, http.StatusPaymentRequired, "payment_pending"},
	{payments.ErrGatewayFailure, http.StatusBadGateway, "gateway_failure"},
}

// toAPIError maps domain errors onto HTTP statuses. Unknown errors are 500
// and their message is not exposed.
func toAPIError(err error) *APIError {
	for _, m := range errorMappings {
		if errors.Is(err, m.err) {
			return &APIError{Status: m.status, Code: m.code, Message: err.Error()}
		}
	}
	return &APIError{
		Status:  http.StatusInternalServerError,
		Code:    "internal_error",
		Message: "Internal server error",
	}
}
