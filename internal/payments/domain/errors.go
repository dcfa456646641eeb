package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrAuthentication means a webhook signature did not verify.
	ErrAuthentication = errors.New("authentication failed")
	// ErrGatewayTimeout means the gateway did not answer within the deadline.
	ErrGatewayTimeout = errors.New("gateway timeout")
	// ErrGatewayFailure means the gateway refused or failed the request.
	ErrGatewayFailure = errors.New("gateway failure")
	// ErrCardDeclined is a gateway failure caused by the payment method.
	ErrCardDeclined = fmt.Errorf("%w: card declined", ErrGatewayFailure)
	// ErrCircuitOpen is a gateway failure raised without calling the gateway.
	ErrCircuitOpen = fmt.Errorf("%w: circuit open", ErrGatewayFailure)
	// ErrChargePending means the gateway accepted the charge but has not
	// confirmed the payment. Callers must not treat it as paid.
	ErrChargePending = fmt.Errorf("%w: charge pending", ErrGatewayFailure)

	ErrMalformedEvent  = errors.New("malformed gateway event")
	ErrUnknownProvider = errors.New("unknown gateway provider")
	ErrInvalidCharge   = errors.New("invalid charge request")
)

// IsRetryable reports whether a charge error may succeed if repeated with
// the same idempotency key.
func IsRetryable(err error) bool {
	if errors.Is(err, ErrCardDeclined) || errors.Is(err, ErrInvalidCharge) || errors.Is(err, ErrCircuitOpen) || errors.Is(err, ErrChargePending) {
		return false
	}
	return errors.Is(err, ErrGatewayTimeout) || errors.Is(err, ErrGatewayFailure)
}
