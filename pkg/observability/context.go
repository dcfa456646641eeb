package observability

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
)

type ctxKey int

const (
	correlationIDKey ctxKey = iota
	requestIDKey
	actorIDKey
	subscriptionIDKey
	operationKey
)

// logAttrs maps context values to the attribute names the log handler emits.
var logAttrs = []struct {
	key  ctxKey
	name string
}{
	{correlationIDKey, "correlation_id"},
	{requestIDKey, "request_id"},
	{subscriptionIDKey, "subscription_id"},
	{actorIDKey, "actor_id"},
}

func stringValue(ctx context.Context, key ctxKey) string {
	if ctx == nil {
		return ""
	}
	v, _ := ctx.Value(key).(string)
	return v
}

func orNewID(id string) string {
	if id == "" {
		return uuid.NewString()
	}
	return id
}

// WithCorrelationID tags ctx with a correlation id, generating one when id is empty.
// Gateway events use their dedup key so every log line for one delivery groups together.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationIDKey, orNewID(id))
}

func CorrelationIDFromContext(ctx context.Context) string {
	return stringValue(ctx, correlationIDKey)
}

// WithRequestID tags ctx with a request id, generating one when id is empty.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, orNewID(id))
}

func RequestIDFromContext(ctx context.Context) string {
	return stringValue(ctx, requestIDKey)
}

// WithActorID records who issued the current command (operator, gateway, sweeper).
func WithActorID(ctx context.Context, actorID string) context.Context {
	return context.WithValue(ctx, actorIDKey, actorID)
}

func ActorIDFromContext(ctx context.Context) string {
	return stringValue(ctx, actorIDKey)
}

// WithSubscriptionID tags ctx with the subscription being mutated.
func WithSubscriptionID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, subscriptionIDKey, id)
}

func SubscriptionIDFromContext(ctx context.Context) string {
	return stringValue(ctx, subscriptionIDKey)
}

// WithOperation names the CLI command or API route being served.
func WithOperation(ctx context.Context, operation string) context.Context {
	return context.WithValue(ctx, operationKey, operation)
}

func OperationFromContext(ctx context.Context) string {
	return stringValue(ctx, operationKey)
}

// NewRequestContext starts a request: a fresh request id, and the caller's
// correlation id when it sent one.
func NewRequestContext(ctx context.Context, parentCorrelationID string) context.Context {
	return WithCorrelationID(WithRequestID(ctx, ""), parentCorrelationID)
}

// contextAttrs returns the log attributes carried by ctx.
func contextAttrs(ctx context.Context) []slog.Attr {
	var attrs []slog.Attr
	for _, a := range logAttrs {
		if v := stringValue(ctx, a.key); v != "" {
			attrs = append(attrs, slog.String(a.name, v))
		}
	}
	if op := stringValue(ctx, operationKey); op != "" {
		attrs = append(attrs, slog.String("operation", op))
	}
	return attrs
}
