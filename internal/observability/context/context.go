package context

import (
	"context"
	"strings"
)

type requestIDKey struct{}

type providerTransactionKey struct{}

// WithRequestID stores the inbound request id.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey{}, requestID)
}

func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(requestIDKey{}).(string); ok {
		return v
	}
	return ""
}

// WithProviderTransactionID tags the context with the provider transaction
// being reconciled so every log line of the unit of work carries it.
func WithProviderTransactionID(ctx context.Context, id string) context.Context {
	id = strings.TrimSpace(id)
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, providerTransactionKey{}, id)
}

func ProviderTransactionIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(providerTransactionKey{}).(string); ok {
		return v
	}
	return ""
}
