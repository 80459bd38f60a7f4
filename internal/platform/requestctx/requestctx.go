// Package requestctx carries per-request values (caller account, request id)
// through context so logs can be correlated below the transport layer.
package requestctx

import (
	"context"

	"go.uber.org/zap"
)

type contextKey int

const (
	accountIDKey contextKey = iota
	requestIDKey
)

// WithAccountID stores the authenticated account id in ctx.
func WithAccountID(ctx context.Context, accountID string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, accountIDKey, accountID)
}

// AccountID returns the authenticated account id stored in ctx.
func AccountID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	value, _ := ctx.Value(accountIDKey).(string)
	return value
}

// WithRequestID stores the correlation id of the current request in ctx.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, requestIDKey, requestID)
}

// RequestID returns the correlation id stored in ctx.
func RequestID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	value, _ := ctx.Value(requestIDKey).(string)
	return value
}

// Fields returns the zap fields for whichever values ctx carries.
func Fields(ctx context.Context) []zap.Field {
	var fields []zap.Field
	if id := RequestID(ctx); id != "" {
		fields = append(fields, zap.String("http_request_id", id))
	}
	if id := AccountID(ctx); id != "" {
		fields = append(fields, zap.String("account_id", id))
	}
	return fields
}
