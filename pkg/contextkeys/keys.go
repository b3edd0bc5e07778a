// Package contextkeys provides centralized context key definitions
//
// IMPORTANT: All context keys used across the application must be defined here.
// This prevents typos, documents dependencies, and makes key usage discoverable.
//
// USAGE PATTERN:
//   import "github.com/crewlytics/crewsync/pkg/contextkeys"
//   ctx = contextkeys.WithIdentity(ctx, ident)
//   ident := ctx.Value(contextkeys.IdentityKey).(*identity.Identity)
package contextkeys

import "context"

// Key is the type for context keys to prevent collisions
type Key string

const (
	// IdentityKey contains *identity.Identity
	// Set by: api.AuthMiddleware (pkg/api/middleware.go)
	// Required by: all protected endpoints, authz checks, audit attribution
	// Type: *identity.Identity
	IdentityKey Key = "identity"

	// RequestIDKey contains request ID string (UUID)
	// Set by: api.RequestIDMiddleware
	// Used by: logger, audit trail
	// Type: string
	RequestIDKey Key = "request_id"

	// LoggerKey contains *observability.Logger
	// Set by: observability middleware
	// Used by: handlers that need structured logging with request context
	// Type: *observability.Logger
	LoggerKey Key = "logger"
)

// Helper functions for type-safe context operations

// WithIdentity adds the caller identity to the context
func WithIdentity(ctx context.Context, ident interface{}) context.Context {
	return context.WithValue(ctx, IdentityKey, ident)
}

// WithRequestID adds request ID to the context
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

// WithLogger adds logger to the context
func WithLogger(ctx context.Context, logger interface{}) context.Context {
	return context.WithValue(ctx, LoggerKey, logger)
}

// GetRequestID retrieves request ID from context
func GetRequestID(ctx context.Context) string {
	if requestID, ok := ctx.Value(RequestIDKey).(string); ok {
		return requestID
	}
	return ""
}
