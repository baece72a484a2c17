// Package contextkeys provides centralized context key definitions
//
// All context keys used across the application are defined here.
//
// USAGE PATTERN:
//
//	ctx = contextkeys.WithUserID(ctx, claims.UserID)
//	userID, ok := contextkeys.GetUserID(ctx)
package contextkeys

import "context"

// Key is the type for context keys to prevent collisions
type Key string

const (
	// UserIDKey contains the verified user id (int64)
	// Set by: middleware.Authenticator after the bearer token validates
	// Required by: every handler acting on behalf of a user
	UserIDKey Key = "user_id"

	// RequestIDKey contains request ID string (UUID)
	// Set by: middleware.RequestID
	// Used by: Logger, error responses
	RequestIDKey Key = "request_id"
)

// WithUserID attaches the authenticated user id to the context
func WithUserID(ctx context.Context, userID int64) context.Context {
	return context.WithValue(ctx, UserIDKey, userID)
}

// GetUserID returns the authenticated user id. ok is false when the request
// was never authenticated; there is no fallback identity.
func GetUserID(ctx context.Context) (userID int64, ok bool) {
	userID, ok = ctx.Value(UserIDKey).(int64)
	return userID, ok && userID > 0
}

// WithRequestID adds request ID to the context
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

// GetRequestID retrieves request ID from context
func GetRequestID(ctx context.Context) string {
	if requestID, ok := ctx.Value(RequestIDKey).(string); ok {
		return requestID
	}
	return ""
}
