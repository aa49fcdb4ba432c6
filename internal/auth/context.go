// ABOUTME: Request context helpers for the authenticated user ID
// ABOUTME: Provides WithUserID/UserIDFromContext for propagating identity via context

package auth

import (
	"context"
)

// userIDKey is the key type for storing the authenticated user ID in context.
type userIDKey struct{}

// WithUserID returns a new context with the authenticated user ID attached.
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDKey{}, userID)
}

// UserIDFromContext retrieves the authenticated user ID from the context,
// returning "" if not present.
func UserIDFromContext(ctx context.Context) string {
	val := ctx.Value(userIDKey{})
	if val == nil {
		return ""
	}
	id, ok := val.(string)
	if !ok {
		return ""
	}
	return id
}
