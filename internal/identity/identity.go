package identity

import "context"

type contextKey struct{}

// WithUserID returns a context carrying the authenticated user's numeric id.
// Set by the HTTP middleware; consumed only for event attribution.
func WithUserID(ctx context.Context, userID int64) context.Context {
	return context.WithValue(ctx, contextKey{}, userID)
}

// CurrentUser returns the user id carried by the context, or nil when the
// request is unauthenticated. Never used for authorization decisions here.
func CurrentUser(ctx context.Context) *int64 {
	if userID, ok := ctx.Value(contextKey{}).(int64); ok {
		return &userID
	}
	return nil
}
