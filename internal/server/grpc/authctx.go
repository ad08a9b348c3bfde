package grpcserver

import (
	"context"
)

type ctxKey string

const identityKey ctxKey = "lms.identity"

// Identity is the authenticated caller.
type Identity struct {
	UserID string
	Admin  bool
}

// WithIdentity stores the authenticated caller in context.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey, id)
}

// IdentityFromCtx fetches the caller from context.
func IdentityFromCtx(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey).(Identity)
	if !ok || id.UserID == "" {
		return Identity{}, false
	}
	return id, true
}
