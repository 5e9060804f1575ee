// ABOUTME: Context helpers for carrying the authenticated identity through session handlers
// ABOUTME: Provides WithIdentity/IdentityFrom so handlers and observers can log who acted

package auth

import (
	"context"
)

// identityKey is the key type for storing the identity in context.Context.
type identityKey struct{}

// WithIdentity returns a new context carrying identity.
func WithIdentity(ctx context.Context, identity string) context.Context {
	return context.WithValue(ctx, identityKey{}, identity)
}

// IdentityFrom retrieves the identity from ctx, returning "" if not present.
func IdentityFrom(ctx context.Context) string {
	identity, _ := ctx.Value(identityKey{}).(string)
	return identity
}
