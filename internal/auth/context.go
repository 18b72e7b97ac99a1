// ABOUTME: Identity context for tracking the authenticated party through request handlers
// ABOUTME: Provides WithIdentity/FromContext for propagating identity via context

package auth

import (
	"context"
)

// Role constants for portal identities
const (
	RoleCustomer = "customer"
	RoleAdmin    = "admin"
)

// Identity holds the authenticated identity resolved for a transport
// connection or HTTP request. The portal's account subsystem issues the
// tokens; the chat service only consumes this lookup.
type Identity struct {
	UserID string
	Role   string // "customer" | "admin"
}

// IsAdmin returns true if the identity carries the admin role.
func (id *Identity) IsAdmin() bool {
	return id.Role == RoleAdmin
}

// identityKey is the key type for storing Identity in context.Context.
type identityKey struct{}

// WithIdentity returns a new context with the Identity attached.
func WithIdentity(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// FromContext retrieves the Identity from the context, returning nil if not present.
func FromContext(ctx context.Context) *Identity {
	val := ctx.Value(identityKey{})
	if val == nil {
		return nil
	}
	id, ok := val.(*Identity)
	if !ok {
		return nil
	}
	return id
}
