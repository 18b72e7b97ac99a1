// ABOUTME: Tests for identity context propagation
// ABOUTME: Covers WithIdentity/FromContext round trips and absent identities

package auth

import (
	"context"
	"testing"
)

func TestWithIdentity_RoundTrip(t *testing.T) {
	id := &Identity{UserID: "user-1", Role: RoleCustomer}
	ctx := WithIdentity(context.Background(), id)

	got := FromContext(ctx)
	if got == nil {
		t.Fatal("FromContext returned nil")
	}
	if got.UserID != "user-1" || got.Role != RoleCustomer {
		t.Errorf("got %+v, want %+v", got, id)
	}
}

func TestFromContext_Missing(t *testing.T) {
	if got := FromContext(context.Background()); got != nil {
		t.Errorf("FromContext on empty context = %+v, want nil", got)
	}
}
