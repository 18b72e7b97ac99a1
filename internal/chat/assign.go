// ABOUTME: Admin assignment policy for waiting sessions
// ABOUTME: Baseline is manual claim backed by the store's compare-and-set

package chat

import (
	"context"

	"github.com/hostwind/livechat/internal/store"
)

// AssignPolicy decides which admin attaches to a waiting session. The
// baseline is manual claim; an auto-dispatch policy (round-robin across idle
// admins, department routing) plugs in here without touching the lifecycle.
type AssignPolicy interface {
	// TryAssign attaches adminID to the session. Returns
	// store.ErrAlreadyAssigned if another admin won the claim.
	TryAssign(ctx context.Context, sessionID, adminID string) error
}

// ManualClaimPolicy accepts the first admin to claim a specific waiting
// session. The decision rides entirely on the store's conditional update, so
// two admins racing resolves the same way even across server processes.
type ManualClaimPolicy struct {
	store store.Store
}

// NewManualClaimPolicy creates the baseline claim policy
func NewManualClaimPolicy(st store.Store) *ManualClaimPolicy {
	return &ManualClaimPolicy{store: st}
}

// TryAssign claims the session for adminID via the storage-layer CAS
func (p *ManualClaimPolicy) TryAssign(ctx context.Context, sessionID, adminID string) error {
	return p.store.ClaimSession(ctx, sessionID, adminID)
}
