// ABOUTME: Chat error taxonomy and wire error codes
// ABOUTME: Maps recoverable errors to the codes clients branch on

package chat

import (
	"errors"

	"github.com/hostwind/livechat/internal/store"
)

// ErrNotAParticipant is returned when a connection sends a message or typing
// signal for a session it is not a participant of. The frame is rejected and
// logged; the connection is not dropped.
var ErrNotAParticipant = errors.New("not a participant of this session")

// ErrNotAttached is returned when a connection acts on a session before
// starting or resuming one.
var ErrNotAttached = errors.New("connection not attached to a session")

// Wire error codes, sent in error frames to the originating connection only
const (
	CodeSessionConflict = "session_conflict"
	CodeNotAParticipant = "not_a_participant"
	CodeAlreadyAssigned = "already_assigned"
	CodeSessionNotFound = "session_not_found"
	CodeSessionEnded    = "session_ended"
	CodeDeliveryFailed  = "delivery_failed"
	CodeInvalidPayload  = "invalid_payload"
)

// errorCode maps an error to its wire code. Unrecognized errors are
// delivery failures: the client may retry.
func errorCode(err error) string {
	switch {
	case errors.Is(err, store.ErrSessionConflict):
		return CodeSessionConflict
	case errors.Is(err, store.ErrAlreadyAssigned):
		return CodeAlreadyAssigned
	case errors.Is(err, store.ErrNotFound):
		return CodeSessionNotFound
	case errors.Is(err, store.ErrSessionEnded):
		return CodeSessionEnded
	case errors.Is(err, ErrNotAParticipant):
		return CodeNotAParticipant
	case errors.Is(err, ErrNotAttached):
		return CodeSessionNotFound
	default:
		return CodeDeliveryFailed
	}
}
