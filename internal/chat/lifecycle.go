// ABOUTME: Session lifecycle state machine: waiting -> active -> ended
// ABOUTME: Single transition authority; serializes session creation per user

package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/hostwind/livechat/internal/auth"
	"github.com/hostwind/livechat/internal/store"
)

// Lifecycle owns every session state transition. No other component writes
// session status; illegal transitions fail here instead of being guarded by
// scattered checks at call sites.
type Lifecycle struct {
	store     store.Store
	policy    AssignPolicy
	userLocks *keyedMutex
	logger    *slog.Logger
}

// NewLifecycle creates the session lifecycle manager
func NewLifecycle(st store.Store, policy AssignPolicy, logger *slog.Logger) *Lifecycle {
	if logger == nil {
		logger = slog.Default()
	}
	return &Lifecycle{
		store:     st,
		policy:    policy,
		userLocks: newKeyedMutex(),
		logger:    logger.With("component", "lifecycle"),
	}
}

// Start creates a waiting session for the user. Per-user serialization plus
// the store's open-session index make a start/start race deterministic: the
// second caller gets store.ErrSessionConflict and should resume instead.
func (l *Lifecycle) Start(ctx context.Context, userID, subject, department, priority string) (*store.ChatSession, error) {
	if department == "" {
		department = "general"
	}
	if priority == "" {
		priority = store.PriorityNormal
	}

	l.userLocks.Lock(userID)
	defer l.userLocks.Unlock(userID)

	if _, err := l.store.GetOpenSessionForUser(ctx, userID); err == nil {
		return nil, store.ErrSessionConflict
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("checking open session: %w", err)
	}

	now := time.Now().UTC()
	session := &store.ChatSession{
		ID:             uuid.New().String(),
		UserID:         userID,
		Status:         store.SessionWaiting,
		Priority:       priority,
		Department:     department,
		Subject:        subject,
		StartedAt:      now,
		LastActivityAt: now,
	}

	if err := l.store.CreateSession(ctx, session); err != nil {
		return nil, err
	}

	l.logger.Info("session started",
		"session_id", session.ID,
		"user_id", userID,
		"department", department,
		"priority", priority)

	return session, nil
}

// Resume returns the user's open session without changing its state.
// Duplicate resumes (a second tab) see the same session id.
func (l *Lifecycle) Resume(ctx context.Context, userID string) (*store.ChatSession, error) {
	return l.store.GetOpenSessionForUser(ctx, userID)
}

// Claim transitions waiting -> active by attaching an admin through the
// assignment policy. Exactly one of any number of concurrent claims wins.
func (l *Lifecycle) Claim(ctx context.Context, sessionID, adminID string) (*store.ChatSession, error) {
	if err := l.policy.TryAssign(ctx, sessionID, adminID); err != nil {
		return nil, err
	}

	session, err := l.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	l.logger.Info("session claimed",
		"session_id", sessionID,
		"admin_id", adminID,
		"user_id", session.UserID)

	return session, nil
}

// End transitions waiting|active -> ended on behalf of a participant. The
// state is terminal; a later start creates a fresh session id.
func (l *Lifecycle) End(ctx context.Context, sessionID string, by *auth.Identity) (*store.ChatSession, error) {
	session, err := l.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	if !isParticipant(session, by) {
		return nil, ErrNotAParticipant
	}

	if err := l.store.EndSession(ctx, sessionID); err != nil {
		return nil, err
	}
	session.Status = store.SessionEnded

	l.logger.Info("session ended",
		"session_id", sessionID,
		"ended_by", by.UserID,
		"role", by.Role)

	return session, nil
}

// EndStale force-ends open sessions that have gone quiet and returns them so
// the router can broadcast session_ended. Two cutoffs apply: idleBefore for
// sessions whose owner still holds a connection, and graceBefore (the
// reconnect grace period) once the owner has fully disconnected. connected
// reports whether a user currently has any live connection.
func (l *Lifecycle) EndStale(ctx context.Context, idleBefore, graceBefore time.Time, connected func(userID string) bool) ([]*store.ChatSession, error) {
	// List by whichever cutoff is more recent; it covers both cases.
	listCutoff := graceBefore
	if idleBefore.After(listCutoff) {
		listCutoff = idleBefore
	}

	stale, err := l.store.ListStaleSessions(ctx, listCutoff)
	if err != nil {
		return nil, fmt.Errorf("listing stale sessions: %w", err)
	}

	var ended []*store.ChatSession
	for _, session := range stale {
		idle := session.LastActivityAt.Before(idleBefore)
		abandoned := session.LastActivityAt.Before(graceBefore) && !connected(session.UserID)
		if !idle && !abandoned {
			continue
		}

		if err := l.store.EndSession(ctx, session.ID); err != nil {
			l.logger.Warn("ending stale session failed",
				"session_id", session.ID,
				"error", err)
			continue
		}
		session.Status = store.SessionEnded
		ended = append(ended, session)

		l.logger.Info("session ended by idle timeout",
			"session_id", session.ID,
			"user_id", session.UserID,
			"last_activity", session.LastActivityAt)
	}

	return ended, nil
}

// Touch advances a session's last-activity timestamp
func (l *Lifecycle) Touch(ctx context.Context, sessionID string, at time.Time) {
	if err := l.store.TouchSession(ctx, sessionID, at); err != nil {
		l.logger.Warn("touching session failed", "session_id", sessionID, "error", err)
	}
}

// isParticipant reports whether an identity is the owning user or the
// assigned admin of a session.
func isParticipant(session *store.ChatSession, id *auth.Identity) bool {
	if id == nil {
		return false
	}
	if session.UserID == id.UserID && !id.IsAdmin() {
		return true
	}
	if id.IsAdmin() && session.AssignedAdminID != nil && *session.AssignedAdminID == id.UserID {
		return true
	}
	return false
}
