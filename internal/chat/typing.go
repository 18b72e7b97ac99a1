// ABOUTME: Typing presence tracker with a server-side staleness ceiling
// ABOUTME: Ephemeral per-(session,user) state; never persisted, never echoed to the sender

package chat

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

type typingKey struct {
	sessionID string
	userID    string
}

// TypingTracker holds who is typing in which session. A typing:true signal
// lives until a newer signal, a message from the same user, or the staleness
// ceiling supersedes it. The ceiling bounds how long a client that vanished
// mid-"typing" can leave a stale indicator on screen.
type TypingTracker struct {
	mu      sync.Mutex
	states  map[typingKey]time.Time // expiry per active typist
	ceiling time.Duration
	logger  *slog.Logger
}

// NewTypingTracker creates a tracker with the given staleness ceiling
func NewTypingTracker(ceiling time.Duration, logger *slog.Logger) *TypingTracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &TypingTracker{
		states:  make(map[typingKey]time.Time),
		ceiling: ceiling,
		logger:  logger.With("component", "typing"),
	}
}

// Set records a typing signal. A true signal arms the expiry; a false signal
// clears the state immediately.
func (t *TypingTracker) Set(sessionID, userID string, isTyping bool) {
	key := typingKey{sessionID: sessionID, userID: userID}

	t.mu.Lock()
	defer t.mu.Unlock()

	if isTyping {
		t.states[key] = time.Now().Add(t.ceiling)
	} else {
		delete(t.states, key)
	}
}

// Clear removes a user's typing state, returning true if they were typing.
// Called when the same user sends a message, before the message broadcast.
func (t *TypingTracker) Clear(sessionID, userID string) bool {
	key := typingKey{sessionID: sessionID, userID: userID}

	t.mu.Lock()
	defer t.mu.Unlock()

	_, was := t.states[key]
	delete(t.states, key)
	return was
}

// IsTyping reports whether a user's typing signal is live and unexpired
func (t *TypingTracker) IsTyping(sessionID, userID string) bool {
	key := typingKey{sessionID: sessionID, userID: userID}

	t.mu.Lock()
	defer t.mu.Unlock()

	expiry, ok := t.states[key]
	return ok && time.Now().Before(expiry)
}

// DropSession discards all typing state for a session. Called on session end.
func (t *TypingTracker) DropSession(sessionID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for key := range t.states {
		if key.sessionID == sessionID {
			delete(t.states, key)
		}
	}
}

// expire removes entries past their expiry and returns them so the caller
// can emit synthetic typing:false frames.
func (t *TypingTracker) expire(now time.Time) []typingKey {
	t.mu.Lock()
	defer t.mu.Unlock()

	var expired []typingKey
	for key, expiry := range t.states {
		if now.After(expiry) {
			delete(t.states, key)
			expired = append(expired, key)
		}
	}
	return expired
}

// Run sweeps for expired typing states until ctx is cancelled, invoking
// onExpire for each so clients don't show stale indicators indefinitely.
func (t *TypingTracker) Run(ctx context.Context, interval time.Duration, onExpire func(sessionID, userID string)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			for _, key := range t.expire(now) {
				t.logger.Debug("typing signal expired",
					"session_id", key.sessionID,
					"user_id", key.userID)
				onExpire(key.sessionID, key.userID)
			}
		}
	}
}
