// ABOUTME: Message router: validates, persists, and fans out chat protocol events
// ABOUTME: Per-session serialization keeps persisted order equal to delivery order

package chat

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/hostwind/livechat/internal/auth"
	"github.com/hostwind/livechat/internal/dedupe"
	"github.com/hostwind/livechat/internal/store"
)

// Router dispatches inbound envelopes, persists messages, and fans events
// out to every connection following a session. All message, claim, and end
// handling for one session runs under that session's lock, so participants
// observe session events in a single order and nothing follows
// session_ended.
type Router struct {
	store        store.Store
	registry     *Registry
	lifecycle    *Lifecycle
	typing       *TypingTracker
	dedupe       *dedupe.Cache
	sessionLocks *keyedMutex
	logger       *slog.Logger
}

// NewRouter creates a message router over the given components
func NewRouter(st store.Store, registry *Registry, lifecycle *Lifecycle, typing *TypingTracker, dd *dedupe.Cache, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		store:        st,
		registry:     registry,
		lifecycle:    lifecycle,
		typing:       typing,
		dedupe:       dd,
		sessionLocks: newKeyedMutex(),
		logger:       logger.With("component", "router"),
	}
}

// HandleFrame decodes and dispatches one inbound frame from a connection.
// Validation errors go back to the originating connection only; they are
// never broadcast and never drop the connection.
func (rt *Router) HandleFrame(ctx context.Context, conn *Conn, raw []byte) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		rt.sendErrorCode(conn, CodeInvalidPayload, "malformed envelope")
		return
	}

	switch env.Type {
	case EventStartSession:
		rt.handleStartSession(ctx, conn, env.Data)
	case EventResumeSession:
		rt.handleResumeSession(ctx, conn, env.Data)
	case EventEndSession:
		rt.handleEndSession(ctx, conn, env.Data)
	case EventMessage:
		rt.handleMessage(ctx, conn, env.Data)
	case EventTyping:
		rt.handleTyping(ctx, conn, env.Data)
	default:
		rt.logger.Debug("unknown frame type",
			"type", env.Type,
			"conn_id", conn.ID)
		rt.sendErrorCode(conn, CodeInvalidPayload, "unknown frame type")
	}
}

// Disconnect removes a connection after its transport closed. Not an error:
// the session (if any) stays open so the owner can reconnect; idle-timeout
// logic closes it later if they don't.
func (rt *Router) Disconnect(conn *Conn) {
	rt.registry.Unregister(conn.ID)
}

// StartSession creates a waiting session for the identity and notifies all
// of the user's connections. Shared by the WebSocket path and the REST
// fallback so both enforce the same single-open-session invariant.
func (rt *Router) StartSession(ctx context.Context, identity *auth.Identity, subject, department, priority string) (*store.ChatSession, error) {
	if identity.IsAdmin() {
		return nil, ErrNotAParticipant
	}

	session, err := rt.lifecycle.Start(ctx, identity.UserID, subject, department, priority)
	if err != nil {
		return nil, err
	}

	// Every open tab of this user follows the new session, so multi-tab
	// state stays consistent from the first frame.
	for _, c := range rt.registry.LookupByUser(identity.UserID) {
		rt.registry.Attach(c, session.ID)
	}
	rt.emitToUser(identity.UserID, EventSessionStarted, sessionPayload(session))

	return session, nil
}

// ResumeSession re-attaches a connection to the caller's open session
// without changing state. Duplicate resumes from extra tabs are idempotent.
func (rt *Router) ResumeSession(ctx context.Context, conn *Conn, sessionID string) (*store.ChatSession, error) {
	var session *store.ChatSession
	var err error

	if conn.Identity.IsAdmin() {
		// Admins resume a specific session they claimed earlier
		if sessionID == "" {
			return nil, store.ErrNotFound
		}
		session, err = rt.store.GetSession(ctx, sessionID)
		if err != nil {
			return nil, err
		}
		if !session.Status.Open() {
			return nil, store.ErrNotFound
		}
		if !isParticipant(session, conn.Identity) {
			return nil, ErrNotAParticipant
		}
	} else {
		session, err = rt.lifecycle.Resume(ctx, conn.Identity.UserID)
		if err != nil {
			return nil, err
		}
	}

	rt.registry.Attach(conn, session.ID)
	rt.sendEvent(conn, EventSessionResumed, sessionPayload(session))
	return session, nil
}

// EndSession ends a session on behalf of a participant and broadcasts
// session_ended. Once the broadcast is out no further message or typing
// frame for the session can be delivered.
func (rt *Router) EndSession(ctx context.Context, identity *auth.Identity, sessionID string) error {
	rt.sessionLocks.Lock(sessionID)
	defer rt.sessionLocks.Unlock(sessionID)

	if _, err := rt.lifecycle.End(ctx, sessionID, identity); err != nil {
		return err
	}

	rt.finishSession(sessionID)
	return nil
}

// Claim attaches an admin to a waiting session through the assignment
// policy. The winner's connections join the session; the user sees
// admin_joined, then session_update with the active status.
func (rt *Router) Claim(ctx context.Context, adminID, sessionID string) (*store.ChatSession, error) {
	rt.sessionLocks.Lock(sessionID)
	defer rt.sessionLocks.Unlock(sessionID)

	session, err := rt.lifecycle.Claim(ctx, sessionID, adminID)
	if err != nil {
		return nil, err
	}

	for _, c := range rt.registry.LookupByUser(adminID) {
		rt.registry.Attach(c, session.ID)
	}

	// admin_joined goes to the customer side only; the claiming admin
	// already knows. session_update then tells everyone the new status.
	rt.emit(rt.registry.LookupBySession(sessionID), EventAdminJoined, struct{}{}, func(c *Conn) bool {
		return c.Identity.UserID == adminID
	})
	rt.emit(rt.registry.LookupBySession(sessionID), EventSessionUpdate, &SessionUpdateData{
		SessionID: sessionID,
		Status:    string(session.Status),
	}, nil)

	return session, nil
}

// RunIdleSweep periodically force-ends sessions that have gone quiet. Two
// cutoffs apply: the idle timeout for sessions with a live owner connection,
// and the shorter reconnect grace period once the owner has fully
// disconnected.
func (rt *Router) RunIdleSweep(ctx context.Context, interval, idleTimeout, gracePeriod time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rt.sweepIdle(ctx, idleTimeout, gracePeriod)
		}
	}
}

func (rt *Router) sweepIdle(ctx context.Context, idleTimeout, gracePeriod time.Duration) {
	now := time.Now().UTC()
	ended, err := rt.lifecycle.EndStale(ctx, now.Add(-idleTimeout), now.Add(-gracePeriod), rt.registry.UserHasConnections)
	if err != nil {
		rt.logger.Warn("idle sweep failed", "error", err)
		return
	}

	for _, session := range ended {
		rt.sessionLocks.Lock(session.ID)
		rt.finishSession(session.ID)
		rt.sessionLocks.Unlock(session.ID)
	}
}

// RunTypingSweep emits synthetic typing:false frames when a typing signal
// passes the staleness ceiling without a follow-up.
func (rt *Router) RunTypingSweep(ctx context.Context, interval time.Duration) {
	rt.typing.Run(ctx, interval, func(sessionID, userID string) {
		rt.broadcastTyping(sessionID, userID, false)
	})
}

// handleStartSession services a start_session frame
func (rt *Router) handleStartSession(ctx context.Context, conn *Conn, data json.RawMessage) {
	var req StartSessionData
	if err := json.Unmarshal(data, &req); err != nil {
		rt.sendErrorCode(conn, CodeInvalidPayload, "malformed start_session payload")
		return
	}

	if _, err := rt.StartSession(ctx, conn.Identity, req.Subject, req.Department, req.Priority); err != nil {
		rt.sendError(conn, err)
	}
}

// handleResumeSession services a resume_session frame
func (rt *Router) handleResumeSession(ctx context.Context, conn *Conn, data json.RawMessage) {
	var req SessionRefData
	if len(data) > 0 {
		if err := json.Unmarshal(data, &req); err != nil {
			rt.sendErrorCode(conn, CodeInvalidPayload, "malformed resume_session payload")
			return
		}
	}

	if _, err := rt.ResumeSession(ctx, conn, req.SessionID); err != nil {
		rt.sendError(conn, err)
	}
}

// handleEndSession services an end_session frame
func (rt *Router) handleEndSession(ctx context.Context, conn *Conn, data json.RawMessage) {
	var req SessionRefData
	if err := json.Unmarshal(data, &req); err != nil {
		rt.sendErrorCode(conn, CodeInvalidPayload, "malformed end_session payload")
		return
	}

	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = conn.SessionID()
	}
	if sessionID == "" {
		rt.sendError(conn, ErrNotAttached)
		return
	}

	if err := rt.EndSession(ctx, conn.Identity, sessionID); err != nil {
		rt.sendError(conn, err)
	}
}

// handleMessage validates, persists, and fans out one chat message. The
// session lock is held from validation through broadcast: messages are
// delivered to everyone in exactly the order they were accepted.
func (rt *Router) handleMessage(ctx context.Context, conn *Conn, data json.RawMessage) {
	var req MessageSendData
	if err := json.Unmarshal(data, &req); err != nil {
		rt.sendErrorCode(conn, CodeInvalidPayload, "malformed message payload")
		return
	}
	if req.Message == "" {
		rt.sendErrorCode(conn, CodeInvalidPayload, "message text is required")
		return
	}

	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = conn.SessionID()
	}
	if sessionID == "" {
		rt.sendError(conn, ErrNotAttached)
		return
	}

	rt.sessionLocks.Lock(sessionID)
	defer rt.sessionLocks.Unlock(sessionID)

	session, err := rt.store.GetSession(ctx, sessionID)
	if err != nil {
		rt.sendError(conn, err)
		return
	}
	if session.Status == store.SessionEnded {
		rt.sendError(conn, store.ErrNotFound)
		return
	}
	if !isParticipant(session, conn.Identity) {
		rt.logger.Warn("message from non-participant",
			"conn_id", conn.ID,
			"user_id", conn.Identity.UserID,
			"session_id", sessionID)
		rt.sendError(conn, ErrNotAParticipant)
		return
	}

	// A retried send carries the same nonce; the first accepted copy wins
	// and the duplicate is dropped without a second insert.
	dedupeKey := ""
	if req.Nonce != "" {
		dedupeKey = conn.Identity.UserID + "|" + req.Nonce
		if rt.dedupe.CheckAndMark(dedupeKey) {
			rt.logger.Debug("duplicate send dropped",
				"session_id", sessionID,
				"user_id", conn.Identity.UserID,
				"nonce", req.Nonce)
			return
		}
	}

	now := time.Now().UTC()
	msg := &store.ChatMessage{
		ID:          uuid.New().String(),
		SessionID:   sessionID,
		SenderID:    conn.Identity.UserID,
		IsFromAdmin: conn.Identity.IsAdmin(),
		Message:     req.Message,
		CreatedAt:   now,
	}

	if err := rt.store.InsertMessage(ctx, msg); err != nil {
		// The message is not considered sent; unmark the nonce so the
		// client's retry isn't swallowed as a duplicate.
		if dedupeKey != "" {
			rt.dedupe.Forget(dedupeKey)
		}
		rt.logger.Error("message persist failed",
			"session_id", sessionID,
			"error", err)
		rt.sendError(conn, err)
		return
	}

	rt.lifecycle.Touch(ctx, sessionID, now)

	// A message implicitly supersedes the sender's typing signal
	if rt.typing.Clear(sessionID, conn.Identity.UserID) {
		rt.broadcastTyping(sessionID, conn.Identity.UserID, false)
	}

	// Broadcast to every connection on the session, the sender's other
	// tabs included, with the server-assigned id and timestamp.
	rt.emit(rt.registry.LookupBySession(sessionID), EventMessage, messagePayload(msg, req.Nonce), nil)
}

// handleTyping services a typing frame
func (rt *Router) handleTyping(ctx context.Context, conn *Conn, data json.RawMessage) {
	var req TypingData
	if err := json.Unmarshal(data, &req); err != nil {
		rt.sendErrorCode(conn, CodeInvalidPayload, "malformed typing payload")
		return
	}

	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = conn.SessionID()
	}
	if sessionID == "" {
		rt.sendError(conn, ErrNotAttached)
		return
	}

	// Same critical section as messages and end: once session_ended has
	// been broadcast, no typing frame can slip out behind it.
	rt.sessionLocks.Lock(sessionID)
	defer rt.sessionLocks.Unlock(sessionID)

	session, err := rt.store.GetSession(ctx, sessionID)
	if err != nil {
		rt.sendError(conn, err)
		return
	}
	if session.Status == store.SessionEnded {
		rt.sendError(conn, store.ErrNotFound)
		return
	}
	if !isParticipant(session, conn.Identity) {
		rt.sendError(conn, ErrNotAParticipant)
		return
	}

	rt.typing.Set(sessionID, conn.Identity.UserID, req.IsTyping)
	rt.lifecycle.Touch(ctx, sessionID, time.Now().UTC())
	rt.broadcastTyping(sessionID, conn.Identity.UserID, req.IsTyping)
}

// finishSession broadcasts session_ended and releases per-session state.
// Callers hold the session lock.
func (rt *Router) finishSession(sessionID string) {
	rt.emit(rt.registry.LookupBySession(sessionID), EventSessionEnded, struct{}{}, nil)
	rt.registry.ReleaseSession(sessionID)
	rt.typing.DropSession(sessionID)
}

// broadcastTyping sends a typing frame to the session's other participants,
// never back to the typist's own connections.
func (rt *Router) broadcastTyping(sessionID, userID string, isTyping bool) {
	rt.emit(rt.registry.LookupBySession(sessionID), EventTyping, &TypingData{
		SessionID: sessionID,
		IsTyping:  isTyping,
		UserID:    userID,
	}, func(c *Conn) bool {
		return c.Identity.UserID == userID
	})
}

// emitToUser sends an event to every connection of one user
func (rt *Router) emitToUser(userID string, eventType EventType, data any) {
	rt.emit(rt.registry.LookupByUser(userID), eventType, data, nil)
}

// emit encodes an event once and queues it on each connection, skipping
// those the exclude filter matches. Frames are dropped for connections
// whose queues are full.
func (rt *Router) emit(conns []*Conn, eventType EventType, data any, exclude func(*Conn) bool) {
	frame, err := encodeEvent(eventType, data)
	if err != nil {
		rt.logger.Error("event encode failed", "type", eventType, "error", err)
		return
	}

	for _, c := range conns {
		if exclude != nil && exclude(c) {
			continue
		}
		if !c.Send(frame) {
			rt.logger.Debug("dropped frame for slow connection",
				"conn_id", c.ID,
				"type", eventType)
		}
	}
}

// sendEvent queues one event on a single connection
func (rt *Router) sendEvent(conn *Conn, eventType EventType, data any) {
	frame, err := encodeEvent(eventType, data)
	if err != nil {
		rt.logger.Error("event encode failed", "type", eventType, "error", err)
		return
	}
	conn.Send(frame)
}

// sendError maps an error to its wire code and returns it to the
// originating connection only.
func (rt *Router) sendError(conn *Conn, err error) {
	rt.sendEvent(conn, EventError, &ErrorData{
		Code:    errorCode(err),
		Message: err.Error(),
	})
}

func (rt *Router) sendErrorCode(conn *Conn, code, message string) {
	rt.sendEvent(conn, EventError, &ErrorData{Code: code, Message: message})
}
