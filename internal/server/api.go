// ABOUTME: REST fallback API for chat session management and history
// ABOUTME: Serves the same session semantics as the WebSocket path for degraded clients

package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/hostwind/livechat/internal/auth"
	"github.com/hostwind/livechat/internal/chat"
	"github.com/hostwind/livechat/internal/store"
)

// StartChatRequest is the JSON request body for POST /api/chat/start.
type StartChatRequest struct {
	Subject    string `json:"subject,omitempty"`
	Department string `json:"department"`
	Priority   string `json:"priority,omitempty"`
}

// SessionRequest references a session for POST /api/chat/end and
// POST /api/admin/chat/claim.
type SessionRequest struct {
	SessionID string `json:"sessionId"`
}

// HistoryResponse is the JSON response for GET /api/chat/history.
type HistoryResponse struct {
	SessionID string                 `json:"sessionId"`
	Messages  []*chat.MessagePayload `json:"messages"`
}

// WaitingSessionsResponse is the JSON response for GET /api/admin/chat/waiting.
type WaitingSessionsResponse struct {
	Sessions []*chat.SessionPayload `json:"sessions"`
}

// handleStartChat handles POST /api/chat/start. Mirrors the start_session
// frame: one open session per user, admins cannot open sessions.
func (s *Server) handleStartChat(w http.ResponseWriter, r *http.Request) {
	identity := auth.FromContext(r.Context())

	var req StartChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	session, err := s.router.StartSession(r.Context(), identity, req.Subject, req.Department, req.Priority)
	if err != nil {
		s.sendChatError(w, err)
		return
	}

	s.sendJSON(w, http.StatusCreated, sessionJSON(session))
}

// handleEndChat handles POST /api/chat/end. Without an explicit session id a
// customer ends their own open session.
func (s *Server) handleEndChat(w http.ResponseWriter, r *http.Request) {
	identity := auth.FromContext(r.Context())

	var req SessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		s.sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	sessionID := req.SessionID
	if sessionID == "" {
		if identity.IsAdmin() {
			s.sendJSONError(w, http.StatusBadRequest, "sessionId is required")
			return
		}
		session, err := s.store.GetOpenSessionForUser(r.Context(), identity.UserID)
		if err != nil {
			s.sendChatError(w, err)
			return
		}
		sessionID = session.ID
	}

	if err := s.router.EndSession(r.Context(), identity, sessionID); err != nil {
		s.sendChatError(w, err)
		return
	}

	s.sendJSON(w, http.StatusOK, map[string]string{"status": "ended"})
}

// handleGetSession handles GET /api/chat/session. Customers get their open
// session; admins pass ?session_id= to inspect a specific one.
func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	identity := auth.FromContext(r.Context())

	var session *store.ChatSession
	var err error
	if identity.IsAdmin() {
		sessionID := r.URL.Query().Get("session_id")
		if sessionID == "" {
			s.sendJSONError(w, http.StatusBadRequest, "session_id query param required")
			return
		}
		session, err = s.store.GetSession(r.Context(), sessionID)
	} else {
		session, err = s.store.GetOpenSessionForUser(r.Context(), identity.UserID)
	}
	if err != nil {
		s.sendChatError(w, err)
		return
	}

	s.sendJSON(w, http.StatusOK, sessionJSON(session))
}

// handleHistory handles GET /api/chat/history?session_id=X&limit=N. Only the
// session's participants can read its transcript; ended sessions stay
// readable until retention removes them.
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	identity := auth.FromContext(r.Context())

	sessionID := r.URL.Query().Get("session_id")
	if sessionID == "" {
		s.sendJSONError(w, http.StatusBadRequest, "session_id query param required")
		return
	}

	session, err := s.store.GetSession(r.Context(), sessionID)
	if err != nil {
		s.sendChatError(w, err)
		return
	}
	if !canAccessSession(session, identity) {
		s.sendJSONError(w, http.StatusForbidden, "not a participant of this session")
		return
	}

	limit := s.config.Chat.HistoryLimit
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		parsed, err := strconv.Atoi(limitStr)
		if err != nil || parsed < 1 {
			s.sendJSONError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		if parsed < limit {
			limit = parsed
		}
	}

	messages, err := s.store.GetSessionMessages(r.Context(), sessionID, limit)
	if err != nil {
		s.logger.Error("history query failed", "session_id", sessionID, "error", err)
		s.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	response := HistoryResponse{
		SessionID: sessionID,
		Messages:  make([]*chat.MessagePayload, len(messages)),
	}
	for i, msg := range messages {
		response.Messages[i] = messageJSON(msg)
	}

	s.sendJSON(w, http.StatusOK, response)
}

// handleWaitingSessions handles GET /api/admin/chat/waiting. Returns the
// claim queue ordered by priority, then wait time.
func (s *Server) handleWaitingSessions(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		parsed, err := strconv.Atoi(limitStr)
		if err != nil || parsed < 1 {
			s.sendJSONError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = parsed
	}

	sessions, err := s.store.ListWaitingSessions(r.Context(), limit)
	if err != nil {
		s.logger.Error("waiting sessions query failed", "error", err)
		s.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	response := WaitingSessionsResponse{
		Sessions: make([]*chat.SessionPayload, len(sessions)),
	}
	for i, session := range sessions {
		response.Sessions[i] = sessionJSON(session)
	}

	s.sendJSON(w, http.StatusOK, response)
}

// handleClaimSession handles POST /api/admin/chat/claim. The claim races
// through the same path as every other claim; the loser gets 409.
func (s *Server) handleClaimSession(w http.ResponseWriter, r *http.Request) {
	identity := auth.FromContext(r.Context())

	var req SessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.SessionID == "" {
		s.sendJSONError(w, http.StatusBadRequest, "sessionId is required")
		return
	}

	session, err := s.router.Claim(r.Context(), identity.UserID, req.SessionID)
	if err != nil {
		s.sendChatError(w, err)
		return
	}

	s.sendJSON(w, http.StatusOK, sessionJSON(session))
}

// canAccessSession reports whether an identity may read a session: its
// owning customer, its assigned admin, or any admin while it waits unclaimed.
func canAccessSession(session *store.ChatSession, id *auth.Identity) bool {
	if id.IsAdmin() {
		if session.AssignedAdminID != nil {
			return *session.AssignedAdminID == id.UserID
		}
		return true
	}
	return session.UserID == id.UserID
}

// sendChatError maps chat and store errors onto HTTP status codes
func (s *Server) sendChatError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrSessionConflict):
		s.sendJSONError(w, http.StatusConflict, "an open session already exists")
	case errors.Is(err, store.ErrAlreadyAssigned):
		s.sendJSONError(w, http.StatusConflict, "session already claimed")
	case errors.Is(err, store.ErrNotFound):
		s.sendJSONError(w, http.StatusNotFound, "session not found")
	case errors.Is(err, store.ErrSessionEnded):
		s.sendJSONError(w, http.StatusGone, "session has ended")
	case errors.Is(err, chat.ErrNotAParticipant):
		s.sendJSONError(w, http.StatusForbidden, "not a participant of this session")
	default:
		s.logger.Error("request failed", "error", err)
		s.sendJSONError(w, http.StatusInternalServerError, "internal server error")
	}
}

// sendJSON writes a JSON response with the given status
func (s *Server) sendJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// sendJSONError writes a JSON error response
func (s *Server) sendJSONError(w http.ResponseWriter, status int, message string) {
	s.sendJSON(w, status, map[string]string{"error": message})
}

// sessionJSON converts a stored session to its wire shape, shared with the
// WebSocket protocol so both surfaces serve identical JSON.
func sessionJSON(session *store.ChatSession) *chat.SessionPayload {
	return &chat.SessionPayload{
		ID:              session.ID,
		UserID:          session.UserID,
		AssignedAdminID: session.AssignedAdminID,
		Status:          string(session.Status),
		Priority:        session.Priority,
		Department:      session.Department,
		Subject:         session.Subject,
		StartedAt:       session.StartedAt,
		LastActivityAt:  session.LastActivityAt,
	}
}

// messageJSON converts a stored message to its wire shape
func messageJSON(msg *store.ChatMessage) *chat.MessagePayload {
	return &chat.MessagePayload{
		ID:          msg.ID,
		SessionID:   msg.SessionID,
		SenderID:    msg.SenderID,
		IsFromAdmin: msg.IsFromAdmin,
		Message:     msg.Message,
		CreatedAt:   msg.CreatedAt,
	}
}
