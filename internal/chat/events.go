// ABOUTME: Wire protocol envelope and payload types for the chat service
// ABOUTME: Every frame on the transport is {"type": ..., "data": ...}

package chat

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/hostwind/livechat/internal/store"
)

// EventType identifies a chat protocol frame
type EventType string

const (
	// Client → server
	EventStartSession  EventType = "start_session"
	EventResumeSession EventType = "resume_session"
	EventEndSession    EventType = "end_session"

	// Server → client
	EventSessionStarted EventType = "session_started"
	EventSessionResumed EventType = "session_resumed"
	EventSessionEnded   EventType = "session_ended"
	EventSessionUpdate  EventType = "session_update"
	EventAdminJoined    EventType = "admin_joined"
	EventError          EventType = "error"

	// Bidirectional
	EventMessage EventType = "message"
	EventTyping  EventType = "typing"
)

// Envelope is the frame exchanged with clients in both directions
type Envelope struct {
	Type EventType       `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// StartSessionData is the client payload for start_session
type StartSessionData struct {
	Subject    string `json:"subject,omitempty"`
	Department string `json:"department"`
	Priority   string `json:"priority,omitempty"`
}

// SessionRefData carries a session reference for end_session and admin
// resume_session frames.
type SessionRefData struct {
	SessionID string `json:"sessionId"`
}

// MessageSendData is the client payload for message. Nonce is an optional
// client-generated id used to make retries after a delivery failure safe.
type MessageSendData struct {
	SessionID string `json:"sessionId"`
	Message   string `json:"message"`
	Nonce     string `json:"nonce,omitempty"`
}

// TypingData is the typing payload in both directions. The server stamps
// UserID on broadcast; clients never set it.
type TypingData struct {
	SessionID string `json:"sessionId"`
	IsTyping  bool   `json:"isTyping"`
	UserID    string `json:"userId,omitempty"`
}

// SessionUpdateData is the server payload for session_update
type SessionUpdateData struct {
	SessionID string `json:"sessionId"`
	Status    string `json:"status"`
}

// ErrorData is the server payload for error frames, sent only to the
// originating connection.
type ErrorData struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// SessionPayload is the JSON shape of a full ChatSession on the wire
type SessionPayload struct {
	ID              string    `json:"id"`
	UserID          string    `json:"userId"`
	AssignedAdminID *string   `json:"assignedAdminId,omitempty"`
	Status          string    `json:"status"`
	Priority        string    `json:"priority"`
	Department      string    `json:"department"`
	Subject         string    `json:"subject,omitempty"`
	StartedAt       time.Time `json:"startedAt"`
	LastActivityAt  time.Time `json:"lastActivityAt"`
}

// MessagePayload is the JSON shape of a persisted ChatMessage on the wire,
// broadcast with the server-assigned id and timestamp.
type MessagePayload struct {
	ID          string    `json:"id"`
	SessionID   string    `json:"sessionId"`
	SenderID    string    `json:"senderId"`
	IsFromAdmin bool      `json:"isFromAdmin"`
	Message     string    `json:"message"`
	CreatedAt   time.Time `json:"createdAt"`
	Nonce       string    `json:"nonce,omitempty"`
}

// sessionPayload converts a stored session to its wire shape
func sessionPayload(s *store.ChatSession) *SessionPayload {
	return &SessionPayload{
		ID:              s.ID,
		UserID:          s.UserID,
		AssignedAdminID: s.AssignedAdminID,
		Status:          string(s.Status),
		Priority:        s.Priority,
		Department:      s.Department,
		Subject:         s.Subject,
		StartedAt:       s.StartedAt,
		LastActivityAt:  s.LastActivityAt,
	}
}

// messagePayload converts a stored message to its wire shape
func messagePayload(m *store.ChatMessage, nonce string) *MessagePayload {
	return &MessagePayload{
		ID:          m.ID,
		SessionID:   m.SessionID,
		SenderID:    m.SenderID,
		IsFromAdmin: m.IsFromAdmin,
		Message:     m.Message,
		CreatedAt:   m.CreatedAt,
		Nonce:       nonce,
	}
}

// encodeEvent marshals an envelope with the given payload
func encodeEvent(eventType EventType, data any) ([]byte, error) {
	var raw json.RawMessage
	if data != nil {
		encoded, err := json.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("encoding %s payload: %w", eventType, err)
		}
		raw = encoded
	} else {
		raw = json.RawMessage(`{}`)
	}

	frame, err := json.Marshal(Envelope{Type: eventType, Data: raw})
	if err != nil {
		return nil, fmt.Errorf("encoding %s envelope: %w", eventType, err)
	}
	return frame, nil
}
