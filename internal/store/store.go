// ABOUTME: Store interface and data types for livechat persistence
// ABOUTME: Defines ChatSession, ChatMessage structs and the Store interface for database operations

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// ErrSessionConflict is returned when creating a session for a user who
// already has an open (waiting or active) session
var ErrSessionConflict = errors.New("user already has an open session")

// ErrAlreadyAssigned is returned when an admin claim loses the
// compare-and-set race on assigned_admin_id
var ErrAlreadyAssigned = errors.New("session already assigned to an admin")

// ErrSessionEnded is returned when writing a message to a session that has
// already reached the ended state
var ErrSessionEnded = errors.New("session has ended")

// SessionStatus is the lifecycle state of a chat session
type SessionStatus string

const (
	SessionWaiting SessionStatus = "waiting"
	SessionActive  SessionStatus = "active"
	SessionEnded   SessionStatus = "ended"
)

// Open reports whether the status counts against the one-open-session-per-user
// invariant.
func (s SessionStatus) Open() bool {
	return s == SessionWaiting || s == SessionActive
}

// Priority constants for chat sessions
const (
	PriorityLow    = "low"
	PriorityNormal = "normal"
	PriorityHigh   = "high"
)

// ChatSession represents one continuous support engagement between a customer
// and (optionally) an admin.
type ChatSession struct {
	ID              string
	UserID          string
	AssignedAdminID *string
	Status          SessionStatus
	Priority        string
	Department      string
	Subject         string
	StartedAt       time.Time
	LastActivityAt  time.Time
}

// ChatMessage is a single persisted message within a session. Immutable once
// written; creation order is delivery order.
type ChatMessage struct {
	ID          string
	SessionID   string
	SenderID    string
	IsFromAdmin bool
	Message     string
	CreatedAt   time.Time
}

// Store defines the interface for chat session and message persistence
type Store interface {
	// Sessions
	CreateSession(ctx context.Context, session *ChatSession) error
	GetSession(ctx context.Context, id string) (*ChatSession, error)
	GetOpenSessionForUser(ctx context.Context, userID string) (*ChatSession, error)
	TouchSession(ctx context.Context, id string, at time.Time) error
	ClaimSession(ctx context.Context, id, adminID string) error
	EndSession(ctx context.Context, id string) error
	ListWaitingSessions(ctx context.Context, limit int) ([]*ChatSession, error)
	ListStaleSessions(ctx context.Context, olderThan time.Time) ([]*ChatSession, error)

	// Messages
	InsertMessage(ctx context.Context, msg *ChatMessage) error
	GetSessionMessages(ctx context.Context, sessionID string, limit int) ([]*ChatMessage, error)

	// Close releases any resources held by the store
	Close() error
}
