// ABOUTME: In-memory registry of live transport connections
// ABOUTME: Sole owner of connection-to-identity-to-session mappings

package chat

import (
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/hostwind/livechat/internal/auth"
)

// Conn is one live transport connection. It carries the resolved identity,
// an optional session attachment, and a buffered outbound queue the write
// pump drains.
type Conn struct {
	ID       string
	Identity *auth.Identity

	mu        sync.RWMutex
	sessionID string
	send      chan []byte
	closed    bool
}

// Send queues a frame for delivery. Non-blocking: returns false if the
// connection is closed or its queue is full, in which case the frame is
// dropped for this connection (slow consumers don't stall the session).
func (c *Conn) Send(frame []byte) bool {
	c.mu.RLock()
	if c.closed {
		c.mu.RUnlock()
		return false
	}
	// Hold the read lock while sending to prevent close during send
	select {
	case c.send <- frame:
		c.mu.RUnlock()
		return true
	default:
		c.mu.RUnlock()
		return false
	}
}

// Outbox returns the channel the transport write pump reads from. The
// channel is closed when the connection is unregistered.
func (c *Conn) Outbox() <-chan []byte {
	return c.send
}

// SessionID returns the session this connection follows, or "" if detached.
func (c *Conn) SessionID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sessionID
}

func (c *Conn) attach(sessionID string) {
	c.mu.Lock()
	c.sessionID = sessionID
	c.mu.Unlock()
}

func (c *Conn) detach() {
	c.mu.Lock()
	c.sessionID = ""
	c.mu.Unlock()
}

func (c *Conn) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

// Registry tracks live connections by id, user, and session. All mutation of
// the maps goes through the registry; other components only receive lookups.
type Registry struct {
	mu         sync.RWMutex
	conns      map[string]*Conn
	byUser     map[string]map[string]*Conn
	bySession  map[string]map[string]*Conn
	sendBuffer int
	logger     *slog.Logger
}

// NewRegistry creates a connection registry. sendBuffer sizes each
// connection's outbound queue.
func NewRegistry(sendBuffer int, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		conns:      make(map[string]*Conn),
		byUser:     make(map[string]map[string]*Conn),
		bySession:  make(map[string]map[string]*Conn),
		sendBuffer: sendBuffer,
		logger:     logger.With("component", "registry"),
	}
}

// Register creates a connection for the given identity and returns it.
// Connection ids are generated here, which is what makes duplicate
// registration impossible in correct code.
func (r *Registry) Register(identity *auth.Identity) *Conn {
	conn := &Conn{
		ID:       uuid.New().String(),
		Identity: identity,
		send:     make(chan []byte, r.sendBuffer),
	}

	r.mu.Lock()
	if _, exists := r.conns[conn.ID]; exists {
		r.mu.Unlock()
		// Ids are registry-generated UUIDs; a collision means broken code,
		// not a recoverable condition.
		panic("registry: duplicate connection id " + conn.ID)
	}
	r.conns[conn.ID] = conn
	if _, ok := r.byUser[identity.UserID]; !ok {
		r.byUser[identity.UserID] = make(map[string]*Conn)
	}
	r.byUser[identity.UserID][conn.ID] = conn
	r.mu.Unlock()

	r.logger.Debug("connection registered",
		"conn_id", conn.ID,
		"user_id", identity.UserID,
		"role", identity.Role)

	return conn
}

// Unregister removes a connection and closes its outbound queue. The session
// the connection followed is left untouched: transcripts survive transport
// drops and the owner can reconnect.
func (r *Registry) Unregister(connID string) {
	r.mu.Lock()
	conn, ok := r.conns[connID]
	if !ok {
		r.mu.Unlock()
		return
	}
	delete(r.conns, connID)

	userConns := r.byUser[conn.Identity.UserID]
	delete(userConns, connID)
	if len(userConns) == 0 {
		delete(r.byUser, conn.Identity.UserID)
	}

	if sid := conn.SessionID(); sid != "" {
		sessionConns := r.bySession[sid]
		delete(sessionConns, connID)
		if len(sessionConns) == 0 {
			delete(r.bySession, sid)
		}
	}
	r.mu.Unlock()

	conn.close()

	r.logger.Debug("connection unregistered",
		"conn_id", connID,
		"user_id", conn.Identity.UserID)
}

// Attach binds a connection to a session so it receives that session's
// fan-out. Attaching to a second session replaces the first.
func (r *Registry) Attach(conn *Conn, sessionID string) {
	r.mu.Lock()
	if prev := conn.SessionID(); prev != "" && prev != sessionID {
		prevConns := r.bySession[prev]
		delete(prevConns, conn.ID)
		if len(prevConns) == 0 {
			delete(r.bySession, prev)
		}
	}
	conn.attach(sessionID)
	if _, ok := r.bySession[sessionID]; !ok {
		r.bySession[sessionID] = make(map[string]*Conn)
	}
	r.bySession[sessionID][conn.ID] = conn
	r.mu.Unlock()
}

// ReleaseSession detaches every connection following a session. Called when
// the session ends; the connections themselves stay registered.
func (r *Registry) ReleaseSession(sessionID string) {
	r.mu.Lock()
	conns := r.bySession[sessionID]
	delete(r.bySession, sessionID)
	r.mu.Unlock()

	for _, conn := range conns {
		conn.detach()
	}
}

// LookupByUser returns the live connections for a user
func (r *Registry) LookupByUser(userID string) []*Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conns := make([]*Conn, 0, len(r.byUser[userID]))
	for _, conn := range r.byUser[userID] {
		conns = append(conns, conn)
	}
	return conns
}

// LookupBySession returns the connections currently following a session
func (r *Registry) LookupBySession(sessionID string) []*Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conns := make([]*Conn, 0, len(r.bySession[sessionID]))
	for _, conn := range r.bySession[sessionID] {
		conns = append(conns, conn)
	}
	return conns
}

// UserHasConnections reports whether any live connection exists for a user
func (r *Registry) UserHasConnections(userID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byUser[userID]) > 0
}

// Close unregisters every connection
func (r *Registry) Close() {
	r.mu.Lock()
	conns := make([]*Conn, 0, len(r.conns))
	for _, conn := range r.conns {
		conns = append(conns, conn)
	}
	r.conns = make(map[string]*Conn)
	r.byUser = make(map[string]map[string]*Conn)
	r.bySession = make(map[string]map[string]*Conn)
	r.mu.Unlock()

	for _, conn := range conns {
		conn.close()
	}
}
