// ABOUTME: WebSocket endpoint bridging transport connections to the chat router
// ABOUTME: One read loop and one write pump per connection, ping/pong keepalive

package server

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/hostwind/livechat/internal/auth"
	"github.com/hostwind/livechat/internal/chat"
)

const (
	// Time allowed to write a frame to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong from the peer
	pongWait = 60 * time.Second

	// Ping period, must be less than pongWait
	pingPeriod = (pongWait * 9) / 10

	// Maximum inbound frame size
	maxFrameSize = 4096
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The portal serves the chat widget from its own origins; token auth
	// happens before the upgrade, so cross-origin handshakes are accepted.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// handleWebSocket upgrades the connection and registers it with the chat
// registry. The identity was resolved by the auth middleware; browsers pass
// the token as a query parameter since they cannot set handshake headers.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	identity := auth.FromContext(r.Context())
	if identity == nil {
		http.Error(w, `{"error":"not authenticated"}`, http.StatusUnauthorized)
		return
	}

	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed",
			"user_id", identity.UserID,
			"error", err)
		return
	}

	conn := s.registry.Register(identity)

	s.logger.Info("websocket connected",
		"conn_id", conn.ID,
		"user_id", identity.UserID,
		"role", identity.Role)

	go s.writePump(ws, conn.Outbox())
	s.readLoop(r, ws, conn)
}

// readLoop reads frames from the socket and hands them to the router. It
// returns when the peer disconnects, unregistering the connection; the
// session itself stays open for the reconnect grace period.
func (s *Server) readLoop(r *http.Request, ws *websocket.Conn, conn *chat.Conn) {
	defer func() {
		s.router.Disconnect(conn)
		_ = ws.Close()
		s.logger.Info("websocket disconnected",
			"conn_id", conn.ID,
			"user_id", conn.Identity.UserID)
	}()

	ws.SetReadLimit(maxFrameSize)
	_ = ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Debug("websocket read error", "conn_id", conn.ID, "error", err)
			}
			return
		}
		s.router.HandleFrame(r.Context(), conn, data)
	}
}

// writePump drains the connection's outbox onto the socket and keeps the
// connection alive with pings. It exits when the outbox is closed by the
// registry or a write fails.
func (s *Server) writePump(ws *websocket.Conn, outbox <-chan []byte) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case frame, ok := <-outbox:
			_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = ws.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := ws.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
