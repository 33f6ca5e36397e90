// Package realtime serves the chat socket: it streams replies, stores
// feedback and exports reports for connected widgets.
package realtime

import (
	"log/slog"
	"sync"

	"github.com/coder/websocket"
)

// Hub tracks the active socket of each chat session.
type Hub struct {
	mu     sync.RWMutex
	active map[string]*websocket.Conn
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{active: make(map[string]*websocket.Conn)}
}

// Active returns the connection registered for a session.
func (h *Hub) Active(sessionID string) *websocket.Conn {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.active[sessionID]
}

// Register binds conn to a session, closing any connection it replaces.
func (h *Hub) Register(sessionID string, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if existing, ok := h.active[sessionID]; ok && existing != conn {
		_ = existing.Close(websocket.StatusNormalClosure, "session replaced")
	}
	h.active[sessionID] = conn
	slog.Info("Chat session registered", "session_id", sessionID)
}

// Unregister removes conn if it is still the session's connection.
func (h *Hub) Unregister(sessionID string, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if current, ok := h.active[sessionID]; ok && current == conn {
		delete(h.active, sessionID)
		slog.Info("Chat session unregistered", "session_id", sessionID)
	}
}

// CloseSession terminates the session's connection, if any. The TTL
// worker calls it for expired sessions.
func (h *Hub) CloseSession(sessionID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	conn, ok := h.active[sessionID]
	if !ok {
		return
	}
	_ = conn.Close(websocket.StatusNormalClosure, "session expired")
	delete(h.active, sessionID)
	slog.Info("Chat session closed", "session_id", sessionID)
}

// Len returns the number of registered sessions.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.active)
}
