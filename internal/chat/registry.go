// Package chat serves the intake conversation over WebSocket.
package chat

import (
	"log/slog"
	"sort"
	"sync"

	"github.com/coder/websocket"
)

// Registry tracks open chat connections by session ID.
type Registry struct {
	mu     sync.RWMutex
	active map[string]*websocket.Conn
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		active: make(map[string]*websocket.Conn),
	}
}

// Register adds the connection serving sessionID.
func (r *Registry) Register(sessionID string, conn *websocket.Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.active[sessionID]; ok && existing != conn {
		_ = existing.Close(websocket.StatusPolicyViolation, "session replaced")
	}
	r.active[sessionID] = conn
	slog.Debug("Chat connection registered", "session_id", sessionID)
}

// Unregister removes the connection if it is still the one serving sessionID.
func (r *Registry) Unregister(sessionID string, conn *websocket.Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if current, ok := r.active[sessionID]; ok && current == conn {
		delete(r.active, sessionID)
		slog.Debug("Chat connection unregistered", "session_id", sessionID)
	}
}

// Len returns the number of open connections.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.active)
}

// Sessions returns the IDs of sessions with an open connection, sorted.
func (r *Registry) Sessions() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.active))
	for id := range r.active {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// CloseAll closes every open connection with StatusGoingAway.
func (r *Registry) CloseAll(reason string) {
	r.mu.Lock()
	conns := r.active
	r.active = make(map[string]*websocket.Conn)
	r.mu.Unlock()

	for id, conn := range conns {
		_ = conn.Close(websocket.StatusGoingAway, reason)
		slog.Info("Chat connection closed", "session_id", id, "reason", reason)
	}
}
