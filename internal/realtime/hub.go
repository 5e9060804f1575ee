// ABOUTME: Fan-out hub mapping each identity's room to its one live connection
// ABOUTME: Emits best-effort, at-most-once events to a room or to every connection

package realtime

import (
	"log/slog"
	"sync"
)

// Conn is what the hub needs from a connection
type Conn interface {
	ID() string
	Send(payload []byte) error
	Close(code int, reason string)
}

// Hub routes events to rooms keyed by identity. Each room holds at most one
// connection; attaching a new one replaces and closes the old.
type Hub struct {
	mu     sync.RWMutex
	rooms  map[string]Conn
	logger *slog.Logger
}

// NewHub creates an empty hub. Pass nil logger for default.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		rooms:  make(map[string]Conn),
		logger: logger.With("component", "hub"),
	}
}

// Attach makes conn the member of identity's room. A previous member is
// removed and closed with CloseSessionReplaced, and returned.
func (h *Hub) Attach(identity string, conn Conn) Conn {
	h.mu.Lock()
	previous := h.rooms[identity]
	h.rooms[identity] = conn
	h.mu.Unlock()

	if previous != nil && previous.ID() != conn.ID() {
		h.logger.Info("session replaced", "identity", identity, "old_conn", previous.ID(), "new_conn", conn.ID())
		previous.Close(CloseSessionReplaced, "session replaced")
		return previous
	}
	return nil
}

// Detach removes conn from identity's room if it is still the member.
// Reports whether it was; false means a newer connection replaced it.
func (h *Hub) Detach(identity string, conn Conn) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	current, ok := h.rooms[identity]
	if !ok || current.ID() != conn.ID() {
		return false
	}
	delete(h.rooms, identity)
	return true
}

// Member returns the connection in identity's room
func (h *Hub) Member(identity string) (Conn, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	c, ok := h.rooms[identity]
	return c, ok
}

// Len returns the number of occupied rooms
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms)
}

// EmitToRoom delivers event to identity's room. An empty room is not an
// error; it reports false.
func (h *Hub) EmitToRoom(identity, event string, data any) bool {
	frame, err := Encode(event, data)
	if err != nil {
		h.logger.Error("dropping unencodable event", "event", event, "error", err)
		return false
	}

	h.mu.RLock()
	conn, ok := h.rooms[identity]
	h.mu.RUnlock()
	if !ok {
		return false
	}

	if err := conn.Send(frame); err != nil {
		h.logger.Debug("room delivery failed", "identity", identity, "event", event, "error", err)
		return false
	}
	return true
}

// EmitToAll delivers event to every connection and returns how many accepted it
func (h *Hub) EmitToAll(event string, data any) int {
	frame, err := Encode(event, data)
	if err != nil {
		h.logger.Error("dropping unencodable event", "event", event, "error", err)
		return 0
	}

	h.mu.RLock()
	conns := make([]Conn, 0, len(h.rooms))
	for _, c := range h.rooms {
		conns = append(conns, c)
	}
	h.mu.RUnlock()

	delivered := 0
	for _, c := range conns {
		if err := c.Send(frame); err == nil {
			delivered++
		}
	}
	return delivered
}

// Close closes every connection and empties the hub
func (h *Hub) Close() {
	h.mu.Lock()
	conns := make([]Conn, 0, len(h.rooms))
	for _, c := range h.rooms {
		conns = append(conns, c)
	}
	h.rooms = make(map[string]Conn)
	h.mu.Unlock()

	for _, c := range conns {
		c.Close(CloseGoingAway, "server shutdown")
	}
}
