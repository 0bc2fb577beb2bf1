// ABOUTME: Tracks which users are reachable and through which live connections.
// ABOUTME: Central registry for connect/disconnect handling and presence fan-out.

package presence

import (
	"log/slog"
	"sync"
	"time"
)

// entry is the per-user presence record. Created on authentication, never
// persisted: presence is authoritative only for the current process lifetime.
type entry struct {
	reachable bool
	lastSeen  time.Time
	conns     map[string]*Connection // connection ID -> connection
}

// Registry coordinates all live client connections and user reachability.
type Registry struct {
	mu     sync.RWMutex
	users  map[string]*entry
	logger *slog.Logger
}

// NewRegistry creates a new presence Registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		users:  make(map[string]*entry),
		logger: logger.With("component", "presence"),
	}
}

// Touch creates a presence entry for the user if one does not exist.
// Called at token issuance, before any live connection arrives.
func (r *Registry) Touch(userID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ensureEntry(userID)
}

// Known reports whether the user has a presence entry this process lifetime.
// Operations from users the registry has never seen fail with an
// authentication error at the transport layer.
func (r *Registry) Known(userID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.users[userID]
	return ok
}

// Authenticate registers a connection as a live channel for its user, marks
// the user reachable, and announces the change to all other connected users.
// A user may hold multiple concurrent connections.
func (r *Registry) Authenticate(conn *Connection) {
	r.mu.Lock()
	e := r.ensureEntry(conn.UserID)
	e.conns[conn.ID] = conn
	e.reachable = true
	e.lastSeen = time.Now()
	total := len(e.conns)
	r.mu.Unlock()

	r.logger.Info("=== USER CONNECTED ===",
		"user_id", conn.UserID,
		"connection_id", conn.ID,
		"connections", total,
	)

	r.announce(conn.UserID, PresenceChange{
		UserID:    conn.UserID,
		Reachable: true,
	})
}

// Release removes a connection on disconnect. If it was the user's last
// connection the user is marked unreachable, last-seen is recorded, and the
// change is announced. No retries: a lost connection is simply absent until
// the client reconnects and re-authenticates.
func (r *Registry) Release(conn *Connection) {
	r.mu.Lock()
	e, ok := r.users[conn.UserID]
	if !ok {
		r.mu.Unlock()
		conn.close()
		return
	}
	delete(e.conns, conn.ID)
	wentUnreachable := false
	var lastSeen time.Time
	if len(e.conns) == 0 && e.reachable {
		e.reachable = false
		e.lastSeen = time.Now()
		wentUnreachable = true
		lastSeen = e.lastSeen
	}
	remaining := len(e.conns)
	r.mu.Unlock()

	conn.close()

	r.logger.Info("=== USER DISCONNECTED ===",
		"user_id", conn.UserID,
		"connection_id", conn.ID,
		"connections", remaining,
	)

	if wentUnreachable {
		r.announce(conn.UserID, PresenceChange{
			UserID:    conn.UserID,
			Reachable: false,
			LastSeen:  &lastSeen,
		})
	}
}

// Resolve returns the user's live connections, empty if unreachable.
// The lifecycle engine uses this for fan-out; an empty result means the
// message falls back to persistence-only delivery.
func (r *Registry) Resolve(userID string) []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.users[userID]
	if !ok || !e.reachable {
		return nil
	}
	conns := make([]*Connection, 0, len(e.conns))
	for _, c := range e.conns {
		conns = append(conns, c)
	}
	return conns
}

// IsReachable reports whether the user currently has at least one live connection.
func (r *Registry) IsReachable(userID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.users[userID]
	return ok && e.reachable
}

// LastSeen returns the time the user was last seen. The second return is
// false for users the registry has never seen.
func (r *Registry) LastSeen(userID string) (time.Time, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.users[userID]
	if !ok {
		return time.Time{}, false
	}
	return e.lastSeen, true
}

// PushToUser delivers an event to every live connection of the user.
// Returns true if at least one connection accepted the event.
func (r *Registry) PushToUser(userID string, ev Event) bool {
	delivered := false
	for _, conn := range r.Resolve(userID) {
		if conn.Push(ev) {
			delivered = true
		}
	}
	return delivered
}

// ConnectedCount returns the number of currently reachable users.
func (r *Registry) ConnectedCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := 0
	for _, e := range r.users {
		if e.reachable {
			n++
		}
	}
	return n
}

// Close releases every connection. Used on graceful shutdown.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, e := range r.users {
		for id, c := range e.conns {
			c.close()
			delete(e.conns, id)
		}
		e.reachable = false
		e.lastSeen = time.Now()
	}
	r.logger.Debug("presence registry closed")
}

// ensureEntry returns the user's entry, creating it if absent. Must be called
// with mu held.
func (r *Registry) ensureEntry(userID string) *entry {
	e, ok := r.users[userID]
	if !ok {
		e = &entry{conns: make(map[string]*Connection)}
		r.users[userID] = e
	}
	return e
}

// announce pushes a presence-changed event to every connection except those
// belonging to the user whose presence changed.
func (r *Registry) announce(aboutUserID string, change PresenceChange) {
	r.mu.RLock()
	targets := make([]*Connection, 0)
	for userID, e := range r.users {
		if userID == aboutUserID {
			continue
		}
		for _, c := range e.conns {
			targets = append(targets, c)
		}
	}
	r.mu.RUnlock()

	ev := Event{Type: EventPresenceChanged, Data: change}
	for _, c := range targets {
		c.Push(ev)
	}
}
