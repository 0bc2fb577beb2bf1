// ABOUTME: Represents a single live client connection and its outbound event channel.
// ABOUTME: Events are pushed non-blocking; slow consumers drop rather than stall the engine.

package presence

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// connectionBufferSize is the outbound event buffer per connection.
const connectionBufferSize = 64

// Event is a typed payload pushed to a live client connection. The transport
// layer encodes it onto the wire (SSE); the engine and registry only deal in
// Event values.
type Event struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// Event type names on the real-time channel.
const (
	EventPresenceChanged = "presence-changed"
	EventHistory         = "history"
	EventMessage         = "message"
	EventDeliveryAck     = "delivery-ack"
	EventReadReceipt     = "read-receipt"
	EventMessageEdited   = "message-edited"
	EventMessageDeleted  = "message-deleted"
	EventError           = "error"
)

// PresenceChange is the payload of a presence-changed event.
type PresenceChange struct {
	UserID    string     `json:"user_id"`
	Reachable bool       `json:"reachable"`
	LastSeen  *time.Time `json:"last_seen,omitempty"`
}

// Connection represents one live connection of a user (a user may hold
// several, e.g. multiple devices).
type Connection struct {
	ID     string
	UserID string

	events    chan Event
	done      chan struct{}
	closeOnce sync.Once
	logger    *slog.Logger
}

// NewConnection creates a connection for the given user with a fresh ID.
func NewConnection(userID string, logger *slog.Logger) *Connection {
	if logger == nil {
		logger = slog.Default()
	}
	return &Connection{
		ID:     uuid.New().String(),
		UserID: userID,
		events: make(chan Event, connectionBufferSize),
		done:   make(chan struct{}),
		logger: logger,
	}
}

// Push delivers an event to this connection without blocking.
// Returns false if the connection is closed, or if the buffer was full and
// the event was dropped. The events channel itself is never closed, so a
// fan-out racing a disconnect loses the event at worst.
func (c *Connection) Push(ev Event) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.events <- ev:
		return true
	default:
		c.logger.Warn("connection buffer full, dropping event",
			"connection_id", c.ID,
			"user_id", c.UserID,
			"event", ev.Type,
		)
		return false
	}
}

// Events returns the channel the transport layer drains to write the wire.
// It stays open for the life of the connection; the writer exits via Done.
func (c *Connection) Events() <-chan Event {
	return c.events
}

// Done is closed when the connection is released. The transport writer
// selects on it alongside Events to learn the stream is over.
func (c *Connection) Done() <-chan struct{} {
	return c.done
}

// close marks the connection finished. Safe to call multiple times; only the
// registry calls this, during Release.
func (c *Connection) close() {
	c.closeOnce.Do(func() {
		close(c.done)
	})
}
